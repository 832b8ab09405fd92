package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type FieldsLogger = glog.FieldsLogger

type LoggerProvider = glog.LoggerProvider

type NowFunc func() time.Time

// JobStore is the durable record of every job the engine accepts. Claim is
// the only operation that may hand a job to a worker, and it must do so at
// most once per lease window even under concurrent callers.
type JobStore interface {
	Create(ctx context.Context, job Job) (Job, error)
	CreateBatch(ctx context.Context, jobs []Job) ([]Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Claim(ctx context.Context, lane, workerID string, now time.Time, lease time.Duration) (Job, error)
	Complete(ctx context.Context, id string, now time.Time) error
	Retry(ctx context.Context, id string, runAt time.Time, reason string, now time.Time) error
	Fail(ctx context.Context, id, reason string, now time.Time) error
	Remove(ctx context.Context, id string) error
	Clean(ctx context.Context, lane string, statuses []JobStatus, olderThan time.Time) (int, error)
	ReleaseExpired(ctx context.Context, lane string, now time.Time) (int, error)
	ResetForRetry(ctx context.Context, id string, now time.Time) (Job, error)
	CountByStatus(ctx context.Context, lane string) (map[JobStatus]int, error)
}

type RegistrationStore interface {
	Create(ctx context.Context, registration WebhookRegistration) (WebhookRegistration, error)
	Get(ctx context.Context, id string) (WebhookRegistration, error)
	Update(ctx context.Context, registration WebhookRegistration) (WebhookRegistration, error)
	Delete(ctx context.Context, id string) error
	ListActiveForEvent(ctx context.Context, event string) ([]WebhookRegistration, error)
	List(ctx context.Context) ([]WebhookRegistration, error)
}

type PreferenceStore interface {
	Get(ctx context.Context, userID string) (NotificationPreferences, error)
	Put(ctx context.Context, preferences NotificationPreferences) (NotificationPreferences, error)
}

// AttemptFilter narrows a history listing. Since is inclusive, Until is
// exclusive; zero values leave the bound open.
type AttemptFilter struct {
	JobID          string
	RegistrationID string
	Recipient      string
	Channel        Channel
	Event          string
	Outcome        AttemptOutcome
	Since          time.Time
	Until          time.Time
	Limit          int
}

type AttemptStore interface {
	Append(ctx context.Context, attempt DeliveryAttempt) (DeliveryAttempt, error)
	Get(ctx context.Context, id string) (DeliveryAttempt, error)
	List(ctx context.Context, filter AttemptFilter) ([]DeliveryAttempt, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
}

type TemplateStore interface {
	Get(ctx context.Context, name string) (NotificationTemplate, error)
	Put(ctx context.Context, template NotificationTemplate) error
}

type SendResult struct {
	HTTPStatus int
	ProviderID string
	Detail     string
}

// Transport delivers a single resolved target over one channel. Permanent
// failures must be wrapped with ErrPermanentDelivery so callers skip retry.
type Transport interface {
	Channel() Channel
	Send(ctx context.Context, target DeliveryTarget) (SendResult, error)
}

type TransportResolver interface {
	Resolve(channel Channel) (Transport, bool)
}

// RetryPolicy computes the wait before the next retry. The attempt argument
// counts completed attempts, starting at 1 for the first failure.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// Enqueuer accepts jobs into named lanes.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane string, payload []byte, opts EnqueueOptions) (Job, error)
	EnqueueBulk(ctx context.Context, lane string, payloads [][]byte, opts EnqueueOptions) ([]Job, error)
}

type EnqueueOptions struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
	// RetryBase overrides the lane's backoff base delay when positive.
	RetryBase time.Duration
	Timeout   time.Duration
}

// TargetResolver fans an event out to the concrete deliveries it implies.
type TargetResolver interface {
	Resolve(ctx context.Context, event Event) ([]DeliveryTarget, error)
}

// DeliveryTracker records the outcome of every attempt, successful or not.
type DeliveryTracker interface {
	Record(ctx context.Context, attempt DeliveryAttempt) (DeliveryAttempt, error)
	History(ctx context.Context, filter AttemptFilter) ([]DeliveryAttempt, error)
	MarkRead(ctx context.Context, attemptID string, at time.Time) error
}

// StoreProvider bundles the persistent stores a fully wired engine needs.
type StoreProvider interface {
	JobStore() JobStore
	RegistrationStore() RegistrationStore
	PreferenceStore() PreferenceStore
	AttemptStore() AttemptStore
}

type EngineEvent struct {
	Name       string
	JobID      string
	Lane       string
	Channel    Channel
	Detail     string
	OccurredAt time.Time
}

const (
	EngineEventJobEnqueued   = "job.enqueued"
	EngineEventJobCompleted  = "job.completed"
	EngineEventJobRetried    = "job.retried"
	EngineEventJobFailed     = "job.failed"
	EngineEventJobReclaimed  = "job.reclaimed"
	EngineEventDispatchSplit = "dispatch.fanout"
)

type EventPublisher interface {
	Publish(ctx context.Context, event EngineEvent) error
}

type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, EngineEvent) error { return nil }

// Signer produces and verifies payload authenticity tags.
type Signer interface {
	Sign(payload []byte, secret string) (string, error)
	Verify(payload []byte, secret, signature string) error
}
