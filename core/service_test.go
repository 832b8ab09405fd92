package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubEnqueuer struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, lane string, payload []byte, opts EnqueueOptions) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Job{}, s.err
	}
	job := Job{
		ID:          fmt.Sprintf("job-%d", len(s.jobs)+1),
		Lane:        lane,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		RetryBase:   opts.RetryBase,
		Status:      JobStatusWaiting,
	}
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *stubEnqueuer) EnqueueBulk(ctx context.Context, lane string, payloads [][]byte, opts EnqueueOptions) ([]Job, error) {
	out := make([]Job, 0, len(payloads))
	for _, payload := range payloads {
		job, err := s.Enqueue(ctx, lane, payload, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

type stubTargetResolver struct {
	targets []DeliveryTarget
	err     error
}

func (s *stubTargetResolver) Resolve(context.Context, Event) ([]DeliveryTarget, error) {
	return s.targets, s.err
}

type stubTransport struct {
	channel Channel
	result  SendResult
	err     error
	sent    []DeliveryTarget
}

func (s *stubTransport) Channel() Channel { return s.channel }

func (s *stubTransport) Send(_ context.Context, target DeliveryTarget) (SendResult, error) {
	s.sent = append(s.sent, target)
	return s.result, s.err
}

type stubTransportResolver struct {
	transports map[Channel]Transport
}

func (s *stubTransportResolver) Resolve(channel Channel) (Transport, bool) {
	transport, ok := s.transports[channel]
	return transport, ok
}

type stubTracker struct {
	mu       sync.Mutex
	attempts []DeliveryAttempt
}

func (s *stubTracker) Record(_ context.Context, attempt DeliveryAttempt) (DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return attempt, nil
}

func (s *stubTracker) History(context.Context, AttemptFilter) ([]DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeliveryAttempt(nil), s.attempts...), nil
}

func (s *stubTracker) MarkRead(context.Context, string, time.Time) error { return nil }

type stubRegistrationStore struct {
	mu            sync.Mutex
	registrations map[string]WebhookRegistration
}

func newStubRegistrationStore() *stubRegistrationStore {
	return &stubRegistrationStore{registrations: map[string]WebhookRegistration{}}
}

func (s *stubRegistrationStore) Create(_ context.Context, registration WebhookRegistration) (WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[registration.ID] = registration
	return registration, nil
}

func (s *stubRegistrationStore) Get(_ context.Context, id string) (WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	registration, ok := s.registrations[id]
	if !ok {
		return WebhookRegistration{}, fmt.Errorf("%w: %q", ErrRegistrationNotFound, id)
	}
	return registration, nil
}

func (s *stubRegistrationStore) Update(_ context.Context, registration WebhookRegistration) (WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[registration.ID]; !ok {
		return WebhookRegistration{}, fmt.Errorf("%w: %q", ErrRegistrationNotFound, registration.ID)
	}
	s.registrations[registration.ID] = registration
	return registration, nil
}

func (s *stubRegistrationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registrations, id)
	return nil
}

func (s *stubRegistrationStore) ListActiveForEvent(_ context.Context, event string) ([]WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WebhookRegistration, 0)
	for _, registration := range s.registrations {
		if registration.Active && registration.SubscribedTo(event) {
			out = append(out, registration)
		}
	}
	return out, nil
}

func (s *stubRegistrationStore) List(context.Context) ([]WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WebhookRegistration, 0, len(s.registrations))
	for _, registration := range s.registrations {
		out = append(out, registration)
	}
	return out, nil
}

func newTestService(t *testing.T, options ...Option) *Service {
	t.Helper()
	service, err := NewService(Config{}, options...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return service
}

func TestDispatch_EnqueuesOneJobPerTarget(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	resolver := &stubTargetResolver{targets: []DeliveryTarget{
		{Channel: ChannelEmail, Recipient: "user-1", Event: "order.shipped"},
		{Channel: ChannelPush, Recipient: "user-1", Event: "order.shipped"},
		{
			Channel:        ChannelWebhook,
			Event:          "order.shipped",
			Endpoint:       "https://example.com/hooks",
			Secret:         "shhh",
			RegistrationID: "reg-1",
			MaxAttempts:    5,
		},
	}}
	service := newTestService(t,
		WithEnqueuer(enqueuer),
		WithTargetResolver(resolver),
	)

	receipt, err := service.Dispatch(context.Background(), Event{
		Name:    "order.shipped",
		Payload: map[string]any{"order_id": "ord-42"},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(receipt.Jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(receipt.Jobs))
	}

	lanes := map[string]int{}
	for _, job := range enqueuer.jobs {
		lanes[job.Lane]++
	}
	if lanes[LaneNotifications] != 2 || lanes[LaneWebhooks] != 1 {
		t.Fatalf("unexpected lane routing: %v", lanes)
	}

	webhookJob := enqueuer.jobs[2]
	if webhookJob.MaxAttempts != 5 {
		t.Fatalf("expected registration retry policy to set max attempts, got %d", webhookJob.MaxAttempts)
	}
	task, err := DecodeDeliveryTask(webhookJob.Payload)
	if err != nil {
		t.Fatalf("webhook job payload did not decode: %v", err)
	}
	if task.Endpoint != "https://example.com/hooks" || task.RegistrationID != "reg-1" {
		t.Fatalf("unexpected webhook task %+v", task)
	}
}

func TestDispatch_ZeroTargetsIsNotAnError(t *testing.T) {
	service := newTestService(t,
		WithEnqueuer(&stubEnqueuer{}),
		WithTargetResolver(&stubTargetResolver{}),
	)
	receipt, err := service.Dispatch(context.Background(), Event{Name: "user.signup"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(receipt.Jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(receipt.Jobs))
	}
}

func TestDispatch_RejectsInvalidEvent(t *testing.T) {
	service := newTestService(t,
		WithEnqueuer(&stubEnqueuer{}),
		WithTargetResolver(&stubTargetResolver{}),
	)
	if _, err := service.Dispatch(context.Background(), Event{Name: "  "}); err == nil {
		t.Fatalf("expected empty event name to be rejected")
	}
}

func TestHandleDelivery_SuccessRecordsAttempt(t *testing.T) {
	transport := &stubTransport{channel: ChannelEmail, result: SendResult{HTTPStatus: 200}}
	tracker := &stubTracker{}
	service := newTestService(t,
		WithTransportResolver(&stubTransportResolver{transports: map[Channel]Transport{
			ChannelEmail: transport,
		}}),
		WithDeliveryTracker(tracker),
	)

	payload, _ := DeliveryTask{Event: "order.shipped", Channel: ChannelEmail, Recipient: "user-1"}.Encode()
	job := Job{ID: "job-1", Lane: LaneNotifications, Payload: payload, Attempts: 1}

	if err := service.HandleDelivery(context.Background(), job); err != nil {
		t.Fatalf("delivery failed: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(transport.sent))
	}
	if len(tracker.attempts) != 1 {
		t.Fatalf("expected one attempt recorded, got %d", len(tracker.attempts))
	}
	attempt := tracker.attempts[0]
	if attempt.Outcome != AttemptOutcomeSuccess || attempt.AttemptNumber != 2 || attempt.JobID != "job-1" {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
}

func TestHandleDelivery_FailureRecordsAndPropagates(t *testing.T) {
	transport := &stubTransport{channel: ChannelSMS, err: errors.New("provider down")}
	tracker := &stubTracker{}
	service := newTestService(t,
		WithTransportResolver(&stubTransportResolver{transports: map[Channel]Transport{
			ChannelSMS: transport,
		}}),
		WithDeliveryTracker(tracker),
	)

	payload, _ := DeliveryTask{Event: "order.shipped", Channel: ChannelSMS, Recipient: "user-1"}.Encode()
	err := service.HandleDelivery(context.Background(), Job{ID: "job-1", Payload: payload})
	if err == nil {
		t.Fatalf("expected transport failure to propagate")
	}
	if IsPermanent(err) {
		t.Fatalf("expected transient failure, got permanent")
	}
	if len(tracker.attempts) != 1 || tracker.attempts[0].Outcome != AttemptOutcomeFailure {
		t.Fatalf("expected failed attempt recorded, got %+v", tracker.attempts)
	}
}

func TestDeliveryMetrics_AggregatesHistory(t *testing.T) {
	readAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tracker := &stubTracker{attempts: []DeliveryAttempt{
		{ID: "att-1", JobID: "job-1", Outcome: AttemptOutcomeFailure},
		{ID: "att-2", JobID: "job-1", Outcome: AttemptOutcomeSuccess, ReadAt: &readAt},
		{ID: "att-3", JobID: "job-1", Outcome: AttemptOutcomeSuccess},
		{ID: "att-4", JobID: "job-1", Outcome: AttemptOutcomeSuccess},
	}}
	service := newTestService(t, WithDeliveryTracker(tracker))

	stats, err := service.DeliveryMetrics(context.Background(), AttemptFilter{JobID: "job-1"})
	if err != nil {
		t.Fatalf("delivery metrics failed: %v", err)
	}
	if stats.Total != 4 || stats.ByOutcome[AttemptOutcomeSuccess] != 3 {
		t.Fatalf("unexpected aggregation %+v", stats)
	}
	if stats.DeliveryRate != 0.75 {
		t.Fatalf("expected delivery rate 0.75, got %v", stats.DeliveryRate)
	}
	if stats.ReadRate != 1.0/3.0 {
		t.Fatalf("expected read rate 1/3, got %v", stats.ReadRate)
	}
}

func TestDispatch_ForwardsRegistrationRetryBase(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	resolver := &stubTargetResolver{targets: []DeliveryTarget{
		{
			Channel:        ChannelWebhook,
			Event:          "order.shipped",
			Endpoint:       "https://example.com/hooks",
			Secret:         "shhh",
			RegistrationID: "reg-1",
			MaxAttempts:    5,
			BaseDelay:      45 * time.Second,
		},
	}}
	service := newTestService(t,
		WithEnqueuer(enqueuer),
		WithTargetResolver(resolver),
	)

	if _, err := service.Dispatch(context.Background(), Event{Name: "order.shipped"}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(enqueuer.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(enqueuer.jobs))
	}
	if enqueuer.jobs[0].RetryBase != 45*time.Second {
		t.Fatalf("expected registration base delay on job, got %v", enqueuer.jobs[0].RetryBase)
	}
}

func TestRegisterWebhook_HonorsActiveFlag(t *testing.T) {
	store := newStubRegistrationStore()
	service := newTestService(t, WithRegistrationStore(store))

	created, err := service.RegisterWebhook(context.Background(), WebhookRegistration{
		Endpoint: "https://example.com/hooks",
		Events:   []string{"order.shipped"},
		Secret:   "shhh",
		Active:   false,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if created.Active {
		t.Fatalf("expected registration to stay inactive")
	}
	stored, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get stored registration: %v", err)
	}
	if stored.Active {
		t.Fatalf("expected inactive registration in store")
	}
}

func TestSetWebhookActive_TogglesRegistration(t *testing.T) {
	store := newStubRegistrationStore()
	service := newTestService(t, WithRegistrationStore(store))

	created, err := service.RegisterWebhook(context.Background(), WebhookRegistration{
		Endpoint: "https://example.com/hooks",
		Events:   []string{"order.shipped"},
		Secret:   "shhh",
		Active:   true,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	updated, err := service.SetWebhookActive(context.Background(), created.ID, false)
	if err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if updated.Active {
		t.Fatalf("expected deactivated registration")
	}
	if updated.Endpoint != created.Endpoint || len(updated.Events) != 1 {
		t.Fatalf("expected the rest of the record untouched: %+v", updated)
	}

	if _, err := service.SetWebhookActive(context.Background(), "missing", true); err == nil {
		t.Fatalf("expected unknown registration to error")
	}
}

func TestHandleDelivery_MalformedPayloadIsPermanent(t *testing.T) {
	service := newTestService(t,
		WithTransportResolver(&stubTransportResolver{}),
	)
	err := service.HandleDelivery(context.Background(), Job{ID: "job-1", Payload: []byte("junk")})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
}

func TestHandleDelivery_MissingTransportIsPermanent(t *testing.T) {
	service := newTestService(t,
		WithTransportResolver(&stubTransportResolver{transports: map[Channel]Transport{}}),
	)
	payload, _ := DeliveryTask{Event: "x", Channel: ChannelPush, Recipient: "u"}.Encode()
	err := service.HandleDelivery(context.Background(), Job{ID: "job-1", Payload: payload})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent failure for unknown channel, got %v", err)
	}
}
