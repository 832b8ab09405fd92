package adapters_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-dispatch/adapters/gocommand"
	"github.com/goliatone/go-dispatch/adapters/gojob"
	"github.com/goliatone/go-dispatch/adapters/gologger"
	dispatchcommand "github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("dispatch", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	forwarder := gojob.NewForwarderAdapter(enqueueProbe)
	if err := forwarder.Forward(ctx, core.Job{
		ID:      "job-compat-1",
		Lane:    core.LaneWebhooks,
		Payload: []byte(`{"event":"order.shipped"}`),
	}); err != nil {
		t.Fatalf("forward via gojob adapter: %v", err)
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDDelivery {
		t.Fatalf("expected go-job message mapping through forwarder adapter")
	}
	if enqueueProbe.last.IdempotencyKey != "job-compat-1" {
		t.Fatalf("expected job id as idempotency key, got %q", enqueueProbe.last.IdempotencyKey)
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("dispatch.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_CommandWrappersDispatchThroughBus(t *testing.T) {
	svc := &compatMutatingService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	retrySub, err := gocommand.RegisterAndSubscribe(adapter, dispatchcommand.NewRetryJobCommand(svc))
	if err != nil {
		t.Fatalf("register retry wrapper: %v", err)
	}
	defer retrySub.Unsubscribe()

	readSub, err := gocommand.RegisterAndSubscribe(adapter, dispatchcommand.NewMarkAttemptReadCommand(svc))
	if err != nil {
		t.Fatalf("register mark-read wrapper: %v", err)
	}
	defer readSub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), dispatchcommand.RetryJobMessage{JobID: "job-9"}); err != nil {
		t.Fatalf("dispatch retry message: %v", err)
	}
	if svc.retryCalls != 1 || svc.lastRetryJobID != "job-9" {
		t.Fatalf("expected retry wrapper invocation through bus dispatch")
	}

	if err := gocommand.Dispatch(context.Background(), dispatchcommand.MarkAttemptReadMessage{AttemptID: "att-3"}); err != nil {
		t.Fatalf("dispatch mark-read message: %v", err)
	}
	if svc.markReadCalls != 1 || svc.lastAttemptID != "att-3" {
		t.Fatalf("expected mark-read wrapper invocation through bus dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "dispatch.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type compatMutatingService struct {
	retryCalls     int
	lastRetryJobID string
	markReadCalls  int
	lastAttemptID  string
}

func (s *compatMutatingService) Dispatch(context.Context, core.Event) (core.DispatchReceipt, error) {
	return core.DispatchReceipt{}, nil
}

func (s *compatMutatingService) RegisterWebhook(_ context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error) {
	return registration, nil
}

func (s *compatMutatingService) UpdateWebhook(_ context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error) {
	return registration, nil
}

func (s *compatMutatingService) DeleteWebhook(context.Context, string) error {
	return nil
}

func (s *compatMutatingService) RetryJob(_ context.Context, id string) (core.Job, error) {
	s.retryCalls++
	s.lastRetryJobID = id
	return core.Job{ID: id, Status: core.JobStatusWaiting}, nil
}

func (s *compatMutatingService) SavePreferences(_ context.Context, preferences core.NotificationPreferences) (core.NotificationPreferences, error) {
	return preferences, nil
}

func (s *compatMutatingService) MarkAttemptRead(_ context.Context, attemptID string) error {
	s.markReadCalls++
	s.lastAttemptID = attemptID
	return nil
}

func (s *compatMutatingService) PutTemplate(context.Context, core.NotificationTemplate) error {
	return nil
}
