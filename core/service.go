package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Service is the delivery engine facade: it accepts domain events, fans them
// out to per-channel jobs, and executes claimed jobs against transports.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	jobStore          JobStore
	registrationStore RegistrationStore
	preferenceStore   PreferenceStore
	templateStore     TemplateStore
	enqueuer          Enqueuer
	targetResolver    TargetResolver
	deliveryTracker   DeliveryTracker
	transportResolver TransportResolver
	eventPublisher    EventPublisher
	signer            Signer
	now               NowFunc
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("dispatch", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("dispatch"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.eventPublisher == nil {
		builder.eventPublisher = NopEventPublisher{}
	}
	if builder.templateStore == nil {
		builder.templateStore = NewMemoryTemplateStore()
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		jobStore:          builder.jobStore,
		registrationStore: builder.registrationStore,
		preferenceStore:   builder.preferenceStore,
		templateStore:     builder.templateStore,
		enqueuer:          builder.enqueuer,
		targetResolver:    builder.targetResolver,
		deliveryTracker:   builder.deliveryTracker,
		transportResolver: builder.transportResolver,
		eventPublisher:    builder.eventPublisher,
		signer:            builder.signer,
		now:               builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Now() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}

// LaneForChannel routes webhook deliveries to the webhooks lane and every
// notification channel to the notifications lane.
func LaneForChannel(channel Channel) string {
	if channel == ChannelWebhook {
		return LaneWebhooks
	}
	return LaneNotifications
}

// Dispatch validates the event, resolves its delivery targets, and enqueues
// one job per target. Resolution and enqueue happen synchronously; actual
// delivery is asynchronous. An event that resolves to zero targets is not an
// error, the receipt simply carries no jobs.
func (s *Service) Dispatch(ctx context.Context, event Event) (DispatchReceipt, error) {
	startedAt := time.Now()
	receipt, err := s.dispatch(ctx, event)
	s.observeOperation(ctx, startedAt, "dispatch", err, map[string]any{
		"event": event.Name,
		"jobs":  len(receipt.Jobs),
	})
	if err != nil {
		return DispatchReceipt{}, mapBuildError(s.errorMapper, err)
	}
	return receipt, nil
}

func (s *Service) dispatch(ctx context.Context, event Event) (DispatchReceipt, error) {
	if s == nil {
		return DispatchReceipt{}, fmt.Errorf("core: service is nil")
	}
	if err := event.Validate(); err != nil {
		return DispatchReceipt{}, err
	}
	if s.targetResolver == nil {
		return DispatchReceipt{}, fmt.Errorf("core: target resolver is required")
	}
	if s.enqueuer == nil {
		return DispatchReceipt{}, fmt.Errorf("core: enqueuer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.Now()
	}

	targets, err := s.targetResolver.Resolve(ctx, event)
	if err != nil {
		return DispatchReceipt{}, err
	}

	receipt := DispatchReceipt{
		Event:      event.Name,
		AcceptedAt: s.Now(),
		Jobs:       make([]QueuedJobRef, 0, len(targets)),
	}
	for _, target := range targets {
		if err := target.Validate(); err != nil {
			return DispatchReceipt{}, err
		}
		payload, err := NewDeliveryTask(target).Encode()
		if err != nil {
			return DispatchReceipt{}, err
		}
		lane := LaneForChannel(target.Channel)
		opts := EnqueueOptions{Priority: event.Priority}
		if target.MaxAttempts > 0 {
			opts.MaxAttempts = target.MaxAttempts
		}
		if target.BaseDelay > 0 {
			opts.RetryBase = target.BaseDelay
		}
		job, err := s.enqueuer.Enqueue(ctx, lane, payload, opts)
		if err != nil {
			return DispatchReceipt{}, err
		}
		receipt.Jobs = append(receipt.Jobs, QueuedJobRef{
			JobID:          job.ID,
			Lane:           lane,
			Channel:        target.Channel,
			Recipient:      target.Recipient,
			RegistrationID: target.RegistrationID,
		})
	}

	s.publishEngineEvent(ctx, EngineEvent{
		Name:       EngineEventDispatchSplit,
		Detail:     fmt.Sprintf("%s -> %d jobs", event.Name, len(receipt.Jobs)),
		OccurredAt: receipt.AcceptedAt,
	})
	return receipt, nil
}

// HandleDelivery executes one claimed job. A nil return completes the job; a
// returned error schedules a retry unless it wraps ErrPermanentDelivery, in
// which case the queue dead-letters the job immediately.
func (s *Service) HandleDelivery(ctx context.Context, job Job) error {
	startedAt := time.Now()
	err := s.handleDelivery(ctx, job)
	s.observeOperation(ctx, startedAt, "deliver", err, map[string]any{
		"job_id": job.ID,
		"lane":   job.Lane,
	})
	return err
}

func (s *Service) handleDelivery(ctx context.Context, job Job) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	task, err := DecodeDeliveryTask(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanentDelivery, err)
	}
	if s.transportResolver == nil {
		return fmt.Errorf("core: transport resolver is required")
	}
	transport, ok := s.transportResolver.Resolve(task.Channel)
	if !ok {
		return fmt.Errorf("%w: no transport for channel %q", ErrPermanentDelivery, task.Channel)
	}

	result, sendErr := transport.Send(ctx, task.Target())
	s.recordAttempt(ctx, job, task, result, sendErr)
	if sendErr != nil {
		return sendErr
	}
	return nil
}

func (s *Service) recordAttempt(ctx context.Context, job Job, task DeliveryTask, result SendResult, sendErr error) {
	if s.deliveryTracker == nil {
		return
	}
	attempt := DeliveryAttempt{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		RegistrationID: task.RegistrationID,
		Channel:        task.Channel,
		Recipient:      task.Recipient,
		Event:          task.Event,
		AttemptNumber:  job.Attempts + 1,
		Outcome:        AttemptOutcomeSuccess,
		HTTPStatus:     result.HTTPStatus,
		CreatedAt:      s.Now(),
	}
	if sendErr != nil {
		attempt.Outcome = AttemptOutcomeFailure
		attempt.ErrorDetail = sendErr.Error()
	}
	if _, err := s.deliveryTracker.Record(ctx, attempt); err != nil {
		s.logError(ctx, "attempt record failed", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

func (s *Service) publishEngineEvent(ctx context.Context, event EngineEvent) {
	if s == nil || s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logError(ctx, "engine event publish failed", map[string]any{
			"event": event.Name,
			"error": err.Error(),
		})
	}
}

// Job returns the durable record for a single job.
func (s *Service) Job(ctx context.Context, id string) (Job, error) {
	if s == nil || s.jobStore == nil {
		return Job{}, fmt.Errorf("core: job store is required")
	}
	job, err := s.jobStore.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Job{}, mapBuildError(s.errorMapper, err)
	}
	return job, nil
}

// RetryJob re-drives a dead-lettered job: attempts reset to zero and the job
// becomes immediately claimable. Only failed jobs qualify.
func (s *Service) RetryJob(ctx context.Context, id string) (Job, error) {
	if s == nil || s.jobStore == nil {
		return Job{}, fmt.Errorf("core: job store is required")
	}
	job, err := s.jobStore.ResetForRetry(ctx, strings.TrimSpace(id), s.Now())
	if err != nil {
		return Job{}, mapBuildError(s.errorMapper, err)
	}
	s.publishEngineEvent(ctx, EngineEvent{
		Name:       EngineEventJobEnqueued,
		JobID:      job.ID,
		Lane:       job.Lane,
		Detail:     "manual retry",
		OccurredAt: s.Now(),
	})
	return job, nil
}

func (s *Service) JobCounts(ctx context.Context, lane string) (map[JobStatus]int, error) {
	if s == nil || s.jobStore == nil {
		return nil, fmt.Errorf("core: job store is required")
	}
	counts, err := s.jobStore.CountByStatus(ctx, strings.TrimSpace(lane))
	if err != nil {
		return nil, mapBuildError(s.errorMapper, err)
	}
	return counts, nil
}

// RegisterWebhook stores a new registration. IDs are assigned here so callers
// never pick their own.
func (s *Service) RegisterWebhook(ctx context.Context, registration WebhookRegistration) (WebhookRegistration, error) {
	startedAt := time.Now()
	created, err := s.registerWebhook(ctx, registration)
	s.observeOperation(ctx, startedAt, "webhook_register", err, map[string]any{
		"endpoint": registration.Endpoint,
	})
	if err != nil {
		return WebhookRegistration{}, mapBuildError(s.errorMapper, err)
	}
	return created, nil
}

func (s *Service) registerWebhook(ctx context.Context, registration WebhookRegistration) (WebhookRegistration, error) {
	if s == nil || s.registrationStore == nil {
		return WebhookRegistration{}, fmt.Errorf("core: registration store is required")
	}
	registration.Endpoint = strings.TrimSpace(registration.Endpoint)
	if err := registration.Validate(); err != nil {
		return WebhookRegistration{}, err
	}
	if strings.TrimSpace(registration.ID) == "" {
		registration.ID = uuid.NewString()
	}
	registration.CreatedAt = s.Now()
	registration.UpdatedAt = registration.CreatedAt
	if registration.RetryPolicy.MaxAttempts <= 0 {
		registration.RetryPolicy.MaxAttempts = DefaultMaxAttempts
	}
	if registration.RetryPolicy.BaseDelay <= 0 {
		registration.RetryPolicy.BaseDelay = DefaultRetryBase
	}
	return s.registrationStore.Create(ctx, registration)
}

func (s *Service) UpdateWebhook(ctx context.Context, registration WebhookRegistration) (WebhookRegistration, error) {
	if s == nil || s.registrationStore == nil {
		return WebhookRegistration{}, fmt.Errorf("core: registration store is required")
	}
	if strings.TrimSpace(registration.ID) == "" {
		return WebhookRegistration{}, fmt.Errorf("core: registration id is required")
	}
	if err := registration.Validate(); err != nil {
		return WebhookRegistration{}, mapBuildError(s.errorMapper, err)
	}
	registration.UpdatedAt = s.Now()
	updated, err := s.registrationStore.Update(ctx, registration)
	if err != nil {
		return WebhookRegistration{}, mapBuildError(s.errorMapper, err)
	}
	return updated, nil
}

// SetWebhookActive flips a registration's active flag without touching the
// rest of the record.
func (s *Service) SetWebhookActive(ctx context.Context, id string, active bool) (WebhookRegistration, error) {
	if s == nil || s.registrationStore == nil {
		return WebhookRegistration{}, fmt.Errorf("core: registration store is required")
	}
	registration, err := s.registrationStore.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return WebhookRegistration{}, mapBuildError(s.errorMapper, err)
	}
	registration.Active = active
	registration.UpdatedAt = s.Now()
	updated, err := s.registrationStore.Update(ctx, registration)
	if err != nil {
		return WebhookRegistration{}, mapBuildError(s.errorMapper, err)
	}
	return updated, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, id string) error {
	if s == nil || s.registrationStore == nil {
		return fmt.Errorf("core: registration store is required")
	}
	if err := s.registrationStore.Delete(ctx, strings.TrimSpace(id)); err != nil {
		return mapBuildError(s.errorMapper, err)
	}
	return nil
}

func (s *Service) Webhook(ctx context.Context, id string) (WebhookRegistration, error) {
	if s == nil || s.registrationStore == nil {
		return WebhookRegistration{}, fmt.Errorf("core: registration store is required")
	}
	registration, err := s.registrationStore.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return WebhookRegistration{}, mapBuildError(s.errorMapper, err)
	}
	return registration, nil
}

func (s *Service) Webhooks(ctx context.Context) ([]WebhookRegistration, error) {
	if s == nil || s.registrationStore == nil {
		return nil, fmt.Errorf("core: registration store is required")
	}
	registrations, err := s.registrationStore.List(ctx)
	if err != nil {
		return nil, mapBuildError(s.errorMapper, err)
	}
	return registrations, nil
}

func (s *Service) Preferences(ctx context.Context, userID string) (NotificationPreferences, error) {
	if s == nil || s.preferenceStore == nil {
		return NotificationPreferences{}, fmt.Errorf("core: preference store is required")
	}
	preferences, err := s.preferenceStore.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return NotificationPreferences{}, mapBuildError(s.errorMapper, err)
	}
	return preferences, nil
}

func (s *Service) SavePreferences(ctx context.Context, preferences NotificationPreferences) (NotificationPreferences, error) {
	if s == nil || s.preferenceStore == nil {
		return NotificationPreferences{}, fmt.Errorf("core: preference store is required")
	}
	if strings.TrimSpace(preferences.UserID) == "" {
		return NotificationPreferences{}, fmt.Errorf("core: preferences user id is required")
	}
	saved, err := s.preferenceStore.Put(ctx, preferences)
	if err != nil {
		return NotificationPreferences{}, mapBuildError(s.errorMapper, err)
	}
	return saved, nil
}

func (s *Service) DeliveryHistory(ctx context.Context, filter AttemptFilter) ([]DeliveryAttempt, error) {
	if s == nil || s.deliveryTracker == nil {
		return nil, fmt.Errorf("core: delivery tracker is required")
	}
	attempts, err := s.deliveryTracker.History(ctx, filter)
	if err != nil {
		return nil, mapBuildError(s.errorMapper, err)
	}
	return attempts, nil
}

// DeliveryMetrics aggregates the matching slice of the attempt history into
// delivery and read rates.
func (s *Service) DeliveryMetrics(ctx context.Context, filter AttemptFilter) (DeliveryStats, error) {
	if s == nil || s.deliveryTracker == nil {
		return DeliveryStats{}, fmt.Errorf("core: delivery tracker is required")
	}
	attempts, err := s.deliveryTracker.History(ctx, filter)
	if err != nil {
		return DeliveryStats{}, mapBuildError(s.errorMapper, err)
	}
	return AggregateAttempts(attempts), nil
}

func (s *Service) MarkAttemptRead(ctx context.Context, attemptID string) error {
	if s == nil || s.deliveryTracker == nil {
		return fmt.Errorf("core: delivery tracker is required")
	}
	if err := s.deliveryTracker.MarkRead(ctx, strings.TrimSpace(attemptID), s.Now()); err != nil {
		return mapBuildError(s.errorMapper, err)
	}
	return nil
}

func (s *Service) PutTemplate(ctx context.Context, template NotificationTemplate) error {
	if s == nil || s.templateStore == nil {
		return fmt.Errorf("core: template store is required")
	}
	if strings.TrimSpace(template.Name) == "" {
		return fmt.Errorf("core: template name is required")
	}
	if err := s.templateStore.Put(ctx, template); err != nil {
		return mapBuildError(s.errorMapper, err)
	}
	return nil
}

// IsPermanent reports whether an error should bypass retry scheduling.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentDelivery)
}
