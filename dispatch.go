package dispatch

import "github.com/goliatone/go-dispatch/core"

type Config = core.Config

type LaneConfig = core.LaneConfig
type WebhookConfig = core.WebhookConfig
type CleanConfig = core.CleanConfig

type Option = core.Option

type Service = core.Service

type Job = core.Job
type JobStatus = core.JobStatus
type Event = core.Event
type Channel = core.Channel
type WebhookRegistration = core.WebhookRegistration
type NotificationPreferences = core.NotificationPreferences
type NotificationTemplate = core.NotificationTemplate
type DeliveryAttempt = core.DeliveryAttempt
type AttemptFilter = core.AttemptFilter
type DeliveryStats = core.DeliveryStats
type DeliveryTarget = core.DeliveryTarget
type DispatchReceipt = core.DispatchReceipt
type EnqueueOptions = core.EnqueueOptions

type JobStore = core.JobStore
type RegistrationStore = core.RegistrationStore
type PreferenceStore = core.PreferenceStore
type AttemptStore = core.AttemptStore
type TemplateStore = core.TemplateStore
type Transport = core.Transport
type TransportResolver = core.TransportResolver
type Enqueuer = core.Enqueuer
type TargetResolver = core.TargetResolver
type DeliveryTracker = core.DeliveryTracker
type EventPublisher = core.EventPublisher
type Signer = core.Signer

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithJobStore          = core.WithJobStore
	WithRegistrationStore = core.WithRegistrationStore
	WithPreferenceStore   = core.WithPreferenceStore
	WithTemplateStore     = core.WithTemplateStore
	WithEnqueuer          = core.WithEnqueuer
	WithTargetResolver    = core.WithTargetResolver
	WithDeliveryTracker   = core.WithDeliveryTracker
	WithTransportResolver = core.WithTransportResolver
	WithEventPublisher    = core.WithEventPublisher
	WithSigner            = core.WithSigner
	WithNow               = core.WithNow
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
