package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
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

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithJobStore(store JobStore) Option {
	return func(b *serviceBuilder) {
		b.jobStore = store
	}
}

func WithRegistrationStore(store RegistrationStore) Option {
	return func(b *serviceBuilder) {
		b.registrationStore = store
	}
}

func WithPreferenceStore(store PreferenceStore) Option {
	return func(b *serviceBuilder) {
		b.preferenceStore = store
	}
}

func WithTemplateStore(store TemplateStore) Option {
	return func(b *serviceBuilder) {
		b.templateStore = store
	}
}

func WithEnqueuer(enqueuer Enqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

func WithTargetResolver(resolver TargetResolver) Option {
	return func(b *serviceBuilder) {
		b.targetResolver = resolver
	}
}

func WithDeliveryTracker(tracker DeliveryTracker) Option {
	return func(b *serviceBuilder) {
		b.deliveryTracker = tracker
	}
}

func WithTransportResolver(resolver TransportResolver) Option {
	return func(b *serviceBuilder) {
		b.transportResolver = resolver
	}
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(b *serviceBuilder) {
		b.eventPublisher = publisher
	}
}

func WithSigner(signer Signer) Option {
	return func(b *serviceBuilder) {
		b.signer = signer
	}
}

func WithNow(now NowFunc) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("dispatch", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		eventPublisher:  NopEventPublisher{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return dispatchErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || len(cfg.Lanes) > 0 {
		lanes := make([]map[string]any, 0, len(cfg.Lanes))
		for _, lane := range cfg.Lanes {
			lanes = append(lanes, map[string]any{
				"name":           lane.Name,
				"concurrency":    lane.Concurrency,
				"max_attempts":   lane.MaxAttempts,
				"lease_duration": lane.LeaseDuration,
				"job_timeout":    lane.JobTimeout,
				"retry_base":     lane.RetryBase,
				"retry_max":      lane.RetryMax,
			})
		}
		layer["lanes"] = lanes
	}
	if includeZero || strings.TrimSpace(cfg.Webhook.SignatureHeader) != "" {
		layer["webhook"] = map[string]any{
			"signature_header": cfg.Webhook.SignatureHeader,
			"timestamp_header": cfg.Webhook.TimestampHeader,
			"event_header":     cfg.Webhook.EventHeader,
			"request_timeout":  cfg.Webhook.RequestTimeout,
		}
	}
	if includeZero || strings.TrimSpace(cfg.Clean.Schedule) != "" {
		layer["clean"] = map[string]any{
			"schedule":  cfg.Clean.Schedule,
			"retention": cfg.Clean.Retention,
		}
	}
	return layer
}
