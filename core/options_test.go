package core

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

func TestNewService_DefaultConfiguration(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "dispatch" {
		t.Fatalf("expected default service_name=dispatch, got %q", cfg.ServiceName)
	}
	lane, ok := cfg.Lane(LaneNotifications)
	if !ok {
		t.Fatalf("expected default notifications lane")
	}
	if lane.Concurrency != DefaultConcurrency {
		t.Fatalf("expected default lane concurrency %d, got %d", DefaultConcurrency, lane.Concurrency)
	}
	if _, ok := cfg.Lane(LaneWebhooks); !ok {
		t.Fatalf("expected default webhooks lane")
	}
	if cfg.Webhook.SignatureHeader != "X-Webhook-Signature" {
		t.Fatalf("expected default signature header, got %q", cfg.Webhook.SignatureHeader)
	}
	if cfg.Webhook.EventHeader != "X-Webhook-Event" {
		t.Fatalf("expected default event header, got %q", cfg.Webhook.EventHeader)
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customMapper := func(error) *goerrors.Error {
		return goerrors.New("mapped by override", goerrors.CategoryOperation).
			WithTextCode("CUSTOM_MAPPED")
	}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	optionsResolver := &fixedOptionsResolver{cfg: Config{
		ServiceName: "resolved",
		Lanes:       []LaneConfig{LaneConfig{Name: LaneNotifications}.WithDefaults()},
	}}
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorMapper(customMapper),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithNow(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}
	if got := svc.Now(); !got.Equal(fixedNow) {
		t.Fatalf("expected fixed clock, got %v", got)
	}

	_, err = svc.Dispatch(context.Background(), Event{})
	if err == nil {
		t.Fatalf("expected dispatch validation failure")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected mapped rich error, got %T", err)
	}
	if rich.TextCode != "CUSTOM_MAPPED" {
		t.Fatalf("expected custom mapper text code, got %q", rich.TextCode)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"lanes": []map[string]any{
			{"name": "bulk", "concurrency": 8},
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	lane, ok := cfg.Lane("bulk")
	if !ok {
		t.Fatalf("expected config layer lane, got %#v", cfg.Lanes)
	}
	if lane.Concurrency != 8 {
		t.Fatalf("expected config layer concurrency 8, got %d", lane.Concurrency)
	}
	if lane.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected lane defaults to fill max_attempts, got %d", lane.MaxAttempts)
	}
}
