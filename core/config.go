package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	LaneNotifications = "notifications"
	LaneWebhooks      = "webhooks"

	DefaultMaxAttempts   = 3
	DefaultLeaseDuration = 30 * time.Second
	DefaultJobTimeout    = 30 * time.Second
	DefaultConcurrency   = 4
)

type LaneConfig struct {
	Name          string        `koanf:"name" mapstructure:"name"`
	Concurrency   int           `koanf:"concurrency" mapstructure:"concurrency"`
	MaxAttempts   int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	LeaseDuration time.Duration `koanf:"lease_duration" mapstructure:"lease_duration"`
	JobTimeout    time.Duration `koanf:"job_timeout" mapstructure:"job_timeout"`
	RetryBase     time.Duration `koanf:"retry_base" mapstructure:"retry_base"`
	RetryMax      time.Duration `koanf:"retry_max" mapstructure:"retry_max"`
}

func (c LaneConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("core: lane name is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("core: lane %q concurrency must not be negative", c.Name)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("core: lane %q max_attempts must not be negative", c.Name)
	}
	return nil
}

// WithDefaults fills zero fields so callers can configure only what differs.
func (c LaneConfig) WithDefaults() LaneConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	return c
}

func (c LaneConfig) RetryPolicy() RetryPolicy {
	filled := c.WithDefaults()
	return ExponentialRetryPolicy{Base: filled.RetryBase, Max: filled.RetryMax}
}

type WebhookConfig struct {
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
	TimestampHeader string        `koanf:"timestamp_header" mapstructure:"timestamp_header"`
	EventHeader     string        `koanf:"event_header" mapstructure:"event_header"`
	RequestTimeout  time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

type CleanConfig struct {
	Schedule  string        `koanf:"schedule" mapstructure:"schedule"`
	Retention time.Duration `koanf:"retention" mapstructure:"retention"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Lanes       []LaneConfig  `koanf:"lanes" mapstructure:"lanes"`
	Webhook     WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	Clean       CleanConfig   `koanf:"clean" mapstructure:"clean"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "dispatch",
		Lanes: []LaneConfig{
			LaneConfig{Name: LaneNotifications}.WithDefaults(),
			LaneConfig{Name: LaneWebhooks}.WithDefaults(),
		},
		Webhook: WebhookConfig{
			SignatureHeader: "X-Webhook-Signature",
			EventHeader:     "X-Webhook-Event",
			RequestTimeout:  10 * time.Second,
		},
		Clean: CleanConfig{
			Schedule:  "@hourly",
			Retention: 7 * 24 * time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	seen := map[string]struct{}{}
	for _, lane := range c.Lanes {
		if err := lane.Validate(); err != nil {
			return err
		}
		name := strings.TrimSpace(lane.Name)
		if _, duplicate := seen[name]; duplicate {
			return fmt.Errorf("core: duplicate lane %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (c Config) Lane(name string) (LaneConfig, bool) {
	name = strings.TrimSpace(name)
	for _, lane := range c.Lanes {
		if strings.TrimSpace(lane.Name) == name {
			return lane.WithDefaults(), true
		}
	}
	return LaneConfig{}, false
}
