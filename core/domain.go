package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidChannel             = errors.New("core: invalid channel")
	ErrInvalidJobStatusTransition = errors.New("core: invalid job status transition")
	ErrJobNotFound                = errors.New("core: job not found")
	ErrJobNotTerminal             = errors.New("core: job is not terminal")
	ErrLaneNotFound               = errors.New("core: lane not found")
	ErrInvalidPayload             = errors.New("core: invalid payload")
	ErrInvalidEndpoint            = errors.New("core: invalid endpoint url")
	ErrRegistrationNotFound       = errors.New("core: webhook registration not found")
	ErrTemplateNotFound           = errors.New("core: notification template not found")
	ErrAttemptNotFound            = errors.New("core: delivery attempt not found")
	ErrPermanentDelivery          = errors.New("core: permanent delivery failure")
)

type Channel string

const (
	ChannelPush    Channel = "push"
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelWebPush Channel = "web_push"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// NotificationChannels lists the user-facing channels; webhook delivery is
// resolved from registrations, not user preferences.
func NotificationChannels() []Channel {
	return []Channel{ChannelPush, ChannelSMS, ChannelEmail, ChannelWebPush, ChannelInApp}
}

func (c Channel) Validate() error {
	switch c {
	case ChannelPush, ChannelSMS, ChannelEmail, ChannelWebPush, ChannelInApp, ChannelWebhook:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidChannel, string(c))
}

func NormalizeChannel(raw string) (Channel, error) {
	channel := Channel(strings.TrimSpace(strings.ToLower(raw)))
	if err := channel.Validate(); err != nil {
		return "", err
	}
	return channel, nil
}

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type Job struct {
	ID             string
	Lane           string
	Payload        []byte
	Priority       int
	Attempts       int
	MaxAttempts    int
	RetryBase      time.Duration
	Status         JobStatus
	ScheduledAt    time.Time
	Timeout        time.Duration
	LeaseExpiresAt *time.Time
	WorkerID       string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (j *Job) TransitionTo(status JobStatus, reason string, now time.Time) error {
	if j == nil {
		return nil
	}
	if j.Status == status {
		j.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			j.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !jobTransitionAllowed(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidJobStatusTransition, j.Status, status)
	}
	j.Status = status
	j.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		j.LastError = strings.TrimSpace(reason)
	}
	if status == JobStatusCompleted {
		j.LastError = ""
	}
	if status != JobStatusActive {
		j.LeaseExpiresAt = nil
		j.WorkerID = ""
	}
	return nil
}

func jobTransitionAllowed(current, next JobStatus) bool {
	allowed := map[JobStatus]map[JobStatus]struct{}{
		JobStatusWaiting: {
			JobStatusActive: {},
			JobStatusFailed: {},
		},
		JobStatusActive: {
			JobStatusCompleted: {},
			JobStatusDelayed:   {},
			JobStatusFailed:    {},
			// lease expiry returns the job to the claimable pool
			JobStatusWaiting: {},
		},
		JobStatusDelayed: {
			JobStatusWaiting: {},
			JobStatusActive:  {},
			JobStatusFailed:  {},
		},
		// manual re-drive of a dead-lettered job
		JobStatusFailed: {
			JobStatusWaiting: {},
		},
		JobStatusCompleted: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// Claimable reports whether a worker may take ownership of the job at the
// given instant. Delayed jobs become claimable once their schedule elapses.
func (j Job) Claimable(now time.Time) bool {
	if j.Status != JobStatusWaiting && j.Status != JobStatusDelayed {
		return false
	}
	return !j.ScheduledAt.After(now)
}

type Event struct {
	Name       string
	Payload    map[string]any
	Priority   int
	Channels   []Channel
	UserID     string
	OccurredAt time.Time
	Metadata   map[string]any
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("core: event name is required")
	}
	for _, channel := range e.Channels {
		if err := channel.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type WebhookRetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type WebhookRegistration struct {
	ID          string
	Endpoint    string
	Events      []string
	Secret      string
	Active      bool
	RetryPolicy WebhookRetryPolicy
	Headers     map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r WebhookRegistration) Validate() error {
	if err := ValidateEndpoint(r.Endpoint); err != nil {
		return err
	}
	if len(r.Events) == 0 {
		return fmt.Errorf("core: registration requires at least one event")
	}
	if strings.TrimSpace(r.Secret) == "" {
		return fmt.Errorf("core: registration secret is required")
	}
	return nil
}

func (r WebhookRegistration) SubscribedTo(event string) bool {
	event = strings.TrimSpace(event)
	for _, name := range r.Events {
		if strings.TrimSpace(name) == event {
			return true
		}
	}
	return false
}

func ValidateEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidEndpoint, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}

type QuietHours struct {
	Start    string
	End      string
	Timezone string
}

// Contains evaluates the window against the user's local time of day using a
// half-open [start, end) comparison. Windows where start > end wrap across
// midnight, e.g. 22:00-06:00 covers 23:30 and 05:59 but not 06:00.
func (q QuietHours) Contains(at time.Time) (bool, error) {
	start, err := parseClock(q.Start)
	if err != nil {
		return false, fmt.Errorf("core: quiet hours start: %w", err)
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, fmt.Errorf("core: quiet hours end: %w", err)
	}
	location := time.UTC
	if tz := strings.TrimSpace(q.Timezone); tz != "" {
		location, err = time.LoadLocation(tz)
		if err != nil {
			return false, fmt.Errorf("core: quiet hours timezone: %w", err)
		}
	}
	local := at.In(location)
	minute := local.Hour()*60 + local.Minute()
	if start == end {
		return false, nil
	}
	if start < end {
		return minute >= start && minute < end, nil
	}
	return minute >= start || minute < end, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

type NotificationPreferences struct {
	UserID     string
	Channels   map[Channel]bool
	QuietHours *QuietHours
}

// EnabledFor treats channels without an explicit entry as enabled; users opt
// out, they do not opt in.
func (p NotificationPreferences) EnabledFor(channel Channel) bool {
	if p.Channels == nil {
		return true
	}
	enabled, ok := p.Channels[channel]
	if !ok {
		return true
	}
	return enabled
}

type AttemptOutcome string

const (
	AttemptOutcomeSuccess AttemptOutcome = "success"
	AttemptOutcomeFailure AttemptOutcome = "failure"
)

type DeliveryAttempt struct {
	ID             string
	JobID          string
	RegistrationID string
	Channel        Channel
	Recipient      string
	Event          string
	AttemptNumber  int
	Outcome        AttemptOutcome
	HTTPStatus     int
	ErrorDetail    string
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// DeliveryStats summarizes a slice of the attempt history. DeliveryRate is
// successes over total attempts; ReadRate is read acknowledgements over
// successes.
type DeliveryStats struct {
	Total        int
	ByOutcome    map[AttemptOutcome]int
	DeliveryRate float64
	ReadRate     float64
}

func AggregateAttempts(attempts []DeliveryAttempt) DeliveryStats {
	stats := DeliveryStats{ByOutcome: map[AttemptOutcome]int{}}
	var read int
	for _, attempt := range attempts {
		stats.Total++
		stats.ByOutcome[attempt.Outcome]++
		if attempt.ReadAt != nil {
			read++
		}
	}
	successes := stats.ByOutcome[AttemptOutcomeSuccess]
	if stats.Total > 0 {
		stats.DeliveryRate = float64(successes) / float64(stats.Total)
	}
	if successes > 0 {
		stats.ReadRate = float64(read) / float64(successes)
	}
	return stats
}

type NotificationTemplate struct {
	Name     string
	Channels []Channel
	Title    string
	Body     string
}

// Render substitutes {{key}} placeholders from the event payload. Unknown
// placeholders render as empty strings; no logic beyond substitution.
func (t NotificationTemplate) Render(vars map[string]any) (string, string) {
	return renderVars(t.Title, vars), renderVars(t.Body, vars)
}

func renderVars(text string, vars map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	out := text
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", fmt.Sprint(value))
	}
	for {
		open := strings.Index(out, "{{")
		if open < 0 {
			break
		}
		rest := strings.Index(out[open:], "}}")
		if rest < 0 {
			break
		}
		out = out[:open] + out[open+rest+2:]
	}
	return out
}

type DeliveryTarget struct {
	Channel        Channel
	Recipient      string
	Event          string
	Payload        map[string]any
	Title          string
	Body           string
	RegistrationID string
	Endpoint       string
	Secret         string
	Headers        map[string]string
	MaxAttempts    int
	BaseDelay      time.Duration
}

func (t DeliveryTarget) Validate() error {
	if err := t.Channel.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Event) == "" {
		return fmt.Errorf("core: delivery target event is required")
	}
	if t.Channel == ChannelWebhook {
		return ValidateEndpoint(t.Endpoint)
	}
	if strings.TrimSpace(t.Recipient) == "" {
		return fmt.Errorf("core: delivery target recipient is required")
	}
	return nil
}

type QueuedJobRef struct {
	JobID          string
	Lane           string
	Channel        Channel
	Recipient      string
	RegistrationID string
}

type DispatchReceipt struct {
	Event      string
	AcceptedAt time.Time
	Jobs       []QueuedJobRef
}
