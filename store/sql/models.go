package sqlstore

import (
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/uptrace/bun"
)

type jobRecord struct {
	bun.BaseModel `bun:"table:dispatch_jobs,alias:dj"`

	ID             string     `bun:"id,pk"`
	Lane           string     `bun:"lane,notnull"`
	Payload        []byte     `bun:"payload,notnull"`
	Priority       int        `bun:"priority,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	MaxAttempts    int        `bun:"max_attempts,notnull"`
	RetryBaseMS    int64      `bun:"retry_base_ms"`
	Status         string     `bun:"status,notnull"`
	ScheduledAt    time.Time  `bun:"scheduled_at,nullzero,notnull"`
	TimeoutMS      int64      `bun:"timeout_ms,notnull"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	WorkerID       string     `bun:"worker_id"`
	LastError      string     `bun:"last_error"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newJobRecord(job core.Job) *jobRecord {
	record := &jobRecord{
		ID:          job.ID,
		Lane:        job.Lane,
		Payload:     append([]byte(nil), job.Payload...),
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		RetryBaseMS: job.RetryBase.Milliseconds(),
		Status:      string(job.Status),
		ScheduledAt: job.ScheduledAt,
		TimeoutMS:   job.Timeout.Milliseconds(),
		WorkerID:    job.WorkerID,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.LeaseExpiresAt != nil {
		value := job.LeaseExpiresAt.UTC()
		record.LeaseExpiresAt = &value
	}
	return record
}

func (r *jobRecord) toDomain() core.Job {
	if r == nil {
		return core.Job{}
	}
	job := core.Job{
		ID:          r.ID,
		Lane:        r.Lane,
		Payload:     append([]byte(nil), r.Payload...),
		Priority:    r.Priority,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		RetryBase:   time.Duration(r.RetryBaseMS) * time.Millisecond,
		Status:      core.JobStatus(r.Status),
		ScheduledAt: r.ScheduledAt,
		Timeout:     time.Duration(r.TimeoutMS) * time.Millisecond,
		WorkerID:    r.WorkerID,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LeaseExpiresAt != nil {
		value := r.LeaseExpiresAt.UTC()
		job.LeaseExpiresAt = &value
	}
	return job
}

type webhookRegistrationRecord struct {
	bun.BaseModel `bun:"table:dispatch_webhook_registrations,alias:dwr"`

	ID            string            `bun:"id,pk"`
	Endpoint      string            `bun:"endpoint,notnull"`
	Events        []string          `bun:"events,type:jsonb,notnull"`
	Secret        string            `bun:"secret,notnull"`
	Active        bool              `bun:"active,notnull"`
	MaxAttempts   int               `bun:"max_attempts,notnull"`
	BaseDelayMS   int64             `bun:"base_delay_ms,notnull"`
	Headers       map[string]string `bun:"headers,type:jsonb"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt     *time.Time        `bun:"deleted_at,soft_delete"`
}

func newWebhookRegistrationRecord(registration core.WebhookRegistration) *webhookRegistrationRecord {
	return &webhookRegistrationRecord{
		ID:          registration.ID,
		Endpoint:    registration.Endpoint,
		Events:      append([]string(nil), registration.Events...),
		Secret:      registration.Secret,
		Active:      registration.Active,
		MaxAttempts: registration.RetryPolicy.MaxAttempts,
		BaseDelayMS: registration.RetryPolicy.BaseDelay.Milliseconds(),
		Headers:     copyStringMap(registration.Headers),
		CreatedAt:   registration.CreatedAt,
		UpdatedAt:   registration.UpdatedAt,
	}
}

func (r *webhookRegistrationRecord) toDomain() core.WebhookRegistration {
	if r == nil {
		return core.WebhookRegistration{}
	}
	return core.WebhookRegistration{
		ID:       r.ID,
		Endpoint: r.Endpoint,
		Events:   append([]string(nil), r.Events...),
		Secret:   r.Secret,
		Active:   r.Active,
		RetryPolicy: core.WebhookRetryPolicy{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   time.Duration(r.BaseDelayMS) * time.Millisecond,
		},
		Headers:   copyStringMap(r.Headers),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type preferenceRecord struct {
	bun.BaseModel `bun:"table:dispatch_notification_preferences,alias:dnp"`

	UserID          string          `bun:"user_id,pk"`
	Channels        map[string]bool `bun:"channels,type:jsonb"`
	QuietStart      string          `bun:"quiet_start"`
	QuietEnd        string          `bun:"quiet_end"`
	QuietTimezone   string          `bun:"quiet_timezone"`
	CreatedAt       time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newPreferenceRecord(preferences core.NotificationPreferences, now time.Time) *preferenceRecord {
	record := &preferenceRecord{
		UserID:    preferences.UserID,
		Channels:  map[string]bool{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for channel, enabled := range preferences.Channels {
		record.Channels[string(channel)] = enabled
	}
	if preferences.QuietHours != nil {
		record.QuietStart = preferences.QuietHours.Start
		record.QuietEnd = preferences.QuietHours.End
		record.QuietTimezone = preferences.QuietHours.Timezone
	}
	return record
}

func (r *preferenceRecord) toDomain() core.NotificationPreferences {
	if r == nil {
		return core.NotificationPreferences{}
	}
	preferences := core.NotificationPreferences{
		UserID:   r.UserID,
		Channels: map[core.Channel]bool{},
	}
	for channel, enabled := range r.Channels {
		preferences.Channels[core.Channel(channel)] = enabled
	}
	if r.QuietStart != "" || r.QuietEnd != "" {
		preferences.QuietHours = &core.QuietHours{
			Start:    r.QuietStart,
			End:      r.QuietEnd,
			Timezone: r.QuietTimezone,
		}
	}
	return preferences
}

type deliveryAttemptRecord struct {
	bun.BaseModel `bun:"table:dispatch_delivery_attempts,alias:dda"`

	ID             string     `bun:"id,pk"`
	JobID          string     `bun:"job_id,notnull"`
	RegistrationID string     `bun:"registration_id"`
	Channel        string     `bun:"channel,notnull"`
	Recipient      string     `bun:"recipient"`
	Event          string     `bun:"event"`
	AttemptNumber  int        `bun:"attempt_number,notnull"`
	Outcome        string     `bun:"outcome,notnull"`
	HTTPStatus     int        `bun:"http_status"`
	ErrorDetail    string     `bun:"error_detail"`
	ReadAt         *time.Time `bun:"read_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func newDeliveryAttemptRecord(attempt core.DeliveryAttempt) *deliveryAttemptRecord {
	record := &deliveryAttemptRecord{
		ID:             attempt.ID,
		JobID:          attempt.JobID,
		RegistrationID: attempt.RegistrationID,
		Channel:        string(attempt.Channel),
		Recipient:      attempt.Recipient,
		Event:          attempt.Event,
		AttemptNumber:  attempt.AttemptNumber,
		Outcome:        string(attempt.Outcome),
		HTTPStatus:     attempt.HTTPStatus,
		ErrorDetail:    attempt.ErrorDetail,
		CreatedAt:      attempt.CreatedAt,
	}
	if attempt.ReadAt != nil {
		value := attempt.ReadAt.UTC()
		record.ReadAt = &value
	}
	return record
}

func (r *deliveryAttemptRecord) toDomain() core.DeliveryAttempt {
	if r == nil {
		return core.DeliveryAttempt{}
	}
	attempt := core.DeliveryAttempt{
		ID:             r.ID,
		JobID:          r.JobID,
		RegistrationID: r.RegistrationID,
		Channel:        core.Channel(r.Channel),
		Recipient:      r.Recipient,
		Event:          r.Event,
		AttemptNumber:  r.AttemptNumber,
		Outcome:        core.AttemptOutcome(r.Outcome),
		HTTPStatus:     r.HTTPStatus,
		ErrorDetail:    r.ErrorDetail,
		CreatedAt:      r.CreatedAt,
	}
	if r.ReadAt != nil {
		value := r.ReadAt.UTC()
		attempt.ReadAt = &value
	}
	return attempt
}

func copyStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return map[string]string{}
	}
	output := make(map[string]string, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
