package query

import (
	"context"

	"github.com/goliatone/go-dispatch/core"
)

type JobReader interface {
	Job(ctx context.Context, id string) (core.Job, error)
	JobCounts(ctx context.Context, lane string) (map[core.JobStatus]int, error)
}

type WebhookReader interface {
	Webhook(ctx context.Context, id string) (core.WebhookRegistration, error)
	Webhooks(ctx context.Context) ([]core.WebhookRegistration, error)
}

type PreferenceReader interface {
	Preferences(ctx context.Context, userID string) (core.NotificationPreferences, error)
}

type HistoryReader interface {
	DeliveryHistory(ctx context.Context, filter core.AttemptFilter) ([]core.DeliveryAttempt, error)
}

type GetJobQuery struct {
	reader JobReader
}

func NewGetJobQuery(reader JobReader) *GetJobQuery {
	return &GetJobQuery{reader: reader}
}

func (q *GetJobQuery) Query(ctx context.Context, msg GetJobMessage) (core.Job, error) {
	if q == nil || q.reader == nil {
		return core.Job{}, queryDependencyError("query: job reader is required")
	}
	return q.reader.Job(ctx, msg.JobID)
}

type JobCountsQuery struct {
	reader JobReader
}

func NewJobCountsQuery(reader JobReader) *JobCountsQuery {
	return &JobCountsQuery{reader: reader}
}

func (q *JobCountsQuery) Query(ctx context.Context, msg JobCountsMessage) (map[core.JobStatus]int, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: job reader is required")
	}
	return q.reader.JobCounts(ctx, msg.Lane)
}

type GetWebhookQuery struct {
	reader WebhookReader
}

func NewGetWebhookQuery(reader WebhookReader) *GetWebhookQuery {
	return &GetWebhookQuery{reader: reader}
}

func (q *GetWebhookQuery) Query(ctx context.Context, msg GetWebhookMessage) (core.WebhookRegistration, error) {
	if q == nil || q.reader == nil {
		return core.WebhookRegistration{}, queryDependencyError("query: webhook reader is required")
	}
	return q.reader.Webhook(ctx, msg.RegistrationID)
}

type ListWebhooksQuery struct {
	reader WebhookReader
}

func NewListWebhooksQuery(reader WebhookReader) *ListWebhooksQuery {
	return &ListWebhooksQuery{reader: reader}
}

func (q *ListWebhooksQuery) Query(ctx context.Context, _ ListWebhooksMessage) ([]core.WebhookRegistration, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: webhook reader is required")
	}
	return q.reader.Webhooks(ctx)
}

type GetPreferencesQuery struct {
	reader PreferenceReader
}

func NewGetPreferencesQuery(reader PreferenceReader) *GetPreferencesQuery {
	return &GetPreferencesQuery{reader: reader}
}

func (q *GetPreferencesQuery) Query(ctx context.Context, msg GetPreferencesMessage) (core.NotificationPreferences, error) {
	if q == nil || q.reader == nil {
		return core.NotificationPreferences{}, queryDependencyError("query: preference reader is required")
	}
	return q.reader.Preferences(ctx, msg.UserID)
}

type DeliveryHistoryQuery struct {
	reader HistoryReader
}

func NewDeliveryHistoryQuery(reader HistoryReader) *DeliveryHistoryQuery {
	return &DeliveryHistoryQuery{reader: reader}
}

func (q *DeliveryHistoryQuery) Query(ctx context.Context, msg DeliveryHistoryMessage) ([]core.DeliveryAttempt, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: history reader is required")
	}
	return q.reader.DeliveryHistory(ctx, msg.Filter)
}
