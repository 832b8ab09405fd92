package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

var (
	_ gocmd.Querier[GetJobMessage, core.Job]                                 = (*GetJobQuery)(nil)
	_ gocmd.Querier[JobCountsMessage, map[core.JobStatus]int]                = (*JobCountsQuery)(nil)
	_ gocmd.Querier[GetWebhookMessage, core.WebhookRegistration]             = (*GetWebhookQuery)(nil)
	_ gocmd.Querier[ListWebhooksMessage, []core.WebhookRegistration]         = (*ListWebhooksQuery)(nil)
	_ gocmd.Querier[GetPreferencesMessage, core.NotificationPreferences]     = (*GetPreferencesQuery)(nil)
	_ gocmd.Querier[DeliveryHistoryMessage, []core.DeliveryAttempt]          = (*DeliveryHistoryQuery)(nil)
)
