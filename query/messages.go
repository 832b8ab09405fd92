package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypeGetJob          = "dispatch.query.job.get"
	TypeJobCounts       = "dispatch.query.job.counts"
	TypeGetWebhook      = "dispatch.query.webhook.get"
	TypeListWebhooks    = "dispatch.query.webhook.list"
	TypeGetPreferences  = "dispatch.query.preferences.get"
	TypeDeliveryHistory = "dispatch.query.attempts.history"
)

type GetJobMessage struct {
	JobID string
}

func (GetJobMessage) Type() string { return TypeGetJob }

func (m GetJobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("query: job id is required")
	}
	return nil
}

type JobCountsMessage struct {
	Lane string
}

func (JobCountsMessage) Type() string { return TypeJobCounts }

func (m JobCountsMessage) Validate() error {
	if strings.TrimSpace(m.Lane) == "" {
		return fmt.Errorf("query: lane is required")
	}
	return nil
}

type GetWebhookMessage struct {
	RegistrationID string
}

func (GetWebhookMessage) Type() string { return TypeGetWebhook }

func (m GetWebhookMessage) Validate() error {
	if strings.TrimSpace(m.RegistrationID) == "" {
		return fmt.Errorf("query: registration id is required")
	}
	return nil
}

type ListWebhooksMessage struct{}

func (ListWebhooksMessage) Type() string { return TypeListWebhooks }

type GetPreferencesMessage struct {
	UserID string
}

func (GetPreferencesMessage) Type() string { return TypeGetPreferences }

func (m GetPreferencesMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("query: user id is required")
	}
	return nil
}

type DeliveryHistoryMessage struct {
	Filter core.AttemptFilter
}

func (DeliveryHistoryMessage) Type() string { return TypeDeliveryHistory }

func (m DeliveryHistoryMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return fmt.Errorf("query: limit must be >= 0")
	}
	if m.Filter.Channel != "" {
		if err := m.Filter.Channel.Validate(); err != nil {
			return fmt.Errorf("query: %w", err)
		}
	}
	return nil
}
