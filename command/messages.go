package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypeDispatchEvent    = "dispatch.command.event.dispatch"
	TypeRegisterWebhook  = "dispatch.command.webhook.register"
	TypeUpdateWebhook    = "dispatch.command.webhook.update"
	TypeDeleteWebhook    = "dispatch.command.webhook.delete"
	TypeRetryJob         = "dispatch.command.job.retry"
	TypeSavePreferences  = "dispatch.command.preferences.save"
	TypeMarkAttemptRead  = "dispatch.command.attempt.mark_read"
	TypePutTemplate      = "dispatch.command.template.put"
)

type DispatchEventMessage struct {
	Event core.Event
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if err := m.Event.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type RegisterWebhookMessage struct {
	Registration core.WebhookRegistration
}

func (RegisterWebhookMessage) Type() string { return TypeRegisterWebhook }

func (m RegisterWebhookMessage) Validate() error {
	if err := core.ValidateEndpoint(m.Registration.Endpoint); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if len(m.Registration.Events) == 0 {
		return fmt.Errorf("command: at least one subscribed event is required")
	}
	if strings.TrimSpace(m.Registration.Secret) == "" {
		return fmt.Errorf("command: webhook secret is required")
	}
	return nil
}

type UpdateWebhookMessage struct {
	Registration core.WebhookRegistration
}

func (UpdateWebhookMessage) Type() string { return TypeUpdateWebhook }

func (m UpdateWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Registration.ID) == "" {
		return fmt.Errorf("command: registration id is required")
	}
	if err := m.Registration.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type DeleteWebhookMessage struct {
	RegistrationID string
}

func (DeleteWebhookMessage) Type() string { return TypeDeleteWebhook }

func (m DeleteWebhookMessage) Validate() error {
	if strings.TrimSpace(m.RegistrationID) == "" {
		return fmt.Errorf("command: registration id is required")
	}
	return nil
}

type RetryJobMessage struct {
	JobID string
}

func (RetryJobMessage) Type() string { return TypeRetryJob }

func (m RetryJobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("command: job id is required")
	}
	return nil
}

type SavePreferencesMessage struct {
	Preferences core.NotificationPreferences
}

func (SavePreferencesMessage) Type() string { return TypeSavePreferences }

func (m SavePreferencesMessage) Validate() error {
	if strings.TrimSpace(m.Preferences.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	for channel := range m.Preferences.Channels {
		if err := channel.Validate(); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	}
	return nil
}

type MarkAttemptReadMessage struct {
	AttemptID string
}

func (MarkAttemptReadMessage) Type() string { return TypeMarkAttemptRead }

func (m MarkAttemptReadMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("command: attempt id is required")
	}
	return nil
}

type PutTemplateMessage struct {
	Template core.NotificationTemplate
}

func (PutTemplateMessage) Type() string { return TypePutTemplate }

func (m PutTemplateMessage) Validate() error {
	if strings.TrimSpace(m.Template.Name) == "" {
		return fmt.Errorf("command: template name is required")
	}
	return nil
}
