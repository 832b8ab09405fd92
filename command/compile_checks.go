package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[DispatchEventMessage]   = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[RegisterWebhookMessage] = (*RegisterWebhookCommand)(nil)
	_ gocmd.Commander[UpdateWebhookMessage]   = (*UpdateWebhookCommand)(nil)
	_ gocmd.Commander[DeleteWebhookMessage]   = (*DeleteWebhookCommand)(nil)
	_ gocmd.Commander[RetryJobMessage]        = (*RetryJobCommand)(nil)
	_ gocmd.Commander[SavePreferencesMessage] = (*SavePreferencesCommand)(nil)
	_ gocmd.Commander[MarkAttemptReadMessage] = (*MarkAttemptReadCommand)(nil)
	_ gocmd.Commander[PutTemplateMessage]     = (*PutTemplateCommand)(nil)
)
