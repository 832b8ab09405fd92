package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

type MutatingService interface {
	Dispatch(ctx context.Context, event core.Event) (core.DispatchReceipt, error)
	RegisterWebhook(ctx context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error)
	UpdateWebhook(ctx context.Context, registration core.WebhookRegistration) (core.WebhookRegistration, error)
	DeleteWebhook(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string) (core.Job, error)
	SavePreferences(ctx context.Context, preferences core.NotificationPreferences) (core.NotificationPreferences, error)
	MarkAttemptRead(ctx context.Context, attemptID string) error
	PutTemplate(ctx context.Context, template core.NotificationTemplate) error
}

type DispatchEventCommand struct {
	service MutatingService
}

func NewDispatchEventCommand(service MutatingService) *DispatchEventCommand {
	return &DispatchEventCommand{service: service}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Dispatch(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RegisterWebhookCommand struct {
	service MutatingService
}

func NewRegisterWebhookCommand(service MutatingService) *RegisterWebhookCommand {
	return &RegisterWebhookCommand{service: service}
}

func (c *RegisterWebhookCommand) Execute(ctx context.Context, msg RegisterWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.RegisterWebhook(ctx, msg.Registration)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateWebhookCommand struct {
	service MutatingService
}

func NewUpdateWebhookCommand(service MutatingService) *UpdateWebhookCommand {
	return &UpdateWebhookCommand{service: service}
}

func (c *UpdateWebhookCommand) Execute(ctx context.Context, msg UpdateWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	out, err := c.service.UpdateWebhook(ctx, msg.Registration)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteWebhookCommand struct {
	service MutatingService
}

func NewDeleteWebhookCommand(service MutatingService) *DeleteWebhookCommand {
	return &DeleteWebhookCommand{service: service}
}

func (c *DeleteWebhookCommand) Execute(ctx context.Context, msg DeleteWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook service is required")
	}
	return c.service.DeleteWebhook(ctx, msg.RegistrationID)
}

type RetryJobCommand struct {
	service MutatingService
}

func NewRetryJobCommand(service MutatingService) *RetryJobCommand {
	return &RetryJobCommand{service: service}
}

func (c *RetryJobCommand) Execute(ctx context.Context, msg RetryJobMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: job service is required")
	}
	out, err := c.service.RetryJob(ctx, msg.JobID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SavePreferencesCommand struct {
	service MutatingService
}

func NewSavePreferencesCommand(service MutatingService) *SavePreferencesCommand {
	return &SavePreferencesCommand{service: service}
}

func (c *SavePreferencesCommand) Execute(ctx context.Context, msg SavePreferencesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: preference service is required")
	}
	out, err := c.service.SavePreferences(ctx, msg.Preferences)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MarkAttemptReadCommand struct {
	service MutatingService
}

func NewMarkAttemptReadCommand(service MutatingService) *MarkAttemptReadCommand {
	return &MarkAttemptReadCommand{service: service}
}

func (c *MarkAttemptReadCommand) Execute(ctx context.Context, msg MarkAttemptReadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: tracker service is required")
	}
	return c.service.MarkAttemptRead(ctx, msg.AttemptID)
}

type PutTemplateCommand struct {
	service MutatingService
}

func NewPutTemplateCommand(service MutatingService) *PutTemplateCommand {
	return &PutTemplateCommand{service: service}
}

func (c *PutTemplateCommand) Execute(ctx context.Context, msg PutTemplateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: template service is required")
	}
	return c.service.PutTemplate(ctx, msg.Template)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
