// Package fanout resolves a domain event into the concrete deliveries it
// implies: one target per enabled notification channel for the addressed
// user, plus one webhook target per active registration subscribed to the
// event.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
)

type Resolver struct {
	Registrations core.RegistrationStore
	Preferences   core.PreferenceStore
	Templates     core.TemplateStore
	Logger        core.Logger
	Now           core.NowFunc
}

func NewResolver(registrations core.RegistrationStore, preferences core.PreferenceStore, templates core.TemplateStore) *Resolver {
	return &Resolver{
		Registrations: registrations,
		Preferences:   preferences,
		Templates:     templates,
		Logger:        glog.Nop(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Resolve fans the event out. Quiet hours collapse the user's channel set to
// in-app only; priority does not bypass the window. Webhook targets are
// unaffected by user preferences.
func (r *Resolver) Resolve(ctx context.Context, event core.Event) ([]core.DeliveryTarget, error) {
	if r == nil {
		return nil, fmt.Errorf("fanout: resolver is nil")
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	targets := make([]core.DeliveryTarget, 0)

	userTargets, err := r.resolveUserChannels(ctx, event)
	if err != nil {
		return nil, err
	}
	targets = append(targets, userTargets...)

	webhookTargets, err := r.resolveWebhooks(ctx, event)
	if err != nil {
		return nil, err
	}
	targets = append(targets, webhookTargets...)
	return targets, nil
}

func (r *Resolver) resolveUserChannels(ctx context.Context, event core.Event) ([]core.DeliveryTarget, error) {
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return nil, nil
	}

	channels := event.Channels
	if len(channels) == 0 {
		channels = core.NotificationChannels()
	}

	preferences := core.NotificationPreferences{UserID: userID}
	if r.Preferences != nil {
		loaded, err := r.Preferences.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		preferences = loaded
	}

	enabled := make([]core.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == core.ChannelWebhook {
			continue
		}
		if preferences.EnabledFor(channel) {
			enabled = append(enabled, channel)
		}
	}

	if preferences.QuietHours != nil && len(enabled) > 0 {
		inside, err := preferences.QuietHours.Contains(r.now(event))
		if err != nil {
			return nil, err
		}
		if inside {
			enabled = collapseToInApp(enabled)
		}
	}

	title, body := r.renderTemplate(ctx, event)
	targets := make([]core.DeliveryTarget, 0, len(enabled))
	for _, channel := range enabled {
		targets = append(targets, core.DeliveryTarget{
			Channel:   channel,
			Recipient: userID,
			Event:     event.Name,
			Payload:   event.Payload,
			Title:     title,
			Body:      body,
		})
	}
	return targets, nil
}

// collapseToInApp reduces the channel set to in-app during quiet hours. The
// in-app target is emitted even when the event did not list the channel so
// the user still finds the notification later.
func collapseToInApp([]core.Channel) []core.Channel {
	return []core.Channel{core.ChannelInApp}
}

func (r *Resolver) resolveWebhooks(ctx context.Context, event core.Event) ([]core.DeliveryTarget, error) {
	if r.Registrations == nil {
		return nil, nil
	}
	registrations, err := r.Registrations.ListActiveForEvent(ctx, event.Name)
	if err != nil {
		return nil, err
	}
	targets := make([]core.DeliveryTarget, 0, len(registrations))
	for _, registration := range registrations {
		targets = append(targets, core.DeliveryTarget{
			Channel:        core.ChannelWebhook,
			Event:          event.Name,
			Payload:        event.Payload,
			RegistrationID: registration.ID,
			Endpoint:       registration.Endpoint,
			Secret:         registration.Secret,
			Headers:        registration.Headers,
			MaxAttempts:    registration.RetryPolicy.MaxAttempts,
			BaseDelay:      registration.RetryPolicy.BaseDelay,
		})
	}
	return targets, nil
}

func (r *Resolver) renderTemplate(ctx context.Context, event core.Event) (string, string) {
	if r.Templates == nil {
		return "", ""
	}
	template, err := r.Templates.Get(ctx, event.Name)
	if err != nil {
		if !errors.Is(err, core.ErrTemplateNotFound) && r.Logger != nil {
			r.Logger.Error("template lookup failed", "event", event.Name, "error", err.Error())
		}
		return "", ""
	}
	return template.Render(event.Payload)
}

// now prefers the event's own timestamp so quiet hours are judged against
// when the event happened, not when the resolver ran.
func (r *Resolver) now(event core.Event) time.Time {
	if !event.OccurredAt.IsZero() {
		return event.OccurredAt
	}
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.TargetResolver = (*Resolver)(nil)
