package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/devkit"
)

func newTestResolver(t *testing.T) (*Resolver, *devkit.MemoryRegistrationStore, *devkit.MemoryPreferenceStore, *core.MemoryTemplateStore) {
	t.Helper()
	registrations := devkit.NewMemoryRegistrationStore()
	preferences := devkit.NewMemoryPreferenceStore()
	templates := core.NewMemoryTemplateStore()
	return NewResolver(registrations, preferences, templates), registrations, preferences, templates
}

func channelSet(targets []core.DeliveryTarget) map[core.Channel]int {
	out := map[core.Channel]int{}
	for _, target := range targets {
		out[target.Channel]++
	}
	return out
}

func TestResolve_DefaultsToAllEnabledChannels(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)

	targets, err := resolver.Resolve(context.Background(), core.Event{
		Name:   "order.shipped",
		UserID: "user-1",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	channels := channelSet(targets)
	for _, channel := range core.NotificationChannels() {
		if channels[channel] != 1 {
			t.Fatalf("expected one target for %s, got %v", channel, channels)
		}
	}
}

func TestResolve_HonorsChannelOptOut(t *testing.T) {
	resolver, _, preferences, _ := newTestResolver(t)
	_, _ = preferences.Put(context.Background(), core.NotificationPreferences{
		UserID:   "user-1",
		Channels: map[core.Channel]bool{core.ChannelSMS: false, core.ChannelEmail: false},
	})

	targets, err := resolver.Resolve(context.Background(), core.Event{
		Name:     "order.shipped",
		UserID:   "user-1",
		Channels: []core.Channel{core.ChannelSMS, core.ChannelEmail, core.ChannelPush},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	channels := channelSet(targets)
	if channels[core.ChannelSMS] != 0 || channels[core.ChannelEmail] != 0 {
		t.Fatalf("expected opted-out channels dropped, got %v", channels)
	}
	if channels[core.ChannelPush] != 1 {
		t.Fatalf("expected push target, got %v", channels)
	}
}

func TestResolve_QuietHoursCollapseToInApp(t *testing.T) {
	resolver, _, preferences, _ := newTestResolver(t)
	_, _ = preferences.Put(context.Background(), core.NotificationPreferences{
		UserID:     "user-1",
		QuietHours: &core.QuietHours{Start: "22:00", End: "06:00"},
	})

	// 23:30 UTC falls inside the overnight window.
	occurred := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	targets, err := resolver.Resolve(context.Background(), core.Event{
		Name:       "order.shipped",
		UserID:     "user-1",
		Priority:   100,
		Channels:   []core.Channel{core.ChannelPush, core.ChannelSMS, core.ChannelEmail},
		OccurredAt: occurred,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	channels := channelSet(targets)
	if len(channels) != 1 || channels[core.ChannelInApp] != 1 {
		t.Fatalf("expected quiet hours to collapse to in_app only, got %v", channels)
	}
}

func TestResolve_OutsideQuietHoursKeepsChannels(t *testing.T) {
	resolver, _, preferences, _ := newTestResolver(t)
	_, _ = preferences.Put(context.Background(), core.NotificationPreferences{
		UserID:     "user-1",
		QuietHours: &core.QuietHours{Start: "22:00", End: "06:00"},
	})

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	targets, err := resolver.Resolve(context.Background(), core.Event{
		Name:       "order.shipped",
		UserID:     "user-1",
		Channels:   []core.Channel{core.ChannelPush, core.ChannelSMS},
		OccurredAt: occurred,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	channels := channelSet(targets)
	if channels[core.ChannelPush] != 1 || channels[core.ChannelSMS] != 1 {
		t.Fatalf("expected both channels outside quiet hours, got %v", channels)
	}
}

func TestResolve_WebhookFanoutCardinality(t *testing.T) {
	resolver, registrations, _, _ := newTestResolver(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := registrations.Create(ctx, core.WebhookRegistration{
			Endpoint: "https://example.com/hooks",
			Events:   []string{"order.shipped"},
			Secret:   "shhh",
			Active:   true,
			RetryPolicy: core.WebhookRetryPolicy{
				MaxAttempts: 5,
				BaseDelay:   time.Second,
			},
		})
		if err != nil {
			t.Fatalf("registration create failed: %v", err)
		}
	}
	_, _ = registrations.Create(ctx, core.WebhookRegistration{
		Endpoint: "https://example.com/other",
		Events:   []string{"user.signup"},
		Secret:   "shhh",
		Active:   true,
	})
	inactive, _ := registrations.Create(ctx, core.WebhookRegistration{
		Endpoint: "https://example.com/inactive",
		Events:   []string{"order.shipped"},
		Secret:   "shhh",
		Active:   false,
	})
	_ = inactive

	targets, err := resolver.Resolve(ctx, core.Event{Name: "order.shipped"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected exactly 3 webhook targets, got %d", len(targets))
	}
	for _, target := range targets {
		if target.Channel != core.ChannelWebhook {
			t.Fatalf("expected webhook channel, got %s", target.Channel)
		}
		if target.MaxAttempts != 5 {
			t.Fatalf("expected registration retry policy carried, got %d", target.MaxAttempts)
		}
		if target.Secret == "" || target.Endpoint == "" {
			t.Fatalf("expected endpoint and secret carried, got %+v", target)
		}
	}
}

func TestResolve_TemplateRendered(t *testing.T) {
	resolver, _, _, templates := newTestResolver(t)
	_ = templates.Put(context.Background(), core.NotificationTemplate{
		Name:  "order.shipped",
		Title: "Order {{order_id}} shipped",
		Body:  "Your order {{order_id}} is on the way",
	})

	targets, err := resolver.Resolve(context.Background(), core.Event{
		Name:     "order.shipped",
		UserID:   "user-1",
		Channels: []core.Channel{core.ChannelEmail},
		Payload:  map[string]any{"order_id": "ord-42"},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected one target, got %d", len(targets))
	}
	if targets[0].Title != "Order ord-42 shipped" {
		t.Fatalf("unexpected rendered title %q", targets[0].Title)
	}
}

func TestResolve_NoUserNoRegistrationsYieldsNothing(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	targets, err := resolver.Resolve(context.Background(), core.Event{Name: "user.signup"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("expected no targets, got %d", len(targets))
	}
}
