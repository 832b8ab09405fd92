package transport

import (
	"context"
	"testing"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/signature"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewLoopbackTransport(core.ChannelPush)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	transport, ok := registry.Resolve(core.ChannelPush)
	if !ok {
		t.Fatalf("expected push transport resolved")
	}
	if transport.Channel() != core.ChannelPush {
		t.Fatalf("unexpected channel %q", transport.Channel())
	}
	if _, ok := registry.Resolve(core.ChannelSMS); ok {
		t.Fatalf("expected unregistered channel to miss")
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewLoopbackTransport(core.ChannelEmail)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register(NewLoopbackTransport(core.ChannelEmail)); err == nil {
		t.Fatalf("expected duplicate registration to be rejected")
	}
}

func TestRegistry_ReplaceSwapsTransport(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewLoopbackTransport(core.ChannelSMS)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	replacement, err := NewProviderTransport(core.ChannelSMS, func(ctx context.Context, target core.DeliveryTarget) (core.SendResult, error) {
		return core.SendResult{ProviderID: "twilio"}, nil
	})
	if err != nil {
		t.Fatalf("provider transport build failed: %v", err)
	}
	if err := registry.Replace(replacement); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	resolved, ok := registry.Resolve(core.ChannelSMS)
	if !ok {
		t.Fatalf("expected sms transport resolved")
	}
	result, err := resolved.Send(context.Background(), core.DeliveryTarget{Recipient: "+15550100", Event: "x"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if result.ProviderID != "twilio" {
		t.Fatalf("expected replacement transport used, got %+v", result)
	}
}

func TestRegistry_DefaultCoversEveryChannel(t *testing.T) {
	registry := NewDefaultRegistry(signature.NewHMACSigner(), core.DefaultConfig().Webhook)
	for _, channel := range append(core.NotificationChannels(), core.ChannelWebhook) {
		if _, ok := registry.Resolve(channel); !ok {
			t.Fatalf("expected default registry to cover %s", channel)
		}
	}
	if got := len(registry.List()); got != 6 {
		t.Fatalf("expected 6 transports, got %d", got)
	}
}
