package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
)

// ProviderFunc adapts a provider SDK call into a transport. The engine stays
// provider-agnostic: swap the func, keep the channel semantics.
type ProviderFunc func(ctx context.Context, target core.DeliveryTarget) (core.SendResult, error)

type ProviderTransport struct {
	channel core.Channel
	deliver ProviderFunc
}

func NewProviderTransport(channel core.Channel, deliver ProviderFunc) (*ProviderTransport, error) {
	if err := channel.Validate(); err != nil {
		return nil, err
	}
	if deliver == nil {
		return nil, fmt.Errorf("transport: provider func is required")
	}
	return &ProviderTransport{channel: channel, deliver: deliver}, nil
}

func (t *ProviderTransport) Channel() core.Channel {
	if t == nil {
		return ""
	}
	return t.channel
}

func (t *ProviderTransport) Send(ctx context.Context, target core.DeliveryTarget) (core.SendResult, error) {
	if t == nil || t.deliver == nil {
		return core.SendResult{}, fmt.Errorf("transport: provider transport is not configured")
	}
	if strings.TrimSpace(target.Recipient) == "" {
		return core.SendResult{}, fmt.Errorf("%w: recipient is required", core.ErrPermanentDelivery)
	}
	return t.deliver(ctx, target)
}

// LoopbackTransport accepts every delivery and logs it. It backs channels
// without a provider wired yet; in-app delivery uses it in production too,
// since the attempt history doubles as the user's inbox.
type LoopbackTransport struct {
	channel core.Channel
	Logger  core.Logger
	Delay   time.Duration
}

func NewLoopbackTransport(channel core.Channel) *LoopbackTransport {
	return &LoopbackTransport{
		channel: channel,
		Logger:  glog.Nop(),
	}
}

func (t *LoopbackTransport) Channel() core.Channel {
	if t == nil {
		return ""
	}
	return t.channel
}

func (t *LoopbackTransport) Send(ctx context.Context, target core.DeliveryTarget) (core.SendResult, error) {
	if t == nil {
		return core.SendResult{}, fmt.Errorf("transport: loopback transport is nil")
	}
	if strings.TrimSpace(target.Recipient) == "" {
		return core.SendResult{}, fmt.Errorf("%w: recipient is required", core.ErrPermanentDelivery)
	}
	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return core.SendResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	if t.Logger != nil {
		t.Logger.Info("loopback delivery",
			"channel", string(t.channel),
			"recipient", target.Recipient,
			"event", target.Event,
		)
	}
	return core.SendResult{HTTPStatus: 200, ProviderID: "loopback"}, nil
}

var (
	_ core.Transport = (*ProviderTransport)(nil)
	_ core.Transport = (*LoopbackTransport)(nil)
)
