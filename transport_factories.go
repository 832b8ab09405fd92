package dispatch

import (
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/signature"
	"github.com/goliatone/go-dispatch/transport"
)

// Convenience constructors for the built-in channel transports. Hosts that
// plug in real provider SDKs hand the delivery function to the matching
// factory and register the result through ExtensionHooks.

func PushTransport(deliver transport.ProviderFunc) (core.Transport, error) {
	return transport.NewProviderTransport(core.ChannelPush, deliver)
}

func SMSTransport(deliver transport.ProviderFunc) (core.Transport, error) {
	return transport.NewProviderTransport(core.ChannelSMS, deliver)
}

func EmailTransport(deliver transport.ProviderFunc) (core.Transport, error) {
	return transport.NewProviderTransport(core.ChannelEmail, deliver)
}

func WebPushTransport(deliver transport.ProviderFunc) (core.Transport, error) {
	return transport.NewProviderTransport(core.ChannelWebPush, deliver)
}

func InAppTransport(deliver transport.ProviderFunc) (core.Transport, error) {
	return transport.NewProviderTransport(core.ChannelInApp, deliver)
}

func WebhookTransport(signer core.Signer, cfg core.WebhookConfig) core.Transport {
	return transport.NewWebhookTransport(signer, cfg)
}

func LoopbackTransport(channel core.Channel) core.Transport {
	return transport.NewLoopbackTransport(channel)
}

// DefaultTransportRegistry wires the webhook transport with the stock HMAC
// signer plus loopback transports for every user-facing channel.
func DefaultTransportRegistry(cfg core.WebhookConfig) *transport.Registry {
	return transport.NewDefaultRegistry(signature.NewHMACSigner(), cfg)
}
