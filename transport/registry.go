// Package transport holds the channel transports the engine delivers
// through. Each transport owns exactly one channel; the registry maps
// channels to transports for the delivery handler.
package transport

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-dispatch/core"
)

type Registry struct {
	mu         sync.RWMutex
	transports map[core.Channel]core.Transport
}

func NewRegistry() *Registry {
	return &Registry{
		transports: map[core.Channel]core.Transport{},
	}
}

// NewDefaultRegistry wires a transport for every channel: a real HTTP webhook
// transport and loopback transports for the notification channels. Callers
// replace individual entries with provider-backed transports as needed.
func NewDefaultRegistry(signer core.Signer, cfg core.WebhookConfig) *Registry {
	registry := NewRegistry()
	_ = registry.Register(NewWebhookTransport(signer, cfg))
	for _, channel := range core.NotificationChannels() {
		_ = registry.Register(NewLoopbackTransport(channel))
	}
	return registry
}

func (r *Registry) Register(transport core.Transport) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if transport == nil {
		return fmt.Errorf("transport: transport is nil")
	}
	channel := transport.Channel()
	if err := channel.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transports[channel]; exists {
		return fmt.Errorf("transport: channel %q already registered", channel)
	}
	r.transports[channel] = transport
	return nil
}

// Replace swaps the transport for a channel, registering it if absent.
func (r *Registry) Replace(transport core.Transport) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if transport == nil {
		return fmt.Errorf("transport: transport is nil")
	}
	channel := transport.Channel()
	if err := channel.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[channel] = transport
	return nil
}

func (r *Registry) Resolve(channel core.Channel) (core.Transport, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	transport, ok := r.transports[channel]
	return transport, ok
}

func (r *Registry) List() []core.Transport {
	if r == nil {
		return []core.Transport{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]string, 0, len(r.transports))
	for channel := range r.transports {
		channels = append(channels, string(channel))
	}
	sort.Strings(channels)
	result := make([]core.Transport, 0, len(channels))
	for _, channel := range channels {
		result = append(result, r.transports[core.Channel(channel)])
	}
	return result
}

var _ core.TransportResolver = (*Registry)(nil)
