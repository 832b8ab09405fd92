// Package events publishes engine lifecycle events to interested consumers,
// either in-process or over Kafka.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-dispatch/core"
)

type Subscriber func(event core.EngineEvent)

// Bus is an in-process fan-out publisher. Subscribers run synchronously on
// the publishing goroutine; keep them cheap.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber
}

func NewBus() *Bus {
	return &Bus{subscribers: map[string][]Subscriber{}}
}

// Subscribe registers a callback for one event name; "*" receives everything.
func (b *Bus) Subscribe(name string, subscriber Subscriber) error {
	if b == nil {
		return fmt.Errorf("events: bus is nil")
	}
	if subscriber == nil {
		return fmt.Errorf("events: subscriber is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = append(b.subscribers[name], subscriber)
	return nil
}

func (b *Bus) Publish(_ context.Context, event core.EngineEvent) error {
	if b == nil {
		return fmt.Errorf("events: bus is nil")
	}
	b.mu.RLock()
	matched := append([]Subscriber(nil), b.subscribers[event.Name]...)
	matched = append(matched, b.subscribers["*"]...)
	b.mu.RUnlock()

	for _, subscriber := range matched {
		subscriber(event)
	}
	return nil
}

var _ core.EventPublisher = (*Bus)(nil)
