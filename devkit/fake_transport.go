package devkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-dispatch/core"
)

type TransportScript struct {
	Result core.SendResult
	Err    error
}

// FakeTransport replays scripted results in order; once scripts run out the
// last one repeats. With no scripts every send succeeds.
type FakeTransport struct {
	mu      sync.Mutex
	channel core.Channel
	scripts []TransportScript
	sent    []core.DeliveryTarget
}

func NewFakeTransport(channel core.Channel, scripts ...TransportScript) *FakeTransport {
	return &FakeTransport{
		channel: channel,
		scripts: append([]TransportScript(nil), scripts...),
	}
}

func (t *FakeTransport) Channel() core.Channel {
	if t == nil {
		return ""
	}
	return t.channel
}

func (t *FakeTransport) Send(_ context.Context, target core.DeliveryTarget) (core.SendResult, error) {
	if t == nil {
		return core.SendResult{}, fmt.Errorf("devkit: fake transport is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = append(t.sent, cloneTarget(target))
	index := len(t.sent) - 1
	if index < len(t.scripts) {
		script := t.scripts[index]
		return script.Result, script.Err
	}
	if len(t.scripts) > 0 {
		last := t.scripts[len(t.scripts)-1]
		return last.Result, last.Err
	}
	return core.SendResult{HTTPStatus: 200, ProviderID: "fake"}, nil
}

func (t *FakeTransport) Sent() []core.DeliveryTarget {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.DeliveryTarget, 0, len(t.sent))
	for _, target := range t.sent {
		out = append(out, cloneTarget(target))
	}
	return out
}

func cloneTarget(in core.DeliveryTarget) core.DeliveryTarget {
	out := in
	if in.Payload != nil {
		out.Payload = make(map[string]any, len(in.Payload))
		for key, value := range in.Payload {
			out.Payload[key] = value
		}
	}
	if in.Headers != nil {
		out.Headers = make(map[string]string, len(in.Headers))
		for key, value := range in.Headers {
			out.Headers[key] = value
		}
	}
	return out
}

// CapturePublisher records engine events for assertions.
type CapturePublisher struct {
	mu     sync.Mutex
	events []core.EngineEvent
}

func NewCapturePublisher() *CapturePublisher {
	return &CapturePublisher{}
}

func (p *CapturePublisher) Publish(_ context.Context, event core.EngineEvent) error {
	if p == nil {
		return fmt.Errorf("devkit: capture publisher is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *CapturePublisher) Events() []core.EngineEvent {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.EngineEvent(nil), p.events...)
}

var (
	_ core.Transport      = (*FakeTransport)(nil)
	_ core.EventPublisher = (*CapturePublisher)(nil)
)
