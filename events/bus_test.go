package events

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

func TestBus_DeliversToNamedSubscribers(t *testing.T) {
	bus := NewBus()

	var got []core.EngineEvent
	if err := bus.Subscribe(core.EngineEventJobCompleted, func(event core.EngineEvent) {
		got = append(got, event)
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	event := core.EngineEvent{
		Name:       core.EngineEventJobCompleted,
		JobID:      "job-1",
		Lane:       core.LaneNotifications,
		OccurredAt: time.Now().UTC(),
	}
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := bus.Publish(context.Background(), core.EngineEvent{Name: core.EngineEventJobFailed}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected one matched event, got %d", len(got))
	}
	if got[0].JobID != "job-1" {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

func TestBus_WildcardSeesEverything(t *testing.T) {
	bus := NewBus()

	count := 0
	_ = bus.Subscribe("*", func(core.EngineEvent) { count++ })

	_ = bus.Publish(context.Background(), core.EngineEvent{Name: core.EngineEventJobEnqueued})
	_ = bus.Publish(context.Background(), core.EngineEvent{Name: core.EngineEventJobRetried})
	_ = bus.Publish(context.Background(), core.EngineEvent{Name: core.EngineEventJobFailed})

	if count != 3 {
		t.Fatalf("expected wildcard to see 3 events, got %d", count)
	}
}

func TestBus_RejectsNilSubscriber(t *testing.T) {
	bus := NewBus()
	if err := bus.Subscribe("x", nil); err == nil {
		t.Fatalf("expected nil subscriber to be rejected")
	}
}
