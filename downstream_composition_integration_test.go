package dispatch_test

import (
	"context"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	dispatch "github.com/goliatone/go-dispatch"
	dispatchcommand "github.com/goliatone/go-dispatch/command"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/devkit"
	"github.com/goliatone/go-dispatch/fanout"
	dispatchquery "github.com/goliatone/go-dispatch/query"
	"github.com/goliatone/go-dispatch/queue"
	"github.com/goliatone/go-dispatch/signature"
	"github.com/goliatone/go-dispatch/tracker"
	"github.com/goliatone/go-dispatch/transport"
)

// Composes the engine the way a downstream host does: memory stores, a
// transport pack contributed through extension hooks, and the command/query
// facade on top. The event travels dispatch -> claim -> delivery -> history
// without touching engine internals.
func TestDownstreamComposition_DispatchesThroughContributedTransport(t *testing.T) {
	ctx := context.Background()
	cfg := dispatch.DefaultConfig()

	jobStore := devkit.NewMemoryJobStore()
	registrations := devkit.NewMemoryRegistrationStore()
	preferences := devkit.NewMemoryPreferenceStore()
	attempts := devkit.NewMemoryAttemptStore()
	templates := core.NewMemoryTemplateStore()

	pushTransport := devkit.NewFakeTransport(core.ChannelPush)
	hooks := dispatch.NewExtensionHooks()
	if err := hooks.RegisterTransportPack(dispatch.TransportPack{
		Name:       "push-pack",
		Transports: []core.Transport{pushTransport},
	}); err != nil {
		t.Fatalf("register transport pack: %v", err)
	}
	if err := hooks.RegisterTemplatePack(dispatch.TemplatePack{
		Name: "order-pack",
		Templates: []core.NotificationTemplate{
			{
				Name:     "order.shipped",
				Channels: []core.Channel{core.ChannelPush},
				Title:    "Order shipped",
				Body:     "Order {{order_id}} left the warehouse",
			},
		},
	}); err != nil {
		t.Fatalf("register template pack: %v", err)
	}

	registry := transport.NewRegistry()
	if err := hooks.ApplyTransportPacks(registry); err != nil {
		t.Fatalf("apply transport packs: %v", err)
	}
	if err := hooks.ApplyTemplatePacks(ctx, templates); err != nil {
		t.Fatalf("apply template packs: %v", err)
	}

	q := queue.New(jobStore, cfg)
	svc, err := dispatch.NewService(cfg,
		dispatch.WithJobStore(jobStore),
		dispatch.WithRegistrationStore(registrations),
		dispatch.WithPreferenceStore(preferences),
		dispatch.WithTemplateStore(templates),
		dispatch.WithEnqueuer(q),
		dispatch.WithTargetResolver(fanout.NewResolver(registrations, preferences, templates)),
		dispatch.WithDeliveryTracker(tracker.New(attempts)),
		dispatch.WithTransportResolver(registry),
		dispatch.WithSigner(signature.NewHMACSigner()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	facade, err := dispatch.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	collector := gocmd.NewResult[core.DispatchReceipt]()
	err = facade.Commands().DispatchEvent.Execute(
		gocmd.ContextWithResult(ctx, collector),
		dispatchcommand.DispatchEventMessage{Event: core.Event{
			Name:     "order.shipped",
			UserID:   "user-1",
			Channels: []core.Channel{core.ChannelPush},
			Payload:  map[string]any{"order_id": "ord_1"},
		}},
	)
	if err != nil {
		t.Fatalf("dispatch event: %v", err)
	}
	receipt, ok := collector.Load()
	if !ok {
		t.Fatalf("expected dispatch receipt")
	}
	if len(receipt.Jobs) != 1 || receipt.Jobs[0].Channel != core.ChannelPush {
		t.Fatalf("unexpected receipt: %#v", receipt)
	}

	claimed, err := jobStore.Claim(ctx, core.LaneNotifications, "worker-1", time.Now().UTC(), 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.HandleDelivery(ctx, claimed); err != nil {
		t.Fatalf("handle delivery: %v", err)
	}

	sent := pushTransport.Sent()
	if len(sent) != 1 || sent[0].Recipient != "user-1" {
		t.Fatalf("unexpected transport deliveries: %#v", sent)
	}
	if sent[0].Title != "Order shipped" || sent[0].Body != "Order ord_1 left the warehouse" {
		t.Fatalf("unexpected rendered content: %#v", sent[0])
	}

	history, err := facade.Queries().DeliveryHistory.Query(ctx, dispatchquery.DeliveryHistoryMessage{
		Filter: core.AttemptFilter{JobID: claimed.ID},
	})
	if err != nil {
		t.Fatalf("delivery history: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != core.AttemptOutcomeSuccess {
		t.Fatalf("unexpected history: %#v", history)
	}
}
