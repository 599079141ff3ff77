package charging

import (
	"context"
	"testing"

	"github.com/zandy2test/gumroad-sub037/internal/events"
	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/modules/purchases"
)

func TestEventConsumerResolvesPendingCharge(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("charge: %v", err)
	}

	bus := events.NewBus()
	NewEventConsumer(f.orch).Subscribe(bus)

	ev := processors.ChargeEvent{
		ProcessorID:     processors.Stripe,
		EventID:         "evt_1",
		ChargeID:        "ch_late",
		PaymentIntentID: "pi_sca",
		Type:            processors.EventChargeSucceeded,
		FlowOfFunds:     flowoffunds.BuildSimple("usd", 1000),
	}
	for i := 0; i < 2; i++ {
		if err := bus.Publish(ctx, events.TopicChargeEvent, ev); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	if p := f.purchase(t, a.ID); p.State != purchases.StateSuccessful {
		t.Fatalf("expected purchase successful, got %s", p.State)
	}
	c := f.charges(t, "order")[0]
	if c.State != ChargeSucceeded || *c.ProcessorTransactionID != "ch_late" {
		t.Fatalf("unexpected charge: %+v", c)
	}
}

func TestEventConsumerIntentFailed(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	charge := f.charges(t, "order")[0]

	err := NewEventConsumer(f.orch).Handle(ctx, processors.ChargeEvent{
		ProcessorID:     processors.Stripe,
		ChargeReference: charge.ID,
		Type:            processors.EventPaymentIntentFailed,
		Comment:         "Your card was declined.",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	p := f.purchase(t, a.ID)
	if p.State != purchases.StateFailed || *p.ErrorMessage != "Your card was declined." {
		t.Fatalf("unexpected purchase: %+v", p)
	}
}

func TestEventConsumerFlagsDispute(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	charge := f.charges(t, "order")[0]

	err := NewEventConsumer(f.orch).Handle(ctx, processors.ChargeEvent{
		ProcessorID: processors.Stripe,
		ChargeID:    *charge.ProcessorTransactionID,
		Type:        processors.EventDisputeFormalized,
		FlowOfFunds: flowoffunds.BuildSimple("usd", -1000),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	c := f.charges(t, "order")[0]
	if !c.Disputed || c.DisputeState == nil || *c.DisputeState != string(processors.EventDisputeFormalized) {
		t.Fatalf("expected disputed charge, got %+v", c)
	}
	if p := f.purchase(t, a.ID); p.State != purchases.StateSuccessful {
		t.Fatalf("a dispute does not undo the purchase, got %s", p.State)
	}
}

func TestEventConsumerIgnoresUnknownCharges(t *testing.T) {
	f := newFixture(t)
	err := NewEventConsumer(f.orch).Handle(context.Background(), processors.ChargeEvent{
		ProcessorID: processors.Stripe,
		ChargeID:    "ch_elsewhere",
		Type:        processors.EventDisputeLost,
	})
	if err != nil {
		t.Fatalf("expected unknown charge to be ignored, got %v", err)
	}
	if err := NewEventConsumer(f.orch).Handle(context.Background(), "not an event"); err == nil {
		t.Fatalf("expected error for a foreign payload")
	}
}
