package processors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors/processortest"
)

func newDispatcher(t *testing.T, ps ...processors.Processor) *processors.Dispatcher {
	t.Helper()
	reg, err := processors.NewRegistry(ps...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return processors.NewDispatcher(reg)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := processors.NewRegistry(processortest.New(processors.Stripe), processortest.New(processors.Stripe))
	if !errors.Is(err, processors.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestDispatcherUnknownProcessor(t *testing.T) {
	d := newDispatcher(t, processortest.New(processors.Stripe))
	ctx := context.Background()

	if _, err := d.GetCharge(ctx, processors.Braintree, processors.MerchantAccount{}, "ch_1"); !errors.Is(err, processors.ErrUnknownProcessor) {
		t.Fatalf("expected ErrUnknownProcessor, got %v", err)
	}
	if _, err := d.Refund(ctx, "nope", processors.RefundRequest{}); !errors.Is(err, processors.ErrUnknownProcessor) {
		t.Fatalf("expected ErrUnknownProcessor, got %v", err)
	}
	if _, err := d.TransactionURL("nope", processors.MerchantAccount{}, "ch"); !errors.Is(err, processors.ErrUnknownProcessor) {
		t.Fatalf("expected ErrUnknownProcessor, got %v", err)
	}
}

func TestDispatcherChargeableForParams(t *testing.T) {
	stripe := processortest.New(processors.Stripe)
	stripe.TokenForParams = func(p processors.CheckoutParams) processors.ChargeableToken {
		if p.StripePaymentMethodID == "" {
			return nil
		}
		return card(processors.Stripe)
	}
	bt := processortest.New(processors.Braintree)
	bt.TokenForParams = func(p processors.CheckoutParams) processors.ChargeableToken {
		if p.BraintreeNonce == "" {
			return nil
		}
		return card(processors.Braintree)
	}
	d := newDispatcher(t, stripe, bt)
	ctx := context.Background()

	c, err := d.ChargeableForParams(ctx, processors.CheckoutParams{StripePaymentMethodID: "pm_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids := c.ProcessorIDs(); len(ids) != 1 || ids[0] != processors.Stripe {
		t.Fatalf("expected only stripe token, got %v", ids)
	}

	if _, err := d.ChargeableForParams(ctx, processors.CheckoutParams{}); !errors.Is(err, processors.ErrNoChargeable) {
		t.Fatalf("expected ErrNoChargeable, got %v", err)
	}
}

func TestDispatcherCreateRequiresToken(t *testing.T) {
	d := newDispatcher(t, processortest.New(processors.Stripe))
	_, err := d.CreatePaymentIntentOrCharge(context.Background(), processors.Stripe, processors.CreateChargeRequest{AmountCents: 100})
	if !errors.Is(err, processors.ErrMissingPaymentMethod) {
		t.Fatalf("expected ErrMissingPaymentMethod, got %v", err)
	}
}

func TestDispatcherForwards(t *testing.T) {
	fake := processortest.New(processors.Stripe)
	d := newDispatcher(t, fake)

	ci, err := d.CreatePaymentIntentOrCharge(context.Background(), processors.Stripe, processors.CreateChargeRequest{
		Token:       card(processors.Stripe),
		AmountCents: 1500,
		Currency:    "usd",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ci.Succeeded() || ci.Charge.AmountCents != 1500 {
		t.Fatalf("unexpected intent: %+v", ci)
	}
	if fake.CreateCount() != 1 {
		t.Fatalf("expected one create, got %d", fake.CreateCount())
	}
	statuses, _ := d.SuccessStatuses(processors.Stripe)
	if len(statuses) != 1 || statuses[0] != "succeeded" {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
}
