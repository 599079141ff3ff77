package processors

import (
	"context"
	"fmt"
)

// Dispatcher routes each operation to the processor selected by id.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r}
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

func (d *Dispatcher) processor(id ID) (Processor, error) {
	p, ok := d.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, id)
	}
	return p, nil
}

// ChargeableForParams tokenizes checkout params on every processor that can
// read them. Processors returning no token are skipped.
func (d *Dispatcher) ChargeableForParams(ctx context.Context, params CheckoutParams) (*Chargeable, error) {
	var tokens []ChargeableToken
	for _, p := range d.registry.All() {
		t, err := p.ChargeableForParams(ctx, params)
		if err != nil {
			return nil, err
		}
		if t != nil {
			tokens = append(tokens, t)
		}
	}
	return NewChargeable(tokens...)
}

// ChargeableForData rebuilds a chargeable from a saved payment method,
// skipping processors that hold no reusable token for it.
func (d *Dispatcher) ChargeableForData(ctx context.Context, pm StoredPaymentMethod) (*Chargeable, error) {
	var tokens []ChargeableToken
	for _, p := range d.registry.All() {
		t, err := p.ChargeableForData(ctx, pm)
		if err != nil {
			return nil, err
		}
		if t != nil {
			tokens = append(tokens, t)
		}
	}
	return NewChargeable(tokens...)
}

func (d *Dispatcher) SuccessStatuses(id ID) ([]string, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	return p.SuccessStatuses(), nil
}

func (d *Dispatcher) GetCharge(ctx context.Context, id ID, ma MerchantAccount, chargeID string) (*Charge, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	return p.GetCharge(ctx, ma, chargeID)
}

func (d *Dispatcher) SearchCharge(ctx context.Context, id ID, params SearchChargeParams) (*Charge, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	return p.SearchCharge(ctx, params)
}

func (d *Dispatcher) GetChargeIntent(ctx context.Context, id ID, ma MerchantAccount, intentID string) (*ChargeIntent, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	return p.GetChargeIntent(ctx, ma, intentID)
}

func (d *Dispatcher) GetSetupIntent(ctx context.Context, id ID, ma MerchantAccount, intentID string) (*SetupIntent, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	return p.GetSetupIntent(ctx, ma, intentID)
}

func (d *Dispatcher) SetupFutureCharges(ctx context.Context, id ID, ma MerchantAccount, c *Chargeable, mandate *MandateOptions) (*SetupIntent, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	t, ok := c.ChargeableFor(id)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrMissingPaymentMethod, id)
	}
	return p.SetupFutureCharges(ctx, ma, t, mandate)
}

func (d *Dispatcher) CreatePaymentIntentOrCharge(ctx context.Context, id ID, req CreateChargeRequest) (*ChargeIntent, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	if req.Token == nil {
		return nil, fmt.Errorf("%w for %s", ErrMissingPaymentMethod, id)
	}
	return p.CreatePaymentIntentOrCharge(ctx, req)
}

func (d *Dispatcher) ConfirmPaymentIntent(ctx context.Context, id ID, ma MerchantAccount, intentID string) (*ChargeIntent, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	return p.ConfirmPaymentIntent(ctx, ma, intentID)
}

func (d *Dispatcher) CancelPaymentIntent(ctx context.Context, id ID, ma MerchantAccount, intentID string) error {
	p, err := d.processor(id)
	if err != nil {
		return err
	}
	return p.CancelPaymentIntent(ctx, ma, intentID)
}

func (d *Dispatcher) CancelSetupIntent(ctx context.Context, id ID, ma MerchantAccount, intentID string) error {
	p, err := d.processor(id)
	if err != nil {
		return err
	}
	return p.CancelSetupIntent(ctx, ma, intentID)
}

func (d *Dispatcher) Refund(ctx context.Context, id ID, req RefundRequest) (*ChargeRefund, error) {
	p, err := d.processor(id)
	if err != nil {
		return nil, err
	}
	return p.Refund(ctx, req)
}

func (d *Dispatcher) FightChargeback(ctx context.Context, id ID, ma MerchantAccount, evidence DisputeEvidence) error {
	p, err := d.processor(id)
	if err != nil {
		return err
	}
	return p.FightChargeback(ctx, ma, evidence)
}

func (d *Dispatcher) HolderOfFunds(id ID, ma MerchantAccount) (HolderOfFunds, error) {
	p, err := d.processor(id)
	if err != nil {
		return "", err
	}
	return p.HolderOfFunds(ma), nil
}

func (d *Dispatcher) TransactionURL(id ID, ma MerchantAccount, chargeID string) (string, error) {
	p, err := d.processor(id)
	if err != nil {
		return "", err
	}
	return p.TransactionURL(ma, chargeID), nil
}
