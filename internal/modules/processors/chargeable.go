package processors

import (
	"context"
	"fmt"
)

// ChargeableToken is one processor's token for a buyer's payment method.
type ChargeableToken interface {
	ProcessorID() ID
	Fingerprint() string
	Last4() string
	Visual() string
	CardType() string
	ExpiryMonth() int
	ExpiryYear() int
	Country() string
	ZipCode() string
	// PaymentMethodID is the processor's id for this instrument.
	PaymentMethodID() string
	// ReusableToken is the processor customer the method is attached to,
	// empty until the method has been saved.
	ReusableToken() string
	// Prepare makes the token chargeable (e.g. attaches it to a customer).
	Prepare(ctx context.Context) error
}

// MandateRequirer is implemented by tokens whose instrument needs a mandate
// (e.g. Indian cards under RBI e-mandate rules) for recurring charges.
type MandateRequirer interface {
	RequiresMandate() bool
}

// Chargeable is the same physical instrument tokenized on one or more
// processors. Card metadata is read from the first token added.
type Chargeable struct {
	order  []ID
	tokens map[ID]ChargeableToken
}

func NewChargeable(tokens ...ChargeableToken) (*Chargeable, error) {
	c := &Chargeable{tokens: map[ID]ChargeableToken{}}
	for _, t := range tokens {
		if t == nil {
			continue
		}
		if err := c.add(t); err != nil {
			return nil, err
		}
	}
	if len(c.order) == 0 {
		return nil, ErrNoChargeable
	}
	return c, nil
}

func (c *Chargeable) add(t ChargeableToken) error {
	id := t.ProcessorID()
	if _, dup := c.tokens[id]; dup {
		return fmt.Errorf("chargeable: duplicate token for %s", id)
	}
	if len(c.order) > 0 {
		if err := sameInstrument(c.canonical(), t); err != nil {
			return err
		}
	}
	c.order = append(c.order, id)
	c.tokens[id] = t
	return nil
}

// sameInstrument compares the metadata both tokens know about.
func sameInstrument(a, b ChargeableToken) error {
	mismatch := func(field, x, y string) error {
		return fmt.Errorf("%w: %s %q vs %q", ErrChargeableMismatch, field, x, y)
	}
	if a.Last4() != "" && b.Last4() != "" && a.Last4() != b.Last4() {
		return mismatch("last4", a.Last4(), b.Last4())
	}
	if a.ExpiryMonth() != 0 && b.ExpiryMonth() != 0 &&
		(a.ExpiryMonth() != b.ExpiryMonth() || a.ExpiryYear() != b.ExpiryYear()) {
		return mismatch("expiry", fmt.Sprintf("%d/%d", a.ExpiryMonth(), a.ExpiryYear()), fmt.Sprintf("%d/%d", b.ExpiryMonth(), b.ExpiryYear()))
	}
	if a.Country() != "" && b.Country() != "" && a.Country() != b.Country() {
		return mismatch("country", a.Country(), b.Country())
	}
	return nil
}

func (c *Chargeable) canonical() ChargeableToken { return c.tokens[c.order[0]] }

// ChargeableFor returns the token for the processor chosen to run a charge.
func (c *Chargeable) ChargeableFor(id ID) (ChargeableToken, bool) {
	t, ok := c.tokens[id]
	return t, ok
}

func (c *Chargeable) ProcessorIDs() []ID {
	return append([]ID(nil), c.order...)
}

func (c *Chargeable) Fingerprint() string { return c.canonical().Fingerprint() }
func (c *Chargeable) Last4() string       { return c.canonical().Last4() }
func (c *Chargeable) Visual() string      { return c.canonical().Visual() }
func (c *Chargeable) CardType() string    { return c.canonical().CardType() }
func (c *Chargeable) ExpiryMonth() int    { return c.canonical().ExpiryMonth() }
func (c *Chargeable) ExpiryYear() int     { return c.canonical().ExpiryYear() }
func (c *Chargeable) Country() string     { return c.canonical().Country() }
func (c *Chargeable) ZipCode() string     { return c.canonical().ZipCode() }

// ReusableToken is the canonical token's saved customer, if any.
func (c *Chargeable) ReusableToken() string { return c.canonical().ReusableToken() }

// HasReusableToken reports whether any processor already saved the method.
func (c *Chargeable) HasReusableToken() bool {
	for _, id := range c.order {
		if c.tokens[id].ReusableToken() != "" {
			return true
		}
	}
	return false
}

// RequiresMandate is false unless the canonical token supports the check.
func (c *Chargeable) RequiresMandate() bool {
	if m, ok := c.canonical().(MandateRequirer); ok {
		return m.RequiresMandate()
	}
	return false
}

// Prepare prepares every token; the first failure wins.
func (c *Chargeable) Prepare(ctx context.Context) error {
	for _, id := range c.order {
		if err := c.tokens[id].Prepare(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StoredPaymentMethod snapshots the chargeable for later reuse.
func (c *Chargeable) StoredPaymentMethod() StoredPaymentMethod {
	pm := StoredPaymentMethod{
		Fingerprint: c.Fingerprint(),
		Last4:       c.Last4(),
		CardType:    c.CardType(),
		ExpiryMonth: c.ExpiryMonth(),
		ExpiryYear:  c.ExpiryYear(),
		Country:     c.Country(),
		ZipCode:     c.ZipCode(),
	}
	if t, ok := c.tokens[Stripe]; ok {
		pm.StripeCustomerID = t.ReusableToken()
		pm.StripePaymentMethodID = t.PaymentMethodID()
	}
	if t, ok := c.tokens[Braintree]; ok {
		pm.BraintreeCustomerID = t.ReusableToken()
		pm.BraintreePaymentMethodID = t.PaymentMethodID()
	}
	return pm
}
