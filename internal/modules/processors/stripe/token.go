package stripe

import (
	"context"
	"strings"

	stripego "github.com/stripe/stripe-go/v74"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

// Token is a Stripe PaymentMethod, optionally attached to a Customer.
type Token struct {
	api api

	paymentMethodID string
	customerID      string
	fingerprint     string
	last4           string
	brand           string
	expMonth        int
	expYear         int
	country         string
	zip             string
}

func (t *Token) ProcessorID() processors.ID { return processors.Stripe }
func (t *Token) Fingerprint() string        { return t.fingerprint }
func (t *Token) Last4() string              { return t.last4 }
func (t *Token) Visual() string             { return "**** **** **** " + t.last4 }
func (t *Token) CardType() string           { return t.brand }
func (t *Token) ExpiryMonth() int           { return t.expMonth }
func (t *Token) ExpiryYear() int            { return t.expYear }
func (t *Token) Country() string            { return t.country }
func (t *Token) ZipCode() string            { return t.zip }
func (t *Token) PaymentMethodID() string    { return t.paymentMethodID }
func (t *Token) ReusableToken() string      { return t.customerID }

// RequiresMandate reports cards issued in India, where recurring charges
// need an e-mandate.
func (t *Token) RequiresMandate() bool { return strings.EqualFold(t.country, "IN") }

// Prepare attaches the payment method to a new customer so it can be charged
// again later.
func (t *Token) Prepare(ctx context.Context) error {
	if t.customerID != "" {
		return nil
	}
	params := &stripego.CustomerParams{PaymentMethod: stripego.String(t.paymentMethodID)}
	params.Context = ctx
	cus, err := t.api.newCustomer(params)
	if err != nil {
		return mapError(err)
	}
	t.customerID = cus.ID
	return nil
}

func tokenFromPaymentMethod(a api, pm *stripego.PaymentMethod, customerID, zip string) *Token {
	t := &Token{api: a, paymentMethodID: pm.ID, customerID: customerID, zip: zip}
	if pm.Customer != nil && t.customerID == "" {
		t.customerID = pm.Customer.ID
	}
	if c := pm.Card; c != nil {
		t.fingerprint = c.Fingerprint
		t.last4 = c.Last4
		t.brand = string(c.Brand)
		t.expMonth = int(c.ExpMonth)
		t.expYear = int(c.ExpYear)
		t.country = c.Country
	}
	if pm.BillingDetails != nil && pm.BillingDetails.Address != nil && t.zip == "" {
		t.zip = pm.BillingDetails.Address.PostalCode
	}
	return t
}
