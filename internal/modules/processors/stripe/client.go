package stripe

import (
	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// api is the subset of the Stripe API the processor calls.
type api interface {
	getPaymentMethod(id string, params *stripego.PaymentMethodParams) (*stripego.PaymentMethod, error)
	newCustomer(params *stripego.CustomerParams) (*stripego.Customer, error)

	newPaymentIntent(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	getPaymentIntent(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	confirmPaymentIntent(id string, params *stripego.PaymentIntentConfirmParams) (*stripego.PaymentIntent, error)
	cancelPaymentIntent(id string, params *stripego.PaymentIntentCancelParams) (*stripego.PaymentIntent, error)

	newSetupIntent(params *stripego.SetupIntentParams) (*stripego.SetupIntent, error)
	getSetupIntent(id string, params *stripego.SetupIntentParams) (*stripego.SetupIntent, error)
	cancelSetupIntent(id string, params *stripego.SetupIntentCancelParams) (*stripego.SetupIntent, error)

	getCharge(id string, params *stripego.ChargeParams) (*stripego.Charge, error)
	listCharges(params *stripego.ChargeListParams) ([]*stripego.Charge, error)
	newRefund(params *stripego.RefundParams) (*stripego.Refund, error)
	updateDispute(id string, params *stripego.DisputeParams) (*stripego.Dispute, error)
}

type clientAPI struct {
	sc *client.API
}

func newClientAPI(secretKey string) *clientAPI {
	return &clientAPI{sc: client.New(secretKey, nil)}
}

func (c *clientAPI) getPaymentMethod(id string, params *stripego.PaymentMethodParams) (*stripego.PaymentMethod, error) {
	return c.sc.PaymentMethods.Get(id, params)
}

func (c *clientAPI) newCustomer(params *stripego.CustomerParams) (*stripego.Customer, error) {
	return c.sc.Customers.New(params)
}

func (c *clientAPI) newPaymentIntent(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	return c.sc.PaymentIntents.New(params)
}

func (c *clientAPI) getPaymentIntent(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	return c.sc.PaymentIntents.Get(id, params)
}

func (c *clientAPI) confirmPaymentIntent(id string, params *stripego.PaymentIntentConfirmParams) (*stripego.PaymentIntent, error) {
	return c.sc.PaymentIntents.Confirm(id, params)
}

func (c *clientAPI) cancelPaymentIntent(id string, params *stripego.PaymentIntentCancelParams) (*stripego.PaymentIntent, error) {
	return c.sc.PaymentIntents.Cancel(id, params)
}

func (c *clientAPI) newSetupIntent(params *stripego.SetupIntentParams) (*stripego.SetupIntent, error) {
	return c.sc.SetupIntents.New(params)
}

func (c *clientAPI) getSetupIntent(id string, params *stripego.SetupIntentParams) (*stripego.SetupIntent, error) {
	return c.sc.SetupIntents.Get(id, params)
}

func (c *clientAPI) cancelSetupIntent(id string, params *stripego.SetupIntentCancelParams) (*stripego.SetupIntent, error) {
	return c.sc.SetupIntents.Cancel(id, params)
}

func (c *clientAPI) getCharge(id string, params *stripego.ChargeParams) (*stripego.Charge, error) {
	return c.sc.Charges.Get(id, params)
}

func (c *clientAPI) listCharges(params *stripego.ChargeListParams) ([]*stripego.Charge, error) {
	var out []*stripego.Charge
	it := c.sc.Charges.List(params)
	for it.Next() {
		out = append(out, it.Charge())
	}
	return out, it.Err()
}

func (c *clientAPI) newRefund(params *stripego.RefundParams) (*stripego.Refund, error) {
	return c.sc.Refunds.New(params)
}

func (c *clientAPI) updateDispute(id string, params *stripego.DisputeParams) (*stripego.Dispute, error) {
	return c.sc.Disputes.Update(id, params)
}
