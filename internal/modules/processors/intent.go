package processors

import "time"

// SCATimeout bounds how long a purchase may wait for the buyer to finish
// Strong Customer Authentication. One re-check runs after it; no retries.
const SCATimeout = 15 * time.Minute

type IntentState string

const (
	IntentInProgress     IntentState = "in_progress"
	IntentRequiresAction IntentState = "requires_action"
	IntentSucceeded      IntentState = "succeeded"
	IntentCanceled       IntentState = "canceled"
)

func (s IntentState) Terminal() bool {
	return s == IntentSucceeded || s == IntentCanceled
}

type ChargeIntent struct {
	ID           string
	ClientSecret string
	State        IntentState
	// Charge is set once money moved.
	Charge *Charge
}

func (ci *ChargeIntent) Succeeded() bool      { return ci != nil && ci.State == IntentSucceeded }
func (ci *ChargeIntent) RequiresAction() bool { return ci != nil && ci.State == IntentRequiresAction }
func (ci *ChargeIntent) Canceled() bool       { return ci != nil && ci.State == IntentCanceled }

type SetupIntent struct {
	ID           string
	ClientSecret string
	State        IntentState
	// PaymentMethodID is the reusable method the setup produced.
	PaymentMethodID string
	CustomerID      string
}

func (si *SetupIntent) Succeeded() bool      { return si != nil && si.State == IntentSucceeded }
func (si *SetupIntent) RequiresAction() bool { return si != nil && si.State == IntentRequiresAction }

// SucceededChargeIntent wraps a charge from a processor without an intent
// concept; such processors either succeed immediately or return an error.
func SucceededChargeIntent(c *Charge) *ChargeIntent {
	id := ""
	if c != nil {
		id = c.ID
	}
	return &ChargeIntent{ID: id, State: IntentSucceeded, Charge: c}
}

// SucceededSetupIntent is the synchronous counterpart for setups.
func SucceededSetupIntent(paymentMethodID, customerID string) *SetupIntent {
	return &SetupIntent{ID: paymentMethodID, State: IntentSucceeded, PaymentMethodID: paymentMethodID, CustomerID: customerID}
}
