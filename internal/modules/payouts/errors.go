package payouts

import "errors"

var (
	ErrPaymentNotFound      = errors.New("payout payment not found")
	ErrUnsupportedProcessor = errors.New("unsupported payout processor")

	errPaymentInFlight = errors.New(ReasonPaymentInFlight)
)

// Reasons a payee is left out of a payout run.
const (
	ReasonBankAccount       = "payee has a bank account payout method"
	ReasonPaymentInFlight   = "payee has a payment in flight"
	ReasonInvalidEmail      = "payout email is missing or invalid"
	ReasonMissingCompliance = "payee compliance information is missing"
	ReasonNothingToPay      = "nothing to pay"
)
