package charging

import (
	"errors"
	"time"
)

var (
	ErrOrderNotFound           = errors.New("order has no purchases")
	ErrMerchantAccountMismatch = errors.New("purchases in a seller group target different merchant accounts")
	ErrCurrencyMismatch        = errors.New("purchases in a seller group are priced in different currencies")
	ErrMerchantAccountNotFound = errors.New("merchant account not found")
	ErrChargeNotFound          = errors.New("charge not found")
	ErrRefundExceedsCharge     = errors.New("refund exceeds the charged amount")
	ErrChargeNotRefundable     = errors.New("charge has not succeeded")
	ErrNoPaymentMethod         = errors.New("no payment method provided")
	// a charge another request is still creating
	ErrChargeInFlight = errors.New("charge attempt still in flight")
)

// chargeAttemptWindow bounds how long an in-progress charge without an intent
// is treated as another request's live attempt.
const chargeAttemptWindow = 5 * time.Minute

const scaTimedOutMessage = "Your card was not authenticated in time. Please try again."
