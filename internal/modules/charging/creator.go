package charging

import (
	"context"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

type ChargeRequest struct {
	ChargeID           string
	MerchantAccount    processors.MerchantAccount
	Chargeable         *processors.Chargeable
	AmountCents        int64
	GumroadAmountCents int64
	Currency           string
	Description        string
	SetupFutureCharges bool
	OffSession         bool
	Mandate            *processors.MandateOptions
}

// ChargeCreator creates the processor-side charge for one seller group.
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*processors.ChargeIntent, error)
}

type ProcessorChargeCreator struct {
	dispatcher *processors.Dispatcher
}

func NewProcessorChargeCreator(d *processors.Dispatcher) *ProcessorChargeCreator {
	return &ProcessorChargeCreator{dispatcher: d}
}

// CreateCharge uses the charge id as both reference and idempotency key, so
// a retried request cannot charge twice.
func (c *ProcessorChargeCreator) CreateCharge(ctx context.Context, req ChargeRequest) (*processors.ChargeIntent, error) {
	id := req.MerchantAccount.ProcessorID
	token, ok := req.Chargeable.ChargeableFor(id)
	if !ok {
		return nil, processors.ValidationError(id, "missing_payment_method", "This payment method is not supported for this purchase.")
	}
	return c.dispatcher.CreatePaymentIntentOrCharge(ctx, id, processors.CreateChargeRequest{
		MerchantAccount:      req.MerchantAccount,
		Token:                token,
		AmountCents:          req.AmountCents,
		GumroadAmountCents:   req.GumroadAmountCents,
		Currency:             req.Currency,
		Reference:            req.ChargeID,
		Description:          req.Description,
		StatementDescription: req.Description,
		IdempotencyKey:       req.ChargeID,
		SetupFutureCharges:   req.SetupFutureCharges,
		OffSession:           req.OffSession,
		MandateOptions:       req.Mandate,
	})
}
