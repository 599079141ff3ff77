package charging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

type RefundInput struct {
	ChargeID string
	// AmountCents of zero refunds whatever is left on the charge.
	AmountCents    int64
	Reason         string
	IdempotencyKey string
}

// RefundCharge refunds a succeeded charge through its processor. Repeating a
// call with the same idempotency key returns the first refund.
func (o *Orchestrator) RefundCharge(ctx context.Context, in RefundInput) (ChargeRefund, error) {
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	var existing ChargeRefund
	err := o.db.WithContext(ctx).First(&existing, "charge_id = ? AND idempotency_key = ?", in.ChargeID, in.IdempotencyKey).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ChargeRefund{}, err
	}

	charge, err := o.getCharge(ctx, in.ChargeID)
	if err != nil {
		return ChargeRefund{}, err
	}
	if charge.State != ChargeSucceeded || charge.ProcessorTransactionID == nil {
		return ChargeRefund{}, ErrChargeNotRefundable
	}
	remaining := charge.AmountCents - charge.RefundedCents
	amount := in.AmountCents
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return ChargeRefund{}, ErrRefundExceedsCharge
	}

	ma, err := o.accounts.Get(ctx, charge.MerchantAccountID)
	if err != nil {
		return ChargeRefund{}, err
	}
	r, err := o.dispatcher.Refund(ctx, processors.ID(charge.ProcessorID), processors.RefundRequest{
		MerchantAccount: ma,
		ChargeID:        *charge.ProcessorTransactionID,
		AmountCents:     amount,
		Reason:          in.Reason,
		IdempotencyKey:  charge.ID + "-" + in.IdempotencyKey,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "refund failed", "charge_id", charge.ID, "amount_cents", amount, "err", err)
		return ChargeRefund{}, err
	}

	now := time.Now()
	row := ChargeRefund{
		ID:                uuid.NewString(),
		ChargeID:          charge.ID,
		IdempotencyKey:    in.IdempotencyKey,
		ProcessorRefundID: r.ID,
		AmountCents:       amount,
		Status:            r.Status,
		FlowOfFunds:       fofJSON(r.FlowOfFunds),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = db.WithTxRetry(ctx, o.db, 3, func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&Charge{}).Where("id = ?", charge.ID).
			Updates(map[string]any{
				"refunded_cents": gorm.Expr("refunded_cents + ?", amount),
				"updated_at":     now,
			}).Error
	})
	if err != nil {
		return ChargeRefund{}, err
	}
	o.logger.InfoContext(ctx, "charge refunded", "charge_id", charge.ID, "refund_id", r.ID, "amount_cents", amount)
	return row, nil
}
