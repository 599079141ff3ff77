package payouts

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) WithTx(tx *gorm.DB) *Repo { return &Repo{db: tx} }

func (r *Repo) ListPayeesWithBalance(ctx context.Context, ids []string) ([]Payee, error) {
	var out []Payee
	q := r.db.WithContext(ctx).Where("unpaid_balance_cents > 0")
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

func (r *Repo) HasPaymentInFlight(ctx context.Context, payeeID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Payment{}).
		Where("payee_id = ? AND state IN ?", payeeID, []string{StateProcessing, StatePending}).
		Count(&n).Error
	return n > 0, err
}

func (r *Repo) CreatePayment(ctx context.Context, p *Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repo) GetPayment(ctx context.Context, id string) (Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).
		Preload("Splits", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func (r *Repo) ListPayments(ctx context.Context, ids []string) ([]Payment, error) {
	var out []Payment
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&out).Error
	return out, err
}

// LockPayment must run inside a transaction.
func (r *Repo) LockPayment(ctx context.Context, id string) (Payment, error) {
	var p Payment
	err := db.ForUpdate(r.db.WithContext(ctx)).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func (r *Repo) LockSplit(ctx context.Context, id string) (SplitPayment, error) {
	var s SplitPayment
	err := db.ForUpdate(r.db.WithContext(ctx)).First(&s, "id = ?", id).Error
	return s, err
}

func (r *Repo) CreateSplit(ctx context.Context, s *SplitPayment) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) ListSplits(ctx context.Context, paymentID string) ([]SplitPayment, error) {
	var out []SplitPayment
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("position ASC").Find(&out).Error
	return out, err
}

// FindByUniqueID resolves the unique id sent to the provider: a split chunk's
// own id, or the payment id for a payment sent in one piece.
func (r *Repo) FindByUniqueID(ctx context.Context, uniqueID string) (Payment, *SplitPayment, error) {
	var s SplitPayment
	err := r.db.WithContext(ctx).First(&s, "unique_id = ?", uniqueID).Error
	switch {
	case err == nil:
		p, err := r.GetPayment(ctx, s.PaymentID)
		return p, &s, err
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Payment{}, nil, err
	}
	p, err := r.GetPayment(ctx, uniqueID)
	return p, nil, err
}

func (r *Repo) UpdatePayment(ctx context.Context, id string, upd map[string]any) error {
	upd["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&Payment{}).Where("id = ?", id).Updates(upd).Error
}

// FailOpenSplits fails the payment's chunks that are still processing.
func (r *Repo) FailOpenSplits(ctx context.Context, paymentID string, lineErrors datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&SplitPayment{}).
		Where("payment_id = ? AND state = ?", paymentID, StateProcessing).
		Updates(map[string]any{"state": StateFailed, "errors": lineErrors, "updated_at": time.Now()}).Error
}

func (r *Repo) UpdateSplit(ctx context.Context, id string, upd map[string]any) error {
	upd["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&SplitPayment{}).Where("id = ?", id).Updates(upd).Error
}

// CompletePayment marks the payment completed and takes its amount off the
// payee's unpaid balance. Callers hold the payment row lock.
func (r *Repo) CompletePayment(ctx context.Context, p Payment, txnID string) error {
	now := time.Now()
	upd := map[string]any{"state": StateCompleted, "completed_at": &now, "failure_reason": nil}
	if txnID != "" {
		upd["transaction_id"] = txnID
	}
	if err := r.UpdatePayment(ctx, p.ID, upd); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&Payee{}).Where("id = ?", p.PayeeID).
		Updates(map[string]any{
			"unpaid_balance_cents": gorm.Expr("unpaid_balance_cents - ?", p.AmountCents),
			"updated_at":           now,
		}).Error
}

func (r *Repo) FailPayment(ctx context.Context, id, reason string) error {
	now := time.Now()
	return r.UpdatePayment(ctx, id, map[string]any{
		"state":          StateFailed,
		"failed_at":      &now,
		"failure_reason": db.Truncate(reason, 255),
	})
}
