package purchases

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// WithTx returns a repo bound to tx.
func (r *Repo) WithTx(tx *gorm.DB) *Repo { return &Repo{db: tx} }

func (r *Repo) Create(ctx context.Context, ps ...*Purchase) error {
	now := time.Now()
	for _, p := range ps {
		if p.State == "" {
			p.State = StateInProgress
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
	}
	return r.db.WithContext(ctx).Create(ps).Error
}

func (r *Repo) Get(ctx context.Context, id string) (Purchase, error) {
	var p Purchase
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Purchase{}, ErrPurchaseNotFound
	}
	return p, err
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]Purchase, error) {
	var out []Purchase
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *Repo) ListByCharge(ctx context.Context, chargeID string) ([]Purchase, error) {
	var out []Purchase
	err := r.db.WithContext(ctx).Where("charge_id = ?", chargeID).Order("id ASC").Find(&out).Error
	return out, err
}

// LockByIDs locks the rows in id order so concurrent lockers cannot deadlock.
func (r *Repo) LockByIDs(ctx context.Context, ids []string) ([]Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var out []Purchase
	err := db.ForUpdate(r.db.WithContext(ctx)).Where("id IN ?", sorted).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *Repo) AttachCharge(ctx context.Context, ids []string, chargeID string) error {
	return r.db.WithContext(ctx).Model(&Purchase{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"charge_id": chargeID, "updated_at": time.Now()}).Error
}

// MarkSuccessful moves an in-progress purchase to successful. It reports
// false, without error, when the purchase was already terminal.
func (r *Repo) MarkSuccessful(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, func(now time.Time) map[string]any {
		return map[string]any{
			"state":         StateSuccessful,
			"succeeded_at":  &now,
			"error_code":    nil,
			"error_message": nil,
			"updated_at":    now,
		}
	})
}

// MarkFailed moves an in-progress purchase to failed with the message shown
// to the buyer. Terminal purchases are left alone.
func (r *Repo) MarkFailed(ctx context.Context, id, code, message string) (bool, error) {
	return r.transition(ctx, id, func(now time.Time) map[string]any {
		upd := map[string]any{
			"state":         StateFailed,
			"failed_at":     &now,
			"error_message": db.Truncate(message, 255),
			"updated_at":    now,
		}
		if code != "" {
			upd["error_code"] = db.Truncate(code, 64)
		}
		return upd
	})
}

func (r *Repo) transition(ctx context.Context, id string, updates func(now time.Time) map[string]any) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Purchase
		if err := db.ForUpdate(tx).First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPurchaseNotFound
			}
			return err
		}
		if p.Terminal() {
			return nil
		}
		if err := tx.Model(&Purchase{}).Where("id = ?", id).Updates(updates(time.Now())).Error; err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}
