package charging

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

type MerchantAccounts interface {
	Get(ctx context.Context, id string) (processors.MerchantAccount, error)
}

type MerchantAccountRepo struct{ db *gorm.DB }

func NewMerchantAccountRepo(db *gorm.DB) *MerchantAccountRepo { return &MerchantAccountRepo{db: db} }

func (r *MerchantAccountRepo) Get(ctx context.Context, id string) (processors.MerchantAccount, error) {
	var m MerchantAccount
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return processors.MerchantAccount{}, ErrMerchantAccountNotFound
		}
		return processors.MerchantAccount{}, err
	}
	return m.ToProcessor(), nil
}
