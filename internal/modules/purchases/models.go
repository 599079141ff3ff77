package purchases

import "time"

const (
	StateInProgress = "in_progress"
	StateSuccessful = "successful"
	StateFailed     = "failed"
)

type Purchase struct {
	ID                string  `gorm:"type:char(36);primaryKey"`
	OrderID           string  `gorm:"type:char(36);not null;index:ix_purchases_order_id"`
	SellerID          string  `gorm:"type:char(36);not null"`
	ProductID         string  `gorm:"type:char(36);not null"`
	BuyerID           *string `gorm:"type:char(36)"`
	MerchantAccountID string  `gorm:"type:varchar(64);not null"`
	ChargeID          *string `gorm:"type:char(36);index:ix_purchases_charge_id"`

	PriceCents      int64  `gorm:"not null"`
	GumroadFeeCents int64  `gorm:"not null"`
	Currency        string `gorm:"type:char(3);not null"`

	IsTestPurchase          bool `gorm:"not null;default:false"`
	IsPreorderAuthorization bool `gorm:"not null;default:false"`
	IsFreeTrial             bool `gorm:"not null;default:false"`
	IsRecurring             bool `gorm:"not null;default:false"`
	// SaveCard is set when a signed-in buyer asked to keep the card.
	SaveCard                bool `gorm:"not null;default:false"`

	State        string  `gorm:"type:varchar(32);not null"`
	ErrorCode    *string `gorm:"type:varchar(64)"`
	ErrorMessage *string `gorm:"type:varchar(255)"`

	SucceededAt *time.Time `gorm:"precision:3"`
	FailedAt    *time.Time `gorm:"precision:3"`
	CreatedAt   time.Time  `gorm:"precision:3;not null"`
	UpdatedAt   time.Time  `gorm:"precision:3;not null"`
}

func (Purchase) TableName() string { return "purchases" }

func (p Purchase) Terminal() bool {
	return p.State == StateSuccessful || p.State == StateFailed
}

// Free purchases and test purchases (other than preorder authorizations)
// never reach a processor.
func (p Purchase) SkipsProcessor() bool {
	return p.PriceCents == 0 || (p.IsTestPurchase && !p.IsPreorderAuthorization)
}

// AuthorizationOnly purchases move no money now; the card is only set up.
func (p Purchase) AuthorizationOnly() bool {
	return p.IsFreeTrial || p.IsPreorderAuthorization
}
