package charging

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

const (
	ChargeInProgress     = "in_progress"
	ChargeRequiresAction = "requires_action"
	ChargeSucceeded      = "succeeded"
	ChargeFailed         = "failed"
)

// Charge groups the purchases of one seller within one order into a single
// processor charge (or setup, when nothing is payable yet).
type Charge struct {
	ID                string `gorm:"type:char(36);primaryKey"`
	OrderID           string `gorm:"type:char(36);not null;index:ix_charges_order_seller,priority:1"`
	SellerID          string `gorm:"type:char(36);not null;index:ix_charges_order_seller,priority:2"`
	MerchantAccountID string `gorm:"type:varchar(64);not null"`
	ProcessorID       string `gorm:"type:varchar(32);not null"`

	AmountCents int64 `gorm:"not null"`
	// fixed when the charge is created
	GumroadAmountCents int64  `gorm:"<-:create;not null"`
	Currency           string `gorm:"type:char(3);not null"`
	RefundedCents      int64  `gorm:"not null;default:0"`

	State                  string  `gorm:"type:varchar(32);not null"`
	SetupOnly              bool    `gorm:"not null;default:false"`
	OffSession             bool    `gorm:"not null;default:false"`
	PaymentIntentID        *string `gorm:"type:varchar(128);index:ix_charges_payment_intent_id"`
	SetupIntentID          *string `gorm:"type:varchar(128)"`
	ProcessorTransactionID *string `gorm:"type:varchar(128);index:ix_charges_processor_txn"`
	ErrorMessage           *string `gorm:"type:varchar(255)"`

	Disputed     bool           `gorm:"not null;default:false"`
	DisputeState *string        `gorm:"type:varchar(32)"`
	FlowOfFunds  datatypes.JSON `gorm:"type:json"`

	CreatedAt time.Time `gorm:"precision:3;not null"`
	UpdatedAt time.Time `gorm:"precision:3;not null"`
}

func (Charge) TableName() string { return "charges" }

func (c Charge) Terminal() bool { return c.State == ChargeSucceeded || c.State == ChargeFailed }

func (c Charge) IntentID() string {
	if c.PaymentIntentID != nil {
		return *c.PaymentIntentID
	}
	if c.SetupIntentID != nil {
		return *c.SetupIntentID
	}
	return ""
}

type ChargeRefund struct {
	ID                string         `gorm:"type:char(36);primaryKey"`
	ChargeID          string         `gorm:"type:char(36);not null;uniqueIndex:ux_charge_refunds_key,priority:1"`
	IdempotencyKey    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_charge_refunds_key,priority:2"`
	ProcessorRefundID string         `gorm:"type:varchar(128);not null;index:ix_charge_refunds_processor_refund"`
	AmountCents       int64          `gorm:"not null"`
	Status            string         `gorm:"type:varchar(32);not null"`
	FlowOfFunds       datatypes.JSON `gorm:"type:json"`
	CreatedAt         time.Time      `gorm:"precision:3;not null"`
	UpdatedAt         time.Time      `gorm:"precision:3;not null"`
}

func (ChargeRefund) TableName() string { return "charge_refunds" }

// MerchantAccount is the stored form of processors.MerchantAccount.
type MerchantAccount struct {
	ID                        string    `gorm:"type:varchar(64);primaryKey"`
	UserID                    string    `gorm:"type:char(36);not null;index:ix_merchant_accounts_user_id"`
	ProcessorID               string    `gorm:"type:varchar(32);not null"`
	ChargeProcessorMerchantID string    `gorm:"type:varchar(128)"`
	Currency                  string    `gorm:"type:char(3);not null"`
	Country                   string    `gorm:"type:char(2)"`
	CreatedAt                 time.Time `gorm:"precision:3;not null"`
}

func (MerchantAccount) TableName() string { return "merchant_accounts" }

func (m MerchantAccount) ToProcessor() processors.MerchantAccount {
	return processors.MerchantAccount{
		ID:                        m.ID,
		ProcessorID:               processors.ID(m.ProcessorID),
		ChargeProcessorMerchantID: m.ChargeProcessorMerchantID,
		Currency:                  m.Currency,
		Country:                   m.Country,
	}
}

func fofJSON(f flowoffunds.FlowOfFunds) datatypes.JSON {
	b, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
