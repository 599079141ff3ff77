package payouts

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StateProcessing = "processing"
	// accepted by the provider but not yet claimed or settled
	StatePending   = "pending"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

func Terminal(state string) bool { return state == StateCompleted || state == StateFailed }

// Payee is a seller's payout profile.
type Payee struct {
	ID                 string  `gorm:"type:char(36);primaryKey"`
	PayPalEmail        string  `gorm:"type:varchar(255)"`
	HasBankAccount     bool    `gorm:"not null;default:false"`
	LegalName          *string `gorm:"type:varchar(255)"`
	TaxCountry         *string `gorm:"type:char(2)"`
	UnpaidBalanceCents int64   `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"precision:3;not null"`
	UpdatedAt time.Time `gorm:"precision:3;not null"`
}

func (Payee) TableName() string { return "payees" }

func (p Payee) HasComplianceInfo() bool {
	return p.LegalName != nil && *p.LegalName != "" && p.TaxCountry != nil && *p.TaxCountry != ""
}

type Payment struct {
	ID          string `gorm:"type:char(36);primaryKey"`
	PayeeID     string `gorm:"type:char(36);not null;index:ix_payout_payments_payee_state,priority:1"`
	Processor   string `gorm:"type:varchar(32);not null"`
	State       string `gorm:"type:varchar(32);not null;index:ix_payout_payments_payee_state,priority:2"`
	AmountCents int64  `gorm:"not null"`
	Currency    string `gorm:"type:char(3);not null"`
	// Email is the payout address at the time the payment was created.
	Email      string    `gorm:"type:varchar(255);not null"`
	PayoutDate time.Time `gorm:"type:date;not null"`

	Split             bool    `gorm:"not null;default:false"`
	CorrelationID     *string `gorm:"type:varchar(64)"`
	TransactionID     *string `gorm:"type:varchar(64);index:ix_payout_payments_txn_id"`
	FailureReason     *string `gorm:"type:varchar(255)"`
	ProcessorFeeCents int64   `gorm:"not null;default:0"`

	CompletedAt *time.Time `gorm:"precision:3"`
	FailedAt    *time.Time `gorm:"precision:3"`
	CreatedAt   time.Time  `gorm:"precision:3;not null"`
	UpdatedAt   time.Time  `gorm:"precision:3;not null"`

	Splits []SplitPayment `gorm:"foreignKey:PaymentID"`
}

func (Payment) TableName() string { return "payout_payments" }

func (p Payment) Terminal() bool { return Terminal(p.State) }

// SplitPayment is one chunk of a payment too large for a single transfer.
type SplitPayment struct {
	ID            string         `gorm:"type:char(36);primaryKey"`
	PaymentID     string         `gorm:"type:char(36);not null;index:ix_split_payments_payment,priority:1"`
	Position      int            `gorm:"not null;index:ix_split_payments_payment,priority:2"`
	UniqueID      string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_split_payments_unique_id"`
	AmountCents   int64          `gorm:"not null"`
	State         string         `gorm:"type:varchar(32);not null"`
	CorrelationID *string        `gorm:"type:varchar(64)"`
	TransactionID *string        `gorm:"type:varchar(64)"`
	Errors        datatypes.JSON `gorm:"type:json"`
	CreatedAt     time.Time      `gorm:"precision:3;not null"`
	UpdatedAt     time.Time      `gorm:"precision:3;not null"`
}

func (SplitPayment) TableName() string { return "split_payments" }

func (s SplitPayment) Terminal() bool { return Terminal(s.State) }

// LineError is one per-recipient error line of a provider response.
type LineError struct {
	Code         string `json:"code"`
	ShortMessage string `json:"short_message"`
	LongMessage  string `json:"long_message"`
}
