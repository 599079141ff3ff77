package processors

import (
	"context"
	"net/http"
	"time"

	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
)

// MerchantAccount is the account a charge is made for. An empty
// ChargeProcessorMerchantID means the platform's own account.
type MerchantAccount struct {
	ID                        string
	ProcessorID               ID
	ChargeProcessorMerchantID string
	Currency                  string
	Country                   string
}

func (m MerchantAccount) IsPlatform() bool { return m.ChargeProcessorMerchantID == "" }

// CheckoutParams carries the raw tokens the checkout page collected. Each
// processor reads only its own fields.
type CheckoutParams struct {
	StripePaymentMethodID string `json:"stripe_payment_method_id" form:"stripe_payment_method_id"`
	StripeCustomerID      string `json:"stripe_customer_id" form:"stripe_customer_id"`
	BraintreeNonce        string `json:"braintree_nonce" form:"braintree_nonce"`
	BraintreeDeviceData   string `json:"braintree_device_data" form:"braintree_device_data"`
	CardCountry           string `json:"card_country" form:"card_country"`
	ZipCode               string `json:"zip_code" form:"zip_code"`
}

func (p CheckoutParams) Empty() bool {
	return p.StripePaymentMethodID == "" && p.BraintreeNonce == ""
}

// StoredPaymentMethod is a buyer's previously saved, reusable payment method.
type StoredPaymentMethod struct {
	StripeCustomerID         string `json:"stripe_customer_id,omitempty"`
	StripePaymentMethodID    string `json:"stripe_payment_method_id,omitempty"`
	BraintreeCustomerID      string `json:"braintree_customer_id,omitempty"`
	BraintreePaymentMethodID string `json:"braintree_payment_method_id,omitempty"`
	Fingerprint              string `json:"fingerprint,omitempty"`
	Last4                    string `json:"last4,omitempty"`
	CardType                 string `json:"card_type,omitempty"`
	ExpiryMonth              int    `json:"expiry_month,omitempty"`
	ExpiryYear               int    `json:"expiry_year,omitempty"`
	Country                  string `json:"country,omitempty"`
	ZipCode                  string `json:"zip_code,omitempty"`
}

type MandateOptions struct {
	AmountCents int64
	Currency    string
	Interval    string // month|year|sporadic
	Reference   string
}

type CreateChargeRequest struct {
	MerchantAccount      MerchantAccount
	Token                ChargeableToken
	AmountCents          int64
	GumroadAmountCents   int64
	Currency             string
	Reference            string
	Description          string
	StatementDescription string
	IdempotencyKey       string
	// SetupFutureCharges stores the payment method for later off-session use.
	SetupFutureCharges bool
	// OffSession charges without the buyer present; SCA cannot be requested.
	OffSession     bool
	MandateOptions *MandateOptions
}

// Charge is a processor-side charge as the core sees it.
type Charge struct {
	ID              string
	PaymentIntentID string
	Status          string
	AmountCents     int64
	Currency        string
	FeeCents        int64
	Refunded        bool
	Disputed        bool
	Fingerprint     string
	Last4           string
	FlowOfFunds     flowoffunds.FlowOfFunds
	CreatedAt       time.Time
}

type SearchChargeParams struct {
	MerchantAccount MerchantAccount
	ChargeIntentID  string
	// Reference is the id the platform attached to the charge at creation.
	Reference string
}

type RefundRequest struct {
	MerchantAccount MerchantAccount
	ChargeID        string
	// AmountCents of zero refunds the remaining amount.
	AmountCents    int64
	Reason         string
	IdempotencyKey string
}

type ChargeRefund struct {
	ID          string
	ChargeID    string
	Status      string
	AmountCents int64
	FlowOfFunds flowoffunds.FlowOfFunds
}

type DisputeEvidence struct {
	DisputeID            string
	ChargeID             string
	CustomerEmail        string
	CustomerName         string
	ProductDescription   string
	ReceiptURL           string
	AccessActivityLog    string
	UncategorizedText    string
	RefundPolicyDisclose string
}

// Processor is the contract every charge processor implements.
type Processor interface {
	ID() ID
	// SuccessStatuses are the processor's charge statuses meaning "money moved".
	SuccessStatuses() []string

	ChargeableForParams(ctx context.Context, params CheckoutParams) (ChargeableToken, error)
	ChargeableForData(ctx context.Context, pm StoredPaymentMethod) (ChargeableToken, error)

	GetCharge(ctx context.Context, ma MerchantAccount, chargeID string) (*Charge, error)
	SearchCharge(ctx context.Context, params SearchChargeParams) (*Charge, error)
	GetChargeIntent(ctx context.Context, ma MerchantAccount, id string) (*ChargeIntent, error)
	GetSetupIntent(ctx context.Context, ma MerchantAccount, id string) (*SetupIntent, error)

	SetupFutureCharges(ctx context.Context, ma MerchantAccount, token ChargeableToken, mandate *MandateOptions) (*SetupIntent, error)
	CreatePaymentIntentOrCharge(ctx context.Context, req CreateChargeRequest) (*ChargeIntent, error)
	ConfirmPaymentIntent(ctx context.Context, ma MerchantAccount, id string) (*ChargeIntent, error)
	CancelPaymentIntent(ctx context.Context, ma MerchantAccount, id string) error
	CancelSetupIntent(ctx context.Context, ma MerchantAccount, id string) error

	Refund(ctx context.Context, req RefundRequest) (*ChargeRefund, error)
	FightChargeback(ctx context.Context, ma MerchantAccount, evidence DisputeEvidence) error

	HolderOfFunds(ma MerchantAccount) HolderOfFunds
	TransactionURL(ma MerchantAccount, chargeID string) string

	// ParseWebhook verifies a delivery and normalizes it. A delivery the
	// core does not care about yields no events and no error.
	ParseWebhook(headers http.Header, body []byte) ([]ChargeEvent, error)
}

// IsSuccessStatus reports whether status is one of p's success statuses.
func IsSuccessStatus(p Processor, status string) bool {
	for _, s := range p.SuccessStatuses() {
		if s == status {
			return true
		}
	}
	return false
}
