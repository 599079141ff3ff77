// Package braintree implements a synchronous charge processor on the
// Braintree GraphQL API. Charges either settle immediately or fail; there
// is no SCA step and no intent to confirm or cancel.
package braintree

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zandy2test/gumroad-sub037/internal/config"
	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/shared/money"
)

const txnFields = `
	id
	status
	orderId
	createdAt
	amount { value currencyCode }
	processorResponse { legacyCode message }
	paymentMethodSnapshot { ... on CreditCardDetails { last4 uniqueNumberIdentifier } }
`

var declinedStatuses = map[string]bool{
	"PROCESSOR_DECLINED":  true,
	"GATEWAY_REJECTED":    true,
	"FAILED":              true,
	"SETTLEMENT_DECLINED": true,
}

type transaction struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	OrderID   string    `json:"orderId"`
	CreatedAt time.Time `json:"createdAt"`
	Amount    struct {
		Value        string `json:"value"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"amount"`
	ProcessorResponse struct {
		LegacyCode string `json:"legacyCode"`
		Message    string `json:"message"`
	} `json:"processorResponse"`
	PaymentMethodSnapshot struct {
		Last4                  string `json:"last4"`
		UniqueNumberIdentifier string `json:"uniqueNumberIdentifier"`
	} `json:"paymentMethodSnapshot"`
}

type Processor struct {
	gw         *gateway
	merchantID string
	webhooks   webhookVerifier
	logger     *slog.Logger
}

func New(cfg config.BraintreeConfig) *Processor {
	return &Processor{
		gw:         newGateway(cfg.BaseURL, cfg.PublicKey, cfg.PrivateKey),
		merchantID: cfg.MerchantID,
		webhooks:   webhookVerifier{publicKey: cfg.PublicKey, privateKey: cfg.PrivateKey},
		logger:     slog.Default(),
	}
}

func (p *Processor) SetLogger(l *slog.Logger) { p.logger = l }

func (p *Processor) ID() processors.ID { return processors.Braintree }

func (p *Processor) SuccessStatuses() []string {
	return []string{"AUTHORIZED", "SUBMITTED_FOR_SETTLEMENT", "SETTLING", "SETTLEMENT_PENDING", "SETTLED"}
}

func (p *Processor) ChargeableForParams(_ context.Context, params processors.CheckoutParams) (processors.ChargeableToken, error) {
	if params.BraintreeNonce == "" {
		return nil, nil
	}
	return &Token{
		gw:         p.gw,
		nonce:      params.BraintreeNonce,
		deviceData: params.BraintreeDeviceData,
		country:    params.CardCountry,
		zip:        params.ZipCode,
	}, nil
}

func (p *Processor) ChargeableForData(_ context.Context, pm processors.StoredPaymentMethod) (processors.ChargeableToken, error) {
	if pm.BraintreePaymentMethodID == "" {
		return nil, nil
	}
	return &Token{
		gw:              p.gw,
		paymentMethodID: pm.BraintreePaymentMethodID,
		customerID:      pm.BraintreeCustomerID,
		fingerprint:     pm.Fingerprint,
		last4:           pm.Last4,
		brand:           pm.CardType,
		expMonth:        pm.ExpiryMonth,
		expYear:         pm.ExpiryYear,
		country:         pm.Country,
		zip:             pm.ZipCode,
	}, nil
}

func (p *Processor) GetCharge(ctx context.Context, _ processors.MerchantAccount, chargeID string) (*processors.Charge, error) {
	var out struct {
		Node *transaction `json:"node"`
	}
	q := `query Transaction($id: ID!) { node(id: $id) { ... on Transaction {` + txnFields + `} } }`
	if err := p.gw.do(ctx, q, map[string]any{"id": chargeID}, &out); err != nil {
		return nil, err
	}
	if out.Node == nil {
		return nil, processors.ValidationError(processors.Braintree, "not_found", "transaction not found")
	}
	return chargeFromTransaction(out.Node)
}

// SearchCharge looks the transaction up by the order id it was created with.
func (p *Processor) SearchCharge(ctx context.Context, params processors.SearchChargeParams) (*processors.Charge, error) {
	if params.Reference == "" {
		return nil, nil
	}
	var out struct {
		Search struct {
			Transactions struct {
				Edges []struct {
					Node transaction `json:"node"`
				} `json:"edges"`
			} `json:"transactions"`
		} `json:"search"`
	}
	q := `query Search($input: TransactionSearchInput!) { search { transactions(input: $input, first: 1) { edges { node {` + txnFields + `} } } } }`
	vars := map[string]any{"input": map[string]any{"orderId": map[string]any{"is": params.Reference}}}
	if err := p.gw.do(ctx, q, vars, &out); err != nil {
		return nil, err
	}
	if len(out.Search.Transactions.Edges) == 0 {
		return nil, nil
	}
	return chargeFromTransaction(&out.Search.Transactions.Edges[0].Node)
}

// GetChargeIntent treats the transaction as a resolved intent.
func (p *Processor) GetChargeIntent(ctx context.Context, ma processors.MerchantAccount, id string) (*processors.ChargeIntent, error) {
	c, err := p.GetCharge(ctx, ma, id)
	if err != nil {
		return nil, err
	}
	return processors.SucceededChargeIntent(c), nil
}

func (p *Processor) GetSetupIntent(_ context.Context, _ processors.MerchantAccount, id string) (*processors.SetupIntent, error) {
	return processors.SucceededSetupIntent(id, ""), nil
}

// SetupFutureCharges vaults the payment method. Mandates do not apply.
func (p *Processor) SetupFutureCharges(ctx context.Context, _ processors.MerchantAccount, token processors.ChargeableToken, _ *processors.MandateOptions) (*processors.SetupIntent, error) {
	if err := token.Prepare(ctx); err != nil {
		return nil, err
	}
	return processors.SucceededSetupIntent(token.PaymentMethodID(), token.ReusableToken()), nil
}

func (p *Processor) CreatePaymentIntentOrCharge(ctx context.Context, req processors.CreateChargeRequest) (*processors.ChargeIntent, error) {
	if req.SetupFutureCharges && req.Token.ReusableToken() == "" {
		if err := req.Token.Prepare(ctx); err != nil {
			return nil, err
		}
	}
	txnInput := map[string]any{
		"amount":  money.DollarString(req.AmountCents),
		"orderId": req.Reference,
	}
	if !req.MerchantAccount.IsPlatform() {
		txnInput["merchantAccountId"] = req.MerchantAccount.ChargeProcessorMerchantID
	}
	if s := req.StatementDescription; s != "" {
		txnInput["descriptor"] = map[string]any{"name": s}
	}
	if t, ok := req.Token.(*Token); ok && t.deviceData != "" {
		txnInput["riskData"] = map[string]any{"deviceData": t.deviceData}
	}
	input := map[string]any{
		"paymentMethodId": req.Token.PaymentMethodID(),
		"transaction":     txnInput,
	}
	if req.IdempotencyKey != "" {
		input["clientMutationId"] = req.IdempotencyKey
	}

	var out struct {
		ChargePaymentMethod struct {
			Transaction transaction `json:"transaction"`
		} `json:"chargePaymentMethod"`
	}
	q := `mutation Charge($input: ChargePaymentMethodInput!) { chargePaymentMethod(input: $input) { transaction {` + txnFields + `} } }`
	if err := p.gw.do(ctx, q, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	c, err := chargeFromTransaction(&out.ChargePaymentMethod.Transaction)
	if err != nil {
		return nil, err
	}
	return processors.SucceededChargeIntent(c), nil
}

func (p *Processor) ConfirmPaymentIntent(context.Context, processors.MerchantAccount, string) (*processors.ChargeIntent, error) {
	return nil, fmt.Errorf("braintree: confirm intent: %w", processors.ErrNotSupported)
}

func (p *Processor) CancelPaymentIntent(context.Context, processors.MerchantAccount, string) error {
	return fmt.Errorf("braintree: cancel intent: %w", processors.ErrNotSupported)
}

func (p *Processor) CancelSetupIntent(context.Context, processors.MerchantAccount, string) error {
	return fmt.Errorf("braintree: cancel setup: %w", processors.ErrNotSupported)
}

func (p *Processor) Refund(ctx context.Context, req processors.RefundRequest) (*processors.ChargeRefund, error) {
	refund := map[string]any{}
	if req.AmountCents > 0 {
		refund["amount"] = money.DollarString(req.AmountCents)
	}
	input := map[string]any{"transactionId": req.ChargeID, "refund": refund}
	if req.IdempotencyKey != "" {
		input["clientMutationId"] = req.IdempotencyKey
	}
	var out struct {
		RefundTransaction struct {
			Refund transaction `json:"refund"`
		} `json:"refundTransaction"`
	}
	q := `mutation Refund($input: RefundTransactionInput!) { refundTransaction(input: $input) { refund {` + txnFields + `} } }`
	if err := p.gw.do(ctx, q, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	r := out.RefundTransaction.Refund
	cents, err := money.ParseDollars(r.Amount.Value)
	if err != nil {
		return nil, processors.TechnicalError(processors.Braintree, err)
	}
	return &processors.ChargeRefund{
		ID:          r.ID,
		ChargeID:    req.ChargeID,
		Status:      r.Status,
		AmountCents: cents,
		FlowOfFunds: flowoffunds.BuildSimple(r.Amount.CurrencyCode, -cents),
	}, nil
}

// FightChargeback attaches the evidence as text and finalizes the dispute.
func (p *Processor) FightChargeback(ctx context.Context, _ processors.MerchantAccount, ev processors.DisputeEvidence) error {
	if ev.DisputeID == "" {
		return processors.ValidationError(processors.Braintree, "missing_dispute", "dispute id is required")
	}
	var lines []string
	add := func(label, v string) {
		if v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Customer email", ev.CustomerEmail)
	add("Customer name", ev.CustomerName)
	add("Product", ev.ProductDescription)
	add("Receipt", ev.ReceiptURL)
	add("Access log", ev.AccessActivityLog)
	add("Refund policy", ev.RefundPolicyDisclose)
	add("Notes", ev.UncategorizedText)

	addQ := `mutation Evidence($input: AddTextEvidenceToDisputeInput!) { addTextEvidenceToDispute(input: $input) { evidence { id } } }`
	vars := map[string]any{"input": map[string]any{"disputeId": ev.DisputeID, "content": strings.Join(lines, "\n")}}
	if err := p.gw.do(ctx, addQ, vars, nil); err != nil {
		return err
	}
	finQ := `mutation Finalize($input: FinalizeDisputeInput!) { finalizeDispute(input: $input) { dispute { id status } } }`
	return p.gw.do(ctx, finQ, map[string]any{"input": map[string]any{"disputeId": ev.DisputeID}}, nil)
}

// Funds settle into the platform's merchant account.
func (p *Processor) HolderOfFunds(processors.MerchantAccount) processors.HolderOfFunds {
	return processors.HolderGumroad
}

func (p *Processor) TransactionURL(_ processors.MerchantAccount, chargeID string) string {
	return fmt.Sprintf("https://www.braintreegateway.com/merchants/%s/transactions/%s", p.merchantID, chargeID)
}

func chargeFromTransaction(t *transaction) (*processors.Charge, error) {
	if declinedStatuses[t.Status] {
		code := t.ProcessorResponse.LegacyCode
		if code == "" {
			code = strings.ToLower(t.Status)
		}
		msg := t.ProcessorResponse.Message
		if msg == "" {
			msg = "Your card was declined."
		}
		return nil, processors.DeclinedError(processors.Braintree, code, msg)
	}
	cents, err := money.ParseDollars(t.Amount.Value)
	if err != nil {
		return nil, processors.TechnicalError(processors.Braintree, err)
	}
	currency := strings.ToLower(t.Amount.CurrencyCode)
	return &processors.Charge{
		ID:          t.ID,
		Status:      t.Status,
		AmountCents: cents,
		Currency:    currency,
		Fingerprint: t.PaymentMethodSnapshot.UniqueNumberIdentifier,
		Last4:       t.PaymentMethodSnapshot.Last4,
		FlowOfFunds: flowoffunds.BuildSimple(currency, cents),
		CreatedAt:   t.CreatedAt,
	}, nil
}
