// Package stripe implements the intent-capable charge processor on Stripe
// PaymentIntents and SetupIntents. Connected accounts are charged with
// destination charges, so every call runs on the platform account.
package stripe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	stripego "github.com/stripe/stripe-go/v74"

	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

const dashboardChargeURL = "https://dashboard.stripe.com/payments/"

// statement descriptor suffixes are capped by Stripe
const maxDescriptorSuffix = 22

type Processor struct {
	api           api
	webhookSecret string
	logger        *slog.Logger
}

func New(secretKey, webhookSecret string) *Processor {
	return newWithAPI(newClientAPI(secretKey), webhookSecret)
}

func newWithAPI(a api, webhookSecret string) *Processor {
	return &Processor{api: a, webhookSecret: webhookSecret, logger: slog.Default()}
}

func (p *Processor) SetLogger(l *slog.Logger) { p.logger = l }

func (p *Processor) ID() processors.ID { return processors.Stripe }

func (p *Processor) SuccessStatuses() []string {
	return []string{string(stripego.ChargeStatusSucceeded)}
}

func (p *Processor) ChargeableForParams(ctx context.Context, params processors.CheckoutParams) (processors.ChargeableToken, error) {
	if params.StripePaymentMethodID == "" {
		return nil, nil
	}
	pmParams := &stripego.PaymentMethodParams{}
	pmParams.Context = ctx
	pm, err := p.api.getPaymentMethod(params.StripePaymentMethodID, pmParams)
	if err != nil {
		return nil, mapError(err)
	}
	return tokenFromPaymentMethod(p.api, pm, params.StripeCustomerID, params.ZipCode), nil
}

// ChargeableForData rebuilds a token from saved data without calling Stripe.
// Methods never attached to a customer cannot be reused.
func (p *Processor) ChargeableForData(_ context.Context, pm processors.StoredPaymentMethod) (processors.ChargeableToken, error) {
	if pm.StripePaymentMethodID == "" || pm.StripeCustomerID == "" {
		return nil, nil
	}
	return &Token{
		api:             p.api,
		paymentMethodID: pm.StripePaymentMethodID,
		customerID:      pm.StripeCustomerID,
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
	params := &stripego.ChargeParams{}
	params.Context = ctx
	params.AddExpand("balance_transaction")
	c, err := p.api.getCharge(chargeID, params)
	if err != nil {
		return nil, mapError(err)
	}
	return chargeFromStripe(c), nil
}

// SearchCharge finds the charge created for a PaymentIntent. Stripe offers no
// lookup by our reference without the search API, so a missing intent id
// yields no charge.
func (p *Processor) SearchCharge(ctx context.Context, params processors.SearchChargeParams) (*processors.Charge, error) {
	if params.ChargeIntentID == "" {
		return nil, nil
	}
	lp := &stripego.ChargeListParams{PaymentIntent: stripego.String(params.ChargeIntentID)}
	lp.Context = ctx
	charges, err := p.api.listCharges(lp)
	if err != nil {
		return nil, mapError(err)
	}
	for _, c := range charges {
		if params.Reference == "" || c.Metadata["reference"] == params.Reference {
			return chargeFromStripe(c), nil
		}
	}
	return nil, nil
}

func (p *Processor) GetChargeIntent(ctx context.Context, _ processors.MerchantAccount, id string) (*processors.ChargeIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := p.api.getPaymentIntent(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	return intentFromStripe(pi), nil
}

func (p *Processor) GetSetupIntent(ctx context.Context, _ processors.MerchantAccount, id string) (*processors.SetupIntent, error) {
	params := &stripego.SetupIntentParams{}
	params.Context = ctx
	si, err := p.api.getSetupIntent(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	return setupIntentFromStripe(si), nil
}

func (p *Processor) SetupFutureCharges(ctx context.Context, _ processors.MerchantAccount, token processors.ChargeableToken, mandate *processors.MandateOptions) (*processors.SetupIntent, error) {
	if token.ReusableToken() == "" {
		if err := token.Prepare(ctx); err != nil {
			return nil, err
		}
	}
	params := &stripego.SetupIntentParams{
		Customer:           stripego.String(token.ReusableToken()),
		PaymentMethod:      stripego.String(token.PaymentMethodID()),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		Confirm:            stripego.Bool(true),
		Usage:              stripego.String(string(stripego.SetupIntentUsageOffSession)),
	}
	params.Context = ctx
	if mandate != nil {
		params.PaymentMethodOptions = &stripego.SetupIntentPaymentMethodOptionsParams{
			Card: &stripego.SetupIntentPaymentMethodOptionsCardParams{
				MandateOptions: &stripego.SetupIntentPaymentMethodOptionsCardMandateOptionsParams{
					Amount:         stripego.Int64(mandate.AmountCents),
					AmountType:     stripego.String("maximum"),
					Currency:       stripego.String(mandate.Currency),
					Interval:       stripego.String(mandate.Interval),
					Reference:      stripego.String(mandate.Reference),
					StartDate:      stripego.Int64(time.Now().Unix()),
					SupportedTypes: stripego.StringSlice([]string{"india"}),
				},
			},
		}
	}
	si, err := p.api.newSetupIntent(params)
	if err != nil {
		return nil, mapError(err)
	}
	return setupIntentFromStripe(si), nil
}

func (p *Processor) CreatePaymentIntentOrCharge(ctx context.Context, req processors.CreateChargeRequest) (*processors.ChargeIntent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:             stripego.Int64(req.AmountCents),
		Currency:           stripego.String(req.Currency),
		PaymentMethod:      stripego.String(req.Token.PaymentMethodID()),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		Confirm:            stripego.Bool(true),
	}
	params.Context = ctx
	if cus := req.Token.ReusableToken(); cus != "" {
		params.Customer = stripego.String(cus)
	}
	if req.Description != "" {
		params.Description = stripego.String(req.Description)
	}
	if s := req.StatementDescription; s != "" {
		if len(s) > maxDescriptorSuffix {
			s = s[:maxDescriptorSuffix]
		}
		params.StatementDescriptorSuffix = stripego.String(s)
	}
	if req.OffSession {
		params.OffSession = stripego.Bool(true)
	}
	if req.SetupFutureCharges {
		params.SetupFutureUsage = stripego.String(string(stripego.PaymentIntentSetupFutureUsageOffSession))
	}
	if !req.MerchantAccount.IsPlatform() {
		params.TransferData = &stripego.PaymentIntentTransferDataParams{
			Destination: stripego.String(req.MerchantAccount.ChargeProcessorMerchantID),
		}
		params.ApplicationFeeAmount = stripego.Int64(req.GumroadAmountCents)
	}
	if m := req.MandateOptions; m != nil {
		params.PaymentMethodOptions = &stripego.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripego.PaymentIntentPaymentMethodOptionsCardParams{
				MandateOptions: &stripego.PaymentIntentPaymentMethodOptionsCardMandateOptionsParams{
					Amount:         stripego.Int64(m.AmountCents),
					AmountType:     stripego.String("maximum"),
					Interval:       stripego.String(m.Interval),
					Reference:      stripego.String(m.Reference),
					StartDate:      stripego.Int64(time.Now().Unix()),
					SupportedTypes: stripego.StringSlice([]string{"india"}),
				},
			},
		}
	}
	if req.Reference != "" {
		params.AddMetadata("reference", req.Reference)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.AddExpand("latest_charge")

	pi, err := p.api.newPaymentIntent(params)
	if err != nil {
		return nil, mapError(err)
	}
	return intentFromStripe(pi), nil
}

// ConfirmPaymentIntent runs after the buyer finished SCA client-side. The
// intent is usually resolved by then; only an intent still waiting for
// confirmation is confirmed again.
func (p *Processor) ConfirmPaymentIntent(ctx context.Context, ma processors.MerchantAccount, id string) (*processors.ChargeIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := p.api.getPaymentIntent(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	if pi.Status != stripego.PaymentIntentStatusRequiresConfirmation {
		return intentFromStripe(pi), nil
	}

	cp := &stripego.PaymentIntentConfirmParams{}
	cp.Context = ctx
	cp.AddExpand("latest_charge")
	pi, err = p.api.confirmPaymentIntent(id, cp)
	if err != nil {
		return nil, mapError(err)
	}
	return intentFromStripe(pi), nil
}

func (p *Processor) CancelPaymentIntent(ctx context.Context, _ processors.MerchantAccount, id string) error {
	params := &stripego.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := p.api.cancelPaymentIntent(id, params)
	return mapError(err)
}

func (p *Processor) CancelSetupIntent(ctx context.Context, _ processors.MerchantAccount, id string) error {
	params := &stripego.SetupIntentCancelParams{}
	params.Context = ctx
	_, err := p.api.cancelSetupIntent(id, params)
	return mapError(err)
}

var refundReasons = map[string]bool{
	string(stripego.RefundReasonDuplicate):           true,
	string(stripego.RefundReasonFraudulent):          true,
	string(stripego.RefundReasonRequestedByCustomer): true,
}

func (p *Processor) Refund(ctx context.Context, req processors.RefundRequest) (*processors.ChargeRefund, error) {
	params := &stripego.RefundParams{Charge: stripego.String(req.ChargeID)}
	params.Context = ctx
	if req.AmountCents > 0 {
		params.Amount = stripego.Int64(req.AmountCents)
	}
	if refundReasons[req.Reason] {
		params.Reason = stripego.String(req.Reason)
	}
	if !req.MerchantAccount.IsPlatform() {
		params.ReverseTransfer = stripego.Bool(true)
		params.RefundApplicationFee = stripego.Bool(true)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	r, err := p.api.newRefund(params)
	if err != nil {
		return nil, mapError(err)
	}
	return &processors.ChargeRefund{
		ID:          r.ID,
		ChargeID:    req.ChargeID,
		Status:      string(r.Status),
		AmountCents: r.Amount,
		FlowOfFunds: flowoffunds.BuildSimple(string(r.Currency), -r.Amount),
	}, nil
}

func (p *Processor) FightChargeback(ctx context.Context, ma processors.MerchantAccount, ev processors.DisputeEvidence) error {
	disputeID := ev.DisputeID
	if disputeID == "" {
		params := &stripego.ChargeParams{}
		params.Context = ctx
		params.AddExpand("dispute")
		c, err := p.api.getCharge(ev.ChargeID, params)
		if err != nil {
			return mapError(err)
		}
		if c.Dispute == nil {
			return errors.New("stripe: charge has no dispute")
		}
		disputeID = c.Dispute.ID
	}

	text := ev.UncategorizedText
	if ev.ReceiptURL != "" {
		if text != "" {
			text += "\n"
		}
		text += "Receipt: " + ev.ReceiptURL
	}
	params := &stripego.DisputeParams{
		Evidence: &stripego.DisputeEvidenceParams{
			CustomerEmailAddress:   optional(ev.CustomerEmail),
			CustomerName:           optional(ev.CustomerName),
			ProductDescription:     optional(ev.ProductDescription),
			AccessActivityLog:      optional(ev.AccessActivityLog),
			RefundPolicyDisclosure: optional(ev.RefundPolicyDisclose),
			UncategorizedText:      optional(text),
		},
		Submit: stripego.Bool(true),
	}
	params.Context = ctx
	_, err := p.api.updateDispute(disputeID, params)
	return mapError(err)
}

func (p *Processor) HolderOfFunds(ma processors.MerchantAccount) processors.HolderOfFunds {
	if ma.IsPlatform() {
		return processors.HolderGumroad
	}
	return processors.HolderCreator
}

func (p *Processor) TransactionURL(_ processors.MerchantAccount, chargeID string) string {
	return dashboardChargeURL + chargeID
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return stripego.String(s)
}

func intentState(s stripego.PaymentIntentStatus) processors.IntentState {
	switch s {
	case stripego.PaymentIntentStatusSucceeded:
		return processors.IntentSucceeded
	case stripego.PaymentIntentStatusRequiresAction:
		return processors.IntentRequiresAction
	case stripego.PaymentIntentStatusCanceled:
		return processors.IntentCanceled
	default:
		return processors.IntentInProgress
	}
}

func intentFromStripe(pi *stripego.PaymentIntent) *processors.ChargeIntent {
	ci := &processors.ChargeIntent{ID: pi.ID, ClientSecret: pi.ClientSecret, State: intentState(pi.Status)}
	if ci.State == processors.IntentSucceeded && pi.LatestCharge != nil {
		ci.Charge = chargeFromStripe(pi.LatestCharge)
		if ci.Charge.PaymentIntentID == "" {
			ci.Charge.PaymentIntentID = pi.ID
		}
	}
	return ci
}

func setupIntentFromStripe(si *stripego.SetupIntent) *processors.SetupIntent {
	out := &processors.SetupIntent{ID: si.ID, ClientSecret: si.ClientSecret}
	switch si.Status {
	case stripego.SetupIntentStatusSucceeded:
		out.State = processors.IntentSucceeded
	case stripego.SetupIntentStatusRequiresAction:
		out.State = processors.IntentRequiresAction
	case stripego.SetupIntentStatusCanceled:
		out.State = processors.IntentCanceled
	default:
		out.State = processors.IntentInProgress
	}
	if si.PaymentMethod != nil {
		out.PaymentMethodID = si.PaymentMethod.ID
	}
	if si.Customer != nil {
		out.CustomerID = si.Customer.ID
	}
	return out
}

func chargeFromStripe(c *stripego.Charge) *processors.Charge {
	out := &processors.Charge{
		ID:          c.ID,
		Status:      string(c.Status),
		AmountCents: c.Amount,
		Currency:    string(c.Currency),
		Refunded:    c.Refunded,
		Disputed:    c.Disputed,
		FlowOfFunds: flowoffunds.BuildSimple(string(c.Currency), c.Amount),
	}
	if c.Created > 0 {
		out.CreatedAt = time.Unix(c.Created, 0).UTC()
	}
	if c.PaymentIntent != nil {
		out.PaymentIntentID = c.PaymentIntent.ID
	}
	if c.BalanceTransaction != nil {
		out.FeeCents = c.BalanceTransaction.Fee
	}
	if d := c.PaymentMethodDetails; d != nil && d.Card != nil {
		out.Fingerprint = d.Card.Fingerprint
		out.Last4 = d.Card.Last4
	}
	return out
}
