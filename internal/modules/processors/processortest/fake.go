// Package processortest provides an in-memory charge processor for tests.
package processortest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

type Token struct {
	Processor   processors.ID
	FP          string
	L4          string
	Type        string
	ExpMonth    int
	ExpYear     int
	CardCountry string
	Zip         string
	PM          string
	Customer    string
	Mandate     bool
	PrepareErr  error

	Prepared int
}

func (t *Token) ProcessorID() processors.ID { return t.Processor }
func (t *Token) Fingerprint() string        { return t.FP }
func (t *Token) Last4() string              { return t.L4 }
func (t *Token) Visual() string             { return "**** **** **** " + t.L4 }
func (t *Token) CardType() string           { return t.Type }
func (t *Token) ExpiryMonth() int           { return t.ExpMonth }
func (t *Token) ExpiryYear() int            { return t.ExpYear }
func (t *Token) Country() string            { return t.CardCountry }
func (t *Token) ZipCode() string            { return t.Zip }
func (t *Token) PaymentMethodID() string    { return t.PM }
func (t *Token) ReusableToken() string      { return t.Customer }
func (t *Token) RequiresMandate() bool      { return t.Mandate }

func (t *Token) Prepare(ctx context.Context) error {
	if t.PrepareErr != nil {
		return t.PrepareErr
	}
	t.Prepared++
	if t.Customer == "" {
		t.Customer = "cus_" + t.PM
	}
	return nil
}

// Processor records every call. Unset hooks behave like a processor where
// every charge succeeds immediately.
type Processor struct {
	PID      processors.ID
	Statuses []string
	Holder   processors.HolderOfFunds

	// TokenForParams returns nil when the params are not for this processor.
	TokenForParams func(processors.CheckoutParams) processors.ChargeableToken
	TokenForData   func(processors.StoredPaymentMethod) processors.ChargeableToken

	OnCreate  func(req processors.CreateChargeRequest) (*processors.ChargeIntent, error)
	OnGet     func(id string) (*processors.ChargeIntent, error)
	OnConfirm func(id string) (*processors.ChargeIntent, error)
	OnSetup   func(token processors.ChargeableToken) (*processors.SetupIntent, error)
	OnRefund  func(req processors.RefundRequest) (*processors.ChargeRefund, error)

	WebhookEvents []processors.ChargeEvent
	WebhookErr    error

	mu              sync.Mutex
	Creates         []processors.CreateChargeRequest
	Setups          int
	CanceledIntents []string
	Refunds         []processors.RefundRequest
	Disputes        []processors.DisputeEvidence
	seq             int
}

func New(id processors.ID) *Processor {
	return &Processor{PID: id, Statuses: []string{"succeeded"}, Holder: processors.HolderGumroad}
}

func (p *Processor) ID() processors.ID          { return p.PID }
func (p *Processor) SuccessStatuses() []string { return p.Statuses }

func (p *Processor) ChargeableForParams(_ context.Context, params processors.CheckoutParams) (processors.ChargeableToken, error) {
	if p.TokenForParams == nil {
		return nil, nil
	}
	t := p.TokenForParams(params)
	if t == nil {
		return nil, nil
	}
	return t, nil
}

func (p *Processor) ChargeableForData(_ context.Context, pm processors.StoredPaymentMethod) (processors.ChargeableToken, error) {
	if p.TokenForData == nil {
		return nil, nil
	}
	t := p.TokenForData(pm)
	if t == nil {
		return nil, nil
	}
	return t, nil
}

func (p *Processor) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%s_%d", prefix, p.PID, p.seq)
}

func (p *Processor) GetCharge(_ context.Context, _ processors.MerchantAccount, chargeID string) (*processors.Charge, error) {
	return &processors.Charge{ID: chargeID, Status: "succeeded"}, nil
}

func (p *Processor) SearchCharge(context.Context, processors.SearchChargeParams) (*processors.Charge, error) {
	return nil, nil
}

func (p *Processor) GetChargeIntent(_ context.Context, _ processors.MerchantAccount, id string) (*processors.ChargeIntent, error) {
	if p.OnGet != nil {
		return p.OnGet(id)
	}
	return &processors.ChargeIntent{ID: id, State: processors.IntentRequiresAction}, nil
}

func (p *Processor) GetSetupIntent(_ context.Context, _ processors.MerchantAccount, id string) (*processors.SetupIntent, error) {
	return &processors.SetupIntent{ID: id, State: processors.IntentSucceeded}, nil
}

func (p *Processor) SetupFutureCharges(_ context.Context, _ processors.MerchantAccount, token processors.ChargeableToken, _ *processors.MandateOptions) (*processors.SetupIntent, error) {
	p.mu.Lock()
	p.Setups++
	p.mu.Unlock()
	if p.OnSetup != nil {
		return p.OnSetup(token)
	}
	return processors.SucceededSetupIntent(token.PaymentMethodID(), token.ReusableToken()), nil
}

func (p *Processor) CreatePaymentIntentOrCharge(_ context.Context, req processors.CreateChargeRequest) (*processors.ChargeIntent, error) {
	p.mu.Lock()
	p.Creates = append(p.Creates, req)
	id := p.nextID("ch")
	p.mu.Unlock()
	if p.OnCreate != nil {
		return p.OnCreate(req)
	}
	return processors.SucceededChargeIntent(&processors.Charge{
		ID:          id,
		Status:      "succeeded",
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Fingerprint: req.Token.Fingerprint(),
		Last4:       req.Token.Last4(),
		FlowOfFunds: flowoffunds.BuildSimple(req.Currency, req.AmountCents),
	}), nil
}

func (p *Processor) ConfirmPaymentIntent(_ context.Context, _ processors.MerchantAccount, id string) (*processors.ChargeIntent, error) {
	if p.OnConfirm != nil {
		return p.OnConfirm(id)
	}
	return &processors.ChargeIntent{ID: id, State: processors.IntentSucceeded, Charge: &processors.Charge{ID: "ch_" + id, Status: "succeeded"}}, nil
}

func (p *Processor) CancelPaymentIntent(_ context.Context, _ processors.MerchantAccount, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CanceledIntents = append(p.CanceledIntents, id)
	return nil
}

func (p *Processor) CancelSetupIntent(_ context.Context, _ processors.MerchantAccount, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CanceledIntents = append(p.CanceledIntents, id)
	return nil
}

func (p *Processor) Refund(_ context.Context, req processors.RefundRequest) (*processors.ChargeRefund, error) {
	p.mu.Lock()
	p.Refunds = append(p.Refunds, req)
	id := p.nextID("re")
	p.mu.Unlock()
	if p.OnRefund != nil {
		return p.OnRefund(req)
	}
	return &processors.ChargeRefund{ID: id, ChargeID: req.ChargeID, Status: "succeeded", AmountCents: req.AmountCents}, nil
}

func (p *Processor) FightChargeback(_ context.Context, _ processors.MerchantAccount, ev processors.DisputeEvidence) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Disputes = append(p.Disputes, ev)
	return nil
}

func (p *Processor) HolderOfFunds(processors.MerchantAccount) processors.HolderOfFunds { return p.Holder }

func (p *Processor) TransactionURL(_ processors.MerchantAccount, chargeID string) string {
	return "https://fake.test/" + string(p.PID) + "/" + chargeID
}

func (p *Processor) ParseWebhook(http.Header, []byte) ([]processors.ChargeEvent, error) {
	return p.WebhookEvents, p.WebhookErr
}

// CreateCount is safe to call while charges run concurrently.
func (p *Processor) CreateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Creates)
}
