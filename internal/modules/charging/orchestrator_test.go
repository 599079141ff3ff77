package charging

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors/processortest"
	"github.com/zandy2test/gumroad-sub037/internal/modules/purchases"
)

type fixture struct {
	db     *gorm.DB
	fake   *processortest.Processor
	jobs   *jobs.Store
	orch   *Orchestrator
	tokens []*processortest.Token
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "charging.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&purchases.Purchase{}, &Charge{}, &ChargeRefund{}, &MerchantAccount{}, &jobs.ScheduledJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{db: gdb, fake: processortest.New(processors.Stripe)}
	f.fake.TokenForParams = func(p processors.CheckoutParams) processors.ChargeableToken {
		if p.StripePaymentMethodID == "" {
			return nil
		}
		tok := &processortest.Token{Processor: processors.Stripe, PM: p.StripePaymentMethodID, FP: "fp", L4: "4242", CardCountry: "US"}
		f.tokens = append(f.tokens, tok)
		return tok
	}
	reg, err := processors.NewRegistry(f.fake)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	d := processors.NewDispatcher(reg)
	f.jobs = jobs.NewStore(gdb)
	f.orch = NewOrchestrator(gdb, d, NewProcessorChargeCreator(d), NewMerchantAccountRepo(gdb), f.jobs)

	for _, id := range []string{"ma_1", "ma_2", "ma_3"} {
		if err := gdb.Create(&MerchantAccount{ID: id, UserID: "u", ProcessorID: "stripe", Currency: "usd", CreatedAt: time.Now()}).Error; err != nil {
			t.Fatalf("merchant account: %v", err)
		}
	}
	return f
}

func (f *fixture) addPurchase(t *testing.T, orderID, sellerID, maID string, price int64, mods ...func(*purchases.Purchase)) purchases.Purchase {
	t.Helper()
	p := &purchases.Purchase{
		ID:                uuid.NewString(),
		OrderID:           orderID,
		SellerID:          sellerID,
		ProductID:         uuid.NewString(),
		MerchantAccountID: maID,
		PriceCents:        price,
		GumroadFeeCents:   price / 10,
		Currency:          "usd",
	}
	for _, m := range mods {
		m(p)
	}
	if err := purchases.NewRepo(f.db).Create(context.Background(), p); err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	return *p
}

func (f *fixture) purchase(t *testing.T, id string) purchases.Purchase {
	t.Helper()
	p, err := purchases.NewRepo(f.db).Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get purchase: %v", err)
	}
	return p
}

func (f *fixture) charges(t *testing.T, orderID string) []Charge {
	t.Helper()
	var out []Charge
	if err := f.db.Where("order_id = ?", orderID).Order("created_at ASC").Find(&out).Error; err != nil {
		t.Fatalf("list charges: %v", err)
	}
	return out
}

var card = processors.CheckoutParams{StripePaymentMethodID: "pm_card"}

func outcomes(res OrderResult) map[string]PurchaseOutcome {
	m := map[string]PurchaseOutcome{}
	for _, o := range res.Purchases {
		m[o.PurchaseID] = o
	}
	return m
}

func TestChargeOrderSingleSeller(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	b := f.addPurchase(t, "order", "seller", "ma_1", 500)

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := outcomes(res)
	if out[a.ID].Outcome != OutcomeSuccess || out[b.ID].Outcome != OutcomeSuccess {
		t.Fatalf("expected both purchases successful, got %+v", res.Purchases)
	}

	charges := f.charges(t, "order")
	if len(charges) != 1 {
		t.Fatalf("expected one charge per seller, got %d", len(charges))
	}
	c := charges[0]
	if c.AmountCents != 1500 || c.GumroadAmountCents != 150 || c.State != ChargeSucceeded {
		t.Fatalf("unexpected charge: %+v", c)
	}
	if c.ProcessorTransactionID == nil || !c.OffSession {
		t.Fatalf("expected off-session charge with processor transaction id")
	}
	if f.fake.CreateCount() != 1 {
		t.Fatalf("expected one processor charge, got %d", f.fake.CreateCount())
	}
	req := f.fake.Creates[0]
	if req.AmountCents != 1500 || req.IdempotencyKey != c.ID {
		t.Fatalf("unexpected create request: %+v", req)
	}
}

func TestChargeOrderBypassesProcessorForFreeAndTestPurchases(t *testing.T) {
	f := newFixture(t)
	free := f.addPurchase(t, "order", "seller", "ma_1", 0)
	test := f.addPurchase(t, "order", "seller", "ma_1", 700, func(p *purchases.Purchase) { p.IsTestPurchase = true })

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := outcomes(res)
	if out[free.ID].Outcome != OutcomeSuccess || out[test.ID].Outcome != OutcomeSuccess {
		t.Fatalf("expected bypassed purchases to succeed, got %+v", res.Purchases)
	}
	if f.fake.CreateCount() != 0 || len(f.charges(t, "order")) != 0 {
		t.Fatalf("processor must not be called")
	}
}

func TestChargeOrderMultiSeller(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller_a", "ma_1", 1000)
	b := f.addPurchase(t, "order", "seller_b", "ma_2", 2000)

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := outcomes(res)
	if out[a.ID].Outcome != OutcomeSuccess || out[b.ID].Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %+v", res.Purchases)
	}
	if n := len(f.charges(t, "order")); n != 2 {
		t.Fatalf("expected one charge per seller, got %d", n)
	}
	if len(f.tokens) != 1 || f.tokens[0].Prepared != 1 {
		t.Fatalf("expected the card to be saved before charging several sellers")
	}
	if f.fake.Creates[0].OffSession || !f.fake.Creates[1].OffSession {
		t.Fatalf("expected first charge on-session, later off-session")
	}
}

func TestChargeOrderMerchantAccountMismatchFailsOnlyThatGroup(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller_a", "ma_1", 1000)
	b := f.addPurchase(t, "order", "seller_a", "ma_2", 1000)
	c := f.addPurchase(t, "order", "seller_b", "ma_3", 1000)

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := outcomes(res)
	if out[a.ID].Outcome != OutcomeFailed || out[b.ID].Outcome != OutcomeFailed {
		t.Fatalf("expected mismatched group to fail, got %+v", res.Purchases)
	}
	if out[a.ID].ErrorMessage != processors.GenericErrorMessage {
		t.Fatalf("unexpected message %q", out[a.ID].ErrorMessage)
	}
	if out[c.ID].Outcome != OutcomeSuccess {
		t.Fatalf("other seller must still be charged, got %+v", out[c.ID])
	}
}

func TestChargeOrderDeclined(t *testing.T) {
	f := newFixture(t)
	f.fake.OnCreate = func(processors.CreateChargeRequest) (*processors.ChargeIntent, error) {
		return nil, processors.DeclinedError(processors.Stripe, "insufficient_funds", "Your card has insufficient funds.")
	}
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := outcomes(res)[a.ID]
	if o.Outcome != OutcomeFailed || o.ErrorMessage != "Your card has insufficient funds." {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	p := f.purchase(t, a.ID)
	if p.State != purchases.StateFailed || p.ErrorCode == nil || *p.ErrorCode != "insufficient_funds" {
		t.Fatalf("unexpected purchase: %+v", p)
	}
	if c := f.charges(t, "order")[0]; c.State != ChargeFailed {
		t.Fatalf("expected failed charge, got %s", c.State)
	}

	// a new attempt gets a new charge
	f.fake.OnCreate = nil
	if _, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.fake.CreateCount() != 1 {
		t.Fatalf("terminal purchases must not be charged again")
	}
}

type panickingCreator struct{}

func (panickingCreator) CreateCharge(context.Context, ChargeRequest) (*processors.ChargeIntent, error) {
	panic("processor client exploded")
}

func TestChargeOrderFinalizesAfterPanic(t *testing.T) {
	f := newFixture(t)
	f.orch.creator = panickingCreator{}
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o := outcomes(res)[a.ID]; o.Outcome != OutcomeFailed || o.ErrorMessage != processors.GenericErrorMessage {
		t.Fatalf("expected generic failure, got %+v", o)
	}
	if p := f.purchase(t, a.ID); p.State != purchases.StateFailed {
		t.Fatalf("purchase left %s", p.State)
	}
}

func TestChargeOrderWithoutPaymentMethodFails(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o := outcomes(res)[a.ID]; o.Outcome != OutcomeFailed || o.ErrorMessage != "Please provide a payment method." {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if _, err := f.orch.buildChargeable(context.Background(), ChargeOrderInput{OrderID: "order"}, false); !errors.Is(err, ErrNoPaymentMethod) {
		t.Fatalf("expected ErrNoPaymentMethod, got %v", err)
	}
}

func TestChargeOrderMixedCurrencyFailsThatGroup(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller_a", "ma_1", 1000)
	b := f.addPurchase(t, "order", "seller_a", "ma_1", 1000, func(p *purchases.Purchase) { p.Currency = "eur" })
	c := f.addPurchase(t, "order", "seller_b", "ma_2", 1000)

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := outcomes(res)
	if out[a.ID].Outcome != OutcomeFailed || out[b.ID].Outcome != OutcomeFailed {
		t.Fatalf("expected the mixed-currency group to fail, got %+v", res.Purchases)
	}
	if out[c.ID].Outcome != OutcomeSuccess {
		t.Fatalf("other sellers must still be charged, got %+v", out[c.ID])
	}
	if f.fake.CreateCount() != 1 || f.fake.Creates[0].AmountCents != 1000 {
		t.Fatalf("expected only seller_b to be charged, got %+v", f.fake.Creates)
	}
}

func TestChargeOrderAuthorizationOnlySetsUpCard(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000, func(p *purchases.Purchase) { p.IsFreeTrial = true })

	res, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o := outcomes(res)[a.ID]; o.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if f.fake.CreateCount() != 0 || f.fake.Setups != 1 {
		t.Fatalf("expected only a setup, got %d creates %d setups", f.fake.CreateCount(), f.fake.Setups)
	}
	c := f.charges(t, "order")[0]
	if !c.SetupOnly || c.AmountCents != 0 || c.SetupIntentID == nil {
		t.Fatalf("unexpected charge: %+v", c)
	}
}

func TestChargeOrderRecurringSetsUpFutureCharges(t *testing.T) {
	f := newFixture(t)
	f.addPurchase(t, "order", "seller", "ma_1", 1000, func(p *purchases.Purchase) { p.IsRecurring = true })
	if _, err := f.orch.ChargeOrder(context.Background(), ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.fake.Creates[0].SetupFutureCharges {
		t.Fatalf("recurring purchases must save the card")
	}
}

func requireAction(f *fixture) {
	f.fake.OnCreate = func(processors.CreateChargeRequest) (*processors.ChargeIntent, error) {
		return &processors.ChargeIntent{ID: "pi_sca", ClientSecret: "secret_sca", State: processors.IntentRequiresAction}, nil
	}
	f.fake.OnGet = func(id string) (*processors.ChargeIntent, error) {
		return &processors.ChargeIntent{ID: id, ClientSecret: "secret_sca", State: processors.IntentRequiresAction}, nil
	}
}

func TestChargeOrderRequiresActionSchedulesSingleRecheck(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()

	res, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := outcomes(res)[a.ID]
	if o.Outcome != OutcomeRequiresAction || o.ClientSecret != "secret_sca" {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	if p := f.purchase(t, a.ID); p.State != purchases.StateInProgress {
		t.Fatalf("purchase must stay in progress, got %s", p.State)
	}

	charge := f.charges(t, "order")[0]
	js, err := f.jobs.ListByKind(ctx, JobSCARecheck)
	if err != nil || len(js) != 1 {
		t.Fatalf("expected one recheck job, got %d (%v)", len(js), err)
	}
	if d := js[0].RunAt.Sub(charge.CreatedAt.Add(processors.SCATimeout)); d < -time.Second || d > time.Second {
		t.Fatalf("recheck at %s, want %s after %s", js[0].RunAt, processors.SCATimeout, charge.CreatedAt)
	}

	// the buyer never authenticates
	if err := f.orch.HandleSCARecheck(ctx, json.RawMessage(js[0].PayloadJSON)); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	p := f.purchase(t, a.ID)
	if p.State != purchases.StateFailed || *p.ErrorMessage != scaTimedOutMessage {
		t.Fatalf("expected timeout failure, got %+v", p)
	}
	if len(f.fake.CanceledIntents) != 1 || f.fake.CanceledIntents[0] != "pi_sca" {
		t.Fatalf("expected the intent to be canceled, got %v", f.fake.CanceledIntents)
	}

	// running it again changes nothing
	if err := f.orch.HandleSCARecheck(ctx, json.RawMessage(js[0].PayloadJSON)); err != nil {
		t.Fatalf("second recheck: %v", err)
	}
	if len(f.fake.CanceledIntents) != 1 {
		t.Fatalf("second recheck must be a no-op")
	}
}

func TestConfirmChargeIntentAfterSCA(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, err := f.orch.ConfirmChargeIntent(ctx, a.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if o.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	c := f.charges(t, "order")[0]
	if c.State != ChargeSucceeded || c.ProcessorTransactionID == nil || *c.ProcessorTransactionID != "ch_pi_sca" {
		t.Fatalf("unexpected charge: %+v", c)
	}

	// the timeout check later finds nothing to do
	js, _ := f.jobs.ListByKind(ctx, JobSCARecheck)
	if err := f.orch.HandleSCARecheck(ctx, json.RawMessage(js[0].PayloadJSON)); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if p := f.purchase(t, a.ID); p.State != purchases.StateSuccessful {
		t.Fatalf("recheck must not touch a resolved purchase, got %s", p.State)
	}
}

func TestConfirmChargeIntentDeclined(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	f.fake.OnConfirm = func(string) (*processors.ChargeIntent, error) {
		return nil, processors.DeclinedError(processors.Stripe, "authentication_required", "Your card was declined.")
	}
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o, err := f.orch.ConfirmChargeIntent(ctx, a.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if o.Outcome != OutcomeFailed || o.ErrorMessage != "Your card was declined." {
		t.Fatalf("unexpected outcome: %+v", o)
	}
}

func TestChargeOrderResumesRequiresActionCharge(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card})
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if o := outcomes(res)[a.ID]; o.Outcome != OutcomeRequiresAction {
			t.Fatalf("attempt %d: unexpected outcome %+v", i, o)
		}
	}
	if f.fake.CreateCount() != 1 || len(f.charges(t, "order")) != 1 {
		t.Fatalf("a pending charge must not be created twice")
	}
}

func TestRefundCharge(t *testing.T) {
	f := newFixture(t)
	f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	charge := f.charges(t, "order")[0]

	r, err := f.orch.RefundCharge(ctx, RefundInput{ChargeID: charge.ID, AmountCents: 400, IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	again, err := f.orch.RefundCharge(ctx, RefundInput{ChargeID: charge.ID, AmountCents: 400, IdempotencyKey: "k1"})
	if err != nil || again.ID != r.ID {
		t.Fatalf("expected the same refund back, got %v %v", again.ID, err)
	}
	if len(f.fake.Refunds) != 1 {
		t.Fatalf("expected one processor refund, got %d", len(f.fake.Refunds))
	}

	if _, err := f.orch.RefundCharge(ctx, RefundInput{ChargeID: charge.ID, AmountCents: 700, IdempotencyKey: "k2"}); !errors.Is(err, ErrRefundExceedsCharge) {
		t.Fatalf("expected ErrRefundExceedsCharge, got %v", err)
	}
	rest, err := f.orch.RefundCharge(ctx, RefundInput{ChargeID: charge.ID, IdempotencyKey: "k3"})
	if err != nil || rest.AmountCents != 600 {
		t.Fatalf("expected remaining 600 refunded, got %d %v", rest.AmountCents, err)
	}
}

func TestSCARecheckFailsPurchaseWhenIntentLookupFails(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	f.fake.OnGet = func(string) (*processors.ChargeIntent, error) {
		return nil, processors.TechnicalError(processors.Stripe, errors.New("503"))
	}

	js, _ := f.jobs.ListByKind(ctx, JobSCARecheck)
	if err := f.orch.HandleSCARecheck(ctx, json.RawMessage(js[0].PayloadJSON)); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	p := f.purchase(t, a.ID)
	if p.State != purchases.StateFailed || *p.ErrorMessage != scaTimedOutMessage {
		t.Fatalf("expected timeout failure, got %+v", p)
	}
	if c := f.charges(t, "order")[0]; c.State != ChargeFailed {
		t.Fatalf("expected failed charge, got %s", c.State)
	}
	if len(f.fake.CanceledIntents) != 1 {
		t.Fatalf("expected a cancel attempt, got %v", f.fake.CanceledIntents)
	}
}

func TestSCARecheckKeepsChargeThatSucceededMeanwhile(t *testing.T) {
	f := newFixture(t)
	requireAction(f)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()
	if _, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	charge := f.charges(t, "order")[0]

	// the success webhook lands after the recheck read the charge
	f.fake.OnGet = func(id string) (*processors.ChargeIntent, error) {
		err := NewEventConsumer(f.orch).Handle(ctx, processors.ChargeEvent{
			ProcessorID:     processors.Stripe,
			ChargeID:        "ch_race",
			PaymentIntentID: id,
			Type:            processors.EventChargeSucceeded,
		})
		if err != nil {
			t.Errorf("webhook: %v", err)
		}
		return &processors.ChargeIntent{ID: id, State: processors.IntentRequiresAction}, nil
	}

	raw, _ := json.Marshal(scaRecheckPayload{ChargeID: charge.ID})
	if err := f.orch.HandleSCARecheck(ctx, raw); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if c := f.charges(t, "order")[0]; c.State != ChargeSucceeded {
		t.Fatalf("a succeeded charge must not be failed, got %s", c.State)
	}
	if p := f.purchase(t, a.ID); p.State != purchases.StateSuccessful {
		t.Fatalf("expected purchase successful, got %s", p.State)
	}
}

func TestChargeOrderLeavesInFlightChargeAlone(t *testing.T) {
	f := newFixture(t)
	a := f.addPurchase(t, "order", "seller", "ma_1", 1000)
	ctx := context.Background()

	now := time.Now()
	inflight := Charge{
		ID:                uuid.NewString(),
		OrderID:           "order",
		SellerID:          "seller",
		MerchantAccountID: "ma_1",
		ProcessorID:       "stripe",
		AmountCents:       1000,
		Currency:          "usd",
		State:             ChargeInProgress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := f.db.Create(&inflight).Error; err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if err := purchases.NewRepo(f.db).AttachCharge(ctx, []string{a.ID}, inflight.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}

	res, err := f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o := outcomes(res)[a.ID]; o.Outcome != OutcomeProcessing {
		t.Fatalf("expected processing outcome, got %+v", o)
	}
	if p := f.purchase(t, a.ID); p.State != purchases.StateInProgress {
		t.Fatalf("purchase must stay in progress, got %s", p.State)
	}
	if c := f.charges(t, "order")[0]; c.State != ChargeInProgress || f.fake.CreateCount() != 0 {
		t.Fatalf("live attempt must not be touched: %s, %d creates", c.State, f.fake.CreateCount())
	}

	// once the attempt is stale and the processor has no record, it is failed
	stale := now.Add(-2 * chargeAttemptWindow)
	if err := f.db.Model(&Charge{}).Where("id = ?", inflight.ID).Update("updated_at", stale).Error; err != nil {
		t.Fatalf("age charge: %v", err)
	}
	res, err = f.orch.ChargeOrder(ctx, ChargeOrderInput{OrderID: "order", Params: card})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o := outcomes(res)[a.ID]; o.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", o)
	}
	if c := f.charges(t, "order")[0]; c.State != ChargeFailed {
		t.Fatalf("expected stale charge failed, got %s", c.State)
	}
}
