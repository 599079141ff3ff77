package charging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/modules/purchases"
)

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeRequiresAction Outcome = "requires_action"
	OutcomeFailed         Outcome = "failed"
	// another request is still charging this purchase
	OutcomeProcessing Outcome = "processing"
)

type PurchaseOutcome struct {
	PurchaseID   string  `json:"purchase_id"`
	Outcome      Outcome `json:"outcome"`
	ChargeID     string  `json:"charge_id,omitempty"`
	ClientSecret string  `json:"client_secret,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

type OrderResult struct {
	OrderID   string            `json:"order_id"`
	Purchases []PurchaseOutcome `json:"purchases"`
}

type ChargeOrderInput struct {
	OrderID string
	// Params are the raw tokens from the checkout form.
	Params processors.CheckoutParams
	// StoredPaymentMethod, when set, is used instead of Params.
	StoredPaymentMethod *processors.StoredPaymentMethod
	Description         string
}

type Orchestrator struct {
	db         *gorm.DB
	purchases  *purchases.Repo
	accounts   MerchantAccounts
	dispatcher *processors.Dispatcher
	creator    ChargeCreator
	scheduler  jobs.Scheduler
	logger     *slog.Logger
	now        func() time.Time
}

func NewOrchestrator(gdb *gorm.DB, d *processors.Dispatcher, creator ChargeCreator, accounts MerchantAccounts, scheduler jobs.Scheduler) *Orchestrator {
	return &Orchestrator{
		db:         gdb,
		purchases:  purchases.NewRepo(gdb),
		accounts:   accounts,
		dispatcher: d,
		creator:    creator,
		scheduler:  scheduler,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

func (o *Orchestrator) SetLogger(l *slog.Logger) { o.logger = l }

// orderRun collects what happened to each purchase while groups are processed.
type orderRun struct {
	clientSecrets map[string]string
	errs          map[string]error
	busy          map[string]bool
	fatal         error
}

func (r *orderRun) failAll(ps []purchases.Purchase, err error) {
	for _, p := range ps {
		if _, ok := r.errs[p.ID]; !ok {
			r.errs[p.ID] = err
		}
	}
}

type sellerGroup struct {
	sellerID  string
	purchases []purchases.Purchase
}

func (g sellerGroup) ids() []string {
	out := make([]string, len(g.purchases))
	for i, p := range g.purchases {
		out[i] = p.ID
	}
	return out
}

// ChargeOrder charges every in-progress purchase of the order, one charge per
// seller. Whatever happens while charging, every purchase it started with
// ends successful, failed, or waiting on an SCA challenge.
func (o *Orchestrator) ChargeOrder(ctx context.Context, in ChargeOrderInput) (res OrderResult, err error) {
	all, err := o.purchases.ListByOrder(ctx, in.OrderID)
	if err != nil {
		return OrderResult{}, err
	}
	if len(all) == 0 {
		return OrderResult{}, ErrOrderNotFound
	}

	run := &orderRun{clientSecrets: map[string]string{}, errs: map[string]error{}, busy: map[string]bool{}}
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "charge order panicked", "order_id", in.OrderID, "panic", r)
			run.fatal = fmt.Errorf("charging: panic: %v", r)
		}
		res, err = o.finalize(ctx, in.OrderID, all, run)
	}()

	var submitted []purchases.Purchase
	for _, p := range all {
		if !p.Terminal() {
			submitted = append(submitted, p)
		}
	}
	o.process(ctx, in, run, submitted)
	return res, err
}

func (o *Orchestrator) process(ctx context.Context, in ChargeOrderInput, run *orderRun, submitted []purchases.Purchase) {
	var paid []purchases.Purchase
	for _, p := range submitted {
		if !p.SkipsProcessor() {
			paid = append(paid, p)
			continue
		}
		if _, err := o.purchases.MarkSuccessful(ctx, p.ID); err != nil {
			run.errs[p.ID] = err
			continue
		}
		o.logger.InfoContext(ctx, "purchase resolved without processor", "purchase_id", p.ID, "order_id", in.OrderID)
	}

	groups := groupBySeller(paid)
	if len(groups) == 0 {
		return
	}
	multiSeller := len(groups) > 1

	chargeable, err := o.buildChargeable(ctx, in, multiSeller)
	if err != nil {
		o.logger.WarnContext(ctx, "could not build chargeable", "order_id", in.OrderID, "err", err)
		run.failAll(paid, err)
		return
	}

	for i, g := range groups {
		err := o.processGroupSafely(ctx, in, run, g, chargeable, multiSeller, i == 0)
		if errors.Is(err, ErrChargeInFlight) {
			o.logger.InfoContext(ctx, "seller group is being charged by another request", "order_id", in.OrderID, "seller_id", g.sellerID)
			for _, id := range g.ids() {
				run.busy[id] = true
			}
			continue
		}
		if err != nil {
			o.logger.ErrorContext(ctx, "seller group charge failed", "order_id", in.OrderID, "seller_id", g.sellerID, "err", err)
			run.failAll(g.purchases, err)
		}
	}
}

// Orders spanning several sellers are charged once per seller, so the card
// must be saved before the first charge.
func (o *Orchestrator) buildChargeable(ctx context.Context, in ChargeOrderInput, multiSeller bool) (*processors.Chargeable, error) {
	var (
		c   *processors.Chargeable
		err error
	)
	switch {
	case in.StoredPaymentMethod != nil:
		c, err = o.dispatcher.ChargeableForData(ctx, *in.StoredPaymentMethod)
	case !in.Params.Empty():
		c, err = o.dispatcher.ChargeableForParams(ctx, in.Params)
	default:
		pe := processors.ValidationError("", "missing_payment_method", "Please provide a payment method.")
		pe.Err = ErrNoPaymentMethod
		return nil, pe
	}
	if err != nil {
		return nil, err
	}
	if multiSeller && !c.HasReusableToken() {
		if err := c.Prepare(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (o *Orchestrator) processGroupSafely(ctx context.Context, in ChargeOrderInput, run *orderRun, g sellerGroup, c *processors.Chargeable, multiSeller, first bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("charging: panic in seller group %s: %v", g.sellerID, r)
		}
	}()
	return o.processGroup(ctx, in, run, g, c, multiSeller, first)
}

func (o *Orchestrator) processGroup(ctx context.Context, in ChargeOrderInput, run *orderRun, g sellerGroup, c *processors.Chargeable, multiSeller, first bool) error {
	maID, currency := g.purchases[0].MerchantAccountID, g.purchases[0].Currency
	for _, p := range g.purchases[1:] {
		if p.MerchantAccountID != maID {
			return fmt.Errorf("%w: %s vs %s", ErrMerchantAccountMismatch, maID, p.MerchantAccountID)
		}
		if !strings.EqualFold(p.Currency, currency) {
			return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, currency, p.Currency)
		}
	}
	ma, err := o.accounts.Get(ctx, maID)
	if err != nil {
		return err
	}

	charge, existing, err := o.openCharge(ctx, in.OrderID, g, ma, !(multiSeller && first))
	if err != nil {
		return err
	}
	if existing {
		return o.resumeCharge(ctx, run, charge)
	}

	setupFuture := needsFutureSetup(g.purchases)
	var mandate *processors.MandateOptions
	if setupFuture && c.RequiresMandate() {
		mandate = &processors.MandateOptions{
			AmountCents: maxPrice(g.purchases),
			Currency:    charge.Currency,
			Interval:    "sporadic",
			Reference:   charge.ID,
		}
	}

	if charge.SetupOnly {
		si, err := o.dispatcher.SetupFutureCharges(ctx, ma.ProcessorID, ma, c, mandate)
		if err != nil {
			o.failCharge(ctx, charge, err)
			return err
		}
		return o.applySetupIntent(ctx, run, charge, si)
	}

	intent, err := o.creator.CreateCharge(ctx, ChargeRequest{
		ChargeID:           charge.ID,
		MerchantAccount:    ma,
		Chargeable:         c,
		AmountCents:        charge.AmountCents,
		GumroadAmountCents: charge.GumroadAmountCents,
		Currency:           charge.Currency,
		Description:        in.Description,
		SetupFutureCharges: setupFuture,
		OffSession:         charge.OffSession,
		Mandate:            mandate,
	})
	if err != nil {
		o.failCharge(ctx, charge, err)
		return err
	}
	return o.applyChargeIntent(ctx, run, charge, intent)
}

// openCharge locks the group's purchases and returns the live charge for
// (order, seller), creating it when none exists. A failed charge is never
// reused; the next attempt gets a new one.
func (o *Orchestrator) openCharge(ctx context.Context, orderID string, g sellerGroup, ma processors.MerchantAccount, offSession bool) (Charge, bool, error) {
	var (
		charge   Charge
		existing bool
	)
	err := db.WithTxRetry(ctx, o.db, 3, func(tx *gorm.DB) error {
		repo := o.purchases.WithTx(tx)
		if _, err := repo.LockByIDs(ctx, g.ids()); err != nil {
			return err
		}

		var found Charge
		e := tx.Where("order_id = ? AND seller_id = ? AND state <> ?", orderID, g.sellerID, ChargeFailed).
			Order("created_at DESC").
			First(&found).Error
		if e == nil {
			charge, existing = found, true
			return nil
		}
		if !errors.Is(e, gorm.ErrRecordNotFound) {
			return e
		}

		now := o.now()
		charge = Charge{
			ID:                uuid.NewString(),
			OrderID:           orderID,
			SellerID:          g.sellerID,
			MerchantAccountID: ma.ID,
			ProcessorID:       ma.ProcessorID.String(),
			Currency:          g.purchases[0].Currency,
			State:             ChargeInProgress,
			SetupOnly:         true,
			OffSession:        offSession,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		for _, p := range g.purchases {
			if p.AuthorizationOnly() {
				continue
			}
			charge.SetupOnly = false
			charge.AmountCents += p.PriceCents
			charge.GumroadAmountCents += p.GumroadFeeCents
		}
		if err := tx.Create(&charge).Error; err != nil {
			return err
		}
		return repo.AttachCharge(ctx, g.ids(), charge.ID)
	})
	return charge, existing, err
}

// resumeCharge picks up a charge a previous request created.
func (o *Orchestrator) resumeCharge(ctx context.Context, run *orderRun, charge Charge) error {
	ma, err := o.accounts.Get(ctx, charge.MerchantAccountID)
	if err != nil {
		return err
	}
	pid := processors.ID(charge.ProcessorID)

	switch {
	case charge.State == ChargeSucceeded:
		return o.succeedPurchases(ctx, charge)

	case charge.SetupOnly && charge.SetupIntentID != nil:
		si, err := o.dispatcher.GetSetupIntent(ctx, pid, ma, *charge.SetupIntentID)
		if err != nil {
			return err
		}
		return o.applySetupIntent(ctx, run, charge, si)

	case charge.PaymentIntentID != nil:
		ci, err := o.dispatcher.GetChargeIntent(ctx, pid, ma, *charge.PaymentIntentID)
		if err != nil {
			return err
		}
		return o.applyChargeIntent(ctx, run, charge, ci)
	}

	if charge.State == ChargeInProgress && o.now().Sub(charge.UpdatedAt) < chargeAttemptWindow {
		return ErrChargeInFlight
	}

	// The earlier request died before recording the processor's answer.
	found, err := o.dispatcher.SearchCharge(ctx, pid, processors.SearchChargeParams{MerchantAccount: ma, Reference: charge.ID})
	if err != nil {
		return err
	}
	if found != nil && o.isSuccess(pid, found.Status) {
		return o.succeedCharge(ctx, charge, found)
	}
	err = processors.TechnicalError(pid, errors.New("charge attempt did not complete"))
	if !o.failCharge(ctx, charge, err) {
		return o.succeedPurchases(ctx, charge)
	}
	return err
}

func (o *Orchestrator) isSuccess(id processors.ID, status string) bool {
	statuses, err := o.dispatcher.SuccessStatuses(id)
	if err != nil {
		return false
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (o *Orchestrator) finalize(ctx context.Context, orderID string, all []purchases.Purchase, run *orderRun) (OrderResult, error) {
	res := OrderResult{OrderID: orderID}
	var errs []error
	for _, p := range all {
		out := PurchaseOutcome{PurchaseID: p.ID}
		cur, err := o.purchases.Get(ctx, p.ID)
		if err != nil {
			errs = append(errs, err)
			cur = p
		}
		if cur.ChargeID != nil {
			out.ChargeID = *cur.ChargeID
		}

		switch {
		case cur.State == purchases.StateSuccessful:
			out.Outcome = OutcomeSuccess
		case cur.State == purchases.StateFailed:
			out.Outcome = OutcomeFailed
			out.ErrorMessage = deref(cur.ErrorMessage)
		case run.clientSecrets[p.ID] != "":
			out.Outcome = OutcomeRequiresAction
			out.ClientSecret = run.clientSecrets[p.ID]
		case run.busy[p.ID]:
			out.Outcome = OutcomeProcessing
		default:
			cause := run.errs[p.ID]
			if cause == nil {
				cause = run.fatal
			}
			code, msg := publicError(cause)
			if _, err := o.purchases.MarkFailed(ctx, p.ID, code, msg); err != nil {
				errs = append(errs, err)
			}
			o.logger.WarnContext(ctx, "purchase failed", "purchase_id", p.ID, "order_id", orderID, "err", cause)
			out.Outcome = OutcomeFailed
			out.ErrorMessage = msg
		}
		res.Purchases = append(res.Purchases, out)
	}
	return res, errors.Join(errs...)
}

func publicError(err error) (code, msg string) {
	if err == nil {
		return "", processors.GenericErrorMessage
	}
	pe := processors.Classify(err)
	return pe.Code, pe.PublicMessage()
}

func groupBySeller(ps []purchases.Purchase) []sellerGroup {
	var groups []sellerGroup
	idx := map[string]int{}
	for _, p := range ps {
		i, ok := idx[p.SellerID]
		if !ok {
			i = len(groups)
			idx[p.SellerID] = i
			groups = append(groups, sellerGroup{sellerID: p.SellerID})
		}
		groups[i].purchases = append(groups[i].purchases, p)
	}
	return groups
}

// The card is saved for later when a signed-in buyer asked for it, or when
// the product will charge it again (preorders, subscriptions).
func needsFutureSetup(ps []purchases.Purchase) bool {
	for _, p := range ps {
		if (p.SaveCard && p.BuyerID != nil) || p.IsPreorderAuthorization || p.IsRecurring {
			return true
		}
	}
	return false
}

func maxPrice(ps []purchases.Purchase) int64 {
	var m int64
	for _, p := range ps {
		if p.PriceCents > m {
			m = p.PriceCents
		}
	}
	return m
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
