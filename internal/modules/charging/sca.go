package charging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/modules/purchases"
)

// ConfirmChargeIntent is called once the buyer finished the SCA challenge in
// the browser. It reports the purchase's outcome after asking the processor.
func (o *Orchestrator) ConfirmChargeIntent(ctx context.Context, purchaseID string) (PurchaseOutcome, error) {
	p, err := o.purchases.Get(ctx, purchaseID)
	if err != nil {
		return PurchaseOutcome{}, err
	}
	if p.ChargeID == nil {
		return outcomeOf(p, ""), nil
	}
	charge, err := o.getCharge(ctx, *p.ChargeID)
	if err != nil {
		return PurchaseOutcome{}, err
	}
	if charge.State != ChargeRequiresAction {
		return outcomeOf(p, ""), nil
	}

	ma, err := o.accounts.Get(ctx, charge.MerchantAccountID)
	if err != nil {
		return PurchaseOutcome{}, err
	}
	pid := processors.ID(charge.ProcessorID)
	run := &orderRun{clientSecrets: map[string]string{}, errs: map[string]error{}}

	var applyErr error
	if charge.SetupOnly {
		var si *processors.SetupIntent
		if si, err = o.dispatcher.GetSetupIntent(ctx, pid, ma, charge.IntentID()); err == nil {
			applyErr = o.applySetupIntent(ctx, run, charge, si)
		}
	} else {
		var ci *processors.ChargeIntent
		if ci, err = o.dispatcher.ConfirmPaymentIntent(ctx, pid, ma, charge.IntentID()); err == nil {
			applyErr = o.applyChargeIntent(ctx, run, charge, ci)
		}
	}
	if err != nil {
		// the processor refused the confirmation: the purchase failed
		if o.failCharge(ctx, charge, err) {
			code, msg := publicError(err)
			if ferr := o.failPurchases(ctx, charge, code, msg); ferr != nil {
				return PurchaseOutcome{}, ferr
			}
		}
	} else if applyErr != nil {
		code, msg := publicError(applyErr)
		if ferr := o.failPurchases(ctx, charge, code, msg); ferr != nil {
			return PurchaseOutcome{}, ferr
		}
	}

	p, err = o.purchases.Get(ctx, purchaseID)
	if err != nil {
		return PurchaseOutcome{}, err
	}
	return outcomeOf(p, run.clientSecrets[p.ID]), nil
}

// HandleSCARecheck runs once, SCATimeout after the charge was created. A
// charge the buyer already resolved is left alone. Anything else, including a
// charge whose intent cannot be looked up, is canceled and failed: there is no
// second re-check.
func (o *Orchestrator) HandleSCARecheck(ctx context.Context, raw json.RawMessage) error {
	var payload scaRecheckPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("charging: bad sca recheck payload: %w", err)
	}
	charge, err := o.getCharge(ctx, payload.ChargeID)
	if err != nil {
		return err
	}
	if charge.State != ChargeRequiresAction {
		o.logger.InfoContext(ctx, "sca recheck: charge already resolved", "charge_id", charge.ID, "state", charge.State)
		return nil
	}
	pid := processors.ID(charge.ProcessorID)
	log := o.logger.With("charge_id", charge.ID, "intent_id", charge.IntentID())

	ma, err := o.accounts.Get(ctx, charge.MerchantAccountID)
	if err != nil {
		log.WarnContext(ctx, "sca recheck: merchant account lookup failed, intent left uncanceled", "err", err)
		return o.timeOut(ctx, charge)
	}

	var cancelErr error
	if charge.SetupOnly {
		si, err := o.dispatcher.GetSetupIntent(ctx, pid, ma, charge.IntentID())
		switch {
		case err != nil:
			log.WarnContext(ctx, "sca recheck: setup intent lookup failed", "err", err)
		case si.Succeeded():
			return o.applySetupIntent(ctx, nil, charge, si)
		}
		cancelErr = o.dispatcher.CancelSetupIntent(ctx, pid, ma, charge.IntentID())
	} else {
		ci, err := o.dispatcher.GetChargeIntent(ctx, pid, ma, charge.IntentID())
		switch {
		case err != nil:
			log.WarnContext(ctx, "sca recheck: payment intent lookup failed", "err", err)
		case ci.Succeeded():
			return o.applyChargeIntent(ctx, nil, charge, ci)
		}
		cancelErr = o.dispatcher.CancelPaymentIntent(ctx, pid, ma, charge.IntentID())
	}
	if cancelErr != nil && !errors.Is(cancelErr, processors.ErrNotSupported) {
		log.WarnContext(ctx, "sca recheck: cancel intent failed", "err", cancelErr)
	}
	return o.timeOut(ctx, charge)
}

func (o *Orchestrator) timeOut(ctx context.Context, charge Charge) error {
	o.logger.InfoContext(ctx, "sca timed out", "charge_id", charge.ID)
	cause := processors.ValidationError(processors.ID(charge.ProcessorID), "sca_timeout", scaTimedOutMessage)
	if !o.failCharge(ctx, charge, cause) {
		return nil
	}
	return o.failPurchases(ctx, charge, "sca_timeout", scaTimedOutMessage)
}

func outcomeOf(p purchases.Purchase, clientSecret string) PurchaseOutcome {
	out := PurchaseOutcome{PurchaseID: p.ID, ChargeID: deref(p.ChargeID)}
	switch p.State {
	case purchases.StateSuccessful:
		out.Outcome = OutcomeSuccess
	case purchases.StateFailed:
		out.Outcome = OutcomeFailed
		out.ErrorMessage = deref(p.ErrorMessage)
	default:
		out.Outcome = OutcomeRequiresAction
		out.ClientSecret = clientSecret
	}
	return out
}
