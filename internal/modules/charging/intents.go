package charging

import (
	"context"
	"errors"
	"slices"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

const JobSCARecheck = "charging.sca_timeout_recheck"

type scaRecheckPayload struct {
	ChargeID string `json:"charge_id"`
}

func (o *Orchestrator) applyChargeIntent(ctx context.Context, run *orderRun, charge Charge, ci *processors.ChargeIntent) error {
	if ci.ID != "" && (charge.PaymentIntentID == nil || *charge.PaymentIntentID != ci.ID) {
		if err := o.updateCharge(ctx, charge.ID, map[string]any{"payment_intent_id": ci.ID}); err != nil {
			return err
		}
		id := ci.ID
		charge.PaymentIntentID = &id
	}

	switch ci.State {
	case processors.IntentSucceeded:
		return o.succeedCharge(ctx, charge, ci.Charge)
	case processors.IntentRequiresAction:
		return o.requireAction(ctx, run, charge, ci.ClientSecret)
	default:
		err := processors.TechnicalError(processors.ID(charge.ProcessorID), errors.New("payment intent "+string(ci.State)))
		if !o.failCharge(ctx, charge, err) {
			return nil
		}
		return err
	}
}

func (o *Orchestrator) applySetupIntent(ctx context.Context, run *orderRun, charge Charge, si *processors.SetupIntent) error {
	if si.ID != "" && (charge.SetupIntentID == nil || *charge.SetupIntentID != si.ID) {
		if err := o.updateCharge(ctx, charge.ID, map[string]any{"setup_intent_id": si.ID}); err != nil {
			return err
		}
		id := si.ID
		charge.SetupIntentID = &id
	}

	switch si.State {
	case processors.IntentSucceeded:
		return o.succeedCharge(ctx, charge, nil)
	case processors.IntentRequiresAction:
		return o.requireAction(ctx, run, charge, si.ClientSecret)
	default:
		err := processors.TechnicalError(processors.ID(charge.ProcessorID), errors.New("setup intent "+string(si.State)))
		if !o.failCharge(ctx, charge, err) {
			return nil
		}
		return err
	}
}

// requireAction parks the charge until the buyer completes SCA and schedules
// the single timeout re-check.
func (o *Orchestrator) requireAction(ctx context.Context, run *orderRun, charge Charge, clientSecret string) error {
	if charge.State != ChargeRequiresAction {
		moved, state, err := o.transitionCharge(ctx, charge.ID, []string{ChargeInProgress}, map[string]any{"state": ChargeRequiresAction})
		if err != nil {
			return err
		}
		if !moved && state != ChargeRequiresAction {
			o.logger.InfoContext(ctx, "charge resolved before it could wait for action", "charge_id", charge.ID, "state", state)
			return nil
		}
	}
	if _, err := o.scheduler.Enqueue(ctx, jobs.Job{
		Kind:      JobSCARecheck,
		Payload:   scaRecheckPayload{ChargeID: charge.ID},
		RunAt:     charge.CreatedAt.Add(processors.SCATimeout),
		UniqueKey: JobSCARecheck + ":" + charge.ID,
	}); err != nil {
		return err
	}

	ps, err := o.purchases.ListByCharge(ctx, charge.ID)
	if err != nil {
		return err
	}
	if run != nil {
		for _, p := range ps {
			run.clientSecrets[p.ID] = clientSecret
		}
	}
	o.logger.InfoContext(ctx, "charge requires action", "charge_id", charge.ID, "purchases", len(ps))
	return nil
}

func (o *Orchestrator) succeedCharge(ctx context.Context, charge Charge, pc *processors.Charge) error {
	upd := map[string]any{"state": ChargeSucceeded, "error_message": nil}
	if pc != nil {
		upd["processor_transaction_id"] = pc.ID
		upd["flow_of_funds"] = fofJSON(pc.FlowOfFunds)
	}
	moved, state, err := o.transitionCharge(ctx, charge.ID, liveChargeStates, upd)
	if err != nil {
		return err
	}
	if !moved && state != ChargeSucceeded {
		// money moved on a charge already failed here; needs a human
		o.logger.ErrorContext(ctx, "processor reported success on a resolved charge", "charge_id", charge.ID, "state", state)
		return nil
	}
	return o.succeedPurchases(ctx, charge)
}

func (o *Orchestrator) succeedPurchases(ctx context.Context, charge Charge) error {
	ps, err := o.purchases.ListByCharge(ctx, charge.ID)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range ps {
		changed, err := o.purchases.MarkSuccessful(ctx, p.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			o.logger.InfoContext(ctx, "purchase successful", "purchase_id", p.ID, "charge_id", charge.ID)
		}
	}
	return errors.Join(errs...)
}

// failCharge records the failure on the charge. Purchases are failed by the
// caller so each gets the message meant for it. It reports false when the
// charge had already succeeded; the caller must then leave purchases alone.
func (o *Orchestrator) failCharge(ctx context.Context, charge Charge, cause error) bool {
	_, msg := publicError(cause)
	moved, state, err := o.transitionCharge(ctx, charge.ID, liveChargeStates, map[string]any{
		"state":         ChargeFailed,
		"error_message": db.Truncate(msg, 255),
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to record charge failure", "charge_id", charge.ID, "err", err)
		return true
	}
	if !moved && state == ChargeSucceeded {
		o.logger.InfoContext(ctx, "charge already succeeded, failure dropped", "charge_id", charge.ID)
		return false
	}
	return true
}

func (o *Orchestrator) failPurchases(ctx context.Context, charge Charge, code, msg string) error {
	ps, err := o.purchases.ListByCharge(ctx, charge.ID)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range ps {
		if _, err := o.purchases.MarkFailed(ctx, p.ID, code, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// updateCharge writes columns that do not change the charge's state.
func (o *Orchestrator) updateCharge(ctx context.Context, id string, upd map[string]any) error {
	upd["updated_at"] = o.now()
	return o.db.WithContext(ctx).Model(&Charge{}).Where("id = ?", id).Updates(upd).Error
}

// liveChargeStates are the states a processor answer may still move.
var liveChargeStates = []string{ChargeInProgress, ChargeRequiresAction}

// transitionCharge applies upd under a row lock, only while the charge is in
// one of from. It returns the state the charge is left in.
func (o *Orchestrator) transitionCharge(ctx context.Context, id string, from []string, upd map[string]any) (bool, string, error) {
	var (
		moved bool
		state string
	)
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Charge
		if err := db.ForUpdate(tx).Select("id", "state").First(&c, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChargeNotFound
			}
			return err
		}
		state = c.State
		if !slices.Contains(from, c.State) {
			return nil
		}
		upd["updated_at"] = o.now()
		res := tx.Model(&Charge{}).Where("id = ? AND state IN ?", id, from).Updates(upd)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		moved = true
		if next, ok := upd["state"].(string); ok {
			state = next
		}
		return nil
	})
	return moved, state, err
}

func (o *Orchestrator) getCharge(ctx context.Context, id string) (Charge, error) {
	var c Charge
	err := o.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Charge{}, ErrChargeNotFound
	}
	return c, err
}
