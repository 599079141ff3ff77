package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/alerts"
	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
	"github.com/zandy2test/gumroad-sub037/internal/modules/payouts"
)

// HandleIPN applies a MassPay IPN. Lines for unknown unique ids are ignored.
func (p *Processor) HandleIPN(ctx context.Context, form url.Values) error {
	items, err := ParseIPN(form)
	if err != nil {
		return err
	}
	var errs []error
	for _, it := range items {
		if err := p.reconcile(ctx, it); err != nil {
			p.logger.ErrorContext(ctx, "ipn line failed", "unique_id", it.UniqueID, "status", it.Status, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) reconcile(ctx context.Context, it IPNItem) error {
	pay, split, err := p.repo.FindByUniqueID(ctx, it.UniqueID)
	if errors.Is(err, payouts.ErrPaymentNotFound) {
		p.logger.WarnContext(ctx, "ipn for unknown payout", "unique_id", it.UniqueID)
		return nil
	}
	if err != nil {
		return err
	}

	if it.Status == statusPending {
		return p.verifyPending(ctx, pay, split, it.UniqueID, it.TransactionID, it.AmountCents)
	}
	state, ok := stateForStatus(it.Status)
	if !ok {
		p.logger.WarnContext(ctx, "ipn with unhandled status", "unique_id", it.UniqueID, "status", it.Status)
		return nil
	}
	reason := ""
	if state == payouts.StateFailed {
		reason = strings.TrimSpace(it.Status + " " + it.ReasonCode)
	}
	return p.applyState(ctx, pay.ID, split, state, it.TransactionID, reason)
}

// applyState moves the payment (or one of its chunks) under the payment's row
// lock. Terminal records are left as they are.
func (p *Processor) applyState(ctx context.Context, paymentID string, split *payouts.SplitPayment, state, txnID, reason string) error {
	var mixed *payouts.Payment
	err := db.WithTxRetry(ctx, p.db, 3, func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		pay, err := repo.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if pay.Terminal() {
			return nil
		}

		if split == nil {
			switch state {
			case payouts.StateCompleted:
				return repo.CompletePayment(ctx, pay, txnID)
			case payouts.StateFailed:
				return repo.FailPayment(ctx, pay.ID, reason)
			default:
				return repo.UpdatePayment(ctx, pay.ID, withTxn(map[string]any{"state": state}, txnID))
			}
		}

		s, err := repo.LockSplit(ctx, split.ID)
		if err != nil {
			return err
		}
		if s.Terminal() {
			return nil
		}
		upd := withTxn(map[string]any{"state": state}, txnID)
		if reason != "" {
			b, _ := json.Marshal([]payouts.LineError{{Code: "ipn", LongMessage: reason}})
			upd["errors"] = datatypes.JSON(b)
		}
		if err := repo.UpdateSplit(ctx, s.ID, upd); err != nil {
			return err
		}

		splits, err := repo.ListSplits(ctx, pay.ID)
		if err != nil {
			return err
		}
		switch payouts.DeriveSplitState(splits) {
		case payouts.SplitCompleted:
			return repo.CompletePayment(ctx, pay, "")
		case payouts.SplitFailed:
			return repo.FailPayment(ctx, pay.ID, "every split chunk failed")
		case payouts.SplitMixed:
			mixed = &pay
		}
		return nil
	})
	if err != nil {
		return err
	}

	if mixed != nil {
		// left unresolved on purpose: someone has to look at what was paid
		splits, _ := p.repo.ListSplits(ctx, mixed.ID)
		p.alert(ctx, alerts.Alert{
			Kind:    AlertMixedSplit,
			Subject: "Split payout needs manual reconciliation",
			Body:    "Some chunks of a split payout completed and others failed.",
			Fields: map[string]string{
				"payment_id": mixed.ID,
				"payee_id":   mixed.PayeeID,
				"states":     splitStates(splits),
			},
		})
	}
	return nil
}

// verifyPending double-checks a Pending report, which PayPal also sends for
// transfers that already resolved. If the lookup is not conclusive a single
// re-check is scheduled.
func (p *Processor) verifyPending(ctx context.Context, pay payouts.Payment, split *payouts.SplitPayment, uniqueID, txnID string, amountCents int64) error {
	if pay.Terminal() || (split != nil && split.Terminal()) {
		return nil
	}
	if state, found := p.search(ctx, pay, txnID, amountCents); found {
		return p.applyState(ctx, pay.ID, split, state, txnID, "")
	}

	_, err := p.scheduler.Enqueue(ctx, jobs.Job{
		Kind:      payouts.JobPendingRecheck,
		Payload:   payouts.PendingRecheckPayload{UniqueID: uniqueID, TransactionID: txnID},
		RunAt:     p.now().Add(p.cfg.PendingRecheckDelay),
		UniqueKey: payouts.JobPendingRecheck + ":" + uniqueID,
	})
	if err == nil {
		p.logger.InfoContext(ctx, "pending payout re-check scheduled", "unique_id", uniqueID, "delay", p.cfg.PendingRecheckDelay)
	}
	return err
}

// HandlePendingRecheck is the payouts.pending_recheck job. A payout still
// pending after the delay is escalated, not guessed.
func (p *Processor) HandlePendingRecheck(ctx context.Context, raw json.RawMessage) error {
	var payload payouts.PendingRecheckPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("paypal: bad pending recheck payload: %w", err)
	}
	pay, split, err := p.repo.FindByUniqueID(ctx, payload.UniqueID)
	if err != nil {
		return err
	}
	if pay.Terminal() || (split != nil && split.Terminal()) {
		return nil
	}

	amount := pay.AmountCents
	if split != nil {
		amount = split.AmountCents
	}
	if state, found := p.search(ctx, pay, payload.TransactionID, amount); found {
		return p.applyState(ctx, pay.ID, split, state, payload.TransactionID, "")
	}
	p.alert(ctx, alerts.Alert{
		Kind:    AlertStillPending,
		Subject: "Payout still pending after re-check",
		Fields: map[string]string{
			"payment_id":     pay.ID,
			"unique_id":      payload.UniqueID,
			"transaction_id": payload.TransactionID,
		},
	})
	return nil
}

// search reports the state PayPal's transaction search gives, if it gives a
// conclusive one.
func (p *Processor) search(ctx context.Context, pay payouts.Payment, txnID string, amountCents int64) (string, bool) {
	if txnID == "" {
		return "", false
	}
	txs, err := p.client.TransactionSearch(ctx, SearchQuery{
		TransactionID: txnID,
		AmountCents:   amountCents,
		Start:         pay.CreatedAt.Add(-24 * time.Hour),
		End:           p.now().Add(24 * time.Hour),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "transaction search failed", "payment_id", pay.ID, "err", err)
		return "", false
	}
	for _, tx := range txs {
		if tx.ID != txnID {
			continue
		}
		if state, ok := stateForStatus(tx.Status); ok && state != payouts.StatePending {
			return state, true
		}
	}
	return "", false
}

func withTxn(upd map[string]any, txnID string) map[string]any {
	if txnID != "" {
		upd["transaction_id"] = txnID
	}
	return upd
}

func splitStates(splits []payouts.SplitPayment) string {
	parts := make([]string, len(splits))
	for i, s := range splits {
		parts[i] = fmt.Sprintf("%d:%s", s.Position, s.State)
	}
	return strings.Join(parts, ",")
}
