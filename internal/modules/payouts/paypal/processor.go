package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/alerts"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
	"github.com/zandy2test/gumroad-sub037/internal/modules/payouts"
)

const (
	AlertMixedSplit     = "split_payment_mixed"
	AlertStillPending   = "payout_still_pending"
	AlertRequestFailed  = "masspay_request_failed"
	defaultSplitCap     = 20_000_00
	defaultEmailSubject = "You have a payment"
)

type ProcessorConfig struct {
	SplitCapCents       int64
	EmailSubject        string
	PendingRecheckDelay time.Duration
}

// Processor submits payout payments through MassPay and reconciles them.
type Processor struct {
	db        *gorm.DB
	repo      *payouts.Repo
	client    *Client
	scheduler jobs.Scheduler
	notifier  alerts.Notifier
	cfg       ProcessorConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessor(gdb *gorm.DB, client *Client, scheduler jobs.Scheduler, notifier alerts.Notifier, cfg ProcessorConfig) *Processor {
	if cfg.SplitCapCents <= 0 {
		cfg.SplitCapCents = defaultSplitCap
	}
	if cfg.EmailSubject == "" {
		cfg.EmailSubject = defaultEmailSubject
	}
	if cfg.PendingRecheckDelay <= 0 {
		cfg.PendingRecheckDelay = 3 * time.Hour
	}
	return &Processor{
		db:        gdb,
		repo:      payouts.NewRepo(gdb),
		client:    client,
		scheduler: scheduler,
		notifier:  notifier,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

func (p *Processor) SetLogger(l *slog.Logger) { p.logger = l }

// HandlePerformBatch is the payouts.perform_batch job. Payments already sent
// are skipped so a re-run job cannot pay twice.
func (p *Processor) HandlePerformBatch(ctx context.Context, raw json.RawMessage) error {
	var payload payouts.PerformBatchPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("paypal: bad perform batch payload: %w", err)
	}
	payments, err := p.repo.ListPayments(ctx, payload.PaymentIDs)
	if err != nil {
		return err
	}

	var batch []payouts.Payment
	var errs []error
	for _, pay := range payments {
		if pay.State != payouts.StateProcessing || pay.CorrelationID != nil || pay.Split {
			continue
		}
		if pay.AmountCents > p.cfg.SplitCapCents {
			if _, err := p.PerformSplit(ctx, pay); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		batch = append(batch, pay)
	}
	if len(batch) > 0 {
		if _, err := p.PerformBatch(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PerformBatch sends all payments in one MassPay call. A rejected call fails
// every payment in it; the correlation id is recorded on each either way.
func (p *Processor) PerformBatch(ctx context.Context, payments []payouts.Payment) ([]payouts.Result, error) {
	items := make([]MassPayItem, len(payments))
	for i, pay := range payments {
		items[i] = MassPayItem{Email: pay.Email, AmountCents: pay.AmountCents, UniqueID: pay.ID, Note: note(pay)}
	}

	resp, err := p.client.MassPay(ctx, p.cfg.EmailSubject, items)
	if err != nil {
		// the request may or may not have reached PayPal
		p.alert(ctx, alerts.Alert{
			Kind:    AlertRequestFailed,
			Subject: "MassPay request failed; payments left processing",
			Body:    err.Error(),
			Fields:  map[string]string{"payments": fmt.Sprint(len(payments)), "first_payment_id": payments[0].ID},
		})
		return nil, err
	}

	ok := resp.Success()
	reason := resp.ErrorText()
	results := make([]payouts.Result, 0, len(payments))
	var errs []error
	for _, pay := range payments {
		res := payouts.Result{PayeeID: pay.PayeeID, PaymentID: pay.ID, AmountCents: pay.AmountCents, Included: ok}
		upd := map[string]any{"correlation_id": resp.CorrelationID}
		if err := p.repo.UpdatePayment(ctx, pay.ID, upd); err != nil {
			errs = append(errs, err)
		}
		if !ok {
			res.Reason = reason
			if err := p.repo.FailPayment(ctx, pay.ID, reason); err != nil {
				errs = append(errs, err)
			}
		}
		results = append(results, res)
	}

	if ok {
		p.logger.InfoContext(ctx, "masspay batch accepted", "payments", len(payments), "correlation_id", resp.CorrelationID, "ack", resp.ACK)
	} else {
		p.logger.ErrorContext(ctx, "masspay batch rejected", "payments", len(payments), "correlation_id", resp.CorrelationID, "ack", resp.ACK, "errors", reason)
	}
	return results, errors.Join(errs...)
}

// PerformSplit pays an amount above the per-transaction cap in sequential
// chunks. Every chunk row exists before the first transfer, so the payment
// can only complete once all of them have. A rejected first chunk aborts the
// payment; later rejections do not stop the remaining chunks. A request that
// errors in transit may still have reached PayPal: its chunk stays
// processing and an alert is raised, as for whole batches.
func (p *Processor) PerformSplit(ctx context.Context, pay payouts.Payment) (payouts.Result, error) {
	res := payouts.Result{PayeeID: pay.PayeeID, PaymentID: pay.ID, AmountCents: pay.AmountCents, Included: true}
	splits, err := p.createSplits(ctx, pay)
	if err != nil {
		return res, err
	}

	log := p.logger.With("payment_id", pay.ID, "chunks", len(splits))
	var errs []error
	for i, split := range splits {
		resp, err := p.client.MassPay(ctx, p.cfg.EmailSubject, []MassPayItem{{
			Email:       pay.Email,
			AmountCents: split.AmountCents,
			UniqueID:    split.UniqueID,
			Note:        note(pay),
		}})
		if err != nil {
			log.ErrorContext(ctx, "split chunk request failed", "position", split.Position, "err", err)
			p.alert(ctx, alerts.Alert{
				Kind:    AlertRequestFailed,
				Subject: "MassPay request failed; split chunk left processing",
				Body:    err.Error(),
				Fields:  map[string]string{"payment_id": pay.ID, "position": fmt.Sprint(split.Position)},
			})
			errs = append(errs, err)
			if i == 0 {
				// unknown whether the first chunk went out; send nothing more
				res.Reason = "first split chunk request failed: " + err.Error()
				return res, errors.Join(errs...)
			}
			continue
		}

		var lineErrs []payouts.LineError
		if !resp.Success() {
			lineErrs = resp.Errors
			if len(lineErrs) == 0 {
				lineErrs = []payouts.LineError{{Code: resp.ACK, LongMessage: resp.ErrorText()}}
			}
		}

		upd := map[string]any{}
		if resp.CorrelationID != "" {
			upd["correlation_id"] = resp.CorrelationID
		}
		if lineErrs != nil {
			b, _ := json.Marshal(lineErrs)
			upd["state"] = payouts.StateFailed
			upd["errors"] = datatypes.JSON(b)
		}
		if len(upd) > 0 {
			if err := p.repo.UpdateSplit(ctx, split.ID, upd); err != nil {
				return res, errors.Join(append(errs, err)...)
			}
		}
		if i == 0 && resp.CorrelationID != "" {
			if err := p.repo.UpdatePayment(ctx, pay.ID, map[string]any{"correlation_id": resp.CorrelationID}); err != nil {
				return res, errors.Join(append(errs, err)...)
			}
		}

		if lineErrs == nil {
			log.InfoContext(ctx, "split chunk accepted", "position", split.Position, "amount_cents", split.AmountCents, "correlation_id", resp.CorrelationID)
			continue
		}
		if i == 0 {
			reason := "first split chunk failed: " + lineErrs[0].Code + " " + lineErrs[0].LongMessage
			log.ErrorContext(ctx, "split payout aborted", "reason", reason)
			res.Included = false
			res.Reason = reason
			return res, p.abortSplit(ctx, pay.ID, reason)
		}
		log.WarnContext(ctx, "split chunk failed; continuing", "position", split.Position, "code", lineErrs[0].Code)
	}
	return res, errors.Join(errs...)
}

// createSplits flags the payment as split and stores one processing row per
// chunk, all in one transaction.
func (p *Processor) createSplits(ctx context.Context, pay payouts.Payment) ([]payouts.SplitPayment, error) {
	chunks := payouts.SplitAmounts(pay.AmountCents, p.cfg.SplitCapCents)
	now := p.now()
	splits := make([]payouts.SplitPayment, len(chunks))
	for i, amount := range chunks {
		splits[i] = payouts.SplitPayment{
			ID:          uuid.NewString(),
			PaymentID:   pay.ID,
			Position:    i + 1,
			UniqueID:    fmt.Sprintf("%s-%d", pay.ID, i+1),
			AmountCents: amount,
			State:       payouts.StateProcessing,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		if err := repo.UpdatePayment(ctx, pay.ID, map[string]any{"split": true}); err != nil {
			return err
		}
		for i := range splits {
			if err := repo.CreateSplit(ctx, &splits[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return splits, err
}

// abortSplit fails the payment and every chunk still waiting to be sent.
func (p *Processor) abortSplit(ctx context.Context, paymentID, reason string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		b, _ := json.Marshal([]payouts.LineError{{Code: "not_sent", LongMessage: reason}})
		if err := repo.FailOpenSplits(ctx, paymentID, datatypes.JSON(b)); err != nil {
			return err
		}
		return repo.FailPayment(ctx, paymentID, reason)
	})
}

func (p *Processor) alert(ctx context.Context, a alerts.Alert) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Alert(ctx, a); err != nil {
		p.logger.ErrorContext(ctx, "could not send alert", "kind", a.Kind, "err", err)
	}
}

func note(pay payouts.Payment) string {
	return "Payout for " + pay.PayoutDate.Format(time.DateOnly)
}
