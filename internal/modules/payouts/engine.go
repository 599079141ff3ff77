package payouts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
)

const (
	ProcessorPayPal = "paypal"

	JobPerformBatch   = "payouts.perform_batch"
	JobPendingRecheck = "payouts.pending_recheck"
)

type PerformBatchPayload struct {
	PaymentIDs []string `json:"payment_ids"`
}

type PendingRecheckPayload struct {
	UniqueID      string `json:"unique_id"`
	TransactionID string `json:"transaction_id"`
}

type EngineConfig struct {
	BatchCapacity int
	BatchDelay    time.Duration
}

type RunInput struct {
	Processor  string
	PayoutDate time.Time
	// PayeeIDs limits the run; empty means every payee with a balance.
	PayeeIDs []string
}

// Result is the outcome for one payee in a run.
type Result struct {
	PayeeID     string `json:"payee_id" yaml:"payee_id"`
	PaymentID   string `json:"payment_id,omitempty" yaml:"payment_id,omitempty"`
	AmountCents int64  `json:"amount_cents" yaml:"amount_cents"`
	Included    bool   `json:"included" yaml:"included"`
	Batch       int    `json:"batch,omitempty" yaml:"batch,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type BatchReport struct {
	Processor  string    `json:"processor" yaml:"processor"`
	PayoutDate string    `json:"payout_date" yaml:"payout_date"`
	Batches    int       `json:"batches" yaml:"batches"`
	Included   int       `json:"included" yaml:"included"`
	Skipped    int       `json:"skipped" yaml:"skipped"`
	Results    []Result  `json:"results" yaml:"results"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
}

// Engine creates the payments of a payout run and schedules their
// submission. Submission itself happens in the processor's batch job.
type Engine struct {
	db          *gorm.DB
	repo        *Repo
	eligibility *Eligibility
	scheduler   jobs.Scheduler
	cfg         EngineConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewEngine(gdb *gorm.DB, scheduler jobs.Scheduler, cfg EngineConfig) *Engine {
	if cfg.BatchCapacity <= 0 {
		cfg.BatchCapacity = 240
	}
	repo := NewRepo(gdb)
	return &Engine{
		db:          gdb,
		repo:        repo,
		eligibility: NewEligibility(repo),
		scheduler:   scheduler,
		cfg:         cfg,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

func (e *Engine) SetLogger(l *slog.Logger) { e.logger = l }

func (e *Engine) Run(ctx context.Context, in RunInput) (BatchReport, error) {
	if in.Processor == "" {
		in.Processor = ProcessorPayPal
	}
	if in.Processor != ProcessorPayPal {
		return BatchReport{}, ErrUnsupportedProcessor
	}
	now := e.now()
	if in.PayoutDate.IsZero() {
		in.PayoutDate = now
	}
	report := BatchReport{
		Processor:  in.Processor,
		PayoutDate: in.PayoutDate.Format(time.DateOnly),
		StartedAt:  now,
	}

	payees, err := e.repo.ListPayeesWithBalance(ctx, in.PayeeIDs)
	if err != nil {
		return BatchReport{}, err
	}

	var payable []int
	for _, p := range payees {
		res := Result{PayeeID: p.ID, AmountCents: p.UnpaidBalanceCents}
		ok, reason, err := e.eligibility.IsUserPayable(ctx, p, p.UnpaidBalanceCents)
		if err != nil {
			return BatchReport{}, err
		}
		if !ok {
			res.Reason = reason
			report.Results = append(report.Results, res)
			report.Skipped++
			e.logger.InfoContext(ctx, "payee not payable", "payee_id", p.ID, "reason", reason)
			continue
		}

		payment, err := e.createPayment(ctx, in, p)
		if err != nil {
			// one payee's failure must not stop the run
			e.logger.ErrorContext(ctx, "could not create payout payment", "payee_id", p.ID, "err", err)
			res.Reason = err.Error()
			report.Results = append(report.Results, res)
			report.Skipped++
			continue
		}
		res.PaymentID = payment.ID
		res.Included = true
		report.Results = append(report.Results, res)
		payable = append(payable, len(report.Results)-1)
	}

	for start, batch := 0, 0; start < len(payable); start, batch = start+e.cfg.BatchCapacity, batch+1 {
		end := start + e.cfg.BatchCapacity
		if end > len(payable) {
			end = len(payable)
		}
		ids := make([]string, 0, end-start)
		for _, i := range payable[start:end] {
			report.Results[i].Batch = batch + 1
			ids = append(ids, report.Results[i].PaymentID)
		}
		if _, err := e.scheduler.Enqueue(ctx, jobs.Job{
			Kind:      JobPerformBatch,
			Payload:   PerformBatchPayload{PaymentIDs: ids},
			RunAt:     now.Add(time.Duration(batch) * e.cfg.BatchDelay),
			UniqueKey: JobPerformBatch + ":" + ids[0],
		}); err != nil {
			return report, err
		}
		report.Batches++
		e.logger.InfoContext(ctx, "payout batch scheduled", "batch", batch+1, "payments", len(ids), "delay", time.Duration(batch)*e.cfg.BatchDelay)
	}
	report.Included = len(payable)
	return report, nil
}

// createPayment re-checks for an in-flight payment under the payee's row
// lock so overlapping runs cannot pay the same balance twice.
func (e *Engine) createPayment(ctx context.Context, in RunInput, p Payee) (Payment, error) {
	var payment Payment
	err := db.WithTxRetry(ctx, e.db, 3, func(tx *gorm.DB) error {
		var locked Payee
		if err := db.ForUpdate(tx.WithContext(ctx)).First(&locked, "id = ?", p.ID).Error; err != nil {
			return err
		}
		repo := e.repo.WithTx(tx)
		inFlight, err := repo.HasPaymentInFlight(ctx, p.ID)
		if err != nil {
			return err
		}
		if inFlight {
			return errPaymentInFlight
		}
		now := e.now()
		payment = Payment{
			ID:          uuid.NewString(),
			PayeeID:     p.ID,
			Processor:   in.Processor,
			State:       StateProcessing,
			AmountCents: locked.UnpaidBalanceCents,
			Currency:    "usd",
			Email:       locked.PayPalEmail,
			PayoutDate:  in.PayoutDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return repo.CreatePayment(ctx, &payment)
	})
	return payment, err
}
