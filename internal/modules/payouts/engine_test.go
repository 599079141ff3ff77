package payouts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "payouts.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&Payee{}, &Payment{}, &SplitPayment{}, &jobs.ScheduledJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func strPtr(s string) *string { return &s }

func addPayee(t *testing.T, gdb *gorm.DB, id string, balance int64, mods ...func(*Payee)) Payee {
	t.Helper()
	p := Payee{
		ID:                 id,
		PayPalEmail:        id + "@example.com",
		LegalName:          strPtr("Jane Seller"),
		TaxCountry:         strPtr("US"),
		UnpaidBalanceCents: balance,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	for _, m := range mods {
		m(&p)
	}
	if err := gdb.Create(&p).Error; err != nil {
		t.Fatalf("create payee: %v", err)
	}
	return p
}

func TestIsUserPayable(t *testing.T) {
	gdb := newTestDB(t)
	e := NewEligibility(NewRepo(gdb))
	ctx := context.Background()

	busy := addPayee(t, gdb, "busy", 1000)
	if err := gdb.Create(&Payment{ID: "pay_busy", PayeeID: busy.ID, Processor: ProcessorPayPal, State: StatePending, AmountCents: 500, Currency: "usd", Email: busy.PayPalEmail, PayoutDate: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now()}).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	tests := []struct {
		name   string
		payee  Payee
		amount int64
		reason string
	}{
		{"payable", addPayee(t, gdb, "ok", 1000), 1000, ""},
		{"bank account wins over everything", addPayee(t, gdb, "bank", 1000, func(p *Payee) { p.HasBankAccount = true }), 1000, ReasonBankAccount},
		{"non ascii email", addPayee(t, gdb, "uni", 1000, func(p *Payee) { p.PayPalEmail = "jöse@example.com" }), 1000, ReasonInvalidEmail},
		{"malformed email", addPayee(t, gdb, "bad", 1000, func(p *Payee) { p.PayPalEmail = "not-an-email" }), 1000, ReasonInvalidEmail},
		{"missing compliance", addPayee(t, gdb, "anon", 1000, func(p *Payee) { p.LegalName = nil }), 1000, ReasonMissingCompliance},
		{"payment in flight", busy, 1000, ReasonPaymentInFlight},
		{"zero amount", addPayee(t, gdb, "zero", 0), 0, ReasonNothingToPay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason, err := e.IsUserPayable(ctx, tt.payee, tt.amount)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != (tt.reason == "") || reason != tt.reason {
				t.Fatalf("got (%v, %q), want reason %q", ok, reason, tt.reason)
			}
		})
	}
}

func TestEngineRunBatchesAndSpacesJobs(t *testing.T) {
	gdb := newTestDB(t)
	store := jobs.NewStore(gdb)
	e := NewEngine(gdb, store, EngineConfig{BatchCapacity: 2, BatchDelay: 5 * time.Minute})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	addPayee(t, gdb, "a", 1000)
	addPayee(t, gdb, "b", 2000)
	addPayee(t, gdb, "c", 3000)
	addPayee(t, gdb, "d", 4000, func(p *Payee) { p.HasBankAccount = true })
	addPayee(t, gdb, "e", 0)

	report, err := e.Run(ctx, RunInput{Processor: ProcessorPayPal})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Included != 3 || report.Skipped != 1 || report.Batches != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, r := range report.Results {
		if r.PayeeID == "d" && (r.Included || r.Reason != ReasonBankAccount) {
			t.Fatalf("bank account payee must be skipped: %+v", r)
		}
		if r.PayeeID == "c" && r.Batch != 2 {
			t.Fatalf("expected payee c in the second batch, got %d", r.Batch)
		}
	}

	js, err := store.ListByKind(ctx, JobPerformBatch)
	if err != nil || len(js) != 2 {
		t.Fatalf("expected two batch jobs, got %d (%v)", len(js), err)
	}
	for _, want := range []time.Time{now, now.Add(5 * time.Minute)} {
		found := false
		for _, j := range js {
			found = found || j.RunAt.Equal(want)
		}
		if !found {
			t.Fatalf("no batch job scheduled at %s", want)
		}
	}

	// a second run finds every payable payee in flight
	again, err := e.Run(ctx, RunInput{Processor: ProcessorPayPal})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Included != 0 || again.Batches != 0 {
		t.Fatalf("second run must not pay again: %+v", again)
	}
}

func TestEngineRejectsOtherProcessors(t *testing.T) {
	gdb := newTestDB(t)
	e := NewEngine(gdb, jobs.NewStore(gdb), EngineConfig{})
	if _, err := e.Run(context.Background(), RunInput{Processor: "stripe"}); err != ErrUnsupportedProcessor {
		t.Fatalf("expected ErrUnsupportedProcessor, got %v", err)
	}
}
