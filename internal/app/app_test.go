package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/zandy2test/gumroad-sub037/internal/config"
	"github.com/zandy2test/gumroad-sub037/internal/db"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Driver: "local", LocalDir: t.TempDir()},
		Alerts:  config.AlertsConfig{From: "payments@localhost", To: "ops@localhost, finance@localhost"},
		Payouts: config.PayoutsConfig{BatchCapacity: 240, BatchDelay: 5 * time.Minute, SplitCapCents: 2_000_000, PendingRecheckDelay: 3 * time.Hour},
		Jobs:    config.JobsConfig{PollInterval: time.Second, BatchSize: 10},
	}
}

func TestBuildMigratesAndServes(t *testing.T) {
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Build(context.Background(), testConfig(t), logger, gdb)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"purchases", "charges", "charge_refunds", "processor_events", "scheduled_jobs", "payees", "payout_payments", "split_payments"} {
		if !gdb.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", w.Code)
	}

	// an empty queue is a clean pass for every registered kind
	if n, err := a.Worker.RunDue(context.Background(), time.Now()); err != nil || n != 0 {
		t.Fatalf("expected no due jobs, got %d %v", n, err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), testConfig(t), slog.Default()); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a@x.com, ,b@x.com ")
	if len(got) != 2 || got[0] != "a@x.com" || got[1] != "b@x.com" {
		t.Fatalf("unexpected list: %v", got)
	}
}
