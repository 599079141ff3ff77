// Package app builds the shared object graph used by the web server, the
// payouts CLI and the job worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/alerts"
	"github.com/zandy2test/gumroad-sub037/internal/config"
	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/events"
	apphttp "github.com/zandy2test/gumroad-sub037/internal/http"
	"github.com/zandy2test/gumroad-sub037/internal/jobs"
	"github.com/zandy2test/gumroad-sub037/internal/mailer"
	"github.com/zandy2test/gumroad-sub037/internal/modules/charging"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors/braintree"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors/stripe"
	"github.com/zandy2test/gumroad-sub037/internal/modules/payouts"
	"github.com/zandy2test/gumroad-sub037/internal/modules/payouts/paypal"
	"github.com/zandy2test/gumroad-sub037/internal/modules/purchases"
	"github.com/zandy2test/gumroad-sub037/internal/storage"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB

	Jobs      *jobs.Store
	Worker    *jobs.Worker
	Bus       *events.Bus
	Webhooks  *processors.WebhookService
	Charging  *charging.Orchestrator
	Payouts   *payouts.Engine
	PayPal    *paypal.Processor
	PayPalAPI *paypal.Client
}

// New opens the database and wires every component. It does not migrate.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn (DB_DSN) is required")
	}
	gdb, err := db.Open(cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return Build(ctx, cfg, logger, gdb)
}

// Build wires the components around an already opened database.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, gdb *gorm.DB) (*App, error) {
	stripeProc := stripe.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	stripeProc.SetLogger(logger)
	btProc := braintree.New(cfg.Braintree)
	btProc.SetLogger(logger)

	registry, err := processors.NewRegistry(stripeProc, btProc)
	if err != nil {
		return nil, err
	}
	dispatcher := processors.NewDispatcher(registry)

	bus := events.NewBus()
	bus.SetLogger(logger)

	webhooks := processors.NewWebhookService(gdb, dispatcher, bus)
	webhooks.SetLogger(logger)

	store := jobs.NewStore(gdb)
	worker := jobs.NewWorker(gdb, cfg.Jobs.PollInterval, cfg.Jobs.BatchSize)
	worker.SetLogger(logger)

	orch := charging.NewOrchestrator(gdb, dispatcher,
		charging.NewProcessorChargeCreator(dispatcher),
		charging.NewMerchantAccountRepo(gdb),
		store,
	)
	orch.SetLogger(logger)

	consumer := charging.NewEventConsumer(orch)
	consumer.SetLogger(logger)
	consumer.Subscribe(bus)

	archive, err := storage.FromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("payout archive: %w", err)
	}
	logger.Info("payout archive ready", "driver", archive.Driver)

	notifier := alerts.NewMailNotifier(mailer.NewSMTPMailer(cfg.SMTP), cfg.Alerts.From, splitList(cfg.Alerts.To)...)
	notifier.SetLogger(logger)

	client := paypal.NewClient(cfg.PayPal, archive.Storage)
	client.SetLogger(logger)

	pp := paypal.NewProcessor(gdb, client, store, notifier, paypal.ProcessorConfig{
		SplitCapCents:       cfg.Payouts.SplitCapCents,
		EmailSubject:        cfg.Payouts.EmailSubject,
		PendingRecheckDelay: cfg.Payouts.PendingRecheckDelay,
	})
	pp.SetLogger(logger)

	engine := payouts.NewEngine(gdb, store, payouts.EngineConfig{
		BatchCapacity: cfg.Payouts.BatchCapacity,
		BatchDelay:    cfg.Payouts.BatchDelay,
	})
	engine.SetLogger(logger)

	worker.Register(charging.JobSCARecheck, orch.HandleSCARecheck)
	worker.Register(payouts.JobPerformBatch, pp.HandlePerformBatch)
	worker.Register(payouts.JobPendingRecheck, pp.HandlePendingRecheck)

	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        gdb,
		Jobs:      store,
		Worker:    worker,
		Bus:       bus,
		Webhooks:  webhooks,
		Charging:  orch,
		Payouts:   engine,
		PayPal:    pp,
		PayPalAPI: client,
	}, nil
}

// Models lists every table the service owns, in creation order.
func Models() []any {
	return []any{
		&purchases.Purchase{},
		&charging.MerchantAccount{},
		&charging.Charge{},
		&charging.ChargeRefund{},
		&processors.ProcessorEvent{},
		&jobs.ScheduledJob{},
		&payouts.Payee{},
		&payouts.Payment{},
		&payouts.SplitPayment{},
	}
}

func (a *App) Migrate(ctx context.Context) error {
	return a.DB.WithContext(ctx).AutoMigrate(Models()...)
}

func (a *App) Router() http.Handler {
	return apphttp.NewRouter(a.Logger, apphttp.Deps{
		DB:        a.DB,
		Charger:   a.Charging,
		Webhooks:  a.Webhooks,
		IPNVerify: a.PayPalAPI,
		IPN:       a.PayPal,
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
