package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
)

var ErrNoHandler = errors.New("jobs: no handler registered")

type Handler func(ctx context.Context, payload json.RawMessage) error

// Worker runs due jobs exactly once each. Failed jobs are recorded, not
// retried: retry policy belongs to the handler that scheduled them.
type Worker struct {
	db        *gorm.DB
	handlers  map[string]Handler
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewWorker(gdb *gorm.DB, interval time.Duration, batchSize int) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Worker{
		db:        gdb,
		handlers:  map[string]Handler{},
		logger:    slog.Default(),
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (w *Worker) SetLogger(l *slog.Logger) { w.logger = l }

func (w *Worker) Register(kind string, h Handler) { w.handlers[kind] = h }

func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		if _, err := w.RunDue(ctx, w.now()); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "job poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunDue executes every queued job with run_at <= now and returns how many ran.
func (w *Worker) RunDue(ctx context.Context, now time.Time) (int, error) {
	var due []ScheduledJob
	if err := w.db.WithContext(ctx).
		Where("state = ? AND run_at <= ?", StateQueued, now).
		Order("run_at ASC, created_at ASC").
		Limit(w.batchSize).
		Find(&due).Error; err != nil {
		return 0, err
	}

	ran := 0
	for _, j := range due {
		claimed, err := w.claim(ctx, j.ID)
		if err != nil {
			return ran, err
		}
		if !claimed {
			continue
		}
		w.execute(ctx, j)
		ran++
	}
	return ran, nil
}

func (w *Worker) claim(ctx context.Context, id string) (bool, error) {
	claimed := false
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j ScheduledJob
		if err := db.ForUpdate(tx.WithContext(ctx)).First(&j, "id = ?", id).Error; err != nil {
			return err
		}
		// another worker got it first
		if j.State != StateQueued {
			return nil
		}
		claimed = true
		return tx.WithContext(ctx).Model(&ScheduledJob{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"state":      StateRunning,
				"attempts":   j.Attempts + 1,
				"updated_at": w.now(),
			}).Error
	})
	return claimed, err
}

func (w *Worker) execute(ctx context.Context, j ScheduledJob) {
	err := w.dispatch(ctx, j)

	upd := map[string]any{"state": StateDone, "updated_at": w.now()}
	if err != nil {
		msg := db.Truncate(err.Error(), 250)
		upd["state"] = StateFailed
		upd["last_error"] = msg
		w.logger.ErrorContext(ctx, "job failed", "job_id", j.ID, "kind", j.Kind, "err", err)
	} else {
		w.logger.InfoContext(ctx, "job done", "job_id", j.ID, "kind", j.Kind)
	}
	if uerr := w.db.WithContext(ctx).Model(&ScheduledJob{}).Where("id = ?", j.ID).Updates(upd).Error; uerr != nil {
		w.logger.ErrorContext(ctx, "job state update failed", "job_id", j.ID, "err", uerr)
	}
}

func (w *Worker) dispatch(ctx context.Context, j ScheduledJob) (err error) {
	h, ok := w.handlers[j.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, j.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, json.RawMessage(j.PayloadJSON))
}
