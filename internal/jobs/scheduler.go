package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
)

type Job struct {
	Kind    string
	Payload any
	RunAt   time.Time
	// UniqueKey makes Enqueue idempotent: a second job with the same key is
	// not created while the first one exists.
	UniqueKey string
}

// ErrPayloadNotObject rejects scalar and array payloads; handlers decode
// payloads into structs.
var ErrPayloadNotObject = errors.New("jobs: payload must be a JSON object")

type Scheduler interface {
	Enqueue(ctx context.Context, j Job) (string, error)
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb, now: time.Now}
}

func (s *Store) Enqueue(ctx context.Context, j Job) (string, error) {
	return s.EnqueueTx(ctx, s.db, j)
}

// EnqueueTx schedules inside the caller's transaction so the job only
// exists if the state change that needs it commits.
func (s *Store) EnqueueTx(ctx context.Context, tx *gorm.DB, j Job) (string, error) {
	if j.Kind == "" {
		return "", errors.New("jobs: kind required")
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return "", err
	}
	if len(payload) == 0 || (payload[0] != '{' && string(payload) != "null") {
		return "", fmt.Errorf("%w: got %s", ErrPayloadNotObject, payload)
	}

	if j.UniqueKey != "" {
		var existing ScheduledJob
		e := tx.WithContext(ctx).First(&existing, "unique_key = ?", j.UniqueKey).Error
		if e == nil {
			return existing.ID, nil
		}
		if !errors.Is(e, gorm.ErrRecordNotFound) {
			return "", e
		}
	}

	now := s.now()
	runAt := j.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	row := ScheduledJob{
		ID:          uuid.NewString(),
		Kind:        j.Kind,
		PayloadJSON: datatypes.JSON(payload),
		State:       StateQueued,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if j.UniqueKey != "" {
		k := j.UniqueKey
		row.UniqueKey = &k
	}

	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsDuplicate(err) && j.UniqueKey != "" {
			var existing ScheduledJob
			if e := tx.WithContext(ctx).First(&existing, "unique_key = ?", j.UniqueKey).Error; e == nil {
				return existing.ID, nil
			}
		}
		return "", err
	}
	return row.ID, nil
}

func (s *Store) Get(ctx context.Context, id string) (ScheduledJob, error) {
	var j ScheduledJob
	err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error
	return j, err
}

func (s *Store) ListByKind(ctx context.Context, kind string) ([]ScheduledJob, error) {
	var out []ScheduledJob
	err := s.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("run_at ASC, created_at ASC").
		Find(&out).Error
	return out, err
}
