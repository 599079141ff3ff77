package jobs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StateQueued  = "queued"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

type ScheduledJob struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	Kind        string         `gorm:"type:varchar(64);not null;index:ix_scheduled_jobs_due,priority:2"`
	PayloadJSON datatypes.JSON `gorm:"type:json;not null"`
	UniqueKey   *string        `gorm:"type:varchar(191);uniqueIndex:ux_scheduled_jobs_unique_key"`
	State       string         `gorm:"type:varchar(16);not null;index:ix_scheduled_jobs_due,priority:1"`
	RunAt       time.Time      `gorm:"precision:3;not null;index:ix_scheduled_jobs_due,priority:3"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   *string        `gorm:"type:varchar(255)"`
	CreatedAt   time.Time      `gorm:"precision:3;not null"`
	UpdatedAt   time.Time      `gorm:"precision:3;not null"`
}

func (ScheduledJob) TableName() string { return "scheduled_jobs" }
