package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/db"
	"github.com/zandy2test/gumroad-sub037/internal/events"
)

// ProcessorEvent records every webhook event received, unique per
// (processor, event_id), so redeliveries are applied once.
type ProcessorEvent struct {
	ID          string         `gorm:"type:char(36);primaryKey"`
	Processor   string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_processor_events_processor_event,priority:1"`
	EventID     string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_processor_events_processor_event,priority:2"`
	EventType   string         `gorm:"type:varchar(64);not null"`
	ChargeID    *string        `gorm:"type:varchar(128);index:ix_processor_events_charge_id"`
	PayloadJSON datatypes.JSON `gorm:"type:json;not null"`

	ReceivedAt   time.Time  `gorm:"precision:3;not null"`
	ProcessedAt  *time.Time `gorm:"precision:3"`
	ProcessError *string    `gorm:"type:varchar(255)"`
}

func (ProcessorEvent) TableName() string { return "processor_events" }

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type WebhookService struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewWebhookService(db *gorm.DB, d *Dispatcher, pub Publisher) *WebhookService {
	return &WebhookService{db: db, dispatcher: d, publisher: pub, logger: slog.Default(), now: time.Now}
}

func (s *WebhookService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// HandleWebhook verifies and normalizes a delivery with the processor's
// parser, then publishes each new event on the charge event topic. An error
// means the processor should redeliver.
func (s *WebhookService) HandleWebhook(ctx context.Context, id ID, headers http.Header, body []byte) error {
	p, ok := s.dispatcher.Registry().Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProcessor, id)
	}
	evs, err := p.ParseWebhook(headers, body)
	if err != nil {
		s.logger.WarnContext(ctx, "webhook rejected", "processor", id, "err", err)
		return err
	}

	var errs []error
	for i := range evs {
		ev := evs[i]
		if ev.ProcessorID == "" {
			ev.ProcessorID = id
		}
		if err := s.handleEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *WebhookService) handleEvent(ctx context.Context, ev ChargeEvent) error {
	if ev.EventID == "" {
		return fmt.Errorf("%w: event without id", ErrInvalidWebhook)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pe := ProcessorEvent{
		ID:          uuid.NewString(),
		Processor:   ev.ProcessorID.String(),
		EventID:     ev.EventID,
		EventType:   string(ev.Type),
		PayloadJSON: datatypes.JSON(payload),
		ReceivedAt:  s.now(),
	}
	if ev.ChargeID != "" {
		cid := ev.ChargeID
		pe.ChargeID = &cid
	}

	if err := s.db.WithContext(ctx).Create(&pe).Error; err != nil {
		if !db.IsDuplicate(err) {
			s.logger.ErrorContext(ctx, "failed to persist processor event", "processor", ev.ProcessorID, "event_id", ev.EventID, "err", err)
			return err
		}
		var existing ProcessorEvent
		if err := s.db.WithContext(ctx).
			First(&existing, "processor = ? AND event_id = ?", pe.Processor, pe.EventID).Error; err != nil {
			return err
		}
		if existing.ProcessedAt != nil {
			s.logger.InfoContext(ctx, "webhook event deduplicated", "processor", ev.ProcessorID, "event_id", ev.EventID, "type", ev.Type)
			return nil
		}
		// an earlier delivery failed to apply; try again
		pe = existing
	}

	if err := s.publisher.Publish(ctx, events.TopicChargeEvent, ev); err != nil {
		msg := db.Truncate(err.Error(), 250)
		if uerr := s.db.WithContext(ctx).Model(&ProcessorEvent{}).
			Where("id = ?", pe.ID).
			Updates(map[string]any{"process_error": msg}).Error; uerr != nil {
			return uerr
		}
		s.logger.ErrorContext(ctx, "webhook event apply failed", "processor", ev.ProcessorID, "event_id", ev.EventID, "type", ev.Type, "error", msg)
		return err
	}

	processed := s.now()
	if err := s.db.WithContext(ctx).Model(&ProcessorEvent{}).
		Where("id = ?", pe.ID).
		Updates(map[string]any{"processed_at": &processed, "process_error": nil}).Error; err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "webhook event processed", "processor", ev.ProcessorID, "event_id", ev.EventID, "type", ev.Type)
	return nil
}
