package charging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/zandy2test/gumroad-sub037/internal/events"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

// EventConsumer applies normalized processor events to charges and their
// purchases. Every handler tolerates redelivery and out-of-order events.
type EventConsumer struct {
	o      *Orchestrator
	logger *slog.Logger
}

func NewEventConsumer(o *Orchestrator) *EventConsumer {
	return &EventConsumer{o: o, logger: slog.Default()}
}

func (c *EventConsumer) SetLogger(l *slog.Logger) { c.logger = l }

func (c *EventConsumer) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TopicChargeEvent, "charging", c.Handle)
}

func (c *EventConsumer) Handle(ctx context.Context, payload any) error {
	ev, ok := payload.(processors.ChargeEvent)
	if !ok {
		return fmt.Errorf("charging: unexpected event payload %T", payload)
	}
	log := c.logger.With("processor", ev.ProcessorID, "event_id", ev.EventID, "type", ev.Type, "charge_id", ev.ChargeID)

	if ev.Type == processors.EventChargeRefundUpdated {
		return c.refundUpdated(ctx, ev)
	}

	charge, err := c.findCharge(ctx, ev)
	if errors.Is(err, ErrChargeNotFound) {
		// charges made outside this engine are not ours to track
		log.InfoContext(ctx, "charge event for unknown charge")
		return nil
	}
	if err != nil {
		return err
	}

	switch ev.Type {
	case processors.EventChargeSucceeded:
		if charge.Terminal() {
			return nil
		}
		pc := &processors.Charge{ID: ev.ChargeID, FlowOfFunds: ev.FlowOfFunds}
		return c.o.succeedCharge(ctx, charge, pc)

	case processors.EventPaymentIntentFailed:
		if charge.Terminal() {
			return nil
		}
		msg := ev.Comment
		if msg == "" {
			msg = processors.GenericErrorMessage
		}
		pid := processors.ID(charge.ProcessorID)
		if !c.o.failCharge(ctx, charge, processors.DeclinedError(pid, "payment_intent_failed", msg)) {
			return nil
		}
		return c.o.failPurchases(ctx, charge, "payment_intent_failed", msg)

	case processors.EventDisputeFormalized, processors.EventDisputeWon, processors.EventDisputeLost:
		log.InfoContext(ctx, "charge disputed", "flow_of_funds", ev.FlowOfFunds, "dispute_state", ev.Type)
		return c.o.updateCharge(ctx, charge.ID, map[string]any{
			"disputed":      true,
			"dispute_state": string(ev.Type),
		})

	case processors.EventSettlementDeclined:
		log.WarnContext(ctx, "charge settlement declined", "flow_of_funds", ev.FlowOfFunds, "comment", ev.Comment)
		_, _, err := c.o.transitionCharge(ctx, charge.ID, []string{ChargeInProgress, ChargeRequiresAction, ChargeSucceeded}, map[string]any{
			"state":         ChargeFailed,
			"error_message": "settlement declined",
		})
		return err

	default:
		log.InfoContext(ctx, "charge event", "comment", ev.Comment)
		return nil
	}
}

func (c *EventConsumer) findCharge(ctx context.Context, ev processors.ChargeEvent) (Charge, error) {
	q := c.o.db.WithContext(ctx).Where("processor_id = ?", ev.ProcessorID.String())
	var conds []string
	var args []any
	if ev.ChargeID != "" {
		conds = append(conds, "processor_transaction_id = ?")
		args = append(args, ev.ChargeID)
	}
	if ev.PaymentIntentID != "" {
		conds = append(conds, "payment_intent_id = ?")
		args = append(args, ev.PaymentIntentID)
	}
	if ev.ChargeReference != "" {
		conds = append(conds, "id = ?")
		args = append(args, ev.ChargeReference)
	}
	if len(conds) == 0 {
		return Charge{}, ErrChargeNotFound
	}
	where := "(" + strings.Join(conds, " OR ") + ")"

	var charge Charge
	err := q.Where(where, args...).First(&charge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Charge{}, ErrChargeNotFound
	}
	return charge, err
}

func (c *EventConsumer) refundUpdated(ctx context.Context, ev processors.ChargeEvent) error {
	if ev.RefundID == "" {
		return nil
	}
	status := ev.Extras["refund_status"]
	if status == "" {
		return nil
	}
	res := c.o.db.WithContext(ctx).Model(&ChargeRefund{}).
		Where("processor_refund_id = ?", ev.RefundID).
		Updates(map[string]any{"status": status, "flow_of_funds": fofJSON(ev.FlowOfFunds)})
	if res.Error != nil {
		return res.Error
	}
	c.logger.InfoContext(ctx, "refund updated", "refund_id", ev.RefundID, "status", status, "rows", res.RowsAffected)
	return nil
}
