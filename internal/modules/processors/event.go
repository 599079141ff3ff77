package processors

import (
	"time"

	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
)

type EventType string

const (
	EventInfo                EventType = "info"
	EventDisputeFormalized   EventType = "dispute_formalized"
	EventDisputeWon          EventType = "dispute_won"
	EventDisputeLost         EventType = "dispute_lost"
	EventSettlementDeclined  EventType = "settlement_declined"
	EventChargeSucceeded     EventType = "charge_succeeded"
	EventPaymentIntentFailed EventType = "payment_intent_failed"
	EventChargeRefundUpdated EventType = "charge_refund_updated"
)

// ChargeEvent is a webhook delivery normalized across processors.
type ChargeEvent struct {
	ProcessorID     ID                      `json:"processor_id"`
	EventID         string                  `json:"event_id"`
	ChargeID        string                  `json:"charge_id,omitempty"`
	ChargeReference string                  `json:"charge_reference,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	Type            EventType               `json:"type"`
	Comment         string                  `json:"comment,omitempty"`
	FlowOfFunds     flowoffunds.FlowOfFunds `json:"flow_of_funds"`
	Extras          map[string]string       `json:"extras,omitempty"`
	PaymentIntentID string                  `json:"payment_intent_id,omitempty"`
	RefundID        string                  `json:"refund_id,omitempty"`
}
