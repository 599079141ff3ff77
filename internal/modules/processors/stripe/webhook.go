package stripe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

const signatureHeader = "Stripe-Signature"

// ParseWebhook verifies the Stripe-Signature header and maps the event types
// the core consumes. Other event types are acknowledged and dropped.
func (p *Processor) ParseWebhook(headers http.Header, body []byte) ([]processors.ChargeEvent, error) {
	if err := webhook.ValidatePayload(body, headers.Get(signatureHeader), p.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
	}
	var ev stripego.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", processors.ErrInvalidWebhook, ev.ID)
	}

	out := processors.ChargeEvent{
		ProcessorID: processors.Stripe,
		EventID:     ev.ID,
		CreatedAt:   time.Unix(ev.Created, 0).UTC(),
	}

	switch string(ev.Type) {
	case "charge.succeeded":
		var c stripego.Charge
		if err := json.Unmarshal(ev.Data.Raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
		}
		out.Type = processors.EventChargeSucceeded
		fillCharge(&out, &c)

	case "payment_intent.payment_failed":
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
		}
		out.Type = processors.EventPaymentIntentFailed
		out.PaymentIntentID = pi.ID
		out.ChargeReference = pi.Metadata["reference"]
		if pi.LastPaymentError != nil {
			out.Comment = pi.LastPaymentError.Msg
		}
		if pi.LatestCharge != nil {
			out.ChargeID = pi.LatestCharge.ID
		}

	case "charge.dispute.created", "charge.dispute.closed", "charge.dispute.updated":
		var d stripego.Dispute
		if err := json.Unmarshal(ev.Data.Raw, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
		}
		out.Type = disputeEventType(string(ev.Type), d.Status)
		if d.Charge != nil {
			out.ChargeID = d.Charge.ID
		}
		out.Comment = string(d.Reason)
		out.Extras = map[string]string{"dispute_id": d.ID, "dispute_status": string(d.Status)}
		amount := d.Amount
		if out.Type == processors.EventDisputeFormalized || out.Type == processors.EventDisputeLost {
			amount = -amount
		}
		out.FlowOfFunds = flowoffunds.BuildSimple(string(d.Currency), amount)

	case "charge.refund.updated":
		var r stripego.Refund
		if err := json.Unmarshal(ev.Data.Raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
		}
		out.Type = processors.EventChargeRefundUpdated
		out.RefundID = r.ID
		if r.Charge != nil {
			out.ChargeID = r.Charge.ID
		}
		out.Extras = map[string]string{"refund_status": string(r.Status)}
		out.FlowOfFunds = flowoffunds.BuildSimple(string(r.Currency), -r.Amount)

	default:
		return nil, nil
	}
	return []processors.ChargeEvent{out}, nil
}

func disputeEventType(eventType string, status stripego.DisputeStatus) processors.EventType {
	switch {
	case eventType == "charge.dispute.created":
		return processors.EventDisputeFormalized
	case status == stripego.DisputeStatusWon:
		return processors.EventDisputeWon
	case status == stripego.DisputeStatusLost:
		return processors.EventDisputeLost
	default:
		return processors.EventInfo
	}
}

func fillCharge(out *processors.ChargeEvent, c *stripego.Charge) {
	out.ChargeID = c.ID
	out.ChargeReference = c.Metadata["reference"]
	if c.PaymentIntent != nil {
		out.PaymentIntentID = c.PaymentIntent.ID
	}
	out.FlowOfFunds = flowoffunds.BuildSimple(string(c.Currency), c.Amount)
}
