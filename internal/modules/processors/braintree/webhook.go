package braintree

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zandy2test/gumroad-sub037/internal/modules/flowoffunds"
	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
	"github.com/zandy2test/gumroad-sub037/internal/shared/money"
)

// webhookVerifier checks bt_signature, a list of "public_key|hex(hmac)"
// pairs where the HMAC-SHA1 key is SHA1(private key).
type webhookVerifier struct {
	publicKey  string
	privateKey string
}

func (v webhookVerifier) sign(payload string) string {
	key := sha1.Sum([]byte(v.privateKey))
	mac := hmac.New(sha1.New, key[:])
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v webhookVerifier) verify(signature, payload string) bool {
	want := v.sign(payload)
	for _, pair := range strings.Split(signature, "&") {
		pub, sig, ok := strings.Cut(pair, "|")
		if ok && pub == v.publicKey && hmac.Equal([]byte(sig), []byte(want)) {
			return true
		}
	}
	return false
}

type notification struct {
	Kind      string    `xml:"kind"`
	Timestamp time.Time `xml:"timestamp"`
	Subject   struct {
		Dispute *struct {
			ID              string `xml:"id"`
			Amount          string `xml:"amount"`
			CurrencyISOCode string `xml:"currency-iso-code"`
			Status          string `xml:"status"`
			Reason          string `xml:"reason"`
			Transaction     struct {
				ID      string `xml:"id"`
				OrderID string `xml:"order-id"`
			} `xml:"transaction"`
		} `xml:"dispute"`
		Transaction *struct {
			ID              string `xml:"id"`
			OrderID         string `xml:"order-id"`
			Amount          string `xml:"amount"`
			CurrencyISOCode string `xml:"currency-iso-code"`
			Status          string `xml:"status"`
		} `xml:"transaction"`
	} `xml:"subject"`
}

var disputeKinds = map[string]processors.EventType{
	"dispute_opened":   processors.EventDisputeFormalized,
	"dispute_won":      processors.EventDisputeWon,
	"dispute_lost":     processors.EventDisputeLost,
	"dispute_accepted": processors.EventInfo,
	"dispute_disputed": processors.EventInfo,
	"dispute_expired":  processors.EventInfo,
}

// ParseWebhook accepts the form-encoded bt_signature / bt_payload body.
func (p *Processor) ParseWebhook(_ http.Header, body []byte) ([]processors.ChargeEvent, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
	}
	payload := form.Get("bt_payload")
	if payload == "" || !p.webhooks.verify(form.Get("bt_signature"), payload) {
		return nil, processors.ErrInvalidWebhook
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
	}
	var n notification
	if err := xml.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
	}

	ev := processors.ChargeEvent{ProcessorID: processors.Braintree, CreatedAt: n.Timestamp}

	if typ, ok := disputeKinds[n.Kind]; ok && n.Subject.Dispute != nil {
		d := n.Subject.Dispute
		cents, err := money.ParseDollars(d.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
		}
		if typ == processors.EventDisputeFormalized || typ == processors.EventDisputeLost {
			cents = -cents
		}
		ev.Type = typ
		ev.EventID = n.Kind + ":" + d.ID
		ev.ChargeID = d.Transaction.ID
		ev.ChargeReference = d.Transaction.OrderID
		ev.Comment = d.Reason
		ev.Extras = map[string]string{"dispute_id": d.ID, "dispute_status": d.Status}
		ev.FlowOfFunds = flowoffunds.BuildSimple(d.CurrencyISOCode, cents)
		return []processors.ChargeEvent{ev}, nil
	}

	if n.Kind == "transaction_settlement_declined" && n.Subject.Transaction != nil {
		t := n.Subject.Transaction
		cents, err := money.ParseDollars(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", processors.ErrInvalidWebhook, err)
		}
		ev.Type = processors.EventSettlementDeclined
		ev.EventID = n.Kind + ":" + t.ID
		ev.ChargeID = t.ID
		ev.ChargeReference = t.OrderID
		ev.Comment = t.Status
		ev.FlowOfFunds = flowoffunds.BuildSimple(t.CurrencyISOCode, -cents)
		return []processors.ChargeEvent{ev}, nil
	}
	return nil, nil
}
