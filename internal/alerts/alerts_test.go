package alerts

import (
	"context"
	"strings"
	"testing"

	"github.com/zandy2test/gumroad-sub037/internal/mailer"
)

func TestMailNotifierSendsEmail(t *testing.T) {
	m := &mailer.Mock{}
	n := NewMailNotifier(m, "payments@localhost", "ops@localhost")

	err := n.Alert(context.Background(), Alert{
		Kind:    "split_payment_mixed",
		Subject: "Split payout needs manual reconciliation",
		Fields:  map[string]string{"payment_id": "pay_1", "states": "completed,failed"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, ok := m.Last()
	if !ok {
		t.Fatal("expected an email")
	}
	if e.Subject != "[payments] Split payout needs manual reconciliation" {
		t.Fatalf("unexpected subject %q", e.Subject)
	}
	if !strings.Contains(e.TextBody, "payment_id: pay_1\n") {
		t.Fatalf("body missing fields: %q", e.TextBody)
	}
	if e.Headers["X-Alert-Kind"] != "split_payment_mixed" {
		t.Fatalf("missing alert kind header")
	}
}

func TestMailNotifierWithoutRecipientsOnlyLogs(t *testing.T) {
	m := &mailer.Mock{}
	n := NewMailNotifier(m, "payments@localhost")
	if err := n.Alert(context.Background(), Alert{Kind: "x", Subject: "y"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Count() != 0 {
		t.Fatal("expected no email without recipients")
	}
}
