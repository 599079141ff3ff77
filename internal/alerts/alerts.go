package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/zandy2test/gumroad-sub037/internal/mailer"
)

// Alert is a condition an operator has to resolve by hand.
type Alert struct {
	Kind    string
	Subject string
	Body    string
	Fields  map[string]string
}

type Notifier interface {
	Alert(ctx context.Context, a Alert) error
}

// MailNotifier logs every alert and emails it to the ops address.
type MailNotifier struct {
	mailer mailer.Service
	from   string
	to     []string
	logger *slog.Logger
}

func NewMailNotifier(m mailer.Service, from string, to ...string) *MailNotifier {
	return &MailNotifier{mailer: m, from: from, to: to, logger: slog.Default()}
}

func (n *MailNotifier) SetLogger(l *slog.Logger) { n.logger = l }

func (n *MailNotifier) Alert(ctx context.Context, a Alert) error {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := []any{"kind", a.Kind, "subject", a.Subject}
	var body strings.Builder
	if a.Body != "" {
		body.WriteString(a.Body)
		body.WriteString("\n\n")
	}
	for _, k := range keys {
		attrs = append(attrs, k, a.Fields[k])
		fmt.Fprintf(&body, "%s: %s\n", k, a.Fields[k])
	}
	n.logger.ErrorContext(ctx, "operator alert", attrs...)

	if n.mailer == nil || len(n.to) == 0 {
		return nil
	}
	return n.mailer.Send(ctx, mailer.Email{
		FromName: "Payments",
		From:     n.from,
		To:       n.to,
		Subject:  "[payments] " + a.Subject,
		TextBody: body.String(),
		Headers:  map[string]string{"X-Alert-Kind": a.Kind},
	})
}
