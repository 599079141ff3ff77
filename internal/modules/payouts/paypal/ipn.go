package paypal

import (
	"net/url"
	"strconv"

	"github.com/zandy2test/gumroad-sub037/internal/modules/payouts"
	"github.com/zandy2test/gumroad-sub037/internal/shared/money"
)

// IPNItem is one recipient line of a MassPay IPN.
type IPNItem struct {
	UniqueID      string
	TransactionID string
	Status        string
	ReasonCode    string
	Email         string
	AmountCents   int64
	FeeCents      int64
}

// ParseIPN extracts the masspay lines, numbered from 1. Other IPN types
// yield no items.
func ParseIPN(form url.Values) ([]IPNItem, error) {
	if form.Get("txn_type") != "masspay" {
		return nil, nil
	}
	var out []IPNItem
	for n := 1; ; n++ {
		i := strconv.Itoa(n)
		uid := form.Get("unique_id_" + i)
		txn := form.Get("masspay_txn_id_" + i)
		if uid == "" && txn == "" {
			break
		}
		it := IPNItem{
			UniqueID:      uid,
			TransactionID: txn,
			Status:        form.Get("status_" + i),
			ReasonCode:    form.Get("reason_code_" + i),
			Email:         form.Get("receiver_email_" + i),
		}
		var err error
		if v := form.Get("mc_gross_" + i); v != "" {
			if it.AmountCents, err = money.ParseDollars(v); err != nil {
				return nil, err
			}
		}
		if v := form.Get("mc_fee_" + i); v != "" {
			if it.FeeCents, err = money.ParseDollars(v); err != nil {
				return nil, err
			}
		}
		out = append(out, it)
	}
	return out, nil
}

const statusPending = "Pending"

// stateForStatus maps a PayPal payout status onto a payment state. Pending
// is deliberately absent: it is never trusted without a second lookup.
func stateForStatus(status string) (string, bool) {
	switch status {
	case "Completed":
		return payouts.StateCompleted, true
	case "Unclaimed":
		return payouts.StatePending, true
	case "Failed", "Returned", "Reversed", "Denied", "Blocked":
		return payouts.StateFailed, true
	}
	return "", false
}
