package processors

import "strings"

// ID identifies a charge processor. New processors get a constant here and
// a Register call at startup; nothing else in the core changes.
type ID string

const (
	Stripe    ID = "stripe"
	Braintree ID = "braintree"
	PayPal    ID = "paypal"
)

func ParseID(s string) (ID, bool) {
	switch id := ID(strings.ToLower(strings.TrimSpace(s))); id {
	case Stripe, Braintree, PayPal:
		return id, true
	default:
		return "", false
	}
}

func (id ID) String() string { return string(id) }

// HolderOfFunds is the party custodying charged funds until payout.
type HolderOfFunds string

const (
	HolderGumroad HolderOfFunds = "gumroad"
	HolderCreator HolderOfFunds = "creator"
)
