// Package flowoffunds records how much money sits at each hand-off point of
// a charge, refund or dispute: what the issuer moved, what the processor
// settled, the platform's cut and, for connected merchant accounts, the
// merchant's gross and net. Values are immutable; build a new one per event.
package flowoffunds

import "github.com/zandy2test/gumroad-sub037/internal/shared/money"

type Amount = money.Money

type FlowOfFunds struct {
	IssuedAmount        *Amount `json:"issued_amount,omitempty"`
	SettledAmount       *Amount `json:"settled_amount,omitempty"`
	GumroadAmount       *Amount `json:"gumroad_amount,omitempty"`
	MerchantGrossAmount *Amount `json:"merchant_gross_amount,omitempty"`
	MerchantNetAmount   *Amount `json:"merchant_net_amount,omitempty"`
}

// New copies every non-nil amount so later changes to the arguments cannot
// leak into the record.
func New(issued, settled, gumroad, merchantGross, merchantNet *Amount) FlowOfFunds {
	return FlowOfFunds{
		IssuedAmount:        clone(issued),
		SettledAmount:       clone(settled),
		GumroadAmount:       clone(gumroad),
		MerchantGrossAmount: clone(merchantGross),
		MerchantNetAmount:   clone(merchantNet),
	}
}

// BuildSimple is the flow for charges the platform settles itself:
// issued, settled and gumroad are the same amount.
func BuildSimple(currency string, cents int64) FlowOfFunds {
	a := money.New(currency, cents)
	return New(&a, &a, &a, nil, nil)
}

func (f FlowOfFunds) IsSimple() bool {
	return f.IssuedAmount != nil && f.SettledAmount != nil && f.GumroadAmount != nil &&
		*f.IssuedAmount == *f.SettledAmount && *f.SettledAmount == *f.GumroadAmount &&
		f.MerchantGrossAmount == nil && f.MerchantNetAmount == nil
}

// Negate flips every amount, for refunds and lost disputes.
func (f FlowOfFunds) Negate() FlowOfFunds {
	return New(neg(f.IssuedAmount), neg(f.SettledAmount), neg(f.GumroadAmount), neg(f.MerchantGrossAmount), neg(f.MerchantNetAmount))
}

func clone(a *Amount) *Amount {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func neg(a *Amount) *Amount {
	if a == nil {
		return nil
	}
	n := a.Neg()
	return &n
}
