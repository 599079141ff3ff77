package payouts

import (
	"github.com/shopspring/decimal"
)

// SplitAmounts cuts amountCents into ceil(amount/cap) chunks, each at most
// capCents, in order, summing to amountCents.
func SplitAmounts(amountCents, capCents int64) []int64 {
	if amountCents <= 0 {
		return nil
	}
	if capCents <= 0 || amountCents <= capCents {
		return []int64{amountCents}
	}
	n := decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(capCents)).Ceil().IntPart()
	out := make([]int64, 0, n)
	left := amountCents
	for i := int64(0); i < n; i++ {
		c := capCents
		if left < c {
			c = left
		}
		out = append(out, c)
		left -= c
	}
	return out
}

// SplitOutcome is what the chunk states of a split payment add up to.
type SplitOutcome int

const (
	// some chunk is still processing or pending
	SplitInFlight SplitOutcome = iota
	SplitCompleted
	SplitFailed
	// settled chunks disagree; needs a human
	SplitMixed
)

func DeriveSplitState(splits []SplitPayment) SplitOutcome {
	if len(splits) == 0 {
		return SplitInFlight
	}
	var completed, failed int
	for _, s := range splits {
		switch s.State {
		case StateCompleted:
			completed++
		case StateFailed:
			failed++
		default:
			return SplitInFlight
		}
	}
	switch {
	case completed == len(splits):
		return SplitCompleted
	case failed == len(splits):
		return SplitFailed
	default:
		return SplitMixed
	}
}
