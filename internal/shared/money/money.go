package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Money struct {
	Currency string `json:"currency"`
	Cents    int64  `json:"cents"`
}

func New(currency string, cents int64) Money {
	return Money{Currency: strings.ToLower(currency), Cents: cents}
}

func (m Money) Neg() Money { return Money{Currency: m.Currency, Cents: -m.Cents} }

func (m Money) String() string { return Format(m.Currency, m.Cents) }

// Dollars converts cents to major units without float rounding.
func Dollars(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// DollarString renders cents as "1234.50", the format payout wire APIs expect.
func DollarString(cents int64) string {
	return Dollars(cents).StringFixed(2)
}

// ParseDollars parses "1234.5" into cents; values with more than two decimals
// are rounded half away from zero.
func ParseDollars(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// Format renders an amount for logs and alerts.
func Format(currency string, cents int64) string {
	major := Dollars(cents).StringFixed(2)
	switch strings.ToUpper(currency) {
	case "EUR":
		return "€" + major
	case "GBP":
		return "£" + major
	case "USD":
		return "$" + major
	default:
		return major + " " + strings.ToUpper(currency)
	}
}
