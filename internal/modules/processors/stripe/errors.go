package stripe

import (
	"errors"

	stripego "github.com/stripe/stripe-go/v74"

	"github.com/zandy2test/gumroad-sub037/internal/modules/processors"
)

// card_error codes that point at data the buyer typed wrong
var validationCodes = map[string]bool{
	"incorrect_number":     true,
	"invalid_number":       true,
	"invalid_expiry_month": true,
	"invalid_expiry_year":  true,
	"invalid_cvc":          true,
	"incorrect_cvc":        true,
	"incorrect_zip":        true,
	"expired_card":         true,
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripego.Error
	if !errors.As(err, &se) {
		return processors.TechnicalError(processors.Stripe, err)
	}
	if se.Type == stripego.ErrorTypeCard {
		if validationCodes[string(se.Code)] {
			return processors.ValidationError(processors.Stripe, string(se.Code), se.Msg)
		}
		code := string(se.DeclineCode)
		if code == "" {
			code = string(se.Code)
		}
		return processors.DeclinedError(processors.Stripe, code, se.Msg)
	}
	return processors.TechnicalError(processors.Stripe, err)
}
