package processors

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProcessor     = errors.New("unknown charge processor")
	ErrNoChargeable         = errors.New("no processor could tokenize the payment method")
	ErrChargeableMismatch   = errors.New("chargeable tokens describe different cards")
	ErrNotSupported         = errors.New("operation not supported by processor")
	ErrInvalidWebhook       = errors.New("invalid webhook signature or payload")
	ErrAlreadyRegistered    = errors.New("charge processor already registered")
	ErrMissingPaymentMethod = errors.New("missing payment method")
)

// Kind classifies processor failures the way purchases report them.
type Kind string

const (
	// bad card / account data; reported to the buyer as is
	KindValidation Kind = "validation"
	// network, 5xx, unexpected payloads; reported generically
	KindTechnical Kind = "technical"
	// issuer or processor declined; reported with the processor's reason
	KindDeclined Kind = "declined"
)

const GenericErrorMessage = "Something went wrong, please try again."

type Error struct {
	Kind      Kind
	Processor ID
	Code      string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s error (%s): %s", e.Processor, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Processor, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// PublicMessage is what a purchase records as its error message.
func (e *Error) PublicMessage() string {
	if e.Kind == KindTechnical || e.Message == "" {
		return GenericErrorMessage
	}
	return e.Message
}

func ValidationError(p ID, code, msg string) *Error {
	return &Error{Kind: KindValidation, Processor: p, Code: code, Message: msg}
}

func DeclinedError(p ID, code, msg string) *Error {
	return &Error{Kind: KindDeclined, Processor: p, Code: code, Message: msg}
}

func TechnicalError(p ID, err error) *Error {
	return &Error{Kind: KindTechnical, Processor: p, Err: err}
}

// Classify returns the processor error in err's chain; anything else is a
// technical failure.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindTechnical, Err: err}
}
