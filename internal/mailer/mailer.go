package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Service interface {
	Send(ctx context.Context, e Email) error
}

// Email is a plain message. Alerts only set TextBody; HTMLBody is optional.
type Email struct {
	FromName string
	From     string   `validate:"required"`
	To       []string `validate:"required,min=1,dive,required"`
	Cc       []string `validate:"dive,required"`
	Bcc      []string `validate:"dive,required"`
	Subject  string   `validate:"required,max=998"`
	TextBody string `validate:"required_without=HTMLBody"`
	HTMLBody string
	Headers  map[string]string
}

var (
	ErrNoRecipients = errors.New("at least one recipient required")
	ErrNoSender     = errors.New("from address required")
	ErrNoSubject    = errors.New("subject required")
	ErrNoBody       = errors.New("text or html body required")
)

var validate = validator.New()

// Validate rejects messages an SMTP relay would bounce before DATA. Missing
// top-level fields map to the Err* sentinels.
func (e Email) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "To":
			err = ErrNoRecipients
		case "From":
			err = ErrNoSender
		case "Subject":
			if verrs[0].Tag() == "required" {
				err = ErrNoSubject
			}
		case "TextBody":
			err = ErrNoBody
		}
	}
	return fmt.Errorf("mailer: invalid email: %w", err)
}

func (e Email) AllRecipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	out = append(out, e.Bcc...)
	return out
}
