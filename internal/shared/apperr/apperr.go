package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the API reports it.
type Kind string

const (
	Invalid     Kind = "invalid"
	NotFound    Kind = "not_found"
	Conflict    Kind = "conflict"
	Declined    Kind = "declined"
	Unavailable Kind = "unavailable"
	Internal    Kind = "internal"
)

const genericMessage = "Something went wrong, please try again."

// AppError carries a client-safe message next to the cause that only reaches
// the logs.
type AppError struct {
	Kind      Kind
	PublicMsg string
	Fields    map[string]string
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.PublicMsg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.PublicMsg)
	}
	return string(e.Kind)
}

func (e *AppError) Unwrap() error { return e.Err }

func InvalidErr(publicMsg string, fields map[string]string) *AppError {
	return &AppError{Kind: Invalid, PublicMsg: publicMsg, Fields: fields}
}
func NotFoundErr(publicMsg string) *AppError {
	return &AppError{Kind: NotFound, PublicMsg: publicMsg}
}
func ConflictErr(publicMsg string) *AppError {
	return &AppError{Kind: Conflict, PublicMsg: publicMsg}
}
func DeclinedErr(publicMsg string, err error) *AppError {
	return &AppError{Kind: Declined, PublicMsg: publicMsg, Err: err}
}
func UnavailableErr(err error) *AppError {
	return &AppError{Kind: Unavailable, PublicMsg: genericMessage, Err: err}
}

// Wrap hides an internal error behind the generic message (500).
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Kind: Internal, PublicMsg: genericMessage, Err: err}
}

func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func HTTPStatus(err error) int {
	if ae, ok := As(err); ok {
		switch ae.Kind {
		case Invalid:
			return http.StatusBadRequest
		case NotFound:
			return http.StatusNotFound
		case Conflict:
			return http.StatusConflict
		case Declined:
			return http.StatusPaymentRequired
		case Unavailable:
			return http.StatusBadGateway
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// FieldErrors returns per-field validation messages, or nil.
func FieldErrors(err error) map[string]string {
	if ae, ok := As(err); ok && len(ae.Fields) > 0 {
		return ae.Fields
	}
	return nil
}

func PublicMessage(err error) string {
	if ae, ok := As(err); ok && ae.PublicMsg != "" {
		return ae.PublicMsg
	}
	return genericMessage
}
