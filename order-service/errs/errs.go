// Package errs defines the error kinds surfaced by the checkout engine and
// their mapping onto HTTP status codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindForbidden
	KindNotFound
	KindInvalidState
	KindConflict
	KindUnprocessable
	KindProcessorUnavailable
	KindProvider
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindUnprocessable:
		return "unprocessable"
	case KindProcessorUnavailable:
		return "processor_unavailable"
	case KindProvider:
		return "provider"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// HTTPStatus returns the response status for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindProcessorUnavailable:
		return http.StatusServiceUnavailable
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) error    { return New(KindValidation, msg) }
func Forbidden(msg string) error     { return New(KindForbidden, msg) }
func NotFound(msg string) error      { return New(KindNotFound, msg) }
func InvalidState(msg string) error  { return New(KindInvalidState, msg) }
func Unprocessable(msg string) error { return New(KindUnprocessable, msg) }
func Configuration(msg string) error { return New(KindConfiguration, msg) }

func Internal(msg string, err error) error {
	return Wrap(KindInternal, msg, err)
}

func ProcessorUnavailable(msg string, err error) error {
	return Wrap(KindProcessorUnavailable, msg, err)
}

func Provider(msg string, err error) error {
	return Wrap(KindProvider, msg, err)
}

// RefundError reports a compensating refund that failed. Money may be held
// by the provider with no matching local record.
type RefundError struct {
	ChargeID  string
	Cause     error
	RefundErr error
}

func RefundFailed(chargeID string, cause, refundErr error) error {
	return &RefundError{ChargeID: chargeID, Cause: cause, RefundErr: refundErr}
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund of charge %s failed: %v (original error: %v)", e.ChargeID, e.RefundErr, e.Cause)
}

func (e *RefundError) Unwrap() []error {
	return []error{e.Cause, e.RefundErr}
}

// KindOf reports the kind of err. Errors that carry no kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var refundErr *RefundError
	if errors.As(err, &refundErr) {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message for err. Internal errors never
// leak their cause.
func Message(err error) string {
	kind := KindOf(err)
	if kind == KindInternal {
		return "Internal server error"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
