package model

import (
	"errors"
	"fmt"
)

// ErrorKind is a machine-readable error category. User-visible failures are
// always job- or decision-scoped with a kind plus a human-readable summary;
// infrastructure errors are never surfaced raw.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation_error"
	KindNotFound        ErrorKind = "not_found"
	KindRowParse        ErrorKind = "row_parse_error"
	KindInvalidState    ErrorKind = "invalid_state"
	KindWebhookDelivery ErrorKind = "webhook_delivery_error"
)

// Error carries an error kind alongside the message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewValidationError reports a malformed submission or unknown source/schema.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing resource scoped to the caller.
func NewNotFoundError(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// NewRowParseError reports a single malformed input row.
func NewRowParseError(line int, format string, args ...any) *Error {
	return &Error{Kind: KindRowParse, Message: fmt.Sprintf("row %d: %s", line, fmt.Sprintf(format, args...))}
}

// NewInvalidStateError reports an illegal decision transition.
func NewInvalidStateError(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// NewWebhookDeliveryError reports a failed delivery attempt.
func NewWebhookDeliveryError(format string, args ...any) *Error {
	return &Error{Kind: KindWebhookDelivery, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of the first model.Error in the chain, or "" if
// the error is untyped (treated as an internal error by callers).
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
