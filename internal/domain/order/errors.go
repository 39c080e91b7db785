package order

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvalidField        = errors.New("invalid field")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrConstraintViolation = errors.New("constraint violation")
)

// DecodeError reports why a raw payload could not become an Event.
// Kind is ErrMalformedPayload or ErrInvalidField.
type DecodeError struct {
	Kind  error
	Field string
	Err   error
}

func malformed(err error) *DecodeError {
	return &DecodeError{Kind: ErrMalformedPayload, Err: err}
}

func invalidField(field string, err error) *DecodeError {
	return &DecodeError{Kind: ErrInvalidField, Field: field, Err: err}
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%v %q: %v", e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%v %q", e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprint(e.Kind)
	}
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ReconcileError reports a failed store write. Kind is ErrStoreUnavailable or
// ErrConstraintViolation.
type ReconcileError struct {
	Kind    error
	OrderID int64
	Err     error
}

func (e *ReconcileError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reconcile order %d: %v", e.OrderID, e.Kind)
	}
	return fmt.Sprintf("reconcile order %d: %v: %v", e.OrderID, e.Kind, e.Err)
}

func (e *ReconcileError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FailureReason maps an error from decode or reconcile to a short stable label
// used for dead-letter records and metrics.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrInvalidField):
		return "invalid_field"
	case errors.Is(err, ErrConstraintViolation):
		return "constraint_violation"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// FailureField returns the offending field of a decode failure, if any.
func FailureField(err error) string {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Field
	}
	return ""
}
