package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors shared with repository implementations.
var (
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order was modified concurrently")
	ErrDuplicateRefund   = errors.New("refund already recorded")
	ErrDuplicateOrder    = errors.New("order with this idempotency key already exists")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNoGateway         = errors.New("payment gateway is not configured")
)

// ValidationError reports caller input that cannot be accepted.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError reports a status change not allowed by the
// transition tables. Entity is "order", "payment" or "fulfillment".
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("%s status cannot change from %s to %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PersistenceError wraps a storage failure. These are retryable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// PaymentError reports a failed or abandoned payment. Cancelled payments are
// a normal user action, not a failure.
type PaymentError struct {
	Cancelled bool
	Message   string
	Err       error
}

func (e *PaymentError) Error() string {
	switch {
	case e.Cancelled:
		return "payment cancelled"
	case e.Message != "":
		return "payment failed: " + e.Message
	case e.Err != nil:
		return "payment failed: " + e.Err.Error()
	default:
		return "payment failed"
	}
}

func (e *PaymentError) Unwrap() error { return e.Err }

// InvariantViolationError means a mutation would leave an order financially
// inconsistent. The mutation is aborted.
type InvariantViolationError struct {
	OrderID string
	Detail  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("order %s invariant violated: %s", e.OrderID, e.Detail)
}

// Class is the user-facing category of an error.
type Class int

const (
	ClassUnknown Class = iota
	// ClassFixInput asks the user to correct the request.
	ClassFixInput
	// ClassNotFound means the order does not exist.
	ClassNotFound
	// ClassTryAgain means a retry may succeed.
	ClassTryAgain
	// ClassContactSupport means the operation cannot proceed without help.
	ClassContactSupport
	// ClassSilent needs no user-facing message.
	ClassSilent
)

func (c Class) String() string {
	switch c {
	case ClassFixInput:
		return "fix_input"
	case ClassNotFound:
		return "not_found"
	case ClassTryAgain:
		return "try_again"
	case ClassContactSupport:
		return "contact_support"
	case ClassSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by Service to its user-facing class.
func Classify(err error) Class {
	var (
		validation *ValidationError
		transition *InvalidTransitionError
		pay        *PaymentError
		invariant  *InvariantViolationError
		persist    *PersistenceError
	)
	switch {
	case err == nil:
		return ClassUnknown
	case errors.As(err, &pay):
		if pay.Cancelled {
			return ClassSilent
		}
		return ClassTryAgain
	case errors.As(err, &validation):
		return ClassFixInput
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.As(err, &transition), errors.As(err, &invariant), errors.Is(err, ErrNoGateway):
		return ClassContactSupport
	case errors.As(err, &persist),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTryAgain
	default:
		return ClassUnknown
	}
}
