package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by store lookups for unknown entity ids.
var ErrNotFound = errors.New("entity not found")

// ValidationError rejects bad user input before any store write happens.
// It is never the result of a network call.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NewValidationError builds a field-scoped validation failure.
func NewValidationError(field Field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportError wraps any remote-call failure: network errors, timeouts,
// non-2xx responses, remote rejections, and an open circuit breaker. Retrying
// is always the caller's decision, never automatic.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError tags err with the failing remote operation.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// PartialBulkError reports a bulk mutation where some members failed
// server-side. The optimistic state is deliberately left in place; the caller
// is expected to rely on the reconciliation pass that the controller already
// triggered.
type PartialBulkError struct {
	Total  int
	Failed map[string]error
}

func (e *PartialBulkError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	return fmt.Sprintf("bulk mutation: %d of %d failed (%s)", len(e.Failed), e.Total, strings.Join(ids, ", "))
}
