package model

import (
	"errors"
	"fmt"
)

// ConfigValidationError reports a malformed or incomplete batch header.
// Terminal: the batch is never admitted.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("batch header invalid: %s: %s", e.Field, e.Reason)
}

// CountMismatchError reports a disagreement between the declared and actual
// unit counts. Terminal: the batch is never admitted.
type CountMismatchError struct {
	Declared int
	Actual   int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("unit count mismatch: declared %d, found %d", e.Declared, e.Actual)
}

// StaleStatusError reports a compare-and-set whose expected prior value did
// not match. Non-terminal: the caller should no-op and acknowledge.
type StaleStatusError struct {
	BatchID  string
	UnitID   string
	Dim      Dimension
	Expected UnitStatus
	Actual   UnitStatus
}

func (e *StaleStatusError) Error() string {
	return fmt.Sprintf("stale %s status on %s: expected %q, found %q",
		e.Dim, e.UnitID, e.Expected, e.Actual)
}

// DuplicateBatchError reports an attempt to create a batch whose generated
// identifier already exists. A safety net, not a normal path.
type DuplicateBatchError struct {
	BatchID string
}

func (e *DuplicateBatchError) Error() string {
	return fmt.Sprintf("batch already exists: %s", e.BatchID)
}

// NotFoundError reports a query against an unknown batch or unit identifier.
type NotFoundError struct {
	Kind string // "batch" or "unit"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// RetryExhaustedError reports a re-arm attempt past the configured ceiling.
// The unit stays permanently errored and is surfaced for manual triage.
type RetryExhaustedError struct {
	UnitID   string
	Dim      Dimension
	Attempts int
	Ceiling  int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry ceiling reached for %s %s: %d of %d attempts used",
		e.UnitID, e.Dim, e.Attempts, e.Ceiling)
}

// ErrExternalService marks recognition or CRM call failures, retryable up to
// the queue's delivery ceiling. ErrStorage marks artifact or record I/O
// failures, equally retryable.
var (
	ErrExternalService = errors.New("external service failure")
	ErrStorage         = errors.New("storage failure")
)

// IsStale reports whether err is (or wraps) a StaleStatusError.
func IsStale(err error) bool {
	var se *StaleStatusError
	return errors.As(err, &se)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
