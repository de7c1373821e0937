package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates a referenced tenant, unit or payment is missing.
	ErrNotFound = errors.New("ledger: not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrTenantInactive is returned when a moved-out tenant is targeted.
	ErrTenantInactive = errors.New("ledger: tenant has moved out")
	// ErrUnitNotAvailable is returned when a unit cannot take a new tenant.
	ErrUnitNotAvailable = errors.New("ledger: unit not available")
	// ErrConflict signals a concurrent modification of the same record.
	ErrConflict = errors.New("ledger: record modified concurrently")
	// ErrInvalidTransition signals a disallowed status change.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrDuplicateSubmission is returned for a reused idempotency key.
	ErrDuplicateSubmission = errors.New("ledger: duplicate submission")
)

// ValidationError reports field-level input problems. Nothing is written when
// it is returned.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "ledger: validation failed: " + strings.Join(parts, "; ")
}

// FieldErrors returns the per-field messages.
func (e *ValidationError) FieldErrors() map[string]string {
	return e.Fields
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StepFailure names one failed step of a multi-step operation.
type StepFailure struct {
	Step string
	Err  error
}

// PartialFailureError is returned when some steps were applied and others were
// not. Callers must reconcile the listed failures; the applied steps are not
// rolled back.
type PartialFailureError struct {
	Op       string
	Applied  int
	Failures []StepFailure
}

func (e *PartialFailureError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("ledger: %s partially applied (%d ok): %s: %v", e.Op, e.Applied, e.Failures[0].Step, e.Failures[0].Err)
	}
	return fmt.Sprintf("ledger: %s partially applied (%d ok, %d failed)", e.Op, e.Applied, len(e.Failures))
}

// Unwrap exposes the underlying step errors.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func validateTransition[S ~string](transitions map[S][]S, current, target S) error {
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("%w: from %q", ErrInvalidTransition, current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %q to %q", ErrInvalidTransition, current, target)
}
