/*
errors.go - Centralized error types for the capacity engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any mutation (bad capacity, bad
     date range, incomplete attrition configuration)
  2. Capacity conflicts - The requested allocation does not fit
  3. Concurrency conflicts - Optimistic check failed, reload and retry
  4. Data integrity - A stored record violates a structural invariant
  5. Store errors - Missing records, duplicate idempotency keys

USAGE:
  if errors.Is(err, generic.ErrInsufficientCapacity) {
      var capErr *generic.InsufficientCapacityError
      errors.As(err, &capErr)
      ...
  }

SEE ALSO:
  - capacity.go: Raises ErrInvalidCapacity
  - period.go: Raises ErrInvalidDateRange
  - inventory/weighting.go: Raises InsufficientCapacityError
*/
package generic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrInvalidCapacity           = errors.New("invalid capacity")
	ErrInvalidDateRange          = errors.New("invalid date range")
	ErrAttritionConfigIncomplete = errors.New("attrition configuration incomplete")
	ErrAttritionNotApplicable    = errors.New("attrition does not apply to this contract version")
	ErrInvalidQuantity           = errors.New("invalid quantity")
	ErrInvalidWeight             = errors.New("capacity weight must be positive")
	ErrValidation                = errors.New("validation failed")

	// Capacity conflicts
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrStopSell             = errors.New("bucket is closed for sale")
	ErrPoolClosed           = errors.New("pool is not open for allocation")
	ErrCutoffPassed         = errors.New("allocation cutoff has passed")
	ErrOutsideValidity      = errors.New("date outside pool validity")
	ErrVersionOverlap       = errors.New("contract version overlaps an existing version")
	ErrInvalidState         = errors.New("invalid state transition")

	// Concurrency
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Data integrity
	ErrMalformedBucket = errors.New("malformed allocation bucket")

	// Store
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrPoolNotFound            = errors.New("pool not found")
	ErrVariantNotFound         = errors.New("pool variant not found")
	ErrRatePlanNotFound        = errors.New("rate plan not found")
	ErrBucketNotFound          = errors.New("allocation bucket not found")
	ErrContractVersionNotFound = errors.New("contract version not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrTenantRequired          = errors.New("tenant scope required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCapacityError reports why an allocation did not fit. It is a
// normal outcome of capacity checks: callers decide whether to enable
// overbooking, try another variant, or reject the booking.
type InsufficientCapacityError struct {
	PoolID     PoolID
	VariantID  VariantID
	Date       TimePoint
	Requested  decimal.Decimal // capacity units the request needs
	Available  decimal.Decimal // capacity units left under the effective ceiling
	Overbooked decimal.Decimal // overbooking headroom included in Available
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity in pool %s on %s: requested %s, available %s",
		e.PoolID, e.Date, e.Requested.String(), e.Available.String())
}

func (e *InsufficientCapacityError) Unwrap() error { return ErrInsufficientCapacity }

// Shortfall is how many capacity units are missing.
func (e *InsufficientCapacityError) Shortfall() decimal.Decimal {
	short := e.Requested.Sub(e.Available)
	if short.IsNegative() {
		return decimal.Zero
	}
	return short
}

// MalformedBucketError flags a stored bucket that carries both temporal
// keys or neither. Reports skip such records instead of failing.
type MalformedBucketError struct {
	BucketID string
	Reason   string
}

func (e *MalformedBucketError) Error() string {
	return fmt.Sprintf("malformed bucket %s: %s", e.BucketID, e.Reason)
}

func (e *MalformedBucketError) Unwrap() error { return ErrMalformedBucket }

// AttritionConfigError lists the attrition fields that are missing.
type AttritionConfigError struct {
	Missing []string
}

func (e *AttritionConfigError) Error() string {
	return fmt.Sprintf("attrition configuration incomplete: missing %s", strings.Join(e.Missing, ", "))
}

func (e *AttritionConfigError) Unwrap() error { return ErrAttritionConfigIncomplete }

// ValidationError carries per-field messages for a rejected input.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

func (e *ValidationError) Add(field, msg string) { e.Fields[field] = msg }

func (e *ValidationError) HasErrors() bool { return len(e.Fields) > 0 }

// OrNil returns nil when no field failed, so callers can `return v.OrNil()`.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, m := range e.Fields {
		parts = append(parts, f+" "+m)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrAttritionConfigIncomplete) ||
		errors.Is(err, ErrAttritionNotApplicable) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidWeight) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrTenantRequired)
}

// IsConflict returns true if the request was valid but clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientCapacity) ||
		errors.Is(err, ErrStopSell) ||
		errors.Is(err, ErrPoolClosed) ||
		errors.Is(err, ErrCutoffPassed) ||
		errors.Is(err, ErrOutsideValidity) ||
		errors.Is(err, ErrVersionOverlap) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrRatePlanNotFound) ||
		errors.Is(err, ErrBucketNotFound) ||
		errors.Is(err, ErrContractVersionNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
