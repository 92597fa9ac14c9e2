/*
errors.go - Centralized error taxonomy for the ledger core

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  Domain packages (credit, marketplace) wrap these with structured
  context. The HTTP layer maps them to status codes via the helpers at
  the bottom.

ERROR CATEGORIES:
  1. Lifecycle errors  - Illegal state machine transitions
  2. Balance errors    - Insufficient available quantity
  3. Concurrency       - Optimistic version check failed (retryable)
  4. Storage errors    - Database-level failures

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

Expected outcomes ("balance insufficient") are errors, never panics.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransition is returned when a requested status change is
	// not in the lifecycle transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidState is returned when an operation is not allowed in the
	// account's current status (e.g. transfer before issuance).
	ErrInvalidState = errors.New("operation not allowed in current status")

	// ErrInsufficientBalance is returned when a movement exceeds the
	// account's available amount.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrListingInsufficient is returned when a purchase exceeds the
	// listing's remaining offered amount.
	ErrListingInsufficient = errors.New("insufficient listing availability")

	// ErrAlreadyIssued is returned when issuance is attempted on an
	// account whose issued amount is already set. Issuance happens once.
	ErrAlreadyIssued = errors.New("credits already issued")

	// ErrConcurrentConflict is returned when the optimistic version check
	// failed. Callers retry a bounded number of times.
	ErrConcurrentConflict = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced account or listing
	// doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidEntry is returned when a ledger entry fails validation
	// before persistence.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrInvalidAmount is returned when a requested quantity is zero,
	// negative, or malformed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrRequestIDRequired is returned when a transfer, retirement, or
	// purchase arrives without an idempotency token.
	ErrRequestIDRequired = errors.New("request id required")

	// ErrStorage wraps database-level failures. Never silently retried.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %v, requested %v, shortfall %v",
		e.AccountID, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// ListingInsufficientError provides details about a listing shortage.
type ListingInsufficientError struct {
	ListingID ListingID
	Available Amount
	Requested Amount
}

func (e *ListingInsufficientError) Error() string {
	return fmt.Sprintf("listing %s cannot cover purchase: available %v, requested %v",
		e.ListingID, e.Available, e.Requested)
}

func (e *ListingInsufficientError) Unwrap() error {
	return ErrListingInsufficient
}

// StorageError wraps an underlying storage failure. The underlying detail
// is only surfaced in non-production contexts (the HTTP layer decides).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return ErrStorage
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or an expected business-rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrListingInsufficient) ||
		errors.Is(err, ErrAlreadyIssued) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, ErrRequestIDRequired)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorKind maps an error to its stable, user-visible kind string.
// Used for audit outcomes and the HTTP error envelope.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrListingInsufficient):
		return "listing_insufficient"
	case errors.Is(err, ErrAlreadyIssued):
		return "already_issued"
	case errors.Is(err, ErrConcurrentConflict):
		return "concurrent_conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidEntry):
		return "invalid_amount"
	case errors.Is(err, ErrRequestIDRequired):
		return "request_id_required"
	case errors.Is(err, ErrStorage):
		return "storage_failure"
	default:
		return "internal"
	}
}
