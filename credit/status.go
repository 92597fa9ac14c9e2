/*
status.go - Credit account lifecycle state machine

PURPOSE:
  Decides whether a requested status change is legal given the current
  status. The transition table is an explicit finite enumeration with a
  total transition function: any pair not listed fails with
  InvalidTransitionError and performs no mutation.

TRANSITION TABLE:
  pending      -> under_review, rejected
  under_review -> approved, rejected, pending
  approved     -> issued, rejected
  issued       -> transferred, retired
  transferred  -> retired
  rejected     -> pending        (deliberate resubmission path)
  retired      -> (terminal)

NOTES:
  - approved -> issued is the only transition permitted to set the
    issued amount, and only if it is not already set (no re-issuance).
  - rejected -> pending is a retry path for producers fixing their
    submission, not a loophole.
*/
package credit

import (
	"fmt"

	"github.com/veridian/credit-engine/ledger"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusIssued      Status = "issued"
	StatusTransferred Status = "transferred"
	StatusRetired     Status = "retired"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// transitions is the complete lifecycle. Absence means forbidden.
var transitions = map[Status][]Status{
	StatusPending:     {StatusUnderReview, StatusRejected},
	StatusUnderReview: {StatusApproved, StatusRejected, StatusPending},
	StatusApproved:    {StatusIssued, StatusRejected},
	StatusIssued:      {StatusTransferred, StatusRetired},
	StatusTransferred: {StatusRetired},
	StatusRejected:    {StatusPending},
	StatusRetired:     {}, // terminal
}

// CanTransition reports whether current -> requested is in the table.
func CanTransition(current, requested Status) bool {
	for _, allowed := range transitions[current] {
		if allowed == requested {
			return true
		}
	}
	return false
}

// Transition returns the requested status or an InvalidTransitionError.
// Never mutates anything; callers apply the result under their own
// atomic scope.
func Transition(current, requested Status) (Status, error) {
	if !CanTransition(current, requested) {
		return current, &InvalidTransitionError{From: current, To: requested}
	}
	return requested, nil
}

// Transferable reports whether balance movements (transfer, retire) are
// allowed in this status.
func (s Status) Transferable() bool {
	return s == StatusIssued || s == StatusTransferred
}

// =============================================================================
// ERRORS
// =============================================================================

// InvalidTransitionError reports a forbidden lifecycle change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ledger.ErrInvalidTransition
}

// InvalidStateError reports an operation attempted in a status that does
// not allow it (distinct from a bad transition request).
type InvalidStateError struct {
	Status    Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in status %s", e.Operation, e.Status)
}

func (e *InvalidStateError) Unwrap() error {
	return ledger.ErrInvalidState
}
