/*
store.go - Persistence interfaces for entries, results, and audit

PURPOSE:
  Defines the interface between the ledger core and the database.
  The Store handles entry persistence while maintaining append-only
  semantics. Different implementations can use SQLite, PostgreSQL, or
  in-memory storage.

KEY INTERFACES:
  Store:       Entry persistence (append, load; no update, no delete)
  ResultStore: Committed operation results keyed by (account, request ID)
  AuditLog:    Append-only record of who did what, including failures

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): single entry write, rejected on (account, seq) reuse
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  The ResultStore remembers the outcome of every committed transfer,
  retirement, and purchase keyed by (account, request ID). A retry with
  the same request ID replays the stored result instead of moving the
  quantity a second time.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists an entry. Fails with ErrInvalidEntry if (account,
	// seq) already exists. This is the ONLY write operation.
	Append(ctx context.Context, e Entry) error

	// Entries returns all entries for an account ordered by sequence.
	Entries(ctx context.Context, accountID AccountID) ([]Entry, error)

	// LastSeq returns the highest sequence number written for the
	// account, 0 if none.
	LastSeq(ctx context.Context, accountID AccountID) (uint64, error)
}

// =============================================================================
// RESULT STORE - Idempotency for transfer/retire/purchase
// =============================================================================

// OperationResult is the committed outcome of one balance movement.
// Stored alongside the movement in the same transaction so a client
// retry observes exactly what the original call observed.
type OperationResult struct {
	RequestID     string
	AccountID     AccountID
	Operation     EntryKind
	EntrySeq      uint64
	TransactionID TransactionID
	Balances      BalanceSnapshot
	PrevStatus    string // account status before the operation
	Status        string // account status after the operation
	RecordedAt    time.Time

	// Replayed is set on the read path when a duplicate request ID
	// returned this stored result. Never persisted.
	Replayed bool `json:"-"`
}

// ResultStore persists operation results for duplicate-request detection.
type ResultStore interface {
	// GetResult returns the stored result for (account, requestID),
	// or nil if the request was never committed.
	GetResult(ctx context.Context, accountID AccountID, requestID string) (*OperationResult, error)

	// PutResult stores a committed result. Must participate in the same
	// transaction as the balance movement it describes.
	PutResult(ctx context.Context, res OperationResult) error
}

// =============================================================================
// AUDIT LOG - Separate from the ledger, records successes AND failures
// =============================================================================

type AuditAction string

const (
	AuditRegistered     AuditAction = "credit_registered"
	AuditReviewStarted  AuditAction = "review_started"
	AuditApproved       AuditAction = "approved"
	AuditRejected       AuditAction = "rejected"
	AuditResubmitted    AuditAction = "resubmitted"
	AuditIssued         AuditAction = "issued"
	AuditTransferred    AuditAction = "transferred"
	AuditRetired        AuditAction = "retired"
	AuditListingCreated AuditAction = "listing_created"
	AuditPurchased      AuditAction = "purchased"
)

// AuditEntry records one ledger operation attempt. Failed operations are
// logged with their error kind, not silently dropped.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	ActorID    PartyID
	ActorRole  Role
	Action     AuditAction
	AccountID  AccountID
	Amount     Amount
	Outcome    string // "ok" or the stable error kind
	PrevStatus string
	NewStatus  string
}

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	AccountID *AccountID
	ActorID   *PartyID
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
}
