/*
Package credit implements the credit account lifecycle and balance
operations for green hydrogen credits.

An Account is the authoritative balance record for one certified credit
batch. Its issued quantity is partitioned across three mutually
exclusive buckets (available, transferred, retired); the invariant
available + transferred + retired == issued holds after every committed
operation. All movements flow through the Service in service.go, which
is the only code path permitted to mutate the buckets.
*/
package credit

import (
	"time"

	"github.com/veridian/credit-engine/ledger"
)

// =============================================================================
// ACCOUNT - Authoritative balance record for one credit batch
// =============================================================================

type Account struct {
	ID         ledger.AccountID
	ProducerID ledger.PartyID

	// CertifierID is nil until certification starts.
	CertifierID *ledger.PartyID

	// OwnerID is the current holder. Starts as the producer.
	OwnerID ledger.PartyID

	// RequestedAmount is the producer's estimate at registration. Held
	// apart from Issued, which is set exactly once from the certifier's
	// actual figure at the approved -> issued transition.
	RequestedAmount ledger.Amount

	Issued      ledger.Amount
	Available   ledger.Amount
	Transferred ledger.Amount
	Retired     ledger.Amount

	Status Status

	// RejectionReason is set when a certifier rejects the batch and
	// cleared on resubmission.
	RejectionReason *string

	// Version is the optimistic concurrency token. Every committed write
	// increments it; writers compare-and-swap against the version they
	// read or fail with ErrConcurrentConflict.
	Version uint64

	// Opaque pass-through metadata from external registries. Not
	// verified or computed here.
	TxHash  string
	Network string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccount creates a pending account for a producer's registration.
// All quantities start at zero; the requested estimate is held separately.
func NewAccount(id ledger.AccountID, producer ledger.PartyID, requested ledger.Amount, now time.Time) *Account {
	return &Account{
		ID:              id,
		ProducerID:      producer,
		OwnerID:         producer,
		RequestedAmount: requested,
		Issued:          ledger.ZeroAmount(),
		Available:       ledger.ZeroAmount(),
		Transferred:     ledger.ZeroAmount(),
		Retired:         ledger.ZeroAmount(),
		Status:          StatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Snapshot returns the account's balance buckets.
func (a *Account) Snapshot() ledger.BalanceSnapshot {
	return ledger.BalanceSnapshot{
		Issued:      a.Issued,
		Available:   a.Available,
		Transferred: a.Transferred,
		Retired:     a.Retired,
	}
}

// CheckInvariants verifies I1 (buckets sum to issued) and I2 (all
// buckets non-negative). Violations indicate a bug, not user error.
func (a *Account) CheckInvariants() error {
	snap := a.Snapshot()
	if !snap.NonNegative() || !snap.Consistent() {
		return ledger.ErrInvalidAmount
	}
	return nil
}

// IssuedSet reports whether the issued amount has been set. Issuance
// happens exactly once; a zero actual quantity is rejected upstream.
func (a *Account) IssuedSet() bool {
	return !a.Issued.IsZero()
}

// =============================================================================
// TRANSACTION RECORD - One per committed transfer/retire operation
// =============================================================================

type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxProcessing TxStatus = "processing"
	TxCompleted  TxStatus = "completed"
	TxFailed     TxStatus = "failed"
)

// txProgression is the only allowed status movement for a record.
var txProgression = map[TxStatus][]TxStatus{
	TxPending:    {TxProcessing, TxFailed},
	TxProcessing: {TxCompleted, TxFailed},
	TxCompleted:  {},
	TxFailed:     {},
}

// CanProgress reports whether a record may move from -> to.
func (s TxStatus) CanProgress(to TxStatus) bool {
	for _, allowed := range txProgression[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransactionRecord ties a committed operation to the ledger entry it
// produced. Immutable after creation except for the bounded status
// progression pending -> processing -> completed | failed.
type TransactionRecord struct {
	ID        ledger.TransactionID
	AccountID ledger.AccountID
	Kind      ledger.EntryKind
	Amount    ledger.Amount
	FromParty ledger.PartyID
	ToParty   ledger.PartyID
	RequestID string
	EntrySeq  uint64
	Status    TxStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
