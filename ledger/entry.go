/*
entry.go - Immutable ledger entries

PURPOSE:
  An Entry records one quantity movement on a credit account: issuance,
  transfer to a counterparty, or retirement. Entries are the immutable
  audit trail backing the account's balance buckets.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. ORDERED: (account, sequence) is unique; sequence is monotone per
     account. Sequence numbers may have gaps (status-only account
     updates advance the account version without writing an entry).
  4. TRACEABLE: Every entry carries the request ID that caused it and
     the resulting balance snapshot.

SEE ALSO:
  - ledger.go: Append validation
  - store.go: Persistence contract
*/
package ledger

import "time"

// =============================================================================
// ENTRY KIND
// =============================================================================

type EntryKind string

const (
	// EntryIssue records certified quantity entering the account.
	EntryIssue EntryKind = "issue"
	// EntryTransfer records quantity moving to a counterparty.
	EntryTransfer EntryKind = "transfer"
	// EntryRetire records quantity permanently retired.
	EntryRetire EntryKind = "retire"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryIssue, EntryTransfer, EntryRetire:
		return true
	}
	return false
}

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one immutable quantity movement on a credit account.
// Uniquely identified by (AccountID, Seq).
type Entry struct {
	ID        EntryID
	AccountID AccountID
	Seq       uint64
	Kind      EntryKind

	// Quantity moved. Always positive; the Kind says which bucket
	// it left and which it entered.
	Amount Amount

	// Counterparty receiving the quantity (transfers only).
	Counterparty PartyID

	// Reason supplied by the caller (retirements carry the retirement
	// purpose, issues the certifier reference).
	Reason string

	// RequestID is the client-supplied idempotency token that caused
	// this entry. Empty for issuance.
	RequestID string

	// Balances after this entry was applied.
	Balances BalanceSnapshot

	CreatedAt time.Time
}

// Validate checks the entry is well-formed before it is persisted.
func (e Entry) Validate() error {
	if e.AccountID == "" {
		return ErrNotFound
	}
	if !e.Kind.Valid() {
		return ErrInvalidEntry
	}
	if e.Seq == 0 {
		return ErrInvalidEntry
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidEntry
	}
	if e.Kind == EntryTransfer && e.Counterparty == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Replay folds a chronological entry slice into the balances they imply.
// Used to cross-check the account's authoritative buckets against the
// trail (they must agree if every write was committed atomically).
func Replay(entries []Entry) BalanceSnapshot {
	b := BalanceSnapshot{
		Issued:      ZeroAmount(),
		Available:   ZeroAmount(),
		Transferred: ZeroAmount(),
		Retired:     ZeroAmount(),
	}
	for _, e := range entries {
		switch e.Kind {
		case EntryIssue:
			b.Issued = b.Issued.Add(e.Amount)
			b.Available = b.Available.Add(e.Amount)
		case EntryTransfer:
			b.Available = b.Available.Sub(e.Amount)
			b.Transferred = b.Transferred.Add(e.Amount)
		case EntryRetire:
			b.Available = b.Available.Sub(e.Amount)
			b.Retired = b.Retired.Add(e.Amount)
		}
	}
	return b
}
