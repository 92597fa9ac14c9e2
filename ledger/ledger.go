/*
ledger.go - Append-only entry log

PURPOSE:
  The Ledger is the immutable trail behind every credit account. Every
  issuance, transfer, and retirement is recorded here with the balances
  that resulted. The account's buckets are authoritative for reads; the
  trail exists so any balance can be explained after the fact.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. ORDERED: (account, seq) unique, seq monotone per account
  4. VALIDATED: Malformed entries are rejected before they hit storage

WHY APPEND-ONLY?
  - Audit trail: You can always explain how a balance got to its state
  - Compliance: certification registries require immutable records
  - Correctness: no risk of in-place updates corrupting history
*/
package ledger

import "context"

// Ledger is the append-only view over the entry store.
type Ledger interface {
	// Append validates and persists an entry. The only write operation.
	Append(ctx context.Context, e Entry) error

	// Entries returns the account's trail in sequence order. Read-only.
	Entries(ctx context.Context, accountID AccountID) ([]Entry, error)

	// Balances replays the account's trail into the balances it implies.
	// Derived value, used to cross-check the authoritative buckets.
	Balances(ctx context.Context, accountID AccountID) (BalanceSnapshot, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return l.Store.Append(ctx, e)
}

func (l *DefaultLedger) Entries(ctx context.Context, accountID AccountID) ([]Entry, error) {
	return l.Store.Entries(ctx, accountID)
}

func (l *DefaultLedger) Balances(ctx context.Context, accountID AccountID) (BalanceSnapshot, error) {
	entries, err := l.Store.Entries(ctx, accountID)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	return Replay(entries), nil
}
