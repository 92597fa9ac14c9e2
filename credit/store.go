/*
store.go - Persistence contracts for credit accounts

PURPOSE:
  Extends the ledger persistence contracts with account and transaction
  record storage. UpdateAccount is a compare-and-swap on the account
  version: this is what makes the read-validate-mutate-append sequence
  serializable per account (see service.go).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
*/
package credit

import (
	"context"

	"github.com/veridian/credit-engine/ledger"
)

// AccountStore persists credit accounts with optimistic versioning.
type AccountStore interface {
	// CreateAccount inserts a new account at version 1.
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount loads an account, ErrNotFound if absent.
	GetAccount(ctx context.Context, id ledger.AccountID) (*Account, error)

	// UpdateAccount writes the account if the stored version still equals
	// expectedVersion, then increments it. Returns ErrConcurrentConflict
	// if another writer got there first. a.Version is set to the new
	// version on success.
	UpdateAccount(ctx context.Context, a *Account, expectedVersion uint64) error

	// ListAccounts returns all accounts, newest first.
	ListAccounts(ctx context.Context) ([]*Account, error)
}

// TransactionStore persists transaction records.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, rec *TransactionRecord) error
	GetTransaction(ctx context.Context, id ledger.TransactionID) (*TransactionRecord, error)

	// ProgressTransaction moves the record's status. The bounded
	// progression (pending -> processing -> completed | failed) is
	// enforced here; anything else is rejected.
	ProgressTransaction(ctx context.Context, id ledger.TransactionID, to TxStatus) error

	// ListTransactions returns records for an account, newest first.
	ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]*TransactionRecord, error)
}

// Store aggregates everything a credit operation touches.
type Store interface {
	AccountStore
	TransactionStore
	ledger.Store
	ledger.ResultStore
}

// TxStore wraps Store with transaction support. The read-check-write of
// every balance operation runs inside WithAccountTx: if fn returns an
// error the whole unit rolls back.
type TxStore interface {
	Store
	WithAccountTx(ctx context.Context, fn func(Store) error) error
}
