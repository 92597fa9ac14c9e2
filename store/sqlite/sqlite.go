/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces (credit.TxStore,
  marketplace.TxStore, ledger.Store, ledger.ResultStore,
  ledger.AuditLog) using SQLite. In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the entries table
  - No DELETE statements on the entries table
  - No UPDATE statements on the audit_log table
  - (account_id, seq) is a UNIQUE index; a writer that lost the
    version race cannot overwrite history

OPTIMISTIC VERSIONING:
  accounts and listings carry a version column. Every write is
    UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?
  Zero rows affected with an existing row means another writer got
  there first: ErrConcurrentConflict, retried by the services.

KEY TABLES:
  accounts:          Authoritative balance buckets + lifecycle status
  entries:           Immutable ledger trail, unique (account, seq)
  listings:          Marketplace reservations
  transactions:      One record per committed movement
  operation_results: Idempotency results keyed (account, request_id)
  audit_log:         Who did what, successes and failures

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging), and the pool is
  pinned to one connection so ":memory:" databases behave (each new
  connection to ":memory:" would otherwise see a fresh database).

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go, credit/store.go, marketplace/store.go: contracts
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/marketplace"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time interface checks.
var (
	_ credit.TxStore      = (*Store)(nil)
	_ marketplace.TxStore = (*Store)(nil)
	_ ledger.AuditLog     = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, &ledger.StorageError{Op: "open", Err: err}
	}

	// One connection: serializes writers and keeps ":memory:" databases
	// from splitting across pooled connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, &ledger.StorageError{Op: "migrate", Err: err}
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Credit accounts (authoritative balances, optimistic versioning)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		producer_id TEXT NOT NULL,
		certifier_id TEXT,
		owner_id TEXT NOT NULL,
		requested_amount TEXT NOT NULL,
		issued_amount TEXT NOT NULL,
		available_amount TEXT NOT NULL,
		transferred_amount TEXT NOT NULL,
		retired_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		rejection_reason TEXT,
		version INTEGER NOT NULL,
		tx_hash TEXT,
		network TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_producer
		ON accounts(producer_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_status
		ON accounts(status);

	-- Ledger entries (append-only trail)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		counterparty TEXT,
		reason TEXT,
		request_id TEXT,
		issued TEXT NOT NULL,
		available TEXT NOT NULL,
		transferred TEXT NOT NULL,
		retired TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the trail is ordered and collision-free per account
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_account_seq
		ON entries(account_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_request
		ON entries(request_id) WHERE request_id IS NOT NULL;

	-- Marketplace listings
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		total TEXT NOT NULL,
		available TEXT NOT NULL,
		sold TEXT NOT NULL,
		price_per_credit TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_account
		ON listings(account_id);
	CREATE INDEX IF NOT EXISTS idx_listings_status
		ON listings(status);

	-- Transaction records (one per committed movement)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		from_party TEXT,
		to_party TEXT,
		request_id TEXT,
		entry_seq INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id);

	-- Idempotency results
	CREATE TABLE IF NOT EXISTS operation_results (
		account_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		result_json TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (account_id, request_id)
	);

	-- Audit log (append-only, records failures too)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		account_id TEXT,
		amount TEXT NOT NULL,
		outcome TEXT NOT NULL,
		prev_status TEXT,
		new_status TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_account
		ON audit_log(account_id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_log(actor_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// ACCOUNT STORE (credit.AccountStore)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *credit.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, a)
}

func createAccount(ctx context.Context, db execer, a *credit.Account) error {
	var certifier any
	if a.CertifierID != nil {
		certifier = string(*a.CertifierID)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, producer_id, certifier_id, owner_id, requested_amount,
		 issued_amount, available_amount, transferred_amount, retired_amount,
		 status, rejection_reason, version, tx_hash, network, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProducerID, certifier, a.OwnerID, a.RequestedAmount.String(),
		a.Issued.String(), a.Available.String(), a.Transferred.String(), a.Retired.String(),
		a.Status, a.RejectionReason, a.Version, a.TxHash, a.Network,
		a.CreatedAt.UTC().Format(time.RFC3339Nano), a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &ledger.StorageError{Op: "create account", Err: err}
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*credit.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, db execer, id ledger.AccountID) (*credit.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, producer_id, certifier_id, owner_id, requested_amount,
		       issued_amount, available_amount, transferred_amount, retired_amount,
		       status, rejection_reason, version, tx_hash, network, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*credit.Account, error) {
	var (
		a                                       credit.Account
		certifier, rejection, txHash, network   sql.NullString
		requested, issued, avail, transf, retrd string
		createdAt, updatedAt                    string
	)
	err := row.Scan(&a.ID, &a.ProducerID, &certifier, &a.OwnerID, &requested,
		&issued, &avail, &transf, &retrd,
		&a.Status, &rejection, &a.Version, &txHash, &network, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "scan account", Err: err}
	}
	if certifier.Valid {
		c := ledger.PartyID(certifier.String)
		a.CertifierID = &c
	}
	if rejection.Valid {
		r := rejection.String
		a.RejectionReason = &r
	}
	a.TxHash = txHash.String
	a.Network = network.String
	a.RequestedAmount = parseAmount(requested)
	a.Issued = parseAmount(issued)
	a.Available = parseAmount(avail)
	a.Transferred = parseAmount(transf)
	a.Retired = parseAmount(retrd)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *credit.Account, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAccount(ctx, s.db, a, expectedVersion)
}

func updateAccount(ctx context.Context, db execer, a *credit.Account, expectedVersion uint64) error {
	var certifier any
	if a.CertifierID != nil {
		certifier = string(*a.CertifierID)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE accounts SET
			certifier_id = ?, owner_id = ?,
			issued_amount = ?, available_amount = ?,
			transferred_amount = ?, retired_amount = ?,
			status = ?, rejection_reason = ?,
			tx_hash = ?, network = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		certifier, a.OwnerID,
		a.Issued.String(), a.Available.String(),
		a.Transferred.String(), a.Retired.String(),
		a.Status, a.RejectionReason,
		a.TxHash, a.Network,
		a.UpdatedAt.UTC().Format(time.RFC3339Nano),
		a.ID, expectedVersion,
	)
	if err != nil {
		return &ledger.StorageError{Op: "update account", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &ledger.StorageError{Op: "update account", Err: err}
	}
	if n == 0 {
		// Either the row is gone or another writer advanced the version.
		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE id = ?", a.ID).Scan(&exists); err != nil {
			return &ledger.StorageError{Op: "update account", Err: err}
		}
		if exists == 0 {
			return ledger.ErrNotFound
		}
		return ledger.ErrConcurrentConflict
	}
	a.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*credit.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db)
}

func listAccounts(ctx context.Context, db execer) ([]*credit.Account, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	var ids []ledger.AccountID
	for rows.Next() {
		var id ledger.AccountID
		if err := rows.Scan(&id); err != nil {
			return nil, &ledger.StorageError{Op: "list accounts", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "list accounts", Err: err}
	}

	accounts := make([]*credit.Account, 0, len(ids))
	for _, id := range ids {
		a, err := getAccount(ctx, db, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// =============================================================================
// ENTRY STORE (ledger.Store) - append-only
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db execer, e ledger.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO entries
		(id, account_id, seq, kind, amount, counterparty, reason, request_id,
		 issued, available, transferred, retired, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Seq, e.Kind, e.Amount.String(),
		nullString(string(e.Counterparty)), nullString(e.Reason), nullString(e.RequestID),
		e.Balances.Issued.String(), e.Balances.Available.String(),
		e.Balances.Transferred.String(), e.Balances.Retired.String(),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// A second writer reached the same sequence slot: it lost
			// the version race.
			return ledger.ErrConcurrentConflict
		}
		return &ledger.StorageError{Op: "append entry", Err: err}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadEntries(ctx, s.db, accountID)
}

func loadEntries(ctx context.Context, db execer, accountID ledger.AccountID) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, account_id, seq, kind, amount, counterparty, reason, request_id,
		       issued, available, transferred, retired, created_at
		FROM entries WHERE account_id = ? ORDER BY seq ASC`, accountID)
	if err != nil {
		return nil, &ledger.StorageError{Op: "load entries", Err: err}
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e                              ledger.Entry
			counterparty, reason, request  sql.NullString
			amount                         string
			issued, avail, transf, retired string
			createdAt                      string
		)
		err := rows.Scan(&e.ID, &e.AccountID, &e.Seq, &e.Kind, &amount,
			&counterparty, &reason, &request,
			&issued, &avail, &transf, &retired, &createdAt)
		if err != nil {
			return nil, &ledger.StorageError{Op: "scan entry", Err: err}
		}
		e.Amount = parseAmount(amount)
		e.Counterparty = ledger.PartyID(counterparty.String)
		e.Reason = reason.String
		e.RequestID = request.String
		e.Balances = ledger.BalanceSnapshot{
			Issued:      parseAmount(issued),
			Available:   parseAmount(avail),
			Transferred: parseAmount(transf),
			Retired:     parseAmount(retired),
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) LastSeq(ctx context.Context, accountID ledger.AccountID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastSeq(ctx, s.db, accountID)
}

func lastSeq(ctx context.Context, db execer, accountID ledger.AccountID) (uint64, error) {
	var seq sql.NullInt64
	err := db.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM entries WHERE account_id = ?", accountID).Scan(&seq)
	if err != nil {
		return 0, &ledger.StorageError{Op: "last seq", Err: err}
	}
	return uint64(seq.Int64), nil
}

// =============================================================================
// LISTING STORE (marketplace.ListingStore)
// =============================================================================

func (s *Store) CreateListing(ctx context.Context, l *marketplace.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createListing(ctx, s.db, l)
}

func createListing(ctx context.Context, db execer, l *marketplace.Listing) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO listings
		(id, account_id, seller_id, total, available, sold, price_per_credit,
		 status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.AccountID, l.SellerID, l.Total.String(), l.Available.String(),
		l.Sold.String(), l.PricePerCredit.String(), l.Status, l.Version,
		l.CreatedAt.UTC().Format(time.RFC3339Nano), l.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &ledger.StorageError{Op: "create listing", Err: err}
	}
	return nil
}

func (s *Store) GetListing(ctx context.Context, id ledger.ListingID) (*marketplace.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getListing(ctx, s.db, id)
}

func getListing(ctx context.Context, db execer, id ledger.ListingID) (*marketplace.Listing, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, account_id, seller_id, total, available, sold, price_per_credit,
		       status, version, created_at, updated_at
		FROM listings WHERE id = ?`, id)

	var (
		l                         marketplace.Listing
		total, avail, sold, price string
		createdAt, updatedAt      string
	)
	err := row.Scan(&l.ID, &l.AccountID, &l.SellerID, &total, &avail, &sold, &price,
		&l.Status, &l.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "scan listing", Err: err}
	}
	l.Total = parseAmount(total)
	l.Available = parseAmount(avail)
	l.Sold = parseAmount(sold)
	l.PricePerCredit = parseAmount(price)
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return &l, nil
}

func (s *Store) UpdateListing(ctx context.Context, l *marketplace.Listing, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateListing(ctx, s.db, l, expectedVersion)
}

func updateListing(ctx context.Context, db execer, l *marketplace.Listing, expectedVersion uint64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE listings SET
			available = ?, sold = ?, status = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		l.Available.String(), l.Sold.String(), l.Status,
		l.UpdatedAt.UTC().Format(time.RFC3339Nano),
		l.ID, expectedVersion,
	)
	if err != nil {
		return &ledger.StorageError{Op: "update listing", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &ledger.StorageError{Op: "update listing", Err: err}
	}
	if n == 0 {
		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings WHERE id = ?", l.ID).Scan(&exists); err != nil {
			return &ledger.StorageError{Op: "update listing", Err: err}
		}
		if exists == 0 {
			return ledger.ErrNotFound
		}
		return ledger.ErrConcurrentConflict
	}
	l.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListListings(ctx context.Context) ([]*marketplace.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listListings(ctx, s.db)
}

func listListings(ctx context.Context, db execer) ([]*marketplace.Listing, error) {
	rows, err := db.QueryContext(ctx, "SELECT id FROM listings ORDER BY created_at DESC")
	if err != nil {
		return nil, &ledger.StorageError{Op: "list listings", Err: err}
	}
	defer rows.Close()

	var ids []ledger.ListingID
	for rows.Next() {
		var id ledger.ListingID
		if err := rows.Scan(&id); err != nil {
			return nil, &ledger.StorageError{Op: "list listings", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "list listings", Err: err}
	}

	listings := make([]*marketplace.Listing, 0, len(ids))
	for _, id := range ids {
		l, err := getListing(ctx, db, id)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// =============================================================================
// TRANSACTION RECORDS (credit.TransactionStore)
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, rec *credit.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createTransaction(ctx, s.db, rec)
}

func createTransaction(ctx context.Context, db execer, rec *credit.TransactionRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_id, kind, amount, from_party, to_party, request_id,
		 entry_seq, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID, rec.Kind, rec.Amount.String(),
		nullString(string(rec.FromParty)), nullString(string(rec.ToParty)),
		nullString(rec.RequestID), rec.EntrySeq, rec.Status,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &ledger.StorageError{Op: "create transaction", Err: err}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*credit.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db execer, id ledger.TransactionID) (*credit.TransactionRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, account_id, kind, amount, from_party, to_party, request_id,
		       entry_seq, status, created_at, updated_at
		FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

func scanTransaction(row *sql.Row) (*credit.TransactionRecord, error) {
	var (
		rec                  credit.TransactionRecord
		from, to, request    sql.NullString
		amount               string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.Kind, &amount, &from, &to, &request,
		&rec.EntrySeq, &rec.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "scan transaction", Err: err}
	}
	rec.Amount = parseAmount(amount)
	rec.FromParty = ledger.PartyID(from.String)
	rec.ToParty = ledger.PartyID(to.String)
	rec.RequestID = request.String
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func (s *Store) ProgressTransaction(ctx context.Context, id ledger.TransactionID, to credit.TxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return progressTransaction(ctx, s.db, id, to)
}

func progressTransaction(ctx context.Context, db execer, id ledger.TransactionID, to credit.TxStatus) error {
	rec, err := getTransaction(ctx, db, id)
	if err != nil {
		return err
	}
	if !rec.Status.CanProgress(to) {
		return ledger.ErrInvalidState
	}
	_, err = db.ExecContext(ctx,
		"UPDATE transactions SET status = ?, updated_at = ? WHERE id = ?",
		to, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return &ledger.StorageError{Op: "progress transaction", Err: err}
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]*credit.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, accountID)
}

func listTransactions(ctx context.Context, db execer, accountID ledger.AccountID) ([]*credit.TransactionRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id FROM transactions WHERE account_id = ? ORDER BY created_at DESC", accountID)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list transactions", Err: err}
	}
	defer rows.Close()

	var ids []ledger.TransactionID
	for rows.Next() {
		var id ledger.TransactionID
		if err := rows.Scan(&id); err != nil {
			return nil, &ledger.StorageError{Op: "list transactions", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "list transactions", Err: err}
	}

	recs := make([]*credit.TransactionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := getTransaction(ctx, db, id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// =============================================================================
// OPERATION RESULTS (ledger.ResultStore)
// =============================================================================

func (s *Store) GetResult(ctx context.Context, accountID ledger.AccountID, requestID string) (*ledger.OperationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getResult(ctx, s.db, accountID, requestID)
}

func getResult(ctx context.Context, db execer, accountID ledger.AccountID, requestID string) (*ledger.OperationResult, error) {
	var resultJSON string
	err := db.QueryRowContext(ctx,
		"SELECT result_json FROM operation_results WHERE account_id = ? AND request_id = ?",
		accountID, requestID).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "get result", Err: err}
	}

	var res ledger.OperationResult
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
		return nil, &ledger.StorageError{Op: "decode result", Err: err}
	}
	return &res, nil
}

func (s *Store) PutResult(ctx context.Context, res ledger.OperationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putResult(ctx, s.db, res)
}

func putResult(ctx context.Context, db execer, res ledger.OperationResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return &ledger.StorageError{Op: "encode result", Err: err}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO operation_results (account_id, request_id, result_json, recorded_at)
		VALUES (?, ?, ?, ?)`,
		res.AccountID, res.RequestID, string(resultJSON),
		res.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrConcurrentConflict
		}
		return &ledger.StorageError{Op: "put result", Err: err}
	}
	return nil
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog) - append-only
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, db execer, entry ledger.AuditEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, ts, actor_id, actor_role, action, account_id, amount, outcome, prev_status, new_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.ActorID, entry.ActorRole, entry.Action,
		nullString(string(entry.AccountID)), entry.Amount.String(), entry.Outcome,
		nullString(entry.PrevStatus), nullString(entry.NewStatus),
	)
	if err != nil {
		return &ledger.StorageError{Op: "append audit", Err: err}
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, ts, actor_id, actor_role, action, account_id, amount,
	                 outcome, prev_status, new_status
	          FROM audit_log WHERE 1=1`
	var args []any
	if filter.AccountID != nil {
		query += " AND account_id = ?"
		args = append(args, *filter.AccountID)
	}
	if filter.ActorID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN (?" + strings.Repeat(",?", len(filter.Actions)-1) + ")"
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		query += " AND ts >= ?"
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		query += " AND ts <= ?"
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY ts ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ledger.StorageError{Op: "query audit", Err: err}
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e                             ledger.AuditEntry
			ts, amount                    string
			account, prevStatus, newState sql.NullString
		)
		err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.ActorRole, &e.Action,
			&account, &amount, &e.Outcome, &prevStatus, &newState)
		if err != nil {
			return nil, &ledger.StorageError{Op: "scan audit", Err: err}
		}
		e.Timestamp = parseTime(ts)
		e.AccountID = ledger.AccountID(account.String)
		e.Amount = parseAmount(amount)
		e.PrevStatus = prevStatus.String
		e.NewStatus = newState.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTION SCOPES (credit.TxStore + marketplace.TxStore)
// =============================================================================

// WithTx executes fn within one database transaction spanning listings
// and accounts. Rolls back if fn errors.
func (s *Store) WithTx(ctx context.Context, fn func(marketplace.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ledger.StorageError{Op: "begin tx", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &ledger.StorageError{Op: "commit tx", Err: err}
	}
	return nil
}

// WithAccountTx is the account-scoped transaction used by the credit
// service. Same mechanics, narrower interface.
func (s *Store) WithAccountTx(ctx context.Context, fn func(credit.Store) error) error {
	return s.WithTx(ctx, func(st marketplace.Store) error {
		return fn(st)
	})
}

// txStore routes every call through the open transaction. It takes no
// locks: the parent holds the store mutex for the duration of WithTx.
type txStore struct {
	tx *sql.Tx
}

var _ marketplace.Store = (*txStore)(nil)

func (t *txStore) CreateAccount(ctx context.Context, a *credit.Account) error {
	return createAccount(ctx, t.tx, a)
}

func (t *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*credit.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *txStore) UpdateAccount(ctx context.Context, a *credit.Account, expectedVersion uint64) error {
	return updateAccount(ctx, t.tx, a, expectedVersion)
}

func (t *txStore) ListAccounts(ctx context.Context) ([]*credit.Account, error) {
	return listAccounts(ctx, t.tx)
}

func (t *txStore) Append(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, t.tx, e)
}

func (t *txStore) Entries(ctx context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	return loadEntries(ctx, t.tx, accountID)
}

func (t *txStore) LastSeq(ctx context.Context, accountID ledger.AccountID) (uint64, error) {
	return lastSeq(ctx, t.tx, accountID)
}

func (t *txStore) CreateListing(ctx context.Context, l *marketplace.Listing) error {
	return createListing(ctx, t.tx, l)
}

func (t *txStore) GetListing(ctx context.Context, id ledger.ListingID) (*marketplace.Listing, error) {
	return getListing(ctx, t.tx, id)
}

func (t *txStore) UpdateListing(ctx context.Context, l *marketplace.Listing, expectedVersion uint64) error {
	return updateListing(ctx, t.tx, l, expectedVersion)
}

func (t *txStore) ListListings(ctx context.Context) ([]*marketplace.Listing, error) {
	return listListings(ctx, t.tx)
}

func (t *txStore) CreateTransaction(ctx context.Context, rec *credit.TransactionRecord) error {
	return createTransaction(ctx, t.tx, rec)
}

func (t *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*credit.TransactionRecord, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *txStore) ProgressTransaction(ctx context.Context, id ledger.TransactionID, to credit.TxStatus) error {
	return progressTransaction(ctx, t.tx, id, to)
}

func (t *txStore) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]*credit.TransactionRecord, error) {
	return listTransactions(ctx, t.tx, accountID)
}

func (t *txStore) GetResult(ctx context.Context, accountID ledger.AccountID, requestID string) (*ledger.OperationResult, error) {
	return getResult(ctx, t.tx, accountID, requestID)
}

func (t *txStore) PutResult(ctx context.Context, res ledger.OperationResult) error {
	return putResult(ctx, t.tx, res)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) ledger.Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.ZeroAmount()
	}
	return ledger.Amount{Value: d, Unit: ledger.UnitCredits}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Reset drops all data. Used by the demo scenario loader; never called
// in the request path.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"accounts", "entries", "listings", "transactions", "operation_results", "audit_log"} {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return &ledger.StorageError{Op: "reset", Err: err}
		}
	}
	return nil
}
