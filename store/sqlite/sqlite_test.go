package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/marketplace"
	"github.com/veridian/credit-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testAccount(id string) *credit.Account {
	return credit.NewAccount(ledger.AccountID(id), "producer-1", ledger.NewAmountFromInt(100), time.Now().UTC())
}

// =============================================================================
// ACCOUNT PERSISTENCE
// =============================================================================

func TestAccountRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct := testAccount("acct-1")
	certifier := ledger.PartyID("certifier-1")
	acct.CertifierID = &certifier
	acct.TxHash = "0xabc"
	acct.Network = "polygon"
	require.NoError(t, store.CreateAccount(ctx, acct))

	got, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, acct.ProducerID, got.ProducerID)
	require.NotNil(t, got.CertifierID)
	assert.Equal(t, certifier, *got.CertifierID)
	assert.Nil(t, got.RejectionReason)
	assert.True(t, got.RequestedAmount.Equal(ledger.NewAmountFromInt(100)))
	assert.Equal(t, credit.StatusPending, got.Status)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, "0xabc", got.TxHash)
}

func TestGetAccount_Missing(t *testing.T) {
	store := newStore(t)
	_, err := store.GetAccount(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestUpdateAccount_VersionCAS(t *testing.T) {
	// GIVEN: An account at version 1
	// WHEN: Two writers update from the same read
	// THEN: The first bumps to version 2; the second fails with
	//       ErrConcurrentConflict and changes nothing

	store := newStore(t)
	ctx := context.Background()

	acct := testAccount("acct-1")
	require.NoError(t, store.CreateAccount(ctx, acct))

	a1, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	a2, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)

	a1.Status = credit.StatusUnderReview
	require.NoError(t, store.UpdateAccount(ctx, a1, 1))
	assert.Equal(t, uint64(2), a1.Version)

	a2.Status = credit.StatusRejected
	err = store.UpdateAccount(ctx, a2, 1)
	assert.ErrorIs(t, err, ledger.ErrConcurrentConflict)

	got, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, credit.StatusUnderReview, got.Status)
	assert.Equal(t, uint64(2), got.Version)
}

func TestUpdateAccount_MissingIsNotFound(t *testing.T) {
	store := newStore(t)
	err := store.UpdateAccount(context.Background(), testAccount("ghost"), 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// ENTRY TRAIL
// =============================================================================

func TestAppend_SeqSlotTakenConflicts(t *testing.T) {
	// The UNIQUE(account_id, seq) index backs the version race: the
	// second writer into a slot conflicts instead of overwriting.

	store := newStore(t)
	ctx := context.Background()

	e := ledger.Entry{
		ID:        "e-1",
		AccountID: "acct-1",
		Seq:       2,
		Kind:      ledger.EntryIssue,
		Amount:    ledger.NewAmountFromInt(100),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Append(ctx, e))

	e.ID = "e-2"
	assert.ErrorIs(t, store.Append(ctx, e), ledger.ErrConcurrentConflict)

	entries, err := store.Entries(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryID("e-1"), entries[0].ID)

	last, err := store.LastSeq(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestEntries_OrderedBySeq(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, seq := range []uint64{5, 2, 9} {
		e := ledger.Entry{
			ID:        ledger.EntryID("e-" + string(rune('0'+seq))),
			AccountID: "acct-1",
			Seq:       seq,
			Kind:      ledger.EntryRetire,
			Amount:    ledger.NewAmountFromInt(1),
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.Append(ctx, e))
	}

	entries, err := store.Entries(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(2), entries[0].Seq)
	assert.Equal(t, uint64(5), entries[1].Seq)
	assert.Equal(t, uint64(9), entries[2].Seq)
}

// =============================================================================
// RESULTS AND TRANSACTION RECORDS
// =============================================================================

func TestResults_DuplicatePutConflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	res := ledger.OperationResult{
		RequestID:  "req-1",
		AccountID:  "acct-1",
		Operation:  ledger.EntryTransfer,
		EntrySeq:   3,
		Balances:   ledger.BalanceSnapshot{Issued: ledger.NewAmountFromInt(100), Available: ledger.NewAmountFromInt(60), Transferred: ledger.NewAmountFromInt(40), Retired: ledger.ZeroAmount()},
		RecordedAt: time.Now().UTC(),
	}
	require.NoError(t, store.PutResult(ctx, res))

	got, err := store.GetResult(ctx, "acct-1", "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(3), got.EntrySeq)
	assert.True(t, got.Balances.Available.Equal(ledger.NewAmountFromInt(60)))
	assert.False(t, got.Replayed, "Replayed never persists")

	assert.ErrorIs(t, store.PutResult(ctx, res), ledger.ErrConcurrentConflict)

	missing, err := store.GetResult(ctx, "acct-1", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProgressTransaction_EnforcesProgression(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := &credit.TransactionRecord{
		ID:        "tx-1",
		AccountID: "acct-1",
		Kind:      ledger.EntryTransfer,
		Amount:    ledger.NewAmountFromInt(40),
		FromParty: "producer-1",
		ToParty:   "buyer-1",
		RequestID: "req-1",
		EntrySeq:  2,
		Status:    credit.TxPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateTransaction(ctx, rec))

	// Skipping processing is rejected.
	assert.ErrorIs(t, store.ProgressTransaction(ctx, "tx-1", credit.TxCompleted), ledger.ErrInvalidState)

	require.NoError(t, store.ProgressTransaction(ctx, "tx-1", credit.TxProcessing))
	require.NoError(t, store.ProgressTransaction(ctx, "tx-1", credit.TxCompleted))

	// Terminal.
	assert.ErrorIs(t, store.ProgressTransaction(ctx, "tx-1", credit.TxFailed), ledger.ErrInvalidState)

	got, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, credit.TxCompleted, got.Status)
	assert.Equal(t, ledger.PartyID("buyer-1"), got.ToParty)
}

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes an account and a listing then fails
	// WHEN: The function returns an error
	// THEN: Nothing is visible afterwards

	store := newStore(t)
	ctx := context.Background()

	sentinel := assert.AnError
	err := store.WithTx(ctx, func(st marketplace.Store) error {
		if err := st.CreateAccount(ctx, testAccount("acct-1")); err != nil {
			return err
		}
		l := &marketplace.Listing{
			ID:             "listing-1",
			AccountID:      "acct-1",
			SellerID:       "producer-1",
			Total:          ledger.NewAmountFromInt(50),
			Available:      ledger.NewAmountFromInt(50),
			Sold:           ledger.ZeroAmount(),
			PricePerCredit: ledger.NewAmount(2),
			Status:         marketplace.ListingOpen,
			Version:        1,
			CreatedAt:      time.Now().UTC(),
			UpdatedAt:      time.Now().UTC(),
		}
		if err := st.CreateListing(ctx, l); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = store.GetAccount(ctx, "acct-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = store.GetListing(ctx, "listing-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestWithAccountTx_CommitsAtomically(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithAccountTx(ctx, func(st credit.Store) error {
		return st.CreateAccount(ctx, testAccount("acct-1"))
	})
	require.NoError(t, err)

	got, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountID("acct-1"), got.ID)
}

// =============================================================================
// RESET
// =============================================================================

func TestReset_ClearsEverything(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("acct-1")))
	require.NoError(t, store.Append(ctx, ledger.Entry{
		ID: "e-1", AccountID: "acct-1", Seq: 1, Kind: ledger.EntryIssue,
		Amount: ledger.NewAmountFromInt(10), CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, store.Reset(ctx))

	_, err := store.GetAccount(ctx, "acct-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	entries, err := store.Entries(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
