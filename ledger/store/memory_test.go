package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/ledger/store"
)

func TestMemory_AppendRejectsSeqReuse(t *testing.T) {
	// GIVEN: An entry at (acct-1, seq 1)
	// WHEN: Appending another entry with the same key
	// THEN: Rejected; the trail keeps the first entry only

	m := store.NewMemory()
	ctx := context.Background()

	first := ledger.Entry{
		ID:        "e-1",
		AccountID: "acct-1",
		Seq:       1,
		Kind:      ledger.EntryIssue,
		Amount:    ledger.NewAmountFromInt(100),
		CreatedAt: time.Now(),
	}
	require.NoError(t, m.Append(ctx, first))

	dup := first
	dup.ID = "e-2"
	dup.Amount = ledger.NewAmountFromInt(50)
	assert.ErrorIs(t, m.Append(ctx, dup), ledger.ErrInvalidEntry)

	entries, err := m.Entries(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryID("e-1"), entries[0].ID)

	last, err := m.LastSeq(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
}

func TestMemory_ResultRoundTrip(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	missing, err := m.GetResult(ctx, "acct-1", "req-1")
	require.NoError(t, err)
	assert.Nil(t, missing, "absent result is (nil, nil)")

	res := ledger.OperationResult{
		RequestID: "req-1",
		AccountID: "acct-1",
		Operation: ledger.EntryTransfer,
		EntrySeq:  4,
	}
	require.NoError(t, m.PutResult(ctx, res))

	got, err := m.GetResult(ctx, "acct-1", "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(4), got.EntrySeq)

	// Results are scoped per account.
	other, err := m.GetResult(ctx, "acct-2", "req-1")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestMemory_AuditFilters(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range []ledger.AuditEntry{
		{ID: "a-1", ActorID: "certifier-1", Action: ledger.AuditApproved, AccountID: "acct-1", Amount: ledger.ZeroAmount()},
		{ID: "a-2", ActorID: "producer-1", Action: ledger.AuditTransferred, AccountID: "acct-1", Amount: ledger.NewAmountFromInt(40)},
		{ID: "a-3", ActorID: "producer-1", Action: ledger.AuditTransferred, AccountID: "acct-2", Amount: ledger.NewAmountFromInt(10)},
	} {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, m.AppendAudit(ctx, e))
	}

	acct := ledger.AccountID("acct-1")
	byAccount, err := m.QueryAudit(ctx, ledger.AuditFilter{AccountID: &acct})
	require.NoError(t, err)
	assert.Len(t, byAccount, 2)

	actor := ledger.PartyID("producer-1")
	byActor, err := m.QueryAudit(ctx, ledger.AuditFilter{ActorID: &actor})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	byAction, err := m.QueryAudit(ctx, ledger.AuditFilter{Actions: []ledger.AuditAction{ledger.AuditApproved}})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "a-1", byAction[0].ID)

	from := base.Add(90 * time.Second)
	byTime, err := m.QueryAudit(ctx, ledger.AuditFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, byTime, 1)
	assert.Equal(t, "a-3", byTime[0].ID)
}
