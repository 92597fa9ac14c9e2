/*
ops.go - Atomic balance movements

PURPOSE:
  ApplyTransfer and ApplyRetire are the only two functions that move
  quantity between an account's buckets. They operate on a tx-scoped
  Store so the read-validate-mutate-append sequence commits as one unit:
  the credit Service runs them inside WithAccountTx, and the marketplace
  purchase runs ApplyTransfer inside its own wider transaction so the
  listing decrement commits atomically with the account movement.

SERIALIZABILITY:
  Two concurrent movements against the same account cannot both succeed
  off the same read: UpdateAccount is a compare-and-swap on the account
  version, so the loser fails with ErrConcurrentConflict and retries on
  a fresh read. The entry sequence number is the post-increment version,
  which makes (account, seq) collision-free by construction.

IDEMPOTENCY:
  Both functions first consult the ResultStore: a request ID that was
  already committed replays the stored result without re-mutating.
  The result is persisted in the same transaction as the movement.
*/
package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/veridian/credit-engine/ledger"
)

// ApplyTransfer validates and applies a transfer of amount to toParty.
// Preconditions: status in {issued, transferred}, 0 < amount <= available.
// Effects: available -= amount, transferred += amount; status becomes
// transferred when available reaches zero.
func ApplyTransfer(
	ctx context.Context,
	st Store,
	accountID ledger.AccountID,
	amount ledger.Amount,
	toParty ledger.PartyID,
	requestID string,
	now time.Time,
) (*ledger.OperationResult, error) {
	if requestID == "" {
		return nil, ledger.ErrRequestIDRequired
	}
	if prior, err := st.GetResult(ctx, accountID, requestID); err != nil {
		return nil, err
	} else if prior != nil {
		prior.Replayed = true
		return prior, nil
	}

	acct, err := st.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	readVersion := acct.Version

	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if !acct.Status.Transferable() {
		return nil, &InvalidStateError{Status: acct.Status, Operation: "transfer"}
	}
	if amount.GreaterThan(acct.Available) {
		return nil, &ledger.InsufficientBalanceError{
			AccountID: accountID,
			Available: acct.Available,
			Requested: amount,
		}
	}

	prevStatus := acct.Status
	fromParty := acct.OwnerID
	acct.Available = acct.Available.Sub(amount)
	acct.Transferred = acct.Transferred.Add(amount)
	if acct.Available.IsZero() && acct.Status != StatusTransferred {
		next, terr := Transition(acct.Status, StatusTransferred)
		if terr != nil {
			return nil, terr
		}
		acct.Status = next
		// The whole remaining batch moved; ownership follows it.
		acct.OwnerID = toParty
	}
	acct.UpdatedAt = now
	if err := acct.CheckInvariants(); err != nil {
		return nil, err
	}

	if err := st.UpdateAccount(ctx, acct, readVersion); err != nil {
		return nil, err
	}

	return commitMovement(ctx, st, acct, movement{
		kind:       ledger.EntryTransfer,
		amount:     amount,
		fromParty:  fromParty,
		toParty:    toParty,
		requestID:  requestID,
		prevStatus: prevStatus,
		now:        now,
	})
}

// ApplyRetire validates and applies a retirement of amount.
// Effects: available -= amount, retired += amount; status becomes
// retired only when available reaches zero (partial retirement keeps
// the prior status). Irreversible: nothing ever decreases Retired.
func ApplyRetire(
	ctx context.Context,
	st Store,
	accountID ledger.AccountID,
	amount ledger.Amount,
	reason string,
	requestID string,
	now time.Time,
) (*ledger.OperationResult, error) {
	if requestID == "" {
		return nil, ledger.ErrRequestIDRequired
	}
	if prior, err := st.GetResult(ctx, accountID, requestID); err != nil {
		return nil, err
	} else if prior != nil {
		prior.Replayed = true
		return prior, nil
	}

	acct, err := st.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	readVersion := acct.Version

	if !amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if !acct.Status.Transferable() {
		return nil, &InvalidStateError{Status: acct.Status, Operation: "retire"}
	}
	if amount.GreaterThan(acct.Available) {
		return nil, &ledger.InsufficientBalanceError{
			AccountID: accountID,
			Available: acct.Available,
			Requested: amount,
		}
	}

	prevStatus := acct.Status
	fromParty := acct.OwnerID
	acct.Available = acct.Available.Sub(amount)
	acct.Retired = acct.Retired.Add(amount)
	if acct.Available.IsZero() {
		next, terr := Transition(acct.Status, StatusRetired)
		if terr != nil {
			return nil, terr
		}
		acct.Status = next
	}
	acct.UpdatedAt = now
	if err := acct.CheckInvariants(); err != nil {
		return nil, err
	}

	if err := st.UpdateAccount(ctx, acct, readVersion); err != nil {
		return nil, err
	}

	return commitMovement(ctx, st, acct, movement{
		kind:       ledger.EntryRetire,
		amount:     amount,
		fromParty:  fromParty,
		reason:     reason,
		requestID:  requestID,
		prevStatus: prevStatus,
		now:        now,
	})
}

// =============================================================================
// SHARED COMMIT PATH
// =============================================================================

type movement struct {
	kind       ledger.EntryKind
	amount     ledger.Amount
	fromParty  ledger.PartyID
	toParty    ledger.PartyID
	reason     string
	requestID  string
	prevStatus Status
	now        time.Time
}

// commitMovement writes the entry, transaction record, and operation
// result for an already-updated account. Runs inside the caller's
// transaction; any error rolls the whole movement back.
func commitMovement(ctx context.Context, st Store, acct *Account, m movement) (*ledger.OperationResult, error) {
	seq := acct.Version

	entry := ledger.Entry{
		ID:           ledger.EntryID(uuid.NewString()),
		AccountID:    acct.ID,
		Seq:          seq,
		Kind:         m.kind,
		Amount:       m.amount,
		Counterparty: m.toParty,
		Reason:       m.reason,
		RequestID:    m.requestID,
		Balances:     acct.Snapshot(),
		CreatedAt:    m.now,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := st.Append(ctx, entry); err != nil {
		return nil, err
	}

	rec := &TransactionRecord{
		ID:        ledger.TransactionID(uuid.NewString()),
		AccountID: acct.ID,
		Kind:      m.kind,
		Amount:    m.amount,
		FromParty: m.fromParty,
		ToParty:   m.toParty,
		RequestID: m.requestID,
		EntrySeq:  seq,
		Status:    TxPending,
		CreatedAt: m.now,
		UpdatedAt: m.now,
	}
	if err := st.CreateTransaction(ctx, rec); err != nil {
		return nil, err
	}
	if err := st.ProgressTransaction(ctx, rec.ID, TxProcessing); err != nil {
		return nil, err
	}
	if err := st.ProgressTransaction(ctx, rec.ID, TxCompleted); err != nil {
		return nil, err
	}

	res := ledger.OperationResult{
		RequestID:     m.requestID,
		AccountID:     acct.ID,
		Operation:     m.kind,
		EntrySeq:      seq,
		TransactionID: rec.ID,
		Balances:      acct.Snapshot(),
		PrevStatus:    string(m.prevStatus),
		Status:        string(acct.Status),
		RecordedAt:    m.now,
	}
	if err := st.PutResult(ctx, res); err != nil {
		return nil, err
	}
	return &res, nil
}
