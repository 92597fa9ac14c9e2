/*
service.go - Credit account lifecycle orchestration

PURPOSE:
  The Service is the single entry point for everything that changes a
  credit account: registration, certification workflow, issuance, and
  the balance movements in ops.go. Every operation
  - runs its read-check-write inside one storage transaction,
  - retries a bounded number of times on optimistic-lock conflicts,
  - emits exactly one audit entry, success or failure.

LIFECYCLE FLOW:
  Register           -> pending
  StartReview        -> under_review   (certifier attaches)
  Approve            -> approved
  Reject             -> rejected       (resubmittable)
  Resubmit           -> pending
  Issue(actual)      -> issued         (sets issued amount, exactly once)
  Transfer / Retire  -> moves quantity between buckets (ops.go)

CONCURRENCY:
  Conflicts surface as ErrConcurrentConflict after maxRetries attempts.
  StorageFailure is surfaced unchanged, never silently retried.
*/
package credit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/metrics"
)

const defaultMaxRetries = 3

// Service orchestrates credit account operations.
type Service struct {
	Store TxStore
	Audit ledger.AuditLog

	// MaxRetries bounds optimistic-conflict retries. Zero means default.
	MaxRetries int

	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewService(store TxStore, audit ledger.AuditLog) *Service {
	return &Service{Store: store, Audit: audit}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) maxRetries() int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return defaultMaxRetries
}

// =============================================================================
// REGISTRATION AND CERTIFICATION WORKFLOW
// =============================================================================

// Register creates a pending account for a producer's batch. Quantities
// start at zero; the producer's estimate is held apart from the issued
// amount, which only the certifier sets at issuance.
func (s *Service) Register(ctx context.Context, actor ledger.Actor, requested ledger.Amount, txHash, network string) (*Account, error) {
	if !requested.IsPositive() {
		err := ledger.ErrInvalidAmount
		s.audit(ctx, actor, ledger.AuditRegistered, "", requested, "", "", err)
		return nil, err
	}

	acct := NewAccount(ledger.AccountID(uuid.NewString()), actor.ID, requested, s.now())
	acct.TxHash = txHash
	acct.Network = network

	if err := s.Store.CreateAccount(ctx, acct); err != nil {
		s.audit(ctx, actor, ledger.AuditRegistered, acct.ID, requested, "", string(StatusPending), err)
		return nil, err
	}
	s.audit(ctx, actor, ledger.AuditRegistered, acct.ID, requested, "", string(StatusPending), nil)
	return acct, nil
}

// StartReview moves pending -> under_review and attaches the certifier.
func (s *Service) StartReview(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID) (*Account, error) {
	return s.changeStatus(ctx, actor, accountID, StatusUnderReview, ledger.AuditReviewStarted, func(a *Account) {
		certifier := actor.ID
		a.CertifierID = &certifier
	})
}

// Approve moves under_review -> approved.
func (s *Service) Approve(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID) (*Account, error) {
	return s.changeStatus(ctx, actor, accountID, StatusApproved, ledger.AuditApproved, nil)
}

// Reject moves the account to rejected with the certifier's reason.
// A rejected batch can be resubmitted; this is the deliberate retry path.
func (s *Service) Reject(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID, reason string) (*Account, error) {
	return s.changeStatus(ctx, actor, accountID, StatusRejected, ledger.AuditRejected, func(a *Account) {
		a.RejectionReason = &reason
	})
}

// Resubmit moves rejected -> pending for another certification attempt.
func (s *Service) Resubmit(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID) (*Account, error) {
	return s.changeStatus(ctx, actor, accountID, StatusPending, ledger.AuditResubmitted, func(a *Account) {
		a.RejectionReason = nil
	})
}

// changeStatus applies one lifecycle transition under the account's
// optimistic lock. mutate runs after the transition check, before the
// compare-and-swap write.
func (s *Service) changeStatus(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID, to Status, action ledger.AuditAction, mutate func(*Account)) (*Account, error) {
	defer s.timer(action)()
	var out *Account
	var prev Status

	err := s.withRetry(func() error {
		return s.Store.WithAccountTx(ctx, func(st Store) error {
			acct, err := st.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			prev = acct.Status

			next, err := Transition(acct.Status, to)
			if err != nil {
				return err
			}
			readVersion := acct.Version
			acct.Status = next
			if mutate != nil {
				mutate(acct)
			}
			acct.UpdatedAt = s.now()

			if err := st.UpdateAccount(ctx, acct, readVersion); err != nil {
				return err
			}
			out = acct
			return nil
		})
	})

	s.audit(ctx, actor, action, accountID, ledger.ZeroAmount(), string(prev), string(to), err)
	s.observe(action, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// ISSUANCE
// =============================================================================

// Issue moves approved -> issued and sets the issued amount from the
// certifier's actual figure. Allowed exactly once: a second issuance
// attempt fails with ErrAlreadyIssued even if the transition table
// were somehow satisfied.
func (s *Service) Issue(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID, actual ledger.Amount) (*Account, error) {
	defer s.timer(ledger.AuditIssued)()
	var out *Account
	var prev Status

	err := s.withRetry(func() error {
		return s.Store.WithAccountTx(ctx, func(st Store) error {
			acct, err := st.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			prev = acct.Status

			if !actual.IsPositive() {
				return ledger.ErrInvalidAmount
			}
			if acct.IssuedSet() {
				return ledger.ErrAlreadyIssued
			}
			next, err := Transition(acct.Status, StatusIssued)
			if err != nil {
				return err
			}

			readVersion := acct.Version
			acct.Status = next
			acct.Issued = actual
			acct.Available = actual
			acct.UpdatedAt = s.now()
			if err := acct.CheckInvariants(); err != nil {
				return err
			}

			if err := st.UpdateAccount(ctx, acct, readVersion); err != nil {
				return err
			}

			certifier := ""
			if acct.CertifierID != nil {
				certifier = string(*acct.CertifierID)
			}
			entry := ledger.Entry{
				ID:        ledger.EntryID(uuid.NewString()),
				AccountID: acct.ID,
				Seq:       acct.Version,
				Kind:      ledger.EntryIssue,
				Amount:    actual,
				Reason:    "certified by " + certifier,
				Balances:  acct.Snapshot(),
				CreatedAt: s.now(),
			}
			if err := entry.Validate(); err != nil {
				return err
			}
			if err := st.Append(ctx, entry); err != nil {
				return err
			}
			out = acct
			return nil
		})
	})

	s.audit(ctx, actor, ledger.AuditIssued, accountID, actual, string(prev), string(StatusIssued), err)
	s.observe(ledger.AuditIssued, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// BALANCE MOVEMENTS
// =============================================================================

// Transfer moves amount to toParty. Idempotent on requestID: a repeat
// call after success returns the original result without re-mutating.
func (s *Service) Transfer(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID, amount ledger.Amount, toParty ledger.PartyID, requestID string) (*ledger.OperationResult, error) {
	defer s.timer(ledger.AuditTransferred)()
	var res *ledger.OperationResult

	err := s.withRetry(func() error {
		return s.Store.WithAccountTx(ctx, func(st Store) error {
			var err error
			res, err = ApplyTransfer(ctx, st, accountID, amount, toParty, requestID, s.now())
			return err
		})
	})

	s.auditMovement(ctx, actor, ledger.AuditTransferred, accountID, amount, res, err)
	s.observe(ledger.AuditTransferred, err)
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		metrics.ReplayedRequests.Inc()
	}
	return res, nil
}

// Retire permanently retires amount. Irreversible; no operation ever
// decreases the retired bucket.
func (s *Service) Retire(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID, amount ledger.Amount, reason, requestID string) (*ledger.OperationResult, error) {
	defer s.timer(ledger.AuditRetired)()
	var res *ledger.OperationResult

	err := s.withRetry(func() error {
		return s.Store.WithAccountTx(ctx, func(st Store) error {
			var err error
			res, err = ApplyRetire(ctx, st, accountID, amount, reason, requestID, s.now())
			return err
		})
	})

	s.auditMovement(ctx, actor, ledger.AuditRetired, accountID, amount, res, err)
	s.observe(ledger.AuditRetired, err)
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		metrics.ReplayedRequests.Inc()
	}
	return res, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetAccount(ctx context.Context, id ledger.AccountID) (*Account, error) {
	return s.Store.GetAccount(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.Store.ListAccounts(ctx)
}

func (s *Service) Entries(ctx context.Context, id ledger.AccountID) ([]ledger.Entry, error) {
	return s.Store.Entries(ctx, id)
}

func (s *Service) Transactions(ctx context.Context, id ledger.AccountID) ([]*TransactionRecord, error) {
	return s.Store.ListTransactions(ctx, id)
}

// VerifyTrail replays the account's ledger entries and compares the
// result against the authoritative buckets. A mismatch means a write
// escaped the atomic commit path.
func (s *Service) VerifyTrail(ctx context.Context, id ledger.AccountID) (bool, error) {
	acct, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return false, err
	}
	entries, err := s.Store.Entries(ctx, id)
	if err != nil {
		return false, err
	}
	replayed := ledger.Replay(entries)
	snap := acct.Snapshot()
	return replayed.Issued.Equal(snap.Issued) &&
		replayed.Available.Equal(snap.Available) &&
		replayed.Transferred.Equal(snap.Transferred) &&
		replayed.Retired.Equal(snap.Retired), nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// withRetry re-runs fn on optimistic-lock conflicts, bounded. Anything
// else, storage failures included, surfaces immediately.
func (s *Service) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries(); attempt++ {
		err = fn()
		if !ledger.IsRetryable(err) {
			return err
		}
		metrics.ConflictRetries.Inc()
	}
	return err
}

func (s *Service) audit(ctx context.Context, actor ledger.Actor, action ledger.AuditAction, accountID ledger.AccountID, amount ledger.Amount, prev, next string, opErr error) {
	if opErr != nil {
		next = prev // failed operations change nothing
	}
	entry := ledger.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  s.now(),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		AccountID:  accountID,
		Amount:     amount,
		Outcome:    ledger.ErrorKind(opErr),
		PrevStatus: prev,
		NewStatus:  next,
	}
	if err := s.Audit.AppendAudit(ctx, entry); err != nil {
		log.Printf("audit append failed for %s on %s: %v", action, accountID, err)
	}
}

func (s *Service) auditMovement(ctx context.Context, actor ledger.Actor, action ledger.AuditAction, accountID ledger.AccountID, amount ledger.Amount, res *ledger.OperationResult, opErr error) {
	prev, next := "", ""
	if res != nil {
		prev, next = res.PrevStatus, res.Status
	}
	s.audit(ctx, actor, action, accountID, amount, prev, next, opErr)
}

func (s *Service) observe(action ledger.AuditAction, err error) {
	metrics.OperationsTotal.WithLabelValues(string(action), ledger.ErrorKind(err)).Inc()
}

func (s *Service) timer(action ledger.AuditAction) func() {
	start := time.Now()
	return func() {
		metrics.OperationDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	}
}
