/*
service.go - Listing lifecycle and purchase orchestration

PURPOSE:
  CreateListing reserves part of an account's available balance for
  sale; Purchase converts a buyer's order into a credit transfer plus a
  listing decrement, committed atomically. The listing reservation is a
  cap, not a balance movement: the cap is validated at creation and the
  real balance is re-validated inside the purchase transaction, which
  closes the window where the account spent credits elsewhere after the
  listing went up.

PURCHASE FLOW (one transaction):
  1. Load listing and backing account under the same scope
  2. Fail ListingInsufficient if amount exceeds the listing cap
  3. ApplyTransfer on the account (its failures propagate unchanged)
  4. Decrement listing available, increment sold, same commit
  5. sold_out when the listing cap reaches zero
*/
package marketplace

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/metrics"
)

const defaultMaxRetries = 3

// Service orchestrates listings and purchases.
type Service struct {
	Store TxStore
	Audit ledger.AuditLog

	MaxRetries int
	Now        func() time.Time
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
// LISTING LIFECYCLE
// =============================================================================

// CreateListing reserves amount of the backing account's available
// balance for sale. The reservation succeeds only if amount is covered
// by the account's current available balance; it does not move quantity
// out of the account.
func (s *Service) CreateListing(ctx context.Context, actor ledger.Actor, accountID ledger.AccountID, amount, pricePerCredit ledger.Amount) (*Listing, error) {
	var out *Listing

	err := s.withRetry(func() error {
		return s.Store.WithTx(ctx, func(st Store) error {
			acct, err := st.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			if !amount.IsPositive() || pricePerCredit.IsNegative() {
				return ledger.ErrInvalidAmount
			}
			if !acct.Status.Transferable() {
				return &credit.InvalidStateError{Status: acct.Status, Operation: "list"}
			}
			if amount.GreaterThan(acct.Available) {
				return &ledger.InsufficientBalanceError{
					AccountID: accountID,
					Available: acct.Available,
					Requested: amount,
				}
			}

			now := s.now()
			l := &Listing{
				ID:             ledger.ListingID(uuid.NewString()),
				AccountID:      accountID,
				SellerID:       acct.OwnerID,
				Total:          amount,
				Available:      amount,
				Sold:           ledger.ZeroAmount(),
				PricePerCredit: pricePerCredit,
				Status:         ListingOpen,
				Version:        1,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := st.CreateListing(ctx, l); err != nil {
				return err
			}
			out = l
			return nil
		})
	})

	s.audit(ctx, actor, ledger.AuditListingCreated, accountID, amount, err)
	metrics.OperationsTotal.WithLabelValues(string(ledger.AuditListingCreated), ledger.ErrorKind(err)).Inc()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelListing closes an open listing. Already-sold quantity stays
// sold; the remaining reservation is simply released.
func (s *Service) CancelListing(ctx context.Context, actor ledger.Actor, listingID ledger.ListingID) (*Listing, error) {
	var out *Listing

	err := s.withRetry(func() error {
		return s.Store.WithTx(ctx, func(st Store) error {
			l, err := st.GetListing(ctx, listingID)
			if err != nil {
				return err
			}
			if l.Status != ListingOpen {
				return ledger.ErrInvalidState
			}
			readVersion := l.Version
			l.Status = ListingCancelled
			l.Available = ledger.ZeroAmount()
			l.UpdatedAt = s.now()
			if err := st.UpdateListing(ctx, l, readVersion); err != nil {
				return err
			}
			out = l
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase buys amount from the listing for buyer. The account transfer
// and the listing decrement commit together or not at all. Idempotent
// on requestID.
func (s *Service) Purchase(ctx context.Context, actor ledger.Actor, listingID ledger.ListingID, amount ledger.Amount, buyer ledger.PartyID, requestID string) (*ledger.OperationResult, error) {
	defer func(start time.Time) {
		metrics.OperationDuration.WithLabelValues(string(ledger.AuditPurchased)).Observe(time.Since(start).Seconds())
	}(time.Now())

	var res *ledger.OperationResult
	var accountID ledger.AccountID

	err := s.withRetry(func() error {
		return s.Store.WithTx(ctx, func(st Store) error {
			l, err := st.GetListing(ctx, listingID)
			if err != nil {
				return err
			}
			accountID = l.AccountID

			if requestID == "" {
				return ledger.ErrRequestIDRequired
			}
			if prior, err := st.GetResult(ctx, l.AccountID, requestID); err != nil {
				return err
			} else if prior != nil {
				prior.Replayed = true
				res = prior
				return nil
			}

			if !amount.IsPositive() {
				return ledger.ErrInvalidAmount
			}
			if l.Status != ListingOpen {
				return ledger.ErrInvalidState
			}
			if amount.GreaterThan(l.Available) {
				return &ledger.ListingInsufficientError{
					ListingID: l.ID,
					Available: l.Available,
					Requested: amount,
				}
			}

			// The account movement. Its failures propagate unchanged.
			res, err = credit.ApplyTransfer(ctx, st, l.AccountID, amount, buyer, requestID, s.now())
			if err != nil {
				return err
			}

			readVersion := l.Version
			l.Available = l.Available.Sub(amount)
			l.Sold = l.Sold.Add(amount)
			if l.Available.IsZero() {
				l.Status = ListingSoldOut
			}
			l.UpdatedAt = s.now()
			if err := l.CheckInvariants(); err != nil {
				return err
			}
			return st.UpdateListing(ctx, l, readVersion)
		})
	})

	s.audit(ctx, actor, ledger.AuditPurchased, accountID, amount, err)
	metrics.OperationsTotal.WithLabelValues(string(ledger.AuditPurchased), ledger.ErrorKind(err)).Inc()
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

func (s *Service) GetListing(ctx context.Context, id ledger.ListingID) (*Listing, error) {
	return s.Store.GetListing(ctx, id)
}

func (s *Service) ListListings(ctx context.Context) ([]*Listing, error) {
	return s.Store.ListListings(ctx)
}

// =============================================================================
// INTERNALS
// =============================================================================

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

func (s *Service) audit(ctx context.Context, actor ledger.Actor, action ledger.AuditAction, accountID ledger.AccountID, amount ledger.Amount, opErr error) {
	entry := ledger.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		AccountID: accountID,
		Amount:    amount,
		Outcome:   ledger.ErrorKind(opErr),
	}
	if err := s.Audit.AppendAudit(ctx, entry); err != nil {
		log.Printf("audit append failed for %s on %s: %v", action, accountID, err)
	}
}
