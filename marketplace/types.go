/*
Package marketplace implements credit listings and purchases.

A Listing offers part of a credit account's available balance for sale.
The listing's own available amount is a reservation cap, not a ledger
movement: the backing account's balance only moves when a purchase
commits, and the purchase re-validates both the listing cap and the
account balance inside one transaction. A listing can therefore never
sell more than the account actually has free, even under concurrent
buyers.
*/
package marketplace

import (
	"time"

	"github.com/veridian/credit-engine/ledger"
)

// =============================================================================
// LISTING
// =============================================================================

type ListingStatus string

const (
	ListingOpen      ListingStatus = "open"
	ListingSoldOut   ListingStatus = "sold_out"
	ListingCancelled ListingStatus = "cancelled"
)

// Listing offers quantity from exactly one backing credit account.
type Listing struct {
	ID        ledger.ListingID
	AccountID ledger.AccountID
	SellerID  ledger.PartyID

	// Total is the original offered quantity; never changes.
	Total ledger.Amount

	// Available is what remains purchasable. Bounded above by the
	// backing account's available amount at creation and re-validated
	// on every purchase.
	Available ledger.Amount

	// Sold increases monotonically and never exceeds Total.
	Sold ledger.Amount

	PricePerCredit ledger.Amount

	Status ListingStatus

	// Version is the optimistic concurrency token, same scheme as the
	// credit account.
	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckInvariants verifies the listing's internal bounds.
func (l *Listing) CheckInvariants() error {
	if l.Available.IsNegative() || l.Sold.IsNegative() {
		return ledger.ErrInvalidAmount
	}
	if l.Sold.GreaterThan(l.Total) {
		return ledger.ErrInvalidAmount
	}
	if l.Available.Add(l.Sold).GreaterThan(l.Total) {
		return ledger.ErrInvalidAmount
	}
	return nil
}
