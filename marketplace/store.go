// store.go - Persistence contracts for listings.
//
// A purchase spans two records (listing + backing account), so the
// marketplace transaction scope embeds the full credit store: WithTx
// commits the account movement and the listing decrement as one unit,
// or neither.
package marketplace

import (
	"context"

	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
)

// ListingStore persists marketplace listings with optimistic versioning.
type ListingStore interface {
	CreateListing(ctx context.Context, l *Listing) error

	// GetListing loads a listing, ErrNotFound if absent.
	GetListing(ctx context.Context, id ledger.ListingID) (*Listing, error)

	// UpdateListing writes the listing if the stored version still
	// equals expectedVersion, then increments it. ErrConcurrentConflict
	// otherwise.
	UpdateListing(ctx context.Context, l *Listing, expectedVersion uint64) error

	// ListListings returns all listings, newest first.
	ListListings(ctx context.Context) ([]*Listing, error)
}

// Store aggregates everything a purchase touches.
type Store interface {
	credit.Store
	ListingStore
}

// TxStore wraps Store with transaction support spanning listings and
// accounts.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
