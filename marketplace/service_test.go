package marketplace_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/marketplace"
	"github.com/veridian/credit-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	seller    = ledger.Actor{ID: "producer-1", Role: ledger.RoleProducer}
	certifier = ledger.Actor{ID: "certifier-1", Role: ledger.RoleCertifier}
	buyer     = ledger.Actor{ID: "buyer-1", Role: ledger.RoleBuyer}
	buyer2    = ledger.Actor{ID: "buyer-2", Role: ledger.RoleBuyer}
)

func newTestMarket(t *testing.T) (*marketplace.Service, *credit.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return marketplace.NewService(store, store), credit.NewService(store, store), store
}

// issuedAccount walks a batch to issued status with the given size.
func issuedAccount(t *testing.T, credits *credit.Service, amount int) *credit.Account {
	t.Helper()
	ctx := context.Background()

	acct, err := credits.Register(ctx, seller, ledger.NewAmountFromInt(amount), "", "")
	require.NoError(t, err)
	_, err = credits.StartReview(ctx, certifier, acct.ID)
	require.NoError(t, err)
	_, err = credits.Approve(ctx, certifier, acct.ID)
	require.NoError(t, err)
	out, err := credits.Issue(ctx, certifier, acct.ID, ledger.NewAmountFromInt(amount))
	require.NoError(t, err)
	return out
}

func price() ledger.Amount { return ledger.NewAmount(3.25) }

// =============================================================================
// LISTING TESTS
// =============================================================================

func TestCreateListing_ReservesWithinAvailable(t *testing.T) {
	// GIVEN: An account with 100 available
	// WHEN: Listing 60 for sale
	// THEN: Listing opens with available 60, sold 0, and never exceeds
	//       the account's available balance

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)

	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(60), price())
	require.NoError(t, err)

	assert.Equal(t, marketplace.ListingOpen, listing.Status)
	assert.Equal(t, acct.ID, listing.AccountID)
	assert.Equal(t, seller.ID, listing.SellerID)
	assert.True(t, listing.Total.Equal(ledger.NewAmountFromInt(60)))
	assert.True(t, listing.Available.Equal(ledger.NewAmountFromInt(60)))
	assert.True(t, listing.Sold.IsZero())
	assert.NoError(t, listing.CheckInvariants())

	got, err := credits.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, listing.Available.GreaterThan(got.Available),
		"listing availability must stay within account availability")
}

func TestCreateListing_ExceedingAvailableRejected(t *testing.T) {
	// GIVEN: An account with 100 available
	// WHEN: Listing 150
	// THEN: InsufficientBalance, no listing created

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)

	_, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(150), price())
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	listings, err := market.ListListings(ctx)
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestCreateListing_RequiresIssuedAccount(t *testing.T) {
	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct, err := credits.Register(ctx, seller, ledger.NewAmountFromInt(100), "", "")
	require.NoError(t, err)

	_, err = market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(10), price())
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestCreateListing_BadInputs(t *testing.T) {
	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)

	_, err := market.CreateListing(ctx, seller, acct.ID, ledger.ZeroAmount(), price())
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(10), ledger.NewAmount(-1))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = market.CreateListing(ctx, seller, "no-such-account", ledger.NewAmountFromInt(10), price())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestCancelListing(t *testing.T) {
	// GIVEN: An open listing with one sale on it
	// WHEN: The seller cancels
	// THEN: Status cancelled, remaining availability zeroed, sold
	//       quantity untouched, and no further purchases are accepted

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)
	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(60), price())
	require.NoError(t, err)

	_, err = market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(20), buyer.ID, "p-1")
	require.NoError(t, err)

	cancelled, err := market.CancelListing(ctx, seller, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.ListingCancelled, cancelled.Status)
	assert.True(t, cancelled.Available.IsZero())
	assert.True(t, cancelled.Sold.Equal(ledger.NewAmountFromInt(20)))

	_, err = market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(10), buyer.ID, "p-2")
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	// Cancel is not repeatable.
	_, err = market.CancelListing(ctx, seller, listing.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

// =============================================================================
// PURCHASE TESTS
// =============================================================================

func TestPurchase_MovesListingAndAccountTogether(t *testing.T) {
	// GIVEN: 100 issued, 60 listed
	// WHEN: A buyer purchases 25
	// THEN: Listing and account both move in the same commit: listing
	//       available 35 / sold 25, account available 75 / transferred 25

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)
	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(60), price())
	require.NoError(t, err)

	res, err := market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(25), buyer.ID, "p-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryTransfer, res.Operation)
	assert.False(t, res.Replayed)

	gotListing, err := market.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.ListingOpen, gotListing.Status)
	assert.True(t, gotListing.Available.Equal(ledger.NewAmountFromInt(35)))
	assert.True(t, gotListing.Sold.Equal(ledger.NewAmountFromInt(25)))

	gotAcct, err := credits.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, gotAcct.Available.Equal(ledger.NewAmountFromInt(75)))
	assert.True(t, gotAcct.Transferred.Equal(ledger.NewAmountFromInt(25)))
	assert.NoError(t, gotAcct.CheckInvariants())

	// The transfer landed on the account's entry trail.
	entries, err := credits.Entries(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryTransfer, entries[1].Kind)
	assert.Equal(t, buyer.ID, entries[1].Counterparty)
}

func TestPurchase_ExceedingListingRejected(t *testing.T) {
	// GIVEN: 100 issued but only 30 listed
	// WHEN: Buying 50
	// THEN: ListingInsufficient even though the account could cover it;
	//       neither listing nor account moves

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)
	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(30), price())
	require.NoError(t, err)

	_, err = market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(50), buyer.ID, "p-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrListingInsufficient)

	var insufficient *ledger.ListingInsufficientError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(ledger.NewAmountFromInt(30)))
	assert.True(t, insufficient.Requested.Equal(ledger.NewAmountFromInt(50)))

	gotListing, err := market.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.True(t, gotListing.Available.Equal(ledger.NewAmountFromInt(30)))

	gotAcct, err := credits.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, gotAcct.Available.Equal(ledger.NewAmountFromInt(100)))
}

func TestPurchase_SellOutClosesListing(t *testing.T) {
	// GIVEN: A 40-credit listing
	// WHEN: Purchases drain it to zero
	// THEN: Listing flips to sold_out and rejects further purchases

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)
	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(40), price())
	require.NoError(t, err)

	_, err = market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(15), buyer.ID, "p-1")
	require.NoError(t, err)
	_, err = market.Purchase(ctx, buyer2, listing.ID, ledger.NewAmountFromInt(25), buyer2.ID, "p-2")
	require.NoError(t, err)

	got, err := market.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.ListingSoldOut, got.Status)
	assert.True(t, got.Available.IsZero())
	assert.True(t, got.Sold.Equal(ledger.NewAmountFromInt(40)))

	_, err = market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(1), buyer.ID, "p-3")
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestPurchase_IdempotentReplay(t *testing.T) {
	// GIVEN: A committed purchase under request ID p-1
	// WHEN: The same request ID is submitted again
	// THEN: The stored result returns with Replayed=true; listing and
	//       account are charged exactly once

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)
	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(60), price())
	require.NoError(t, err)

	first, err := market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(25), buyer.ID, "p-1")
	require.NoError(t, err)

	second, err := market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(25), buyer.ID, "p-1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.EntrySeq, second.EntrySeq)

	gotListing, err := market.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.True(t, gotListing.Sold.Equal(ledger.NewAmountFromInt(25)), "sold exactly once")

	gotAcct, err := credits.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, gotAcct.Transferred.Equal(ledger.NewAmountFromInt(25)))
}

func TestPurchase_RequestIDRequired(t *testing.T) {
	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)
	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(60), price())
	require.NoError(t, err)

	_, err = market.Purchase(ctx, buyer, listing.ID, ledger.NewAmountFromInt(10), buyer.ID, "")
	assert.ErrorIs(t, err, ledger.ErrRequestIDRequired)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestConcurrentPurchases_ListingNeverOversold(t *testing.T) {
	// GIVEN: A 100-credit listing
	// WHEN: Two purchases of 70 race
	// THEN: Exactly one commits; listing and account stay consistent

	market, credits, _ := newTestMarket(t)
	ctx := context.Background()

	acct := issuedAccount(t, credits, 100)
	listing, err := market.CreateListing(ctx, seller, acct.ID, ledger.NewAmountFromInt(100), price())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	keys := []string{"race-a", "race-b"}
	buyers := []ledger.Actor{buyer, buyer2}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = market.Purchase(ctx, buyers[i], listing.ID, ledger.NewAmountFromInt(70), buyers[i].ID, keys[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t,
				ledger.IsClientError(err) || ledger.IsRetryable(err),
				"loser must fail cleanly, got: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of the racing purchases may commit")

	gotListing, err := market.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.True(t, gotListing.Sold.Equal(ledger.NewAmountFromInt(70)))
	assert.True(t, gotListing.Available.Equal(ledger.NewAmountFromInt(30)))
	assert.NoError(t, gotListing.CheckInvariants())

	gotAcct, err := credits.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, gotAcct.Transferred.Equal(ledger.NewAmountFromInt(70)))
	assert.NoError(t, gotAcct.CheckInvariants())
	assert.False(t, gotListing.Available.GreaterThan(gotAcct.Available),
		"listing availability must stay within account availability")
}
