/*
Package ledger provides the core credit accounting engine.

PURPOSE:
  This package contains the domain-agnostic building blocks for credit
  accounting: precise quantities, immutable ledger entries, balance
  snapshots, and the persistence contracts the rest of the system builds
  on. The credit and marketplace packages layer lifecycle and sales
  semantics on top of these primitives.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (credits, one credit = 1 kg H2)
  - BalanceSnapshot: The four balance buckets of a credit account
  - Actor: Resolved identity + role attached to every ledger call
  - Account/Party/Listing IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified once written
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing account/party IDs
  4. Auditability: Every balance change carries actor, reason and request ID

SEE ALSO:
  - entry.go: Immutable ledger entries
  - store.go: Persistence and audit interfaces
  - errors.go: Error taxonomy
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	// UnitCredits is the canonical unit: one credit certifies one
	// kilogram of green hydrogen production.
	UnitCredits Unit = "credits"
)

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: UnitCredits}
}

func NewAmountFromInt(value int) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: UnitCredits}
}

func ZeroAmount() Amount {
	return Amount{Value: decimal.Zero, Unit: UnitCredits}
}

func MustParseAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroAmount()
	}
	return Amount{Value: d, Unit: UnitCredits}
}

// ParseAmount parses a decimal string into an Amount. Returns
// ErrInvalidAmount on malformed input.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroAmount(), fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{Value: d, Unit: UnitCredits}, nil
}

func (a Amount) Add(b Amount) Amount        { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount        { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount                { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool           { return a.Value.IsNegative() }
func (a Amount) IsZero() bool               { return a.Value.IsZero() }
func (a Amount) IsPositive() bool           { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool  { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool     { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool        { return a.Value.Equal(b.Value) }
func (a Amount) String() string             { return a.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type PartyID string
type ListingID string
type EntryID string
type TransactionID string

// =============================================================================
// ACTOR - Resolved identity attached to every ledger call
// =============================================================================

// Role is the caller's resolved role. The ledger trusts this input:
// authorization happens in the excluded auth layer, the ledger only
// enforces balance and state invariants.
type Role string

const (
	RoleProducer  Role = "producer"
	RoleCertifier Role = "certifier"
	RoleBuyer     Role = "buyer"
	RoleAdmin     Role = "admin"
)

type Actor struct {
	ID   PartyID
	Role Role
}

// =============================================================================
// BALANCE SNAPSHOT - The four buckets of a credit account
// =============================================================================

// BalanceSnapshot captures the account balances at a point in time.
// Recorded on every ledger entry so the trail is self-explanatory.
type BalanceSnapshot struct {
	Issued      Amount `json:"issued"`
	Available   Amount `json:"available"`
	Transferred Amount `json:"transferred"`
	Retired     Amount `json:"retired"`
}

// Consistent reports whether available + transferred + retired == issued.
func (b BalanceSnapshot) Consistent() bool {
	sum := b.Available.Add(b.Transferred).Add(b.Retired)
	return sum.Equal(b.Issued)
}

// NonNegative reports whether all four buckets are >= 0.
func (b BalanceSnapshot) NonNegative() bool {
	return !b.Issued.IsNegative() && !b.Available.IsNegative() &&
		!b.Transferred.IsNegative() && !b.Retired.IsNegative()
}
