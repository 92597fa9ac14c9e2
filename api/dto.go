/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:
    AccountDTO, RegisterRequest, ReviewRequest, RejectRequest,
    IssueRequest

  Movements:
    TransferRequest, RetireRequest, OperationResultDTO

  Ledger:
    EntryDTO, TransactionDTO, AuditEntryDTO, TrailDTO

  Marketplace:
    ListingDTO, CreateListingRequest, PurchaseRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Structural validation (amount parses, required fields present) is done
  in handlers. Domain validation (balances, lifecycle) belongs to the
  credit and marketplace services.

SEE ALSO:
  - handlers.go: Uses these types
  - credit/types.go, marketplace/types.go: Domain types behind the DTOs
*/
package api

import (
	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/marketplace"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// AccountDTO represents a credit account in API responses.
type AccountDTO struct {
	ID              string  `json:"id"`
	ProducerID      string  `json:"producer_id"`
	CertifierID     *string `json:"certifier_id,omitempty"`
	OwnerID         string  `json:"owner_id"`
	RequestedAmount string  `json:"requested_amount"`
	Issued          string  `json:"issued"`
	Available       string  `json:"available"`
	Transferred     string  `json:"transferred"`
	Retired         string  `json:"retired"`
	Status          string  `json:"status"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Version         uint64  `json:"version"`
	TxHash          string  `json:"tx_hash,omitempty"`
	Network         string  `json:"network,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// RegisterRequest registers a production batch for certification.
type RegisterRequest struct {
	ActorID         string `json:"actor_id"`
	ActorRole       string `json:"actor_role"`
	RequestedAmount string `json:"requested_amount"`
	TxHash          string `json:"tx_hash,omitempty"`
	Network         string `json:"network,omitempty"`
}

// ReviewRequest moves an account along the certification path
// (start-review, approve, resubmit).
type ReviewRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
}

// RejectRequest rejects a pending certification with a reason.
type RejectRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Reason    string `json:"reason"`
}

// IssueRequest mints credits onto an approved account.
type IssueRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Amount    string `json:"amount"`
}

// =============================================================================
// MOVEMENT TYPES
// =============================================================================

// TransferRequest moves credits to a counterparty.
type TransferRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Amount    string `json:"amount"`
	To        string `json:"to"`
	RequestID string `json:"request_id"`
}

// RetireRequest permanently retires credits.
type RetireRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id"`
}

// OperationResultDTO is returned by transfer, retire and purchase.
// Replayed is true when the request ID matched a previously committed
// operation and the stored result was returned instead.
type OperationResultDTO struct {
	RequestID     string     `json:"request_id"`
	AccountID     string     `json:"account_id"`
	Operation     string     `json:"operation"`
	EntrySeq      uint64     `json:"entry_seq"`
	TransactionID string     `json:"transaction_id"`
	Balances      BalanceDTO `json:"balances"`
	PrevStatus    string     `json:"prev_status"`
	Status        string     `json:"status"`
	Replayed      bool       `json:"replayed"`
}

// BalanceDTO is the four-bucket balance snapshot.
type BalanceDTO struct {
	Issued      string `json:"issued"`
	Available   string `json:"available"`
	Transferred string `json:"transferred"`
	Retired     string `json:"retired"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// EntryDTO represents one immutable ledger entry.
type EntryDTO struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	Seq          uint64     `json:"seq"`
	Kind         string     `json:"kind"`
	Amount       string     `json:"amount"`
	Counterparty string     `json:"counterparty,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
	Balances     BalanceDTO `json:"balances"`
	CreatedAt    string     `json:"created_at"`
}

// TransactionDTO represents a transaction record.
type TransactionDTO struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	FromParty string `json:"from_party,omitempty"`
	ToParty   string `json:"to_party,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	EntrySeq  uint64 `json:"entry_seq"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AuditEntryDTO represents one audit log record.
type AuditEntryDTO struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
	Action     string `json:"action"`
	AccountID  string `json:"account_id,omitempty"`
	Amount     string `json:"amount"`
	Outcome    string `json:"outcome"`
	PrevStatus string `json:"prev_status,omitempty"`
	NewStatus  string `json:"new_status,omitempty"`
}

// TrailDTO reports whether the replayed entry trail matches the
// account's stored balances.
type TrailDTO struct {
	AccountID  string `json:"account_id"`
	Consistent bool   `json:"consistent"`
}

// =============================================================================
// MARKETPLACE TYPES
// =============================================================================

// ListingDTO represents a marketplace listing.
type ListingDTO struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	SellerID       string `json:"seller_id"`
	Total          string `json:"total"`
	Available      string `json:"available"`
	Sold           string `json:"sold"`
	PricePerCredit string `json:"price_per_credit"`
	Status         string `json:"status"`
	Version        uint64 `json:"version"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// CreateListingRequest puts part of an account's available balance up
// for sale.
type CreateListingRequest struct {
	ActorID        string `json:"actor_id"`
	ActorRole      string `json:"actor_role"`
	AccountID      string `json:"account_id"`
	Amount         string `json:"amount"`
	PricePerCredit string `json:"price_per_credit"`
}

// PurchaseRequest buys credits from an open listing.
type PurchaseRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Amount    string `json:"amount"`
	Buyer     string `json:"buyer"`
	RequestID string `json:"request_id"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes an available demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest loads a demo scenario, replacing current data.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

const timeFormat = "2006-01-02T15:04:05Z07:00"

func toAccountDTO(a *credit.Account) AccountDTO {
	dto := AccountDTO{
		ID:              string(a.ID),
		ProducerID:      string(a.ProducerID),
		OwnerID:         string(a.OwnerID),
		RequestedAmount: a.RequestedAmount.String(),
		Issued:          a.Issued.String(),
		Available:       a.Available.String(),
		Transferred:     a.Transferred.String(),
		Retired:         a.Retired.String(),
		Status:          string(a.Status),
		RejectionReason: a.RejectionReason,
		Version:         a.Version,
		TxHash:          a.TxHash,
		Network:         a.Network,
		CreatedAt:       a.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:       a.UpdatedAt.UTC().Format(timeFormat),
	}
	if a.CertifierID != nil {
		c := string(*a.CertifierID)
		dto.CertifierID = &c
	}
	return dto
}

func toBalanceDTO(b ledger.BalanceSnapshot) BalanceDTO {
	return BalanceDTO{
		Issued:      b.Issued.String(),
		Available:   b.Available.String(),
		Transferred: b.Transferred.String(),
		Retired:     b.Retired.String(),
	}
}

func toResultDTO(res *ledger.OperationResult) OperationResultDTO {
	return OperationResultDTO{
		RequestID:     res.RequestID,
		AccountID:     string(res.AccountID),
		Operation:     string(res.Operation),
		EntrySeq:      res.EntrySeq,
		TransactionID: string(res.TransactionID),
		Balances:      toBalanceDTO(res.Balances),
		PrevStatus:    res.PrevStatus,
		Status:        res.Status,
		Replayed:      res.Replayed,
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		AccountID:    string(e.AccountID),
		Seq:          e.Seq,
		Kind:         string(e.Kind),
		Amount:       e.Amount.String(),
		Counterparty: string(e.Counterparty),
		Reason:       e.Reason,
		RequestID:    e.RequestID,
		Balances:     toBalanceDTO(e.Balances),
		CreatedAt:    e.CreatedAt.UTC().Format(timeFormat),
	}
}

func toTransactionDTO(rec *credit.TransactionRecord) TransactionDTO {
	return TransactionDTO{
		ID:        string(rec.ID),
		AccountID: string(rec.AccountID),
		Kind:      string(rec.Kind),
		Amount:    rec.Amount.String(),
		FromParty: string(rec.FromParty),
		ToParty:   string(rec.ToParty),
		RequestID: rec.RequestID,
		EntrySeq:  rec.EntrySeq,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: rec.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toAuditDTO(e ledger.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  e.Timestamp.UTC().Format(timeFormat),
		ActorID:    string(e.ActorID),
		ActorRole:  string(e.ActorRole),
		Action:     string(e.Action),
		AccountID:  string(e.AccountID),
		Amount:     e.Amount.String(),
		Outcome:    e.Outcome,
		PrevStatus: e.PrevStatus,
		NewStatus:  e.NewStatus,
	}
}

func toListingDTO(l *marketplace.Listing) ListingDTO {
	return ListingDTO{
		ID:             string(l.ID),
		AccountID:      string(l.AccountID),
		SellerID:       string(l.SellerID),
		Total:          l.Total.String(),
		Available:      l.Available.String(),
		Sold:           l.Sold.String(),
		PricePerCredit: l.PricePerCredit.String(),
		Status:         string(l.Status),
		Version:        l.Version,
		CreatedAt:      l.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:      l.UpdatedAt.UTC().Format(timeFormat),
	}
}
