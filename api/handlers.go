/*
handlers.go - HTTP request handlers

PURPOSE:
  Implements the HTTP handlers for the credit lifecycle, the movement
  operations, the ledger read paths and the marketplace. Handlers parse
  and structurally validate input, call the services, and map domain
  errors to HTTP status codes. No business logic lives here.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                     Register a production batch
    GET    /api/accounts                     List accounts
    GET    /api/accounts/{id}                Get account details
    POST   /api/accounts/{id}/review         Start certification review
    POST   /api/accounts/{id}/approve        Approve certification
    POST   /api/accounts/{id}/reject         Reject with reason
    POST   /api/accounts/{id}/resubmit       Back to pending after reject
    POST   /api/accounts/{id}/issue          Mint credits

  Movements:
    POST   /api/accounts/{id}/transfer       Transfer credits
    POST   /api/accounts/{id}/retire         Retire credits

  Ledger:
    GET    /api/accounts/{id}/entries        Entry trail
    GET    /api/accounts/{id}/transactions   Transaction records
    GET    /api/accounts/{id}/trail          Trail consistency check
    GET    /api/accounts/{id}/audit          Account-scoped audit log
    GET    /api/audit                        Full audit log

  Marketplace:
    POST   /api/listings                     Create listing
    GET    /api/listings                     List listings
    GET    /api/listings/{id}                Get listing
    POST   /api/listings/{id}/cancel         Cancel listing
    POST   /api/listings/{id}/purchase       Purchase from listing

  Scenarios:
    GET    /api/scenarios                    List demo scenarios
    POST   /api/scenarios/load               Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid lifecycle, insufficient balance
  - 404: Resource not found
  - 409: Concurrent conflict (safe to retry)
  - 500: Internal errors
  The body always carries {"error": ..., "kind": ...} where kind is the
  stable machine-readable error kind.

SEE ALSO:
  - dto.go: Request/response types
  - server.go: Routing
  - ledger/errors.go: Error taxonomy and classification helpers
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veridian/credit-engine/ledger"
)

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// handleRegister creates a new credit account in pending status.
// POST /api/accounts
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	requested, err := ledger.ParseAmount(req.RequestedAmount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	account, err := s.credits.Register(r.Context(), actorFrom(req.ActorID, req.ActorRole), requested, req.TxHash, req.Network)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// handleListAccounts returns all accounts, newest first.
// GET /api/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.credits.ListAccounts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		dtos = append(dtos, toAccountDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleGetAccount returns a single account.
// GET /api/accounts/{id}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	account, err := s.credits.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// handleStartReview claims an account for certification review.
// POST /api/accounts/{id}/review
func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(req ReviewRequest) (any, error) {
		a, err := s.credits.StartReview(r.Context(), actorFrom(req.ActorID, req.ActorRole), ledger.AccountID(chi.URLParam(r, "id")))
		if err != nil {
			return nil, err
		}
		return toAccountDTO(a), nil
	})
}

// handleApprove approves a reviewed account.
// POST /api/accounts/{id}/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(req ReviewRequest) (any, error) {
		a, err := s.credits.Approve(r.Context(), actorFrom(req.ActorID, req.ActorRole), ledger.AccountID(chi.URLParam(r, "id")))
		if err != nil {
			return nil, err
		}
		return toAccountDTO(a), nil
	})
}

// handleReject rejects a reviewed account with a reason.
// POST /api/accounts/{id}/reject
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	a, err := s.credits.Reject(r.Context(), actorFrom(req.ActorID, req.ActorRole), ledger.AccountID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// handleResubmit sends a rejected account back to pending.
// POST /api/accounts/{id}/resubmit
func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(req ReviewRequest) (any, error) {
		a, err := s.credits.Resubmit(r.Context(), actorFrom(req.ActorID, req.ActorRole), ledger.AccountID(chi.URLParam(r, "id")))
		if err != nil {
			return nil, err
		}
		return toAccountDTO(a), nil
	})
}

// handleIssue mints credits onto an approved account.
// POST /api/accounts/{id}/issue
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	a, err := s.credits.Issue(r.Context(), actorFrom(req.ActorID, req.ActorRole), ledger.AccountID(chi.URLParam(r, "id")), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// lifecycle factors the shared decode/respond shape of the simple
// status transitions.
func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, fn func(ReviewRequest) (any, error)) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	out, err := fn(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// handleTransfer moves credits to a counterparty. Idempotent on
// request_id: a duplicate returns the stored result with replayed=true.
// POST /api/accounts/{id}/transfer
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := s.credits.Transfer(r.Context(), actorFrom(req.ActorID, req.ActorRole),
		ledger.AccountID(chi.URLParam(r, "id")), amount, ledger.PartyID(req.To), req.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// handleRetire permanently retires credits against a claim.
// POST /api/accounts/{id}/retire
func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	var req RetireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := s.credits.Retire(r.Context(), actorFrom(req.ActorID, req.ActorRole),
		ledger.AccountID(chi.URLParam(r, "id")), amount, req.Reason, req.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// =============================================================================
// LEDGER READ HANDLERS
// =============================================================================

// handleEntries returns the append-only entry trail for an account.
// GET /api/accounts/{id}/entries
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if _, err := s.credits.GetAccount(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := s.credits.Entries(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleTransactions returns an account's transaction records.
// GET /api/accounts/{id}/transactions
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	if _, err := s.credits.GetAccount(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	recs, err := s.credits.Transactions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(recs))
	for _, rec := range recs {
		dtos = append(dtos, toTransactionDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleTrail replays the entry trail and compares it with the stored
// balances.
// GET /api/accounts/{id}/trail
func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	consistent, err := s.credits.VerifyTrail(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TrailDTO{AccountID: string(id), Consistent: consistent})
}

// handleAccountAudit returns the audit log scoped to one account.
// GET /api/accounts/{id}/audit
func (s *Server) handleAccountAudit(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	entries, err := s.audit.QueryAudit(r.Context(), ledger.AuditFilter{AccountID: &id})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeAudit(w, entries)
}

// handleAudit returns the full audit log, optionally filtered by actor.
// GET /api/audit?actor={party}
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var filter ledger.AuditFilter
	if actor := r.URL.Query().Get("actor"); actor != "" {
		p := ledger.PartyID(actor)
		filter.ActorID = &p
	}
	entries, err := s.audit.QueryAudit(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeAudit(w, entries)
}

func writeAudit(w http.ResponseWriter, entries []ledger.AuditEntry) {
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MARKETPLACE HANDLERS
// =============================================================================

// handleCreateListing puts credits up for sale.
// POST /api/listings
func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	price, err := ledger.ParseAmount(req.PricePerCredit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	listing, err := s.market.CreateListing(r.Context(), actorFrom(req.ActorID, req.ActorRole),
		ledger.AccountID(req.AccountID), amount, price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingDTO(listing))
}

// handleListListings returns all listings, newest first.
// GET /api/listings
func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.market.ListListings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]ListingDTO, 0, len(listings))
	for _, l := range listings {
		dtos = append(dtos, toListingDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleGetListing returns a single listing.
// GET /api/listings/{id}
func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.market.GetListing(r.Context(), ledger.ListingID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingDTO(listing))
}

// handleCancelListing cancels an open listing, releasing its
// reservation.
// POST /api/listings/{id}/cancel
func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	listing, err := s.market.CancelListing(r.Context(), actorFrom(req.ActorID, req.ActorRole),
		ledger.ListingID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingDTO(listing))
}

// handlePurchase buys credits from an open listing. Idempotent on
// request_id.
// POST /api/listings/{id}/purchase
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := s.market.Purchase(r.Context(), actorFrom(req.ActorID, req.ActorRole),
		ledger.ListingID(chi.URLParam(r, "id")), amount, ledger.PartyID(req.Buyer), req.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// handleListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scenarios.List())
}

// handleLoadScenario wipes current data and loads a demo scenario.
// POST /api/scenarios/load
func (s *Server) handleLoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	if err := s.scenarios.Load(r.Context(), req.ScenarioID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// handleHealth is the liveness endpoint.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFrom(id, role string) ledger.Actor {
	return ledger.Actor{ID: ledger.PartyID(id), Role: ledger.Role(role)}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// writeDomainError maps a domain error to an HTTP status using the
// taxonomy helpers.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := ledger.ErrorKind(err)
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), kind)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, err.Error(), kind)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), kind)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), kind)
	}
}
