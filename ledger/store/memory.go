// Package store provides in-memory ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/veridian/credit-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[ledger.AccountID][]ledger.Entry
	results map[resultKey]ledger.OperationResult
	audit   []ledger.AuditEntry
}

type resultKey struct {
	AccountID ledger.AccountID
	RequestID string
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[ledger.AccountID][]ledger.Entry),
		results: make(map[resultKey]ledger.OperationResult),
	}
}

// Append adds a single entry. Append-only; (account, seq) reuse is rejected.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries[e.AccountID] {
		if existing.Seq == e.Seq {
			return ledger.ErrInvalidEntry
		}
	}
	m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	return nil
}

func (m *Memory) Entries(_ context.Context, accountID ledger.AccountID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries[accountID]))
	copy(result, m.entries[accountID])
	return result, nil
}

func (m *Memory) LastSeq(_ context.Context, accountID ledger.AccountID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last uint64
	for _, e := range m.entries[accountID] {
		if e.Seq > last {
			last = e.Seq
		}
	}
	return last, nil
}

// =============================================================================
// RESULT STORE
// =============================================================================

func (m *Memory) GetResult(_ context.Context, accountID ledger.AccountID, requestID string) (*ledger.OperationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.results[resultKey{AccountID: accountID, RequestID: requestID}]
	if !ok {
		return nil, nil
	}
	out := res
	return &out, nil
}

func (m *Memory) PutResult(_ context.Context, res ledger.OperationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results[resultKey{AccountID: res.AccountID, RequestID: res.RequestID}] = res
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.AuditEntry
	for _, e := range m.audit {
		if filter.AccountID != nil && e.AccountID != *filter.AccountID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		if filter.From != nil && e.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Timestamp.After(*filter.To) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func containsAction(actions []ledger.AuditAction, a ledger.AuditAction) bool {
	for _, action := range actions {
		if action == a {
			return true
		}
	}
	return false
}
