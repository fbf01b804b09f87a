// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[key][]generic.Transaction
	byID         map[generic.TransactionID]generic.Transaction
	idempotency  map[string]bool
	audit        []generic.AuditEntry
}

type key struct {
	TenantID generic.TenantID
	PoolID   generic.PoolID
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[key][]generic.Transaction),
		byID:         make(map[generic.TransactionID]generic.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkKeysLocked([]generic.Transaction{tx}); err != nil {
		return err
	}
	m.appendLocked(tx)
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendBatchLocked(txs)
}

// AppendIfVersion appends txs only while the key still holds `expected`
// transactions.
func (m *Memory) AppendIfVersion(_ context.Context, k generic.ConsumptionKey, expected int, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versionLocked(k) != expected {
		return generic.ErrConcurrentModification
	}
	return m.appendBatchLocked(txs)
}

func (m *Memory) appendBatchLocked(txs []generic.Transaction) error {
	// Check all idempotency keys first (atomic check)
	if err := m.checkKeysLocked(txs); err != nil {
		return err
	}
	for _, tx := range txs {
		m.appendLocked(tx)
	}
	return nil
}

func (m *Memory) checkKeysLocked(txs []generic.Transaction) error {
	seen := map[string]bool{}
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) versionLocked(k generic.ConsumptionKey) int {
	n := 0
	for _, tx := range m.transactions[key{TenantID: k.TenantID, PoolID: k.PoolID}] {
		if tx.EffectiveAt.Date().Equal(k.Date) {
			n++
		}
	}
	return n
}

func (m *Memory) appendLocked(tx generic.Transaction) {
	k := key{TenantID: tx.TenantID, PoolID: tx.PoolID}
	txs := m.transactions[k]

	// Binary search keeps the slice ordered by EffectiveAt
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs
	m.byID[tx.ID] = tx

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

func (m *Memory) Load(_ context.Context, tenant generic.TenantID, poolID generic.PoolID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(tenant, poolID), nil
}

func (m *Memory) loadLocked(tenant generic.TenantID, poolID generic.PoolID) []generic.Transaction {
	src := m.transactions[key{TenantID: tenant, PoolID: poolID}]
	result := make([]generic.Transaction, len(src))
	copy(result, src)
	return result
}

func (m *Memory) LoadRange(_ context.Context, tenant generic.TenantID, poolID generic.PoolID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRangeLocked(tenant, poolID, from, to), nil
}

func (m *Memory) loadRangeLocked(tenant generic.TenantID, poolID generic.PoolID, from, to generic.TimePoint) []generic.Transaction {
	var result []generic.Transaction
	for _, tx := range m.transactions[key{TenantID: tenant, PoolID: poolID}] {
		day := tx.EffectiveAt.Date()
		if from.BeforeOrEqual(day) && day.BeforeOrEqual(to) {
			result = append(result, tx)
		}
	}
	return result
}

func (m *Memory) Get(_ context.Context, tenant generic.TenantID, id generic.TransactionID) (*generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(tenant, id)
}

func (m *Memory) getLocked(tenant generic.TenantID, id generic.TransactionID) (*generic.Transaction, error) {
	tx, ok := m.byID[id]
	if !ok || tx.TenantID != tenant {
		return nil, generic.ErrTransactionNotFound
	}
	return &tx, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if !matchesAudit(e, f) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matchesAudit(e generic.AuditEntry, f generic.AuditFilter) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.Subject != nil && e.Subject != *f.Subject {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if a == e.Action {
				return true
			}
		}
		return false
	}
	return true
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The view handed to fn never re-acquires the lock.
func (tm *TxMemory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	txsCopy := make(map[key][]generic.Transaction, len(tm.transactions))
	for k, v := range tm.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	byIDCopy := make(map[generic.TransactionID]generic.Transaction, len(tm.byID))
	for k, v := range tm.byID {
		byIDCopy[k] = v
	}
	idempCopy := make(map[string]bool, len(tm.idempotency))
	for k, v := range tm.idempotency {
		idempCopy[k] = v
	}
	return memorySnapshot{transactions: txsCopy, byID: byIDCopy, idempotency: idempCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.transactions = s.transactions
	tm.byID = s.byID
	tm.idempotency = s.idempotency
}

type memorySnapshot struct {
	transactions map[key][]generic.Transaction
	byID         map[generic.TransactionID]generic.Transaction
	idempotency  map[string]bool
}

type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Append(_ context.Context, tx generic.Transaction) error {
	return tv.parent.appendBatchLocked([]generic.Transaction{tx})
}

func (tv *txMemoryView) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	return tv.parent.appendBatchLocked(txs)
}

func (tv *txMemoryView) AppendIfVersion(_ context.Context, k generic.ConsumptionKey, expected int, txs []generic.Transaction) error {
	if tv.parent.versionLocked(k) != expected {
		return generic.ErrConcurrentModification
	}
	return tv.parent.appendBatchLocked(txs)
}

func (tv *txMemoryView) Load(_ context.Context, tenant generic.TenantID, poolID generic.PoolID) ([]generic.Transaction, error) {
	return tv.parent.loadLocked(tenant, poolID), nil
}

func (tv *txMemoryView) LoadRange(_ context.Context, tenant generic.TenantID, poolID generic.PoolID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return tv.parent.loadRangeLocked(tenant, poolID, from, to), nil
}

func (tv *txMemoryView) Get(_ context.Context, tenant generic.TenantID, id generic.TransactionID) (*generic.Transaction, error) {
	return tv.parent.getLocked(tenant, id)
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}
