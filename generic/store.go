/*
store.go - Persistence interface for consumption transactions and audit

PURPOSE:
  Defines the interface between the capacity engine and the database.
  The Store handles persistence of the consumption ledger while keeping
  append-only semantics. SQLite and in-memory implementations exist.

KEY INTERFACES:
  Store:    Consumption ledger persistence (append, load, exists)
  AuditLog: Who changed what, when

APPEND-ONLY CONTRACT:
  - Append() / AppendBatch(): writes
  - AppendIfVersion(): write guarded by optimistic concurrency
  - NO Update() or Delete() methods exist

OPTIMISTIC CONCURRENCY:
  The version of a ConsumptionKey is the number of transactions recorded
  for it. AppendIfVersion fails with ErrConcurrentModification when another
  writer appended first, so two bookings can never both pass a capacity
  check against the same snapshot.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for consumption persistence (append-only)
// =============================================================================

// Store handles persistence of consumption transactions.
// IMPORTANT: Store is APPEND-ONLY. Corrections are release transactions.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key already exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// AppendIfVersion appends txs only if the key still holds `expected`
	// transactions. Returns ErrConcurrentModification otherwise.
	AppendIfVersion(ctx context.Context, key ConsumptionKey, expected int, txs []Transaction) error

	// Load returns all transactions for a pool, ordered by EffectiveAt.
	Load(ctx context.Context, tenant TenantID, poolID PoolID) ([]Transaction, error)

	// LoadRange returns a pool's transactions with EffectiveAt in [from, to].
	LoadRange(ctx context.Context, tenant TenantID, poolID PoolID, from, to TimePoint) ([]Transaction, error)

	// Get returns a single transaction or ErrTransactionNotFound.
	Get(ctx context.Context, tenant TenantID, id TransactionID) (*Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// TxStore extends Store with transaction support.
type TxStore interface {
	Store
	// WithTx runs fn atomically. Any error rolls back every write made
	// through the Store handed to fn.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	TenantID  TenantID
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	Subject   string // e.g. "pool:pool-001"
	Payload   map[string]any
}

type AuditAction string

const (
	AuditPoolSaved          AuditAction = "pool_saved"
	AuditPoolDeleted        AuditAction = "pool_deleted"
	AuditPoolStatusChanged  AuditAction = "pool_status_changed"
	AuditVariantSaved       AuditAction = "variant_saved"
	AuditVariantRemoved     AuditAction = "variant_removed"
	AuditBucketsGenerated   AuditAction = "buckets_generated"
	AuditBucketEdited       AuditAction = "bucket_edited"
	AuditAllocation         AuditAction = "allocation"
	AuditRelease            AuditAction = "release"
	AuditVersionSaved       AuditAction = "contract_version_saved"
	AuditVersionDeleted     AuditAction = "contract_version_deleted"
	AuditBulkOperation      AuditAction = "bulk_operation"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	TenantID TenantID
	ActorID  *string
	Subject  *string
	Actions  []AuditAction
	From     *time.Time
	To       *time.Time
	Limit    int
}
