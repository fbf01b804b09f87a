package inventory

import (
	"context"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// REPOSITORY - What the inventory services need from the data store
// =============================================================================

type PoolRepository interface {
	LoadPool(ctx context.Context, tenant generic.TenantID, id generic.PoolID) (*Pool, error)
	SavePool(ctx context.Context, pool Pool) error
	DeletePool(ctx context.Context, tenant generic.TenantID, id generic.PoolID) error
	ListPools(ctx context.Context, tenant generic.TenantID) ([]Pool, error)

	// ListAllPools crosses tenants. Only the lifecycle job uses it.
	ListAllPools(ctx context.Context) ([]Pool, error)

	LoadVariants(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID) ([]PoolVariant, error)
	SaveVariant(ctx context.Context, v PoolVariant) error
	DeleteVariant(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID, variantID generic.VariantID) error
}

type RatePlanRepository interface {
	LoadRatePlan(ctx context.Context, tenant generic.TenantID, id string) (*RatePlan, error)
	SaveRatePlan(ctx context.Context, rp RatePlan) error
}

type BucketRepository interface {
	LoadBucket(ctx context.Context, tenant generic.TenantID, id string) (*Bucket, error)

	// LoadBucketsInRange returns buckets whose span overlaps [q.From, q.To].
	// Rows that violate the temporal-key invariant come back in Malformed.
	LoadBucketsInRange(ctx context.Context, tenant generic.TenantID, q BucketQuery) (BucketSet, error)

	// UpsertBucket inserts the bucket or overwrites an existing row with the
	// same ID, but never a row that has booked > 0 or held > 0. written is
	// false when the existing row was protected.
	UpsertBucket(ctx context.Context, b Bucket) (written bool, err error)

	// UpdateBucket overwrites a bucket's manual settings (flags, quantity,
	// notes). Booked and held are left untouched.
	UpdateBucket(ctx context.Context, b Bucket) error

	// AdjustBucketCounts adds deltas to booked and held.
	AdjustBucketCounts(ctx context.Context, tenant generic.TenantID, id string, bookedDelta, heldDelta int64) error
}

// Repository is the full data store: pools, rate plans, buckets, the
// consumption ledger and the audit log, with atomic multi-step writes.
type Repository interface {
	PoolRepository
	RatePlanRepository
	BucketRepository
	generic.Store
	generic.AuditLog

	// WithTx runs fn against a transactional view. Any error rolls back.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
