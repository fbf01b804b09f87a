package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// POOL SERVICE - Pool, variant and rate plan maintenance
// =============================================================================

// PoolService validates and persists pools, their variants and rate
// plans. Every mutation returns the stored state and writes an audit entry.
type PoolService struct {
	Repo Repository
	Now  func() time.Time
}

func NewPoolService(repo Repository) *PoolService {
	return &PoolService{Repo: repo, Now: time.Now}
}

func (s *PoolService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// PoolWithVariants is a pool together with the variants sold from it.
type PoolWithVariants struct {
	Pool     Pool
	Variants []PoolVariant
}

// Create saves a new pool and its variants atomically. Everything is
// validated before anything is written.
func (s *PoolService) Create(ctx context.Context, actor generic.Actor, pool Pool, variants []PoolVariant) (*PoolWithVariants, error) {
	pool.TenantID = actor.TenantID
	if pool.ID == "" {
		pool.ID = generic.PoolID(newID())
	}
	if pool.Status == "" {
		pool.Status = PoolActive
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	seen := map[generic.VariantID]bool{}
	for i := range variants {
		variants[i].TenantID = actor.TenantID
		variants[i].PoolID = pool.ID
		if err := variants[i].Validate(); err != nil {
			return nil, fmt.Errorf("variant %d: %w", i, err)
		}
		if seen[variants[i].VariantID] {
			return nil, fmt.Errorf("%w: variant %s listed twice", generic.ErrValidation, variants[i].VariantID)
		}
		seen[variants[i].VariantID] = true
	}

	now := s.now()
	pool.CreatedAt, pool.UpdatedAt, pool.Version = now, now, 1
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		if err := repo.SavePool(ctx, pool); err != nil {
			return err
		}
		for i := range variants {
			variants[i].UpdatedAt = now
			if err := repo.SaveVariant(ctx, variants[i]); err != nil {
				return err
			}
		}
		return s.audit(ctx, repo, actor, generic.AuditPoolSaved, pool.ID, map[string]any{
			"name":     pool.Name,
			"variants": len(variants),
			"created":  true,
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info(logger.WithField(ctx, "pool_id", pool.ID), "pool created")
	return &PoolWithVariants{Pool: pool, Variants: variants}, nil
}

func (s *PoolService) Get(ctx context.Context, tenant generic.TenantID, id generic.PoolID) (*PoolWithVariants, error) {
	pool, err := s.Repo.LoadPool(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	variants, err := s.Repo.LoadVariants(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	return &PoolWithVariants{Pool: *pool, Variants: OrderByPriority(variants)}, nil
}

func (s *PoolService) List(ctx context.Context, tenant generic.TenantID) ([]Pool, error) {
	return s.Repo.ListPools(ctx, tenant)
}

// Update replaces the editable pool fields. Capacity edits apply to future
// decisions only; existing consumption is not re-validated.
func (s *PoolService) Update(ctx context.Context, actor generic.Actor, pool Pool) (*Pool, error) {
	pool.TenantID = actor.TenantID
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	var saved Pool
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		current, err := repo.LoadPool(ctx, actor.TenantID, pool.ID)
		if err != nil {
			return err
		}
		pool.CreatedAt = current.CreatedAt
		pool.UpdatedAt = s.now()
		pool.Version = current.Version + 1
		if pool.Status == "" {
			pool.Status = current.Status
		}
		if err := repo.SavePool(ctx, pool); err != nil {
			return err
		}
		saved = pool
		return s.audit(ctx, repo, actor, generic.AuditPoolSaved, pool.ID, map[string]any{
			"name":    pool.Name,
			"version": pool.Version,
		})
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *PoolService) Delete(ctx context.Context, actor generic.Actor, id generic.PoolID) error {
	return s.Repo.WithTx(ctx, func(repo Repository) error {
		if err := repo.DeletePool(ctx, actor.TenantID, id); err != nil {
			return err
		}
		return s.audit(ctx, repo, actor, generic.AuditPoolDeleted, id, nil)
	})
}

// Duplicate copies a pool and its variants under a new ID. Consumption
// and buckets are not copied.
func (s *PoolService) Duplicate(ctx context.Context, actor generic.Actor, id generic.PoolID, name string) (*PoolWithVariants, error) {
	src, err := s.Get(ctx, actor.TenantID, id)
	if err != nil {
		return nil, err
	}
	pool := src.Pool
	pool.ID = ""
	pool.Status = PoolActive
	if name == "" {
		name = pool.Name + " (copy)"
	}
	pool.Name = name
	pool.ExternalRef = ""
	variants := make([]PoolVariant, len(src.Variants))
	copy(variants, src.Variants)
	return s.Create(ctx, actor, pool, variants)
}

// SaveVariant adds a variant to a pool or updates it in place.
func (s *PoolService) SaveVariant(ctx context.Context, actor generic.Actor, v PoolVariant) (*PoolVariant, error) {
	v.TenantID = actor.TenantID
	if v.Status == "" {
		v.Status = VariantActive
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	v.UpdatedAt = s.now()
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.LoadPool(ctx, actor.TenantID, v.PoolID); err != nil {
			return err
		}
		if err := repo.SaveVariant(ctx, v); err != nil {
			return err
		}
		return s.audit(ctx, repo, actor, generic.AuditVariantSaved, v.PoolID, map[string]any{
			"variant_id": string(v.VariantID),
			"weight":     v.CapacityWeight.String(),
			"priority":   v.Priority,
		})
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PoolService) RemoveVariant(ctx context.Context, actor generic.Actor, poolID generic.PoolID, variantID generic.VariantID) error {
	return s.Repo.WithTx(ctx, func(repo Repository) error {
		if err := repo.DeleteVariant(ctx, actor.TenantID, poolID, variantID); err != nil {
			return err
		}
		return s.audit(ctx, repo, actor, generic.AuditVariantRemoved, poolID, map[string]any{
			"variant_id": string(variantID),
		})
	})
}

// CreateRatePlan validates and stores a rate plan.
func (s *PoolService) CreateRatePlan(ctx context.Context, actor generic.Actor, rp RatePlan) (*RatePlan, error) {
	rp.TenantID = actor.TenantID
	if rp.ID == "" {
		rp.ID = newID()
	}
	if rp.Mode == "" {
		rp.Mode = ModeDaily
	}
	if rp.PoolID != "" {
		pool, err := s.Repo.LoadPool(ctx, actor.TenantID, rp.PoolID)
		if err != nil {
			return nil, err
		}
		if rp.SupplierID == "" {
			rp.SupplierID = pool.SupplierID
		}
	}
	if err := rp.Validate(); err != nil {
		return nil, err
	}
	rp.CreatedAt = s.now()
	if err := s.Repo.SaveRatePlan(ctx, rp); err != nil {
		return nil, err
	}
	return &rp, nil
}

func (s *PoolService) GetRatePlan(ctx context.Context, tenant generic.TenantID, id string) (*RatePlan, error) {
	return s.Repo.LoadRatePlan(ctx, tenant, id)
}

// EditBucket applies a manual edit to one bucket.
func (s *PoolService) EditBucket(ctx context.Context, actor generic.Actor, id string, patch BucketPatch) (*Bucket, error) {
	var saved Bucket
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		b, err := repo.LoadBucket(ctx, actor.TenantID, id)
		if err != nil {
			return err
		}
		updated, err := patch.Apply(*b)
		if err != nil {
			return err
		}
		updated.UpdatedAt = s.now()
		if err := repo.UpdateBucket(ctx, updated); err != nil {
			return err
		}
		saved = updated
		return repo.AppendAudit(ctx, generic.AuditEntry{
			ID:        newID(),
			TenantID:  actor.TenantID,
			Timestamp: s.now(),
			ActorID:   actor.ID,
			Action:    generic.AuditBucketEdited,
			Subject:   "bucket:" + id,
			Payload: map[string]any{
				"stop_sell":         updated.StopSell,
				"blackout":          updated.Blackout,
				"allow_overbooking": updated.AllowOverbooking,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *PoolService) audit(ctx context.Context, repo Repository, actor generic.Actor, action generic.AuditAction, poolID generic.PoolID, payload map[string]any) error {
	return repo.AppendAudit(ctx, generic.AuditEntry{
		ID:        newID(),
		TenantID:  actor.TenantID,
		Timestamp: s.now(),
		ActorID:   actor.ID,
		Action:    action,
		Subject:   "pool:" + string(poolID),
		Payload:   payload,
	})
}
