/*
generator.go - Allocation bucket generation from rate plans

PURPOSE:
  Expands a rate plan's validity into the buckets that are actually sold:
  one per calendar day for day-based plans, one per event period for
  event plans. Generation is convergent, so it is always safe to run again.

DAILY MODE:
  For every day in [ValidFrom, ValidTo] inclusive:
    weekday quantity = defaultDailyQuantity
    weekend quantity = round_half_up(defaultDailyQuantity x weekendMultiplier)

EVENT MODE:
  One bucket per configured event period at defaultDailyQuantity.

NON-DESTRUCTIVE REGENERATION:
  Bucket IDs are derived from (tenant, variant, supplier, span, time slot),
  so the same plan always addresses the same rows. Merge() leaves every
  existing bucket with booked > 0 or held > 0 untouched; everything else is
  (re)written. The store repeats the same guard inside its upsert so a
  booking that lands between Merge and the write is not erased either.

ESTIMATE:
  Preview only: quantity x days (daily) or quantity x events (event).
  The weekend multiplier is not applied.

SEE ALSO:
  - bucket.go: Bucket and Span types
  - repository.go: UpsertBucket contract
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// GENERATOR - Pure bucket expansion
// =============================================================================

type Generator struct{}

// Generate expands the plan into buckets. The plan's InventoryModel must
// already be resolved (see GenerationService for pool inheritance).
func (g Generator) Generate(plan RatePlan, defaultDailyQuantity int64, weekendMultiplier decimal.Decimal) ([]Bucket, error) {
	if err := plan.Validity.Validate(); err != nil {
		return nil, err
	}
	if defaultDailyQuantity < 0 {
		return nil, fmt.Errorf("%w: default quantity %d is negative", generic.ErrInvalidQuantity, defaultDailyQuantity)
	}
	if weekendMultiplier.IsNegative() {
		return nil, fmt.Errorf("%w: weekend multiplier %s is negative", generic.ErrInvalidQuantity, weekendMultiplier)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	allocType := plan.InventoryModel
	if allocType == "" {
		allocType = AllocationCommitted
	}

	var spans []Span
	if plan.Mode == ModeEvent {
		for _, ep := range plan.EventPeriods {
			spans = append(spans, EventSpan{StartDate: ep.Start, EndDate: ep.End})
		}
	} else {
		for _, d := range plan.Validity.Days() {
			spans = append(spans, DailySpan{Date: d})
		}
	}

	buckets := make([]Bucket, 0, len(spans))
	for _, span := range spans {
		b := Bucket{
			ID:             BucketID(plan.TenantID, plan.VariantID, plan.SupplierID, span, plan.TimeSlotID),
			TenantID:       plan.TenantID,
			PoolID:         plan.PoolID,
			RatePlanID:     plan.ID,
			VariantID:      plan.VariantID,
			SupplierID:     plan.SupplierID,
			TimeSlotID:     plan.TimeSlotID,
			Span:           span,
			AllocationType: allocType,
		}
		if allocType.Bounded() {
			qty := defaultDailyQuantity
			if ds, ok := span.(DailySpan); ok && ds.Date.IsWeekend() {
				qty = WeekendQuantity(defaultDailyQuantity, weekendMultiplier)
			}
			b.Quantity = &qty
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// WeekendQuantity applies the multiplier and rounds half up.
func WeekendQuantity(qty int64, multiplier decimal.Decimal) int64 {
	return decimal.NewFromInt(qty).Mul(multiplier).Round(0).IntPart()
}

// Estimate previews the total units a generation would create.
func (g Generator) Estimate(plan RatePlan, defaultDailyQuantity int64) (int64, error) {
	if err := plan.Validity.Validate(); err != nil {
		return 0, err
	}
	if plan.Mode == ModeEvent {
		return defaultDailyQuantity * int64(len(plan.EventPeriods)), nil
	}
	return defaultDailyQuantity * int64(plan.Validity.DayCount()), nil
}

// MergeResult splits generated buckets into those to write and the
// existing ones left alone.
type MergeResult struct {
	Write   []Bucket
	Skipped []Bucket // existing buckets with activity
}

// Merge applies the non-destructive rule: existing buckets with bookings
// or holds win over generated ones.
func Merge(existing, generated []Bucket) MergeResult {
	byID := make(map[string]Bucket, len(existing))
	for _, b := range existing {
		byID[b.ID] = b
	}
	var res MergeResult
	for _, g := range generated {
		if old, ok := byID[g.ID]; ok && old.HasActivity() {
			res.Skipped = append(res.Skipped, old)
			continue
		}
		res.Write = append(res.Write, g)
	}
	return res
}

// =============================================================================
// GENERATION SERVICE - Load, generate, merge, upsert
// =============================================================================

type GenerationService struct {
	Repo      Repository
	Generator Generator
	Now       func() time.Time
}

func NewGenerationService(repo Repository) *GenerationService {
	return &GenerationService{Repo: repo, Now: time.Now}
}

func (s *GenerationService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// GenerationRequest carries the generation parameters.
type GenerationRequest struct {
	RatePlanID           string
	DefaultDailyQuantity int64
	WeekendMultiplier    *decimal.Decimal // nil = 1
}

// GenerationResult reports the per-bucket outcome of a generation run.
type GenerationResult struct {
	RatePlanID string
	Written    []Bucket
	Skipped    []Bucket
}

// ResolvePlan fills the plan's inventory model from its pool when unset.
func (s *GenerationService) ResolvePlan(ctx context.Context, repo Repository, tenant generic.TenantID, id string) (*RatePlan, error) {
	plan, err := repo.LoadRatePlan(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if plan.InventoryModel == "" && plan.PoolID != "" {
		pool, err := repo.LoadPool(ctx, tenant, plan.PoolID)
		if err != nil {
			return nil, fmt.Errorf("rate plan %s pool: %w", id, err)
		}
		plan.InventoryModel = pool.Type.AllocationType()
	}
	return plan, nil
}

// Estimate previews the units a generation would create.
func (s *GenerationService) Estimate(ctx context.Context, tenant generic.TenantID, ratePlanID string, qty int64) (int64, error) {
	plan, err := s.ResolvePlan(ctx, s.Repo, tenant, ratePlanID)
	if err != nil {
		return 0, err
	}
	return s.Generator.Estimate(*plan, qty)
}

// Generate runs one generation inside a store transaction.
func (s *GenerationService) Generate(ctx context.Context, actor generic.Actor, req GenerationRequest) (*GenerationResult, error) {
	if actor.TenantID == "" {
		return nil, generic.ErrTenantRequired
	}
	multiplier := decimal.NewFromInt(1)
	if req.WeekendMultiplier != nil {
		multiplier = *req.WeekendMultiplier
	}

	result := &GenerationResult{RatePlanID: req.RatePlanID}
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		plan, err := s.ResolvePlan(ctx, repo, actor.TenantID, req.RatePlanID)
		if err != nil {
			return err
		}
		generated, err := s.Generator.Generate(*plan, req.DefaultDailyQuantity, multiplier)
		if err != nil {
			return err
		}

		existing, err := repo.LoadBucketsInRange(ctx, actor.TenantID, BucketQuery{
			VariantID:  plan.VariantID,
			SupplierID: plan.SupplierID,
			From:       plan.Validity.Start,
			To:         plan.Validity.End,
		})
		if err != nil {
			return err
		}

		merged := Merge(existing.Buckets, generated)
		result.Skipped = merged.Skipped
		for _, b := range merged.Write {
			written, err := repo.UpsertBucket(ctx, b)
			if err != nil {
				return fmt.Errorf("upsert bucket %s: %w", b.ID, err)
			}
			if written {
				result.Written = append(result.Written, b)
			} else {
				result.Skipped = append(result.Skipped, b)
			}
		}

		return repo.AppendAudit(ctx, generic.AuditEntry{
			ID:        newID(),
			TenantID:  actor.TenantID,
			Timestamp: s.now(),
			ActorID:   actor.ID,
			Action:    generic.AuditBucketsGenerated,
			Subject:   "rate_plan:" + plan.ID,
			Payload: map[string]any{
				"written":  len(result.Written),
				"skipped":  len(result.Skipped),
				"quantity": req.DefaultDailyQuantity,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(logger.WithFields(ctx, map[string]any{
		"rate_plan_id": req.RatePlanID,
		"written":      len(result.Written),
		"skipped":      len(result.Skipped),
	}), "buckets generated")
	return result, nil
}
