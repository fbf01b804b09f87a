/*
utilization.go - Utilization and overbooking figures for buckets and pools

PURPOSE:
  Reports how full a bucket or a pool is. This file only reports: the
  allocation service is what enforces capacity, so a figure here may show
  an overbooked bucket but never rejects anything.

BUCKET FIGURES:
  available   = quantity - booked - held, floored at -overbooking_limit
                (when overbooking is allowed) or 0. Blackout forces 0.
                Nil for unbounded (freesale/on_request) buckets.
  percentage  = booked / quantity x 100, or 0 when quantity is 0 or absent
  overbooked  = booked + held > quantity (bounded buckets only)

POOL FIGURES:
  percentage  = weighted consumption / total capacity x 100, 0 for
                unlimited or zero-capacity pools.

TIERS (presentation only):
  >= 90%: critical, >= 75%: warning, otherwise normal.

SEE ALSO:
  - weighting.go: Weighted consumption
  - generic/ledger.go: ConsumptionSummary replay
*/
package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

var hundred = decimal.NewFromInt(100)

type Tier string

const (
	TierNormal   Tier = "normal"
	TierWarning  Tier = "warning"
	TierCritical Tier = "critical"
)

// TierFor maps a utilization percentage to its presentation tier.
func TierFor(pct decimal.Decimal) Tier {
	switch {
	case pct.GreaterThanOrEqual(decimal.NewFromInt(90)):
		return TierCritical
	case pct.GreaterThanOrEqual(decimal.NewFromInt(75)):
		return TierWarning
	}
	return TierNormal
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

// =============================================================================
// BUCKET UTILIZATION
// =============================================================================

type BucketUtilization struct {
	BucketID     string
	Booked       int64
	Held         int64
	Available    *int64 // nil = unbounded
	Percentage   decimal.Decimal
	IsOverbooked bool
	Tier         Tier
}

// UtilizationOf computes the figures of one bucket.
func UtilizationOf(b Bucket) BucketUtilization {
	u := BucketUtilization{
		BucketID:   b.ID,
		Booked:     b.Booked,
		Held:       b.Held,
		Percentage: decimal.Zero,
		Tier:       TierNormal,
	}
	if b.Quantity == nil {
		return u
	}

	qty := *b.Quantity
	var avail int64
	if !b.Blackout {
		floor := -b.ActiveOverbookingLimit()
		avail = qty - b.Booked - b.Held
		if avail < floor {
			avail = floor
		}
	}
	u.Available = &avail
	u.Percentage = percentOf(decimal.NewFromInt(b.Booked), decimal.NewFromInt(qty))
	u.IsOverbooked = b.Booked+b.Held > qty
	u.Tier = TierFor(u.Percentage)
	return u
}

// =============================================================================
// POOL UTILIZATION
// =============================================================================

type VariantShare struct {
	VariantID   generic.VariantID
	BookedUnits int64
	HeldUnits   int64
	Consumed    decimal.Decimal // capacity units
}

type PoolUtilization struct {
	Date       generic.TimePoint
	Total      *int64 // nil = unlimited
	Booked     decimal.Decimal
	Held       decimal.Decimal
	Consumed   decimal.Decimal
	Available  *decimal.Decimal // nil = unlimited
	Percentage decimal.Decimal
	Tier       Tier
	ByVariant  []VariantShare
}

// PoolUtilizationOf computes pool figures from a replayed summary. The
// percentage counts booked consumption, matching the bucket percentage.
func PoolUtilizationOf(capacity generic.Capacity, sum generic.ConsumptionSummary) PoolUtilization {
	u := PoolUtilization{
		Booked:     sum.Booked.Value,
		Held:       sum.Held.Value,
		Consumed:   sum.Consumed().Value,
		Percentage: decimal.Zero,
		Tier:       TierNormal,
	}
	for _, vc := range sum.ByVariant {
		u.ByVariant = append(u.ByVariant, VariantShare{
			VariantID:   vc.VariantID,
			BookedUnits: vc.BookedUnits,
			HeldUnits:   vc.HeldUnits,
			Consumed:    vc.Consumed.Value,
		})
	}
	total, bounded := capacity.Total()
	if !bounded {
		return u
	}
	u.Total = &total
	u.Available = capacity.Remaining(u.Consumed)
	u.Percentage = percentOf(u.Booked, decimal.NewFromInt(total))
	u.Tier = TierFor(u.Percentage)
	return u
}

// =============================================================================
// UTILIZATION SERVICE - Reports over stored data
// =============================================================================

type UtilizationService struct {
	Repo Repository
}

func NewUtilizationService(repo Repository) *UtilizationService {
	return &UtilizationService{Repo: repo}
}

// PoolReport is the utilization of a pool over a date range.
type PoolReport struct {
	Pool     Pool
	Capacity generic.Capacity
	Days     []PoolUtilization
	Peak     *PoolUtilization // the day with the highest consumption
}

// PoolUtilization replays the ledger for every day in [from, to] that lies
// inside the pool's validity. A range outside the validity yields no days.
func (s *UtilizationService) PoolUtilization(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID, from, to generic.TimePoint) (*PoolReport, error) {
	requested := generic.NewPeriod(from, to)
	if err := requested.Validate(); err != nil {
		return nil, err
	}
	pool, err := s.Repo.LoadPool(ctx, tenant, poolID)
	if err != nil {
		return nil, err
	}
	capacity, err := pool.Capacity()
	if err != nil {
		return nil, err
	}
	report := &PoolReport{Pool: *pool, Capacity: capacity}
	rng, ok := requested.Intersect(pool.Validity)
	if !ok {
		return report, nil
	}
	txs, err := s.Repo.LoadRange(ctx, tenant, poolID, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("load consumption: %w", err)
	}
	_, byDate := generic.GroupByDate(txs)

	for _, d := range rng.Days() {
		u := PoolUtilizationOf(capacity, generic.Summarize(byDate[d.String()], capacity.Unit()))
		u.Date = d
		report.Days = append(report.Days, u)
	}
	for i := range report.Days {
		if report.Peak == nil || report.Days[i].Consumed.GreaterThan(report.Peak.Consumed) {
			report.Peak = &report.Days[i]
		}
	}
	return report, nil
}

// BookedBetween sums booked capacity units of a pool over a period. The
// contract attrition report uses it as actual pickup.
func (s *UtilizationService) BookedBetween(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID, period generic.Period) (decimal.Decimal, error) {
	txs, err := s.Repo.LoadRange(ctx, tenant, poolID, period.Start, period.End)
	if err != nil {
		return decimal.Zero, err
	}
	return generic.Summarize(txs, "").Booked.Value, nil
}

// HighestPriorityCost returns the cost per unit of the first variant (by
// priority) that declares one.
func (s *UtilizationService) HighestPriorityCost(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID) (*decimal.Decimal, error) {
	variants, err := s.Repo.LoadVariants(ctx, tenant, poolID)
	if err != nil {
		return nil, err
	}
	for _, v := range OrderByPriority(variants) {
		if v.CostPerUnit != nil {
			c := *v.CostPerUnit
			return &c, nil
		}
	}
	return nil, nil
}

// BucketRow pairs a bucket with its figures.
type BucketRow struct {
	Bucket      Bucket
	Utilization BucketUtilization
}

// BucketReport lists bucket figures in a range. Malformed rows are skipped
// and listed so one bad record does not sink the whole report.
type BucketReport struct {
	Rows      []BucketRow
	Malformed []*generic.MalformedBucketError
}

func (s *UtilizationService) BucketReport(ctx context.Context, tenant generic.TenantID, q BucketQuery) (*BucketReport, error) {
	if err := generic.NewPeriod(q.From, q.To).Validate(); err != nil {
		return nil, err
	}
	set, err := s.Repo.LoadBucketsInRange(ctx, tenant, q)
	if err != nil {
		return nil, err
	}
	report := &BucketReport{Malformed: set.Malformed}
	for _, b := range set.Buckets {
		report.Rows = append(report.Rows, BucketRow{Bucket: b, Utilization: UtilizationOf(b)})
	}
	for _, m := range set.Malformed {
		logger.Warn(logger.WithField(ctx, "bucket_id", m.BucketID), m.Error())
	}
	return report, nil
}

// BucketUtilization loads one bucket and computes its figures.
func (s *UtilizationService) BucketUtilization(ctx context.Context, tenant generic.TenantID, bucketID string) (*BucketRow, error) {
	b, err := s.Repo.LoadBucket(ctx, tenant, bucketID)
	if err != nil {
		return nil, err
	}
	return &BucketRow{Bucket: *b, Utilization: UtilizationOf(*b)}, nil
}
