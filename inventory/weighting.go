/*
weighting.go - Variant capacity weights and priority-ordered selection

PURPOSE:
  Several product variants sell from one pool, but they do not consume it
  equally: a suite may use 1.5 capacity units for every unit sold, a
  standard room 1.0. This file converts sold units into capacity units and
  decides whether (and through which variant) a request fits.

KEY CONCEPTS:
  ResolveConsumption:
    units x capacity_weight. Always computed in decimal.

  CanAllocate:
    current + units x weight <= total + overbooking limit.
    Unlimited pools always accept.

  SelectVariant:
    When the caller does not name a variant, the active auto-allocate
    variants are tried in ascending priority, ties broken by variant ID,
    and the first one that fits wins.

PRIORITY ORDERING:
  Lower priority number = allocated first. Typical setup:
  - Priority 10: Standard rooms (sell these first)
  - Priority 20: Suites (upgrade stock, sell when standard is gone)

EXAMPLE:
  capacity, _ := pool.Capacity()
  v, err := SelectVariant(capacity, variants, 8, consumed, noOverbooking)
  var capErr *generic.InsufficientCapacityError
  if errors.As(err, &capErr) {
      fmt.Println("short by", capErr.Shortfall())
  }

SEE ALSO:
  - allocation.go: Uses these checks under the per-pool lock
  - generic/capacity.go: Capacity arithmetic
*/
package inventory

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// ResolveConsumption returns the capacity units `units` of the variant consume.
func ResolveConsumption(v PoolVariant, units int64) decimal.Decimal {
	return decimal.NewFromInt(units).Mul(v.CapacityWeight)
}

// CanAllocate reports whether `units` more of the variant fit on top of
// `current` capacity units already consumed across all variants.
func CanAllocate(capacity generic.Capacity, v PoolVariant, units int64, current decimal.Decimal, overbookingLimit int64) bool {
	return capacity.Fits(current, ResolveConsumption(v, units), overbookingLimit)
}

// OverbookingFor returns the overbooking headroom in force for a variant.
type OverbookingFor func(generic.VariantID) int64

// NoOverbooking is the OverbookingFor of a pool without overbooking buckets.
func NoOverbooking(generic.VariantID) int64 { return 0 }

// OrderByPriority returns the variants sorted by ascending priority, then
// variant ID. The input slice is not modified.
func OrderByPriority(variants []PoolVariant) []PoolVariant {
	sorted := make([]PoolVariant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].VariantID < sorted[j].VariantID
	})
	return sorted
}

// AutoCandidates returns the active auto-allocate variants in selection order.
func AutoCandidates(variants []PoolVariant) []PoolVariant {
	var out []PoolVariant
	for _, v := range OrderByPriority(variants) {
		if v.AutoAllocate && v.IsActive() {
			out = append(out, v)
		}
	}
	return out
}

// SelectVariant picks the first eligible variant that can take `units`.
// When none can, the returned *generic.InsufficientCapacityError describes
// the closest candidate (the one with the smallest shortfall).
func SelectVariant(capacity generic.Capacity, variants []PoolVariant, units int64, current decimal.Decimal, overbooking OverbookingFor) (PoolVariant, error) {
	if overbooking == nil {
		overbooking = NoOverbooking
	}
	candidates := AutoCandidates(variants)
	if len(candidates) == 0 {
		return PoolVariant{}, &generic.InsufficientCapacityError{Requested: decimal.NewFromInt(units)}
	}

	var closest *generic.InsufficientCapacityError
	for _, v := range candidates {
		limit := overbooking(v.VariantID)
		if CanAllocate(capacity, v, units, current, limit) {
			return v, nil
		}
		capErr := shortfall(capacity, v, units, current, limit)
		if closest == nil || capErr.Shortfall().LessThan(closest.Shortfall()) {
			closest = capErr
		}
	}
	return PoolVariant{}, closest
}

func shortfall(capacity generic.Capacity, v PoolVariant, units int64, current decimal.Decimal, limit int64) *generic.InsufficientCapacityError {
	if limit < 0 {
		limit = 0
	}
	return &generic.InsufficientCapacityError{
		PoolID:     v.PoolID,
		VariantID:  v.VariantID,
		Requested:  ResolveConsumption(v, units),
		Available:  capacity.Effective(limit).Sub(current),
		Overbooked: decimal.NewFromInt(limit),
	}
}
