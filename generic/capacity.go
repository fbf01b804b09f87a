package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CAPACITY - Unlimited or Bounded(n, unit)
// =============================================================================

// Capacity is the normalized form of a pool's declared capacity. Downstream
// code switches on IsUnlimited() instead of nil-checking an optional int.
type Capacity struct {
	unlimited bool
	total     int64
	unit      Unit
}

// Unlimited returns the capacity of a pool with no declared total.
func Unlimited(unit Unit) Capacity {
	return Capacity{unlimited: true, unit: normalizeUnit(unit)}
}

// Bounded returns a finite capacity of n units.
func Bounded(n int64, unit Unit) Capacity {
	return Capacity{total: n, unit: normalizeUnit(unit)}
}

// ResolveCapacity turns a pool's optional total into a Capacity.
// A nil total means unlimited; a negative total is rejected.
func ResolveCapacity(total *int64, unit Unit) (Capacity, error) {
	if total == nil {
		return Unlimited(unit), nil
	}
	if *total < 0 {
		return Capacity{}, fmt.Errorf("%w: total capacity %d is negative", ErrInvalidCapacity, *total)
	}
	return Bounded(*total, unit), nil
}

func normalizeUnit(u Unit) Unit {
	if u == "" {
		return UnitDefault
	}
	return u
}

func (c Capacity) IsUnlimited() bool { return c.unlimited }
func (c Capacity) Unit() Unit        { return c.unit }

// Total returns the bounded total; ok is false for unlimited capacity.
func (c Capacity) Total() (int64, bool) {
	if c.unlimited {
		return 0, false
	}
	return c.total, true
}

// Effective returns the ceiling including overbooking headroom.
func (c Capacity) Effective(overbookingLimit int64) decimal.Decimal {
	if overbookingLimit < 0 {
		overbookingLimit = 0
	}
	return decimal.NewFromInt(c.total + overbookingLimit)
}

// Fits reports whether consumed+requested stays within the effective ceiling.
func (c Capacity) Fits(consumed, requested decimal.Decimal, overbookingLimit int64) bool {
	if c.unlimited {
		return true
	}
	return consumed.Add(requested).LessThanOrEqual(c.Effective(overbookingLimit))
}

// Remaining returns capacity left after consumption (nil when unlimited).
// The value goes negative when consumption already runs into overbooking.
func (c Capacity) Remaining(consumed decimal.Decimal) *decimal.Decimal {
	if c.unlimited {
		return nil
	}
	r := decimal.NewFromInt(c.total).Sub(consumed)
	return &r
}

func (c Capacity) String() string {
	if c.unlimited {
		return "unlimited " + string(c.unit)
	}
	return fmt.Sprintf("%d %s", c.total, c.unit)
}
