package generic

import "fmt"

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive [Start, End] date range.
//
// Examples:
//   - Pool validity: 2025-06-01 .. 2025-09-30
//   - Event block:   2025-11-14 .. 2025-11-16
//   - Attrition month: 2025-07-01 .. 2025-07-31
type Period struct {
	Start TimePoint
	End   TimePoint
}

func NewPeriod(start, end TimePoint) Period {
	return Period{Start: start.Date(), End: end.Date()}
}

// Validate rejects ranges whose end precedes their start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidDateRange)
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s is before %s", ErrInvalidDateRange, p.End, p.Start)
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Covers returns true if other lies entirely inside p.
func (p Period) Covers(other Period) bool {
	return p.Contains(other.Start) && p.Contains(other.End)
}

// Overlaps returns true if the two inclusive ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// OverlapsHalfOpen reads both ranges as [Start, End). A range that ends on
// the day another starts does not overlap it.
func (p Period) OverlapsHalfOpen(other Period) bool {
	return p.Start.Before(other.End) && other.Start.Before(p.End)
}

// Intersect returns the shared range and whether one exists.
func (p Period) Intersect(other Period) (Period, bool) {
	if !p.Overlaps(other) {
		return Period{}, false
	}
	start, end := p.Start, p.End
	if other.Start.After(start) {
		start = other.Start
	}
	if other.End.Before(end) {
		end = other.End
	}
	return Period{Start: start, End: end}, true
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start.Date()
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// DayCount is the number of calendar days in the inclusive range.
func (p Period) DayCount() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// FollowingPeriod reads p as [Start, End) and returns the period of equal
// length starting on p.End.
func (p Period) FollowingPeriod() Period {
	return Period{Start: p.End, End: p.End.AddDays(DaysBetween(p.Start, p.End))}
}

// =============================================================================
// PERIOD CONFIG - Splits a bounding range into evaluation windows
// =============================================================================

type PeriodType string

const (
	PeriodMonthly PeriodType = "monthly" // Calendar months, clamped to the bounds
	PeriodWhole   PeriodType = "whole"   // The bounding range itself
)

// PeriodConfig defines how to cut evaluation windows out of Bounds.
type PeriodConfig struct {
	Type   PeriodType
	Bounds Period
}

// PeriodFor returns the window that contains the given date, clamped to Bounds.
func (pc PeriodConfig) PeriodFor(date TimePoint) Period {
	switch pc.Type {
	case PeriodMonthly:
		month := Period{
			Start: StartOfMonth(date.Year(), date.Month()),
			End:   EndOfMonth(date.Year(), date.Month()),
		}
		if clamped, ok := month.Intersect(pc.Bounds); ok {
			return clamped
		}
		return month
	default:
		return pc.Bounds
	}
}

// Windows lists every window covering Bounds, in order.
func (pc PeriodConfig) Windows() []Period {
	if pc.Type != PeriodMonthly {
		return []Period{pc.Bounds}
	}
	var windows []Period
	cursor := pc.Bounds.Start
	for cursor.BeforeOrEqual(pc.Bounds.End) {
		w := pc.PeriodFor(cursor)
		windows = append(windows, w)
		cursor = w.End.AddDays(1)
	}
	return windows
}
