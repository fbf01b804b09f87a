package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// SPAN - The temporal key of a bucket
// =============================================================================

// Span is either a DailySpan or an EventSpan. A bucket always has exactly
// one; there is no value meaning "both" or "neither".
type Span interface {
	Kind() SpanKind
	Period() generic.Period
	Key() string
	isSpan()
}

type SpanKind string

const (
	SpanDaily SpanKind = "daily"
	SpanEvent SpanKind = "event"
)

// DailySpan covers one calendar day.
type DailySpan struct {
	Date generic.TimePoint
}

func (s DailySpan) Kind() SpanKind         { return SpanDaily }
func (s DailySpan) Period() generic.Period { return generic.NewPeriod(s.Date, s.Date) }
func (s DailySpan) Key() string            { return "d:" + s.Date.String() }
func (DailySpan) isSpan()                  {}

// EventSpan covers an event period, both ends inclusive.
type EventSpan struct {
	StartDate generic.TimePoint
	EndDate   generic.TimePoint
}

func (s EventSpan) Kind() SpanKind         { return SpanEvent }
func (s EventSpan) Period() generic.Period { return generic.NewPeriod(s.StartDate, s.EndDate) }
func (s EventSpan) Key() string            { return "e:" + s.StartDate.String() + ":" + s.EndDate.String() }
func (EventSpan) isSpan()                  {}

// SpanFromColumns rebuilds a span from the three nullable storage columns.
// Rows with both or neither key set are integrity violations.
func SpanFromColumns(id string, date, eventStart, eventEnd *generic.TimePoint) (Span, error) {
	hasDate := date != nil
	hasEvent := eventStart != nil || eventEnd != nil
	switch {
	case hasDate && hasEvent:
		return nil, &generic.MalformedBucketError{BucketID: id, Reason: "both date and event period set"}
	case !hasDate && !hasEvent:
		return nil, &generic.MalformedBucketError{BucketID: id, Reason: "neither date nor event period set"}
	case hasDate:
		return DailySpan{Date: date.Date()}, nil
	}
	if eventStart == nil || eventEnd == nil {
		return nil, &generic.MalformedBucketError{BucketID: id, Reason: "event period missing a bound"}
	}
	if eventEnd.Before(*eventStart) {
		return nil, &generic.MalformedBucketError{BucketID: id, Reason: "event period ends before it starts"}
	}
	return EventSpan{StartDate: eventStart.Date(), EndDate: eventEnd.Date()}, nil
}

// =============================================================================
// BUCKET
// =============================================================================

// Bucket is the sellable inventory for one span and one (variant, supplier).
type Bucket struct {
	ID               string
	TenantID         generic.TenantID
	PoolID           generic.PoolID
	RatePlanID       string
	VariantID        generic.VariantID
	SupplierID       generic.SupplierID
	TimeSlotID       string
	Span             Span
	AllocationType   AllocationType
	Quantity         *int64 // nil under freesale / on_request
	Booked           int64
	Held             int64
	StopSell         bool
	Blackout         bool
	AllowOverbooking bool
	OverbookingLimit *int64
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasActivity reports whether the bucket carries bookings or holds.
// Such buckets are never overwritten by regeneration.
func (b Bucket) HasActivity() bool { return b.Booked > 0 || b.Held > 0 }

// ActiveOverbookingLimit is the overbooking headroom in force, 0 when
// overbooking is off.
func (b Bucket) ActiveOverbookingLimit() int64 {
	if !b.AllowOverbooking || b.OverbookingLimit == nil || *b.OverbookingLimit < 0 {
		return 0
	}
	return *b.OverbookingLimit
}

// Sellable reports whether new allocations may draw on the bucket.
func (b Bucket) Sellable() bool { return !b.StopSell && !b.Blackout }

// Covers reports whether the bucket's span includes the date.
func (b Bucket) Covers(date generic.TimePoint) bool {
	return b.Span != nil && b.Span.Period().Contains(date)
}

func (b Bucket) Validate() error {
	if b.Span == nil {
		return &generic.MalformedBucketError{BucketID: b.ID, Reason: "no temporal key"}
	}
	if b.Booked < 0 || b.Held < 0 {
		return fmt.Errorf("%w: booked and held must not be negative", generic.ErrInvalidQuantity)
	}
	if b.Quantity != nil && *b.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", generic.ErrInvalidQuantity)
	}
	if b.OverbookingLimit != nil && *b.OverbookingLimit < 0 {
		return fmt.Errorf("%w: overbooking limit must not be negative", generic.ErrInvalidQuantity)
	}
	return nil
}

// bucketNamespace roots the deterministic bucket IDs.
var bucketNamespace = uuid.MustParse("6f1c6b0e-4a53-5c1e-9b7e-2d8f0a3c4e11")

// BucketID derives a stable ID from the bucket's identity, so generating
// the same plan twice addresses the same rows.
func BucketID(tenant generic.TenantID, variant generic.VariantID, supplier generic.SupplierID, span Span, timeSlot string) string {
	name := fmt.Sprintf("%s|%s|%s|%s|%s", tenant, variant, supplier, span.Key(), timeSlot)
	return uuid.NewSHA1(bucketNamespace, []byte(name)).String()
}

func newID() string { return uuid.NewString() }

// BucketQuery selects buckets overlapping [From, To].
type BucketQuery struct {
	VariantID  generic.VariantID  // optional
	SupplierID generic.SupplierID // optional
	PoolID     generic.PoolID     // optional
	RatePlanID string             // optional
	From       generic.TimePoint
	To         generic.TimePoint
}

// BucketSet is what a range load returns: the well-formed buckets and the
// rows that could not be decoded.
type BucketSet struct {
	Buckets   []Bucket
	Malformed []*generic.MalformedBucketError
}

// BucketPatch is a manual edit of one bucket. Nil fields are left alone.
type BucketPatch struct {
	Quantity         *int64
	StopSell         *bool
	Blackout         *bool
	AllowOverbooking *bool
	OverbookingLimit *int64
	Notes            *string
}

// Apply returns a copy of b with the patch applied.
func (p BucketPatch) Apply(b Bucket) (Bucket, error) {
	if p.Quantity != nil {
		if !b.AllocationType.Bounded() {
			return b, fmt.Errorf("%w: %s buckets carry no quantity", generic.ErrValidation, b.AllocationType)
		}
		b.Quantity = p.Quantity
	}
	if p.StopSell != nil {
		b.StopSell = *p.StopSell
	}
	if p.Blackout != nil {
		b.Blackout = *p.Blackout
	}
	if p.AllowOverbooking != nil {
		b.AllowOverbooking = *p.AllowOverbooking
	}
	if p.OverbookingLimit != nil {
		b.OverbookingLimit = p.OverbookingLimit
	}
	if p.Notes != nil {
		b.Notes = *p.Notes
	}
	return b, b.Validate()
}
