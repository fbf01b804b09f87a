// Package inventory implements supplier inventory pools, the variants sold
// from them, rate plans, and the allocation buckets generated from those plans.
// It uses the generic engine for capacity, periods and the consumption ledger.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// POOL
// =============================================================================

type PoolType string

const (
	PoolCommitted   PoolType = "committed"
	PoolProvisional PoolType = "provisional"
	PoolOnRequest   PoolType = "on_request"
	PoolFreesale    PoolType = "freesale"
)

func (t PoolType) Valid() bool {
	switch t {
	case PoolCommitted, PoolProvisional, PoolOnRequest, PoolFreesale:
		return true
	}
	return false
}

// AllocationType returns the inventory model buckets inherit from a pool.
// Provisional blocks are sold like committed ones until released.
func (t PoolType) AllocationType() AllocationType {
	switch t {
	case PoolFreesale:
		return AllocationFreesale
	case PoolOnRequest:
		return AllocationOnRequest
	default:
		return AllocationCommitted
	}
}

type PoolStatus string

const (
	PoolActive   PoolStatus = "active"
	PoolInactive PoolStatus = "inactive"
	PoolReleased PoolStatus = "released"
	PoolExpired  PoolStatus = "expired"
)

func (s PoolStatus) Valid() bool {
	switch s {
	case PoolActive, PoolInactive, PoolReleased, PoolExpired:
		return true
	}
	return false
}

// Pool is a named block of supplier capacity for a date range.
type Pool struct {
	ID            generic.PoolID
	TenantID      generic.TenantID
	SupplierID    generic.SupplierID
	Name          string
	ExternalRef   string
	Type          PoolType
	Validity      generic.Period
	TotalCapacity *int64 // nil = unlimited
	CapacityUnit  generic.Unit
	MinCommitment *int64
	ReleaseDate   *generic.TimePoint
	CutoffDays    *int
	Currency      string
	Status        PoolStatus
	Attributes    generic.Attributes
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Capacity resolves the pool's declared total into a generic.Capacity.
func (p Pool) Capacity() (generic.Capacity, error) {
	return generic.ResolveCapacity(p.TotalCapacity, p.CapacityUnit)
}

// Validate checks the pool before it is saved. All problems are reported
// together.
func (p Pool) Validate() error {
	v := generic.NewValidationError()
	if p.TenantID == "" {
		return generic.ErrTenantRequired
	}
	if p.Name == "" {
		v.Add("name", "is required")
	}
	if !p.Type.Valid() {
		v.Add("pool_type", fmt.Sprintf("unknown pool type %q", p.Type))
	}
	if p.Status != "" && !p.Status.Valid() {
		v.Add("status", fmt.Sprintf("unknown status %q", p.Status))
	}
	if err := p.Validity.Validate(); err != nil {
		return err
	}
	if _, err := p.Capacity(); err != nil {
		return err
	}
	if p.MinCommitment != nil && *p.MinCommitment < 0 {
		v.Add("min_commitment", "must not be negative")
	}
	if p.ReleaseDate != nil && p.ReleaseDate.After(p.Validity.End) {
		v.Add("release_date", "must be on or before valid_to")
	}
	if p.CutoffDays != nil && *p.CutoffDays < 0 {
		v.Add("cutoff_days", "must not be negative")
	}
	var attrErr *generic.ValidationError
	if errors.As(generic.ValidateAttributes(p.Attributes), &attrErr) {
		for f, m := range attrErr.Fields {
			v.Add(f, m)
		}
	}
	return v.OrNil()
}

// StatusAt derives the lifecycle status at `now`. Expiry wins over
// release; inactive pools only ever move to expired.
func (p Pool) StatusAt(now generic.TimePoint) PoolStatus {
	if now.After(p.Validity.End) {
		return PoolExpired
	}
	if p.Status == PoolActive && p.ReleaseDate != nil && now.AfterOrEqual(*p.ReleaseDate) {
		return PoolReleased
	}
	if p.Status == "" {
		return PoolActive
	}
	return p.Status
}

// CheckAllocatable returns why the pool cannot accept an allocation for
// `date` when evaluated at `now`, or nil.
func (p Pool) CheckAllocatable(date, now generic.TimePoint) error {
	if status := p.StatusAt(now); status != PoolActive {
		return fmt.Errorf("%w: pool %s is %s", generic.ErrPoolClosed, p.ID, status)
	}
	if !p.Validity.Contains(date) {
		return fmt.Errorf("%w: %s not in %s", generic.ErrOutsideValidity, date, p.Validity)
	}
	if p.CutoffDays != nil {
		closesAt := date.AddDays(-*p.CutoffDays)
		if now.After(closesAt) {
			return fmt.Errorf("%w: sales for %s closed on %s", generic.ErrCutoffPassed, date, closesAt)
		}
	}
	return nil
}

// =============================================================================
// POOL VARIANT
// =============================================================================

type VariantStatus string

const (
	VariantActive   VariantStatus = "active"
	VariantInactive VariantStatus = "inactive"
)

// PoolVariant binds one sellable product variant to a pool.
type PoolVariant struct {
	TenantID         generic.TenantID
	PoolID           generic.PoolID
	VariantID        generic.VariantID
	CapacityWeight   decimal.Decimal
	CostPerUnit      *decimal.Decimal
	SellPricePerUnit *decimal.Decimal
	Priority         int // lower = allocated first
	AutoAllocate     bool
	Status           VariantStatus
	UpdatedAt        time.Time
}

func (v PoolVariant) IsActive() bool { return v.Status == "" || v.Status == VariantActive }

func (v PoolVariant) Validate() error {
	ve := generic.NewValidationError()
	if v.VariantID == "" {
		ve.Add("variant_id", "is required")
	}
	if !v.CapacityWeight.IsPositive() {
		return fmt.Errorf("%w: variant %s has weight %s", generic.ErrInvalidWeight, v.VariantID, v.CapacityWeight)
	}
	if v.CostPerUnit != nil && v.CostPerUnit.IsNegative() {
		ve.Add("cost_per_unit", "must not be negative")
	}
	if v.SellPricePerUnit != nil && v.SellPricePerUnit.IsNegative() {
		ve.Add("sell_price_per_unit", "must not be negative")
	}
	if v.Status != "" && v.Status != VariantActive && v.Status != VariantInactive {
		ve.Add("status", fmt.Sprintf("unknown status %q", v.Status))
	}
	return ve.OrNil()
}

// =============================================================================
// RATE PLAN
// =============================================================================

type AllocationType string

const (
	AllocationCommitted AllocationType = "committed"
	AllocationFreesale  AllocationType = "freesale"
	AllocationOnRequest AllocationType = "on_request"
)

func (a AllocationType) Valid() bool {
	switch a {
	case AllocationCommitted, AllocationFreesale, AllocationOnRequest:
		return true
	}
	return false
}

// Bounded reports whether buckets of this type carry a quantity.
func (a AllocationType) Bounded() bool { return a == AllocationCommitted }

type GenerationMode string

const (
	ModeDaily GenerationMode = "daily"
	ModeEvent GenerationMode = "event"
)

// RatePlan is the sellable offer buckets are generated from.
type RatePlan struct {
	ID             string
	TenantID       generic.TenantID
	PoolID         generic.PoolID // optional link to the pool it sells from
	VariantID      generic.VariantID
	SupplierID     generic.SupplierID
	Name           string
	Validity       generic.Period
	Mode           GenerationMode
	EventPeriods   []generic.Period
	TimeSlotID     string
	InventoryModel AllocationType // empty = inherit from the pool
	CreatedAt      time.Time
}

func (rp RatePlan) Validate() error {
	if rp.TenantID == "" {
		return generic.ErrTenantRequired
	}
	if err := rp.Validity.Validate(); err != nil {
		return err
	}
	v := generic.NewValidationError()
	if rp.VariantID == "" {
		v.Add("variant_id", "is required")
	}
	if rp.SupplierID == "" {
		v.Add("supplier_id", "is required")
	}
	if rp.InventoryModel != "" && !rp.InventoryModel.Valid() {
		v.Add("inventory_model", fmt.Sprintf("unknown allocation type %q", rp.InventoryModel))
	}
	switch rp.Mode {
	case ModeDaily, "":
	case ModeEvent:
		if len(rp.EventPeriods) == 0 {
			v.Add("event_periods", "required in event mode")
		}
		for i, ep := range rp.EventPeriods {
			if err := ep.Validate(); err != nil {
				return fmt.Errorf("event period %d: %w", i, err)
			}
			if !rp.Validity.Covers(ep) {
				return fmt.Errorf("%w: event period %s outside %s", generic.ErrInvalidDateRange, ep, rp.Validity)
			}
		}
	default:
		v.Add("mode", fmt.Sprintf("unknown mode %q", rp.Mode))
	}
	return v.OrNil()
}

// =============================================================================
// ATTRIBUTE SCHEMAS
// =============================================================================

var (
	HotelSchema = generic.AttributeSchema{
		Category: "hotel",
		Version:  1,
		Fields: []generic.AttributeField{
			{Name: "property_name", Kind: generic.AttrString, Required: true},
			{Name: "stars", Kind: generic.AttrInt},
			{Name: "board_basis", Kind: generic.AttrEnum, Enum: []string{"room_only", "bed_breakfast", "half_board", "full_board", "all_inclusive"}},
			{Name: "city", Kind: generic.AttrString},
			{Name: "check_in_time", Kind: generic.AttrString},
		},
	}

	EventSchema = generic.AttributeSchema{
		Category: "event",
		Version:  1,
		Fields: []generic.AttributeField{
			{Name: "event_name", Kind: generic.AttrString, Required: true},
			{Name: "venue", Kind: generic.AttrString},
			{Name: "event_date", Kind: generic.AttrDate},
			{Name: "seating", Kind: generic.AttrEnum, Enum: []string{"reserved", "general_admission"}},
		},
	}

	TransferSchema = generic.AttributeSchema{
		Category: "transfer",
		Version:  1,
		Fields: []generic.AttributeField{
			{Name: "vehicle_type", Kind: generic.AttrEnum, Required: true, Enum: []string{"sedan", "van", "minibus", "coach"}},
			{Name: "max_passengers", Kind: generic.AttrInt},
			{Name: "route", Kind: generic.AttrString},
			{Name: "shared", Kind: generic.AttrBool},
		},
	}
)

func init() {
	generic.RegisterSchema(HotelSchema)
	generic.RegisterSchema(EventSchema)
	generic.RegisterSchema(TransferSchema)
}
