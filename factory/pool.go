package factory

import (
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
)

// =============================================================================
// POOL WIZARD
// =============================================================================

// PoolJSON is the pool wizard payload. It doubles as the API response
// shape, so the read-only fields (id, status, version) round-trip.
type PoolJSON struct {
	ID            string              `json:"id,omitempty"`
	SupplierID    string              `json:"supplier_id" validate:"required"`
	Name          string              `json:"name" validate:"required,max=200"`
	ExternalRef   string              `json:"external_ref,omitempty" validate:"max=100"`
	PoolType      string              `json:"pool_type" validate:"required,oneof=committed provisional on_request freesale"`
	ValidFrom     string              `json:"valid_from" validate:"required,datetime=2006-01-02"`
	ValidTo       string              `json:"valid_to" validate:"required,datetime=2006-01-02"`
	TotalCapacity *int64              `json:"total_capacity,omitempty" validate:"omitempty,min=0"`
	CapacityUnit  string              `json:"capacity_unit,omitempty"`
	MinCommitment *int64              `json:"min_commitment,omitempty" validate:"omitempty,min=0"`
	ReleaseDate   *string             `json:"release_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CutoffDays    *int                `json:"cutoff_days,omitempty" validate:"omitempty,min=0"`
	Currency      string              `json:"currency,omitempty" validate:"omitempty,len=3"`
	Status        string              `json:"status,omitempty" validate:"omitempty,oneof=active inactive released expired"`
	Attributes    *generic.Attributes `json:"attributes,omitempty"`
	Variants      []VariantJSON       `json:"variants,omitempty" validate:"dive"`
	Version       int                 `json:"version,omitempty"`
}

// VariantJSON binds a variant to the pool. Weights and money are decimal
// strings ("1.5") or plain JSON numbers.
type VariantJSON struct {
	VariantID        string           `json:"variant_id" validate:"required"`
	CapacityWeight   decimal.Decimal  `json:"capacity_weight" validate:"gt=0"`
	CostPerUnit      *decimal.Decimal `json:"cost_per_unit,omitempty" validate:"omitempty,gte=0"`
	SellPricePerUnit *decimal.Decimal `json:"sell_price_per_unit,omitempty" validate:"omitempty,gte=0"`
	Priority         int              `json:"priority"`
	AutoAllocate     *bool            `json:"auto_allocate,omitempty"`
	Status           string           `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// ToDomain builds the pool and its variants. The tenant is not part of the
// payload; services stamp it from the actor.
func (pj PoolJSON) ToDomain() (inventory.Pool, []inventory.PoolVariant, error) {
	validity, err := parsePeriod(pj.ValidFrom, pj.ValidTo)
	if err != nil {
		return inventory.Pool{}, nil, err
	}
	release, err := parseOptionalDate(pj.ReleaseDate)
	if err != nil {
		return inventory.Pool{}, nil, err
	}

	pool := inventory.Pool{
		ID:            generic.PoolID(pj.ID),
		SupplierID:    generic.SupplierID(pj.SupplierID),
		Name:          pj.Name,
		ExternalRef:   pj.ExternalRef,
		Type:          inventory.PoolType(pj.PoolType),
		Validity:      validity,
		TotalCapacity: pj.TotalCapacity,
		CapacityUnit:  generic.Unit(pj.CapacityUnit),
		MinCommitment: pj.MinCommitment,
		ReleaseDate:   release,
		CutoffDays:    pj.CutoffDays,
		Currency:      pj.Currency,
		Status:        inventory.PoolStatus(pj.Status),
		Version:       pj.Version,
	}
	if pj.Attributes != nil {
		pool.Attributes = *pj.Attributes
	}

	variants := make([]inventory.PoolVariant, 0, len(pj.Variants))
	for _, vj := range pj.Variants {
		v := vj.ToDomain()
		v.PoolID = pool.ID
		variants = append(variants, v)
	}
	return pool, variants, nil
}

// ToDomain builds the variant. Auto-allocation is on unless the payload
// turns it off.
func (vj VariantJSON) ToDomain() inventory.PoolVariant {
	auto := true
	if vj.AutoAllocate != nil {
		auto = *vj.AutoAllocate
	}
	return inventory.PoolVariant{
		VariantID:        generic.VariantID(vj.VariantID),
		CapacityWeight:   vj.CapacityWeight,
		CostPerUnit:      vj.CostPerUnit,
		SellPricePerUnit: vj.SellPricePerUnit,
		Priority:         vj.Priority,
		AutoAllocate:     auto,
		Status:           inventory.VariantStatus(vj.Status),
	}
}

// PoolToJSON renders a pool. status is the stored status; callers that
// want the derived lifecycle status overwrite it.
func PoolToJSON(p inventory.Pool, variants []inventory.PoolVariant) PoolJSON {
	pj := PoolJSON{
		ID:            string(p.ID),
		SupplierID:    string(p.SupplierID),
		Name:          p.Name,
		ExternalRef:   p.ExternalRef,
		PoolType:      string(p.Type),
		ValidFrom:     p.Validity.Start.String(),
		ValidTo:       p.Validity.End.String(),
		TotalCapacity: p.TotalCapacity,
		CapacityUnit:  string(p.CapacityUnit),
		MinCommitment: p.MinCommitment,
		ReleaseDate:   formatOptionalDate(p.ReleaseDate),
		CutoffDays:    p.CutoffDays,
		Currency:      p.Currency,
		Status:        string(p.Status),
		Version:       p.Version,
	}
	if !p.Attributes.IsEmpty() {
		attrs := p.Attributes
		pj.Attributes = &attrs
	}
	for _, v := range variants {
		pj.Variants = append(pj.Variants, VariantToJSON(v))
	}
	return pj
}

func VariantToJSON(v inventory.PoolVariant) VariantJSON {
	auto := v.AutoAllocate
	return VariantJSON{
		VariantID:        string(v.VariantID),
		CapacityWeight:   v.CapacityWeight,
		CostPerUnit:      v.CostPerUnit,
		SellPricePerUnit: v.SellPricePerUnit,
		Priority:         v.Priority,
		AutoAllocate:     &auto,
		Status:           string(v.Status),
	}
}

// =============================================================================
// RATE PLAN
// =============================================================================

// RatePlanJSON describes the offer buckets are generated from. Event mode
// needs event_periods inside the validity.
type RatePlanJSON struct {
	ID             string       `json:"id,omitempty"`
	PoolID         string       `json:"pool_id,omitempty"`
	VariantID      string       `json:"variant_id" validate:"required"`
	SupplierID     string       `json:"supplier_id,omitempty"`
	Name           string       `json:"name,omitempty" validate:"max=200"`
	ValidFrom      string       `json:"valid_from" validate:"required,datetime=2006-01-02"`
	ValidTo        string       `json:"valid_to" validate:"required,datetime=2006-01-02"`
	Mode           string       `json:"mode,omitempty" validate:"omitempty,oneof=daily event"`
	EventPeriods   []PeriodJSON `json:"event_periods,omitempty" validate:"required_if=Mode event,dive"`
	TimeSlotID     string       `json:"time_slot_id,omitempty"`
	InventoryModel string       `json:"inventory_model,omitempty" validate:"omitempty,oneof=committed freesale on_request"`
}

func (rj RatePlanJSON) ToDomain() (inventory.RatePlan, error) {
	validity, err := parsePeriod(rj.ValidFrom, rj.ValidTo)
	if err != nil {
		return inventory.RatePlan{}, err
	}
	mode := inventory.GenerationMode(rj.Mode)
	if mode == "" {
		mode = inventory.ModeDaily
	}
	rp := inventory.RatePlan{
		ID:             rj.ID,
		PoolID:         generic.PoolID(rj.PoolID),
		VariantID:      generic.VariantID(rj.VariantID),
		SupplierID:     generic.SupplierID(rj.SupplierID),
		Name:           rj.Name,
		Validity:       validity,
		Mode:           mode,
		TimeSlotID:     rj.TimeSlotID,
		InventoryModel: inventory.AllocationType(rj.InventoryModel),
	}
	for _, pj := range rj.EventPeriods {
		p, err := pj.toPeriod()
		if err != nil {
			return inventory.RatePlan{}, err
		}
		rp.EventPeriods = append(rp.EventPeriods, p)
	}
	return rp, nil
}

func RatePlanToJSON(rp inventory.RatePlan) RatePlanJSON {
	rj := RatePlanJSON{
		ID:             rp.ID,
		PoolID:         string(rp.PoolID),
		VariantID:      string(rp.VariantID),
		SupplierID:     string(rp.SupplierID),
		Name:           rp.Name,
		ValidFrom:      rp.Validity.Start.String(),
		ValidTo:        rp.Validity.End.String(),
		Mode:           string(rp.Mode),
		TimeSlotID:     rp.TimeSlotID,
		InventoryModel: string(rp.InventoryModel),
	}
	for _, p := range rp.EventPeriods {
		rj.EventPeriods = append(rj.EventPeriods, periodJSON(p))
	}
	return rj
}

// =============================================================================
// BUCKET EDIT / ALLOCATION
// =============================================================================

// BucketPatchJSON is a manual bucket edit. Absent fields are left alone.
type BucketPatchJSON struct {
	Quantity         *int64  `json:"quantity,omitempty" validate:"omitempty,min=0"`
	StopSell         *bool   `json:"stop_sell,omitempty"`
	Blackout         *bool   `json:"blackout,omitempty"`
	AllowOverbooking *bool   `json:"allow_overbooking,omitempty"`
	OverbookingLimit *int64  `json:"overbooking_limit,omitempty" validate:"omitempty,min=0"`
	Notes            *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

func (bj BucketPatchJSON) ToDomain() inventory.BucketPatch {
	return inventory.BucketPatch{
		Quantity:         bj.Quantity,
		StopSell:         bj.StopSell,
		Blackout:         bj.Blackout,
		AllowOverbooking: bj.AllowOverbooking,
		OverbookingLimit: bj.OverbookingLimit,
		Notes:            bj.Notes,
	}
}

// AllocationJSON requests units of a variant for every date in
// [from, to]. An empty variant_id lets the pool pick by priority.
type AllocationJSON struct {
	VariantID   string `json:"variant_id,omitempty"`
	From        string `json:"from" validate:"required,datetime=2006-01-02"`
	To          string `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Units       int64  `json:"units" validate:"required,min=1"`
	Hold        bool   `json:"hold,omitempty"`
	ReferenceID string `json:"reference_id,omitempty" validate:"max=100"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
}

// ToDomain builds the request. idempotencyKey usually comes from the
// Idempotency-Key header.
func (aj AllocationJSON) ToDomain(poolID generic.PoolID, idempotencyKey string) (inventory.AllocationRequest, error) {
	from, err := parseDate(aj.From)
	if err != nil {
		return inventory.AllocationRequest{}, err
	}
	to := from
	if aj.To != "" {
		if to, err = parseDate(aj.To); err != nil {
			return inventory.AllocationRequest{}, err
		}
	}
	return inventory.AllocationRequest{
		PoolID:         poolID,
		VariantID:      generic.VariantID(aj.VariantID),
		From:           from,
		To:             to,
		Units:          aj.Units,
		Hold:           aj.Hold,
		ReferenceID:    aj.ReferenceID,
		IdempotencyKey: idempotencyKey,
		Reason:         aj.Reason,
	}, nil
}

// GenerationJSON parameterizes a bucket generation run.
type GenerationJSON struct {
	DefaultDailyQuantity int64            `json:"default_daily_quantity" validate:"min=0"`
	WeekendMultiplier    *decimal.Decimal `json:"weekend_multiplier,omitempty" validate:"omitempty,gt=0"`
}

func (gj GenerationJSON) ToDomain(ratePlanID string) inventory.GenerationRequest {
	return inventory.GenerationRequest{
		RatePlanID:           ratePlanID,
		DefaultDailyQuantity: gj.DefaultDailyQuantity,
		WeekendMultiplier:    gj.WeekendMultiplier,
	}
}
