/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Wizard payloads
  (pools, rate plans, contract versions) live in the factory package and
  are shared by requests and responses; this file holds everything else.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

NUMBERS:
  Decimals (weights, capacity units, money, percentages) are rendered as
  JSON strings so no precision is lost in JavaScript clients.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/: Wizard payloads
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type DuplicatePoolRequest struct {
	Name string `json:"name,omitempty" validate:"max=200"`
}

type ReleaseRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type LifecycleRunRequest struct {
	AsOf string `json:"as_of,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Details   string            `json:"details,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Missing   []string          `json:"missing,omitempty"`
	Capacity  *CapacityDTO      `json:"capacity,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

// CapacityDTO explains an insufficient-capacity rejection.
type CapacityDTO struct {
	PoolID     string          `json:"pool_id"`
	VariantID  string          `json:"variant_id"`
	Date       string          `json:"date"`
	Requested  decimal.Decimal `json:"requested"`
	Available  decimal.Decimal `json:"available"`
	Overbooked decimal.Decimal `json:"overbooked"`
	Shortfall  decimal.Decimal `json:"shortfall"`
}

// =============================================================================
// POOLS
// =============================================================================

// PoolDTO is the wizard payload plus the status derived for today.
type PoolDTO struct {
	factory.PoolJSON
	EffectiveStatus string    `json:"effective_status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toPoolDTO(p inventory.Pool, variants []inventory.PoolVariant, today generic.TimePoint) PoolDTO {
	return PoolDTO{
		PoolJSON:        factory.PoolToJSON(p, variants),
		EffectiveStatus: string(p.StatusAt(today)),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type AllocationDTO struct {
	ID            string           `json:"id"`
	PoolID        string           `json:"pool_id"`
	VariantID     string           `json:"variant_id"`
	Type          string           `json:"type"`
	Units         int64            `json:"units"`
	CapacityUnits decimal.Decimal  `json:"capacity_units"`
	Dates         []DateOutcomeDTO `json:"dates"`
	Transactions  []TransactionDTO `json:"transactions"`
}

type DateOutcomeDTO struct {
	Date      string           `json:"date"`
	Consumed  decimal.Decimal  `json:"consumed"`
	Remaining *decimal.Decimal `json:"remaining"` // null = unlimited
	BucketID  string           `json:"bucket_id,omitempty"`
}

type TransactionDTO struct {
	ID           string          `json:"id"`
	VariantID    string          `json:"variant_id"`
	Date         string          `json:"date"`
	Type         string          `json:"type"`
	Units        int64           `json:"units"`
	Weight       decimal.Decimal `json:"weight"`
	Delta        decimal.Decimal `json:"delta"`
	ReversesID   string          `json:"reverses_id,omitempty"`
	ReferenceID  string          `json:"reference_id"`
	Reason       string          `json:"reason,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAtUTC time.Time       `json:"created_at"`
}

func toAllocationDTO(a *inventory.Allocation) AllocationDTO {
	dto := AllocationDTO{
		ID:            a.ID,
		PoolID:        string(a.PoolID),
		VariantID:     string(a.VariantID),
		Type:          string(a.Type),
		Units:         a.Units,
		CapacityUnits: a.CapacityUnits,
		Dates:         make([]DateOutcomeDTO, 0, len(a.Dates)),
		Transactions:  make([]TransactionDTO, 0, len(a.Transactions)),
	}
	for _, d := range a.Dates {
		dto.Dates = append(dto.Dates, DateOutcomeDTO{
			Date:      d.Date.String(),
			Consumed:  d.Consumed,
			Remaining: d.Remaining,
			BucketID:  d.BucketID,
		})
	}
	for _, tx := range a.Transactions {
		dto.Transactions = append(dto.Transactions, toTransactionDTO(tx))
	}
	return dto
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		VariantID:    string(tx.VariantID),
		Date:         tx.EffectiveAt.String(),
		Type:         string(tx.Type),
		Units:        tx.Units,
		Weight:       tx.Weight,
		Delta:        tx.Delta.Value,
		ReversesID:   string(tx.ReversesID),
		ReferenceID:  tx.ReferenceID,
		Reason:       tx.Reason,
		CreatedBy:    tx.CreatedBy,
		CreatedAtUTC: tx.CreatedAt.Time,
	}
}

// =============================================================================
// UTILIZATION
// =============================================================================

type PoolUtilizationResponse struct {
	PoolID   string               `json:"pool_id"`
	Capacity string               `json:"capacity"`
	Days     []PoolUtilizationDTO `json:"days"`
	Peak     *PoolUtilizationDTO  `json:"peak,omitempty"`
}

type PoolUtilizationDTO struct {
	Date       string            `json:"date"`
	Total      *int64            `json:"total"`
	Booked     decimal.Decimal   `json:"booked"`
	Held       decimal.Decimal   `json:"held"`
	Consumed   decimal.Decimal   `json:"consumed"`
	Available  *decimal.Decimal  `json:"available"`
	Percentage decimal.Decimal   `json:"percentage"`
	Tier       string            `json:"tier"`
	ByVariant  []VariantShareDTO `json:"by_variant,omitempty"`
}

type VariantShareDTO struct {
	VariantID   string          `json:"variant_id"`
	BookedUnits int64           `json:"booked_units"`
	HeldUnits   int64           `json:"held_units"`
	Consumed    decimal.Decimal `json:"consumed"`
}

func toPoolUtilizationResponse(r *inventory.PoolReport) PoolUtilizationResponse {
	resp := PoolUtilizationResponse{
		PoolID:   string(r.Pool.ID),
		Capacity: r.Capacity.String(),
		Days:     make([]PoolUtilizationDTO, 0, len(r.Days)),
	}
	for _, d := range r.Days {
		resp.Days = append(resp.Days, toPoolUtilizationDTO(d))
	}
	if r.Peak != nil {
		peak := toPoolUtilizationDTO(*r.Peak)
		resp.Peak = &peak
	}
	return resp
}

func toPoolUtilizationDTO(u inventory.PoolUtilization) PoolUtilizationDTO {
	dto := PoolUtilizationDTO{
		Date:       u.Date.String(),
		Total:      u.Total,
		Booked:     u.Booked,
		Held:       u.Held,
		Consumed:   u.Consumed,
		Available:  u.Available,
		Percentage: u.Percentage,
		Tier:       string(u.Tier),
	}
	for _, vs := range u.ByVariant {
		dto.ByVariant = append(dto.ByVariant, VariantShareDTO{
			VariantID:   string(vs.VariantID),
			BookedUnits: vs.BookedUnits,
			HeldUnits:   vs.HeldUnits,
			Consumed:    vs.Consumed,
		})
	}
	return dto
}

// =============================================================================
// BUCKETS
// =============================================================================

type BucketDTO struct {
	ID               string `json:"id"`
	PoolID           string `json:"pool_id,omitempty"`
	RatePlanID       string `json:"rate_plan_id,omitempty"`
	VariantID        string `json:"variant_id"`
	SupplierID       string `json:"supplier_id"`
	TimeSlotID       string `json:"time_slot_id,omitempty"`
	SpanKind         string `json:"span_kind"`
	Date             string `json:"date,omitempty"`
	EventStart       string `json:"event_start,omitempty"`
	EventEnd         string `json:"event_end,omitempty"`
	AllocationType   string `json:"allocation_type"`
	Quantity         *int64 `json:"quantity"` // null = unbounded
	Booked           int64  `json:"booked"`
	Held             int64  `json:"held"`
	StopSell         bool   `json:"stop_sell"`
	Blackout         bool   `json:"blackout"`
	AllowOverbooking bool   `json:"allow_overbooking"`
	OverbookingLimit *int64 `json:"overbooking_limit,omitempty"`
	Notes            string `json:"notes,omitempty"`

	Utilization *BucketUtilizationDTO `json:"utilization,omitempty"`
}

type BucketUtilizationDTO struct {
	Available    *int64          `json:"available"`
	Percentage   decimal.Decimal `json:"percentage"`
	IsOverbooked bool            `json:"is_overbooked"`
	Tier         string          `json:"tier"`
}

type BucketListResponse struct {
	Buckets   []BucketDTO          `json:"buckets"`
	Malformed []MalformedBucketDTO `json:"malformed,omitempty"`
}

type MalformedBucketDTO struct {
	BucketID string `json:"bucket_id"`
	Reason   string `json:"reason"`
}

func toBucketDTO(b inventory.Bucket) BucketDTO {
	dto := BucketDTO{
		ID:               b.ID,
		PoolID:           string(b.PoolID),
		RatePlanID:       b.RatePlanID,
		VariantID:        string(b.VariantID),
		SupplierID:       string(b.SupplierID),
		TimeSlotID:       b.TimeSlotID,
		AllocationType:   string(b.AllocationType),
		Quantity:         b.Quantity,
		Booked:           b.Booked,
		Held:             b.Held,
		StopSell:         b.StopSell,
		Blackout:         b.Blackout,
		AllowOverbooking: b.AllowOverbooking,
		OverbookingLimit: b.OverbookingLimit,
		Notes:            b.Notes,
	}
	switch span := b.Span.(type) {
	case inventory.DailySpan:
		dto.SpanKind = string(inventory.SpanDaily)
		dto.Date = span.Date.String()
	case inventory.EventSpan:
		dto.SpanKind = string(inventory.SpanEvent)
		dto.EventStart = span.StartDate.String()
		dto.EventEnd = span.EndDate.String()
	}
	return dto
}

func toBucketRowDTO(row inventory.BucketRow) BucketDTO {
	dto := toBucketDTO(row.Bucket)
	dto.Utilization = &BucketUtilizationDTO{
		Available:    row.Utilization.Available,
		Percentage:   row.Utilization.Percentage,
		IsOverbooked: row.Utilization.IsOverbooked,
		Tier:         string(row.Utilization.Tier),
	}
	return dto
}

type GenerationResultDTO struct {
	RatePlanID string      `json:"rate_plan_id"`
	Written    int         `json:"written"`
	Skipped    int         `json:"skipped"`
	Buckets    []BucketDTO `json:"buckets"`
	SkippedIDs []string    `json:"skipped_ids,omitempty"`
}

type EstimateDTO struct {
	RatePlanID string `json:"rate_plan_id"`
	TotalUnits int64  `json:"total_units"`
}

// =============================================================================
// CONTRACTS
// =============================================================================

type AttritionReportDTO struct {
	VersionID      string           `json:"version_id"`
	Status         string           `json:"status"`
	WindowStart    string           `json:"window_start"`
	WindowEnd      string           `json:"window_end"`
	Strategy       string           `json:"strategy"`
	Committed      int64            `json:"committed"`
	ActualPickup   decimal.Decimal  `json:"actual_pickup"`
	PickupPercent  decimal.Decimal  `json:"pickup_percent"`
	RequiredPickup decimal.Decimal  `json:"required_pickup"`
	RawShortfall   decimal.Decimal  `json:"raw_shortfall"`
	GraceAllowance int64            `json:"grace_allowance"`
	ShortfallUnits decimal.Decimal  `json:"shortfall_units"`
	ShortfallRatio decimal.Decimal  `json:"shortfall_ratio"`
	CostPerUnit    *decimal.Decimal `json:"cost_per_unit,omitempty"`
	Penalty        decimal.Decimal  `json:"penalty"`
	Currency       string           `json:"currency,omitempty"`
}

func toAttritionReportDTO(r contract.Report) AttritionReportDTO {
	return AttritionReportDTO{
		VersionID:      r.Version.ID,
		Status:         string(r.Status),
		WindowStart:    r.Window.Start.String(),
		WindowEnd:      r.Window.End.String(),
		Strategy:       string(r.Result.Strategy),
		Committed:      r.Result.Committed,
		ActualPickup:   r.Result.ActualPickup,
		PickupPercent:  r.Result.PickupPercent,
		RequiredPickup: r.Result.RequiredPickup,
		RawShortfall:   r.Result.RawShortfall,
		GraceAllowance: r.Result.GraceAllowance,
		ShortfallUnits: r.Result.ShortfallUnits,
		ShortfallRatio: r.Result.ShortfallRatio,
		CostPerUnit:    r.Result.CostPerUnit,
		Penalty:        r.Result.Penalty,
		Currency:       r.Result.Currency,
	}
}

type BulkResultDTO struct {
	Action  string              `json:"action"`
	Applied bool                `json:"applied"`
	Failed  int                 `json:"failed"`
	Items   []BulkItemResultDTO `json:"items"`
}

type BulkItemResultDTO struct {
	VersionID string `json:"version_id"`
	Status    string `json:"status"`
	ResultID  string `json:"result_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func toBulkResultDTO(r *contract.BulkResult) BulkResultDTO {
	dto := BulkResultDTO{
		Action:  string(r.Action),
		Applied: r.Applied,
		Failed:  r.Failed(),
		Items:   make([]BulkItemResultDTO, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		item := BulkItemResultDTO{VersionID: it.VersionID, Status: string(it.Status), ResultID: it.ResultID}
		if it.Err != nil {
			item.Error = it.Err.Error()
		}
		dto.Items = append(dto.Items, item)
	}
	return dto
}

// =============================================================================
// AUDIT / ADMIN
// =============================================================================

type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toAuditEntryDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		Subject:   e.Subject,
		Payload:   e.Payload,
	}
}

type TransitionDTO struct {
	TenantID string `json:"tenant_id"`
	PoolID   string `json:"pool_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type LifecycleRunResponse struct {
	AsOf        string          `json:"as_of"`
	Transitions []TransitionDTO `json:"transitions"`
}

func toTransitionDTOs(ts []inventory.Transition) []TransitionDTO {
	out := make([]TransitionDTO, 0, len(ts))
	for _, t := range ts {
		out = append(out, TransitionDTO{
			TenantID: string(t.TenantID),
			PoolID:   string(t.PoolID),
			From:     string(t.From),
			To:       string(t.To),
		})
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
