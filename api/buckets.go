package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
)

// =============================================================================
// RATE PLANS
// =============================================================================

func (h *Handler) CreateRatePlan(w http.ResponseWriter, r *http.Request) {
	var req factory.RatePlanJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	rp, err := req.ToDomain()
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	created, err := h.Pools.CreateRatePlan(r.Context(), ActorFrom(r.Context()), rp)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.RatePlanToJSON(*created))
}

func (h *Handler) GetRatePlan(w http.ResponseWriter, r *http.Request) {
	rp, err := h.Pools.GetRatePlan(r.Context(), ActorFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, factory.RatePlanToJSON(*rp))
}

// EstimateAllocations previews how many units generation would create
// with ?default_daily_quantity= per bucket.
func (h *Handler) EstimateAllocations(w http.ResponseWriter, r *http.Request) {
	qty := int64(0)
	if s := r.URL.Query().Get("default_daily_quantity"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			ve := generic.NewValidationError()
			ve.Add("default_daily_quantity", "must be a non-negative integer")
			writeDomainError(r.Context(), w, ve)
			return
		}
		qty = n
	}
	id := chi.URLParam(r, "id")
	total, err := h.Generation.Estimate(r.Context(), ActorFrom(r.Context()).TenantID, id, qty)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateDTO{RatePlanID: id, TotalUnits: total})
}

// GenerateAllocations writes one bucket per day (or per event period).
// Existing buckets for the same span are left alone and reported as skipped.
func (h *Handler) GenerateAllocations(w http.ResponseWriter, r *http.Request) {
	var req factory.GenerationJSON
	if err := decodeOptional(r, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	res, err := h.Generation.Generate(r.Context(), ActorFrom(r.Context()), req.ToDomain(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	dto := GenerationResultDTO{
		RatePlanID: res.RatePlanID,
		Written:    len(res.Written),
		Skipped:    len(res.Skipped),
		Buckets:    make([]BucketDTO, 0, len(res.Written)),
	}
	for _, b := range res.Written {
		dto.Buckets = append(dto.Buckets, toBucketDTO(b))
	}
	for _, b := range res.Skipped {
		dto.SkippedIDs = append(dto.SkippedIDs, b.ID)
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// BUCKETS
// =============================================================================

// ListBuckets returns bucket figures for ?from=&to= filtered by
// ?pool_id=, ?variant_id=, ?supplier_id= and ?rate_plan_id=.
func (h *Handler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRangeParams(r, h.today())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	q := r.URL.Query()
	query := inventory.BucketQuery{
		PoolID:     generic.PoolID(q.Get("pool_id")),
		VariantID:  generic.VariantID(q.Get("variant_id")),
		SupplierID: generic.SupplierID(q.Get("supplier_id")),
		RatePlanID: q.Get("rate_plan_id"),
		From:       from,
		To:         to,
	}
	report, err := h.Utilization.BucketReport(r.Context(), ActorFrom(r.Context()).TenantID, query)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	resp := BucketListResponse{Buckets: make([]BucketDTO, 0, len(report.Rows))}
	for _, row := range report.Rows {
		resp.Buckets = append(resp.Buckets, toBucketRowDTO(row))
	}
	for _, m := range report.Malformed {
		resp.Malformed = append(resp.Malformed, MalformedBucketDTO{BucketID: m.BucketID, Reason: m.Reason})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) EditBucket(w http.ResponseWriter, r *http.Request) {
	var req factory.BucketPatchJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	b, err := h.Pools.EditBucket(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), req.ToDomain())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	row, err := h.Utilization.BucketUtilization(r.Context(), b.TenantID, b.ID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBucketRowDTO(*row))
}

func (h *Handler) BucketUtilization(w http.ResponseWriter, r *http.Request) {
	row, err := h.Utilization.BucketUtilization(r.Context(), ActorFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBucketRowDTO(*row))
}
