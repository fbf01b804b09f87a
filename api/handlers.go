/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes pools, allocations, rate plans, buckets and contract versions
  over REST. Handlers parse the request, call one service method and
  serialize the result; every rule lives in the inventory and contract
  packages.

ENDPOINTS:
  Pools:
    GET    /api/pools                                   List pools
    POST   /api/pools                                   Create pool (wizard payload)
    GET    /api/pools/{id}                              Pool with variants
    PUT    /api/pools/{id}                              Edit pool
    DELETE /api/pools/{id}                              Delete pool
    POST   /api/pools/{id}/duplicate                    Copy pool and variants
    GET    /api/pools/{id}/variants                     List variants
    POST   /api/pools/{id}/variants                     Add or update variant
    DELETE /api/pools/{id}/variants/{variantID}         Remove variant
    GET    /api/pools/{id}/utilization                  Utilization per day

  Allocations:
    POST   /api/pools/{id}/allocations                  Hold or book
    POST   /api/pools/{id}/allocations/{allocationID}/confirm
    POST   /api/pools/{id}/allocations/{allocationID}/release

  Rate plans and buckets (buckets.go):
    POST   /api/rate-plans, GET /api/rate-plans/{id}
    GET    /api/rate-plans/{id}/allocations:estimate
    POST   /api/rate-plans/{id}/allocations:generate
    GET    /api/buckets, PATCH /api/buckets/{id}, GET /api/buckets/{id}/utilization

  Contracts (contracts.go):
    /api/contracts/{id}/versions, /api/contract-versions/...

TENANCY:
  Every /api route runs behind the Tenant middleware. Handlers read the
  actor from the context and pass it to the services explicitly.

ERROR HANDLING:
  Domain errors map to HTTP status in writeDomainError:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Capacity, state and version conflicts (retryable ones flagged)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Response types
  - server.go: Router setup and middleware
  - scenarios.go: Demo data
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/allocation-engine/cache"
	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/logger"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the services behind the HTTP API.
type Handler struct {
	Store       *sqlite.Store
	Cache       *cache.Client // optional, health checked when set
	Pools       *inventory.PoolService
	Allocations *inventory.AllocationService
	Generation  *inventory.GenerationService
	Utilization *inventory.UtilizationService
	Lifecycle   *inventory.LifecycleService
	Versions    *contract.VersionService
	Attrition   *contract.AttritionService

	now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires every service to the store. A nil locker serializes
// allocations in-process.
func NewHandler(store *sqlite.Store, locker inventory.Locker) *Handler {
	utilization := inventory.NewUtilizationService(store)
	contracts := store.Contracts()
	h := &Handler{
		Store:       store,
		Pools:       inventory.NewPoolService(store),
		Allocations: inventory.NewAllocationService(store, locker),
		Generation:  inventory.NewGenerationService(store),
		Utilization: utilization,
		Lifecycle:   inventory.NewLifecycleService(store),
		Versions:    contract.NewVersionService(contracts),
		Attrition:   contract.NewAttritionService(contracts, utilization, nil),
	}
	h.SetClock(time.Now)
	return h
}

// SetClock points every service at the same clock. Tests and demo
// scenarios use it to pin "today".
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
	h.Pools.Now = now
	h.Allocations.Now = now
	h.Generation.Now = now
	h.Versions.Now = now
	h.Attrition.Now = now
}

func (h *Handler) today() generic.TimePoint {
	return generic.DateOf(h.now())
}

// =============================================================================
// POOL HANDLERS
// =============================================================================

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	pools, err := h.Pools.List(r.Context(), actor.TenantID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	today := h.today()
	dtos := make([]PoolDTO, 0, len(pools))
	for _, p := range pools {
		dtos = append(dtos, toPoolDTO(p, nil, today))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req factory.PoolJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	pool, variants, err := req.ToDomain()
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	created, err := h.Pools.Create(r.Context(), ActorFrom(r.Context()), pool, variants)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolDTO(created.Pool, created.Variants, h.today()))
}

func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	pv, err := h.Pools.Get(r.Context(), actor.TenantID, poolIDParam(r))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pv.Pool, pv.Variants, h.today()))
}

// UpdatePool replaces the pool's own fields. Variants in the payload are
// ignored; they are edited through /variants.
func (h *Handler) UpdatePool(w http.ResponseWriter, r *http.Request) {
	var req factory.PoolJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	pool, _, err := req.ToDomain()
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	pool.ID = poolIDParam(r)

	actor := ActorFrom(r.Context())
	if _, err := h.Pools.Update(r.Context(), actor, pool); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	pv, err := h.Pools.Get(r.Context(), actor.TenantID, pool.ID)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pv.Pool, pv.Variants, h.today()))
}

func (h *Handler) DeletePool(w http.ResponseWriter, r *http.Request) {
	if err := h.Pools.Delete(r.Context(), ActorFrom(r.Context()), poolIDParam(r)); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DuplicatePool(w http.ResponseWriter, r *http.Request) {
	var req DuplicatePoolRequest
	if err := decodeOptional(r, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	copied, err := h.Pools.Duplicate(r.Context(), ActorFrom(r.Context()), poolIDParam(r), req.Name)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolDTO(copied.Pool, copied.Variants, h.today()))
}

// =============================================================================
// VARIANT HANDLERS
// =============================================================================

func (h *Handler) ListVariants(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	pv, err := h.Pools.Get(r.Context(), actor.TenantID, poolIDParam(r))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	dtos := make([]factory.VariantJSON, 0, len(pv.Variants))
	for _, v := range pv.Variants {
		dtos = append(dtos, factory.VariantToJSON(v))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveVariant(w http.ResponseWriter, r *http.Request) {
	var req factory.VariantJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	v := req.ToDomain()
	v.PoolID = poolIDParam(r)
	saved, err := h.Pools.SaveVariant(r.Context(), ActorFrom(r.Context()), v)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, factory.VariantToJSON(*saved))
}

func (h *Handler) RemoveVariant(w http.ResponseWriter, r *http.Request) {
	variantID := generic.VariantID(chi.URLParam(r, "variantID"))
	if err := h.Pools.RemoveVariant(r.Context(), ActorFrom(r.Context()), poolIDParam(r), variantID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// UTILIZATION
// =============================================================================

// PoolUtilization reports one day (?date=) or a range (?from=&to=).
// Without parameters it reports today.
func (h *Handler) PoolUtilization(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRangeParams(r, h.today())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	actor := ActorFrom(r.Context())
	report, err := h.Utilization.PoolUtilization(r.Context(), actor.TenantID, poolIDParam(r), from, to)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolUtilizationResponse(report))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// Allocate holds or books units. The Idempotency-Key header doubles as the
// ledger idempotency key, so a retry never consumes twice.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req factory.AllocationJSON
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	areq, err := req.ToDomain(poolIDParam(r), strings.TrimSpace(r.Header.Get(headerIdempotency)))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	alloc, err := h.Allocations.Allocate(r.Context(), ActorFrom(r.Context()), areq)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(alloc))
}

func (h *Handler) ConfirmAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.Allocations.Confirm(r.Context(), ActorFrom(r.Context()), poolIDParam(r), chi.URLParam(r, "allocationID"))
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(alloc))
}

func (h *Handler) ReleaseAllocation(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := decodeOptional(r, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	alloc, err := h.Allocations.Release(r.Context(), ActorFrom(r.Context()), poolIDParam(r), chi.URLParam(r, "allocationID"), req.Reason)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(alloc))
}

// =============================================================================
// AUDIT / ADMIN
// =============================================================================

// ListAudit filters by ?subject=, ?actor_id=, ?action= (repeatable),
// ?from=, ?to= and ?limit= (default 100).
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.AuditFilter{TenantID: ActorFrom(r.Context()).TenantID, Limit: 100}
	if s := q.Get("subject"); s != "" {
		filter.Subject = &s
	}
	if a := q.Get("actor_id"); a != "" {
		filter.ActorID = &a
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}
	if s := q.Get("from"); s != "" {
		d, err := parseDateParam("from", s)
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		filter.From = &d.Time
	}
	if s := q.Get("to"); s != "" {
		d, err := parseDateParam("to", s)
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		end := d.AddDays(1).Time.Add(-time.Nanosecond)
		filter.To = &end
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunLifecycle applies due pool status transitions now, or as of the
// given date. It covers every tenant, like the scheduled run.
func (h *Handler) RunLifecycle(w http.ResponseWriter, r *http.Request) {
	var req LifecycleRunRequest
	if err := decodeOptional(r, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	asOf := h.now()
	if req.AsOf != "" {
		d, err := parseDateParam("as_of", req.AsOf)
		if err != nil {
			writeDomainError(r.Context(), w, err)
			return
		}
		asOf = d.Time
	}
	transitions, err := h.Lifecycle.Run(r.Context(), asOf)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, LifecycleRunResponse{
		AsOf:        generic.DateOf(asOf).String(),
		Transitions: toTransitionDTOs(transitions),
	})
}

// Health reports whether the database (and Redis, when configured) answer.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok"}
	code := http.StatusOK
	if err := h.Store.Ping(ctx); err != nil {
		status["status"], status["database"] = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	if h.Cache != nil {
		status["redis"] = "ok"
		if err := h.Cache.Ping(ctx); err != nil {
			status["status"], status["redis"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a service error to its HTTP status and attaches
// whatever structure the error carries.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error(), Retryable: generic.IsRetryable(err)}

	var ve *generic.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	var ace *generic.AttritionConfigError
	if errors.As(err, &ace) {
		resp.Missing = ace.Missing
	}
	var ice *generic.InsufficientCapacityError
	if errors.As(err, &ice) {
		resp.Capacity = &CapacityDTO{
			PoolID:     string(ice.PoolID),
			VariantID:  string(ice.VariantID),
			Date:       ice.Date.String(),
			Requested:  ice.Requested,
			Available:  ice.Available,
			Overbooked: ice.Overbooked,
			Shortfall:  ice.Shortfall(),
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", err)
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound, "Not found"
	case generic.IsClientError(err):
		return http.StatusBadRequest, "Invalid request"
	case generic.IsConflict(err):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request timed out"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// decodeOptional decodes the body when there is one.
func decodeOptional(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return factory.Decode(bytes.NewReader(body), dest)
}

func poolIDParam(r *http.Request) generic.PoolID {
	return generic.PoolID(chi.URLParam(r, "id"))
}

func parseDateParam(name, value string) (generic.TimePoint, error) {
	d, err := generic.ParseDate(value)
	if err != nil {
		ve := generic.NewValidationError()
		ve.Add(name, "must be a date (YYYY-MM-DD)")
		return generic.TimePoint{}, ve
	}
	return d, nil
}

// maxRangeDays bounds ?from=&to= reports.
const maxRangeDays = 3 * 366

// dateRangeParams reads ?date= or ?from=&to=, falling back to def.
func dateRangeParams(r *http.Request, def generic.TimePoint) (generic.TimePoint, generic.TimePoint, error) {
	q := r.URL.Query()
	if s := q.Get("date"); s != "" {
		d, err := parseDateParam("date", s)
		return d, d, err
	}
	from, to := def, def
	var err error
	if s := q.Get("from"); s != "" {
		if from, err = parseDateParam("from", s); err != nil {
			return from, to, err
		}
		to = from
	}
	if s := q.Get("to"); s != "" {
		if to, err = parseDateParam("to", s); err != nil {
			return from, to, err
		}
	}
	if generic.DaysBetween(from, to) >= maxRangeDays {
		ve := generic.NewValidationError()
		ve.Add("to", "range may span at most "+strconv.Itoa(maxRangeDays)+" days")
		return from, to, ve
	}
	return from, to, nil
}
