/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos and end-to-end tests. Every scenario goes through the
	same services and wizard payloads an operator would use, so the demo
	data obeys every capacity rule.

AVAILABLE SCENARIOS:

	hotel-allotment:  100-room summer allotment, 60 standard + 20 suites
	                  booked on the peak night (90 of 100 consumed), suite
	                  buckets generated, attrition terms on the contract
	event-block:      500-seat block for a three-day event, event-mode
	                  buckets, a confirmed hospitality hold and an open
	                  tour operator hold
	attrition-review: A finished spring allotment with weak second-month
	                  pickup and monthly attrition terms

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create pools and variants via factory presets
 3. Create rate plans and generate buckets
 4. Book and hold through the allocation service
 5. Attach contract versions

Dates are relative to today so the data always looks current.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "hotel-allotment"}

NOTE:

	Loading a scenario resets the whole database, every tenant included.
	The routes are only mounted in dev.

SEE ALSO:
  - handlers.go: Handler and services
  - factory/presets.go: Wizard payloads used here
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "hotel-allotment",
		Name:        "Hotel Allotment",
		Description: "100 rooms, standard and suite variants, 90 capacity units consumed on the peak night",
	},
	{
		ID:          "event-block",
		Name:        "Event Block",
		Description: "Seat block for a three-day event with event-mode buckets and open holds",
	},
	{
		ID:          "attrition-review",
		Name:        "Attrition Review",
		Description: "Finished allotment with monthly attrition terms and a pickup shortfall",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a predefined scenario for
// the calling organization.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := factory.Decode(r.Body, &req); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	var load func(context.Context, generic.Actor) error
	switch req.ScenarioID {
	case "hotel-allotment":
		load = h.loadHotelAllotmentScenario
	case "event-block":
		load = h.loadEventBlockScenario
	case "attrition-review":
		load = h.loadAttritionReviewScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%w: scenario %q", generic.ErrValidation, req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, ActorFrom(ctx)); err != nil {
		logger.Error(logger.WithField(ctx, "scenario", req.ScenarioID), "scenario load failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	logger.Info(logger.WithField(ctx, "scenario", req.ScenarioID), "scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadHotelAllotmentScenario(ctx context.Context, actor generic.Actor) error {
	today := h.today()
	from, to := today, today.AddDays(89)
	peak := today.AddDays(14)

	pool, err := h.createPoolFromJSON(ctx, actor,
		factory.HotelAllotmentJSON("seaside-summer", "Seaside Resort", "sup-seaside", from.String(), to.String(), 100))
	if err != nil {
		return err
	}

	// Suites are sold through a rate plan with 20 per night, 30 on weekends.
	plan, err := h.createRatePlanFromJSON(ctx, actor, factory.DailyRatePlanJSON(string(pool.ID), "suite", from.String(), to.String()))
	if err != nil {
		return err
	}
	weekend := decimal.RequireFromString("1.5")
	if _, err := h.Generation.Generate(ctx, actor, inventory.GenerationRequest{
		RatePlanID:           plan.ID,
		DefaultDailyQuantity: 20,
		WeekendMultiplier:    &weekend,
	}); err != nil {
		return fmt.Errorf("generate suite buckets: %w", err)
	}

	// Peak night: 60 standard (60 units) + 20 suites (30 units) = 90 of 100.
	bookings := []inventory.AllocationRequest{
		{PoolID: pool.ID, VariantID: "std-double", From: peak, Units: 60, ReferenceID: "res-peak-std", Reason: "wholesaler series"},
		{PoolID: pool.ID, VariantID: "suite", From: peak, Units: 20, ReferenceID: "res-peak-suite", Reason: "incentive group"},
		{PoolID: pool.ID, VariantID: "std-double", From: today.AddDays(20), To: today.AddDays(26), Units: 12, ReferenceID: "res-week-std"},
	}
	for _, b := range bookings {
		if _, err := h.Allocations.Allocate(ctx, actor, b); err != nil {
			return fmt.Errorf("book %s: %w", b.ReferenceID, err)
		}
	}
	if _, err := h.Allocations.Allocate(ctx, actor, inventory.AllocationRequest{
		PoolID: pool.ID, VariantID: "std-double", From: today.AddDays(30), To: today.AddDays(33), Units: 8, Hold: true, ReferenceID: "hold-fam-trip",
	}); err != nil {
		return fmt.Errorf("hold: %w", err)
	}

	_, err = h.createVersionFromJSON(ctx, actor, "seaside-2026",
		factory.AttritionVersionJSON("sup-seaside", string(pool.ID), from.String(), to.String(), 1800, "80", string(contract.PenaltyPayForUnused), "monthly"))
	return err
}

func (h *Handler) loadEventBlockScenario(ctx context.Context, actor generic.Actor) error {
	start := h.today().AddDays(30)
	end := start.AddDays(2)

	pool, err := h.createPoolFromJSON(ctx, actor,
		factory.EventBlockJSON("festival-block", "Harbour Festival", "sup-festival", start.String(), end.String(), 500))
	if err != nil {
		return err
	}

	plan, err := h.createRatePlanFromJSON(ctx, actor, factory.EventRatePlanJSON(string(pool.ID), "general", start.String(), end.String()))
	if err != nil {
		return err
	}
	if _, err := h.Generation.Generate(ctx, actor, inventory.GenerationRequest{RatePlanID: plan.ID, DefaultDailyQuantity: 400}); err != nil {
		return fmt.Errorf("generate event bucket: %w", err)
	}

	if _, err := h.Allocations.Allocate(ctx, actor, inventory.AllocationRequest{
		PoolID: pool.ID, VariantID: "general", From: start, To: end, Units: 120, ReferenceID: "festival-pass-batch-1",
	}); err != nil {
		return err
	}

	// Hospitality is never auto-selected; it is held explicitly and
	// confirmed once the sponsor signs.
	if _, err := h.Allocations.Allocate(ctx, actor, inventory.AllocationRequest{
		PoolID: pool.ID, VariantID: "hospitality", From: start, To: end, Units: 20, Hold: true, ReferenceID: "sponsor-lounge",
	}); err != nil {
		return err
	}
	if _, err := h.Allocations.Confirm(ctx, actor, pool.ID, "sponsor-lounge"); err != nil {
		return err
	}

	_, err = h.Allocations.Allocate(ctx, actor, inventory.AllocationRequest{
		PoolID: pool.ID, VariantID: "general", From: start, To: end, Units: 50, Hold: true, ReferenceID: "tour-operator-hold",
	})
	return err
}

func (h *Handler) loadAttritionReviewScenario(ctx context.Context, actor generic.Actor) error {
	today := h.today()
	from, to := today.AddDays(-120), today.AddDays(-31)

	pool, err := h.createPoolFromJSON(ctx, actor,
		factory.HotelAllotmentJSON("lakeside-spring", "Lakeside Lodge", "sup-lakeside", from.String(), to.String(), 50))
	if err != nil {
		return err
	}

	// The bookings were taken before the season opened.
	booking := &inventory.AllocationService{
		Repo:        h.Store,
		Locker:      inventory.NewKeyedMutex(),
		Now:         func() time.Time { return from.AddDays(-14).Time },
		MaxAttempts: h.Allocations.MaxAttempts,
	}
	firstMonthEnd := from.AddDays(29)
	secondMonthEnd := from.AddDays(59)
	bookings := []inventory.AllocationRequest{
		{PoolID: pool.ID, VariantID: "std-double", From: from, To: firstMonthEnd, Units: 22, ReferenceID: "spring-series-1"},
		{PoolID: pool.ID, VariantID: "std-double", From: firstMonthEnd.AddDays(1), To: secondMonthEnd, Units: 8, ReferenceID: "spring-series-2"},
		{PoolID: pool.ID, VariantID: "std-double", From: secondMonthEnd.AddDays(1), To: to, Units: 17, ReferenceID: "spring-series-3"},
	}
	for _, b := range bookings {
		if _, err := booking.Allocate(ctx, actor, b); err != nil {
			return fmt.Errorf("book %s: %w", b.ReferenceID, err)
		}
	}

	if _, err := h.createVersionFromJSON(ctx, actor, "lakeside-2026",
		factory.AttritionVersionJSON("sup-lakeside", string(pool.ID), from.String(), to.String(), 500, "75", string(contract.PenaltySlidingScale), "monthly")); err != nil {
		return err
	}

	// The season is over; persist the expiry the listing would derive.
	_, err = h.Lifecycle.Run(ctx, h.now())
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createPoolFromJSON(ctx context.Context, actor generic.Actor, jsonStr string) (*inventory.Pool, error) {
	var pj factory.PoolJSON
	if err := factory.Parse(jsonStr, &pj); err != nil {
		return nil, fmt.Errorf("parse pool: %w", err)
	}
	pool, variants, err := pj.ToDomain()
	if err != nil {
		return nil, err
	}
	created, err := h.Pools.Create(ctx, actor, pool, variants)
	if err != nil {
		return nil, fmt.Errorf("create pool %s: %w", pool.ID, err)
	}
	return &created.Pool, nil
}

func (h *Handler) createRatePlanFromJSON(ctx context.Context, actor generic.Actor, jsonStr string) (*inventory.RatePlan, error) {
	var rj factory.RatePlanJSON
	if err := factory.Parse(jsonStr, &rj); err != nil {
		return nil, fmt.Errorf("parse rate plan: %w", err)
	}
	rp, err := rj.ToDomain()
	if err != nil {
		return nil, err
	}
	return h.Pools.CreateRatePlan(ctx, actor, rp)
}

func (h *Handler) createVersionFromJSON(ctx context.Context, actor generic.Actor, contractID, jsonStr string) (*contract.Version, error) {
	var cj factory.ContractVersionJSON
	if err := factory.Parse(jsonStr, &cj); err != nil {
		return nil, fmt.Errorf("parse contract version: %w", err)
	}
	v, err := cj.ToDomain()
	if err != nil {
		return nil, err
	}
	v.ContractID = contractID
	return h.Versions.Create(ctx, actor, v)
}
