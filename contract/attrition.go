package contract

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// SLIDING SCALE - How a shortfall ratio becomes a per-unit multiplier
// =============================================================================

// SlidingScale maps the shortfall ratio (shortfall / committed) to the
// multiplier applied to shortfall x cost. The curve is a commercial policy,
// so it is injected rather than fixed.
type SlidingScale interface {
	Multiplier(ratio decimal.Decimal) decimal.Decimal
}

// LinearScale charges the ratio itself: larger relative shortfalls pay
// proportionally more per unit.
type LinearScale struct{}

func (LinearScale) Multiplier(ratio decimal.Decimal) decimal.Decimal { return ratio }

// ScaleTier applies Multiplier once the ratio reaches MinRatio.
type ScaleTier struct {
	MinRatio   decimal.Decimal
	Multiplier decimal.Decimal
}

// TieredScale picks the highest tier whose MinRatio the ratio reaches.
// Below the first tier nothing is charged.
type TieredScale struct {
	Tiers []ScaleTier
}

func (s TieredScale) Multiplier(ratio decimal.Decimal) decimal.Decimal {
	tiers := make([]ScaleTier, len(s.Tiers))
	copy(tiers, s.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinRatio.LessThan(tiers[j].MinRatio) })

	m := decimal.Zero
	for _, t := range tiers {
		if ratio.GreaterThanOrEqual(t.MinRatio) {
			m = t.Multiplier
		}
	}
	return m
}

// =============================================================================
// EVALUATOR
// =============================================================================

// Input is the pickup being evaluated. CostPerUnit overrides the version's
// cost when set (e.g. sourced from the pool variant).
type Input struct {
	ActualPickup decimal.Decimal
	CostPerUnit  *decimal.Decimal
}

// Result is the attrition outcome for one version (or one window of it).
type Result struct {
	Strategy       PenaltyCalculation
	Committed      int64
	ActualPickup   decimal.Decimal
	PickupPercent  decimal.Decimal
	RequiredPickup decimal.Decimal
	RawShortfall   decimal.Decimal
	GraceAllowance int64
	ShortfallUnits decimal.Decimal
	ShortfallRatio decimal.Decimal
	CostPerUnit    *decimal.Decimal
	Penalty        decimal.Decimal
	Currency       string
}

var hundred = decimal.NewFromInt(100)

type Evaluator struct {
	Scale SlidingScale // nil = LinearScale
}

func (e Evaluator) scale() SlidingScale {
	if e.Scale == nil {
		return LinearScale{}
	}
	return e.Scale
}

// Evaluate computes pickup, shortfall and penalty:
//
//	required  = committed x minimum% / 100
//	raw       = max(0, required - actual)
//	shortfall = max(0, raw - grace)
//	ratio     = shortfall / committed
func (e Evaluator) Evaluate(v Version, in Input) (*Result, error) {
	if !v.AttritionApplies {
		return nil, generic.ErrAttritionNotApplicable
	}
	if err := v.AttritionConfig(); err != nil {
		return nil, err
	}
	if *v.CommittedQuantity <= 0 {
		return nil, fmt.Errorf("%w: committed quantity must be positive", generic.ErrValidation)
	}

	cost := v.CostPerUnit
	if in.CostPerUnit != nil {
		cost = in.CostPerUnit
	}
	switch v.PenaltyCalculation {
	case PenaltyPayForUnused, PenaltySlidingScale:
		if cost == nil {
			return nil, &generic.AttritionConfigError{Missing: []string{"cost_per_unit"}}
		}
	case PenaltyFixedFee:
		if v.FixedFee == nil {
			return nil, &generic.AttritionConfigError{Missing: []string{"fixed_fee"}}
		}
	}

	committed := decimal.NewFromInt(*v.CommittedQuantity)
	actual := in.ActualPickup
	if actual.IsNegative() {
		actual = decimal.Zero
	}
	required := committed.Mul(*v.MinimumPickupPercent).Div(hundred)
	raw := nonNegative(required.Sub(actual))
	short := nonNegative(raw.Sub(decimal.NewFromInt(v.GraceAllowance)))
	ratio := short.Div(committed)

	r := &Result{
		Strategy:       v.PenaltyCalculation,
		Committed:      *v.CommittedQuantity,
		ActualPickup:   actual,
		PickupPercent:  actual.Div(committed).Mul(hundred).Round(2),
		RequiredPickup: required,
		RawShortfall:   raw,
		GraceAllowance: v.GraceAllowance,
		ShortfallUnits: short,
		ShortfallRatio: ratio.Round(4),
		CostPerUnit:    cost,
		Penalty:        decimal.Zero,
		Currency:       v.Currency,
	}

	switch v.PenaltyCalculation {
	case PenaltyPayForUnused:
		r.Penalty = short.Mul(*cost)
	case PenaltySlidingScale:
		r.Penalty = short.Mul(*cost).Mul(e.scale().Multiplier(ratio))
	case PenaltyFixedFee:
		if short.IsPositive() {
			r.Penalty = *v.FixedFee
		}
	}
	r.Penalty = r.Penalty.Round(2)
	return r, nil
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// ATTRITION SERVICE - Pickup read back from the linked pool
// =============================================================================

// PickupSource supplies the booked consumption of a pool. Implemented by
// inventory.UtilizationService.
type PickupSource interface {
	BookedBetween(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID, period generic.Period) (decimal.Decimal, error)
	HighestPriorityCost(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID) (*decimal.Decimal, error)
}

type AttritionService struct {
	Repo      Repository
	Pickup    PickupSource // optional
	Evaluator Evaluator
	Now       func() time.Time
}

func NewAttritionService(repo Repository, pickup PickupSource, scale SlidingScale) *AttritionService {
	return &AttritionService{Repo: repo, Pickup: pickup, Evaluator: Evaluator{Scale: scale}, Now: time.Now}
}

// Request selects what to evaluate. With no ActualPickup the booked
// consumption of the version's pool is used; with no AsOf the whole
// validity is evaluated.
type Request struct {
	VersionID    string
	ActualPickup *decimal.Decimal
	AsOf         *generic.TimePoint
}

// Report is an evaluation together with the window it covers.
type Report struct {
	Version Version
	Status  Status
	Window  generic.Period
	Result  Result
}

func (s *AttritionService) Evaluate(ctx context.Context, tenant generic.TenantID, req Request) (*Report, error) {
	v, err := s.Repo.LoadContractVersion(ctx, tenant, req.VersionID)
	if err != nil {
		return nil, err
	}
	if err := v.AttritionConfig(); err != nil {
		return nil, err
	}
	if !v.AttritionApplies {
		return nil, generic.ErrAttritionNotApplicable
	}

	window := v.Validity
	if req.AsOf != nil {
		window = v.AttritionPeriodType.PeriodConfig(v.Validity).PeriodFor(*req.AsOf)
	}

	in := Input{}
	switch {
	case req.ActualPickup != nil:
		in.ActualPickup = *req.ActualPickup
	case v.PoolID != "" && s.Pickup != nil:
		in.ActualPickup, err = s.Pickup.BookedBetween(ctx, tenant, v.PoolID, window)
		if err != nil {
			return nil, fmt.Errorf("read pickup: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: actual pickup is required when the version has no pool", generic.ErrValidation)
	}
	if v.CostPerUnit == nil && v.PoolID != "" && s.Pickup != nil {
		in.CostPerUnit, err = s.Pickup.HighestPriorityCost(ctx, tenant, v.PoolID)
		if err != nil {
			return nil, fmt.Errorf("read variant cost: %w", err)
		}
	}

	res, err := s.Evaluator.Evaluate(*v, in)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	logger.Debug(logger.WithFields(ctx, map[string]any{
		"version_id": v.ID,
		"shortfall":  res.ShortfallUnits.String(),
		"penalty":    res.Penalty.String(),
	}), "attrition evaluated")
	return &Report{Version: *v, Status: v.StatusAt(generic.DateOf(now)), Window: window, Result: *res}, nil
}

// EvaluateWindows evaluates every attrition window of the version against
// the pool's bookings. Monthly versions get one row per calendar month;
// the committed quantity applies to each window.
func (s *AttritionService) EvaluateWindows(ctx context.Context, tenant generic.TenantID, versionID string) ([]Report, error) {
	v, err := s.Repo.LoadContractVersion(ctx, tenant, versionID)
	if err != nil {
		return nil, err
	}
	if err := v.AttritionConfig(); err != nil {
		return nil, err
	}
	if !v.AttritionApplies {
		return nil, generic.ErrAttritionNotApplicable
	}
	windows := v.AttritionPeriodType.PeriodConfig(v.Validity).Windows()
	reports := make([]Report, 0, len(windows))
	for _, w := range windows {
		start := w.Start
		r, err := s.Evaluate(ctx, tenant, Request{VersionID: versionID, AsOf: &start})
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}
