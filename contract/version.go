/*
Package contract manages supplier contract versions and evaluates attrition
against them.

PURPOSE:
  A supplier contract is agreed in versions, each valid for a date range and
  carrying the commercial terms in force during it. When a version commits
  the buyer to a minimum pickup, attrition is the penalty charged for the
  committed inventory that went unused.

KEY CONCEPTS:
  - Version: one dated set of terms for a contract
  - Status: Future / Current / Expired, derived from the validity on every call
  - Evaluator: pickup -> shortfall -> penalty, with a pluggable sliding scale
  - Bulk: all-or-nothing delete / duplicate / update with per-item outcomes

SEE ALSO:
  - attrition.go: Shortfall and penalty computation
  - bulk.go: Bulk operations
  - generic/period.go: Attrition windows
*/
package contract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// VERSION
// =============================================================================

type PenaltyCalculation string

const (
	PenaltyPayForUnused PenaltyCalculation = "pay_for_unused"
	PenaltySlidingScale PenaltyCalculation = "sliding_scale"
	PenaltyFixedFee     PenaltyCalculation = "fixed_fee"
)

func (p PenaltyCalculation) Valid() bool {
	switch p {
	case PenaltyPayForUnused, PenaltySlidingScale, PenaltyFixedFee:
		return true
	}
	return false
}

type AttritionPeriodType string

const (
	AttritionMonthly  AttritionPeriodType = "monthly"
	AttritionSeasonal AttritionPeriodType = "seasonal"
	AttritionEvent    AttritionPeriodType = "event"
)

func (a AttritionPeriodType) Valid() bool {
	switch a {
	case AttritionMonthly, AttritionSeasonal, AttritionEvent:
		return true
	}
	return false
}

// PeriodConfig cuts the version's validity into attrition windows.
// Seasonal and event attrition settle over the whole validity.
func (a AttritionPeriodType) PeriodConfig(bounds generic.Period) generic.PeriodConfig {
	if a == AttritionMonthly {
		return generic.PeriodConfig{Type: generic.PeriodMonthly, Bounds: bounds}
	}
	return generic.PeriodConfig{Type: generic.PeriodWhole, Bounds: bounds}
}

type Status string

const (
	StatusFuture  Status = "future"
	StatusCurrent Status = "current"
	StatusExpired Status = "expired"
)

// Version is one dated set of contract terms.
type Version struct {
	ID         string
	TenantID   generic.TenantID
	ContractID string
	SupplierID generic.SupplierID
	PoolID     generic.PoolID // optional: the pool whose bookings count as pickup
	Number     int
	Name       string
	Validity   generic.Period

	AttritionApplies     bool
	CommittedQuantity    *int64
	MinimumPickupPercent *decimal.Decimal
	PenaltyCalculation   PenaltyCalculation
	GraceAllowance       int64
	AttritionPeriodType  AttritionPeriodType
	CostPerUnit          *decimal.Decimal
	FixedFee             *decimal.Decimal
	Currency             string

	Terms     generic.Attributes
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusAt is recomputed on every call; it is never stored. Validity is
// [Start, End): the version is expired on its valid_to day.
func (v Version) StatusAt(now generic.TimePoint) Status {
	switch {
	case now.Before(v.Validity.Start):
		return StatusFuture
	case !now.Before(v.Validity.End):
		return StatusExpired
	}
	return StatusCurrent
}

// Validate checks the version before any write. A version whose attrition
// applies must carry the four attrition fields.
func (v Version) Validate() error {
	if v.TenantID == "" {
		return generic.ErrTenantRequired
	}
	if err := v.Validity.Validate(); err != nil {
		return err
	}
	if !v.Validity.End.After(v.Validity.Start) {
		return fmt.Errorf("%w: valid_to must be after valid_from", generic.ErrInvalidDateRange)
	}
	if err := v.AttritionConfig(); err != nil {
		return err
	}

	ve := generic.NewValidationError()
	if v.ContractID == "" {
		ve.Add("contract_id", "is required")
	}
	if v.SupplierID == "" {
		ve.Add("supplier_id", "is required")
	}
	if v.CommittedQuantity != nil && *v.CommittedQuantity <= 0 {
		ve.Add("committed_quantity", "must be positive")
	}
	if p := v.MinimumPickupPercent; p != nil && (p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100))) {
		ve.Add("minimum_pickup_percent", "must be between 0 and 100")
	}
	if v.PenaltyCalculation != "" && !v.PenaltyCalculation.Valid() {
		ve.Add("penalty_calculation", fmt.Sprintf("unknown strategy %q", v.PenaltyCalculation))
	}
	if v.AttritionPeriodType != "" && !v.AttritionPeriodType.Valid() {
		ve.Add("attrition_period_type", fmt.Sprintf("unknown period type %q", v.AttritionPeriodType))
	}
	if v.GraceAllowance < 0 {
		ve.Add("grace_allowance", "must not be negative")
	}
	if v.CostPerUnit != nil && v.CostPerUnit.IsNegative() {
		ve.Add("cost_per_unit", "must not be negative")
	}
	if v.FixedFee != nil && v.FixedFee.IsNegative() {
		ve.Add("fixed_fee", "must not be negative")
	}
	var attrErr *generic.ValidationError
	if errors.As(generic.ValidateAttributes(v.Terms), &attrErr) {
		for f, m := range attrErr.Fields {
			ve.Add(f, m)
		}
	}
	return ve.OrNil()
}

// AttritionConfig reports the required attrition fields that are missing.
// It is nil when attrition does not apply.
func (v Version) AttritionConfig() error {
	if !v.AttritionApplies {
		return nil
	}
	var missing []string
	if v.CommittedQuantity == nil {
		missing = append(missing, "committed_quantity")
	}
	if v.MinimumPickupPercent == nil {
		missing = append(missing, "minimum_pickup_percent")
	}
	if v.PenaltyCalculation == "" {
		missing = append(missing, "penalty_calculation")
	}
	if v.AttritionPeriodType == "" {
		missing = append(missing, "attrition_period_type")
	}
	if len(missing) > 0 {
		return &generic.AttritionConfigError{Missing: missing}
	}
	return nil
}

// CheckOverlap returns ErrVersionOverlap when v shares a day with another
// version of the same contract. A version may start on the day the
// previous one ends.
func CheckOverlap(v Version, siblings []Version) error {
	for _, other := range siblings {
		if other.ID == v.ID || other.ContractID != v.ContractID {
			continue
		}
		if other.Validity.OverlapsHalfOpen(v.Validity) {
			return fmt.Errorf("%w: version %d covers %s", generic.ErrVersionOverlap, other.Number, other.Validity)
		}
	}
	return nil
}

// OrderVersions sorts versions by start date.
func OrderVersions(vs []Version) []Version {
	out := make([]Version, len(vs))
	copy(out, vs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Validity.Start.Before(out[j].Validity.Start)
	})
	return out
}

// TermsSchema describes the free-form commercial terms attached to a version.
var TermsSchema = generic.AttributeSchema{
	Category: "contract_terms",
	Version:  1,
	Fields: []generic.AttributeField{
		{Name: "payment_terms_days", Kind: generic.AttrInt},
		{Name: "deposit_percent", Kind: generic.AttrDecimal},
		{Name: "cancellation_policy", Kind: generic.AttrEnum, Enum: []string{"flexible", "moderate", "strict", "non_refundable"}},
		{Name: "release_days", Kind: generic.AttrInt},
		{Name: "rate_basis", Kind: generic.AttrString},
	},
}

func init() {
	generic.RegisterSchema(TermsSchema)
}

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository interface {
	LoadContractVersion(ctx context.Context, tenant generic.TenantID, id string) (*Version, error)
	SaveContractVersion(ctx context.Context, v Version) error
	DeleteContractVersion(ctx context.Context, tenant generic.TenantID, id string) error

	// ListContractVersions returns the versions of one contract ordered by
	// valid_from.
	ListContractVersions(ctx context.Context, tenant generic.TenantID, contractID string) ([]Version, error)

	generic.AuditLog

	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// VERSION SERVICE
// =============================================================================

type VersionService struct {
	Repo Repository
	Now  func() time.Time
}

func NewVersionService(repo Repository) *VersionService {
	return &VersionService{Repo: repo, Now: time.Now}
}

func (s *VersionService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Create validates and stores a new version. The version number defaults
// to one past the highest existing number of the contract.
func (s *VersionService) Create(ctx context.Context, actor generic.Actor, v Version) (*Version, error) {
	v.TenantID = actor.TenantID
	if v.ID == "" {
		v.ID = newID()
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		return s.create(ctx, repo, actor, &v)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(logger.WithFields(ctx, map[string]any{"contract_id": v.ContractID, "version_id": v.ID}), "contract version created")
	return &v, nil
}

func (s *VersionService) create(ctx context.Context, repo Repository, actor generic.Actor, v *Version) error {
	siblings, err := repo.ListContractVersions(ctx, actor.TenantID, v.ContractID)
	if err != nil {
		return err
	}
	if err := CheckOverlap(*v, siblings); err != nil {
		return err
	}
	if v.Number == 0 {
		for _, sib := range siblings {
			if sib.Number > v.Number {
				v.Number = sib.Number
			}
		}
		v.Number++
	}
	now := s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	if err := repo.SaveContractVersion(ctx, *v); err != nil {
		return err
	}
	return audit(ctx, repo, actor, generic.AuditVersionSaved, v.ID, now, map[string]any{
		"contract_id": v.ContractID,
		"number":      v.Number,
		"created":     true,
	})
}

func (s *VersionService) Get(ctx context.Context, tenant generic.TenantID, id string) (*Version, error) {
	return s.Repo.LoadContractVersion(ctx, tenant, id)
}

func (s *VersionService) List(ctx context.Context, tenant generic.TenantID, contractID string) ([]Version, error) {
	vs, err := s.Repo.ListContractVersions(ctx, tenant, contractID)
	if err != nil {
		return nil, err
	}
	return OrderVersions(vs), nil
}

// Update replaces a version's terms. The contract and number are kept.
func (s *VersionService) Update(ctx context.Context, actor generic.Actor, v Version) (*Version, error) {
	v.TenantID = actor.TenantID
	var saved Version
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		var err error
		saved, err = s.update(ctx, repo, actor, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *VersionService) update(ctx context.Context, repo Repository, actor generic.Actor, v Version) (Version, error) {
	current, err := repo.LoadContractVersion(ctx, actor.TenantID, v.ID)
	if err != nil {
		return Version{}, err
	}
	v.ContractID = current.ContractID
	v.Number = current.Number
	v.CreatedAt = current.CreatedAt
	if err := v.Validate(); err != nil {
		return Version{}, err
	}
	siblings, err := repo.ListContractVersions(ctx, actor.TenantID, v.ContractID)
	if err != nil {
		return Version{}, err
	}
	if err := CheckOverlap(v, siblings); err != nil {
		return Version{}, err
	}
	v.UpdatedAt = s.now()
	if err := repo.SaveContractVersion(ctx, v); err != nil {
		return Version{}, err
	}
	return v, audit(ctx, repo, actor, generic.AuditVersionSaved, v.ID, v.UpdatedAt, map[string]any{
		"contract_id": v.ContractID,
		"number":      v.Number,
	})
}

func (s *VersionService) Delete(ctx context.Context, actor generic.Actor, id string) error {
	return s.Repo.WithTx(ctx, func(repo Repository) error {
		return s.delete(ctx, repo, actor, id)
	})
}

func (s *VersionService) delete(ctx context.Context, repo Repository, actor generic.Actor, id string) error {
	if err := repo.DeleteContractVersion(ctx, actor.TenantID, id); err != nil {
		return err
	}
	return audit(ctx, repo, actor, generic.AuditVersionDeleted, id, s.now(), nil)
}

// Duplicate copies a version into the period immediately following it.
func (s *VersionService) Duplicate(ctx context.Context, actor generic.Actor, id string) (*Version, error) {
	var created Version
	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		var err error
		created, err = s.duplicate(ctx, repo, actor, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *VersionService) duplicate(ctx context.Context, repo Repository, actor generic.Actor, id string) (Version, error) {
	src, err := repo.LoadContractVersion(ctx, actor.TenantID, id)
	if err != nil {
		return Version{}, err
	}
	v := *src
	v.ID = newID()
	v.Number = 0
	v.Validity = src.Validity.FollowingPeriod()
	if err := v.Validate(); err != nil {
		return Version{}, err
	}
	if err := s.create(ctx, repo, actor, &v); err != nil {
		return Version{}, err
	}
	return v, nil
}

func newID() string { return uuid.NewString() }

func audit(ctx context.Context, repo Repository, actor generic.Actor, action generic.AuditAction, id string, at time.Time, payload map[string]any) error {
	return repo.AppendAudit(ctx, generic.AuditEntry{
		ID:        newID(),
		TenantID:  actor.TenantID,
		Timestamp: at,
		ActorID:   actor.ID,
		Action:    action,
		Subject:   "contract_version:" + id,
		Payload:   payload,
	})
}
