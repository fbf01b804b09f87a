package contract_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/store/sqlite"
)

var (
	tenant = generic.TenantID("org-1")
	actor  = generic.Actor{TenantID: tenant, ID: "ops-1", Kind: "operator"}
	now    = func() time.Time { return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC) }
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newVersions(t *testing.T, s *sqlite.Store) *contract.VersionService {
	svc := contract.NewVersionService(s.Contracts())
	svc.Now = now
	return svc
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func period(from, to string) generic.Period {
	return generic.NewPeriod(generic.MustDate(from), generic.MustDate(to))
}

func version(contractID string, validity generic.Period) contract.Version {
	return contract.Version{
		ContractID: contractID,
		SupplierID: "sup-1",
		Name:       "Summer terms",
		Validity:   validity,
		Currency:   "EUR",
	}
}

// =============================================================================
// VERSIONS
// =============================================================================

func TestVersionService_NumbersAndOverlap(t *testing.T) {
	ctx := context.Background()
	svc := newVersions(t, newStore(t))

	// GIVEN: A first half-year version
	first, err := svc.Create(ctx, actor, version("ctr-1", period("2025-01-01", "2025-06-30")))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Number)

	// WHEN: A second version overlaps it by one day
	_, err = svc.Create(ctx, actor, version("ctr-1", period("2025-06-29", "2025-12-31")))

	// THEN: Rejected
	assert.ErrorIs(t, err, generic.ErrVersionOverlap)

	// AND: A version starting on the first one's valid_to and another contract are fine
	second, err := svc.Create(ctx, actor, version("ctr-1", period("2025-06-30", "2025-12-31")))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Number)
	other, err := svc.Create(ctx, actor, version("ctr-2", period("2025-03-01", "2025-09-30")))
	require.NoError(t, err)
	assert.Equal(t, 1, other.Number)

	list, err := svc.List(ctx, tenant, "ctr-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestVersionService_DuplicateFollowsOn(t *testing.T) {
	ctx := context.Background()
	svc := newVersions(t, newStore(t))
	src, err := svc.Create(ctx, actor, version("ctr-1", period("2025-01-01", "2025-03-31")))
	require.NoError(t, err)

	dup, err := svc.Duplicate(ctx, actor, src.ID)

	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, 2, dup.Number)
	assert.Equal(t, "2025-03-31", dup.Validity.Start.String())
	assert.Equal(t, src.Validity.DayCount(), dup.Validity.DayCount())
}

func TestVersionService_UpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	svc := newVersions(t, newStore(t))
	created, err := svc.Create(ctx, actor, version("ctr-1", period("2025-01-01", "2025-06-30")))
	require.NoError(t, err)

	edit := *created
	edit.ContractID = "ctr-other"
	edit.Number = 42
	edit.Notes = "renegotiated"
	updated, err := svc.Update(ctx, actor, edit)

	require.NoError(t, err)
	assert.Equal(t, "ctr-1", updated.ContractID)
	assert.Equal(t, 1, updated.Number)

	got, err := svc.Get(ctx, tenant, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "renegotiated", got.Notes)

	require.NoError(t, svc.Delete(ctx, actor, created.ID))
	_, err = svc.Get(ctx, tenant, created.ID)
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// BULK
// =============================================================================

func TestBulk_PrecheckFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	svc := newVersions(t, s)
	a, err := svc.Create(ctx, actor, version("ctr-1", period("2025-01-01", "2025-03-31")))
	require.NoError(t, err)

	// WHEN: Deleting one real and one unknown version
	res, err := svc.Bulk(ctx, actor, contract.BulkDelete, []contract.BulkItem{{VersionID: a.ID}, {VersionID: "missing"}})

	// THEN: Nothing is applied and each item says why
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, 1, res.Failed())
	assert.Equal(t, contract.OutcomeSkipped, res.Items[0].Status)
	assert.Equal(t, contract.OutcomeFailed, res.Items[1].Status)
	assert.True(t, generic.IsNotFound(res.Items[1].Err))

	_, err = svc.Get(ctx, tenant, a.ID)
	assert.NoError(t, err, "the valid item was not deleted")
}

func TestBulk_FailureInsideTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	svc := newVersions(t, s)
	a, err := svc.Create(ctx, actor, version("ctr-1", period("2025-01-01", "2025-03-31")))
	require.NoError(t, err)
	b, err := svc.Create(ctx, actor, version("ctr-1", period("2025-04-01", "2025-06-30")))
	require.NoError(t, err)

	// WHEN: Duplicating b (free slot) and then a (lands on b)
	res, err := svc.Bulk(ctx, actor, contract.BulkDuplicate, []contract.BulkItem{{VersionID: b.ID}, {VersionID: a.ID}})

	// THEN: The whole batch is rolled back
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, contract.OutcomeSkipped, res.Items[0].Status)
	assert.Empty(t, res.Items[0].ResultID)
	assert.Equal(t, contract.OutcomeFailed, res.Items[1].Status)
	assert.ErrorIs(t, res.Items[1].Err, generic.ErrVersionOverlap)

	list, err := svc.List(ctx, tenant, "ctr-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestBulk_AppliesEveryItem(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	svc := newVersions(t, s)
	a, err := svc.Create(ctx, actor, version("ctr-1", period("2025-01-01", "2025-03-31")))
	require.NoError(t, err)
	b, err := svc.Create(ctx, actor, version("ctr-2", period("2025-01-01", "2025-03-31")))
	require.NoError(t, err)

	res, err := svc.Bulk(ctx, actor, contract.BulkDuplicate, []contract.BulkItem{{VersionID: a.ID}, {VersionID: b.ID}})

	require.NoError(t, err)
	assert.True(t, res.Applied)
	for _, it := range res.Items {
		assert.Equal(t, contract.OutcomeApplied, it.Status)
		assert.NotEmpty(t, it.ResultID)
	}

	entries, err := s.Contracts().QueryAudit(ctx, generic.AuditFilter{
		TenantID: tenant,
		Actions:  []generic.AuditAction{generic.AuditBulkOperation},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBulk_RejectsMalformedRequests(t *testing.T) {
	svc := newVersions(t, newStore(t))

	_, err := svc.Bulk(context.Background(), actor, "archive", []contract.BulkItem{{VersionID: "x"}})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = svc.Bulk(context.Background(), actor, contract.BulkDelete, nil)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// ATTRITION AGAINST POOL PICKUP
// =============================================================================

func TestAttritionService_ReadsPickupFromPool(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// GIVEN: A pool with one standard variant costing 80 per unit
	total := int64(100)
	pools := inventory.NewPoolService(s)
	_, err := pools.Create(ctx, actor, inventory.Pool{
		ID:            "block",
		SupplierID:    "sup-1",
		Name:          "Summer block",
		Type:          inventory.PoolCommitted,
		Validity:      period("2025-07-01", "2025-08-31"),
		TotalCapacity: &total,
	}, []inventory.PoolVariant{
		{VariantID: "std", CapacityWeight: decimal.NewFromInt(1), CostPerUnit: dec("80"), Priority: 1, AutoAllocate: true},
	})
	require.NoError(t, err)

	// AND: 30 rooms booked in July and 20 in August
	allocations := inventory.NewAllocationService(s, nil)
	allocations.Now = now
	for date, units := range map[string]int64{"2025-07-10": 30, "2025-08-05": 20} {
		_, err := allocations.Allocate(ctx, actor, inventory.AllocationRequest{
			PoolID: "block", VariantID: "std", From: generic.MustDate(date), Units: units,
		})
		require.NoError(t, err)
	}

	// AND: A monthly commitment of 40 at 90%
	v := version("ctr-1", period("2025-07-01", "2025-08-31"))
	v.PoolID = "block"
	v.AttritionApplies = true
	v.CommittedQuantity = &[]int64{40}[0]
	v.MinimumPickupPercent = dec("90")
	v.PenaltyCalculation = contract.PenaltyPayForUnused
	v.AttritionPeriodType = contract.AttritionMonthly
	created, err := newVersions(t, s).Create(ctx, actor, v)
	require.NoError(t, err)

	svc := contract.NewAttritionService(s.Contracts(), inventory.NewUtilizationService(s), nil)
	svc.Now = now

	// WHEN: Evaluating every window
	reports, err := svc.EvaluateWindows(ctx, tenant, created.ID)

	// THEN: July is 6 short and August 16 short, at the variant cost
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Result.ShortfallUnits.Equal(decimal.NewFromInt(6)))
	assert.True(t, reports[0].Result.Penalty.Equal(decimal.NewFromInt(480)))
	assert.True(t, reports[1].Result.ActualPickup.Equal(decimal.NewFromInt(20)))
	assert.True(t, reports[1].Result.Penalty.Equal(decimal.NewFromInt(1280)))
	assert.Equal(t, contract.StatusFuture, reports[0].Status)

	// WHEN: The caller supplies the pickup
	override, err := svc.Evaluate(ctx, tenant, contract.Request{VersionID: created.ID, ActualPickup: dec("40")})
	require.NoError(t, err)
	assert.True(t, override.Result.Penalty.IsZero())
	assert.Equal(t, "2025-07-01", override.Window.Start.String())
}

func TestAttritionService_NotApplicable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	created, err := newVersions(t, s).Create(ctx, actor, version("ctr-1", period("2025-01-01", "2025-06-30")))
	require.NoError(t, err)

	svc := contract.NewAttritionService(s.Contracts(), nil, nil)
	_, err = svc.Evaluate(ctx, tenant, contract.Request{VersionID: created.ID, ActualPickup: dec("10")})

	assert.ErrorIs(t, err, generic.ErrAttritionNotApplicable)
}
