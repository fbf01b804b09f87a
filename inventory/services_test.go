package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/store/sqlite"
)

var (
	tenant = generic.TenantID("org-1")
	actor  = generic.Actor{TenantID: tenant, ID: "ops-1", Kind: "operator"}
	today  = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	day    = generic.MustDate("2025-07-10")
)

func clock() time.Time { return today }

type fixture struct {
	store       *sqlite.Store
	pools       *inventory.PoolService
	allocations *inventory.AllocationService
	generation  *inventory.GenerationService
	utilization *inventory.UtilizationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:       store,
		pools:       inventory.NewPoolService(store),
		allocations: inventory.NewAllocationService(store, nil),
		generation:  inventory.NewGenerationService(store),
		utilization: inventory.NewUtilizationService(store),
	}
	f.pools.Now = clock
	f.allocations.Now = clock
	f.generation.Now = clock
	return f
}

// hotelPool creates 100 rooms with a standard (1.0, priority 10) and a
// suite (1.5, priority 20) variant.
func (f *fixture) hotelPool(t *testing.T, mutate func(*inventory.Pool)) inventory.Pool {
	t.Helper()
	total := int64(100)
	pool := inventory.Pool{
		ID:            "seaside",
		SupplierID:    "sup-1",
		Name:          "Seaside summer block",
		Type:          inventory.PoolCommitted,
		Validity:      generic.NewPeriod(generic.MustDate("2025-07-01"), generic.MustDate("2025-08-31")),
		TotalCapacity: &total,
		CapacityUnit:  "rooms",
	}
	if mutate != nil {
		mutate(&pool)
	}
	created, err := f.pools.Create(context.Background(), actor, pool, []inventory.PoolVariant{
		{VariantID: "std", CapacityWeight: decimal.NewFromInt(1), Priority: 10, AutoAllocate: true, Status: inventory.VariantActive},
		{VariantID: "suite", CapacityWeight: decimal.RequireFromString("1.5"), Priority: 20, AutoAllocate: true, Status: inventory.VariantActive},
	})
	require.NoError(t, err)
	return created.Pool
}

func (f *fixture) book(variant generic.VariantID, units int64) (*inventory.Allocation, error) {
	return f.allocations.Allocate(context.Background(), actor, inventory.AllocationRequest{
		PoolID:    "seaside",
		VariantID: variant,
		From:      day,
		Units:     units,
	})
}

// =============================================================================
// ALLOCATION
// =============================================================================

func TestAllocate_WeightedConsumptionAgainstPool(t *testing.T) {
	f := newFixture(t)
	f.hotelPool(t, nil)

	// GIVEN: 60 standard rooms and 20 suites sold (60 + 30 = 90 units)
	_, err := f.book("std", 60)
	require.NoError(t, err)
	alloc, err := f.book("suite", 20)
	require.NoError(t, err)
	assert.True(t, alloc.CapacityUnits.Equal(decimal.NewFromInt(30)))
	require.Len(t, alloc.Dates, 1)
	assert.True(t, alloc.Dates[0].Consumed.Equal(decimal.NewFromInt(90)))
	assert.True(t, alloc.Dates[0].Remaining.Equal(decimal.NewFromInt(10)))

	// WHEN: 8 more suites are requested (12 units)
	_, err = f.book("suite", 8)

	// THEN: Rejected with the shortfall
	var capErr *generic.InsufficientCapacityError
	require.True(t, errors.As(err, &capErr))
	assert.True(t, capErr.Requested.Equal(decimal.NewFromInt(12)))
	assert.True(t, capErr.Available.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, generic.PoolID("seaside"), capErr.PoolID)
}

func TestAllocate_ConcurrentRequestsNeverExceedCapacity(t *testing.T) {
	f := newFixture(t)
	f.hotelPool(t, nil)

	// GIVEN: 40 callers each asking for 3 standard rooms (120 > 100)
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.book("std", 3)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, generic.ErrInsufficientCapacity):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly 33 fit and the pool stays within its total
	assert.Equal(t, int64(33), accepted.Load())
	assert.Equal(t, int64(7), rejected.Load())

	report, err := f.utilization.PoolUtilization(context.Background(), tenant, "seaside", day, day)
	require.NoError(t, err)
	assert.True(t, report.Days[0].Consumed.Equal(decimal.NewFromInt(99)))
}

func TestAllocate_BucketOverbookingLimitAddsHeadroom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, nil)
	_, err := f.book("std", 60)
	require.NoError(t, err)
	_, err = f.book("suite", 20)
	require.NoError(t, err)

	// GIVEN: A suite bucket allowing 2 units of overbooking
	plan, err := f.pools.CreateRatePlan(ctx, actor, inventory.RatePlan{
		PoolID:    "seaside",
		VariantID: "suite",
		Validity:  generic.NewPeriod(generic.MustDate("2025-07-01"), generic.MustDate("2025-07-31")),
	})
	require.NoError(t, err)
	_, err = f.generation.Generate(ctx, actor, inventory.GenerationRequest{RatePlanID: plan.ID, DefaultDailyQuantity: 40})
	require.NoError(t, err)
	allow, limit := true, int64(2)
	bucketID := inventory.BucketID(tenant, "suite", "sup-1", inventory.DailySpan{Date: day}, "")
	_, err = f.pools.EditBucket(ctx, actor, bucketID, inventory.BucketPatch{AllowOverbooking: &allow, OverbookingLimit: &limit})
	require.NoError(t, err)

	// WHEN: 8 suites are requested again
	alloc, err := f.book("suite", 8)

	// THEN: They fit at 102 units and the bucket counts follow
	require.NoError(t, err)
	assert.True(t, alloc.Dates[0].Consumed.Equal(decimal.NewFromInt(102)))
	assert.Equal(t, bucketID, alloc.Dates[0].BucketID)

	b, err := f.store.LoadBucket(ctx, tenant, bucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), b.Booked)
}

func TestAllocate_PicksVariantByPriority(t *testing.T) {
	f := newFixture(t)
	f.hotelPool(t, nil)

	alloc, err := f.book("", 5)

	require.NoError(t, err)
	assert.Equal(t, generic.VariantID("std"), alloc.VariantID)
	assert.Equal(t, generic.TxBooking, alloc.Type)
}

func TestAllocate_HoldConfirmRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, nil)

	// GIVEN: A two-night hold of 10 standard rooms
	hold, err := f.allocations.Allocate(ctx, actor, inventory.AllocationRequest{
		PoolID:    "seaside",
		VariantID: "std",
		From:      day,
		To:        day.AddDays(1),
		Units:     10,
		Hold:      true,
	})
	require.NoError(t, err)
	assert.Len(t, hold.Transactions, 2)

	// WHEN: Confirmed
	confirmed, err := f.allocations.Confirm(ctx, actor, "seaside", hold.ID)
	require.NoError(t, err)
	assert.Len(t, confirmed.Transactions, 4, "one release and one booking per night")

	// THEN: The rooms count as booked, not held
	report, err := f.utilization.PoolUtilization(ctx, tenant, "seaside", day, day.AddDays(1))
	require.NoError(t, err)
	require.Len(t, report.Days, 2)
	for _, u := range report.Days {
		assert.True(t, u.Booked.Equal(decimal.NewFromInt(10)))
		assert.True(t, u.Held.IsZero())
	}

	// AND: A second confirm has nothing to do
	_, err = f.allocations.Confirm(ctx, actor, "seaside", hold.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	// WHEN: Released
	released, err := f.allocations.Release(ctx, actor, "seaside", hold.ID, "guest cancelled")
	require.NoError(t, err)
	for _, d := range released.Dates {
		assert.True(t, d.Consumed.IsZero())
	}

	// THEN: Releasing again is rejected and unknown IDs are not found
	_, err = f.allocations.Release(ctx, actor, "seaside", hold.ID, "")
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	_, err = f.allocations.Release(ctx, actor, "seaside", "nope", "")
	assert.True(t, generic.IsNotFound(err))
}

func TestAllocate_StopSellBucketRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, nil)
	plan, err := f.pools.CreateRatePlan(ctx, actor, inventory.RatePlan{
		PoolID:    "seaside",
		VariantID: "std",
		Validity:  generic.NewPeriod(day, day),
	})
	require.NoError(t, err)
	_, err = f.generation.Generate(ctx, actor, inventory.GenerationRequest{RatePlanID: plan.ID, DefaultDailyQuantity: 50})
	require.NoError(t, err)

	stop := true
	_, err = f.pools.EditBucket(ctx, actor, inventory.BucketID(tenant, "std", "sup-1", inventory.DailySpan{Date: day}, ""), inventory.BucketPatch{StopSell: &stop})
	require.NoError(t, err)

	_, err = f.book("std", 1)
	assert.ErrorIs(t, err, generic.ErrStopSell)

	// Priority selection falls through to the suite
	alloc, err := f.book("", 1)
	require.NoError(t, err)
	assert.Equal(t, generic.VariantID("suite"), alloc.VariantID)
}

func TestAllocate_CutoffAndValidity(t *testing.T) {
	f := newFixture(t)
	f.hotelPool(t, func(p *inventory.Pool) {
		cutoff := 30
		p.CutoffDays = &cutoff
	})

	// 2025-07-10 closed on 2025-06-10
	_, err := f.book("std", 1)
	assert.ErrorIs(t, err, generic.ErrCutoffPassed)

	_, err = f.allocations.Allocate(context.Background(), actor, inventory.AllocationRequest{
		PoolID: "seaside", VariantID: "std", From: generic.MustDate("2025-09-20"), Units: 1,
	})
	assert.ErrorIs(t, err, generic.ErrOutsideValidity)
}

func TestAllocate_RejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	f.hotelPool(t, nil)

	_, err := f.book("std", 0)
	assert.ErrorIs(t, err, generic.ErrInvalidQuantity)

	_, err = f.allocations.Allocate(context.Background(), actor, inventory.AllocationRequest{
		PoolID: "seaside", From: day, To: day.AddDays(-1), Units: 1,
	})
	assert.ErrorIs(t, err, generic.ErrInvalidDateRange)

	_, err = f.book("villa", 1)
	assert.ErrorIs(t, err, generic.ErrVariantNotFound)

	_, err = f.allocations.Allocate(context.Background(), generic.Actor{}, inventory.AllocationRequest{PoolID: "seaside", From: day, Units: 1})
	assert.ErrorIs(t, err, generic.ErrTenantRequired)
}

func TestAllocate_IdempotencyKeyIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.hotelPool(t, nil)
	req := inventory.AllocationRequest{PoolID: "seaside", VariantID: "std", From: day, Units: 3, IdempotencyKey: "booking-42"}

	_, err := f.allocations.Allocate(context.Background(), actor, req)
	require.NoError(t, err)
	_, err = f.allocations.Allocate(context.Background(), actor, req)
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	booked, err := f.utilization.BookedBetween(context.Background(), tenant, "seaside", generic.NewPeriod(day, day))
	require.NoError(t, err)
	assert.True(t, booked.Equal(decimal.NewFromInt(3)))

	// The same key from another organization is its own request.
	other := generic.Actor{TenantID: "org-2", ID: "ops-9", Kind: "operator"}
	total := int64(10)
	_, err = f.pools.Create(context.Background(), other, inventory.Pool{
		ID:            "harbour",
		SupplierID:    "sup-2",
		Name:          "Harbour block",
		Type:          inventory.PoolCommitted,
		Validity:      generic.NewPeriod(generic.MustDate("2025-07-01"), generic.MustDate("2025-08-31")),
		TotalCapacity: &total,
	}, []inventory.PoolVariant{
		{VariantID: "std", CapacityWeight: decimal.NewFromInt(1), Priority: 10, AutoAllocate: true, Status: inventory.VariantActive},
	})
	require.NoError(t, err)
	req.PoolID = "harbour"
	_, err = f.allocations.Allocate(context.Background(), other, req)
	assert.NoError(t, err)
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGenerate_RegenerationKeepsBookedBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, nil)
	plan, err := f.pools.CreateRatePlan(ctx, actor, inventory.RatePlan{
		PoolID:    "seaside",
		VariantID: "suite",
		Validity:  generic.NewPeriod(day.AddDays(-1), day.AddDays(1)),
	})
	require.NoError(t, err)

	// GIVEN: Three buckets of 10, one of which takes a booking
	first, err := f.generation.Generate(ctx, actor, inventory.GenerationRequest{RatePlanID: plan.ID, DefaultDailyQuantity: 10})
	require.NoError(t, err)
	assert.Len(t, first.Written, 3)
	_, err = f.book("suite", 2)
	require.NoError(t, err)

	// WHEN: Regenerating with 20 per day
	second, err := f.generation.Generate(ctx, actor, inventory.GenerationRequest{RatePlanID: plan.ID, DefaultDailyQuantity: 20})

	// THEN: Only the idle buckets are rewritten
	require.NoError(t, err)
	assert.Len(t, second.Written, 2)
	require.Len(t, second.Skipped, 1)

	booked, err := f.store.LoadBucket(ctx, tenant, inventory.BucketID(tenant, "suite", "sup-1", inventory.DailySpan{Date: day}, ""))
	require.NoError(t, err)
	assert.Equal(t, int64(10), *booked.Quantity)
	assert.Equal(t, int64(2), booked.Booked)

	idle, err := f.store.LoadBucket(ctx, tenant, inventory.BucketID(tenant, "suite", "sup-1", inventory.DailySpan{Date: day.AddDays(1)}, ""))
	require.NoError(t, err)
	assert.Equal(t, int64(20), *idle.Quantity)
}

func TestGenerate_InheritsInventoryModelFromPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, func(p *inventory.Pool) {
		p.Type = inventory.PoolFreesale
		p.TotalCapacity = nil
	})
	plan, err := f.pools.CreateRatePlan(ctx, actor, inventory.RatePlan{
		PoolID:    "seaside",
		VariantID: "std",
		Validity:  generic.NewPeriod(day, day.AddDays(2)),
	})
	require.NoError(t, err)

	res, err := f.generation.Generate(ctx, actor, inventory.GenerationRequest{RatePlanID: plan.ID, DefaultDailyQuantity: 10})

	require.NoError(t, err)
	require.Len(t, res.Written, 3)
	for _, b := range res.Written {
		assert.Equal(t, inventory.AllocationFreesale, b.AllocationType)
		assert.Nil(t, b.Quantity)
	}

	report, err := f.utilization.BucketReport(ctx, tenant, inventory.BucketQuery{From: day, To: day.AddDays(2)})
	require.NoError(t, err)
	require.Len(t, report.Rows, 3)
	assert.Nil(t, report.Rows[0].Utilization.Available)
}

func TestAllocate_EventBucketCountsUnitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, nil)
	event := generic.NewPeriod(day, day.AddDays(2))
	plan, err := f.pools.CreateRatePlan(ctx, actor, inventory.RatePlan{
		PoolID:       "seaside",
		VariantID:    "std",
		Validity:     event,
		Mode:         inventory.ModeEvent,
		EventPeriods: []generic.Period{event},
	})
	require.NoError(t, err)
	res, err := f.generation.Generate(ctx, actor, inventory.GenerationRequest{RatePlanID: plan.ID, DefaultDailyQuantity: 40})
	require.NoError(t, err)
	require.Len(t, res.Written, 1)
	bucketID := res.Written[0].ID

	// GIVEN: 30 seats booked across the three event days
	_, err = f.allocations.Allocate(ctx, actor, inventory.AllocationRequest{
		PoolID: "seaside", VariantID: "std", From: day, To: day.AddDays(2), Units: 30, ReferenceID: "batch-1",
	})
	require.NoError(t, err)

	// THEN: The bucket sold 30, not 30 per day
	b, err := f.store.LoadBucket(ctx, tenant, bucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), b.Booked)

	// WHEN: A hold takes the remaining 10 and the batch is released
	_, err = f.allocations.Allocate(ctx, actor, inventory.AllocationRequest{
		PoolID: "seaside", VariantID: "std", From: day, To: day.AddDays(2), Units: 10, Hold: true, ReferenceID: "hold-1",
	})
	require.NoError(t, err)
	_, err = f.allocations.Release(ctx, actor, "seaside", "batch-1", "cancelled")
	require.NoError(t, err)

	b, err = f.store.LoadBucket(ctx, tenant, bucketID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Booked)
	assert.Equal(t, int64(10), b.Held)
}

func TestPoolUtilization_ClampsToValidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, nil)

	report, err := f.utilization.PoolUtilization(ctx, tenant, "seaside", generic.MustDate("2025-06-25"), generic.MustDate("2025-07-02"))
	require.NoError(t, err)
	require.Len(t, report.Days, 2)
	assert.Equal(t, "2025-07-01", report.Days[0].Date.String())

	report, err = f.utilization.PoolUtilization(ctx, tenant, "seaside", generic.MustDate("2025-01-01"), generic.MustDate("2025-01-31"))
	require.NoError(t, err)
	assert.Empty(t, report.Days)
	assert.Nil(t, report.Peak)
}

// =============================================================================
// POOLS AND LIFECYCLE
// =============================================================================

func TestPoolService_DuplicateCopiesVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, nil)
	_, err := f.book("std", 5)
	require.NoError(t, err)

	dup, err := f.pools.Duplicate(ctx, actor, "seaside", "")

	require.NoError(t, err)
	assert.NotEqual(t, generic.PoolID("seaside"), dup.Pool.ID)
	assert.Equal(t, "Seaside summer block (copy)", dup.Pool.Name)
	assert.Len(t, dup.Variants, 2)

	report, err := f.utilization.PoolUtilization(ctx, tenant, dup.Pool.ID, day, day)
	require.NoError(t, err)
	assert.Empty(t, report.Days[0].ByVariant, "consumption is not copied")
}

func TestPoolService_RejectsDuplicateVariantAndBadWeight(t *testing.T) {
	f := newFixture(t)
	total := int64(10)
	pool := inventory.Pool{
		Name:          "x",
		Type:          inventory.PoolCommitted,
		Validity:      generic.NewPeriod(day, day),
		TotalCapacity: &total,
	}

	_, err := f.pools.Create(context.Background(), actor, pool, []inventory.PoolVariant{
		{VariantID: "a", CapacityWeight: decimal.NewFromInt(1)},
		{VariantID: "a", CapacityWeight: decimal.NewFromInt(1)},
	})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.pools.Create(context.Background(), actor, pool, []inventory.PoolVariant{
		{VariantID: "a", CapacityWeight: decimal.Zero},
	})
	assert.ErrorIs(t, err, generic.ErrInvalidWeight)

	pools, err := f.pools.List(context.Background(), tenant)
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestLifecycle_ReleaseThenExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hotelPool(t, func(p *inventory.Pool) {
		release := generic.MustDate("2025-07-20")
		p.ReleaseDate = &release
	})
	svc := inventory.NewLifecycleService(f.store)

	// WHEN: Run before the release date
	transitions, err := svc.Run(ctx, time.Date(2025, 7, 19, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// WHEN: Run on the release date
	transitions, err = svc.Run(ctx, time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, inventory.PoolReleased, transitions[0].To)

	// THEN: Allocations are refused and the next run is a no-op
	f.allocations.Now = func() time.Time { return time.Date(2025, 7, 21, 0, 0, 0, 0, time.UTC) }
	_, err = f.allocations.Allocate(ctx, actor, inventory.AllocationRequest{PoolID: "seaside", VariantID: "std", From: generic.MustDate("2025-08-01"), Units: 1})
	assert.ErrorIs(t, err, generic.ErrPoolClosed)

	transitions, err = svc.Run(ctx, time.Date(2025, 7, 21, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// WHEN: Run after valid_to
	transitions, err = svc.Run(ctx, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, inventory.PoolExpired, transitions[0].To)

	entries, err := f.store.QueryAudit(ctx, generic.AuditFilter{
		TenantID: tenant,
		Actions:  []generic.AuditAction{generic.AuditPoolStatusChanged},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
