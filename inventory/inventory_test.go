package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/generic"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func i64(n int64) *int64 { return &n }

func variant(id string, weight string, priority int) PoolVariant {
	return PoolVariant{
		TenantID:       "org-1",
		PoolID:         "pool-1",
		VariantID:      generic.VariantID(id),
		CapacityWeight: d(weight),
		Priority:       priority,
		AutoAllocate:   true,
		Status:         VariantActive,
	}
}

// =============================================================================
// WEIGHTING
// =============================================================================

func TestResolveConsumption_AppliesWeight(t *testing.T) {
	assert.True(t, ResolveConsumption(variant("suite", "1.5", 20), 20).Equal(d("30")))
	assert.True(t, ResolveConsumption(variant("std", "1.0", 10), 60).Equal(d("60")))
}

func TestCanAllocate_WeightedAgainstCapacity(t *testing.T) {
	// GIVEN: 100 rooms, 90 capacity units already consumed
	capacity := generic.Bounded(100, "rooms")
	suite := variant("suite", "1.5", 20)
	current := d("90")

	// WHEN/THEN: 8 suites need 12 units and only fit with 2 units of overbooking
	assert.False(t, CanAllocate(capacity, suite, 8, current, 0))
	assert.False(t, CanAllocate(capacity, suite, 8, current, 1))
	assert.True(t, CanAllocate(capacity, suite, 8, current, 2))

	// AND: 6 suites (9 units) fit without overbooking
	assert.True(t, CanAllocate(capacity, suite, 6, current, 0))
}

func TestCanAllocate_UnlimitedAlwaysFits(t *testing.T) {
	capacity := generic.Unlimited("seats")
	assert.True(t, CanAllocate(capacity, variant("ga", "1", 1), 1_000_000, d("99999"), 0))
}

func TestSelectVariant_PriorityThenID(t *testing.T) {
	// GIVEN: Two variants tied on priority and one with a lower number
	variants := []PoolVariant{
		variant("suite", "1.5", 20),
		variant("deluxe", "1.2", 20),
		variant("std", "1.0", 10),
	}
	capacity := generic.Bounded(100, "rooms")

	// WHEN: Selecting with room to spare
	v, err := SelectVariant(capacity, variants, 5, decimal.Zero, nil)

	// THEN: The lowest priority number wins
	require.NoError(t, err)
	assert.Equal(t, generic.VariantID("std"), v.VariantID)

	ordered := OrderByPriority(variants)
	assert.Equal(t, generic.VariantID("deluxe"), ordered[1].VariantID, "ties break on variant id")
}

func TestSelectVariant_SkipsInactiveAndManual(t *testing.T) {
	std := variant("std", "1.0", 10)
	std.Status = VariantInactive
	manual := variant("manual", "1.0", 5)
	manual.AutoAllocate = false
	suite := variant("suite", "1.5", 20)

	v, err := SelectVariant(generic.Bounded(100, "rooms"), []PoolVariant{std, manual, suite}, 2, decimal.Zero, nil)

	require.NoError(t, err)
	assert.Equal(t, generic.VariantID("suite"), v.VariantID)
}

func TestSelectVariant_FallsThroughToCheaperWeight(t *testing.T) {
	// GIVEN: 95 of 100 consumed; the priority variant is heavy
	heavy := variant("villa", "3", 1)
	light := variant("std", "1", 2)

	// WHEN: Asking for 2 units
	v, err := SelectVariant(generic.Bounded(100, "rooms"), []PoolVariant{heavy, light}, 2, d("95"), nil)

	// THEN: The villa needs 6 units and is skipped
	require.NoError(t, err)
	assert.Equal(t, generic.VariantID("std"), v.VariantID)
}

func TestSelectVariant_ReturnsClosestShortfall(t *testing.T) {
	heavy := variant("villa", "3", 1)
	light := variant("std", "1", 2)

	_, err := SelectVariant(generic.Bounded(100, "rooms"), []PoolVariant{heavy, light}, 10, d("95"), nil)

	var capErr *generic.InsufficientCapacityError
	require.True(t, errors.As(err, &capErr))
	assert.ErrorIs(t, err, generic.ErrInsufficientCapacity)
	assert.Equal(t, generic.VariantID("std"), capErr.VariantID)
	assert.True(t, capErr.Shortfall().Equal(d("5")), "10 requested, 5 available")
}

func TestSelectVariant_OverbookingPerVariant(t *testing.T) {
	suite := variant("suite", "1.5", 20)
	limits := func(v generic.VariantID) int64 {
		if v == "suite" {
			return 2
		}
		return 0
	}

	v, err := SelectVariant(generic.Bounded(100, "rooms"), []PoolVariant{suite}, 8, d("90"), limits)

	require.NoError(t, err)
	assert.Equal(t, generic.VariantID("suite"), v.VariantID)
}

// =============================================================================
// POOL
// =============================================================================

func basePool() Pool {
	return Pool{
		ID:            "pool-1",
		TenantID:      "org-1",
		Name:          "Seaside",
		Type:          PoolCommitted,
		Validity:      generic.NewPeriod(generic.MustDate("2025-06-01"), generic.MustDate("2025-09-30")),
		TotalCapacity: i64(100),
		CapacityUnit:  "rooms",
		Status:        PoolActive,
	}
}

func TestPool_ValidateRejectsBadInput(t *testing.T) {
	p := basePool()
	p.TotalCapacity = i64(-1)
	assert.ErrorIs(t, p.Validate(), generic.ErrInvalidCapacity)

	p = basePool()
	p.Validity = generic.NewPeriod(generic.MustDate("2025-09-30"), generic.MustDate("2025-06-01"))
	assert.ErrorIs(t, p.Validate(), generic.ErrInvalidDateRange)

	p = basePool()
	p.Name = ""
	p.Type = "timeshare"
	err := p.Validate()
	var ve *generic.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "pool_type")

	p = basePool()
	p.TenantID = ""
	assert.ErrorIs(t, p.Validate(), generic.ErrTenantRequired)
}

func TestPool_StatusAt(t *testing.T) {
	p := basePool()
	release := generic.MustDate("2025-08-01")
	p.ReleaseDate = &release

	assert.Equal(t, PoolActive, p.StatusAt(generic.MustDate("2025-07-31")))
	assert.Equal(t, PoolReleased, p.StatusAt(generic.MustDate("2025-08-01")))
	assert.Equal(t, PoolExpired, p.StatusAt(generic.MustDate("2025-10-01")))

	p.Status = PoolInactive
	assert.Equal(t, PoolInactive, p.StatusAt(generic.MustDate("2025-08-15")), "inactive pools are never released")
}

func TestPool_CheckAllocatable(t *testing.T) {
	p := basePool()
	cutoff := 7
	p.CutoffDays = &cutoff
	now := generic.MustDate("2025-06-20")

	assert.NoError(t, p.CheckAllocatable(generic.MustDate("2025-06-27"), now))
	assert.ErrorIs(t, p.CheckAllocatable(generic.MustDate("2025-06-26"), now), generic.ErrCutoffPassed)
	assert.ErrorIs(t, p.CheckAllocatable(generic.MustDate("2025-10-02"), now), generic.ErrOutsideValidity)

	p.Status = PoolInactive
	assert.ErrorIs(t, p.CheckAllocatable(generic.MustDate("2025-07-10"), now), generic.ErrPoolClosed)
}

func TestPoolVariant_RejectsNonPositiveWeight(t *testing.T) {
	v := variant("std", "0", 1)
	assert.ErrorIs(t, v.Validate(), generic.ErrInvalidWeight)
	v = variant("std", "-1.5", 1)
	assert.ErrorIs(t, v.Validate(), generic.ErrInvalidWeight)
}

// =============================================================================
// GENERATOR
// =============================================================================

func dailyPlan(from, to string) RatePlan {
	return RatePlan{
		ID:             "rp-1",
		TenantID:       "org-1",
		PoolID:         "pool-1",
		VariantID:      "std",
		SupplierID:     "sup-1",
		Validity:       generic.NewPeriod(generic.MustDate(from), generic.MustDate(to)),
		Mode:           ModeDaily,
		InventoryModel: AllocationCommitted,
	}
}

func TestGenerate_OneBucketPerDayWithWeekendQuantity(t *testing.T) {
	// GIVEN: Mon 2025-06-02 .. Sun 2025-06-08, 10 per day, weekend x1.25
	plan := dailyPlan("2025-06-02", "2025-06-08")

	// WHEN: Generating
	buckets, err := Generator{}.Generate(plan, 10, d("1.25"))

	// THEN: Seven buckets, weekend days round 12.5 half up to 13
	require.NoError(t, err)
	require.Len(t, buckets, 7)
	for _, b := range buckets {
		span := b.Span.(DailySpan)
		want := int64(10)
		if span.Date.IsWeekend() {
			want = 13
		}
		assert.Equal(t, want, *b.Quantity, span.Date.String())
		assert.Equal(t, AllocationCommitted, b.AllocationType)
	}
}

func TestGenerate_IsDeterministic(t *testing.T) {
	plan := dailyPlan("2025-06-01", "2025-06-30")

	first, err := Generator{}.Generate(plan, 5, d("1"))
	require.NoError(t, err)
	second, err := Generator{}.Generate(plan, 5, d("1"))
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestGenerate_ReversedRangeProducesNothing(t *testing.T) {
	plan := dailyPlan("2025-06-30", "2025-06-01")

	buckets, err := Generator{}.Generate(plan, 5, d("1"))

	assert.ErrorIs(t, err, generic.ErrInvalidDateRange)
	assert.Empty(t, buckets)
}

func TestGenerate_EventMode(t *testing.T) {
	plan := dailyPlan("2025-11-01", "2025-11-30")
	plan.Mode = ModeEvent
	plan.EventPeriods = []generic.Period{
		generic.NewPeriod(generic.MustDate("2025-11-14"), generic.MustDate("2025-11-16")),
		generic.NewPeriod(generic.MustDate("2025-11-21"), generic.MustDate("2025-11-23")),
	}

	buckets, err := Generator{}.Generate(plan, 200, d("2"))

	require.NoError(t, err)
	require.Len(t, buckets, 2)
	for _, b := range buckets {
		assert.Equal(t, SpanEvent, b.Span.Kind())
		assert.Equal(t, int64(200), *b.Quantity, "weekend multiplier does not apply to events")
	}
	estimate, err := Generator{}.Estimate(plan, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(400), estimate)
}

func TestGenerate_EventOutsideValidityRejected(t *testing.T) {
	plan := dailyPlan("2025-11-01", "2025-11-30")
	plan.Mode = ModeEvent
	plan.EventPeriods = []generic.Period{
		generic.NewPeriod(generic.MustDate("2025-11-29"), generic.MustDate("2025-12-02")),
	}

	_, err := Generator{}.Generate(plan, 10, d("1"))
	assert.ErrorIs(t, err, generic.ErrInvalidDateRange)
}

func TestGenerate_UnboundedTypesCarryNoQuantity(t *testing.T) {
	plan := dailyPlan("2025-06-01", "2025-06-03")
	plan.InventoryModel = AllocationFreesale

	buckets, err := Generator{}.Generate(plan, 10, d("1"))

	require.NoError(t, err)
	for _, b := range buckets {
		assert.Nil(t, b.Quantity)
		assert.Equal(t, AllocationFreesale, b.AllocationType)
	}
}

func TestEstimate_IgnoresWeekendMultiplier(t *testing.T) {
	est, err := Generator{}.Estimate(dailyPlan("2025-06-01", "2025-06-30"), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(300), est)
}

func TestMerge_KeepsBucketsWithActivity(t *testing.T) {
	// GIVEN: Two stored buckets, one with a booking
	generated, err := Generator{}.Generate(dailyPlan("2025-06-02", "2025-06-03"), 20, d("1"))
	require.NoError(t, err)
	booked := generated[0]
	booked.Quantity = i64(10)
	booked.Booked = 3
	idle := generated[1]
	idle.Quantity = i64(10)

	// WHEN: Merging the regenerated set
	res := Merge([]Bucket{booked, idle}, generated)

	// THEN: Only the idle bucket is rewritten
	require.Len(t, res.Write, 1)
	assert.Equal(t, idle.ID, res.Write[0].ID)
	assert.Equal(t, int64(20), *res.Write[0].Quantity)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, int64(3), res.Skipped[0].Booked)
}

// =============================================================================
// BUCKETS AND UTILIZATION
// =============================================================================

func TestSpanFromColumns(t *testing.T) {
	day := generic.MustDate("2025-06-10")
	end := generic.MustDate("2025-06-12")

	s, err := SpanFromColumns("b", &day, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, SpanDaily, s.Kind())

	s, err = SpanFromColumns("b", nil, &day, &end)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Period().DayCount())

	for name, cols := range map[string][3]*generic.TimePoint{
		"both":     {&day, &day, &end},
		"neither":  {nil, nil, nil},
		"no end":   {nil, &day, nil},
		"reversed": {nil, &end, &day},
	} {
		_, err := SpanFromColumns("b", cols[0], cols[1], cols[2])
		assert.ErrorIs(t, err, generic.ErrMalformedBucket, name)
	}
}

func TestUtilizationOf_ZeroGuard(t *testing.T) {
	// Unbounded bucket
	u := UtilizationOf(Bucket{ID: "b", Booked: 5, Span: DailySpan{}})
	assert.True(t, u.Percentage.IsZero())
	assert.Nil(t, u.Available)
	assert.False(t, u.IsOverbooked)

	// Zero-quantity bucket
	u = UtilizationOf(Bucket{ID: "b", Quantity: i64(0), Booked: 0})
	assert.True(t, u.Percentage.IsZero())
	require.NotNil(t, u.Available)
	assert.Equal(t, int64(0), *u.Available)
}

func TestUtilizationOf_OverbookingFloor(t *testing.T) {
	// GIVEN: 10 rooms, 11 booked, 1 held, overbooking up to 3
	b := Bucket{ID: "b", Quantity: i64(10), Booked: 11, Held: 1, AllowOverbooking: true, OverbookingLimit: i64(3)}

	u := UtilizationOf(b)

	assert.Equal(t, int64(-2), *u.Available)
	assert.True(t, u.IsOverbooked)
	assert.True(t, u.Percentage.Equal(d("110")))
	assert.Equal(t, TierCritical, u.Tier)

	// Without overbooking the floor is 0
	b.AllowOverbooking = false
	assert.Equal(t, int64(0), *UtilizationOf(b).Available)

	// Blackout forces 0
	b.AllowOverbooking, b.Blackout = true, true
	assert.Equal(t, int64(0), *UtilizationOf(b).Available)
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierNormal, TierFor(d("74.99")))
	assert.Equal(t, TierWarning, TierFor(d("75")))
	assert.Equal(t, TierCritical, TierFor(d("90")))
}

func TestPoolUtilizationOf_WeightedBooked(t *testing.T) {
	// GIVEN: 60 standard (1.0) booked and 20 suites (1.5) booked
	txs := []generic.Transaction{
		{VariantID: "std", Units: 60, Weight: d("1"), Delta: generic.NewAmountFromInt(60, "rooms"), Type: generic.TxBooking},
		{VariantID: "suite", Units: 20, Weight: d("1.5"), Delta: generic.NewAmountFromInt(30, "rooms"), Type: generic.TxBooking},
	}

	u := PoolUtilizationOf(generic.Bounded(100, "rooms"), generic.Summarize(txs, "rooms"))

	assert.True(t, u.Consumed.Equal(d("90")))
	assert.True(t, u.Percentage.Equal(d("90")))
	assert.True(t, u.Available.Equal(d("10")))
	assert.Equal(t, TierCritical, u.Tier)
	assert.Len(t, u.ByVariant, 2)

	unlimited := PoolUtilizationOf(generic.Unlimited("rooms"), generic.Summarize(txs, "rooms"))
	assert.True(t, unlimited.Percentage.IsZero())
	assert.Nil(t, unlimited.Available)
}

func TestBucketPatch_QuantityOnlyForBounded(t *testing.T) {
	b := Bucket{ID: "b", Span: DailySpan{Date: generic.MustDate("2025-06-10")}, AllocationType: AllocationFreesale}
	_, err := BucketPatch{Quantity: i64(5)}.Apply(b)
	assert.ErrorIs(t, err, generic.ErrValidation)

	stop := true
	out, err := BucketPatch{StopSell: &stop}.Apply(b)
	require.NoError(t, err)
	assert.False(t, out.Sellable())
}

// =============================================================================
// LOCKER
// =============================================================================

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "pool:org-1:p")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, k.locks, "entries are dropped once released")
}

func TestKeyedMutex_HonoursContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()
}
