package generic_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() generic.Ledger {
	return generic.NewLedger(store.NewMemory())
}

func day(s string) generic.TimePoint { return generic.MustDate(s) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bookingTx(id, pool, variant string, date generic.TimePoint, units int64, weight string, idemKey string) generic.Transaction {
	w := dec(weight)
	return generic.Transaction{
		ID:             generic.TransactionID(id),
		TenantID:       "org-1",
		PoolID:         generic.PoolID(pool),
		VariantID:      generic.VariantID(variant),
		EffectiveAt:    date,
		Units:          units,
		Weight:         w,
		Delta:          generic.NewAmountFromDecimal(w.Mul(decimal.NewFromInt(units)), "rooms"),
		Type:           generic.TxBooking,
		IdempotencyKey: idemKey,
	}
}

func int64p(v int64) *int64 { return &v }

// =============================================================================
// CAPACITY RESOLVER
// =============================================================================

func TestResolveCapacity_NilIsUnlimited(t *testing.T) {
	c, err := generic.ResolveCapacity(nil, "rooms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsUnlimited() {
		t.Error("nil total should resolve to unlimited")
	}
	if _, ok := c.Total(); ok {
		t.Error("unlimited capacity should not report a total")
	}
	if c.Remaining(dec("1000000")) != nil {
		t.Error("unlimited capacity has no remaining figure")
	}
}

func TestResolveCapacity_BoundedKeepsUnit(t *testing.T) {
	c, err := generic.ResolveCapacity(int64p(100), "rooms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total, ok := c.Total()
	if !ok || total != 100 {
		t.Errorf("expected bounded 100, got %d (ok=%v)", total, ok)
	}
	if c.Unit() != "rooms" {
		t.Errorf("expected unit rooms, got %s", c.Unit())
	}
}

func TestResolveCapacity_EmptyUnitDefaults(t *testing.T) {
	c, _ := generic.ResolveCapacity(int64p(0), "")
	if c.Unit() != generic.UnitDefault {
		t.Errorf("expected default unit, got %q", c.Unit())
	}
}

func TestResolveCapacity_NegativeRejected(t *testing.T) {
	_, err := generic.ResolveCapacity(int64p(-1), "seats")
	if !errors.Is(err, generic.ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
	if !generic.IsClientError(err) {
		t.Error("invalid capacity should classify as a client error")
	}
}

func TestCapacity_FitsWithOverbooking(t *testing.T) {
	// GIVEN: 100 rooms with 90 consumed
	// WHEN: Asking for 12 more capacity units
	// THEN: Only fits once overbooking headroom reaches 2
	c := generic.Bounded(100, "rooms")

	if c.Fits(dec("90"), dec("12"), 0) {
		t.Error("102 > 100 should not fit without overbooking")
	}
	if c.Fits(dec("90"), dec("12"), 1) {
		t.Error("102 > 101 should not fit")
	}
	if !c.Fits(dec("90"), dec("12"), 2) {
		t.Error("102 <= 102 should fit")
	}
	if !generic.Unlimited("rooms").Fits(dec("1e9"), dec("1e9"), 0) {
		t.Error("unlimited capacity always fits")
	}
}

func TestCapacity_RemainingGoesNegativeWhenOverbooked(t *testing.T) {
	c := generic.Bounded(10, "seats")
	r := c.Remaining(dec("12"))
	if r == nil || !r.Equal(dec("-2")) {
		t.Errorf("expected -2 remaining, got %v", r)
	}
}

// =============================================================================
// PERIODS
// =============================================================================

func TestPeriod_ValidateRejectsReversedRange(t *testing.T) {
	p := generic.NewPeriod(day("2025-06-10"), day("2025-06-01"))
	if err := p.Validate(); !errors.Is(err, generic.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
	if p.DayCount() != 0 {
		t.Errorf("reversed range should count 0 days, got %d", p.DayCount())
	}
}

func TestPeriod_SingleDayIsValid(t *testing.T) {
	p := generic.NewPeriod(day("2025-06-01"), day("2025-06-01"))
	if err := p.Validate(); err != nil {
		t.Fatalf("single-day period should be valid: %v", err)
	}
	if len(p.Days()) != 1 {
		t.Errorf("expected 1 day, got %d", len(p.Days()))
	}
}

func TestPeriod_OverlapsIsInclusive(t *testing.T) {
	a := generic.NewPeriod(day("2025-01-01"), day("2025-06-30"))
	b := generic.NewPeriod(day("2025-06-30"), day("2025-12-31"))
	c := generic.NewPeriod(day("2025-07-01"), day("2025-12-31"))

	if !a.Overlaps(b) {
		t.Error("ranges sharing 2025-06-30 overlap")
	}
	if a.Overlaps(c) {
		t.Error("adjacent ranges do not overlap")
	}
}

func TestPeriod_OverlapsHalfOpenAllowsSharedBoundary(t *testing.T) {
	a := generic.NewPeriod(day("2025-01-01"), day("2025-07-01"))
	b := generic.NewPeriod(day("2025-07-01"), day("2025-12-31"))
	c := generic.NewPeriod(day("2025-06-30"), day("2025-12-31"))

	if a.OverlapsHalfOpen(b) || b.OverlapsHalfOpen(a) {
		t.Error("a range ending on 2025-07-01 does not overlap one starting then")
	}
	if !a.OverlapsHalfOpen(c) {
		t.Error("ranges sharing 2025-06-30 overlap")
	}
}

func TestPeriodConfig_MonthlyWindowsClampToBounds(t *testing.T) {
	// GIVEN: Bounds 2025-06-15 .. 2025-08-10
	// THEN: Windows are Jun 15-30, Jul 1-31, Aug 1-10
	pc := generic.PeriodConfig{
		Type:   generic.PeriodMonthly,
		Bounds: generic.NewPeriod(day("2025-06-15"), day("2025-08-10")),
	}
	w := pc.Windows()
	if len(w) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(w))
	}
	if !w[0].Start.Equal(day("2025-06-15")) || !w[0].End.Equal(day("2025-06-30")) {
		t.Errorf("first window wrong: %s", w[0])
	}
	if !w[2].End.Equal(day("2025-08-10")) {
		t.Errorf("last window should end at bounds: %s", w[2])
	}
}

func TestPeriodConfig_WholeIsSingleWindow(t *testing.T) {
	bounds := generic.NewPeriod(day("2025-06-15"), day("2025-08-10"))
	pc := generic.PeriodConfig{Type: generic.PeriodWhole, Bounds: bounds}
	if got := pc.PeriodFor(day("2025-07-04")); got != bounds {
		t.Errorf("expected whole bounds, got %s", got)
	}
}

func TestPeriod_FollowingPeriodStartsOnEnd(t *testing.T) {
	p := generic.NewPeriod(day("2025-01-01"), day("2025-07-01"))
	next := p.FollowingPeriod()
	if !next.Start.Equal(day("2025-07-01")) || !next.End.Equal(day("2025-12-29")) {
		t.Errorf("unexpected following period %s", next)
	}
	if p.OverlapsHalfOpen(next) {
		t.Error("following period must not overlap its source")
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_Idempotency_DuplicateKeyRejected(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	tx := bookingTx("tx-1", "pool-1", "std", day("2025-07-01"), 2, "1.0", "book-1")

	if err := ledger.Append(ctx, tx); err != nil {
		t.Fatalf("first append should succeed: %v", err)
	}
	tx.ID = "tx-2"
	if err := ledger.Append(ctx, tx); !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		t.Errorf("expected ErrDuplicateIdempotencyKey, got: %v", err)
	}
}

func TestLedger_AtomicBatch_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	_ = ledger.Append(ctx, bookingTx("tx-0", "pool-1", "std", day("2025-07-01"), 1, "1.0", "existing"))

	batch := []generic.Transaction{
		bookingTx("tx-1", "pool-1", "std", day("2025-07-02"), 1, "1.0", "a"),
		bookingTx("tx-2", "pool-1", "std", day("2025-07-03"), 1, "1.0", "existing"),
	}
	if err := ledger.AppendBatch(ctx, batch); err == nil {
		t.Fatal("batch with duplicate key should fail")
	}
	txs, _ := ledger.TransactionsInRange(ctx, "org-1", "pool-1", day("2025-07-01"), day("2025-07-31"))
	if len(txs) != 1 {
		t.Errorf("batch should be atomic, expected 1 tx, got %d", len(txs))
	}
}

func TestLedger_AppendIfVersion_StaleVersionRejected(t *testing.T) {
	// GIVEN: Two writers read version 0 of the same pool-date
	// WHEN: Both try to append
	// THEN: The second gets ErrConcurrentModification
	ctx := context.Background()
	ledger := newTestLedger()
	key := generic.ConsumptionKey{TenantID: "org-1", PoolID: "pool-1", Date: day("2025-07-01")}

	first := bookingTx("tx-1", "pool-1", "std", day("2025-07-01"), 1, "1.0", "")
	second := bookingTx("tx-2", "pool-1", "std", day("2025-07-01"), 1, "1.0", "")

	if err := ledger.AppendIfVersion(ctx, key, 0, []generic.Transaction{first}); err != nil {
		t.Fatalf("first writer should win: %v", err)
	}
	err := ledger.AppendIfVersion(ctx, key, 0, []generic.Transaction{second})
	if !errors.Is(err, generic.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if !generic.IsRetryable(err) {
		t.Error("concurrent modification should be retryable")
	}
}

func TestLedger_AppendIfVersion_OtherDatesDoNotConflict(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	_ = ledger.Append(ctx, bookingTx("tx-1", "pool-1", "std", day("2025-07-01"), 1, "1.0", ""))

	key := generic.ConsumptionKey{TenantID: "org-1", PoolID: "pool-1", Date: day("2025-07-02")}
	tx := bookingTx("tx-2", "pool-1", "std", day("2025-07-02"), 1, "1.0", "")
	if err := ledger.AppendIfVersion(ctx, key, 0, []generic.Transaction{tx}); err != nil {
		t.Errorf("a different date has its own version: %v", err)
	}
}

func TestLedger_ConcurrentWritersNeverOversell(t *testing.T) {
	// GIVEN: 20 goroutines each trying to book 1 unit of a 10-unit pool-date
	// WHEN: Each reads the summary and appends guarded by version
	// THEN: Consumption never exceeds 10
	ctx := context.Background()
	ledger := newTestLedger()
	capacity := generic.Bounded(10, "rooms")
	key := generic.ConsumptionKey{TenantID: "org-1", PoolID: "pool-1", Date: day("2025-07-01")}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				sum, err := ledger.SummaryOn(ctx, key, "rooms")
				if err != nil {
					return
				}
				if !capacity.Fits(sum.Consumed().Value, decimal.NewFromInt(1), 0) {
					return
				}
				tx := bookingTx(fmt.Sprintf("tx-%d-%d", i, attempt), "pool-1", "std", key.Date, 1, "1.0", "")
				err = ledger.AppendIfVersion(ctx, key, sum.Version, []generic.Transaction{tx})
				if err == nil || !generic.IsRetryable(err) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	sum, _ := ledger.SummaryOn(ctx, key, "rooms")
	if sum.Consumed().Value.GreaterThan(decimal.NewFromInt(10)) {
		t.Errorf("capacity conservation violated: consumed %s", sum.Consumed().Value)
	}
	if sum.BookedUnits != 10 {
		t.Errorf("expected pool-date to fill to 10, got %d", sum.BookedUnits)
	}
}

func TestSummarize_ReleasesReverseTheRightSide(t *testing.T) {
	// GIVEN: hold 4 suites at 1.5, confirm, then book 2 standard and cancel one
	d := day("2025-07-01")
	hold := bookingTx("h", "pool-1", "suite", d, 4, "1.5", "")
	hold.Type = generic.TxHold

	releaseHold := hold
	releaseHold.ID, releaseHold.Type, releaseHold.ReversesType = "rh", generic.TxRelease, generic.TxHold
	releaseHold.Delta = hold.Delta.Neg()

	confirmed := bookingTx("b", "pool-1", "suite", d, 4, "1.5", "")
	std := bookingTx("s", "pool-1", "std", d, 2, "1.0", "")

	cancel := bookingTx("c", "pool-1", "std", d, 1, "1.0", "")
	cancel.Type, cancel.ReversesType = generic.TxRelease, generic.TxBooking
	cancel.Delta = cancel.Delta.Neg()

	sum := generic.Summarize([]generic.Transaction{hold, releaseHold, confirmed, std, cancel}, "rooms")

	if sum.Version != 5 {
		t.Errorf("version counts every transaction, got %d", sum.Version)
	}
	if sum.HeldUnits != 0 || !sum.Held.IsZero() {
		t.Errorf("hold was released, got %d units / %s", sum.HeldUnits, sum.Held.Value)
	}
	if sum.BookedUnits != 5 {
		t.Errorf("expected 5 booked units, got %d", sum.BookedUnits)
	}
	if !sum.Booked.Value.Equal(dec("7")) {
		t.Errorf("expected 7 capacity units booked (4x1.5 + 1x1.0), got %s", sum.Booked.Value)
	}
	if len(sum.ByVariant) != 2 || sum.ByVariant[0].VariantID != "std" {
		t.Errorf("expected std and suite breakdown sorted by id, got %+v", sum.ByVariant)
	}
}

func TestTxMemory_WithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := store.NewTxMemory()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.Append(ctx, bookingTx("tx-1", "pool-1", "std", day("2025-07-01"), 1, "1.0", "k1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	txs, _ := s.Load(ctx, "org-1", "pool-1")
	if len(txs) != 0 {
		t.Errorf("rolled back transaction should be gone, got %d", len(txs))
	}
	if exists, _ := s.Exists(ctx, "k1"); exists {
		t.Error("rolled back idempotency key should be gone")
	}
}

func TestMemory_GetIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_ = s.Append(ctx, bookingTx("tx-1", "pool-1", "std", day("2025-07-01"), 1, "1.0", ""))

	if _, err := s.Get(ctx, "org-1", "tx-1"); err != nil {
		t.Errorf("owner should see the transaction: %v", err)
	}
	if _, err := s.Get(ctx, "org-2", "tx-1"); !errors.Is(err, generic.ErrTransactionNotFound) {
		t.Errorf("other tenants should not, got %v", err)
	}
}

// =============================================================================
// ATTRIBUTES
// =============================================================================

func init() {
	generic.RegisterSchema(generic.AttributeSchema{
		Category: "test_venue",
		Version:  2,
		Fields: []generic.AttributeField{
			{Name: "name", Kind: generic.AttrString, Required: true},
			{Name: "floors", Kind: generic.AttrInt},
			{Name: "opens", Kind: generic.AttrDate},
			{Name: "tier", Kind: generic.AttrEnum, Enum: []string{"gold", "silver"}},
		},
	})
}

func TestValidateAttributes_AcceptsWellTypedValues(t *testing.T) {
	attrs := generic.Attributes{Category: "test_venue", Values: map[string]any{
		"name": "Hall A", "floors": float64(3), "opens": "2025-05-01", "tier": "gold",
	}}
	if err := generic.ValidateAttributes(attrs); err != nil {
		t.Errorf("expected valid attributes, got %v", err)
	}
}

func TestValidateAttributes_ReportsEveryProblem(t *testing.T) {
	attrs := generic.Attributes{Category: "test_venue", Values: map[string]any{
		"floors": 2.5, "tier": "bronze", "colour": "red",
	}}
	err := generic.ValidateAttributes(attrs)

	var verr *generic.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, f := range []string{"attributes.name", "attributes.floors", "attributes.tier", "attributes.colour"} {
		if _, ok := verr.Fields[f]; !ok {
			t.Errorf("expected a message for %s, got %v", f, verr.Fields)
		}
	}
}

func TestValidateAttributes_UnknownCategory(t *testing.T) {
	err := generic.ValidateAttributes(generic.Attributes{Category: "spaceship"})
	if !errors.Is(err, generic.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
