/*
allocation.go - Capacity-consuming allocations: hold, book, confirm, release

PURPOSE:
  The only place pool capacity is consumed. Every allocation is checked
  against the weighted consumption replayed from the ledger and then
  recorded as one transaction per service date.

ALLOCATION FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  Lock pool ──▶ Check pool   ──▶ Pick variant  ──▶ Append per date │
  │               (status,         (explicit or       (guarded by     │
  │                validity,        by priority,       ledger version)│
  │                cutoff)          bucket gating)                    │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

CONCURRENCY:
  Two guards keep two bookings from both passing the capacity check
  against room for only one:
  1. The Locker serializes decisions per pool (in-process mutex, or a
     Redis lock when several instances share the database).
  2. Each write is AppendIfVersion on the (tenant, pool, date) key. If the
     ledger moved since the summary was read, the attempt is retried from
     a fresh read, up to MaxAttempts times.

HOLDS:
  A hold consumes capacity like a booking. Confirm converts it (release of
  the hold + booking, same capacity units). Release reverses whatever is
  still outstanding for an allocation.

BUCKET GATING:
  When a bucket exists for the variant and date:
  - stop_sell or blackout rejects the allocation (ErrStopSell)
  - its overbooking limit is the headroom in force for the pool check
  - a bounded bucket also caps booked + held at quantity + limit
  - booked / held counters are kept in step with the ledger

SEE ALSO:
  - weighting.go: ResolveConsumption, CanAllocate, SelectVariant
  - locker.go: Per-pool serialization
  - generic/ledger.go: Replay and versioned append
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

const defaultMaxAttempts = 3

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// AllocationRequest asks for Units of a variant on every date in [From, To].
type AllocationRequest struct {
	PoolID         generic.PoolID
	VariantID      generic.VariantID // empty = pick by priority
	From           generic.TimePoint
	To             generic.TimePoint // zero = same as From
	Units          int64
	Hold           bool
	ReferenceID    string // allocation ID; generated when empty
	IdempotencyKey string // scoped to the tenant; stored once per date
	Reason         string
}

// DateOutcome is the state of one pool-date after the operation.
type DateOutcome struct {
	Date      generic.TimePoint
	Consumed  decimal.Decimal
	Remaining *decimal.Decimal // nil = unlimited
	BucketID  string
}

// Allocation is the authoritative post-operation state of one allocation.
type Allocation struct {
	ID            string
	PoolID        generic.PoolID
	VariantID     generic.VariantID
	Type          generic.TransactionType
	Units         int64
	CapacityUnits decimal.Decimal // per date
	Transactions  []generic.Transaction
	Dates         []DateOutcome
}

// =============================================================================
// ALLOCATION SERVICE
// =============================================================================

type AllocationService struct {
	Repo        Repository
	Locker      Locker
	Now         func() time.Time
	MaxAttempts int
}

func NewAllocationService(repo Repository, locker Locker) *AllocationService {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &AllocationService{Repo: repo, Locker: locker, Now: time.Now, MaxAttempts: defaultMaxAttempts}
}

func (s *AllocationService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Allocate checks capacity and records a hold or booking.
func (s *AllocationService) Allocate(ctx context.Context, actor generic.Actor, req AllocationRequest) (*Allocation, error) {
	if actor.TenantID == "" {
		return nil, generic.ErrTenantRequired
	}
	if req.Units <= 0 {
		return nil, fmt.Errorf("%w: units must be positive, got %d", generic.ErrInvalidQuantity, req.Units)
	}
	if req.To.IsZero() {
		req.To = req.From
	}
	dates := generic.NewPeriod(req.From, req.To)
	if err := dates.Validate(); err != nil {
		return nil, err
	}
	if req.ReferenceID == "" {
		req.ReferenceID = newID()
	}

	var result *Allocation
	err := s.serialized(ctx, actor.TenantID, req.PoolID, func(repo Repository) error {
		var err error
		result, err = s.allocate(ctx, repo, actor, req, dates)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(logger.WithFields(ctx, map[string]any{
		"pool_id":       req.PoolID,
		"variant_id":    result.VariantID,
		"allocation_id": result.ID,
		"units":         req.Units,
		"type":          result.Type,
	}), "allocation recorded")
	return result, nil
}

// Confirm converts every outstanding hold of an allocation into a booking.
func (s *AllocationService) Confirm(ctx context.Context, actor generic.Actor, poolID generic.PoolID, allocationID string) (*Allocation, error) {
	if actor.TenantID == "" {
		return nil, generic.ErrTenantRequired
	}
	var result *Allocation
	err := s.serialized(ctx, actor.TenantID, poolID, func(repo Repository) error {
		var err error
		result, err = s.settle(ctx, repo, actor, poolID, allocationID, true, "")
		return err
	})
	return result, err
}

// Release reverses every outstanding hold or booking of an allocation.
func (s *AllocationService) Release(ctx context.Context, actor generic.Actor, poolID generic.PoolID, allocationID, reason string) (*Allocation, error) {
	if actor.TenantID == "" {
		return nil, generic.ErrTenantRequired
	}
	var result *Allocation
	err := s.serialized(ctx, actor.TenantID, poolID, func(repo Repository) error {
		var err error
		result, err = s.settle(ctx, repo, actor, poolID, allocationID, false, reason)
		return err
	})
	return result, err
}

// serialized takes the pool lock and runs fn in a store transaction,
// retrying from scratch on optimistic-concurrency conflicts.
func (s *AllocationService) serialized(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID, fn func(Repository) error) error {
	unlock, err := s.Locker.Lock(ctx, PoolLockKey(tenant, poolID))
	if err != nil {
		return fmt.Errorf("lock pool %s: %w", poolID, err)
	}
	defer unlock()

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	for attempt := 1; ; attempt++ {
		err = s.Repo.WithTx(ctx, fn)
		if err == nil || !generic.IsRetryable(err) || attempt >= attempts {
			return err
		}
		logger.Warn(logger.WithFields(ctx, map[string]any{
			"pool_id": poolID,
			"attempt": attempt,
		}), "consumption changed underneath, retrying")
	}
}

// =============================================================================
// ALLOCATE
// =============================================================================

type poolState struct {
	pool     *Pool
	capacity generic.Capacity
	variants []PoolVariant
	buckets  []Bucket
	sums     map[string]generic.ConsumptionSummary
}

func (s *AllocationService) loadState(ctx context.Context, repo Repository, tenant generic.TenantID, poolID generic.PoolID, dates generic.Period) (*poolState, error) {
	pool, err := repo.LoadPool(ctx, tenant, poolID)
	if err != nil {
		return nil, err
	}
	capacity, err := pool.Capacity()
	if err != nil {
		return nil, err
	}
	variants, err := repo.LoadVariants(ctx, tenant, poolID)
	if err != nil {
		return nil, err
	}
	set, err := repo.LoadBucketsInRange(ctx, tenant, BucketQuery{
		SupplierID: pool.SupplierID,
		From:       dates.Start,
		To:         dates.End,
	})
	if err != nil {
		return nil, err
	}
	st := &poolState{pool: pool, capacity: capacity, variants: variants, sums: map[string]generic.ConsumptionSummary{}}
	for _, b := range set.Buckets {
		if b.PoolID == pool.ID || b.PoolID == "" {
			st.buckets = append(st.buckets, b)
		}
	}

	txs, err := repo.LoadRange(ctx, tenant, poolID, dates.Start, dates.End)
	if err != nil {
		return nil, err
	}
	_, byDate := generic.GroupByDate(txs)
	for _, d := range dates.Days() {
		st.sums[d.String()] = generic.Summarize(byDate[d.String()], capacity.Unit())
	}
	return st, nil
}

func (st *poolState) bucketFor(variant generic.VariantID, date generic.TimePoint) *Bucket {
	for i := range st.buckets {
		if st.buckets[i].VariantID == variant && st.buckets[i].Covers(date) {
			return &st.buckets[i]
		}
	}
	return nil
}

// fits checks one variant against every date. It returns nil or the
// first reason the variant cannot take the units.
func (st *poolState) fits(v PoolVariant, units int64, dates []generic.TimePoint) error {
	for _, d := range dates {
		b := st.bucketFor(v.VariantID, d)
		var limit int64
		if b != nil {
			if !b.Sellable() {
				return fmt.Errorf("%w: bucket %s on %s", generic.ErrStopSell, b.ID, d)
			}
			limit = b.ActiveOverbookingLimit()
		}

		current := st.sums[d.String()].Consumed().Value
		if !CanAllocate(st.capacity, v, units, current, limit) {
			capErr := shortfall(st.capacity, v, units, current, limit)
			capErr.PoolID = st.pool.ID
			capErr.Date = d
			return capErr
		}

		if b != nil && b.Quantity != nil {
			ceiling := *b.Quantity + limit
			if b.Booked+b.Held+units > ceiling {
				return &generic.InsufficientCapacityError{
					PoolID:     st.pool.ID,
					VariantID:  v.VariantID,
					Date:       d,
					Requested:  decimal.NewFromInt(units),
					Available:  decimal.NewFromInt(ceiling - b.Booked - b.Held),
					Overbooked: decimal.NewFromInt(limit),
				}
			}
		}
	}
	return nil
}

func (s *AllocationService) allocate(ctx context.Context, repo Repository, actor generic.Actor, req AllocationRequest, dates generic.Period) (*Allocation, error) {
	st, err := s.loadState(ctx, repo, actor.TenantID, req.PoolID, dates)
	if err != nil {
		return nil, err
	}
	today := generic.DateOf(s.now())
	days := dates.Days()
	for _, d := range days {
		if err := st.pool.CheckAllocatable(d, today); err != nil {
			return nil, err
		}
	}

	chosen, err := st.choose(req, days)
	if err != nil {
		return nil, err
	}

	txType := generic.TxBooking
	if req.Hold {
		txType = generic.TxHold
	}
	consumed := ResolveConsumption(chosen, req.Units)
	createdAt := generic.NewInstant(s.now())
	ledger := generic.NewLedger(repo)

	alloc := &Allocation{
		ID:            req.ReferenceID,
		PoolID:        req.PoolID,
		VariantID:     chosen.VariantID,
		Type:          txType,
		Units:         req.Units,
		CapacityUnits: consumed,
	}
	adjusted := map[string]bool{}
	for _, d := range days {
		tx := generic.Transaction{
			ID:            generic.TransactionID(newID()),
			TenantID:      actor.TenantID,
			PoolID:        req.PoolID,
			VariantID:     chosen.VariantID,
			EffectiveAt:   d,
			Units:         req.Units,
			Weight:        chosen.CapacityWeight,
			Delta:         generic.NewAmountFromDecimal(consumed, st.capacity.Unit()),
			Type:          txType,
			ReferenceID:   req.ReferenceID,
			Reason:        req.Reason,
			CreatedBy:     actor.ID,
			CreatedByType: actor.Kind,
			CreatedAt:     createdAt,
		}
		if req.IdempotencyKey != "" {
			tx.IdempotencyKey = string(actor.TenantID) + ":" + req.IdempotencyKey + ":" + d.String()
		}

		b := st.bucketFor(chosen.VariantID, d)
		if b != nil {
			tx.Metadata = map[string]string{"bucket_id": b.ID}
		}

		sum := st.sums[d.String()]
		key := generic.ConsumptionKey{TenantID: actor.TenantID, PoolID: req.PoolID, Date: d}
		if err := ledger.AppendIfVersion(ctx, key, sum.Version, []generic.Transaction{tx}); err != nil {
			return nil, err
		}
		// An event bucket spans several dates but sells each unit once.
		if b != nil && !adjusted[b.ID] {
			adjusted[b.ID] = true
			if err := adjustForType(ctx, repo, actor.TenantID, b.ID, txType, req.Units); err != nil {
				return nil, err
			}
		}

		outcome := DateOutcome{Date: d, Consumed: sum.Consumed().Value.Add(consumed)}
		outcome.Remaining = st.capacity.Remaining(outcome.Consumed)
		if b != nil {
			outcome.BucketID = b.ID
		}
		alloc.Transactions = append(alloc.Transactions, tx)
		alloc.Dates = append(alloc.Dates, outcome)
	}

	err = repo.AppendAudit(ctx, generic.AuditEntry{
		ID:        newID(),
		TenantID:  actor.TenantID,
		Timestamp: s.now(),
		ActorID:   actor.ID,
		Action:    generic.AuditAllocation,
		Subject:   "pool:" + string(req.PoolID),
		Payload: map[string]any{
			"allocation_id":  alloc.ID,
			"variant_id":     string(chosen.VariantID),
			"type":           string(txType),
			"units":          req.Units,
			"capacity_units": consumed.String(),
			"from":           dates.Start.String(),
			"to":             dates.End.String(),
		},
	})
	return alloc, err
}

// choose returns the variant that takes the request: the named one, or
// the first auto-allocate candidate by priority that fits every date.
func (st *poolState) choose(req AllocationRequest, days []generic.TimePoint) (PoolVariant, error) {
	if req.VariantID != "" {
		for _, v := range st.variants {
			if v.VariantID != req.VariantID {
				continue
			}
			if !v.IsActive() {
				return PoolVariant{}, fmt.Errorf("%w: variant %s is inactive", generic.ErrInvalidState, v.VariantID)
			}
			return v, st.fits(v, req.Units, days)
		}
		return PoolVariant{}, fmt.Errorf("%w: %s in pool %s", generic.ErrVariantNotFound, req.VariantID, req.PoolID)
	}

	candidates := AutoCandidates(st.variants)
	if len(candidates) == 0 {
		return PoolVariant{}, &generic.InsufficientCapacityError{PoolID: req.PoolID, Date: req.From, Requested: decimal.NewFromInt(req.Units)}
	}
	var closest *generic.InsufficientCapacityError
	var lastErr error
	for _, v := range candidates {
		err := st.fits(v, req.Units, days)
		if err == nil {
			return v, nil
		}
		lastErr = err
		var capErr *generic.InsufficientCapacityError
		if errors.As(err, &capErr) && (closest == nil || capErr.Shortfall().LessThan(closest.Shortfall())) {
			closest = capErr
		}
	}
	if closest != nil {
		return PoolVariant{}, closest
	}
	return PoolVariant{}, lastErr
}

// =============================================================================
// CONFIRM / RELEASE
// =============================================================================

// outstanding returns the holds and bookings of an allocation that no
// release has reversed yet.
func outstanding(txs []generic.Transaction, allocationID string) (open []generic.Transaction, found bool) {
	reversed := map[generic.TransactionID]bool{}
	for _, tx := range txs {
		if tx.ReferenceID == allocationID && tx.Type == generic.TxRelease {
			reversed[tx.ReversesID] = true
		}
	}
	for _, tx := range txs {
		if tx.ReferenceID != allocationID {
			continue
		}
		found = true
		if tx.Type != generic.TxRelease && !reversed[tx.ID] {
			open = append(open, tx)
		}
	}
	return open, found
}

func (s *AllocationService) settle(ctx context.Context, repo Repository, actor generic.Actor, poolID generic.PoolID, allocationID string, confirm bool, reason string) (*Allocation, error) {
	pool, err := repo.LoadPool(ctx, actor.TenantID, poolID)
	if err != nil {
		return nil, err
	}
	capacity, err := pool.Capacity()
	if err != nil {
		return nil, err
	}
	history, err := repo.Load(ctx, actor.TenantID, poolID)
	if err != nil {
		return nil, err
	}
	open, found := outstanding(history, allocationID)
	if !found {
		return nil, fmt.Errorf("%w: allocation %s", generic.ErrTransactionNotFound, allocationID)
	}
	if confirm {
		var holds []generic.Transaction
		for _, tx := range open {
			if tx.Type == generic.TxHold {
				holds = append(holds, tx)
			}
		}
		open = holds
	}
	if len(open) == 0 {
		what := "released"
		if confirm {
			what = "holding nothing to confirm"
		}
		return nil, fmt.Errorf("%w: allocation %s is already %s", generic.ErrInvalidState, allocationID, what)
	}

	_, byDate := generic.GroupByDate(history)
	ledger := generic.NewLedger(repo)
	createdAt := generic.NewInstant(s.now())
	result := &Allocation{ID: allocationID, PoolID: poolID, VariantID: open[0].VariantID, Units: open[0].Units, CapacityUnits: open[0].Delta.Value}
	result.Type = generic.TxRelease
	if confirm {
		result.Type = generic.TxBooking
	}

	adjusted := map[string]bool{}
	for _, orig := range open {
		d := orig.EffectiveAt.Date()
		release := generic.Transaction{
			ID:            generic.TransactionID(newID()),
			TenantID:      actor.TenantID,
			PoolID:        poolID,
			VariantID:     orig.VariantID,
			EffectiveAt:   d,
			Units:         orig.Units,
			Weight:        orig.Weight,
			Delta:         orig.Delta.Neg(),
			Type:          generic.TxRelease,
			ReversesType:  orig.Type,
			ReversesID:    orig.ID,
			ReferenceID:   allocationID,
			Reason:        reason,
			Metadata:      orig.Metadata,
			CreatedBy:     actor.ID,
			CreatedByType: actor.Kind,
			CreatedAt:     createdAt,
		}
		batch := []generic.Transaction{release}
		if confirm {
			release.Reason = "confirmed"
			batch[0] = release
			booking := orig
			booking.ID = generic.TransactionID(newID())
			booking.Type = generic.TxBooking
			booking.IdempotencyKey = ""
			booking.CreatedBy, booking.CreatedByType, booking.CreatedAt = actor.ID, actor.Kind, createdAt
			batch = append(batch, booking)
		}

		dayTxs := byDate[d.String()]
		key := generic.ConsumptionKey{TenantID: actor.TenantID, PoolID: poolID, Date: d}
		if err := ledger.AppendIfVersion(ctx, key, len(dayTxs), batch); err != nil {
			return nil, err
		}
		byDate[d.String()] = append(dayTxs, batch...)

		if bucketID := orig.Metadata["bucket_id"]; bucketID != "" && !adjusted[bucketID+"|"+string(orig.Type)] {
			adjusted[bucketID+"|"+string(orig.Type)] = true
			var bookedDelta, heldDelta int64
			switch {
			case confirm:
				bookedDelta, heldDelta = orig.Units, -orig.Units
			case orig.Type == generic.TxHold:
				heldDelta = -orig.Units
			default:
				bookedDelta = -orig.Units
			}
			if err := repo.AdjustBucketCounts(ctx, actor.TenantID, bucketID, bookedDelta, heldDelta); err != nil {
				return nil, err
			}
		}

		sum := generic.Summarize(byDate[d.String()], capacity.Unit())
		result.Transactions = append(result.Transactions, batch...)
		result.Dates = append(result.Dates, DateOutcome{
			Date:      d,
			Consumed:  sum.Consumed().Value,
			Remaining: capacity.Remaining(sum.Consumed().Value),
			BucketID:  orig.Metadata["bucket_id"],
		})
	}

	action := generic.AuditRelease
	if confirm {
		action = generic.AuditAllocation
	}
	err = repo.AppendAudit(ctx, generic.AuditEntry{
		ID:        newID(),
		TenantID:  actor.TenantID,
		Timestamp: s.now(),
		ActorID:   actor.ID,
		Action:    action,
		Subject:   "pool:" + string(poolID),
		Payload: map[string]any{
			"allocation_id": allocationID,
			"confirmed":     confirm,
			"entries":       len(open),
			"reason":        reason,
		},
	})
	return result, err
}

func adjustForType(ctx context.Context, repo Repository, tenant generic.TenantID, bucketID string, t generic.TransactionType, units int64) error {
	if t == generic.TxHold {
		return repo.AdjustBucketCounts(ctx, tenant, bucketID, 0, units)
	}
	return repo.AdjustBucketCounts(ctx, tenant, bucketID, units, 0)
}
