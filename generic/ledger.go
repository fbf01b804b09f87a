/*
ledger.go - Append-only consumption log

PURPOSE:
  The Ledger is the source of truth for pool consumption. Every hold,
  booking and release is recorded here. Consumption is always computed by
  replaying transactions; there is no separate running total that can
  drift from the history.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, transactions cannot be modified.
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates).

CORRECTIONS:
  A cancelled booking is not edited. A TxRelease with the negated delta is
  appended and names the type it reverses, so held and booked units can
  still be told apart after replay.

EXAMPLE FLOW:
  1. Hold 4 suites (weight 1.5):      TxHold    +6.0
  2. Confirm the hold:                TxRelease -6.0 (reverses hold)
                                      TxBooking +6.0
  3. Guest cancels:                   TxRelease -6.0 (reverses booking)

SEE ALSO:
  - store.go: Low-level persistence interface
  - inventory/allocation.go: Capacity checks on top of the ledger
*/
package generic

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only consumption log
// =============================================================================

type Ledger interface {
	Append(ctx context.Context, tx Transaction) error
	AppendBatch(ctx context.Context, txs []Transaction) error

	// AppendIfVersion appends only if nobody wrote to the key since `expected`.
	AppendIfVersion(ctx context.Context, key ConsumptionKey, expected int, txs []Transaction) error

	// TransactionsOn returns the transactions of one consumption key.
	TransactionsOn(ctx context.Context, key ConsumptionKey) ([]Transaction, error)

	// TransactionsInRange returns a pool's transactions in [from, to].
	TransactionsInRange(ctx context.Context, tenant TenantID, poolID PoolID, from, to TimePoint) ([]Transaction, error)

	// SummaryOn replays one key into a ConsumptionSummary.
	SummaryOn(ctx context.Context, key ConsumptionKey, unit Unit) (ConsumptionSummary, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if err := l.checkIdempotency(ctx, []Transaction{tx}); err != nil {
		return err
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	if err := l.checkIdempotency(ctx, txs); err != nil {
		return err
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) AppendIfVersion(ctx context.Context, key ConsumptionKey, expected int, txs []Transaction) error {
	if err := l.checkIdempotency(ctx, txs); err != nil {
		return err
	}
	return l.Store.AppendIfVersion(ctx, key, expected, txs)
}

func (l *DefaultLedger) checkIdempotency(ctx context.Context, txs []Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return nil
}

func (l *DefaultLedger) TransactionsOn(ctx context.Context, key ConsumptionKey) ([]Transaction, error) {
	day := key.Date.Date()
	return l.Store.LoadRange(ctx, key.TenantID, key.PoolID, day, day)
}

func (l *DefaultLedger) TransactionsInRange(ctx context.Context, tenant TenantID, poolID PoolID, from, to TimePoint) ([]Transaction, error) {
	return l.Store.LoadRange(ctx, tenant, poolID, from, to)
}

func (l *DefaultLedger) SummaryOn(ctx context.Context, key ConsumptionKey, unit Unit) (ConsumptionSummary, error) {
	txs, err := l.TransactionsOn(ctx, key)
	if err != nil {
		return ConsumptionSummary{}, err
	}
	return Summarize(txs, unit), nil
}

// =============================================================================
// CONSUMPTION SUMMARY - Replayed state of one key
// =============================================================================

// VariantConsumption is one variant's share of a key's consumption.
type VariantConsumption struct {
	VariantID   VariantID
	BookedUnits int64
	HeldUnits   int64
	Consumed    Amount // weighted capacity units, holds included
}

// ConsumptionSummary is the replayed state of a set of transactions.
type ConsumptionSummary struct {
	Version     int // number of transactions replayed
	BookedUnits int64
	HeldUnits   int64
	Booked      Amount // weighted capacity units sold
	Held        Amount // weighted capacity units on hold
	ByVariant   []VariantConsumption
}

// Consumed is the capacity in use: bookings plus holds.
func (s ConsumptionSummary) Consumed() Amount { return s.Booked.Add(s.Held) }

// Summarize replays transactions. Releases subtract from whichever side
// (held or booked) they reverse.
func Summarize(txs []Transaction, unit Unit) ConsumptionSummary {
	zero := NewAmountFromDecimal(decimal.Zero, normalizeUnit(unit))
	sum := ConsumptionSummary{Version: len(txs), Booked: zero, Held: zero}
	byVariant := map[VariantID]*VariantConsumption{}

	for _, tx := range txs {
		vc, ok := byVariant[tx.VariantID]
		if !ok {
			vc = &VariantConsumption{VariantID: tx.VariantID, Consumed: zero}
			byVariant[tx.VariantID] = vc
		}
		delta := NewAmountFromDecimal(tx.Delta.Value, zero.Unit)

		side := tx.Type
		units := tx.Units
		if tx.Type == TxRelease {
			side = tx.ReversesType
			units = -tx.Units
		}
		switch side {
		case TxHold:
			sum.HeldUnits += units
			sum.Held = sum.Held.Add(delta)
			vc.HeldUnits += units
		case TxBooking:
			sum.BookedUnits += units
			sum.Booked = sum.Booked.Add(delta)
			vc.BookedUnits += units
		}
		vc.Consumed = vc.Consumed.Add(delta)
	}

	for _, vc := range byVariant {
		sum.ByVariant = append(sum.ByVariant, *vc)
	}
	sort.Slice(sum.ByVariant, func(i, j int) bool {
		return sum.ByVariant[i].VariantID < sum.ByVariant[j].VariantID
	})
	return sum
}

// GroupByDate splits transactions per calendar date, dates ascending.
func GroupByDate(txs []Transaction) ([]TimePoint, map[string][]Transaction) {
	groups := map[string][]Transaction{}
	var dates []TimePoint
	for _, tx := range txs {
		k := tx.EffectiveAt.Date().String()
		if _, ok := groups[k]; !ok {
			dates = append(dates, tx.EffectiveAt.Date())
		}
		groups[k] = append(groups[k], tx)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, groups
}
