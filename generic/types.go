/*
Package generic provides the core capacity engine shared by the inventory
and contract domains.

PURPOSE:
  This package contains the domain-agnostic building blocks for tracking a
  finite (or unlimited) block of capacity over time. Pools of hotel rooms,
  event seats or transfer vehicles are all expressed with the same types:
  a capacity, a period, and an append-only ledger of consumption.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a capacity unit (e.g., 12.5 rooms)
  - Transaction: An immutable ledger entry recording consumption changes
  - Identifiers: Type-safe IDs for tenants, pools, variants, suppliers
  - Actor: Who performed an operation, passed explicitly

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal so fractional weights never drift
  3. Type Safety: Strong typing for IDs prevents mixing pool/variant IDs
  4. Tenancy: Every read and write carries an explicit TenantID

USAGE:
  consumed := generic.NewAmount(1.5, "rooms").Mul(decimal.NewFromInt(20))
  tx := generic.Transaction{
      TenantID:  "org-1",
      PoolID:    "pool-001",
      VariantID: "suite",
      Units:     20,
      Delta:     consumed,
      Type:      generic.TxBooking,
  }

SEE ALSO:
  - capacity.go: Bounded vs unlimited capacity
  - ledger.go: Consumption replay from transactions
  - store.go: Transaction persistence interface
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with a capacity unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

// Unit is the free-form label of a pool's capacity ("rooms", "seats").
type Unit string

const UnitDefault Unit = "units"

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// TenantID is the opaque organization scope every record is partitioned by.
type TenantID string

type PoolID string
type VariantID string
type SupplierID string
type TransactionID string

// Actor identifies who performed an operation. It travels explicitly with
// each call instead of living in a global session.
type Actor struct {
	TenantID TenantID
	ID       string
	Kind     string // "operator", "system", "api"
}

// SystemActor is used by background jobs.
func SystemActor(tenant TenantID) Actor {
	return Actor{TenantID: tenant, ID: "system", Kind: "system"}
}

// =============================================================================
// TRANSACTION - Atomic change to pool consumption
// =============================================================================

type TransactionType string

const (
	TxHold    TransactionType = "hold"    // Capacity reserved but not confirmed
	TxBooking TransactionType = "booking" // Capacity sold
	TxRelease TransactionType = "release" // Reversal of a hold or booking
)

// Transaction is one consumption entry for a (tenant, pool, date) key.
// Delta is expressed in capacity units (units x weight); releases carry a
// negative delta and name the transaction they reverse. ReferenceID groups
// the per-date entries of one allocation.
type Transaction struct {
	ID             TransactionID
	TenantID       TenantID
	PoolID         PoolID
	VariantID      VariantID
	EffectiveAt    TimePoint
	Units          int64
	Weight         decimal.Decimal
	Delta          Amount
	Type           TransactionType
	ReversesType   TransactionType
	ReversesID     TransactionID // the hold/booking a release undoes
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy     string
	CreatedByType string
	CreatedAt     TimePoint
}

// Key returns the consumption key this transaction belongs to.
func (t Transaction) Key() ConsumptionKey {
	return ConsumptionKey{TenantID: t.TenantID, PoolID: t.PoolID, Date: t.EffectiveAt.Date()}
}

// ConsumptionKey scopes optimistic concurrency: capacity is enforced per
// pool and calendar date.
type ConsumptionKey struct {
	TenantID TenantID
	PoolID   PoolID
	Date     TimePoint
}
