/*
Package sqlite provides a SQLite-backed implementation of the allocation
engine's repositories.

PURPOSE:
  Persistent storage for pools, variants, rate plans, allocation buckets,
  the consumption ledger, contract versions and the audit log. Suitable for
  single-node deployments and for tests (":memory:").

DESIGN:
  - Ledger rows are append-only; releases are new rows
  - Every query is scoped by tenant_id
  - One connection: SQLite serializes writers anyway, and an in-memory
    database only exists on the connection that created it
  - All methods run through a querier so a transactional view issues its
    statements on the *sql.Tx and never touches the pool

BUCKET TEMPORAL KEY:
  Buckets store stay_date, event_start and event_end as nullable columns. The
  table does not enforce "exactly one" so rows written by other tools are
  still readable; they are decoded by inventory.SpanFromColumns and rows
  that break the rule are reported as malformed instead of failing the load.

USAGE:
  store, err := sqlite.New("allocation.db")
  pools := inventory.NewPoolService(store)
  versions := contract.NewVersionService(store.Contracts())

SEE ALSO:
  - inventory/repository.go: Repository contract
  - contract/version.go: Repository contract
  - generic/store.go: Ledger and audit contracts
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/contract"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/inventory"
)

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements every read and write against a querier. db is set only
// on the root store; multi-statement writes open their own transaction
// there and reuse the current one in a transactional view.
type repo struct {
	q  querier
	db *sql.DB
}

// Store is the root handle.
type Store struct {
	*repo
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{repo: &repo{q: db, db: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// NewMemory opens a private in-memory database.
func NewMemory() (*Store, error) {
	return New(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pools (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		external_ref TEXT NOT NULL DEFAULT '',
		pool_type TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		total_capacity INTEGER,
		capacity_unit TEXT NOT NULL DEFAULT 'units',
		min_commitment INTEGER,
		release_date TEXT,
		cutoff_days INTEGER,
		currency TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		attributes_json TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pools_tenant ON pools(tenant_id, name);

	CREATE TABLE IF NOT EXISTS pool_variants (
		tenant_id TEXT NOT NULL,
		pool_id TEXT NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
		variant_id TEXT NOT NULL,
		capacity_weight TEXT NOT NULL,
		cost_per_unit TEXT,
		sell_price_per_unit TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		auto_allocate INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, pool_id, variant_id)
	);

	CREATE TABLE IF NOT EXISTS rate_plans (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		pool_id TEXT NOT NULL DEFAULT '',
		variant_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'daily',
		event_periods_json TEXT NOT NULL DEFAULT '[]',
		time_slot_id TEXT NOT NULL DEFAULT '',
		inventory_model TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS buckets (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		pool_id TEXT NOT NULL DEFAULT '',
		rate_plan_id TEXT NOT NULL DEFAULT '',
		variant_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		time_slot_id TEXT NOT NULL DEFAULT '',
		stay_date TEXT,
		event_start TEXT,
		event_end TEXT,
		allocation_type TEXT NOT NULL,
		quantity INTEGER,
		booked INTEGER NOT NULL DEFAULT 0,
		held INTEGER NOT NULL DEFAULT 0,
		stop_sell INTEGER NOT NULL DEFAULT 0,
		blackout INTEGER NOT NULL DEFAULT 0,
		allow_overbooking INTEGER NOT NULL DEFAULT 0,
		overbooking_limit INTEGER,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_buckets_date ON buckets(tenant_id, stay_date);
	CREATE INDEX IF NOT EXISTS idx_buckets_event ON buckets(tenant_id, event_start, event_end);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		pool_id TEXT NOT NULL,
		variant_id TEXT NOT NULL DEFAULT '',
		effective_at TEXT NOT NULL,
		units INTEGER NOT NULL,
		weight TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reverses_type TEXT NOT NULL DEFAULT '',
		reverses_id TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_by_type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tx_pool_date ON transactions(tenant_id, pool_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_tx_reference ON transactions(tenant_id, reference_id);

	CREATE TABLE IF NOT EXISTS contract_versions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		pool_id TEXT NOT NULL DEFAULT '',
		number INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		attrition_applies INTEGER NOT NULL DEFAULT 0,
		committed_quantity INTEGER,
		minimum_pickup_percent TEXT,
		penalty_calculation TEXT NOT NULL DEFAULT '',
		grace_allowance INTEGER NOT NULL DEFAULT 0,
		attrition_period_type TEXT NOT NULL DEFAULT '',
		cost_per_unit TEXT,
		fixed_fee TEXT,
		currency TEXT NOT NULL DEFAULT '',
		terms_json TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_versions_contract ON contract_versions(tenant_id, contract_id, valid_from);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenant_ts ON audit_log(tenant_id, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL VIEWS
// =============================================================================

// atomic runs fn in a database transaction, or directly when the repo is
// already a transactional view.
func (r *repo) atomic(ctx context.Context, fn func(q querier) error) error {
	if r.db == nil {
		return fn(r.q)
	}
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (r *repo) begin(ctx context.Context) (*repo, func() error, func(), error) {
	if r.db == nil {
		return r, func() error { return nil }, func() {}, nil
	}
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &repo{q: sqlTx}, sqlTx.Commit, func() { sqlTx.Rollback() }, nil
}

// WithTx runs fn against an inventory.Repository bound to one database
// transaction. Nested calls join the outer transaction.
func (r *repo) WithTx(ctx context.Context, fn func(inventory.Repository) error) error {
	view, commit, rollback, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	if err := fn(inventoryView{view}); err != nil {
		return err
	}
	return commit()
}

type inventoryView struct{ *repo }

// Contracts returns the contract.Repository over the same database.
func (s *Store) Contracts() contract.Repository {
	return contractView{s.repo}
}

type contractView struct{ *repo }

func (c contractView) WithTx(ctx context.Context, fn func(contract.Repository) error) error {
	view, commit, rollback, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	if err := fn(contractView{view}); err != nil {
		return err
	}
	return commit()
}

var (
	_ inventory.Repository = (*Store)(nil)
	_ inventory.Repository = inventoryView{}
	_ contract.Repository  = contractView{}
)

// =============================================================================
// POOLS
// =============================================================================

const poolColumns = `id, tenant_id, supplier_id, name, external_ref, pool_type, valid_from, valid_to,
	total_capacity, capacity_unit, min_commitment, release_date, cutoff_days, currency,
	status, attributes_json, version, created_at, updated_at`

func (r *repo) SavePool(ctx context.Context, p inventory.Pool) error {
	attrs, err := marshalAttributes(p.Attributes)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO pools (` + poolColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			supplier_id = excluded.supplier_id,
			name = excluded.name,
			external_ref = excluded.external_ref,
			pool_type = excluded.pool_type,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			total_capacity = excluded.total_capacity,
			capacity_unit = excluded.capacity_unit,
			min_commitment = excluded.min_commitment,
			release_date = excluded.release_date,
			cutoff_days = excluded.cutoff_days,
			currency = excluded.currency,
			status = excluded.status,
			attributes_json = excluded.attributes_json,
			version = excluded.version,
			updated_at = excluded.updated_at
		WHERE pools.tenant_id = excluded.tenant_id
	`
	var cutoff any
	if p.CutoffDays != nil {
		cutoff = *p.CutoffDays
	}
	res, err := r.q.ExecContext(ctx, query,
		p.ID, p.TenantID, p.SupplierID, p.Name, p.ExternalRef, p.Type,
		p.Validity.Start.String(), p.Validity.End.String(),
		nullInt(p.TotalCapacity), p.CapacityUnit, nullInt(p.MinCommitment),
		nullDate(p.ReleaseDate), cutoff, p.Currency,
		p.Status, attrs, p.Version, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrPoolNotFound, p.ID)
	}
	return nil
}

func (r *repo) LoadPool(ctx context.Context, tenant generic.TenantID, id generic.PoolID) (*inventory.Pool, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+poolColumns+" FROM pools WHERE tenant_id = ? AND id = ?", tenant, id)
	p, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrPoolNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) ListPools(ctx context.Context, tenant generic.TenantID) ([]inventory.Pool, error) {
	return r.queryPools(ctx, "SELECT "+poolColumns+" FROM pools WHERE tenant_id = ? ORDER BY name, id", tenant)
}

func (r *repo) ListAllPools(ctx context.Context) ([]inventory.Pool, error) {
	return r.queryPools(ctx, "SELECT "+poolColumns+" FROM pools ORDER BY tenant_id, id")
}

func (r *repo) queryPools(ctx context.Context, query string, args ...any) ([]inventory.Pool, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var pools []inventory.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (r *repo) DeletePool(ctx context.Context, tenant generic.TenantID, id generic.PoolID) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM pools WHERE tenant_id = ? AND id = ?", tenant, id)
	if err != nil {
		return fmt.Errorf("failed to delete pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrPoolNotFound, id)
	}
	return nil
}

func scanPool(row scanner) (inventory.Pool, error) {
	var (
		p                    inventory.Pool
		validFrom, validTo   string
		total, minCommit     sql.NullInt64
		releaseDate          sql.NullString
		cutoff               sql.NullInt64
		attrs                string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.SupplierID, &p.Name, &p.ExternalRef, &p.Type,
		&validFrom, &validTo, &total, &p.CapacityUnit, &minCommit, &releaseDate,
		&cutoff, &p.Currency, &p.Status, &attrs, &p.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Validity = generic.NewPeriod(parseDate(validFrom), parseDate(validTo))
	p.TotalCapacity = intPtr(total)
	p.MinCommitment = intPtr(minCommit)
	p.ReleaseDate = datePtr(releaseDate)
	if cutoff.Valid {
		c := int(cutoff.Int64)
		p.CutoffDays = &c
	}
	if p.Attributes, err = unmarshalAttributes(attrs); err != nil {
		return p, fmt.Errorf("pool %s attributes: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// POOL VARIANTS
// =============================================================================

func (r *repo) SaveVariant(ctx context.Context, v inventory.PoolVariant) error {
	query := `
		INSERT INTO pool_variants
		(tenant_id, pool_id, variant_id, capacity_weight, cost_per_unit, sell_price_per_unit,
		 priority, auto_allocate, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, pool_id, variant_id) DO UPDATE SET
			capacity_weight = excluded.capacity_weight,
			cost_per_unit = excluded.cost_per_unit,
			sell_price_per_unit = excluded.sell_price_per_unit,
			priority = excluded.priority,
			auto_allocate = excluded.auto_allocate,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := r.q.ExecContext(ctx, query,
		v.TenantID, v.PoolID, v.VariantID, v.CapacityWeight.String(),
		nullDecimal(v.CostPerUnit), nullDecimal(v.SellPricePerUnit),
		v.Priority, v.AutoAllocate, v.Status, formatTime(v.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", generic.ErrPoolNotFound, v.PoolID)
		}
		return fmt.Errorf("failed to save variant: %w", err)
	}
	return nil
}

func (r *repo) LoadVariants(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID) ([]inventory.PoolVariant, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tenant_id, pool_id, variant_id, capacity_weight, cost_per_unit, sell_price_per_unit,
		       priority, auto_allocate, status, updated_at
		FROM pool_variants
		WHERE tenant_id = ? AND pool_id = ?
		ORDER BY priority, variant_id
	`, tenant, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []inventory.PoolVariant
	for rows.Next() {
		var (
			v           inventory.PoolVariant
			weight      string
			cost, price decimal.NullDecimal
			updatedAt   string
		)
		if err := rows.Scan(&v.TenantID, &v.PoolID, &v.VariantID, &weight, &cost, &price,
			&v.Priority, &v.AutoAllocate, &v.Status, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		v.CapacityWeight = generic.MustParseDecimal(weight)
		v.CostPerUnit = decimalPtr(cost)
		v.SellPricePerUnit = decimalPtr(price)
		v.UpdatedAt = parseTime(updatedAt)
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (r *repo) DeleteVariant(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID, variantID generic.VariantID) error {
	res, err := r.q.ExecContext(ctx,
		"DELETE FROM pool_variants WHERE tenant_id = ? AND pool_id = ? AND variant_id = ?",
		tenant, poolID, variantID)
	if err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s in pool %s", generic.ErrVariantNotFound, variantID, poolID)
	}
	return nil
}

// =============================================================================
// RATE PLANS
// =============================================================================

type periodJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r *repo) SaveRatePlan(ctx context.Context, rp inventory.RatePlan) error {
	periods := make([]periodJSON, len(rp.EventPeriods))
	for i, p := range rp.EventPeriods {
		periods[i] = periodJSON{Start: p.Start.String(), End: p.End.String()}
	}
	periodsJSON, err := json.Marshal(periods)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO rate_plans
		(id, tenant_id, pool_id, variant_id, supplier_id, name, valid_from, valid_to,
		 mode, event_periods_json, time_slot_id, inventory_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pool_id = excluded.pool_id,
			variant_id = excluded.variant_id,
			supplier_id = excluded.supplier_id,
			name = excluded.name,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			mode = excluded.mode,
			event_periods_json = excluded.event_periods_json,
			time_slot_id = excluded.time_slot_id,
			inventory_model = excluded.inventory_model
		WHERE rate_plans.tenant_id = excluded.tenant_id
	`
	_, err = r.q.ExecContext(ctx, query,
		rp.ID, rp.TenantID, rp.PoolID, rp.VariantID, rp.SupplierID, rp.Name,
		rp.Validity.Start.String(), rp.Validity.End.String(),
		rp.Mode, string(periodsJSON), rp.TimeSlotID, rp.InventoryModel, formatTime(rp.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate plan: %w", err)
	}
	return nil
}

func (r *repo) LoadRatePlan(ctx context.Context, tenant generic.TenantID, id string) (*inventory.RatePlan, error) {
	var (
		rp                 inventory.RatePlan
		validFrom, validTo string
		periodsJSON        string
		createdAt          string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, pool_id, variant_id, supplier_id, name, valid_from, valid_to,
		       mode, event_periods_json, time_slot_id, inventory_model, created_at
		FROM rate_plans WHERE tenant_id = ? AND id = ?
	`, tenant, id).Scan(
		&rp.ID, &rp.TenantID, &rp.PoolID, &rp.VariantID, &rp.SupplierID, &rp.Name,
		&validFrom, &validTo, &rp.Mode, &periodsJSON, &rp.TimeSlotID, &rp.InventoryModel, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrRatePlanNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rp.Validity = generic.NewPeriod(parseDate(validFrom), parseDate(validTo))
	var periods []periodJSON
	if err := json.Unmarshal([]byte(periodsJSON), &periods); err != nil {
		return nil, fmt.Errorf("rate plan %s event periods: %w", id, err)
	}
	for _, p := range periods {
		rp.EventPeriods = append(rp.EventPeriods, generic.NewPeriod(parseDate(p.Start), parseDate(p.End)))
	}
	rp.CreatedAt = parseTime(createdAt)
	return &rp, nil
}

// =============================================================================
// BUCKETS
// =============================================================================

const bucketColumns = `id, tenant_id, pool_id, rate_plan_id, variant_id, supplier_id, time_slot_id,
	stay_date, event_start, event_end, allocation_type, quantity, booked, held, stop_sell, blackout,
	allow_overbooking, overbooking_limit, notes, created_at, updated_at`

// UpsertBucket writes the generated bucket unless the stored row already
// carries bookings or holds. The guard lives in the statement itself so a
// booking committed after the caller's read is still protected.
func (r *repo) UpsertBucket(ctx context.Context, b inventory.Bucket) (bool, error) {
	if err := b.Validate(); err != nil {
		return false, err
	}
	date, evStart, evEnd := spanColumns(b.Span)
	query := `
		INSERT INTO buckets (` + bucketColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pool_id = excluded.pool_id,
			rate_plan_id = excluded.rate_plan_id,
			stay_date = excluded.stay_date,
			event_start = excluded.event_start,
			event_end = excluded.event_end,
			allocation_type = excluded.allocation_type,
			quantity = excluded.quantity,
			stop_sell = excluded.stop_sell,
			blackout = excluded.blackout,
			allow_overbooking = excluded.allow_overbooking,
			overbooking_limit = excluded.overbooking_limit,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		WHERE buckets.booked = 0 AND buckets.held = 0 AND buckets.tenant_id = excluded.tenant_id
	`
	now := time.Now().UTC()
	created, updated := b.CreatedAt, b.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	res, err := r.q.ExecContext(ctx, query,
		b.ID, b.TenantID, b.PoolID, b.RatePlanID, b.VariantID, b.SupplierID, b.TimeSlotID,
		date, evStart, evEnd, b.AllocationType, nullInt(b.Quantity), b.Booked, b.Held,
		b.StopSell, b.Blackout, b.AllowOverbooking, nullInt(b.OverbookingLimit), b.Notes,
		formatTime(created), formatTime(updated),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert bucket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *repo) UpdateBucket(ctx context.Context, b inventory.Bucket) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE buckets SET
			quantity = ?, stop_sell = ?, blackout = ?, allow_overbooking = ?,
			overbooking_limit = ?, notes = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`, nullInt(b.Quantity), b.StopSell, b.Blackout, b.AllowOverbooking,
		nullInt(b.OverbookingLimit), b.Notes, formatTime(b.UpdatedAt), b.TenantID, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update bucket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrBucketNotFound, b.ID)
	}
	return nil
}

func (r *repo) AdjustBucketCounts(ctx context.Context, tenant generic.TenantID, id string, bookedDelta, heldDelta int64) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE buckets SET booked = booked + ?, held = held + ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND booked + ? >= 0 AND held + ? >= 0
	`, bookedDelta, heldDelta, formatTime(time.Now()), tenant, id, bookedDelta, heldDelta)
	if err != nil {
		return fmt.Errorf("failed to adjust bucket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.LoadBucket(ctx, tenant, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: bucket %s counters would go negative", generic.ErrInvalidQuantity, id)
	}
	return nil
}

func (r *repo) LoadBucket(ctx context.Context, tenant generic.TenantID, id string) (*inventory.Bucket, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+bucketColumns+" FROM buckets WHERE tenant_id = ? AND id = ?", tenant, id)
	b, err := scanBucket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrBucketNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadBucketsInRange returns buckets overlapping [q.From, q.To]. Rows
// missing a usable temporal key cannot be placed in the range, so they are
// always returned in Malformed for the selected variant/supplier.
func (r *repo) LoadBucketsInRange(ctx context.Context, tenant generic.TenantID, q inventory.BucketQuery) (inventory.BucketSet, error) {
	from, to := q.From.String(), q.To.String()
	var sb strings.Builder
	sb.WriteString("SELECT " + bucketColumns + ` FROM buckets
		WHERE tenant_id = ?
		  AND ((stay_date IS NOT NULL AND stay_date >= ? AND stay_date <= ?)
		    OR (event_start IS NOT NULL AND event_start <= ? AND COALESCE(event_end, event_start) >= ?)
		    OR (stay_date IS NULL AND (event_start IS NULL OR event_end IS NULL)))`)
	args := []any{tenant, from, to, to, from}
	if q.VariantID != "" {
		sb.WriteString(" AND variant_id = ?")
		args = append(args, q.VariantID)
	}
	if q.SupplierID != "" {
		sb.WriteString(" AND supplier_id = ?")
		args = append(args, q.SupplierID)
	}
	if q.PoolID != "" {
		sb.WriteString(" AND pool_id = ?")
		args = append(args, q.PoolID)
	}
	if q.RatePlanID != "" {
		sb.WriteString(" AND rate_plan_id = ?")
		args = append(args, q.RatePlanID)
	}
	sb.WriteString(" ORDER BY COALESCE(stay_date, event_start), variant_id, id")

	rows, err := r.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return inventory.BucketSet{}, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var set inventory.BucketSet
	for rows.Next() {
		b, err := scanBucket(rows)
		var malformed *generic.MalformedBucketError
		if errors.As(err, &malformed) {
			set.Malformed = append(set.Malformed, malformed)
			continue
		}
		if err != nil {
			return inventory.BucketSet{}, err
		}
		set.Buckets = append(set.Buckets, b)
	}
	return set, rows.Err()
}

func scanBucket(row scanner) (inventory.Bucket, error) {
	var (
		b                    inventory.Bucket
		date, evStart, evEnd sql.NullString
		quantity, obLimit    sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(
		&b.ID, &b.TenantID, &b.PoolID, &b.RatePlanID, &b.VariantID, &b.SupplierID, &b.TimeSlotID,
		&date, &evStart, &evEnd, &b.AllocationType, &quantity, &b.Booked, &b.Held,
		&b.StopSell, &b.Blackout, &b.AllowOverbooking, &obLimit, &b.Notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return b, err
	}
	b.Span, err = inventory.SpanFromColumns(b.ID, datePtr(date), datePtr(evStart), datePtr(evEnd))
	if err != nil {
		return b, err
	}
	b.Quantity = intPtr(quantity)
	b.OverbookingLimit = intPtr(obLimit)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func spanColumns(span inventory.Span) (date, evStart, evEnd any) {
	switch s := span.(type) {
	case inventory.DailySpan:
		return s.Date.String(), nil, nil
	case inventory.EventSpan:
		return nil, s.StartDate.String(), s.EndDate.String()
	}
	return nil, nil, nil
}

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

const txColumns = `id, tenant_id, pool_id, variant_id, effective_at, units, weight, delta_value, delta_unit,
	tx_type, reverses_type, reverses_id, reference_id, reason, idempotency_key, metadata_json,
	created_by, created_by_type, created_at`

// Append adds a transaction to the ledger.
func (r *repo) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, r.q, tx)
}

func appendTx(ctx context.Context, q querier, tx generic.Transaction) error {
	metadataJSON := ""
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return err
		}
		metadataJSON = string(raw)
	}
	createdAt := tx.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	weight := tx.Weight
	if weight.IsZero() {
		weight = decimal.NewFromInt(1)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.TenantID, tx.PoolID, tx.VariantID,
		tx.EffectiveAt.Date().String(), tx.Units, weight.String(),
		tx.Delta.Value.String(), tx.Delta.Unit,
		tx.Type, tx.ReversesType, tx.ReversesID, tx.ReferenceID, tx.Reason,
		nullString(tx.IdempotencyKey), metadataJSON,
		tx.CreatedBy, tx.CreatedByType, formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err, "transactions.idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions atomically.
func (r *repo) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	if err := checkBatchKeys(txs); err != nil {
		return err
	}
	return r.atomic(ctx, func(q querier) error {
		for _, tx := range txs {
			if err := appendTx(ctx, q, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendIfVersion appends txs only while the (tenant, pool, date) key still
// holds `expected` ledger rows. The count and the inserts share one
// database transaction.
func (r *repo) AppendIfVersion(ctx context.Context, key generic.ConsumptionKey, expected int, txs []generic.Transaction) error {
	if err := checkBatchKeys(txs); err != nil {
		return err
	}
	return r.atomic(ctx, func(q querier) error {
		var count int
		err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM transactions WHERE tenant_id = ? AND pool_id = ? AND effective_at = ?",
			key.TenantID, key.PoolID, key.Date.Date().String(),
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to read ledger version: %w", err)
		}
		if count != expected {
			return generic.ErrConcurrentModification
		}
		for _, tx := range txs {
			if err := appendTx(ctx, q, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func checkBatchKeys(txs []generic.Transaction) error {
	idempotencyKeys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if idempotencyKeys[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		idempotencyKeys[tx.IdempotencyKey] = true
	}
	return nil
}

// Load returns all transactions for a pool.
func (r *repo) Load(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID) ([]generic.Transaction, error) {
	return r.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant_id = ? AND pool_id = ?
		ORDER BY effective_at ASC, rowid ASC
	`, tenant, poolID)
}

// LoadRange returns a pool's transactions dated within [from, to].
func (r *repo) LoadRange(ctx context.Context, tenant generic.TenantID, poolID generic.PoolID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return r.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant_id = ? AND pool_id = ?
		  AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, rowid ASC
	`, tenant, poolID, from.Date().String(), to.Date().String())
}

func (r *repo) Get(ctx context.Context, tenant generic.TenantID, id generic.TransactionID) (*generic.Transaction, error) {
	txs, err := r.queryTransactions(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE tenant_id = ? AND id = ?", tenant, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: %s", generic.ErrTransactionNotFound, id)
	}
	return &txs[0], nil
}

// Exists checks if an idempotency key exists.
func (r *repo) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (r *repo) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(row scanner) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		effectiveAt    string
		weight         string
		deltaValue     string
		deltaUnit      string
		idempotencyKey sql.NullString
		metadataJSON   string
		createdAt      string
	)
	err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.PoolID, &tx.VariantID, &effectiveAt, &tx.Units, &weight,
		&deltaValue, &deltaUnit, &tx.Type, &tx.ReversesType, &tx.ReversesID, &tx.ReferenceID,
		&tx.Reason, &idempotencyKey, &metadataJSON, &tx.CreatedBy, &tx.CreatedByType, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.EffectiveAt = parseDate(effectiveAt)
	tx.Weight = generic.MustParseDecimal(weight)
	tx.Delta = generic.NewAmountFromDecimal(generic.MustParseDecimal(deltaValue), generic.Unit(deltaUnit))
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt = generic.NewInstant(parseTime(createdAt))
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("transaction %s metadata: %w", tx.ID, err)
		}
	}
	return tx, nil
}

// =============================================================================
// CONTRACT VERSIONS
// =============================================================================

const versionColumns = `id, tenant_id, contract_id, supplier_id, pool_id, number, name, valid_from, valid_to,
	attrition_applies, committed_quantity, minimum_pickup_percent, penalty_calculation,
	grace_allowance, attrition_period_type, cost_per_unit, fixed_fee, currency, terms_json,
	notes, created_at, updated_at`

func (r *repo) SaveContractVersion(ctx context.Context, v contract.Version) error {
	terms, err := marshalAttributes(v.Terms)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO contract_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			supplier_id = excluded.supplier_id,
			pool_id = excluded.pool_id,
			name = excluded.name,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			attrition_applies = excluded.attrition_applies,
			committed_quantity = excluded.committed_quantity,
			minimum_pickup_percent = excluded.minimum_pickup_percent,
			penalty_calculation = excluded.penalty_calculation,
			grace_allowance = excluded.grace_allowance,
			attrition_period_type = excluded.attrition_period_type,
			cost_per_unit = excluded.cost_per_unit,
			fixed_fee = excluded.fixed_fee,
			currency = excluded.currency,
			terms_json = excluded.terms_json,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		WHERE contract_versions.tenant_id = excluded.tenant_id
	`,
		v.ID, v.TenantID, v.ContractID, v.SupplierID, v.PoolID, v.Number, v.Name,
		v.Validity.Start.String(), v.Validity.End.String(),
		v.AttritionApplies, nullInt(v.CommittedQuantity), nullDecimal(v.MinimumPickupPercent),
		v.PenaltyCalculation, v.GraceAllowance, v.AttritionPeriodType,
		nullDecimal(v.CostPerUnit), nullDecimal(v.FixedFee), v.Currency, terms, v.Notes,
		formatTime(v.CreatedAt), formatTime(v.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save contract version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrContractVersionNotFound, v.ID)
	}
	return nil
}

func (r *repo) LoadContractVersion(ctx context.Context, tenant generic.TenantID, id string) (*contract.Version, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM contract_versions WHERE tenant_id = ? AND id = ?", tenant, id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrContractVersionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repo) ListContractVersions(ctx context.Context, tenant generic.TenantID, contractID string) ([]contract.Version, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM contract_versions
		WHERE tenant_id = ? AND contract_id = ?
		ORDER BY valid_from, number
	`, tenant, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contract versions: %w", err)
	}
	defer rows.Close()

	var versions []contract.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *repo) DeleteContractVersion(ctx context.Context, tenant generic.TenantID, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM contract_versions WHERE tenant_id = ? AND id = ?", tenant, id)
	if err != nil {
		return fmt.Errorf("failed to delete contract version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrContractVersionNotFound, id)
	}
	return nil
}

func scanVersion(row scanner) (contract.Version, error) {
	var (
		v                    contract.Version
		validFrom, validTo   string
		committed            sql.NullInt64
		minPct, cost, fee    decimal.NullDecimal
		terms                string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&v.ID, &v.TenantID, &v.ContractID, &v.SupplierID, &v.PoolID, &v.Number, &v.Name,
		&validFrom, &validTo, &v.AttritionApplies, &committed, &minPct, &v.PenaltyCalculation,
		&v.GraceAllowance, &v.AttritionPeriodType, &cost, &fee, &v.Currency, &terms, &v.Notes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return v, err
	}
	v.Validity = generic.NewPeriod(parseDate(validFrom), parseDate(validTo))
	v.CommittedQuantity = intPtr(committed)
	v.MinimumPickupPercent = decimalPtr(minPct)
	v.CostPerUnit = decimalPtr(cost)
	v.FixedFee = decimalPtr(fee)
	if v.Terms, err = unmarshalAttributes(terms); err != nil {
		return v, fmt.Errorf("contract version %s terms: %w", v.ID, err)
	}
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updatedAt)
	return v, nil
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (r *repo) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	payload := ""
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		payload = string(raw)
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, ts, actor_id, action, subject, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, formatTime(e.Timestamp), e.ActorID, e.Action, e.Subject, payload)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries, newest first.
func (r *repo) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var sb strings.Builder
	sb.WriteString("SELECT id, tenant_id, ts, actor_id, action, subject, payload_json FROM audit_log WHERE tenant_id = ?")
	args := []any{f.TenantID}
	if f.ActorID != nil {
		sb.WriteString(" AND actor_id = ?")
		args = append(args, *f.ActorID)
	}
	if f.Subject != nil {
		sb.WriteString(" AND subject = ?")
		args = append(args, *f.Subject)
	}
	if len(f.Actions) > 0 {
		sb.WriteString(" AND action IN (?" + strings.Repeat(", ?", len(f.Actions)-1) + ")")
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}
	if f.From != nil {
		sb.WriteString(" AND ts >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		sb.WriteString(" AND ts <= ?")
		args = append(args, formatTime(*f.To))
	}
	sb.WriteString(" ORDER BY ts DESC, rowid DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			ts      string
			payload string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &ts, &e.ActorID, &e.Action, &e.Subject, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit entry %s payload: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"transactions", "buckets", "rate_plans", "pool_variants", "pools", "contract_versions", "audit_log"}
	return s.atomic(ctx, func(q querier) error {
		for _, table := range tables {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

// Timestamps use a fixed-width layout so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDate(s string) generic.TimePoint {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullDate(p *generic.TimePoint) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: p.Date().String(), Valid: true}
}

func nullDecimal(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func datePtr(s sql.NullString) *generic.TimePoint {
	if !s.Valid {
		return nil
	}
	tp := parseDate(s.String)
	return &tp
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func marshalAttributes(a generic.Attributes) (string, error) {
	if a.IsEmpty() {
		return "", nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(raw), nil
}

func unmarshalAttributes(s string) (generic.Attributes, error) {
	var a generic.Attributes
	if s == "" {
		return a, nil
	}
	err := json.Unmarshal([]byte(s), &a)
	return a, err
}

func isUniqueConstraintError(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
