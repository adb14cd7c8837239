package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opentrusty/subsites/internal/record"
)

const pgUndefinedTable = "42P01"

// RecordRepository implements record.Store on arbitrary tenant-owned tables.
// Reads are limited to the tenants of the installed restrictor.
type RecordRepository struct {
	db *DB

	mu         sync.RWMutex
	restrictor record.Restrictor
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// SetRestrictor installs the tenant restriction applied to record queries
func (r *RecordRepository) SetRestrictor(restrictor record.Restrictor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restrictor = restrictor
}

func (r *RecordRepository) currentRestrictor() record.Restrictor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.restrictor
}

// Query selects records, adding the tenant condition of ctx on the base table
func (r *RecordRepository) Query(ctx context.Context, q record.Query) ([]record.Record, error) {
	builder, err := r.selectBuilder(ctx, q)
	if err != nil {
		return nil, err
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build record query: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapTableError(q.Table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, wrapTableError(q.Table, err)
	}

	out := make([]record.Record, len(maps))
	for i, m := range maps {
		out[i] = record.Record(m)
	}
	return out, nil
}

func (r *RecordRepository) selectBuilder(ctx context.Context, q record.Query) (squirrel.SelectBuilder, error) {
	if err := validateQuery(q); err != nil {
		return squirrel.SelectBuilder{}, err
	}

	columns := q.Columns
	if len(columns) == 0 {
		columns = []string{q.Table + ".*"}
	}
	builder := psql.Select(columns...).From(q.Table)

	for _, j := range q.Joins {
		clause := j.Table + " ON " + j.On
		if j.Left {
			builder = builder.LeftJoin(clause)
		} else {
			builder = builder.Join(clause)
		}
	}
	if len(q.Where) > 0 {
		builder = builder.Where(squirrel.Eq(q.Where))
	}

	ids, restricted, err := record.Restriction(ctx, r.currentRestrictor(), q)
	if err != nil {
		return squirrel.SelectBuilder{}, err
	}
	if restricted {
		builder = builder.Where(squirrel.Eq{q.Table + "." + record.TenantColumn: ids})
	}

	if len(q.OrderBy) > 0 {
		builder = builder.OrderBy(q.OrderBy...)
	}
	if q.Limit > 0 {
		builder = builder.Limit(q.Limit)
	}
	return builder, nil
}

// Insert stores rec in table. A record without a tenant gets the single
// tenant in scope, or the column default.
func (r *RecordRepository) Insert(ctx context.Context, table string, rec record.Record) (int64, error) {
	if !record.ValidIdentifier(table) {
		return 0, fmt.Errorf("%w: table %q", record.ErrBadIdentifier, table)
	}

	values := make(record.Record, len(rec)+1)
	for k, v := range rec {
		if k == "id" {
			continue
		}
		if !record.ValidIdentifier(k) {
			return 0, fmt.Errorf("%w: column %q", record.ErrBadIdentifier, k)
		}
		values[k] = v
	}
	if err := record.AssignTenant(ctx, r.currentRestrictor(), values); err != nil {
		return 0, err
	}

	builder := psql.Insert(table).SetMap(values).Suffix("RETURNING id")
	if len(values) == 0 {
		builder = psql.Insert(table).Options("DEFAULT VALUES").Suffix("RETURNING id")
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert: %w", err)
	}

	var id int64
	if err := r.db.pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, wrapTableError(table, err)
	}
	return id, nil
}

func validateQuery(q record.Query) error {
	if !record.ValidIdentifier(q.Table) {
		return fmt.Errorf("%w: table %q", record.ErrBadIdentifier, q.Table)
	}
	for _, c := range q.Columns {
		if !record.ValidIdentifier(c) {
			return fmt.Errorf("%w: column %q", record.ErrBadIdentifier, c)
		}
	}
	for c := range q.Where {
		if !record.ValidIdentifier(c) {
			return fmt.Errorf("%w: column %q", record.ErrBadIdentifier, c)
		}
	}
	for _, o := range q.OrderBy {
		if !record.ValidOrder(o) {
			return fmt.Errorf("%w: order %q", record.ErrBadIdentifier, o)
		}
	}
	for _, j := range q.Joins {
		if !record.ValidIdentifier(j.Table) {
			return fmt.Errorf("%w: join table %q", record.ErrBadIdentifier, j.Table)
		}
	}
	return nil
}

func wrapTableError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w: %s", record.ErrUnknownTable, table)
	}
	return fmt.Errorf("failed to query %s: %w", table, err)
}
