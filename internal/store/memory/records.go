package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/opentrusty/subsites/internal/record"
)

// RecordRepository implements record.Store. Joins are not supported.
type RecordRepository struct {
	s *Store
}

// SetRestrictor sets the tenant restriction of the owning store
func (r *RecordRepository) SetRestrictor(restrictor record.Restrictor) {
	r.s.SetRestrictor(restrictor)
}

func (r *RecordRepository) Insert(ctx context.Context, table string, rec record.Record) (int64, error) {
	r.s.mu.RLock()
	restrictor := r.s.restrictor
	r.s.mu.RUnlock()

	rec = maps.Clone(rec)
	if rec == nil {
		rec = record.Record{}
	}
	if err := record.AssignTenant(ctx, restrictor, rec); err != nil {
		return 0, err
	}
	if _, ok := rec[record.TenantColumn]; !ok {
		rec[record.TenantColumn] = int64(0)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := r.s.next("record:" + table)
	rec["id"] = id
	r.s.records[table] = append(r.s.records[table], rec)
	return id, nil
}

func (r *RecordRepository) Query(ctx context.Context, q record.Query) ([]record.Record, error) {
	if len(q.Joins) > 0 {
		return nil, record.ErrJoinsUnsupported
	}

	r.s.mu.RLock()
	restrictor := r.s.restrictor
	r.s.mu.RUnlock()

	ids, restricted, err := record.Restriction(ctx, restrictor, q)
	if err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	rows, ok := r.s.records[q.Table]
	r.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", record.ErrUnknownTable, q.Table)
	}

	var out []record.Record
	for _, row := range rows {
		if restricted && !slices.Contains(ids, row.TenantID()) {
			continue
		}
		if !matches(row, q.Where) {
			continue
		}
		out = append(out, project(row, q.Columns))
	}

	sortRecords(out, q.OrderBy)
	if q.Limit > 0 && uint64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(row record.Record, where map[string]any) bool {
	for col, want := range where {
		got := row[col]
		switch w := want.(type) {
		case []int64:
			if !slices.ContainsFunc(w, func(v int64) bool { return equal(got, v) }) {
				return false
			}
		case []string:
			if !slices.ContainsFunc(w, func(v string) bool { return equal(got, v) }) {
				return false
			}
		case []any:
			if !slices.ContainsFunc(w, func(v any) bool { return equal(got, v) }) {
				return false
			}
		default:
			if !equal(got, want) {
				return false
			}
		}
	}
	return true
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func project(row record.Record, columns []string) record.Record {
	if len(columns) == 0 {
		return maps.Clone(row)
	}
	out := make(record.Record, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}

// sortRecords orders by each "column [ASC|DESC]" term in turn
func sortRecords(rows []record.Record, orderBy []string) {
	if len(orderBy) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b record.Record) int {
		for _, term := range orderBy {
			col, dir, _ := strings.Cut(strings.TrimSpace(term), " ")
			c := compare(a[col], b[col])
			if strings.EqualFold(strings.TrimSpace(dir), "DESC") {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case int:
		if y, ok := b.(int); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
