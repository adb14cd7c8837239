// Package record describes tenant-scoped record queries. Stores implement
// Store and apply the tenant restriction of the calling context to every
// query unless the query opts out.
package record

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// TenantColumn is the column holding the owning tenant of a record
const TenantColumn = "tenant_id"

var (
	ErrUnknownTable     = errors.New("unknown table")
	ErrJoinsUnsupported = errors.New("joins are not supported by this store")
	ErrBadIdentifier    = errors.New("invalid identifier")
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	orderPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?( (?i:ASC|DESC))?$`)
)

// ValidIdentifier reports whether s is a plain or table-qualified column name
func ValidIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// ValidOrder reports whether s is a column name optionally followed by ASC
// or DESC
func ValidOrder(s string) bool {
	return orderPattern.MatchString(s)
}

// Record is one row keyed by column name
type Record map[string]any

// TenantID returns the owning tenant of r, or 0 when unset
func (r Record) TenantID() int64 {
	switch v := r[TenantColumn].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Join adds a joined table. On is a raw join condition.
type Join struct {
	Table string
	On    string
	Left  bool
}

// Query selects records of Table
type Query struct {
	Table   string
	Columns []string
	// Where holds equality filters; a slice value means "any of"
	Where   map[string]any
	Joins   []Join
	OrderBy []string
	Limit   uint64
	// AllTenants skips the tenant restriction for this query only
	AllTenants bool
}

// Querier runs record queries
type Querier interface {
	Query(ctx context.Context, q Query) ([]Record, error)
}

// Store reads and writes records
type Store interface {
	Querier
	// Insert stores rec in table and returns its ID. A missing tenant_id is
	// filled with the current tenant.
	Insert(ctx context.Context, table string, rec Record) (int64, error)
}

// Restrictor returns the tenant IDs reads under ctx are limited to
type Restrictor interface {
	Restriction(ctx context.Context) (ids []int64, restricted bool, err error)
}

// Restriction resolves the tenant restriction applying to q. A nil r never
// restricts.
func Restriction(ctx context.Context, r Restrictor, q Query) ([]int64, bool, error) {
	if r == nil || q.AllTenants {
		return nil, false, nil
	}
	ids, restricted, err := r.Restriction(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve tenant restriction: %w", err)
	}
	return ids, restricted, nil
}

// AssignTenant sets the tenant of rec from the restriction under ctx when
// rec has none and exactly one tenant applies.
func AssignTenant(ctx context.Context, r Restrictor, rec Record) error {
	if _, ok := rec[TenantColumn]; ok || r == nil {
		return nil
	}
	ids, restricted, err := r.Restriction(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant for insert: %w", err)
	}
	if restricted && len(ids) == 1 {
		rec[TenantColumn] = ids[0]
	}
	return nil
}
