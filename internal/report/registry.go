package report

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/record"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrDuplicateID    = errors.New("report already registered")
)

// Registry holds tenant-aware reports in registration order
type Registry struct {
	mu      sync.RWMutex
	order   []string
	reports map[string]*TenantAware

	access  Access
	tenants TenantLookup
	querier record.Querier
}

// NewRegistry creates a registry wrapping reports with the given collaborators
func NewRegistry(access Access, tenants TenantLookup, querier record.Querier) *Registry {
	return &Registry{
		reports: map[string]*TenantAware{},
		access:  access,
		tenants: tenants,
		querier: querier,
	}
}

// Register wraps base and adds it under the wrapped ID
func (r *Registry) Register(base Report) (*TenantAware, error) {
	w, err := NewTenantAware(base, r.access, r.tenants, r.querier)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[w.ID()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, w.ID())
	}
	r.reports[w.ID()] = w
	r.order = append(r.order, w.ID())
	return w, nil
}

// Get returns the report registered under id
func (r *Registry) Get(id string) (*TenantAware, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return w, nil
}

// Visible returns the reports user may view, in registration order
func (r *Registry) Visible(ctx context.Context, user *identity.User) ([]*TenantAware, error) {
	r.mu.RLock()
	all := make([]*TenantAware, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.reports[id])
	}
	r.mu.RUnlock()

	var out []*TenantAware
	for _, w := range all {
		ok, err := w.CanView(ctx, user)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, w)
		}
	}
	return out, nil
}
