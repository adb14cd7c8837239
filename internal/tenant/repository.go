package tenant

import (
	"context"
)

// Repository defines the interface for tenant storage
type Repository interface {
	// Create stores a new tenant and assigns its ID
	Create(ctx context.Context, tenant *Tenant) error

	GetByID(ctx context.Context, id int64) (*Tenant, error)

	// GetByDomain returns the tenant whose Domain equals host exactly
	// (case-insensitive), lowest ID first. ErrTenantNotFound when none.
	GetByDomain(ctx context.Context, host string) (*Tenant, error)

	// ListWildcardDomains returns tenants whose Domain starts or ends with
	// WildcardMarker.
	ListWildcardDomains(ctx context.Context) ([]*Tenant, error)

	Update(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id int64) error

	// List returns every tenant ordered by Title
	List(ctx context.Context) ([]*Tenant, error)
}
