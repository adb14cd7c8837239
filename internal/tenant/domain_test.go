package tenant

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRepo is a minimal in-memory Repository counting domain lookups
type stubRepo struct {
	mu      sync.Mutex
	tenants map[int64]*Tenant
	nextID  int64
	lookups int
}

func newStubRepo(tenants ...*Tenant) *stubRepo {
	r := &stubRepo{tenants: map[int64]*Tenant{}}
	for _, t := range tenants {
		_ = r.Create(context.Background(), t)
	}
	return r
}

func (r *stubRepo) Create(_ context.Context, t *Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == 0 {
		r.nextID++
		t.ID = r.nextID
	} else if t.ID > r.nextID {
		r.nextID = t.ID
	}
	r.tenants[t.ID] = t
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id int64) (*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok {
		return t, nil
	}
	return nil, ErrTenantNotFound
}

func (r *stubRepo) GetByDomain(_ context.Context, host string) (*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	var found *Tenant
	for _, t := range r.tenants {
		if strings.EqualFold(t.Domain, host) && (found == nil || t.ID < found.ID) {
			found = t
		}
	}
	if found == nil {
		return nil, ErrTenantNotFound
	}
	return found, nil
}

func (r *stubRepo) ListWildcardDomains(_ context.Context) ([]*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Tenant
	for _, t := range r.tenants {
		if t.IsWildcard() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) Update(_ context.Context, t *Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
	return nil
}

func (r *stubRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id)
	return nil
}

func (r *stubRepo) List(_ context.Context) ([]*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Tenant
	for _, t := range r.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// TestPurpose: Validates wildcard domain matching rules.
// Scope: Unit Test
// Security: Tenant isolation by host
// Expected: "*.example.com" matches subdomains only; trailing wildcards match on prefix.
// Test Case ID: DOM-01
func TestMatchDomain(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		match   bool
	}{
		{"*.example.com", "a.example.com", true},
		{"*.example.com", "b.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "example.org", false},
		{"*.EXAMPLE.com", "deep.a.example.com", true},
		{"shop.*", "shop.example.com", true},
		{"shop.*", "shop.", false},
		{"a.test", "a.test", true},
		{"a.test", "b.a.test", false},
		{"*", "anything", false},
		{"*.example.*", "a.example.com", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.host, func(t *testing.T) {
			_, ok := MatchDomain(tt.pattern, tt.host)
			assert.Equal(t, tt.match, ok)
		})
	}
}

// TestPurpose: Validates host normalization before matching and caching.
// Scope: Unit Test
// Expected: Hosts are lower-cased and lose ports and trailing dots.
// Test Case ID: DOM-02
func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "a.test", NormalizeHost("A.Test:8080"))
	assert.Equal(t, "a.test", NormalizeHost(" a.test. "))
	assert.Equal(t, "", NormalizeHost(""))
}

// TestPurpose: Validates the wildcard tie-break: exact wins, then longest fixed part, then lowest ID.
// Scope: Unit Test
// Expected: Deterministic resolution when several patterns match one host.
// Test Case ID: DOM-03
func TestDomainResolver_Precedence(t *testing.T) {
	repo := newStubRepo(
		&Tenant{ID: 1, Title: "Broad", Domain: "*.test"},
		&Tenant{ID: 2, Title: "Narrow", Domain: "*.b.test"},
		&Tenant{ID: 3, Title: "Exact", Domain: "x.b.test"},
		&Tenant{ID: 4, Title: "Narrow twin", Domain: "*.b.test"},
	)
	r := NewDomainResolver(repo)
	ctx := context.Background()

	id, err := r.Resolve(ctx, "x.b.test")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	id, err = r.Resolve(ctx, "y.b.test")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	id, err = r.Resolve(ctx, "y.c.test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

// TestPurpose: Validates that resolution is cached until reset, including misses.
// Scope: Unit Test
// Expected: Repeated lookups hit the repository once; after Reset a tenant added since is found.
// Test Case ID: DOM-04
func TestDomainResolver_CacheAndReset(t *testing.T) {
	repo := newStubRepo()
	r := NewDomainResolver(repo)
	ctx := context.Background()

	id, err := r.Resolve(ctx, "new.test")
	require.NoError(t, err)
	assert.Equal(t, NoTenant, id)

	require.NoError(t, repo.Create(ctx, &Tenant{Title: "New", Domain: "new.test"}))

	id, err = r.Resolve(ctx, "NEW.test:443")
	require.NoError(t, err)
	assert.Equal(t, NoTenant, id, "cached miss is served until reset")
	assert.Equal(t, 1, repo.lookups)

	r.Reset()

	id, err = r.Resolve(ctx, "new.test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 2, repo.lookups)
}

// TestPurpose: Validates fallback to the request host and the empty-host case.
// Scope: Unit Test
// Expected: An empty host argument uses the context host; no host at all yields NoTenant.
// Test Case ID: DOM-05
func TestDomainResolver_AmbientHost(t *testing.T) {
	repo := newStubRepo(&Tenant{Title: "A", Domain: "a.test"})
	r := NewDomainResolver(repo)

	id, err := r.Resolve(contexts.WithHost(context.Background(), "a.test"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, NoTenant, id)
	assert.Equal(t, 1, repo.lookups)
}
