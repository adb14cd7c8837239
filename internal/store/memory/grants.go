package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"

	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/tenant"
)

// GrantRepository implements authz.GrantRepository and authz.GroupRepository
type GrantRepository struct {
	s *Store
}

func (r *GrantRepository) CreateRole(_ context.Context, role *authz.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if role.ID == 0 {
		role.ID = r.s.next("roles")
	} else {
		r.s.bump("roles", role.ID)
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	c := *role
	c.Codes = slices.Clone(role.Codes)
	r.s.roles[role.ID] = &c
	return nil
}

func (r *GrantRepository) CreateGroup(_ context.Context, g *authz.Group) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, roleID := range g.RoleIDs {
		if _, ok := r.s.roles[roleID]; !ok {
			return fmt.Errorf("group %q references role %d: %w", g.Title, roleID, authz.ErrRoleNotFound)
		}
	}
	for _, tenantID := range g.TenantIDs {
		if _, ok := r.s.tenants[tenantID]; !ok {
			return fmt.Errorf("group %q references tenant %d: %w", g.Title, tenantID, tenant.ErrTenantNotFound)
		}
	}

	if g.ID == 0 {
		g.ID = r.s.next("groups")
	} else {
		r.s.bump("groups", g.ID)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	r.s.groups[g.ID] = copyGroup(g)
	r.s.members[g.ID] = mapset.NewSet[int64]()
	return nil
}

func (r *GrantRepository) AddMember(_ context.Context, groupID, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.members[groupID]
	if !ok {
		return authz.ErrGroupNotFound
	}
	if _, ok := r.s.users[userID]; !ok {
		return identity.ErrUserNotFound
	}
	m.Add(userID)
	return nil
}

func (r *GrantRepository) DirectTenants(_ context.Context, userID int64, codes []string) ([]*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.tenantsOf(r.s.userGroups(userID), func(g *authz.Group) bool {
		return g.AccessAllTenants || r.s.holdsDirect(g, codes)
	}), nil
}

func (r *GrantRepository) RoleTenants(_ context.Context, userID int64, codes []string) ([]*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.tenantsOf(r.s.userGroups(userID), func(g *authz.Group) bool {
		return r.s.holdsViaRole(g, codes)
	}), nil
}

// CountGlobalGrants counts direct and role grants separately and sums them
func (r *GrantRepository) CountGlobalGrants(_ context.Context, userID int64, codes []string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, g := range r.s.userGroups(userID) {
		if !g.AccessAllTenants {
			continue
		}
		if r.s.holdsDirect(g, codes) {
			n++
		}
		if r.s.holdsViaRole(g, codes) {
			n++
		}
	}
	return n, nil
}

func (r *GrantRepository) HasCode(_ context.Context, userID int64, codes []string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return lo.SomeBy(r.s.userGroups(userID), func(g *authz.Group) bool {
		return r.s.holdsDirect(g, codes) || r.s.holdsViaRole(g, codes)
	}), nil
}

func (r *GrantRepository) UserGroups(_ context.Context, userID int64) ([]*authz.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return lo.Map(r.s.userGroups(userID), func(g *authz.Group, _ int) *authz.Group {
		return copyGroup(g)
	}), nil
}

func (r *GrantRepository) MembersByPermission(_ context.Context, tenantID int64, codes []string) ([]*identity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := mapset.NewThreadUnsafeSet[int64]()
	for _, g := range r.s.groups {
		if slices.Contains(g.TenantIDs, tenantID) && r.s.holdsDirect(g, codes) {
			ids.Append(r.s.members[g.ID].ToSlice()...)
		}
	}

	users := make([]*identity.User, 0, ids.Cardinality())
	for _, id := range ids.ToSlice() {
		if u, ok := r.s.users[id]; ok {
			c := *u
			users = append(users, &c)
		}
	}
	slices.SortFunc(users, func(a, b *identity.User) int { return cmp.Compare(a.ID, b.ID) })
	return users, nil
}

// userGroups returns the groups of userID ordered by ID. Caller holds the lock.
func (s *Store) userGroups(userID int64) []*authz.Group {
	var out []*authz.Group
	for id, m := range s.members {
		if m.Contains(userID) {
			out = append(out, s.groups[id])
		}
	}
	slices.SortFunc(out, func(a, b *authz.Group) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) holdsDirect(g *authz.Group, codes []string) bool {
	return lo.Some(g.Codes, codes)
}

func (s *Store) holdsViaRole(g *authz.Group, codes []string) bool {
	return lo.SomeBy(g.RoleIDs, func(id int64) bool {
		role, ok := s.roles[id]
		return ok && lo.Some(role.Codes, codes)
	})
}

// tenantsOf returns the tenants reached by the groups passing match, ordered
// by Title then ID. Access-all groups reach every tenant.
func (s *Store) tenantsOf(groups []*authz.Group, match func(*authz.Group) bool) []*tenant.Tenant {
	ids := mapset.NewThreadUnsafeSet[int64]()
	all := false
	for _, g := range groups {
		if !match(g) {
			continue
		}
		if g.AccessAllTenants {
			all = true
			break
		}
		ids.Append(g.TenantIDs...)
	}
	return s.sortedTenants(func(t *tenant.Tenant) bool {
		return all || ids.Contains(t.ID)
	})
}

func copyGroup(g *authz.Group) *authz.Group {
	c := *g
	c.Codes = slices.Clone(g.Codes)
	c.TenantIDs = slices.Clone(g.TenantIDs)
	c.RoleIDs = slices.Clone(g.RoleIDs)
	return &c
}
