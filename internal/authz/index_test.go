package authz_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/rbac"
	"github.com/opentrusty/subsites/internal/store/memory"
	"github.com/opentrusty/subsites/internal/tenant"
)

type fixture struct {
	store  *memory.Store
	index  *authz.Index
	a, b   *tenant.Tenant
	c      *tenant.Tenant
	editor *identity.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	f := &fixture{store: s, index: authz.NewIndex(s.Grants())}
	f.a = &tenant.Tenant{Title: "Alpha", Domain: "a.test"}
	f.b = &tenant.Tenant{Title: "Beta", Domain: "*.b.test"}
	f.c = &tenant.Tenant{Title: "Gamma", Domain: "c.test"}
	for _, tn := range []*tenant.Tenant{f.a, f.b, f.c} {
		require.NoError(t, s.Tenants().Create(ctx, tn))
	}

	f.editor = &identity.User{Email: "editor@example.com"}
	require.NoError(t, s.Users().Create(ctx, f.editor))
	return f
}

func (f *fixture) group(t *testing.T, g *authz.Group, members ...*identity.User) *authz.Group {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Grants().CreateGroup(ctx, g))
	for _, m := range members {
		require.NoError(t, f.store.Grants().AddMember(ctx, g.ID, m.ID))
	}
	return g
}

func (f *fixture) role(t *testing.T, codes ...string) *authz.Role {
	t.Helper()
	r := &authz.Role{Title: "role", Codes: codes}
	require.NoError(t, f.store.Grants().CreateRole(context.Background(), r))
	return r
}

func titles(ts []*tenant.Tenant) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Title)
	}
	return out
}

// TestPurpose: Validates that membership in an access-all group yields every tenant regardless of the group's codes.
// Scope: Unit Test
// Security: Tenant access control
// Expected: A user in G1 (Alpha, EDIT) and G2 (access-all, no codes) may access all tenants for EDIT.
// Test Case ID: AUTHZ-01
func TestIndex_AccessAllDominates(t *testing.T) {
	f := newFixture(t)
	f.group(t, &authz.Group{Title: "G1", Codes: []string{"EDIT"}, TenantIDs: []int64{f.a.ID}}, f.editor)
	f.group(t, &authz.Group{Title: "G2", AccessAllTenants: true}, f.editor)

	ids, err := f.index.AccessibleTenantIDs(context.Background(), []string{"EDIT"}, f.editor)

	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.a.ID, f.b.ID, f.c.ID}, ids.ToSlice())
}

// TestPurpose: Validates that only groups holding a requested or baseline code grant their linked tenants.
// Scope: Unit Test
// Security: Least privilege
// Expected: A group without a matching code grants nothing; the CMS access baseline code grants for any requested code.
// Test Case ID: AUTHZ-02
func TestIndex_DirectGrantsAndBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.group(t, &authz.Group{Title: "Viewers", Codes: []string{"VIEW"}, TenantIDs: []int64{f.a.ID}}, f.editor)

	sites, err := f.index.AccessibleTenants(ctx, []string{"EDIT"}, f.editor)
	require.NoError(t, err)
	assert.Empty(t, sites)

	other := &identity.User{Email: "cms@example.com"}
	require.NoError(t, f.store.Users().Create(ctx, other))
	f.group(t, &authz.Group{Title: "CMS", Codes: []string{rbac.CodeCMSAccess}, TenantIDs: []int64{f.c.ID, f.a.ID}}, other)

	sites, err = f.index.AccessibleTenants(ctx, []string{"ANYTHING"}, other)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Gamma"}, titles(sites))
}

// TestPurpose: Validates the merge of direct and role-based grants.
// Scope: Unit Test
// Expected: Direct tenants come first, unseen role tenants are appended; with no direct tenants the role set is returned as-is.
// Test Case ID: AUTHZ-03
func TestIndex_RoleGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	editRole := f.role(t, "EDIT")

	f.group(t, &authz.Group{Title: "Direct", Codes: []string{"EDIT"}, TenantIDs: []int64{f.c.ID}}, f.editor)
	f.group(t, &authz.Group{Title: "ViaRole", RoleIDs: []int64{editRole.ID}, TenantIDs: []int64{f.a.ID, f.c.ID}}, f.editor)

	sites, err := f.index.AccessibleTenants(ctx, []string{"EDIT"}, f.editor)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gamma", "Alpha"}, titles(sites))

	roleOnly := &identity.User{Email: "role@example.com"}
	require.NoError(t, f.store.Users().Create(ctx, roleOnly))
	f.group(t, &authz.Group{Title: "RoleOnly", RoleIDs: []int64{editRole.ID}, TenantIDs: []int64{f.b.ID, f.a.ID}}, roleOnly)

	sites, err = f.index.AccessibleTenants(ctx, []string{"EDIT"}, roleOnly)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta"}, titles(sites))
}

// TestPurpose: Validates the anonymous case and the fallback to the context user.
// Scope: Unit Test
// Security: Anonymous callers get no tenant access
// Expected: No user yields an empty, non-nil result; a context user is used when none is passed.
// Test Case ID: AUTHZ-04
func TestIndex_AnonymousAndContextUser(t *testing.T) {
	f := newFixture(t)
	f.group(t, &authz.Group{Title: "G", Codes: []string{"EDIT"}, TenantIDs: []int64{f.b.ID}}, f.editor)

	sites, err := f.index.AccessibleTenants(context.Background(), []string{"EDIT"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, sites)
	assert.Empty(t, sites)

	ids, err := f.index.AccessibleTenantIDs(context.Background(), []string{"EDIT"}, nil)
	require.NoError(t, err)
	assert.Zero(t, ids.Cardinality())

	ctx := contexts.WithUser(context.Background(), f.editor)
	ids, err = f.index.AccessibleTenantIDs(ctx, []string{"EDIT"}, nil)
	require.NoError(t, err)
	assert.True(t, ids.Contains(f.b.ID))
}

// TestPurpose: Validates memoization per (codes, user) and explicit reset.
// Scope: Unit Test
// Expected: Grants added after the first lookup are invisible until Reset; code order does not split the cache.
// Test Case ID: AUTHZ-05
func TestIndex_CacheAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.group(t, &authz.Group{Title: "G", Codes: []string{"EDIT", "VIEW"}, TenantIDs: []int64{f.a.ID}}, f.editor)

	ids, err := f.index.AccessibleTenantIDs(ctx, []string{"EDIT", "VIEW"}, f.editor)
	require.NoError(t, err)
	assert.Equal(t, 1, ids.Cardinality())

	f.group(t, &authz.Group{Title: "Late", Codes: []string{"EDIT"}, TenantIDs: []int64{f.c.ID}}, f.editor)

	ids, err = f.index.AccessibleTenantIDs(ctx, []string{"VIEW", "EDIT"}, f.editor)
	require.NoError(t, err)
	assert.Equal(t, 1, ids.Cardinality(), "stale until reset")

	ids.Add(999)
	again, err := f.index.AccessibleTenantIDs(ctx, []string{"EDIT", "VIEW"}, f.editor)
	require.NoError(t, err)
	assert.False(t, again.Contains(999), "callers cannot mutate cached sets")

	f.index.Reset()

	ids, err = f.index.AccessibleTenantIDs(ctx, []string{"EDIT", "VIEW"}, f.editor)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.a.ID, f.c.ID}, ids.ToSlice())
}

// TestPurpose: Validates the global access check.
// Scope: Unit Test
// Security: Platform-wide administration gate
// Expected: True only for access-all groups holding a requested code or ADMIN, directly or via a role.
// Test Case ID: AUTHZ-06
func TestIndex_HasGlobalAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noCodes := &identity.User{Email: "nocodes@example.com"}
	viaRole := &identity.User{Email: "role@example.com"}
	linked := &identity.User{Email: "linked@example.com"}
	for _, u := range []*identity.User{noCodes, viaRole, linked} {
		require.NoError(t, f.store.Users().Create(ctx, u))
	}
	adminRole := f.role(t, rbac.CodeAdmin)

	f.group(t, &authz.Group{Title: "Admins", AccessAllTenants: true, Codes: []string{rbac.CodeAdmin}}, f.editor)
	f.group(t, &authz.Group{Title: "AllNoCodes", AccessAllTenants: true}, noCodes)
	f.group(t, &authz.Group{Title: "AllViaRole", AccessAllTenants: true, RoleIDs: []int64{adminRole.ID}}, viaRole)
	f.group(t, &authz.Group{Title: "Linked", Codes: []string{rbac.CodeAdmin}, TenantIDs: []int64{f.a.ID}}, linked)

	tests := []struct {
		name  string
		user  *identity.User
		codes []string
		want  bool
	}{
		{"admin group", f.editor, nil, true},
		{"admin implied for other codes", f.editor, []string{"EDIT"}, true},
		{"access-all without codes", noCodes, nil, false},
		{"access-all via role", viaRole, nil, true},
		{"linked group is not global", linked, nil, false},
		{"anonymous", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.index.HasGlobalAccess(ctx, tt.user, tt.codes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestPurpose: Validates that permission codes given as a single value are rejected at the API boundary.
// Scope: Unit Test
// Security: API contract validation
// Expected: A scalar or an empty code yields *tenant.ConfigurationError naming the codes argument; a list decodes.
// Test Case ID: AUTHZ-07
func TestCodes_UnmarshalJSON(t *testing.T) {
	var body struct {
		Codes authz.Codes `json:"codes"`
	}

	err := json.Unmarshal([]byte(`{"codes": "ADMIN"}`), &body)
	require.Error(t, err)
	assert.True(t, tenant.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "invalid codes")

	err = json.Unmarshal([]byte(`{"codes": ["EDIT", ""]}`), &body)
	assert.True(t, tenant.IsConfigurationError(err))

	require.NoError(t, json.Unmarshal([]byte(`{"codes": ["EDIT", "VIEW"]}`), &body))
	assert.Equal(t, authz.Codes{"EDIT", "VIEW"}, body.Codes)

	_, err = newFixture(t).index.HasGlobalAccess(context.Background(), nil, []string{""})
	assert.True(t, tenant.IsConfigurationError(err))
}

// TestPurpose: Validates cached permission checks, tenant visibility and member lookup.
// Scope: Unit Test
// Expected: ADMIN implies EDIT_SITECONFIG; checks stay cached until ResetChecks; view follows group links.
// Test Case ID: AUTHZ-08
func TestIndex_ChecksViewAndMembers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	g := fx.group(t, &authz.Group{Title: "Site A admins", Codes: []string{rbac.CodeAdmin}, TenantIDs: []int64{fx.a.ID}}, fx.editor)

	ok, err := fx.index.CanEditTenant(ctx, fx.editor)
	require.NoError(t, err)
	assert.True(t, ok)

	outsider := &identity.User{Email: "outsider@example.com"}
	require.NoError(t, fx.store.Users().Create(ctx, outsider))
	ok, err = fx.index.HasPermission(ctx, outsider, rbac.CodeEditSiteConfig)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fx.store.Grants().AddMember(ctx, g.ID, outsider.ID))
	ok, _ = fx.index.HasPermission(ctx, outsider, rbac.CodeEditSiteConfig)
	assert.False(t, ok, "cached until ResetChecks")
	fx.index.ResetChecks()
	ok, _ = fx.index.HasPermission(ctx, outsider, rbac.CodeEditSiteConfig)
	assert.True(t, ok)

	view, err := fx.index.CanViewTenant(ctx, fx.editor, fx.a.ID)
	require.NoError(t, err)
	assert.True(t, view)
	view, err = fx.index.CanViewTenant(ctx, fx.editor, fx.b.ID)
	require.NoError(t, err)
	assert.False(t, view)

	members, err := fx.index.MembersByPermission(ctx, fx.a.ID, nil)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	members, err = fx.index.MembersByPermission(ctx, fx.b.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, members)
}
