// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authz

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/subsites/internal/cache"
	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/observability/logger"
	"github.com/opentrusty/subsites/internal/rbac"
	"github.com/opentrusty/subsites/internal/tenant"
)

// Index computes which tenants a user may access for a set of permission
// codes. Any one code suffices, and rbac.BaselineCodes are always included.
//
// Answers are memoized per (codes, user) until Reset. Grants changed without
// a Reset are not seen.
type Index struct {
	grants  GrantRepository
	sites   *cache.Versioned[string, []*tenant.Tenant]
	siteIDs *cache.Versioned[string, mapset.Set[int64]]
	checks  *cache.Versioned[string, bool]
	tracer  trace.Tracer
}

// NewIndex creates an index over grants
func NewIndex(grants GrantRepository, opts ...cache.Option) *Index {
	return &Index{
		grants:  grants,
		sites:   cache.New[string, []*tenant.Tenant]("access_sites", opts...),
		siteIDs: cache.New[string, mapset.Set[int64]]("access_site_ids", opts...),
		checks:  cache.New[string, bool]("permission_checks", opts...),
		tracer:  otel.Tracer("github.com/opentrusty/subsites/internal/authz"),
	}
}

// AccessibleTenants returns the tenants user may access with any of codes.
// A nil user means the current user; with no user at all the result is
// empty and nothing is cached.
func (x *Index) AccessibleTenants(ctx context.Context, codes []string, user *identity.User) ([]*tenant.Tenant, error) {
	if err := validateCodes("authz.AccessibleTenants", codes); err != nil {
		return nil, err
	}
	user = currentUser(ctx, user)
	if user == nil {
		return []*tenant.Tenant{}, nil
	}

	key := cacheKey(codes, user.ID)
	sites, err := x.sites.GetOrLoad(ctx, key, func(ctx context.Context) ([]*tenant.Tenant, error) {
		return x.computeSites(ctx, codes, user.ID)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(sites), nil
}

// AccessibleTenantIDs returns the IDs of AccessibleTenants. The set is
// cached separately under the same key.
func (x *Index) AccessibleTenantIDs(ctx context.Context, codes []string, user *identity.User) (mapset.Set[int64], error) {
	if err := validateCodes("authz.AccessibleTenantIDs", codes); err != nil {
		return nil, err
	}
	user = currentUser(ctx, user)
	if user == nil {
		return mapset.NewSet[int64](), nil
	}

	ids, err := x.siteIDs.GetOrLoad(ctx, cacheKey(codes, user.ID), func(ctx context.Context) (mapset.Set[int64], error) {
		sites, err := x.AccessibleTenants(ctx, codes, user)
		if err != nil {
			return nil, err
		}
		return mapset.NewSet(lo.Map(sites, func(t *tenant.Tenant, _ int) int64 { return t.ID })...), nil
	})
	if err != nil {
		return nil, err
	}
	return ids.Clone(), nil
}

func (x *Index) computeSites(ctx context.Context, codes []string, userID int64) ([]*tenant.Tenant, error) {
	all := withBaseline(codes)

	ctx, span := x.tracer.Start(ctx, "authz.AccessibleTenants", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.StringSlice("permission.codes", all),
	))
	defer span.End()

	direct, err := x.grants.DirectTenants(ctx, userID, all)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query direct tenant grants: %w", err)
	}
	viaRoles, err := x.grants.RoleTenants(ctx, userID, all)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query role tenant grants: %w", err)
	}

	sites := mergeSites(direct, viaRoles)
	span.SetAttributes(attribute.Int("tenants.count", len(sites)))
	slog.DebugContext(ctx, "computed accessible tenants",
		logger.UserID(userID),
		logger.Codes(all),
		logger.Count(len(sites)),
	)
	return sites, nil
}

// mergeSites returns viaRoles as-is when direct is empty. Otherwise unseen
// role tenants are appended to direct in their query order.
func mergeSites(direct, viaRoles []*tenant.Tenant) []*tenant.Tenant {
	if len(direct) == 0 && len(viaRoles) > 0 {
		return viaRoles
	}

	seen := mapset.NewThreadUnsafeSet[int64]()
	out := make([]*tenant.Tenant, 0, len(direct)+len(viaRoles))
	for _, t := range direct {
		if seen.Add(t.ID) {
			out = append(out, t)
		}
	}
	for _, t := range viaRoles {
		if seen.Add(t.ID) {
			out = append(out, t)
		}
	}
	return out
}

// HasGlobalAccess reports whether user belongs to an access-all group that
// holds one of codes, directly or through a role. CodeAdmin always counts.
// nil codes check CodeAdmin alone.
func (x *Index) HasGlobalAccess(ctx context.Context, user *identity.User, codes []string) (bool, error) {
	if err := validateCodes("authz.HasGlobalAccess", codes); err != nil {
		return false, err
	}
	user = currentUser(ctx, user)
	if user == nil {
		return false, nil
	}

	all := append(slices.Clone(codes), rbac.CodeAdmin)
	n, err := x.grants.CountGlobalGrants(ctx, user.ID, lo.Uniq(all))
	if err != nil {
		return false, fmt.Errorf("failed to count global grants: %w", err)
	}
	return n > 0, nil
}

// HasPermission reports whether user holds code anywhere. CodeAdmin implies
// every code. Answers are cached until ResetChecks.
func (x *Index) HasPermission(ctx context.Context, user *identity.User, code string) (bool, error) {
	if err := validateCodes("authz.HasPermission", []string{code}); err != nil {
		return false, err
	}
	user = currentUser(ctx, user)
	if user == nil {
		return false, nil
	}

	return x.checks.GetOrLoad(ctx, fmt.Sprintf("%d|%s", user.ID, code), func(ctx context.Context) (bool, error) {
		ok, err := x.grants.HasCode(ctx, user.ID, lo.Uniq([]string{code, rbac.CodeAdmin}))
		if err != nil {
			return false, fmt.Errorf("failed to check permission %s: %w", code, err)
		}
		return ok, nil
	})
}

// CanEditTenant reports whether user may edit tenant records
func (x *Index) CanEditTenant(ctx context.Context, user *identity.User) (bool, error) {
	return x.HasPermission(ctx, user, rbac.CodeEditSiteConfig)
}

// CanViewTenant reports whether user belongs to a group that is access-all
// or linked to tenantID.
func (x *Index) CanViewTenant(ctx context.Context, user *identity.User, tenantID int64) (bool, error) {
	user = currentUser(ctx, user)
	if user == nil {
		return false, nil
	}

	groups, err := x.grants.UserGroups(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load user groups: %w", err)
	}
	return lo.SomeBy(groups, func(g *Group) bool {
		return g.AccessAllTenants || slices.Contains(g.TenantIDs, tenantID)
	}), nil
}

// MembersByPermission returns users in groups linked to tenantID holding one
// of codes. nil codes mean CodeAdmin.
func (x *Index) MembersByPermission(ctx context.Context, tenantID int64, codes []string) ([]*identity.User, error) {
	if codes == nil {
		codes = []string{rbac.CodeAdmin}
	}
	if err := validateCodes("authz.MembersByPermission", codes); err != nil {
		return nil, err
	}
	return x.grants.MembersByPermission(ctx, tenantID, codes)
}

// ResetChecks drops cached permission checks
func (x *Index) ResetChecks() {
	x.checks.Reset()
}

// Reset drops every cached answer
func (x *Index) Reset() {
	x.sites.Reset()
	x.siteIDs.Reset()
	x.checks.Reset()
}

func currentUser(ctx context.Context, user *identity.User) *identity.User {
	if user != nil {
		return user
	}
	if u, ok := contexts.User(ctx); ok {
		return u
	}
	return nil
}

func withBaseline(codes []string) []string {
	return lo.Uniq(append(slices.Clone(codes), rbac.BaselineCodes...))
}

func cacheKey(codes []string, userID int64) string {
	key := lo.Uniq(codes)
	slices.Sort(key)
	return fmt.Sprintf("%s|%d", strings.Join(key, ","), userID)
}
