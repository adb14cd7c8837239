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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/tenant"
)

// Domain errors
var (
	ErrGroupNotFound = errors.New("group not found")
	ErrRoleNotFound  = errors.New("role not found")
	ErrAccessDenied  = errors.New("access denied")
)

// Group is a set of users sharing permission codes. A group is linked to
// specific tenants or flagged to access all of them.
type Group struct {
	ID               int64
	Title            string
	AccessAllTenants bool
	Codes            []string // codes granted directly
	TenantIDs        []int64
	RoleIDs          []int64
	CreatedAt        time.Time
}

// Role is a named bundle of permission codes assignable to groups
type Role struct {
	ID        int64
	Title     string
	Codes     []string
	CreatedAt time.Time
}

// HasCode checks if the role carries code
func (r *Role) HasCode(code string) bool {
	return slices.Contains(r.Codes, code)
}

// Codes is a list of permission codes decoded from untrusted input. A
// single value where a list is expected is rejected rather than coerced.
type Codes []string

// UnmarshalJSON accepts only a JSON array of non-empty strings (or null)
func (c *Codes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if len(data) == 0 || data[0] != '[' {
		return &tenant.ConfigurationError{
			Op:     "authz.Codes",
			Arg:    "codes",
			Reason: "permission codes must be a list, got a single value",
		}
	}

	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return &tenant.ConfigurationError{Op: "authz.Codes", Arg: "codes", Reason: err.Error()}
	}
	if err := validateCodes("authz.Codes", codes); err != nil {
		return err
	}
	*c = codes
	return nil
}

func validateCodes(op string, codes []string) error {
	for _, code := range codes {
		if code == "" {
			return &tenant.ConfigurationError{Op: op, Arg: "codes", Reason: "empty permission code"}
		}
	}
	return nil
}

// GrantRepository answers permission questions against the group, role and
// tenant link tables. Tenant lists are ordered by Title then ID.
type GrantRepository interface {
	// DirectTenants returns tenants linked to a group of the user that holds
	// one of codes. Membership in an access-all group yields every tenant.
	DirectTenants(ctx context.Context, userID int64, codes []string) ([]*tenant.Tenant, error)

	// RoleTenants returns tenants reachable through a group of the user
	// having a role that carries one of codes. An access-all group reaches
	// every tenant.
	RoleTenants(ctx context.Context, userID int64, codes []string) ([]*tenant.Tenant, error)

	// CountGlobalGrants counts access-all groups of the user holding one of
	// codes, directly or through a role.
	CountGlobalGrants(ctx context.Context, userID int64, codes []string) (int, error)

	// HasCode reports whether any group of the user holds one of codes,
	// directly or through a role.
	HasCode(ctx context.Context, userID int64, codes []string) (bool, error)

	// UserGroups returns the groups the user belongs to
	UserGroups(ctx context.Context, userID int64) ([]*Group, error)

	// MembersByPermission returns users in groups linked to tenantID that
	// hold one of codes directly.
	MembersByPermission(ctx context.Context, tenantID int64, codes []string) ([]*identity.User, error)
}

// GroupRepository manages groups and roles
type GroupRepository interface {
	// CreateRole stores a role and assigns its ID
	CreateRole(ctx context.Context, role *Role) error

	// CreateGroup stores a group with its codes, tenant links and roles,
	// and assigns its ID
	CreateGroup(ctx context.Context, group *Group) error

	// AddMember adds a user to a group
	AddMember(ctx context.Context, groupID, userID int64) error
}
