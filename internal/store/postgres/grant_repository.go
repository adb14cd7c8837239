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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/tenant"
)

// GrantRepository implements authz.GrantRepository and authz.GroupRepository
type GrantRepository struct {
	db *DB
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// CreateRole stores a role with its codes
func (r *GrantRepository) CreateRole(ctx context.Context, role *authz.Role) error {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}

	preset := role.ID != 0
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		if err := insertWithID(ctx, tx, role.ID, &role.ID,
			`INSERT INTO permission_roles (id, title, created_at) VALUES ($1, $2, $3)`,
			`INSERT INTO permission_roles (title, created_at) VALUES ($1, $2) RETURNING id`,
			role.Title, role.CreatedAt,
		); err != nil {
			return err
		}
		if preset {
			if err := r.db.syncSequence(ctx, tx, "permission_roles"); err != nil {
				return err
			}
		}
		for _, code := range role.Codes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_codes (role_id, code) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, role.ID, code); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// CreateGroup stores a group with its codes, tenant links and roles
func (r *GrantRepository) CreateGroup(ctx context.Context, g *authz.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	preset := g.ID != 0
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		if err := insertWithID(ctx, tx, g.ID, &g.ID,
			`INSERT INTO access_groups (id, title, access_all_tenants, created_at) VALUES ($1, $2, $3, $4)`,
			`INSERT INTO access_groups (title, access_all_tenants, created_at) VALUES ($1, $2, $3) RETURNING id`,
			g.Title, g.AccessAllTenants, g.CreatedAt,
		); err != nil {
			return err
		}
		if preset {
			if err := r.db.syncSequence(ctx, tx, "access_groups"); err != nil {
				return err
			}
		}

		for _, code := range g.Codes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO group_permissions (group_id, code) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, g.ID, code); err != nil {
				return err
			}
		}
		for _, tenantID := range g.TenantIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO group_tenants (group_id, tenant_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, g.ID, tenantID); err != nil {
				return fmt.Errorf("group %q references tenant %d: %w", g.Title, tenantID, err)
			}
		}
		for _, roleID := range g.RoleIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO group_roles (group_id, role_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, g.ID, roleID); err != nil {
				return fmt.Errorf("group %q references role %d: %w", g.Title, roleID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// AddMember adds a user to a group
func (r *GrantRepository) AddMember(ctx context.Context, groupID, userID int64) error {
	result, err := r.db.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id)
		SELECT g.id, u.id FROM access_groups g, users u
		WHERE g.id = $1 AND u.id = $2
		ON CONFLICT DO NOTHING
	`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var groupExists, userExists bool
	err = r.db.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM access_groups WHERE id = $1),
			EXISTS (SELECT 1 FROM users WHERE id = $2)
	`, groupID, userID).Scan(&groupExists, &userExists)
	if err != nil {
		return fmt.Errorf("failed to check group member: %w", err)
	}
	switch {
	case !groupExists:
		return authz.ErrGroupNotFound
	case !userExists:
		return identity.ErrUserNotFound
	}
	return nil
}

// DirectTenants returns tenants linked to a group of the user holding one of
// codes directly. An access-all membership reaches every tenant.
func (r *GrantRepository) DirectTenants(ctx context.Context, userID int64, codes []string) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		WITH user_groups AS (
			SELECT g.id, g.access_all_tenants
			FROM access_groups g
			JOIN group_members m ON m.group_id = g.id
			WHERE m.user_id = $1
		)
		SELECT `+tenantColumns+`
		FROM tenants t
		WHERE EXISTS (SELECT 1 FROM user_groups WHERE access_all_tenants)
		   OR EXISTS (
			SELECT 1
			FROM user_groups ug
			JOIN group_tenants gt ON gt.group_id = ug.id
			JOIN group_permissions gp ON gp.group_id = ug.id
			WHERE gt.tenant_id = t.id AND gp.code = ANY($2)
		)
		ORDER BY t.title, t.id
	`, userID, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct tenants: %w", err)
	}
	return collectTenants(rows)
}

// RoleTenants returns tenants reachable through a role carrying one of codes
func (r *GrantRepository) RoleTenants(ctx context.Context, userID int64, codes []string) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		WITH matching AS (
			SELECT DISTINCT g.id, g.access_all_tenants
			FROM access_groups g
			JOIN group_members m ON m.group_id = g.id
			JOIN group_roles gr ON gr.group_id = g.id
			JOIN role_codes rc ON rc.role_id = gr.role_id
			WHERE m.user_id = $1 AND rc.code = ANY($2)
		)
		SELECT `+tenantColumns+`
		FROM tenants t
		WHERE EXISTS (SELECT 1 FROM matching WHERE access_all_tenants)
		   OR EXISTS (
			SELECT 1
			FROM matching mg
			JOIN group_tenants gt ON gt.group_id = mg.id
			WHERE gt.tenant_id = t.id
		)
		ORDER BY t.title, t.id
	`, userID, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to list role tenants: %w", err)
	}
	return collectTenants(rows)
}

// CountGlobalGrants counts direct and role grants on access-all groups
// separately and sums them
func (r *GrantRepository) CountGlobalGrants(ctx context.Context, userID int64, codes []string) (int, error) {
	var n int
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT g.id)
			 FROM access_groups g
			 JOIN group_members m ON m.group_id = g.id
			 JOIN group_permissions gp ON gp.group_id = g.id
			 WHERE m.user_id = $1 AND g.access_all_tenants AND gp.code = ANY($2))
			+
			(SELECT COUNT(DISTINCT g.id)
			 FROM access_groups g
			 JOIN group_members m ON m.group_id = g.id
			 JOIN group_roles gr ON gr.group_id = g.id
			 JOIN role_codes rc ON rc.role_id = gr.role_id
			 WHERE m.user_id = $1 AND g.access_all_tenants AND rc.code = ANY($2))
	`, userID, codes).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count global grants: %w", err)
	}
	return n, nil
}

// HasCode reports whether any group of the user holds one of codes
func (r *GrantRepository) HasCode(ctx context.Context, userID int64, codes []string) (bool, error) {
	var ok bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM group_members m
			JOIN group_permissions gp ON gp.group_id = m.group_id
			WHERE m.user_id = $1 AND gp.code = ANY($2)
		) OR EXISTS (
			SELECT 1
			FROM group_members m
			JOIN group_roles gr ON gr.group_id = m.group_id
			JOIN role_codes rc ON rc.role_id = gr.role_id
			WHERE m.user_id = $1 AND rc.code = ANY($2)
		)
	`, userID, codes).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return ok, nil
}

// UserGroups returns the groups the user belongs to, ordered by ID
func (r *GrantRepository) UserGroups(ctx context.Context, userID int64) ([]*authz.Group, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT
			g.id, g.title, g.access_all_tenants, g.created_at,
			ARRAY(SELECT code FROM group_permissions WHERE group_id = g.id ORDER BY code),
			ARRAY(SELECT tenant_id FROM group_tenants WHERE group_id = g.id ORDER BY tenant_id),
			ARRAY(SELECT role_id FROM group_roles WHERE group_id = g.id ORDER BY role_id)
		FROM access_groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}

	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*authz.Group, error) {
		var g authz.Group
		err := row.Scan(&g.ID, &g.Title, &g.AccessAllTenants, &g.CreatedAt, &g.Codes, &g.TenantIDs, &g.RoleIDs)
		return &g, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan user groups: %w", err)
	}
	return groups, nil
}

// MembersByPermission returns users in groups linked to tenantID that hold
// one of codes directly
func (r *GrantRepository) MembersByPermission(ctx context.Context, tenantID int64, codes []string) ([]*identity.User, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT DISTINCT u.id, u.email, u.name, u.created_at
		FROM users u
		JOIN group_members m ON m.user_id = u.id
		JOIN group_tenants gt ON gt.group_id = m.group_id
		JOIN group_permissions gp ON gp.group_id = m.group_id
		WHERE gt.tenant_id = $1 AND gp.code = ANY($2)
		ORDER BY u.id
	`, tenantID, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*identity.User, error) {
		var u identity.User
		err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
		return &u, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan members: %w", err)
	}
	return users, nil
}

// insertWithID runs withID when id is preset and otherwise runs generated,
// scanning the new ID into dst
func insertWithID(ctx context.Context, tx pgx.Tx, id int64, dst *int64, withID, generated string, args ...any) error {
	if id != 0 {
		_, err := tx.Exec(ctx, withID, append([]any{id}, args...)...)
		return err
	}
	return tx.QueryRow(ctx, generated, args...).Scan(dst)
}
