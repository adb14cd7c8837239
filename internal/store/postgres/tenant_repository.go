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

	"github.com/opentrusty/subsites/internal/tenant"
)

const tenantColumns = `id, title, language, domain, created_at, updated_at`

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create inserts a tenant. A preset ID is kept and the sequence moved past it.
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	if t.ID != 0 {
		_, err := r.db.pool.Exec(ctx, `
			INSERT INTO tenants (id, title, language, domain, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, t.ID, t.Title, t.Language, t.Domain, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}
		return r.db.syncSequence(ctx, r.db.pool, "tenants")
	}

	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO tenants (title, language, domain, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.Title, t.Language, t.Domain, t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id int64) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetByDomain retrieves the lowest-ID tenant whose domain equals host
func (r *TenantRepository) GetByDomain(ctx context.Context, host string) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE LOWER(domain) = LOWER($1)
		ORDER BY id
		LIMIT 1
	`, host)
	t, err := scanTenant(row)
	if err != nil {
		if isNoRows(err) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by domain: %w", err)
	}
	return t, nil
}

// ListWildcardDomains lists tenants whose domain starts or ends with '*'
func (r *TenantRepository) ListWildcardDomains(ctx context.Context) ([]*tenant.Tenant, error) {
	return r.list(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE domain LIKE '*%' OR domain LIKE '%*'
		ORDER BY id
	`)
}

// Update updates tenant information
func (r *TenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants SET
			title = $2,
			language = $3,
			domain = $4,
			updated_at = $5
		WHERE id = $1
	`, t.ID, t.Title, t.Language, t.Domain, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// Delete removes a tenant; group links cascade
func (r *TenantRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// List retrieves all tenants ordered by title
func (r *TenantRepository) List(ctx context.Context) ([]*tenant.Tenant, error) {
	return r.list(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY title, id`)
}

func (r *TenantRepository) list(ctx context.Context, query string, args ...any) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return collectTenants(rows)
}

func collectTenants(rows pgx.Rows) ([]*tenant.Tenant, error) {
	tenants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*tenant.Tenant, error) {
		return scanTenant(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenants: %w", err)
	}
	return tenants, nil
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if err := row.Scan(&t.ID, &t.Title, &t.Language, &t.Domain, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
