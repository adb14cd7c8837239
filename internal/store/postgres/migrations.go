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
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/opentrusty/subsites/internal/observability/logger"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// MigrateUp runs every embedded migration in file name order. Scripts are
// idempotent.
func (db *DB) MigrateUp(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := db.Migrate(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
		slog.InfoContext(ctx, "migration applied", logger.Component("postgres"), slog.String("file", name))
	}
	return nil
}

// dataTables lists every table holding rows, children first
var dataTables = []string{
	"pages", "sessions", "group_roles", "role_codes", "permission_roles",
	"group_permissions", "group_tenants", "group_members", "access_groups", "users", "tenants",
}

// Truncate deletes all rows and resets the id sequences
func (db *DB) Truncate(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, "TRUNCATE "+strings.Join(dataTables, ", ")+" RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}
