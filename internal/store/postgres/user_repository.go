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

	"github.com/opentrusty/subsites/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user. A preset ID is kept.
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	if user.ID != 0 {
		_, err := r.db.pool.Exec(ctx, `
			INSERT INTO users (id, email, name, created_at)
			VALUES ($1, $2, $3, $4)
		`, user.ID, user.Email, user.Name, user.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return r.db.syncSequence(ctx, r.db.pool, "users")
	}

	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, user.Email, user.Name, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*identity.User, error) {
	var user identity.User

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetByEmail retrieves the first user whose email matches, ignoring case
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	var user identity.User

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
		ORDER BY id
		LIMIT 1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}
