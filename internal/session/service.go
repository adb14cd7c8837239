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

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service provides session lifecycle operations
type Service struct {
	repo        Repository
	lifetime    time.Duration
	idleTimeout time.Duration
}

// NewService creates a new session service
func NewService(repo Repository, lifetime, idleTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		lifetime:    lifetime,
		idleTimeout: idleTimeout,
	}
}

// Create starts a new session for a user
func (s *Service) Create(ctx context.Context, userID int64, ipAddress, userAgent string) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:         id.String(),
		UserID:     userID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  now.Add(s.lifetime),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Get returns a live session, rejecting expired or idle ones
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionInvalid
	}

	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if sess.IsExpired() || (s.idleTimeout > 0 && sess.IsIdle(s.idleTimeout)) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Refresh bumps the last seen time
func (s *Service) Refresh(ctx context.Context, sess *Session) error {
	sess.LastSeenAt = time.Now()
	return s.repo.Update(ctx, sess)
}

// SetTenant stores the tenant in the session and persists it
func (s *Service) SetTenant(ctx context.Context, sess *Session, tenantID int64) error {
	id := tenantID
	sess.TenantID = &id
	if err := s.repo.Update(ctx, sess); err != nil {
		return fmt.Errorf("failed to store session tenant: %w", err)
	}
	return nil
}

// Destroy deletes a session
func (s *Service) Destroy(ctx context.Context, sessionID string) error {
	return s.repo.Delete(ctx, sessionID)
}

// CleanupExpired removes all expired sessions
func (s *Service) CleanupExpired(ctx context.Context) error {
	return s.repo.DeleteExpired(ctx)
}
