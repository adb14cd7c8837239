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

package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/form"
)

// Resetter drops derived state that depends on tenant records
type Resetter interface {
	Reset()
}

// Service provides tenant management business logic
type Service struct {
	repo        Repository
	tracker     *Tracker
	auditLogger audit.Logger
	resetters   []Resetter
}

// NewService creates a new tenant service. resetters are reset after every
// successful write.
func NewService(repo Repository, tracker *Tracker, auditLogger audit.Logger, resetters ...Resetter) *Service {
	return &Service{
		repo:        repo,
		tracker:     tracker,
		auditLogger: auditLogger,
		resetters:   resetters,
	}
}

// AddResetter registers r to be reset after tenant writes
func (s *Service) AddResetter(r Resetter) {
	s.resetters = append(s.resetters, r)
}

// CreateTenant creates a new tenant
func (s *Service) CreateTenant(ctx context.Context, actorID int64, title, language, domain string) (*Tenant, error) {
	now := time.Now()
	t := &Tenant{
		Title:     strings.TrimSpace(title),
		Language:  strings.TrimSpace(language),
		Domain:    strings.ToLower(strings.TrimSpace(domain)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	s.reset()

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		ActorID:  actorID,
		Resource: t.Title,
		Metadata: map[string]any{"domain": t.Domain, "language": t.Language},
	})
	return t, nil
}

// UpdateTenant replaces the editable fields of tenant id
func (s *Service) UpdateTenant(ctx context.Context, actorID, id int64, title, language, domain string) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	t.Title = strings.TrimSpace(title)
	t.Language = strings.TrimSpace(language)
	t.Domain = strings.ToLower(strings.TrimSpace(domain))
	t.UpdatedAt = time.Now()
	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	s.reset()

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantUpdated,
		TenantID: t.ID,
		ActorID:  actorID,
		Resource: t.Title,
		Metadata: map[string]any{"domain": t.Domain, "language": t.Language},
	})
	return t, nil
}

// DeleteTenant removes tenant id. Records owned by it are left in place.
func (s *Service) DeleteTenant(ctx context.Context, actorID, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.reset()

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantDeleted,
		TenantID: id,
		ActorID:  actorID,
		Resource: "tenant",
	})
	return nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// AllTenants lists every tenant ordered by Title, regardless of permissions
func (s *Service) AllTenants(ctx context.Context) ([]*Tenant, error) {
	return s.repo.List(ctx)
}

// CurrentTenant returns the tenant of the current request, or
// ErrTenantNotFound when none is determined.
func (s *Service) CurrentTenant(ctx context.Context) (*Tenant, error) {
	id, err := s.tracker.CurrentID(ctx)
	if err != nil {
		return nil, err
	}
	if id == NoTenant {
		return nil, ErrTenantNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// Activate makes tenant id current for the session
func (s *Service) Activate(ctx context.Context, id int64) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.Activate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Form describes the edit form of t. A nil t describes the create form.
func (s *Service) Form(t *Tenant) []form.Field {
	if t == nil {
		t = &Tenant{}
	}
	return []form.Field{
		form.Text("Title", "Subsite Name", t.Title),
		form.Text("Domain", "Domain", t.Domain),
		form.Text("Language", "Language", t.Language),
		form.Hidden("ID", t.ID),
		form.Hidden("IsSubsite", 1),
	}
}

// ResetCaches drops every derived cache on request of actorID
func (s *Service) ResetCaches(ctx context.Context, actorID int64) {
	s.reset()
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCacheReset,
		ActorID:  actorID,
		Resource: "tenant_caches",
		Metadata: map[string]any{"caches": len(s.resetters)},
	})
}

func (s *Service) reset() {
	for _, r := range s.resetters {
		r.Reset()
	}
}
