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
	"slices"
	"sync/atomic"
)

type scopeKey struct{}

// Scope is the tenant restriction carried by a context.
type Scope struct {
	// TenantIDs restricts reads to exactly these tenants when Explicit is set
	TenantIDs []int64
	Explicit  bool
	// AllTenants lifts the restriction
	AllTenants bool
}

// ScopeOf returns the scope carried by ctx. The zero Scope means "current
// tenant".
func ScopeOf(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// WithTenantScope runs fn with reads restricted to ids. A nil ids restricts
// to the current tenant. The caller's scope is untouched on every return path.
func WithTenantScope(ctx context.Context, ids []int64, fn func(ctx context.Context) error) error {
	s := Scope{}
	if ids != nil {
		s = Scope{TenantIDs: slices.Clone(ids), Explicit: true}
	}
	return fn(context.WithValue(ctx, scopeKey{}, s))
}

// WithAllTenants runs fn with tenant restriction suspended.
func WithAllTenants(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, scopeKey{}, Scope{AllTenants: true}))
}

// Filter decides the tenant restriction for scoped reads.
type Filter struct {
	tracker  *Tracker
	disabled atomic.Bool
}

// NewFilter creates a filter reading the current tenant from tracker
func NewFilter(tracker *Tracker) *Filter {
	return &Filter{tracker: tracker}
}

// Disable turns scoping off (or back on) for the whole process
func (f *Filter) Disable(disabled bool) {
	f.disabled.Store(disabled)
}

// Disabled reports whether scoping is off process-wide
func (f *Filter) Disabled() bool {
	return f.disabled.Load()
}

// Restriction returns the tenant IDs reads under ctx are limited to.
// restricted is false when reads are not limited at all.
func (f *Filter) Restriction(ctx context.Context) (ids []int64, restricted bool, err error) {
	if f.Disabled() {
		return nil, false, nil
	}

	s := ScopeOf(ctx)
	switch {
	case s.AllTenants:
		return nil, false, nil
	case s.Explicit:
		return slices.Clone(s.TenantIDs), true, nil
	}

	id, err := f.tracker.CurrentID(ctx)
	if err != nil {
		return nil, false, err
	}
	return []int64{id}, true, nil
}
