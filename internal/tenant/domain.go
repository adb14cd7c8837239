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
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/opentrusty/subsites/internal/cache"
	"github.com/opentrusty/subsites/internal/contexts"
)

// DomainResolver maps request hosts to tenant IDs.
//
// Results, including misses, are cached per normalized host until Reset.
// An exact Domain match wins over wildcard patterns. Among wildcard
// patterns the longest fixed part wins, then the lowest tenant ID.
type DomainResolver struct {
	repo  Repository
	cache *cache.Versioned[string, int64]
}

// NewDomainResolver creates a resolver backed by repo
func NewDomainResolver(repo Repository, opts ...cache.Option) *DomainResolver {
	return &DomainResolver{
		repo:  repo,
		cache: cache.New[string, int64]("domain", opts...),
	}
}

// Resolve returns the tenant ID serving host, or NoTenant when nothing
// matches. An empty host falls back to the request host carried by ctx.
func (r *DomainResolver) Resolve(ctx context.Context, host string) (int64, error) {
	if host == "" {
		host, _ = contexts.Host(ctx)
	}
	host = NormalizeHost(host)
	if host == "" {
		return NoTenant, nil
	}

	return r.cache.GetOrLoad(ctx, host, func(ctx context.Context) (int64, error) {
		return r.lookup(ctx, host)
	})
}

// Reset drops every cached resolution
func (r *DomainResolver) Reset() {
	r.cache.Reset()
}

func (r *DomainResolver) lookup(ctx context.Context, host string) (int64, error) {
	t, err := r.repo.GetByDomain(ctx, host)
	if err == nil {
		return t.ID, nil
	}
	if !errors.Is(err, ErrTenantNotFound) {
		return NoTenant, fmt.Errorf("failed to resolve domain %q: %w", host, err)
	}

	candidates, err := r.repo.ListWildcardDomains(ctx)
	if err != nil {
		return NoTenant, fmt.Errorf("failed to list wildcard domains: %w", err)
	}

	best, bestLen := NoTenant, -1
	for _, c := range candidates {
		n, ok := MatchDomain(c.Domain, host)
		if !ok {
			continue
		}
		if n > bestLen || (n == bestLen && c.ID < best) {
			best, bestLen = c.ID, n
		}
	}
	return best, nil
}

// MatchDomain reports whether host matches pattern and returns the length of
// the pattern's fixed part. A leading wildcard matches any non-empty prefix
// and a trailing wildcard any non-empty suffix.
func MatchDomain(pattern, host string) (int, bool) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	switch {
	case pattern == "" || pattern == WildcardMarker:
		return 0, false
	case strings.HasPrefix(pattern, WildcardMarker):
		fixed := strings.TrimPrefix(pattern, WildcardMarker)
		if len(host) > len(fixed) && strings.HasSuffix(host, fixed) {
			return len(fixed), true
		}
	case strings.HasSuffix(pattern, WildcardMarker):
		fixed := strings.TrimSuffix(pattern, WildcardMarker)
		if len(host) > len(fixed) && strings.HasPrefix(host, fixed) {
			return len(fixed), true
		}
	case pattern == host:
		return len(pattern), true
	}
	return 0, false
}

// NormalizeHost lower-cases host and strips any port
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
