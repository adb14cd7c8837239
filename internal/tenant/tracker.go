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
	"log/slog"
	"math"
	"strings"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/opentrusty/subsites/internal/i18n"
	"github.com/opentrusty/subsites/internal/observability/logger"
	"github.com/opentrusty/subsites/internal/session"
)

// SessionStore persists the tenant slot of a session
type SessionStore interface {
	SetTenant(ctx context.Context, sess *session.Session, tenantID int64) error
}

// CheckResetter drops cached permission decisions
type CheckResetter interface {
	ResetChecks()
}

// TrackerConfig holds tracker settings
type TrackerConfig struct {
	// UseSession enables reading and writing the tenant in the session
	UseSession bool
}

// Tracker determines the current tenant of a request.
//
// Resolution order: the tenant override request parameter, then the session
// (when session tracking is on), then the request host.
type Tracker struct {
	resolver    *DomainResolver
	sessions    SessionStore
	locale      *i18n.Locale
	checks      CheckResetter
	auditLogger audit.Logger
	useSession  bool
}

// NewTracker creates a tracker. checks may be nil.
func NewTracker(cfg TrackerConfig, resolver *DomainResolver, sessions SessionStore, locale *i18n.Locale, checks CheckResetter, auditLogger audit.Logger) *Tracker {
	return &Tracker{
		resolver:    resolver,
		sessions:    sessions,
		locale:      locale,
		checks:      checks,
		auditLogger: auditLogger,
		useSession:  cfg.UseSession,
	}
}

// UseSession reports whether session tracking is enabled
func (t *Tracker) UseSession() bool {
	return t.useSession
}

// CurrentID returns the current tenant ID, or NoTenant when none applies.
func (t *Tracker) CurrentID(ctx context.Context) (int64, error) {
	if raw, ok := contexts.TenantOverride(ctx); ok {
		return castInt(raw), nil
	}

	if t.useSession {
		if sess, ok := contexts.Session(ctx); ok && sess.TenantID != nil {
			return *sess.TenantID, nil
		}
	}

	if t.resolver == nil {
		return NoTenant, nil
	}
	return t.resolver.Resolve(ctx, "")
}

// Activate makes tenant the current tenant of the session and switches the
// active locale to its language. It does nothing when session tracking is off.
func (t *Tracker) Activate(ctx context.Context, tenant *Tenant) error {
	if !t.useSession {
		return nil
	}

	sess, ok := contexts.Session(ctx)
	if !ok {
		return fmt.Errorf("failed to activate tenant %d: %w", tenant.ID, ErrNoSession)
	}
	if err := t.sessions.SetTenant(ctx, sess, tenant.ID); err != nil {
		return fmt.Errorf("failed to activate tenant %d: %w", tenant.ID, err)
	}

	if tenant.Language != "" && t.locale != nil {
		if tag, ok := i18n.LocaleFromLang(tenant.Language); ok {
			t.locale.Set(tag)
		} else {
			slog.WarnContext(ctx, "unknown tenant language",
				logger.TenantID(tenant.ID),
				slog.String("language", tenant.Language),
			)
		}
	}

	if t.checks != nil {
		t.checks.ResetChecks()
	}

	t.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantActivated,
		TenantID: tenant.ID,
		ActorID:  sess.UserID,
		Resource: "session",
		Metadata: map[string]any{"language": tenant.Language},
	})
	return nil
}

// castInt reads a leading optionally signed run of digits, returning 0 when
// there is none. Out of range values clamp to the int64 bounds.
func castInt(raw string) int64 {
	s := strings.TrimLeft(raw, " \t\n\r\v\f")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var n int64
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int64(s[i] - '0')
		if n > (math.MaxInt64-d)/10 {
			if neg {
				return math.MinInt64
			}
			return math.MaxInt64
		}
		n = n*10 + d
	}
	if neg {
		return -n
	}
	return n
}
