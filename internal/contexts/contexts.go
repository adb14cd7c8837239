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

// Package contexts carries request-scoped ambient values (host, tenant
// override parameter, session, user) from the transport layer to the core.
package contexts

import (
	"context"

	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/session"
)

type contextKey string

const (
	hostKey           contextKey = "host"
	tenantOverrideKey contextKey = "tenant_override"
	sessionKey        contextKey = "session"
	userKey           contextKey = "user"
)

// WithHost stores the inbound request host
func WithHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, hostKey, host)
}

// Host returns the inbound request host
func Host(ctx context.Context) (string, bool) {
	host, ok := ctx.Value(hostKey).(string)
	return host, ok && host != ""
}

// WithTenantOverride stores the raw value of the tenant override request
// parameter. Presence matters, not content: an unparseable value still wins.
func WithTenantOverride(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, tenantOverrideKey, raw)
}

// TenantOverride returns the raw tenant override parameter, if one was sent
func TenantOverride(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(tenantOverrideKey).(string)
	return raw, ok
}

// WithSession stores the active session
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// Session returns the active session
func Session(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*session.Session)
	return sess, ok && sess != nil
}

// WithUser stores the current user
func WithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// User returns the current user
func User(ctx context.Context) (*identity.User, bool) {
	user, ok := ctx.Value(userKey).(*identity.User)
	return user, ok && user != nil
}
