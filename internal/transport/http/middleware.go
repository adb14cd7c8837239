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

package http

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/opentrusty/subsites/internal/observability/logger"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.Host(r.Host),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.Host(r.Host),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SubsiteMiddleware records the request host and, when the query carries
// overrideParam, its raw value. Presence of the parameter is what counts.
func SubsiteMiddleware(overrideParam string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := contexts.WithHost(r.Context(), requestHost(r))

			query := r.URL.Query()
			if overrideParam != "" && query.Has(overrideParam) {
				ctx = contexts.WithTenantOverride(ctx, query.Get(overrideParam))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LocaleMiddleware sets Content-Language to the active locale
func (h *Handler) LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.setContentLanguage(w)
		next.ServeHTTP(w, r)
	})
}

// SessionMiddleware loads the session named by the cookie and its user.
// Requests without a valid session continue anonymously.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		sess, err := h.sessionService.Get(ctx, sessionID)
		if err != nil {
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		if err := h.sessionService.Refresh(ctx, sess); err != nil {
			slog.ErrorContext(ctx, "failed to refresh session", logger.Error(err))
		}

		user, err := h.users.GetByID(ctx, sess.UserID)
		if err != nil {
			slog.WarnContext(ctx, "session user not found",
				logger.UserID(sess.UserID),
				logger.Error(err),
			)
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		ctx = contexts.WithSession(ctx, sess)
		ctx = contexts.WithUser(ctx, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests without an authenticated user
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := contexts.User(r.Context()); !ok {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireGlobalAccess rejects users without an access-all group holding one
// of codes. No codes means ADMIN.
func (h *Handler) RequireGlobalAccess(codes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := h.index.HasGlobalAccess(r.Context(), nil, codes)
			if err != nil {
				respondServiceError(w, r, err)
				return
			}
			if !ok {
				h.denied(r, "global access required")
				respondError(w, http.StatusForbidden, "global access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) denied(r *http.Request, reason string) {
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeAccessDenied,
		ActorID:   actorID(r.Context()),
		Resource:  r.Method + " " + r.URL.Path,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"reason": reason},
	})
}

// requestHost strips the port from the Host header
func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}
