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

// @title Subsites API
// @version 1.0.0
// @description Multi-tenant partitioning of a shared CMS

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name subsites_session

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/i18n"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/observability/logger"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/report"
	"github.com/opentrusty/subsites/internal/session"
	"github.com/opentrusty/subsites/internal/tenant"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tenantService  *tenant.Service
	tracker        *tenant.Tracker
	index          *authz.Index
	reports        *report.Registry
	records        record.Store
	sessionService *session.Service
	users          identity.UserRepository
	auditLogger    audit.Logger
	sessionConfig  SessionConfig
	overrideParam  string
	reportDuration metric.Float64Histogram
	locale         *i18n.Locale
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// Deps are the services the handlers call into
type Deps struct {
	TenantService  *tenant.Service
	Tracker        *tenant.Tracker
	Index          *authz.Index
	Reports        *report.Registry
	Records        record.Store
	SessionService *session.Service
	Users          identity.UserRepository
	AuditLogger    audit.Logger
	// ReportDuration is optional
	ReportDuration metric.Float64Histogram
	// Locale is the active process locale; optional
	Locale *i18n.Locale
}

// NewHandler creates a new HTTP handler. overrideParam names the query
// parameter that forces the current tenant.
func NewHandler(deps Deps, sessionConfig SessionConfig, overrideParam string) *Handler {
	return &Handler{
		tenantService:  deps.TenantService,
		tracker:        deps.Tracker,
		index:          deps.Index,
		reports:        deps.Reports,
		records:        deps.Records,
		sessionService: deps.SessionService,
		users:          deps.Users,
		auditLogger:    deps.AuditLogger,
		sessionConfig:  sessionConfig,
		overrideParam:  overrideParam,
		reportDuration: deps.ReportDuration,
		locale:         deps.Locale,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SubsiteMiddleware(h.overrideParam))
		r.Use(h.LocaleMiddleware)
		r.Use(h.SessionMiddleware)
		r.Use(h.RequireUser)

		r.Route("/tenants", func(r chi.Router) {
			r.With(h.RequireGlobalAccess()).Get("/", h.ListTenants)
			r.With(h.RequireGlobalAccess()).Post("/", h.CreateTenant)
			r.Get("/current", h.CurrentTenant)

			r.Route("/{tenantID}", func(r chi.Router) {
				r.Get("/", h.GetTenant)
				r.Put("/", h.UpdateTenant)
				r.With(h.RequireGlobalAccess()).Delete("/", h.DeleteTenant)
				r.Get("/form", h.TenantForm)
				r.Post("/activate", h.ActivateTenant)
			})
		})

		r.Route("/access", func(r chi.Router) {
			r.Get("/tenants", h.AccessibleTenants)
			r.Post("/global", h.GlobalAccess)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Get("/{reportID}", h.GetReport)
			r.Post("/{reportID}/run", h.RunReport)
		})

		r.Route("/pages", func(r chi.Router) {
			r.Get("/", h.ListPages)
			r.Post("/", h.CreatePage)
			r.Get("/options", h.PageOptions)
		})

		r.With(h.RequireGlobalAccess()).Post("/admin/cache/reset", h.ResetCaches)
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "subsites",
	})
}

// ResetCaches drops the domain and permission caches
// @Summary Reset caches
// @Description Drop derived tenant and permission caches (global access required)
// @Tags Admin
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /admin/cache/reset [post]
func (h *Handler) ResetCaches(w http.ResponseWriter, r *http.Request) {
	h.tenantService.ResetCaches(r.Context(), actorID(r.Context()))
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Helper functions
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

// setContentLanguage advertises the active locale, e.g. "de-DE"
func (h *Handler) setContentLanguage(w http.ResponseWriter) {
	if h.locale != nil {
		w.Header().Set("Content-Language", h.locale.Current().String())
	}
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondServiceError maps core errors to status codes. Unexpected errors are
// logged and reported without detail.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *tenant.ValidationError
	var cfgErr *tenant.ConfigurationError

	switch {
	case errors.As(err, &valErr):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": valErr.Message,
			"field": valErr.Field,
		})
	case errors.As(err, &cfgErr):
		respondError(w, http.StatusBadRequest, cfgErr.Error())
	case errors.Is(err, record.ErrBadIdentifier):
		respondError(w, http.StatusBadRequest, "invalid query")
	case errors.Is(err, tenant.ErrTenantNotFound):
		respondError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, report.ErrReportNotFound):
		respondError(w, http.StatusNotFound, "report not found")
	case errors.Is(err, tenant.ErrNoSession):
		respondError(w, http.StatusConflict, "an active session is required")
	case errors.Is(err, authz.ErrAccessDenied):
		respondError(w, http.StatusForbidden, "access denied")
	default:
		slog.ErrorContext(r.Context(), "request failed",
			logger.Error(err),
			logger.Path(r.URL.Path),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
