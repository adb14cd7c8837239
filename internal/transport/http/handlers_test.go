package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/i18n"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/rbac"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/report"
	"github.com/opentrusty/subsites/internal/session"
	"github.com/opentrusty/subsites/internal/store/memory"
	"github.com/opentrusty/subsites/internal/tenant"
)

const testCookie = "subsites_session"

type testEnv struct {
	router   http.Handler
	store    *memory.Store
	sessions *session.Service
	locale   *i18n.Locale
	a, b, c  *tenant.Tenant
	editor   *identity.User
	admin    *identity.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	s := memory.New(report.PagesTable)
	auditLogger := audit.NewSlogLoggerWith(slog.New(slog.NewTextHandler(io.Discard, nil)))

	e := &testEnv{store: s, locale: i18n.NewLocale("en")}
	e.sessions = session.NewService(s.Sessions(), time.Hour, time.Hour)

	resolver := tenant.NewDomainResolver(s.Tenants())
	index := authz.NewIndex(s.Grants())
	tracker := tenant.NewTracker(tenant.TrackerConfig{UseSession: true}, resolver, e.sessions, e.locale, index, auditLogger)
	s.SetRestrictor(tenant.NewFilter(tracker))
	tenantService := tenant.NewService(s.Tenants(), tracker, auditLogger, resolver, index)

	registry := report.NewRegistry(index, s.Tenants(), s.Records())
	_, err := registry.Register(report.NewRecentPages(index))
	require.NoError(t, err)

	e.a = &tenant.Tenant{Title: "Alpha", Domain: "a.test", Language: "de"}
	e.b = &tenant.Tenant{Title: "Beta", Domain: "b.test"}
	e.c = &tenant.Tenant{Title: "Gamma", Domain: "c.test"}
	for _, tn := range []*tenant.Tenant{e.a, e.b, e.c} {
		require.NoError(t, s.Tenants().Create(ctx, tn))
	}

	e.editor = &identity.User{Email: "editor@example.com"}
	e.admin = &identity.User{Email: "admin@example.com"}
	require.NoError(t, s.Users().Create(ctx, e.editor))
	require.NoError(t, s.Users().Create(ctx, e.admin))

	editors := &authz.Group{
		Title:     "Editors",
		Codes:     []string{rbac.CodeCMSMain, rbac.CodeEditSiteConfig},
		TenantIDs: []int64{e.a.ID, e.b.ID},
	}
	admins := &authz.Group{Title: "Admins", AccessAllTenants: true, Codes: []string{rbac.CodeAdmin}}
	require.NoError(t, s.Grants().CreateGroup(ctx, editors))
	require.NoError(t, s.Grants().CreateGroup(ctx, admins))
	require.NoError(t, s.Grants().AddMember(ctx, editors.ID, e.editor.ID))
	require.NoError(t, s.Grants().AddMember(ctx, admins.ID, e.admin.ID))

	for _, tn := range []*tenant.Tenant{e.a, e.b, e.c} {
		_, err := s.Records().Insert(ctx, report.PagesTable, record.Record{
			"title":             "Home " + tn.Title,
			"status":            "live",
			"updated_at":        "2026-01-01",
			record.TenantColumn: tn.ID,
		})
		require.NoError(t, err)
	}

	h := NewHandler(Deps{
		TenantService:  tenantService,
		Tracker:        tracker,
		Index:          index,
		Reports:        registry,
		Records:        s.Records(),
		SessionService: e.sessions,
		Users:          s.Users(),
		AuditLogger:    auditLogger,
		Locale:         e.locale,
	}, SessionConfig{CookieName: testCookie, CookiePath: "/"}, "SubsiteID")

	rlCtx, rlCancel := context.WithCancel(context.Background())
	t.Cleanup(rlCancel)
	e.router = NewRouter(h, NewRateLimiter(rlCtx, 1000, 1000))
	return e
}

func (e *testEnv) login(t *testing.T, user *identity.User) *http.Cookie {
	t.Helper()
	sess, err := e.sessions.Create(context.Background(), user.ID, "127.0.0.1", "test")
	require.NoError(t, err)
	return &http.Cookie{Name: testCookie, Value: sess.ID}
}

func (e *testEnv) do(t *testing.T, method, host, target string, cookie *http.Cookie, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

// TestPurpose: Validates that API routes require an authenticated session while health stays public.
// Scope: Unit Test
// Security: Authentication boundary
// Expected: 401 without a session cookie or with an unknown one; 200 on /health.
// Test Case ID: HTTP-01
func TestRouter_RequiresSession(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "a.test", "/api/v1/tenants/current", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "a.test", "/api/v1/tenants/current", &http.Cookie{Name: testCookie, Value: "bogus"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "a.test", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestPurpose: Validates how the current tenant is determined from the request.
// Scope: Unit Test
// Expected: The host selects the tenant, the override parameter wins over it, and an unknown host has no tenant.
// Test Case ID: HTTP-02
func TestCurrentTenant_HostAndOverride(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.login(t, e.editor)

	w := e.do(t, http.MethodGet, "a.test:8080", "/api/v1/tenants/current", cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alpha", decode[tenant.Tenant](t, w).Title)

	w = e.do(t, http.MethodGet, "a.test", "/api/v1/tenants/current?SubsiteID=2", cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Beta", decode[tenant.Tenant](t, w).Title)

	w = e.do(t, http.MethodGet, "unknown.test", "/api/v1/tenants/current", cookie, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates tenant activation through the session.
// Scope: Unit Test
// Security: Users may only activate tenants they can view
// Expected: An activated tenant outranks the host on later requests and switches the advertised locale; inaccessible tenants are refused.
// Test Case ID: HTTP-03
func TestActivateTenant(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.login(t, e.editor)

	w := e.do(t, http.MethodGet, "b.test", "/api/v1/tenants/current", cookie, nil)
	assert.Equal(t, "en-US", w.Header().Get("Content-Language"))

	w = e.do(t, http.MethodPost, "b.test", "/api/v1/tenants/1/activate", cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "de_DE", e.locale.String())
	assert.Equal(t, "de-DE", w.Header().Get("Content-Language"))
	assert.Equal(t, "de_DE", decode[map[string]any](t, w)["locale"])

	w = e.do(t, http.MethodGet, "b.test", "/api/v1/tenants/current", cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alpha", decode[tenant.Tenant](t, w).Title)
	assert.Equal(t, "de-DE", w.Header().Get("Content-Language"))

	w = e.do(t, http.MethodPost, "b.test", "/api/v1/tenants/3/activate", cookie, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "b.test", "/api/v1/tenants/99/activate", cookie, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates tenant administration permissions.
// Scope: Unit Test
// Security: RBAC enforcement on tenant management
// Expected: Only global access lists or creates tenants; EDIT_SITECONFIG holders update linked tenants; invalid input yields 400.
// Test Case ID: HTTP-04
func TestTenantAdministration(t *testing.T) {
	e := newTestEnv(t)
	editor := e.login(t, e.editor)
	admin := e.login(t, e.admin)

	w := e.do(t, http.MethodGet, "a.test", "/api/v1/tenants", editor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "a.test", "/api/v1/tenants", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]tenant.Tenant](t, w), 3)

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/tenants", admin, TenantRequest{Title: " "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Title", decode[map[string]string](t, w)["field"])

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/tenants", admin, TenantRequest{Title: "Delta", Domain: "D.TEST"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "d.test", decode[tenant.Tenant](t, w).Domain)

	w = e.do(t, http.MethodPut, "a.test", "/api/v1/tenants/2", editor, TenantRequest{Title: "Beta 2", Domain: "b.test"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Beta 2", decode[tenant.Tenant](t, w).Title)

	w = e.do(t, http.MethodPut, "a.test", "/api/v1/tenants/3", editor, TenantRequest{Title: "Gamma 2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "a.test", "/api/v1/tenants/1/form", editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Subsite Name")
}

// TestPurpose: Validates the access endpoints and the rejection of scalar permission codes.
// Scope: Unit Test
// Security: Permission API contract
// Expected: Accessible tenants follow group links; a scalar codes value is a 400 configuration error.
// Test Case ID: HTTP-05
func TestAccessEndpoints(t *testing.T) {
	e := newTestEnv(t)
	editor := e.login(t, e.editor)
	admin := e.login(t, e.admin)

	w := e.do(t, http.MethodGet, "a.test", "/api/v1/access/tenants?code="+rbac.CodeCMSMain, editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		IDs []int64 `json:"ids"`
	}](t, w)
	assert.Equal(t, []int64{e.a.ID, e.b.ID}, body.IDs)

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/access/global", editor, `{"codes": "ADMIN"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "must be a list")

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/access/global", editor, `{"codes": ["ADMIN"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[map[string]bool](t, w)["global_access"])

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/access/global", admin, `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[map[string]bool](t, w)["global_access"])
}

// TestPurpose: Validates that page listings are scoped to the current tenant.
// Scope: Unit Test
// Security: Cross-tenant data leakage prevention
// Expected: Only the host's pages are listed; all=1 needs global access and then lists every tenant.
// Test Case ID: HTTP-06
func TestListPages_Scoped(t *testing.T) {
	e := newTestEnv(t)
	editor := e.login(t, e.editor)
	admin := e.login(t, e.admin)

	w := e.do(t, http.MethodGet, "b.test", "/api/v1/pages", editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pages := decode[[]map[string]any](t, w)
	require.Len(t, pages, 1)
	assert.Equal(t, "Home Beta", pages[0]["title"])

	w = e.do(t, http.MethodGet, "b.test", "/api/v1/pages?all=1", editor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "b.test", "/api/v1/pages?all=1", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 3)
}

// TestPurpose: Validates page creation in the current tenant and the page form.
// Scope: Unit Test
// Expected: The form carries the current tenant as hidden SubsiteID; a new page lands in that tenant.
// Test Case ID: HTTP-07
func TestPages_CreateInCurrentTenant(t *testing.T) {
	e := newTestEnv(t)
	editor := e.login(t, e.editor)

	w := e.do(t, http.MethodGet, "a.test", "/api/v1/pages/options", editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"SubsiteID"`)
	assert.Contains(t, w.Body.String(), `"value":1`)

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/pages", editor, PageRequest{Title: "News"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodGet, "a.test", "/api/v1/pages", editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 2)

	other := e.c.ID
	w = e.do(t, http.MethodPost, "a.test", "/api/v1/pages", editor, PageRequest{Title: "Intrusion", SubsiteID: &other})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// TestPurpose: Validates that the current tenant of a page write is checked like an explicit one.
// Scope: Unit Test
// Security: Cross-tenant write prevention
// Expected: Writing into Gamma through the override parameter or its host yields 403 and stores nothing.
// Test Case ID: HTTP-11
func TestPages_CreateChecksCurrentTenant(t *testing.T) {
	e := newTestEnv(t)
	editor := e.login(t, e.editor)

	w := e.do(t, http.MethodPost, "a.test", "/api/v1/pages?SubsiteID=3", editor, PageRequest{Title: "Intrusion"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "c.test", "/api/v1/pages", editor, PageRequest{Title: "Intrusion"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/pages?SubsiteID=2", editor, PageRequest{Title: "Beta news"})
	require.Equal(t, http.StatusCreated, w.Code)

	admin := e.login(t, e.admin)
	w = e.do(t, http.MethodGet, "c.test", "/api/v1/pages", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)
}

// TestPurpose: Validates running a tenant-aware report over HTTP.
// Scope: Unit Test
// Security: SQL injection prevention on the sort parameter
// Expected: Rows of the selected tenants carry the tenant title; an injected sort term yields 400.
// Test Case ID: HTTP-08
func TestRunReport(t *testing.T) {
	e := newTestEnv(t)
	editor := e.login(t, e.editor)

	w := e.do(t, http.MethodGet, "a.test", "/api/v1/reports", editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []ReportSummary{{ID: "recent_pages_subsite", Title: "Recently edited pages", Description: "Pages ordered by their last edit"}},
		decode[[]ReportSummary](t, w))

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/reports/recent_pages_subsite/run", editor,
		RunReportRequest{Params: report.Params{report.TenantsParam: {"2"}}})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[struct {
		Rows []map[string]any `json:"rows"`
	}](t, w)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "Beta", result.Rows[0][report.TenantTitleColumn])

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/reports/recent_pages_subsite/run", editor,
		RunReportRequest{Sort: "title; DROP TABLE pages"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "a.test", "/api/v1/reports/missing", editor, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates per-client rate limiting.
// Scope: Unit Test
// Security: Abuse protection
// Expected: Requests beyond the burst get 429.
// Test Case ID: HTTP-09
func TestRateLimitMiddleware(t *testing.T) {
	rlCtx, rlCancel := context.WithCancel(context.Background())
	t.Cleanup(rlCancel)
	rl := NewRateLimiter(rlCtx, 0.001, 1)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "203.0.113.7", getClientIP(req))
}

// TestPurpose: Validates the administrative cache reset.
// Scope: Unit Test
// Expected: Editors are refused; after a reset a changed domain resolves to its new tenant.
// Test Case ID: HTTP-10
func TestResetCaches(t *testing.T) {
	e := newTestEnv(t)
	editor := e.login(t, e.editor)
	admin := e.login(t, e.admin)

	w := e.do(t, http.MethodGet, "new.test", "/api/v1/tenants/current", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c := *e.c
	c.Domain = "new.test"
	require.NoError(t, e.store.Tenants().Update(context.Background(), &c))

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/admin/cache/reset", editor, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "a.test", "/api/v1/admin/cache/reset", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "new.test", "/api/v1/tenants/current", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Gamma", decode[tenant.Tenant](t, w).Title)
}
