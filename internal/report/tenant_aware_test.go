package report_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/opentrusty/subsites/internal/form"
	"github.com/opentrusty/subsites/internal/i18n"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/rbac"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/report"
	"github.com/opentrusty/subsites/internal/session"
	"github.com/opentrusty/subsites/internal/store/memory"
	"github.com/opentrusty/subsites/internal/tenant"
)

type env struct {
	store    *memory.Store
	index    *authz.Index
	filter   *tenant.Filter
	registry *report.Registry
	a, b, c  *tenant.Tenant
	user     *identity.User
	solo     *identity.User
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := memory.New(report.PagesTable)

	e := &env{store: s, index: authz.NewIndex(s.Grants())}
	auditLogger := audit.NewSlogLoggerWith(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tracker := tenant.NewTracker(tenant.TrackerConfig{}, tenant.NewDomainResolver(s.Tenants()),
		session.NewService(s.Sessions(), time.Hour, time.Hour), i18n.NewLocale("en"), e.index, auditLogger)
	e.filter = tenant.NewFilter(tracker)
	s.SetRestrictor(e.filter)
	e.registry = report.NewRegistry(e.index, s.Tenants(), s.Records())

	e.a = &tenant.Tenant{Title: "Alpha", Domain: "a.test"}
	e.b = &tenant.Tenant{Title: "Beta", Domain: "b.test"}
	e.c = &tenant.Tenant{Title: "Gamma", Domain: "c.test"}
	for _, tn := range []*tenant.Tenant{e.a, e.b, e.c} {
		require.NoError(t, s.Tenants().Create(ctx, tn))
	}

	e.user = &identity.User{Email: "editor@example.com"}
	e.solo = &identity.User{Email: "solo@example.com"}
	require.NoError(t, s.Users().Create(ctx, e.user))
	require.NoError(t, s.Users().Create(ctx, e.solo))

	g := &authz.Group{Title: "Editors", Codes: []string{rbac.CodeCMSMain}, TenantIDs: []int64{e.a.ID, e.b.ID}}
	require.NoError(t, s.Grants().CreateGroup(ctx, g))
	require.NoError(t, s.Grants().AddMember(ctx, g.ID, e.user.ID))

	solo := &authz.Group{Title: "Solo", Codes: []string{rbac.CodeCMSMain}, TenantIDs: []int64{e.c.ID}}
	require.NoError(t, s.Grants().CreateGroup(ctx, solo))
	require.NoError(t, s.Grants().AddMember(ctx, solo.ID, e.solo.ID))

	rows := []record.Record{
		{"title": "Home A", "content": "", "status": "live", "updated_at": "2026-01-03", record.TenantColumn: e.a.ID},
		{"title": "Home B", "content": "hello", "status": "draft", "updated_at": "2026-01-02", record.TenantColumn: e.b.ID},
		{"title": "Home C", "content": "", "status": "live", "updated_at": "2026-01-01", record.TenantColumn: e.c.ID},
		{"title": "Main", "content": "", "status": "live", "updated_at": "2026-01-04", record.TenantColumn: int64(0)},
	}
	for _, row := range rows {
		_, err := s.Records().Insert(ctx, report.PagesTable, row)
		require.NoError(t, err)
	}
	return e
}

func titlesOf(rows []record.Record) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["title"].(string)+"@"+r[report.TenantTitleColumn].(string))
	}
	return out
}

type bareReport struct{}

func (bareReport) ID() string                                            { return "bare" }
func (bareReport) Title() string                                         { return "Bare" }
func (bareReport) Description() string                                   { return "" }
func (bareReport) Parameters(context.Context) ([]form.Field, error)      { return nil, nil }
func (bareReport) Columns() []report.Column                              { return nil }
func (bareReport) CanView(context.Context, *identity.User) (bool, error) { return true, nil }

type failingReport struct {
	bareReport
	seen []int64
}

func (f *failingReport) SourceRecords(ctx context.Context, _ report.Params, _ string, _ uint64) ([]record.Record, error) {
	f.seen = tenant.ScopeOf(ctx).TenantIDs
	return nil, errors.New("boom")
}

// TestPurpose: Validates that a report producing neither records nor a query is rejected at construction.
// Scope: Unit Test
// Expected: *tenant.ConfigurationError naming the report.
// Test Case ID: REP-01
func TestNewTenantAware_RejectsUnsupportedReport(t *testing.T) {
	e := setup(t)

	_, err := report.NewTenantAware(bareReport{}, e.index, e.store.Tenants(), e.store.Records())

	require.Error(t, err)
	assert.True(t, tenant.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "bare")

	_, err = report.NewTenantAware(report.NewRecentPages(e.index), e.index, e.store.Tenants(), nil)
	assert.True(t, tenant.IsConfigurationError(err))
}

// TestPurpose: Validates the tenant picker prepended to report parameters.
// Scope: Unit Test
// Expected: The picker lists accessible tenants, all selected; it is read-only for a single tenant.
// Test Case ID: REP-02
func TestTenantAware_Parameters(t *testing.T) {
	e := setup(t)
	w, err := e.registry.Register(report.NewRecentPages(e.index))
	require.NoError(t, err)

	fields, err := w.Parameters(contexts.WithUser(context.Background(), e.user))
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, report.TenantsParam, fields[0].Name)
	assert.Equal(t, "Sites", fields[0].Title)
	assert.Equal(t, form.KindMultiSelect, fields[0].Kind)
	assert.Equal(t, []form.Option{{Value: "1", Label: "Alpha"}, {Value: "2", Label: "Beta"}}, fields[0].Options)
	assert.Equal(t, []int64{e.a.ID, e.b.ID}, fields[0].Value)
	assert.False(t, fields[0].ReadOnly)
	assert.Equal(t, "Status", fields[1].Name)

	fields, err = w.Parameters(contexts.WithUser(context.Background(), e.solo))
	require.NoError(t, err)
	assert.True(t, fields[0].ReadOnly)
}

// TestPurpose: Validates pass-through metadata and the appended tenant column.
// Scope: Unit Test
// Expected: ID carries the _subsite suffix; columns end with the tenant name column.
// Test Case ID: REP-03
func TestTenantAware_Metadata(t *testing.T) {
	e := setup(t)
	w, err := e.registry.Register(report.NewRecentPages(e.index))
	require.NoError(t, err)

	assert.Equal(t, "recent_pages_subsite", w.ID())
	assert.Equal(t, "Recently edited pages", w.Title())
	cols := w.Columns()
	assert.Equal(t, report.Column{Name: report.TenantTitleColumn, Title: "Tenant name"}, cols[len(cols)-1])

	_, err = e.registry.Register(report.NewRecentPages(e.index))
	assert.ErrorIs(t, err, report.ErrDuplicateID)
}

// TestPurpose: Validates that execution defaults to the accessible tenants of the user.
// Scope: Unit Test
// Security: Cross-tenant data leakage prevention
// Expected: Only pages of Alpha and Beta are returned, newest first, each with its tenant title.
// Test Case ID: REP-04
func TestTenantAware_Execute_DefaultsToAccessible(t *testing.T) {
	e := setup(t)
	w, err := e.registry.Register(report.NewRecentPages(e.index))
	require.NoError(t, err)
	ctx := contexts.WithUser(context.Background(), e.user)

	rows, err := w.Execute(ctx, report.Params{}, "", 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"Home A@Alpha", "Home B@Beta"}, titlesOf(rows))
}

// TestPurpose: Validates explicit tenant selection and parameter parsing.
// Scope: Unit Test
// Expected: Submitted IDs are used as given; non-numeric IDs yield a ValidationError.
// Test Case ID: REP-05
func TestTenantAware_Execute_SelectedTenants(t *testing.T) {
	e := setup(t)
	w, err := e.registry.Register(report.NewEmptyPages(e.index, e.store.Records()))
	require.NoError(t, err)
	ctx := contexts.WithUser(context.Background(), e.user)

	rows, err := w.Execute(ctx, report.Params{report.TenantsParam: {"3, 0"}}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Home C@Gamma", "Main@"}, titlesOf(rows))

	_, err = w.Execute(ctx, report.Params{report.TenantsParam: {"x"}}, "", 0)
	assert.True(t, tenant.IsValidationError(err))
}

// TestPurpose: Validates that the report scope never outlives execution, including on error.
// Scope: Unit Test
// Security: Cross-tenant data leakage prevention
// Expected: The producer sees the selected scope; the caller's restriction is unchanged after a failing run.
// Test Case ID: REP-06
func TestTenantAware_Execute_RestoresScopeOnError(t *testing.T) {
	e := setup(t)
	failing := &failingReport{}
	w, err := report.NewTenantAware(failing, e.index, e.store.Tenants(), e.store.Records())
	require.NoError(t, err)
	ctx := contexts.WithHost(contexts.WithUser(context.Background(), e.user), "c.test")

	_, err = w.Execute(ctx, report.Params{report.TenantsParam: {"1", "2"}}, "", 0)

	require.Error(t, err)
	assert.Equal(t, []int64{1, 2}, failing.seen)

	ids, restricted, err := e.filter.Restriction(ctx)
	require.NoError(t, err)
	assert.True(t, restricted)
	assert.Equal(t, []int64{e.c.ID}, ids)
}

// TestPurpose: Validates report visibility by permission.
// Scope: Unit Test
// Expected: Users without CMS_ACCESS_CMSMain see no reports.
// Test Case ID: REP-07
func TestRegistry_Visible(t *testing.T) {
	e := setup(t)
	_, err := e.registry.Register(report.NewRecentPages(e.index))
	require.NoError(t, err)
	_, err = e.registry.Register(report.NewEmptyPages(e.index, e.store.Records()))
	require.NoError(t, err)

	visible, err := e.registry.Visible(context.Background(), e.user)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	stranger := &identity.User{ID: 99}
	visible, err = e.registry.Visible(context.Background(), stranger)
	require.NoError(t, err)
	assert.Empty(t, visible)

	_, err = e.registry.Get("missing")
	assert.ErrorIs(t, err, report.ErrReportNotFound)
}
