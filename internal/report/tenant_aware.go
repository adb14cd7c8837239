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

package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/subsites/internal/form"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/rbac"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/tenant"
)

var tracer = otel.Tracer("github.com/opentrusty/subsites/internal/report")

const (
	// TenantsParam is the tenant picker field
	TenantsParam = "Tenants"
	// TenantTitleColumn holds the owning tenant's title in results
	TenantTitleColumn = "Tenant.Title"
)

// Access lists the tenants a user may access
type Access interface {
	AccessibleTenants(ctx context.Context, codes []string, user *identity.User) ([]*tenant.Tenant, error)
}

// TenantLookup finds tenants by ID
type TenantLookup interface {
	GetByID(ctx context.Context, id int64) (*tenant.Tenant, error)
}

// TenantAware wraps a report so it runs scoped to the tenants selected in
// its Tenants parameter, defaulting to every tenant the user may access.
type TenantAware struct {
	base    Report
	records RecordProducer
	query   QueryProducer
	access  Access
	tenants TenantLookup
	querier record.Querier
}

// NewTenantAware wraps base. base must be a RecordProducer or a
// QueryProducer; querier runs the queries of the latter.
func NewTenantAware(base Report, access Access, tenants TenantLookup, querier record.Querier) (*TenantAware, error) {
	w := &TenantAware{base: base, access: access, tenants: tenants, querier: querier}

	if rp, ok := base.(RecordProducer); ok {
		w.records = rp
		return w, nil
	}
	if qp, ok := base.(QueryProducer); ok {
		if querier == nil {
			return nil, &tenant.ConfigurationError{
				Op: "report.NewTenantAware", Arg: "querier", Reason: "query reports need a querier",
			}
		}
		w.query = qp
		return w, nil
	}

	id := "<nil>"
	if base != nil {
		id = base.ID()
	}
	return nil, &tenant.ConfigurationError{
		Op:     "report.NewTenantAware",
		Arg:    "report " + id,
		Reason: "report produces neither records nor a query",
	}
}

// ID returns the wrapped report's ID with a "_subsite" suffix
func (w *TenantAware) ID() string {
	return w.base.ID() + "_subsite"
}

func (w *TenantAware) Title() string {
	return w.base.Title()
}

func (w *TenantAware) Description() string {
	return w.base.Description()
}

func (w *TenantAware) CanView(ctx context.Context, user *identity.User) (bool, error) {
	return w.base.CanView(ctx, user)
}

// Parameters prepends the tenant picker to the wrapped report's fields. All
// accessible tenants are selected; the picker is read-only when there is at
// most one.
func (w *TenantAware) Parameters(ctx context.Context) ([]form.Field, error) {
	sites, err := w.access.AccessibleTenants(ctx, []string{rbac.CodeCMSMain}, nil)
	if err != nil {
		return nil, err
	}

	picker := form.Field{
		Name:  TenantsParam,
		Title: "Sites",
		Kind:  form.KindMultiSelect,
		Options: lo.Map(sites, func(t *tenant.Tenant, _ int) form.Option {
			return form.Option{Value: strconv.FormatInt(t.ID, 10), Label: t.Title}
		}),
		Value:    lo.Map(sites, func(t *tenant.Tenant, _ int) int64 { return t.ID }),
		ReadOnly: len(sites) <= 1,
	}

	fields, err := w.base.Parameters(ctx)
	if err != nil {
		return nil, err
	}
	return append([]form.Field{picker}, fields...), nil
}

// Columns appends the tenant name column
func (w *TenantAware) Columns() []Column {
	return append(w.base.Columns(), Column{Name: TenantTitleColumn, Title: "Tenant name"})
}

// Execute runs the wrapped report scoped to the selected tenants and adds
// the tenant title to every record.
func (w *TenantAware) Execute(ctx context.Context, params Params, sort string, limit uint64) ([]record.Record, error) {
	if sort != "" && !record.ValidOrder(sort) {
		return nil, &tenant.ValidationError{Field: "sort", Message: fmt.Sprintf("%q is not a sortable column", sort)}
	}
	ids, err := parseTenantIDs(params[TenantsParam])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		sites, err := w.access.AccessibleTenants(ctx, []string{rbac.CodeCMSMain}, nil)
		if err != nil {
			return nil, err
		}
		ids = lo.Map(sites, func(t *tenant.Tenant, _ int) int64 { return t.ID })
	}

	ctx, span := tracer.Start(ctx, "report.execute", trace.WithAttributes(
		attribute.String("report.id", w.ID()),
		attribute.Int64Slice("report.tenant_ids", ids),
	))
	defer span.End()

	var out []record.Record
	err = tenant.WithTenantScope(ctx, ids, func(ctx context.Context) error {
		var err error
		if w.records != nil {
			out, err = w.records.SourceRecords(ctx, params, sort, limit)
			return err
		}

		q, err := w.query.SourceQuery(ctx, params)
		if err != nil {
			return err
		}
		if sort != "" {
			q.OrderBy = []string{sort}
		}
		if limit > 0 {
			q.Limit = limit
		}
		out, err = w.querier.Query(ctx, q)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "report failed")
		return nil, fmt.Errorf("failed to run report %s: %w", w.ID(), err)
	}
	span.SetAttributes(attribute.Int("report.rows", len(out)))

	return out, w.addTenantTitles(ctx, out)
}

func (w *TenantAware) addTenantTitles(ctx context.Context, rows []record.Record) error {
	titles := map[int64]string{tenant.NoTenant: ""}
	for _, row := range rows {
		id := row.TenantID()
		title, ok := titles[id]
		if !ok && w.tenants != nil {
			t, err := w.tenants.GetByID(ctx, id)
			switch {
			case err == nil:
				title = t.Title
			case !errors.Is(err, tenant.ErrTenantNotFound):
				return fmt.Errorf("failed to load tenant %d: %w", id, err)
			}
			titles[id] = title
		}
		row[TenantTitleColumn] = title
	}
	return nil
}

// parseTenantIDs reads comma-separated tenant IDs. nil means none submitted.
func parseTenantIDs(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, &tenant.ValidationError{Field: TenantsParam, Message: fmt.Sprintf("%q is not a tenant ID", part)}
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return lo.Uniq(ids), nil
}
