package report

import (
	"context"
	"strings"

	"github.com/opentrusty/subsites/internal/form"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/rbac"
	"github.com/opentrusty/subsites/internal/record"
)

// PagesTable holds content pages
const PagesTable = "pages"

// Checker answers single permission checks
type Checker interface {
	HasPermission(ctx context.Context, user *identity.User, code string) (bool, error)
}

var pageColumns = []Column{
	{Name: "title", Title: "Title"},
	{Name: "status", Title: "Status"},
	{Name: "updated_at", Title: "Last edited"},
}

// RecentPages lists pages by last edit, optionally filtered by status.
type RecentPages struct {
	checks Checker
}

// NewRecentPages creates the recently edited pages report
func NewRecentPages(checks Checker) *RecentPages {
	return &RecentPages{checks: checks}
}

func (r *RecentPages) ID() string          { return "recent_pages" }
func (r *RecentPages) Title() string       { return "Recently edited pages" }
func (r *RecentPages) Description() string { return "Pages ordered by their last edit" }

func (r *RecentPages) Parameters(context.Context) ([]form.Field, error) {
	return []form.Field{form.Text("Status", "Status", "")}, nil
}

func (r *RecentPages) Columns() []Column {
	return append([]Column(nil), pageColumns...)
}

func (r *RecentPages) CanView(ctx context.Context, user *identity.User) (bool, error) {
	return r.checks.HasPermission(ctx, user, rbac.CodeCMSMain)
}

func (r *RecentPages) SourceQuery(_ context.Context, params Params) (record.Query, error) {
	q := record.Query{
		Table:   PagesTable,
		Columns: []string{"id", record.TenantColumn, "title", "status", "updated_at"},
		OrderBy: []string{"updated_at DESC", "id"},
		Limit:   50,
	}
	if status := strings.TrimSpace(params.Get("Status")); status != "" {
		q.Where = map[string]any{"status": status}
	}
	return q, nil
}

// EmptyPages lists pages without content. It filters records itself.
type EmptyPages struct {
	checks  Checker
	querier record.Querier
}

// NewEmptyPages creates the empty pages report
func NewEmptyPages(checks Checker, querier record.Querier) *EmptyPages {
	return &EmptyPages{checks: checks, querier: querier}
}

func (r *EmptyPages) ID() string          { return "empty_pages" }
func (r *EmptyPages) Title() string       { return "Pages without content" }
func (r *EmptyPages) Description() string { return "Pages whose content is blank" }

func (r *EmptyPages) Parameters(context.Context) ([]form.Field, error) {
	return nil, nil
}

func (r *EmptyPages) Columns() []Column {
	return append([]Column(nil), pageColumns...)
}

func (r *EmptyPages) CanView(ctx context.Context, user *identity.User) (bool, error) {
	return r.checks.HasPermission(ctx, user, rbac.CodeCMSMain)
}

func (r *EmptyPages) SourceRecords(ctx context.Context, _ Params, sort string, limit uint64) ([]record.Record, error) {
	q := record.Query{Table: PagesTable, OrderBy: []string{"title", "id"}}
	if sort != "" {
		q.OrderBy = []string{sort}
	}
	rows, err := r.querier.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	var out []record.Record
	for _, row := range rows {
		content, _ := row["content"].(string)
		if strings.TrimSpace(content) != "" {
			continue
		}
		delete(row, "content")
		out = append(out, row)
		if limit > 0 && uint64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}
