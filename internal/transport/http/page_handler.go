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
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/opentrusty/subsites/internal/form"
	"github.com/opentrusty/subsites/internal/rbac"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/report"
	"github.com/opentrusty/subsites/internal/tenant"
)

// SubsiteField is the hidden page field carrying the owning tenant
const SubsiteField = "SubsiteID"

// PageRequest represents page creation data
type PageRequest struct {
	Title   string `json:"title" binding:"required" example:"About us"`
	Content string `json:"content" example:"<p>Hello</p>"`
	Status  string `json:"status" example:"draft"`
	// SubsiteID places the page in a tenant other than the current one
	SubsiteID *int64 `json:"subsite_id,omitempty"`
}

// ListPages lists pages of the current tenant
// @Summary List Pages
// @Description Pages of the current subsite; all=1 lists every subsite (global access required)
// @Tags Pages
// @Produce json
// @Security CookieAuth
// @Param all query int false "List pages of every subsite"
// @Success 200 {array} map[string]any
// @Failure 403 {object} map[string]string
// @Router /pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := record.Query{
		Table:   report.PagesTable,
		Columns: []string{"id", record.TenantColumn, "title", "status", "updated_at"},
		OrderBy: []string{"title", "id"},
	}

	var rows []record.Record
	list := func(ctx context.Context) error {
		var err error
		rows, err = h.records.Query(ctx, q)
		return err
	}

	var err error
	if r.URL.Query().Get("all") == "1" {
		global, checkErr := h.index.HasGlobalAccess(ctx, nil, nil)
		if checkErr != nil {
			respondServiceError(w, r, checkErr)
			return
		}
		if !global {
			h.denied(r, "global access required to list all pages")
			respondError(w, http.StatusForbidden, "global access required")
			return
		}
		err = tenant.WithAllTenants(ctx, list)
	} else {
		err = list(ctx)
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []record.Record{}
	}

	respondJSON(w, http.StatusOK, rows)
}

// CreatePage stores a page in the current tenant
// @Summary Create Page
// @Tags Pages
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body PageRequest true "Page Data"
// @Success 201 {object} map[string]int64
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /pages [post]
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	allowed, err := h.index.HasPermission(ctx, nil, rbac.CodeCMSMain)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !allowed {
		h.denied(r, "missing "+rbac.CodeCMSMain)
		respondError(w, http.StatusForbidden, "not allowed to edit pages")
		return
	}

	var req PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondServiceError(w, r, &tenant.ValidationError{Field: "Title", Message: `Please add a "Title"`})
		return
	}
	if req.Status == "" {
		req.Status = "draft"
	}

	rec := record.Record{
		"title":      strings.TrimSpace(req.Title),
		"content":    req.Content,
		"status":     req.Status,
		"updated_at": time.Now().UTC(),
	}
	target := rbac.MainTenantID
	if req.SubsiteID != nil {
		target = *req.SubsiteID
	} else if target, err = h.tracker.CurrentID(ctx); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if target != rbac.MainTenantID {
		canView, err := h.index.CanViewTenant(ctx, nil, target)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		if !canView {
			h.denied(r, "tenant not accessible")
			respondError(w, http.StatusForbidden, "tenant not accessible")
			return
		}
	}
	rec[record.TenantColumn] = target

	id, err := h.records.Insert(ctx, report.PagesTable, rec)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// PageOptions describes the page creation form. The hidden SubsiteID field
// carries the current tenant.
// @Summary Page form
// @Tags Pages
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]any
// @Router /pages/options [get]
func (h *Handler) PageOptions(w http.ResponseWriter, r *http.Request) {
	current, err := h.tracker.CurrentID(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string][]form.Field{
		"fields": {
			form.Text("Title", "Page name", ""),
			form.Text("Content", "Content", ""),
			form.Hidden(SubsiteField, current),
		},
	})
}
