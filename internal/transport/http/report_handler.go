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
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/form"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/report"
)

// ReportSummary describes a report in listings
type ReportSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ReportDetail adds the parameter form and columns of a report
type ReportDetail struct {
	ReportSummary
	Parameters []form.Field    `json:"parameters"`
	Columns    []report.Column `json:"columns"`
}

// RunReportRequest holds submitted report parameters
type RunReportRequest struct {
	Params report.Params `json:"params"`
	Sort   string        `json:"sort" example:"title DESC"`
	Limit  uint64        `json:"limit" example:"50"`
}

// ListReports lists the reports the caller may view
// @Summary List Reports
// @Tags Reports
// @Produce json
// @Security CookieAuth
// @Success 200 {array} ReportSummary
// @Router /reports [get]
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	visible, err := h.reports.Visible(r.Context(), currentUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, lo.Map(visible, func(rep *report.TenantAware, _ int) ReportSummary {
		return summarize(rep)
	}))
}

// GetReport describes a report with its parameter form
// @Summary Get Report
// @Tags Reports
// @Produce json
// @Security CookieAuth
// @Param reportID path string true "Report ID"
// @Success 200 {object} ReportDetail
// @Failure 404 {object} map[string]string
// @Router /reports/{reportID} [get]
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.viewableReport(w, r)
	if !ok {
		return
	}

	params, err := rep.Parameters(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ReportDetail{
		ReportSummary: summarize(rep),
		Parameters:    params,
		Columns:       rep.Columns(),
	})
}

// RunReport executes a report scoped to the selected tenants
// @Summary Run Report
// @Description Runs the report over the tenants in params.Tenants, or every accessible tenant
// @Tags Reports
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param reportID path string true "Report ID"
// @Param request body RunReportRequest false "Parameters"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /reports/{reportID}/run [post]
func (h *Handler) RunReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.viewableReport(w, r)
	if !ok {
		return
	}

	var req RunReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	rows, err := rep.Execute(r.Context(), req.Params, req.Sort, req.Limit)
	if h.reportDuration != nil {
		h.reportDuration.Record(r.Context(), float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("report", rep.ID()), attribute.Bool("error", err != nil)))
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []record.Record{}
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeReportRun,
		ActorID:  actorID(r.Context()),
		Resource: rep.ID(),
		Metadata: map[string]any{"tenants": req.Params[report.TenantsParam], "rows": len(rows)},
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"columns": rep.Columns(),
		"rows":    rows,
	})
}

func (h *Handler) viewableReport(w http.ResponseWriter, r *http.Request) (*report.TenantAware, bool) {
	rep, err := h.reports.Get(chi.URLParam(r, "reportID"))
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}

	canView, err := rep.CanView(r.Context(), currentUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	if !canView {
		h.denied(r, "report not viewable")
		respondError(w, http.StatusForbidden, "report not viewable")
		return nil, false
	}
	return rep, true
}

func summarize(rep *report.TenantAware) ReportSummary {
	return ReportSummary{ID: rep.ID(), Title: rep.Title(), Description: rep.Description()}
}
