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
	"net/http"

	"github.com/opentrusty/subsites/internal/form"
	"github.com/opentrusty/subsites/internal/tenant"
)

// TenantRequest represents tenant create and update data
type TenantRequest struct {
	Title    string `json:"title" binding:"required" example:"Marketing"`
	Language string `json:"language" example:"de"`
	Domain   string `json:"domain" example:"marketing.example.com"`
}

// CreateTenant handles tenant creation
// @Summary Create Tenant
// @Description Create a new subsite (global access required)
// @Tags Tenant
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body TenantRequest true "Tenant Data"
// @Success 201 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /tenants [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req TenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenantService.CreateTenant(r.Context(), actorID(r.Context()), req.Title, req.Language, req.Domain)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// GetTenant returns a tenant the caller may view
// @Summary Get Tenant
// @Tags Tenant
// @Produce json
// @Security CookieAuth
// @Param tenantID path int true "Tenant ID"
// @Success 200 {object} tenant.Tenant
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID} [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.viewableTenant(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// UpdateTenant replaces the editable fields of a tenant
// @Summary Update Tenant
// @Description Requires EDIT_SITECONFIG and access to the tenant
// @Tags Tenant
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param tenantID path int true "Tenant ID"
// @Param request body TenantRequest true "Tenant Data"
// @Success 200 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /tenants/{tenantID} [put]
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.viewableTenant(w, r)
	if !ok {
		return
	}

	canEdit, err := h.index.CanEditTenant(r.Context(), nil)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !canEdit {
		h.denied(r, "missing EDIT_SITECONFIG")
		respondError(w, http.StatusForbidden, "not allowed to edit subsites")
		return
	}

	var req TenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.tenantService.UpdateTenant(r.Context(), actorID(r.Context()), t.ID, req.Title, req.Language, req.Domain)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteTenant removes a tenant
// @Summary Delete Tenant
// @Tags Tenant
// @Security CookieAuth
// @Param tenantID path int true "Tenant ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID} [delete]
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r, "tenantID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if err := h.tenantService.DeleteTenant(r.Context(), actorID(r.Context()), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TenantForm describes the edit form of a tenant
// @Summary Tenant edit form
// @Tags Tenant
// @Produce json
// @Security CookieAuth
// @Param tenantID path int true "Tenant ID"
// @Success 200 {array} form.Field
// @Router /tenants/{tenantID}/form [get]
func (h *Handler) TenantForm(w http.ResponseWriter, r *http.Request) {
	t, ok := h.viewableTenant(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string][]form.Field{
		"fields": h.tenantService.Form(t),
	})
}

// CurrentTenant returns the tenant the request runs under
// @Summary Current Tenant
// @Tags Tenant
// @Produce json
// @Security CookieAuth
// @Success 200 {object} tenant.Tenant
// @Failure 404 {object} map[string]string
// @Router /tenants/current [get]
func (h *Handler) CurrentTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenantService.CurrentTenant(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// ActivateTenant makes a tenant current for the caller's session
// @Summary Activate Tenant
// @Description Store the tenant in the session and switch the locale to its language
// @Tags Tenant
// @Produce json
// @Security CookieAuth
// @Param tenantID path int true "Tenant ID"
// @Success 200 {object} map[string]any
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants/{tenantID}/activate [post]
func (h *Handler) ActivateTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.viewableTenant(w, r)
	if !ok {
		return
	}

	if _, err := h.tenantService.Activate(r.Context(), t.ID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := map[string]any{
		"tenant":  t,
		"session": h.tracker.UseSession(),
	}
	if h.locale != nil {
		h.setContentLanguage(w)
		resp["locale"] = h.locale.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// viewableTenant loads the tenant named in the path and checks the caller may
// view it. It writes the error response itself.
func (h *Handler) viewableTenant(w http.ResponseWriter, r *http.Request) (*tenant.Tenant, bool) {
	id, ok := parseIDParam(r, "tenantID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return nil, false
	}

	t, err := h.tenantService.GetTenant(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}

	canView, err := h.index.CanViewTenant(r.Context(), nil, id)
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	if !canView {
		h.denied(r, "tenant not accessible")
		respondError(w, http.StatusForbidden, "tenant not accessible")
		return nil, false
	}
	return t, true
}
