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
	"errors"
	"net/http"

	"github.com/samber/lo"

	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/tenant"
)

// ListTenants handles listing all tenants
// @Summary List Tenants
// @Description List every subsite regardless of permission (global access required)
// @Tags Tenant
// @Produce json
// @Security CookieAuth
// @Success 200 {array} tenant.Tenant
// @Failure 403 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /tenants [get]
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenantService.AllTenants(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, tenants)
}

// AccessibleTenants lists the tenants the caller may access with any of the
// requested codes
// @Summary Accessible Tenants
// @Tags Access
// @Produce json
// @Security CookieAuth
// @Param code query []string false "Permission codes" collectionFormat(multi)
// @Success 200 {object} map[string]any
// @Router /access/tenants [get]
func (h *Handler) AccessibleTenants(w http.ResponseWriter, r *http.Request) {
	codes := r.URL.Query()["code"]

	tenants, err := h.index.AccessibleTenants(r.Context(), codes, nil)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tenants": tenants,
		"ids":     lo.Map(tenants, func(t *tenant.Tenant, _ int) int64 { return t.ID }),
	})
}

// GlobalAccessRequest carries the codes to check. codes must be a list.
type GlobalAccessRequest struct {
	Codes authz.Codes `json:"codes" example:"ADMIN"`
}

// GlobalAccess reports whether the caller has access to every tenant
// @Summary Global access check
// @Tags Access
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body GlobalAccessRequest true "Codes"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} map[string]string
// @Router /access/global [post]
func (h *Handler) GlobalAccess(w http.ResponseWriter, r *http.Request) {
	var req GlobalAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var cfgErr *tenant.ConfigurationError
		if errors.As(err, &cfgErr) {
			respondError(w, http.StatusBadRequest, cfgErr.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.index.HasGlobalAccess(r.Context(), nil, req.Codes)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"global_access": ok})
}
