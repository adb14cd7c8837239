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

package rbac

// Permission codes checked by this module. They are stored as plain strings
// against groups (group_permissions) and roles (role_codes) and must match
// what administrators grant.
const (
	// CodeAdmin grants everything. It is always part of every check.
	CodeAdmin = "ADMIN"

	// CodeCMSAccess grants access to the administrative area as a whole.
	// Together with CodeAdmin it forms the baseline of tenant lookups.
	CodeCMSAccess = "CMS_ACCESS_LeftAndMain"

	// CodeCMSMain grants access to content and reports.
	CodeCMSMain = "CMS_ACCESS_CMSMain"

	// CodeEditSiteConfig allows editing tenant records.
	CodeEditSiteConfig = "EDIT_SITECONFIG"
)

// BaselineCodes are OR-ed into every accessible-tenant lookup.
var BaselineCodes = []string{CodeCMSAccess, CodeAdmin}

// MainTenantID is the pseudo tenant that owns records created outside any
// tenant. It has no row in the tenants table.
const MainTenantID int64 = 0
