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

package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opentrusty/subsites/internal/audit"
	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/observability/logger"
	"github.com/opentrusty/subsites/internal/rbac"
)

// AdminGroupTitle names the group created by Bootstrap
const AdminGroupTitle = "Administrators"

// Admins is what Bootstrap needs from a store
type Admins struct {
	Users  identity.UserRepository
	Groups authz.GroupRepository
	Grants authz.GrantRepository
}

// Bootstrap grants global ADMIN to the user with the given email, creating
// the user when missing. It does nothing when email is empty or the user
// already holds global ADMIN.
func Bootstrap(ctx context.Context, email string, target Admins, auditLogger audit.Logger) error {
	if email == "" {
		return nil
	}

	user, err := target.Users.GetByEmail(ctx, email)
	if errors.Is(err, identity.ErrUserNotFound) {
		user = &identity.User{Email: email, Name: email}
		if err := target.Users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create bootstrap user: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up bootstrap user: %w", err)
	}

	n, err := target.Grants.CountGlobalGrants(ctx, user.ID, []string{rbac.CodeAdmin})
	if err != nil {
		return fmt.Errorf("failed to check for existing admin grant: %w", err)
	}
	if n > 0 {
		return nil
	}

	group := &authz.Group{
		Title:            AdminGroupTitle,
		AccessAllTenants: true,
		Codes:            []string{rbac.CodeAdmin},
	}
	if err := target.Groups.CreateGroup(ctx, group); err != nil {
		return fmt.Errorf("failed to create admin group: %w", err)
	}
	if err := target.Groups.AddMember(ctx, group.ID, user.ID); err != nil {
		return fmt.Errorf("failed to grant admin during bootstrap: %w", err)
	}

	auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminBootstrap,
		ActorID:  user.ID,
		Resource: "access_groups",
		Metadata: map[string]any{
			"email":    email,
			"group_id": group.ID,
		},
	})
	slog.InfoContext(ctx, "bootstrapped administrator", logger.Component("seed"), slog.Int64("user_id", user.ID))
	return nil
}
