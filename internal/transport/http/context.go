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

	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/opentrusty/subsites/internal/identity"
)

// currentUser returns the authenticated user. RequireUser guarantees one on
// every API route.
func currentUser(ctx context.Context) *identity.User {
	user, _ := contexts.User(ctx)
	return user
}

// actorID returns the ID of the authenticated user, or 0 when anonymous
func actorID(ctx context.Context) int64 {
	if user, ok := contexts.User(ctx); ok {
		return user.ID
	}
	return 0
}
