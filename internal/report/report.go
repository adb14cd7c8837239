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

// Package report runs listing reports over records, scoped to the tenants a
// user selected or may access.
package report

import (
	"context"

	"github.com/opentrusty/subsites/internal/form"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/record"
)

// Column is one output column of a report
type Column struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Params are submitted parameter values keyed by field name
type Params map[string][]string

// Get returns the first value of key
func (p Params) Get(key string) string {
	if v := p[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Report describes a listing
type Report interface {
	ID() string
	Title() string
	Description() string
	Parameters(ctx context.Context) ([]form.Field, error)
	Columns() []Column
	CanView(ctx context.Context, user *identity.User) (bool, error)
}

// RecordProducer is a report that produces its records itself
type RecordProducer interface {
	Report
	SourceRecords(ctx context.Context, params Params, sort string, limit uint64) ([]record.Record, error)
}

// QueryProducer is a report that describes a query to run
type QueryProducer interface {
	Report
	SourceQuery(ctx context.Context, params Params) (record.Query, error)
}
