// Package seed loads tenants, users, groups, roles and records from a YAML
// document into any store.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/observability/logger"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/tenant"
)

// File is the seed document
type File struct {
	Tenants []Tenant                   `yaml:"tenants"`
	Users   []User                     `yaml:"users"`
	Roles   []Role                     `yaml:"roles"`
	Groups  []Group                    `yaml:"groups"`
	Records map[string][]record.Record `yaml:"records"`
}

type Tenant struct {
	ID       int64  `yaml:"id"`
	Title    string `yaml:"title"`
	Language string `yaml:"language"`
	Domain   string `yaml:"domain"`
}

type User struct {
	ID    int64  `yaml:"id"`
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

type Role struct {
	ID    int64    `yaml:"id"`
	Title string   `yaml:"title"`
	Codes []string `yaml:"codes"`
}

type Group struct {
	ID               int64    `yaml:"id"`
	Title            string   `yaml:"title"`
	AccessAllTenants bool     `yaml:"access_all_tenants"`
	Codes            []string `yaml:"codes"`
	Tenants          []int64  `yaml:"tenants"`
	Roles            []int64  `yaml:"roles"`
	Members          []int64  `yaml:"members"`
}

// Target receives seeded rows
type Target struct {
	Tenants tenant.Repository
	Users   identity.UserRepository
	Groups  authz.GroupRepository
	Records record.Store
}

// Parse decodes a seed document and checks its references. Every problem
// found is reported.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks required fields and that groups reference declared rows
func (f *File) Validate() error {
	var errs *multierror.Error

	tenantIDs := lo.Map(f.Tenants, func(t Tenant, _ int) int64 { return t.ID })
	userIDs := lo.Map(f.Users, func(u User, _ int) int64 { return u.ID })
	roleIDs := lo.Map(f.Roles, func(r Role, _ int) int64 { return r.ID })

	for i, t := range f.Tenants {
		if t.ID <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("tenants[%d]: id must be positive", i))
		}
		if err := (&tenant.Tenant{Title: t.Title, Domain: t.Domain}).Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("tenants[%d]: %w", i, err))
		}
	}
	for _, dup := range lo.FindDuplicates(tenantIDs) {
		errs = multierror.Append(errs, fmt.Errorf("tenant id %d declared twice", dup))
	}
	for i, u := range f.Users {
		if u.ID <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("users[%d]: id must be positive", i))
		}
	}
	for i, r := range f.Roles {
		if r.ID <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("roles[%d]: id must be positive", i))
		}
		if lo.Contains(r.Codes, "") {
			errs = multierror.Append(errs, fmt.Errorf("roles[%d]: empty permission code", i))
		}
	}
	for i, g := range f.Groups {
		if g.Title == "" {
			errs = multierror.Append(errs, fmt.Errorf("groups[%d]: title is required", i))
		}
		if lo.Contains(g.Codes, "") {
			errs = multierror.Append(errs, fmt.Errorf("groups[%d]: empty permission code", i))
		}
		for _, id := range lo.Without(g.Tenants, tenantIDs...) {
			errs = multierror.Append(errs, fmt.Errorf("groups[%d]: unknown tenant %d", i, id))
		}
		for _, id := range lo.Without(g.Roles, roleIDs...) {
			errs = multierror.Append(errs, fmt.Errorf("groups[%d]: unknown role %d", i, id))
		}
		for _, id := range lo.Without(g.Members, userIDs...) {
			errs = multierror.Append(errs, fmt.Errorf("groups[%d]: unknown user %d", i, id))
		}
	}
	return errs.ErrorOrNil()
}

// LoadFile reads, parses and applies the seed file at path
func LoadFile(ctx context.Context, path string, target Target) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return err
	}
	return f.Apply(ctx, target)
}

// Apply writes the seed rows in dependency order. Records are inserted with
// the tenant restriction lifted.
func (f *File) Apply(ctx context.Context, target Target) error {
	for _, t := range f.Tenants {
		if err := target.Tenants.Create(ctx, &tenant.Tenant{
			ID: t.ID, Title: t.Title, Language: t.Language, Domain: t.Domain,
		}); err != nil {
			return fmt.Errorf("failed to seed tenant %d: %w", t.ID, err)
		}
	}
	for _, u := range f.Users {
		if err := target.Users.Create(ctx, &identity.User{ID: u.ID, Email: u.Email, Name: u.Name}); err != nil {
			return fmt.Errorf("failed to seed user %d: %w", u.ID, err)
		}
	}
	for _, r := range f.Roles {
		if err := target.Groups.CreateRole(ctx, &authz.Role{ID: r.ID, Title: r.Title, Codes: r.Codes}); err != nil {
			return fmt.Errorf("failed to seed role %d: %w", r.ID, err)
		}
	}
	for _, g := range f.Groups {
		group := &authz.Group{
			ID:               g.ID,
			Title:            g.Title,
			AccessAllTenants: g.AccessAllTenants,
			Codes:            g.Codes,
			TenantIDs:        g.Tenants,
			RoleIDs:          g.Roles,
		}
		if err := target.Groups.CreateGroup(ctx, group); err != nil {
			return fmt.Errorf("failed to seed group %q: %w", g.Title, err)
		}
		for _, userID := range g.Members {
			if err := target.Groups.AddMember(ctx, group.ID, userID); err != nil {
				return fmt.Errorf("failed to add user %d to group %q: %w", userID, g.Title, err)
			}
		}
	}

	if target.Records != nil && len(f.Records) > 0 {
		err := tenant.WithAllTenants(ctx, func(ctx context.Context) error {
			for table, rows := range f.Records {
				for _, row := range rows {
					if _, err := target.Records.Insert(ctx, table, row); err != nil {
						return fmt.Errorf("failed to seed %s record: %w", table, err)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "seed applied",
		logger.Component("seed"),
		slog.Int("tenants", len(f.Tenants)),
		slog.Int("users", len(f.Users)),
		slog.Int("groups", len(f.Groups)),
	)
	return nil
}
