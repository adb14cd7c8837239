// Package memory keeps all repositories in process memory. It backs
// STORE_DRIVER=memory and the package tests of the core.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/opentrusty/subsites/internal/authz"
	"github.com/opentrusty/subsites/internal/identity"
	"github.com/opentrusty/subsites/internal/record"
	"github.com/opentrusty/subsites/internal/session"
	"github.com/opentrusty/subsites/internal/tenant"
)

// Store holds every table. Use the accessor methods to get repositories.
type Store struct {
	mu sync.RWMutex

	tenants  map[int64]*tenant.Tenant
	users    map[int64]*identity.User
	groups   map[int64]*authz.Group
	roles    map[int64]*authz.Role
	members  map[int64]mapset.Set[int64] // group ID -> user IDs
	sessions map[string]*session.Session
	records  map[string][]record.Record
	seq      map[string]int64

	restrictor record.Restrictor
}

// New creates an empty store with the given record tables
func New(tables ...string) *Store {
	s := &Store{
		tenants:  map[int64]*tenant.Tenant{},
		users:    map[int64]*identity.User{},
		groups:   map[int64]*authz.Group{},
		roles:    map[int64]*authz.Role{},
		members:  map[int64]mapset.Set[int64]{},
		sessions: map[string]*session.Session{},
		records:  map[string][]record.Record{},
		seq:      map[string]int64{},
	}
	for _, t := range tables {
		s.records[t] = []record.Record{}
	}
	return s
}

// SetRestrictor installs the tenant restriction applied to record queries
func (s *Store) SetRestrictor(r record.Restrictor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restrictor = r
}

// Tenants returns the tenant repository
func (s *Store) Tenants() *TenantRepository { return &TenantRepository{s: s} }

// Users returns the user repository
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Grants returns the grant and group repository
func (s *Store) Grants() *GrantRepository { return &GrantRepository{s: s} }

// Sessions returns the session repository
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

// Records returns the record store
func (s *Store) Records() *RecordRepository { return &RecordRepository{s: s} }

// next returns the next ID of table. Caller holds the write lock.
func (s *Store) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// bump keeps the sequence of table ahead of an explicitly assigned id
func (s *Store) bump(table string, id int64) {
	if id > s.seq[table] {
		s.seq[table] = id
	}
}

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	s *Store
}

// Create stores a tenant, assigning an ID unless one is set
func (r *TenantRepository) Create(_ context.Context, t *tenant.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t.ID == 0 {
		t.ID = r.s.next("tenants")
	} else {
		r.s.bump("tenants", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
		t.UpdatedAt = t.CreatedAt
	}
	c := *t
	r.s.tenants[t.ID] = &c
	return nil
}

func (r *TenantRepository) GetByID(_ context.Context, id int64) (*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

func (r *TenantRepository) GetByDomain(_ context.Context, host string) (*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *tenant.Tenant
	for _, t := range r.s.tenants {
		if strings.EqualFold(t.Domain, host) && (found == nil || t.ID < found.ID) {
			found = t
		}
	}
	if found == nil {
		return nil, tenant.ErrTenantNotFound
	}
	c := *found
	return &c, nil
}

func (r *TenantRepository) ListWildcardDomains(_ context.Context) ([]*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := r.s.sortedTenants(func(t *tenant.Tenant) bool { return t.IsWildcard() })
	slices.SortFunc(out, func(a, b *tenant.Tenant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *TenantRepository) Update(_ context.Context, t *tenant.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tenants[t.ID]; !ok {
		return tenant.ErrTenantNotFound
	}
	c := *t
	r.s.tenants[t.ID] = &c
	return nil
}

// Delete removes a tenant and its group links
func (r *TenantRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tenants[id]; !ok {
		return tenant.ErrTenantNotFound
	}
	delete(r.s.tenants, id)
	for _, g := range r.s.groups {
		g.TenantIDs = slices.DeleteFunc(g.TenantIDs, func(tid int64) bool { return tid == id })
	}
	return nil
}

func (r *TenantRepository) List(_ context.Context) ([]*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.sortedTenants(nil), nil
}

// sortedTenants returns copies of the tenants matching keep, ordered by
// Title then ID. Caller holds the lock.
func (s *Store) sortedTenants(keep func(*tenant.Tenant) bool) []*tenant.Tenant {
	out := make([]*tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if keep == nil || keep(t) {
			c := *t
			out = append(out, &c)
		}
	}
	sortTenants(out)
	return out
}

func sortTenants(ts []*tenant.Tenant) {
	slices.SortFunc(ts, func(a, b *tenant.Tenant) int {
		if c := cmp.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// UserRepository implements identity.UserRepository
type UserRepository struct {
	s *Store
}

func (r *UserRepository) Create(_ context.Context, u *identity.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if u.ID == 0 {
		u.ID = r.s.next("users")
	} else {
		r.s.bump("users", u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	c := *u
	r.s.users[u.ID] = &c
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*identity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *identity.User
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) && (found == nil || u.ID < found.ID) {
			found = u
		}
	}
	if found == nil {
		return nil, identity.ErrUserNotFound
	}
	c := *found
	return &c, nil
}

// SessionRepository implements session.Repository
type SessionRepository struct {
	s *Store
}

func (r *SessionRepository) Create(_ context.Context, sess *session.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (r *SessionRepository) Get(_ context.Context, sessionID string) (*session.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sess, ok := r.s.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (r *SessionRepository) Update(_ context.Context, sess *session.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}
	r.s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, sessionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, sessionID)
	return nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sess := range r.s.sessions {
		if sess.IsExpired() {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

func copySession(sess *session.Session) *session.Session {
	c := *sess
	if sess.TenantID != nil {
		id := *sess.TenantID
		c.TenantID = &id
	}
	return &c
}
