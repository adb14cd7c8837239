package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/opentrusty/subsites/internal/contexts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that an explicit scope applies inside the body and never leaks out, including on error.
// Scope: Unit Test
// Security: Cross-tenant data leakage prevention
// Expected: Restriction equals the explicit IDs inside; the caller's context is unchanged after normal and error returns.
// Test Case ID: SCP-01
func TestWithTenantScope_RestoresOnEveryPath(t *testing.T) {
	repo := newStubRepo(&Tenant{Title: "A", Domain: "a.test"})
	tr, _, _, _ := newTestTracker(false, repo)
	f := NewFilter(tr)
	ctx := contexts.WithHost(context.Background(), "a.test")

	before, restricted, err := f.Restriction(ctx)
	require.NoError(t, err)
	require.True(t, restricted)
	assert.Equal(t, []int64{1}, before)

	err = WithTenantScope(ctx, []int64{4, 5}, func(ctx context.Context) error {
		ids, restricted, err := f.Restriction(ctx)
		require.NoError(t, err)
		assert.True(t, restricted)
		assert.Equal(t, []int64{4, 5}, ids)
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTenantScope(ctx, []int64{8}, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, _, err := f.Restriction(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, Scope{}, ScopeOf(ctx))
}

// TestPurpose: Validates nesting of scopes and the all-tenants escape.
// Scope: Unit Test
// Expected: Inner scopes override outer ones and the outer scope is back after the inner body returns.
// Test Case ID: SCP-02
func TestScope_Nesting(t *testing.T) {
	tr, _, _, _ := newTestTracker(false, newStubRepo())
	f := NewFilter(tr)

	err := WithTenantScope(context.Background(), []int64{2}, func(outer context.Context) error {
		err := WithAllTenants(outer, func(inner context.Context) error {
			_, restricted, err := f.Restriction(inner)
			require.NoError(t, err)
			assert.False(t, restricted)
			return nil
		})
		require.NoError(t, err)

		ids, restricted, err := f.Restriction(outer)
		require.NoError(t, err)
		assert.True(t, restricted)
		assert.Equal(t, []int64{2}, ids)
		return nil
	})
	require.NoError(t, err)
}

// TestPurpose: Validates that a nil ID list means the current tenant and that the process-wide switch lifts every restriction.
// Scope: Unit Test
// Expected: nil ids restrict to the current tenant; Disable(true) yields unrestricted reads.
// Test Case ID: SCP-03
func TestFilter_CurrentAndDisabled(t *testing.T) {
	repo := newStubRepo(&Tenant{Title: "A", Domain: "a.test"})
	tr, _, _, _ := newTestTracker(false, repo)
	f := NewFilter(tr)
	ctx := contexts.WithHost(context.Background(), "a.test")

	err := WithTenantScope(ctx, nil, func(ctx context.Context) error {
		ids, restricted, err := f.Restriction(ctx)
		require.NoError(t, err)
		assert.True(t, restricted)
		assert.Equal(t, []int64{1}, ids)
		return nil
	})
	require.NoError(t, err)

	f.Disable(true)
	defer f.Disable(false)

	_ = WithTenantScope(ctx, []int64{3}, func(ctx context.Context) error {
		_, restricted, err := f.Restriction(ctx)
		require.NoError(t, err)
		assert.False(t, restricted)
		return nil
	})
}
