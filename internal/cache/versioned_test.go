package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that a cached value is served without calling the loader again.
// Scope: Unit Test
// Expected: The loader runs once; later lookups are hits.
// Test Case ID: CAC-01
func TestVersioned_GetOrLoad_Memoizes(t *testing.T) {
	c := New[string, int64]("test")
	ctx := context.Background()

	var calls atomic.Int32
	load := func(context.Context) (int64, error) {
		calls.Add(1)
		return 7, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(ctx, "a.test", load)
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

// TestPurpose: Validates that Reset forces the next lookup to re-derive its value.
// Scope: Unit Test
// Expected: After Reset, the loader runs again and the new value is returned.
// Test Case ID: CAC-02
func TestVersioned_Reset_Rederives(t *testing.T) {
	c := New[string, int64]("test")
	ctx := context.Background()

	v, err := c.GetOrLoad(ctx, "k", func(context.Context) (int64, error) { return 0, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	c.Reset()
	assert.Equal(t, uint64(1), c.Generation())
	assert.Equal(t, 0, c.Len())

	v, err = c.GetOrLoad(ctx, "k", func(context.Context) (int64, error) { return 5, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

// TestPurpose: Validates that loader errors are returned and not memoized.
// Scope: Unit Test
// Expected: A failed load leaves the cache empty; the next call retries.
// Test Case ID: CAC-03
func TestVersioned_Errors_NotCached(t *testing.T) {
	c := New[string, int64]("test")
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := c.GetOrLoad(ctx, "k", func(context.Context) (int64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrLoad(ctx, "k", func(context.Context) (int64, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

// TestPurpose: Validates that a load racing with Reset does not repopulate the cache with a stale value.
// Scope: Unit Test
// Expected: The caller gets the loaded value but the cache stays empty.
// Test Case ID: CAC-04
func TestVersioned_ResetDuringLoad_DropsResult(t *testing.T) {
	c := New[string, int64]("test")
	ctx := context.Background()

	v, err := c.GetOrLoad(ctx, "k", func(context.Context) (int64, error) {
		c.Reset()
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

// TestPurpose: Validates that concurrent lookups of a missing key share a single load.
// Scope: Unit Test
// Expected: All goroutines observe the same value; no data race.
// Test Case ID: CAC-05
func TestVersioned_ConcurrentLookups(t *testing.T) {
	c := New[int, string]("test")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, 1, func(context.Context) (string, error) { return "one", nil })
			assert.NoError(t, err)
			assert.Equal(t, "one", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

// TestPurpose: Validates that no value loaded before a Reset survives it under concurrent resets.
// Scope: Unit Test
// Expected: Every entry left in the cache was loaded under the final generation.
// Test Case ID: CAC-06
func TestVersioned_ConcurrentReset_NoStaleEntries(t *testing.T) {
	c := New[int, uint64]("test")
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, err := c.GetOrLoad(ctx, (w*500+i)%64, func(context.Context) (uint64, error) {
					return c.Generation(), nil
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.Reset()
		}
	}()
	wg.Wait()

	final := c.Generation()
	for k := 0; k < 64; k++ {
		if v, ok := c.Get(k); ok {
			assert.Equal(t, final, v, "key %d", k)
		}
	}
}
