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

// Package cache provides the process-wide memo tables used by tenant
// resolution and permission lookups.
//
// Entries never expire on their own. Reset drops everything and bumps a
// generation counter; a load that started under an older generation still
// returns its value to its caller but is not stored.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Versioned is a concurrency-safe memo table with explicit invalidation.
type Versioned[K comparable, V any] struct {
	name  string
	items *ttlcache.Cache[K, V]
	group singleflight.Group
	// mu orders stores of finished loads against Reset
	mu         sync.Mutex
	generation atomic.Uint64
	lookups    metric.Int64Counter
}

// Option configures a Versioned cache
type Option func(*options)

type options struct {
	lookups metric.Int64Counter
}

// WithLookupCounter records one increment per lookup, tagged with the cache
// name and "hit" or "miss".
func WithLookupCounter(counter metric.Int64Counter) Option {
	return func(o *options) {
		o.lookups = counter
	}
}

// New creates an empty cache. name tags metrics only.
func New[K comparable, V any](name string, opts ...Option) *Versioned[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Versioned[K, V]{
		name: name,
		items: ttlcache.New[K, V](
			ttlcache.WithTTL[K, V](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[K, V](),
		),
		lookups: o.lookups,
	}
}

// Get returns a cached value without loading.
func (c *Versioned[K, V]) Get(key K) (V, bool) {
	if item := c.items.Get(key); item != nil {
		return item.Value(), true
	}
	var zero V
	return zero, false
}

// GetOrLoad returns the cached value for key, calling load at most once per
// key and generation across concurrent callers. Errors are not cached.
func (c *Versioned[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		c.record(ctx, "hit")
		return v, nil
	}
	c.record(ctx, "miss")

	gen := c.generation.Load()
	res, err, _ := c.group.Do(fmt.Sprintf("%d/%v", gen, key), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(gen, key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Reset drops all entries and invalidates in-flight loads.
func (c *Versioned[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation.Add(1)
	c.items.DeleteAll()
}

// store keeps v only when no Reset happened since the load began
func (c *Versioned[K, V]) store(gen uint64, key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() == gen {
		c.items.Set(key, v, ttlcache.NoTTL)
	}
}

// Generation increases by one on every Reset
func (c *Versioned[K, V]) Generation() uint64 {
	return c.generation.Load()
}

// Len returns the number of cached entries
func (c *Versioned[K, V]) Len() int {
	return c.items.Len()
}

func (c *Versioned[K, V]) record(ctx context.Context, result string) {
	if c.lookups == nil {
		return
	}
	c.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", c.name),
		attribute.String("result", result),
	))
}
