// Package plancache holds translated query plans keyed by expression shape.
//
// The cache is the only object shared between concurrent compiles. Lookups
// and inserts are safe for concurrent use, and concurrent misses on the same
// key are collapsed into one build. Failed builds are never cached.
package plancache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the number of plans kept when no size is configured.
const DefaultSize = 512

type options struct {
	metrics *Metrics
}

// Option configures New.
type Option func(*options)

// WithMetrics reports cache activity to m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Cache is a bounded LRU of values of type V.
type Cache[V any] struct {
	entries *lru.Cache[string, V]
	flights singleflight.Group
	metrics *Metrics
}

// New returns a cache holding at most size values. size <= 0 selects
// DefaultSize.
func New[V any](size int, opts ...Option) (*Cache[V], error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = noopMetrics()
	}
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cache[V]{metrics: o.metrics}
	entries, err := lru.NewWithEvict(size, func(string, V) {
		c.metrics.Evictions.Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("create plan cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Get returns the value cached under key.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.entries.Get(key)
}

// GetOrBuild returns the value cached under key, calling build on a miss.
// Concurrent callers missing on the same key share one build. cached
// reports whether the value came from the cache without building.
func (c *Cache[V]) GetOrBuild(key string, build func() (V, error)) (v V, cached bool, err error) {
	if v, ok := c.entries.Get(key); ok {
		c.metrics.Hits.Inc()
		return v, true, nil
	}
	res, err, shared := c.flights.Do(key, func() (any, error) {
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		c.metrics.Misses.Inc()
		v, err := build()
		if err != nil {
			c.metrics.Failures.Inc()
			return nil, err
		}
		c.entries.Add(key, v)
		c.metrics.Entries.Set(float64(c.entries.Len()))
		return v, nil
	})
	if shared {
		c.metrics.Shared.Inc()
	}
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// Len returns the number of cached values.
func (c *Cache[V]) Len() int { return c.entries.Len() }

// Purge drops every cached value.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
	c.metrics.Entries.Set(0)
}
