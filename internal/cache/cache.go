// Package cache is a process-wide query cache. Reads are keyed by an
// operation name plus its parameters; concurrent reads of the same key share
// one fetch, and writes invalidate every key under a name prefix.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/psadmin/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the value for a key that is not cached.
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache holds query results. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	// epochs counts invalidations per key. A fetch only stores its result
	// if the key's epoch is unchanged since the fetch started. A key's epoch
	// is kept only while callers are waiting on it, so the map stays bounded
	// by the number of in-flight keys.
	epochs map[string]uint64
	// waiting counts callers of Do per key whose fetch has not returned.
	waiting map[string]int
	group   singleflight.Group

	staleTime time.Duration
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleTime expires entries older than d. Zero keeps entries until
// they are invalidated.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) { c.staleTime = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		epochs:  make(map[string]uint64),
		waiting: make(map[string]int),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for an operation and its parameters. Parameters
// are encoded in sorted order so equal parameter sets give equal keys.
func Key(name string, params url.Values) string {
	if len(params) == 0 {
		return name
	}
	return name + "?" + params.Encode()
}

// Do returns the cached value for (name, params), joins an in-flight fetch
// for the same key, or calls fetch. Errors are returned to every waiter and
// never cached.
//
// The fetch runs detached from ctx cancellation so other waiters still get
// a result; a caller whose ctx ends stops waiting and gets ctx.Err().
func (c *Cache) Do(ctx context.Context, name string, params url.Values, fetch FetchFunc) (any, error) {
	key := Key(name, params)
	attrs := metric.WithAttributes(attribute.String("query", name))

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.fresh(e) {
		c.mu.Unlock()
		telemetry.GetMetrics().CacheHitsTotal.Add(ctx, 1, attrs)
		return e.value, nil
	}
	epoch, seen := c.epochs[key]
	if !seen {
		c.epochs[key] = 0
	}
	c.waiting[key]++
	c.mu.Unlock()

	flightKey := fmt.Sprintf("%s#%d", key, epoch)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		telemetry.GetMetrics().CacheMissesTotal.Add(ctx, 1, attrs)
		log.Debug().Str("key", key).Msg("cache miss, fetching")

		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.epochs[key] == epoch {
			c.entries[key] = &entry{value: v, fetchedAt: c.now()}
		} else {
			log.Debug().Str("key", key).Msg("discarding result fetched before invalidation")
		}
		c.mu.Unlock()

		return v, nil
	})

	select {
	case <-ctx.Done():
		// the fetch keeps running for other waiters; hold the epoch until it returns
		go func() {
			<-ch
			c.release(key)
		}()
		return nil, ctx.Err()
	case res := <-ch:
		c.release(key)
		if res.Shared {
			telemetry.GetMetrics().CacheCoalescedTotal.Add(ctx, 1, attrs)
		}
		return res.Val, res.Err
	}
}

// Get returns the cached value for key if present and fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.fresh(e) {
		return nil, false
	}
	return e.value, true
}

// Invalidate drops every entry whose key starts with prefix and stops any
// fetch already in flight for such a key from storing its result. The next
// read of a matching key issues a new request. It returns the number of
// entries dropped.
func (c *Cache) Invalidate(ctx context.Context, prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			dropped++
		}
	}
	for key := range c.epochs {
		if strings.HasPrefix(key, prefix) {
			c.epochs[key]++
		}
	}
	telemetry.GetMetrics().CacheInvalidationsTotal.Add(ctx, int64(dropped),
		metric.WithAttributes(attribute.String("prefix", prefix)))
	log.Debug().Str("prefix", prefix).Int("dropped", dropped).Msg("cache invalidated")

	return dropped
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry, e.g. when the session ends.
func (c *Cache) Clear(ctx context.Context) {
	c.Invalidate(ctx, "")
}

// release drops the caller's hold on key. Once nobody waits on the key its
// epoch is forgotten; no fetch is left that could store a stale result.
func (c *Cache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waiting[key]--
	if c.waiting[key] > 0 {
		return
	}
	delete(c.waiting, key)
	delete(c.epochs, key)
}

func (c *Cache) fresh(e *entry) bool {
	return c.staleTime <= 0 || c.now().Sub(e.fetchedAt) < c.staleTime
}

// Query is the typed form of Cache.Do.
func Query[T any](ctx context.Context, c *Cache, name string, params url.Values, fetch func(context.Context) (T, error)) (T, error) {
	v, err := c.Do(ctx, name, params, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
