package cache

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Run("name only without params", func(t *testing.T) {
		assert.Equal(t, "getStats", Key("getStats", nil))
	})

	t.Run("params are sorted", func(t *testing.T) {
		a := url.Values{}
		a.Set("status", "Active")
		a.Set("page", "1")

		b := url.Values{}
		b.Set("page", "1")
		b.Set("status", "Active")

		assert.Equal(t, Key("listProblems", a), Key("listProblems", b))
		assert.Equal(t, "listProblems?page=1&status=Active", Key("listProblems", a))
	})
}

func TestCache_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("second read is served from cache", func(t *testing.T) {
		c := New()
		var calls atomic.Int32
		fetch := func(ctx context.Context) (any, error) {
			calls.Add(1)
			return "value", nil
		}

		v, err := c.Do(ctx, "getStats", nil, fetch)
		require.NoError(t, err)
		assert.Equal(t, "value", v)

		v, err = c.Do(ctx, "getStats", nil, fetch)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("different params are different entries", func(t *testing.T) {
		c := New()
		var calls atomic.Int32
		fetch := func(ctx context.Context) (any, error) {
			calls.Add(1)
			return calls.Load(), nil
		}

		_, err := c.Do(ctx, "listProblems", url.Values{"page": {"1"}}, fetch)
		require.NoError(t, err)
		_, err = c.Do(ctx, "listProblems", url.Values{"page": {"2"}}, fetch)
		require.NoError(t, err)

		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, 2, c.Len())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		c := New()
		var calls atomic.Int32
		boom := errors.New("boom")

		_, err := c.Do(ctx, "getStats", nil, func(ctx context.Context) (any, error) {
			calls.Add(1)
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, c.Len())

		v, err := c.Do(ctx, "getStats", nil, func(ctx context.Context) (any, error) {
			calls.Add(1)
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("stale entries are refetched", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c := New(WithStaleTime(time.Minute), WithClock(func() time.Time { return now }))
		var calls atomic.Int32
		fetch := func(ctx context.Context) (any, error) {
			calls.Add(1)
			return "v", nil
		}

		_, err := c.Do(ctx, "getStats", nil, fetch)
		require.NoError(t, err)

		now = now.Add(30 * time.Second)
		_, err = c.Do(ctx, "getStats", nil, fetch)
		require.NoError(t, err)
		assert.Equal(t, int32(1), calls.Load())

		now = now.Add(time.Minute)
		_, err = c.Do(ctx, "getStats", nil, fetch)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestCache_Do_Coalesces(t *testing.T) {
	ctx := context.Background()
	c := New()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const readers = 10
	var wg sync.WaitGroup
	results := make([]any, readers)
	for i := range readers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Do(ctx, "listProblems", url.Values{"status": {"Active"}}, fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Give every reader time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestCache_Do_WaiterContextCancelled(t *testing.T) {
	c := New()
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(ctx, "getStats", nil, func(ctx context.Context) (any, error) {
		<-release
		return "late", nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("drops every key under the prefix", func(t *testing.T) {
		c := New()
		fetch := func(ctx context.Context) (any, error) { return "v", nil }

		_, _ = c.Do(ctx, "listProblems", url.Values{"page": {"1"}}, fetch)
		_, _ = c.Do(ctx, "listProblems", url.Values{"page": {"2"}}, fetch)
		_, _ = c.Do(ctx, "getStats", nil, fetch)
		require.Equal(t, 3, c.Len())

		dropped := c.Invalidate(ctx, "listProblems")
		assert.Equal(t, 2, dropped)
		assert.Equal(t, 1, c.Len())

		_, ok := c.Get("getStats")
		assert.True(t, ok)
	})

	t.Run("next read refetches", func(t *testing.T) {
		c := New()
		var calls atomic.Int32
		fetch := func(ctx context.Context) (any, error) {
			return calls.Add(1), nil
		}

		v, err := c.Do(ctx, "getStats", nil, fetch)
		require.NoError(t, err)
		assert.Equal(t, int32(1), v)

		c.Invalidate(ctx, "getStats")

		v, err = c.Do(ctx, "getStats", nil, fetch)
		require.NoError(t, err)
		assert.Equal(t, int32(2), v)
	})

	t.Run("in-flight fetch does not repopulate after invalidation", func(t *testing.T) {
		c := New()
		started := make(chan struct{})
		release := make(chan struct{})

		done := make(chan any)
		go func() {
			v, _ := c.Do(ctx, "getStats", nil, func(ctx context.Context) (any, error) {
				close(started)
				<-release
				return "before-write", nil
			})
			done <- v
		}()

		<-started
		c.Invalidate(ctx, "getStats")

		// A read after the write must not join the stale fetch.
		v, err := c.Do(ctx, "getStats", nil, func(ctx context.Context) (any, error) {
			return "after-write", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "after-write", v)

		close(release)
		assert.Equal(t, "before-write", <-done)

		cached, ok := c.Get("getStats")
		require.True(t, ok)
		assert.Equal(t, "after-write", cached)
	})
}

func (c *Cache) tracked() (epochs, waiting int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.epochs), len(c.waiting)
}

func TestCache_EpochsReleased(t *testing.T) {
	ctx := context.Background()

	t.Run("distinct keys leave nothing behind", func(t *testing.T) {
		c := New()
		for i := range 50 {
			params := url.Values{"page": {strconv.Itoa(i)}}
			_, _ = c.Do(ctx, "listProblems", params, func(ctx context.Context) (any, error) {
				if i%2 == 0 {
					return nil, errors.New("fail")
				}
				return i, nil
			})
		}
		c.Invalidate(ctx, "listProblems")

		epochs, waiting := c.tracked()
		assert.Zero(t, epochs)
		assert.Zero(t, waiting)
	})

	t.Run("held while a cancelled caller's fetch runs", func(t *testing.T) {
		c := New()
		started := make(chan struct{})
		release := make(chan struct{})

		cancelled, cancel := context.WithCancel(ctx)
		errs := make(chan error, 1)
		go func() {
			_, err := c.Do(cancelled, "getStats", nil, func(ctx context.Context) (any, error) {
				close(started)
				<-release
				return "before-write", nil
			})
			errs <- err
		}()

		<-started
		cancel()
		require.ErrorIs(t, <-errs, context.Canceled)

		c.Invalidate(ctx, "getStats")
		epochs, _ := c.tracked()
		assert.Equal(t, 1, epochs)

		close(release)
		assert.Eventually(t, func() bool {
			epochs, waiting := c.tracked()
			return epochs == 0 && waiting == 0
		}, time.Second, 5*time.Millisecond)

		_, ok := c.Get("getStats")
		assert.False(t, ok)
	})
}

func TestQuery(t *testing.T) {
	c := New()
	type page struct{ Total int }

	p, err := Query(context.Background(), c, "listProblems", nil, func(ctx context.Context) (*page, error) {
		return &page{Total: 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)

	_, err = Query(context.Background(), c, "other", nil, func(ctx context.Context) (*page, error) {
		return nil, errors.New("fail")
	})
	require.Error(t, err)
}
