package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumtrades/marketd/internal/common"
)

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(common.DefaultTTLs(),
		WithLogger(common.NewSilentLogger()),
		WithClock(func() time.Time { return now }))
	t.Cleanup(c.Close)
	return c, &now
}

func TestGetReturnsFreshEntry(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, 32.5)

	v, ok := c.Get("quote_PETR4")
	require.True(t, ok)
	assert.Equal(t, 32.5, v)
}

func TestGetMissesExpiredEntry(t *testing.T) {
	c, now := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, 32.5)
	*now = now.Add(common.TTLStockPrices + time.Second)

	_, ok := c.Get("quote_PETR4")
	assert.False(t, ok)
}

func TestClassesExpireIndependently(t *testing.T) {
	c, now := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, "quote")
	c.Set("history_PETR4", common.ClassHistoricalData, "history")

	// Past the quote TTL but inside the history TTL.
	*now = now.Add(5 * time.Minute)

	_, ok := c.Get("quote_PETR4")
	assert.False(t, ok)

	v, ok := c.Get("history_PETR4")
	require.True(t, ok)
	assert.Equal(t, "history", v)
}

func TestGetStaleReturnsExpiredEntry(t *testing.T) {
	c, now := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, 32.5)
	*now = now.Add(time.Hour)

	_, ok := c.Get("quote_PETR4")
	require.False(t, ok)

	v, ok := c.GetStale("quote_PETR4")
	require.True(t, ok)
	assert.Equal(t, 32.5, v)
	assert.Equal(t, int64(1), c.Stats().StaleHits)
}

func TestInvalidateByPattern(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, 1)
	c.Set("history_PETR4", common.ClassHistoricalData, 2)
	c.Set("quote_VALE3", common.ClassStockPrices, 3)

	removed := c.Invalidate("PETR4")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("quote_VALE3")
	assert.True(t, ok)
	_, ok = c.Get("quote_PETR4")
	assert.False(t, ok)
}

func TestInvalidateEmptyPatternClearsAll(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set("a", common.ClassStockPrices, 1)
	c.Set("b", common.ClassSearchResults, 2)

	assert.Equal(t, 2, c.Invalidate(""))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestInvalidateByEvent(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, 1)
	c.Set("overview", common.ClassMarketOverview, 2)
	c.Set("history_PETR4", common.ClassHistoricalData, 3)

	removed := c.InvalidateByEvent("quote_update")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("history_PETR4")
	assert.True(t, ok)
}

func TestInvalidateByUnknownEventIsNoop(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, 1)
	assert.Equal(t, 0, c.InvalidateByEvent("solar_flare"))
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestGetOrLoadCachesResult(t *testing.T) {
	c, _ := newTestCache(t)

	calls := 0
	load := func() (any, error) {
		calls++
		return "loaded", nil
	}

	v, err := c.GetOrLoad("key", common.ClassStockPrices, load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)

	v, err = c.GetOrLoad("key", common.ClassStockPrices, load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(t)

	boom := errors.New("boom")
	_, err := c.GetOrLoad("key", common.ClassStockPrices, func() (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad("key", common.ClassStockPrices, func() (any, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestGetOrLoadCoalescesConcurrentLoads(t *testing.T) {
	c, _ := newTestCache(t)

	var calls int64
	release := make(chan struct{})
	load := func() (any, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad("key", common.ClassStockPrices, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let the goroutines pile onto the in-flight load before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestStatsCounters(t *testing.T) {
	c, _ := newTestCache(t)

	c.Set("a", common.ClassStockPrices, 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.666, stats.HitRatio, 0.01)
}

func TestSweepDropsLongExpiredEntries(t *testing.T) {
	c, now := newTestCache(t)

	c.Set("quote_PETR4", common.ClassStockPrices, 1)
	c.Set("history_PETR4", common.ClassHistoricalData, 2)

	// Far past the quote retention but inside the history retention.
	*now = now.Add(common.TTLStockPrices*staleRetention + time.Minute)
	c.sweep()

	_, ok := c.GetStale("quote_PETR4")
	assert.False(t, ok)
	_, ok = c.GetStale("history_PETR4")
	assert.True(t, ok)
}
