package quotecache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-shewale/fixquotes/cmd/fixfeed/internal/quotecache"
	"github.com/shubham-shewale/fixquotes/pkg/models"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

func quote(symbol, bid, ask string) models.Quote {
	return models.NewQuote(symbol, decimal.RequireFromString(bid), decimal.RequireFromString(ask), 5, time.Now())
}

func TestCache_GetAliasFallbacks(t *testing.T) {
	c := quotecache.New(symbols.NewAliases(nil))

	c.Upsert("EURUSD.r", quote("EURUSD.r", "1.08500", "1.08510"))
	c.Upsert("gbpusd", quote("GBPUSD", "1.26000", "1.26020"))

	// Suffix-added match.
	q, ok := c.Get("eurusd")
	require.True(t, ok)
	assert.Equal(t, 1.085, q.Bid)

	// Suffix-stripped match.
	q, ok = c.Get("GBPUSD.m")
	require.True(t, ok)
	assert.Equal(t, 1.26, q.Bid)

	// Exact, case-insensitive.
	_, ok = c.Get("EurUsd.R")
	assert.True(t, ok)

	_, ok = c.Get("USDJPY")
	assert.False(t, ok)
}

func TestCache_UpsertOverwrites(t *testing.T) {
	c := quotecache.New(symbols.NewAliases(nil))
	c.Upsert("XAUUSD", quote("XAUUSD", "1950.10", "1950.60"))
	c.Upsert("XAUUSD", quote("XAUUSD", "1951.00", "1951.40"))

	q, ok := c.Get("XAUUSD")
	require.True(t, ok)
	assert.Equal(t, 1951.0, q.Bid)
	assert.Equal(t, 1, c.Len())
}

func TestCache_SnapshotIsACopy(t *testing.T) {
	c := quotecache.New(symbols.NewAliases(nil))
	c.Upsert("EURUSD", quote("EURUSD", "1.1", "1.2"))

	snap := c.Snapshot()
	c.Upsert("USDJPY", quote("USDJPY", "150.1", "150.2"))

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := quotecache.New(symbols.NewAliases(nil))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Upsert(fmt.Sprintf("SYM%d", i%20), quote("X", "1.0", "1.1"))
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Get(fmt.Sprintf("SYM%d", i%20))
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, c.Len())
}
