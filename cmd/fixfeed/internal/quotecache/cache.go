// Package quotecache holds the latest quote per symbol for concurrent readers.
package quotecache

import (
	"sync"

	"github.com/shubham-shewale/fixquotes/pkg/models"
	"github.com/shubham-shewale/fixquotes/pkg/symbols"
)

// Cache is a concurrency-safe symbol -> quote map. Keys are stored normalized, so lookups
// are case-insensitive. Entries are never evicted.
type Cache struct {
	mu      sync.RWMutex
	quotes  map[string]models.Quote
	aliases symbols.Aliases
}

func New(aliases symbols.Aliases) *Cache {
	return &Cache{
		quotes:  make(map[string]models.Quote),
		aliases: aliases,
	}
}

// Upsert overwrites the entry for symbol unconditionally.
func (c *Cache) Upsert(symbol string, q models.Quote) {
	key := symbols.Normalize(symbol)
	if key == "" {
		return
	}
	c.mu.Lock()
	c.quotes[key] = q
	c.mu.Unlock()
}

// Get tries the exact symbol, then each suffixed alias, then the stripped base.
func (c *Cache) Get(symbol string) (models.Quote, bool) {
	key := symbols.Normalize(symbol)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if q, ok := c.quotes[key]; ok {
		return q, true
	}
	for _, alias := range c.aliases.Decorated(key) {
		if q, ok := c.quotes[alias]; ok {
			return q, true
		}
	}
	if base, ok := c.aliases.Strip(key); ok {
		if q, ok := c.quotes[base]; ok {
			return q, true
		}
	}
	return models.Quote{}, false
}

// Snapshot returns a copy of every entry; later writes do not show up in it.
func (c *Cache) Snapshot() map[string]models.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.Quote, len(c.quotes))
	for k, q := range c.quotes {
		out[k] = q
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
