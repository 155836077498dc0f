package service

import (
	"sync"

	"pricehub/internal/domain"
)

// PriceCache holds the latest tick per symbol. Entries are never evicted; a missing
// symbol means no tick was ever received for it.
type PriceCache struct {
	mu     sync.RWMutex
	latest map[string]domain.PriceTick
}

func NewPriceCache() *PriceCache {
	return &PriceCache{latest: make(map[string]domain.PriceTick)}
}

// Update stores t unless a newer tick for the same symbol is already cached.
// It reports whether the cache changed.
func (c *PriceCache) Update(t domain.PriceTick) bool {
	if t.Symbol == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.latest[t.Symbol]; ok && cur.NewerThan(t) {
		return false
	}
	c.latest[t.Symbol] = t
	return true
}

func (c *PriceCache) Get(symbol string) (domain.PriceTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.latest[domain.CanonicalSymbol(symbol)]
	return t, ok
}

// GetAll returns a copy safe for the caller to keep.
func (c *PriceCache) GetAll() map[string]domain.PriceTick {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]domain.PriceTick, len(c.latest))
	for k, v := range c.latest {
		out[k] = v
	}
	return out
}

func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.latest)
}
