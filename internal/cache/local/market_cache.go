package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// MarketCache implements domain.MarketCache with a map and per-entry expiry.
type MarketCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint64]cachedMarket
	now     func() time.Time
}

type cachedMarket struct {
	market  domain.Market
	expires time.Time
}

var _ domain.MarketCache = (*MarketCache)(nil)

// NewMarketCache creates a cache whose entries live for ttl.
func NewMarketCache(ttl time.Duration) *MarketCache {
	return &MarketCache{ttl: ttl, entries: make(map[uint64]cachedMarket), now: time.Now}
}

// Set stores a copy of m.
func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.ID] = cachedMarket{market: m.Clone(), expires: c.now().Add(c.ttl)}
	return nil
}

// Get returns a copy of the cached market or domain.ErrNotFound.
func (c *MarketCache) Get(_ context.Context, id uint64) (domain.Market, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return domain.Market{}, domain.ErrNotFound
	}
	return e.market.Clone(), nil
}

// Invalidate drops the cached market.
func (c *MarketCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}
