// Package memory provides a process-local PriceCache used as a degraded
// fallback when Redis is unreachable at startup. Entries are not shared
// across processes, so the quote budget is per-process in this mode.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kmelnick/dexarb/internal/domain"
)

type entry struct {
	points    []domain.PricePoint
	expiresAt time.Time
}

// PriceCache is a TTL map guarded by a mutex. Expired entries are evicted
// lazily on read.
type PriceCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewPriceCache creates an empty in-process price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached points for a token, or domain.ErrNotFound on miss
// or expiry.
func (c *PriceCache) Get(ctx context.Context, token string) ([]domain.PricePoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, token)
		return nil, domain.ErrNotFound
	}
	return e.points, nil
}

// Set stores the points for a token with the given TTL.
func (c *PriceCache) Set(ctx context.Context, token string, points []domain.PricePoint, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[token] = entry{
		points:    points,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Clear drops every cached token.
func (c *PriceCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	return nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
