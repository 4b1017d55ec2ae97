package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kmelnick/dexarb/internal/domain"
)

// PriceCache implements domain.PriceCache using plain Redis keys with a TTL.
// Each token's point set is stored JSON-encoded at "prices:{symbol}"; expiry
// is left entirely to Redis so a hit is always fresh enough to use.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func pricesKey(token string) string {
	return "prices:" + token
}

// Get returns the cached points for a token. It returns domain.ErrNotFound
// when the key is missing or expired.
func (pc *PriceCache) Get(ctx context.Context, token string) ([]domain.PricePoint, error) {
	raw, err := pc.rdb.Get(ctx, pricesKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get prices %s: %w", token, err)
	}

	var points []domain.PricePoint
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, fmt.Errorf("redis: decode prices %s: %w", token, err)
	}
	return points, nil
}

// Set stores the points for a token with the given TTL.
func (pc *PriceCache) Set(ctx context.Context, token string, points []domain.PricePoint, ttl time.Duration) error {
	raw, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("redis: encode prices %s: %w", token, err)
	}
	if err := pc.rdb.Set(ctx, pricesKey(token), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set prices %s: %w", token, err)
	}
	return nil
}

// Clear drops every cached token in one pass. It scans instead of relying on
// a key registry so entries added by older processes are covered too.
func (pc *PriceCache) Clear(ctx context.Context) error {
	iter := pc.rdb.Scan(ctx, 0, pricesKey("*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan prices: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := pc.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: clear prices: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
