package domain

import (
	"context"
	"time"
)

// PriceCache is the short-TTL cache in front of the price aggregator. Entries
// expire by TTL only; Clear is the single manual invalidation path.
type PriceCache interface {
	// Get returns the cached points for a token, or ErrNotFound on miss/expiry.
	Get(ctx context.Context, token string) ([]PricePoint, error)
	// Set stores the points for a token with the given TTL.
	Set(ctx context.Context, token string, points []PricePoint, ttl time.Duration) error
	// Clear drops every cached token.
	Clear(ctx context.Context) error
}

// SignalBus carries opaque venue-activity signals from the event feed to the
// scan scheduler.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads. The subscription closes
	// when ctx is cancelled; the returned channel is closed at that point.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
