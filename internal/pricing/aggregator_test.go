package pricing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmelnick/dexarb/internal/domain"
)

const (
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var bonk = domain.Token{Symbol: "BONK", Mint: bonkMint, Decimals: 5}

type fakeProber struct {
	mu sync.Mutex
	// tokensOut per venue, in atomic units of the probed token. A missing
	// venue answers with no route.
	outByVenue map[string]uint64
	calls      []string
}

func (f *fakeProber) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, venue string) (domain.SwapQuote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, venue)
	f.mu.Unlock()

	out, ok := f.outByVenue[venue]
	if !ok {
		return domain.SwapQuote{}, domain.ErrNoRoute
	}
	return domain.SwapQuote{
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   amount,
		OutAmount:  out,
	}, nil
}

type fakeFallback struct {
	points []domain.PricePoint
	err    error
	calls  int
}

func (f *fakeFallback) TokenPairs(ctx context.Context, mint string, minLiquidityUsd, minVolume24hUsd float64) ([]domain.PricePoint, error) {
	f.calls++
	return f.points, f.err
}

type fakeCache struct {
	entries map[string][]domain.PricePoint
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]domain.PricePoint)}
}

func (f *fakeCache) Get(ctx context.Context, token string) ([]domain.PricePoint, error) {
	points, ok := f.entries[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return points, nil
}

func (f *fakeCache) Set(ctx context.Context, token string, points []domain.PricePoint, ttl time.Duration) error {
	f.sets++
	f.entries[token] = points
	return nil
}

func (f *fakeCache) Clear(ctx context.Context) error {
	f.entries = make(map[string][]domain.PricePoint)
	return nil
}

func testAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Venues:           []string{"Raydium", "Orca", "Meteora"},
		BaseMint:         usdcMint,
		BaseDecimals:     6,
		ProbeNotionalUsd: 50.0,
		MinLiquidityUsd:  10_000,
		MinVolume24hUsd:  500,
		CacheTTL:         3 * time.Second,
	}
}

func newTestAggregator(prober QuoteProber, fallback FallbackSource, cache domain.PriceCache) *Aggregator {
	return NewAggregator(prober, fallback, cache, testAggregatorConfig(), slog.Default())
}

func TestGetPricesFromProbes(t *testing.T) {
	prober := &fakeProber{outByVenue: map[string]uint64{
		// 50 USD buys 2_000_000.00000 BONK on Raydium: price 0.000025.
		"Raydium": 200_000_000_000,
		// 50 USD buys 2_500_000.00000 BONK on Orca: price 0.00002.
		"Orca": 250_000_000_000,
	}}
	fallback := &fakeFallback{}

	a := newTestAggregator(prober, fallback, nil)
	points := a.GetPrices(context.Background(), bonk)

	require.Len(t, points, 2)
	byVenue := make(map[string]float64, len(points))
	for _, p := range points {
		byVenue[p.Venue] = p.Price
		assert.False(t, p.ObservedAt.IsZero())
	}
	assert.InDelta(t, 0.000025, byVenue["Raydium"], 1e-12)
	assert.InDelta(t, 0.00002, byVenue["Orca"], 1e-12)

	// All venues probed; fallback never consulted.
	assert.ElementsMatch(t, []string{"Raydium", "Orca", "Meteora"}, prober.calls)
	assert.Zero(t, fallback.calls)
}

func TestGetPricesFallsBackBelowTwoVenues(t *testing.T) {
	prober := &fakeProber{outByVenue: map[string]uint64{
		"Raydium": 200_000_000_000,
	}}
	fallback := &fakeFallback{points: []domain.PricePoint{
		{Venue: "Raydium", Price: 0.000025, ObservedAt: time.Now().UTC()},
		{Venue: "Orca", Price: 0.000026, ObservedAt: time.Now().UTC()},
	}}

	a := newTestAggregator(prober, fallback, nil)
	points := a.GetPrices(context.Background(), bonk)

	require.Len(t, points, 2)
	assert.Equal(t, 1, fallback.calls)
}

func TestGetPricesFallbackFailureYieldsNoPoints(t *testing.T) {
	prober := &fakeProber{} // every probe: no route
	fallback := &fakeFallback{err: errors.New("upstream unavailable")}

	a := newTestAggregator(prober, fallback, nil)
	points := a.GetPrices(context.Background(), bonk)
	assert.Empty(t, points)
}

func TestGetPricesCacheHitSkipsSources(t *testing.T) {
	cached := []domain.PricePoint{
		{Venue: "Raydium", Price: 0.000025, ObservedAt: time.Now().UTC()},
		{Venue: "Orca", Price: 0.000026, ObservedAt: time.Now().UTC()},
	}
	cache := newFakeCache()
	cache.entries[bonk.Symbol] = cached

	prober := &fakeProber{outByVenue: map[string]uint64{"Raydium": 1, "Orca": 1}}
	fallback := &fakeFallback{}

	a := newTestAggregator(prober, fallback, cache)
	points := a.GetPrices(context.Background(), bonk)

	assert.Equal(t, cached, points)
	assert.Empty(t, prober.calls)
	assert.Zero(t, fallback.calls)
}

func TestGetPricesPopulatesCacheOnMiss(t *testing.T) {
	cache := newFakeCache()
	prober := &fakeProber{outByVenue: map[string]uint64{
		"Raydium": 200_000_000_000,
		"Orca":    250_000_000_000,
	}}

	a := newTestAggregator(prober, &fakeFallback{}, cache)
	points := a.GetPrices(context.Background(), bonk)

	require.Len(t, points, 2)
	assert.Equal(t, 1, cache.sets)
	assert.Len(t, cache.entries[bonk.Symbol], 2)
}

func TestGetPricesEmptyResultNotCached(t *testing.T) {
	cache := newFakeCache()
	a := newTestAggregator(&fakeProber{}, &fakeFallback{}, cache)

	points := a.GetPrices(context.Background(), bonk)
	assert.Empty(t, points)
	assert.Zero(t, cache.sets)
}

func TestAtomicConversions(t *testing.T) {
	assert.Equal(t, uint64(50_000_000), toAtomic(50.0, 6))
	assert.Equal(t, uint64(12_345), toAtomic(0.12345, 5))
	assert.InDelta(t, 50.0, fromAtomic(50_000_000, 6), 1e-12)
}
