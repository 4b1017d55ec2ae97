// Package pricing fetches per-venue price points for basket tokens. The
// primary source is direct-route quote probes against the swap-router; the
// fallback is a broad pair-listing API filtered down to executable pools.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kmelnick/dexarb/internal/domain"
)

// QuoteProber issues direct-route price probes through the swap-router.
// Implemented by the jupiter client.
type QuoteProber interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, venue string) (domain.SwapQuote, error)
}

// FallbackSource lists per-pool price points for a token mint, already
// filtered by liquidity and volume floors. Implemented by the dexscreener
// client.
type FallbackSource interface {
	TokenPairs(ctx context.Context, mint string, minLiquidityUsd, minVolume24hUsd float64) ([]domain.PricePoint, error)
}

// AggregatorConfig holds tunables for the price aggregator.
type AggregatorConfig struct {
	Venues           []string
	BaseMint         string
	BaseDecimals     int
	ProbeNotionalUsd float64
	MinLiquidityUsd  float64
	MinVolume24hUsd  float64
	CacheTTL         time.Duration
}

// Aggregator implements the price-point fetch contract: GetPrices never
// fails for remote reasons, it degrades to a partial or empty result.
type Aggregator struct {
	prober   QuoteProber
	fallback FallbackSource
	cache    domain.PriceCache
	cfg      AggregatorConfig
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. cache may be nil, in which case every
// call hits the remote sources.
func NewAggregator(prober QuoteProber, fallback FallbackSource, cache domain.PriceCache, cfg AggregatorConfig, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		prober:   prober,
		fallback: fallback,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "price_aggregator")),
	}
}

// GetPrices returns the current per-venue price points for a token. Remote
// failures are absorbed: a venue that times out or has no route simply
// contributes no point. The primary probe result is accepted only when at
// least two distinct venues answered; otherwise the broad fallback source is
// consulted. Results are cached for a short TTL keyed by token symbol.
func (a *Aggregator) GetPrices(ctx context.Context, token domain.Token) []domain.PricePoint {
	if a.cache != nil {
		if cached, err := a.cache.Get(ctx, token.Symbol); err == nil {
			return cached
		} else if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("price cache read failed",
				slog.String("token", token.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	points := a.probeVenues(ctx, token)
	if countVenues(points) < 2 {
		a.logger.Debug("primary probes below two venues, using fallback",
			slog.String("token", token.Symbol),
			slog.Int("points", len(points)),
		)
		points = a.fetchFallback(ctx, token)
	}

	if a.cache != nil && len(points) > 0 {
		if err := a.cache.Set(ctx, token.Symbol, points, a.cfg.CacheTTL); err != nil {
			a.logger.Warn("price cache write failed",
				slog.String("token", token.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return points
}

// ClearCache drops every cached token. This is the only manual invalidation
// path; normal callers rely on TTL expiry.
func (a *Aggregator) ClearCache(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Clear(ctx); err != nil {
		a.logger.Warn("price cache clear failed", slog.String("error", err.Error()))
	}
}

// probeVenues issues one direct-route quote per venue concurrently, each for
// the fixed probe notional, and converts the outputs to per-token USD prices.
func (a *Aggregator) probeVenues(ctx context.Context, token domain.Token) []domain.PricePoint {
	probeAmount := toAtomic(a.cfg.ProbeNotionalUsd, a.cfg.BaseDecimals)

	var (
		mu     sync.Mutex
		points []domain.PricePoint
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, venue := range a.cfg.Venues {
		venue := venue
		g.Go(func() error {
			quote, err := a.prober.Quote(ctx, a.cfg.BaseMint, token.Mint, probeAmount, venue)
			if err != nil {
				// "No route" and timeouts are normal outcomes for a probe.
				if !errors.Is(err, domain.ErrNoRoute) {
					a.logger.Debug("venue probe failed",
						slog.String("token", token.Symbol),
						slog.String("venue", venue),
						slog.String("error", err.Error()),
					)
				}
				return nil
			}
			tokensOut := fromAtomic(quote.OutAmount, token.Decimals)
			if tokensOut <= 0 {
				return nil
			}
			mu.Lock()
			points = append(points, domain.PricePoint{
				Venue:      venue,
				Price:      a.cfg.ProbeNotionalUsd / tokensOut,
				ObservedAt: time.Now().UTC(),
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; failures degrade to fewer points
	return points
}

// fetchFallback queries the broad listing source with the executability
// filters applied.
func (a *Aggregator) fetchFallback(ctx context.Context, token domain.Token) []domain.PricePoint {
	points, err := a.fallback.TokenPairs(ctx, token.Mint, a.cfg.MinLiquidityUsd, a.cfg.MinVolume24hUsd)
	if err != nil {
		a.logger.Warn("fallback price source failed",
			slog.String("token", token.Symbol),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return points
}

// countVenues returns the number of distinct venues among the points.
func countVenues(points []domain.PricePoint) int {
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		seen[p.Venue] = struct{}{}
	}
	return len(seen)
}

// toAtomic converts a decimal amount to atomic units of a mint.
func toAtomic(amount float64, decimals int) uint64 {
	return uint64(math.Round(amount * math.Pow10(decimals)))
}

// fromAtomic converts atomic units of a mint to a decimal amount.
func fromAtomic(amount uint64, decimals int) float64 {
	return float64(amount) / math.Pow10(decimals)
}
