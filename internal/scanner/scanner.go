// Package scanner finds cross-venue arbitrage opportunities in a set of
// per-venue price points. Detection is a pure function of its inputs: no I/O,
// deterministic given the same points and clock reading.
package scanner

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kmelnick/dexarb/internal/domain"
)

// SpreadClass classifies the best spread of a scan relative to the profit
// threshold, driving the near-miss diagnostic alert.
type SpreadClass string

const (
	// SpreadMet means the best spread cleared the threshold.
	SpreadMet SpreadClass = "met"
	// SpreadNearMiss means the best spread fell within the configured margin
	// below the threshold.
	SpreadNearMiss SpreadClass = "near_miss"
	// SpreadFar means the best spread was nowhere close.
	SpreadFar SpreadClass = "far"
)

// BestSpread is the single largest raw spread observed across all venue
// pairs of one scan, reported for threshold tuning. All fields belong to the
// pair that produced the best spread, including the adjusted prices.
type BestSpread struct {
	TokenPair       string
	BuyVenue        string
	SellVenue       string
	RawPercent      float64
	AdjustedPercent float64
	BuyPrice        float64
	SellPrice       float64
	Class           SpreadClass
}

// IsZero reports whether no venue pair was usable at all.
func (b BestSpread) IsZero() bool {
	return b.TokenPair == ""
}

// Config holds the detection thresholds.
type Config struct {
	// MinProfitPercent is the slippage-adjusted profit floor, in percent.
	MinProfitPercent float64
	// NearMissMargin is how far (percentage points) below the threshold a
	// best spread still counts as a near miss.
	NearMissMargin float64
	// Slippage is the symmetric price-impact model applied to both legs.
	Slippage float64
	// MaxPointAge is the staleness window for price points.
	MaxPointAge time.Duration
}

// Scanner detects opportunities for one token at a time.
type Scanner struct {
	cfg Config
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	return &Scanner{cfg: cfg}
}

// FindOpportunities examines every unordered pair of distinct price points
// and returns the opportunities whose slippage-adjusted profit clears the
// threshold, sorted by profit percent descending, together with the
// best-spread diagnostic for this scan.
//
// Pairs are rejected when either point is older than the staleness window
// relative to now, or when both points come from the same venue (two pools
// on one venue are not a real arbitrage; the routing layer already picks the
// better pool).
func (s *Scanner) FindOpportunities(token domain.Token, points []domain.PricePoint, now time.Time) ([]domain.Opportunity, BestSpread) {
	var (
		opps []domain.Opportunity
		best BestSpread
	)

	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			a, b := points[i], points[j]
			if !a.FresherThan(now, s.cfg.MaxPointAge) || !b.FresherThan(now, s.cfg.MaxPointAge) {
				continue
			}
			if a.Venue == b.Venue {
				continue
			}

			low, high := a, b
			if low.Price > high.Price {
				low, high = high, low
			}
			if low.Price <= 0 {
				continue
			}

			rawPercent := (high.Price - low.Price) / low.Price * 100

			// Slippage worsens both legs: pay more on the buy, receive less
			// on the sell.
			buyPrice := low.Price * (1 + s.cfg.Slippage)
			sellPrice := high.Price * (1 - s.cfg.Slippage)
			profitPercent := (sellPrice - buyPrice) / buyPrice * 100

			if rawPercent > best.RawPercent || best.IsZero() {
				best = BestSpread{
					TokenPair:       token.Symbol + "/USDC",
					BuyVenue:        low.Venue,
					SellVenue:       high.Venue,
					RawPercent:      rawPercent,
					AdjustedPercent: profitPercent,
					BuyPrice:        buyPrice,
					SellPrice:       sellPrice,
					Class:           s.classify(profitPercent),
				}
			}

			if profitPercent < s.cfg.MinProfitPercent {
				continue
			}
			opps = append(opps, domain.Opportunity{
				ID:            uuid.New().String(),
				TokenPair:     token.Symbol + "/USDC",
				TokenSymbol:   token.Symbol,
				TokenMint:     token.Mint,
				BuyVenue:      low.Venue,
				SellVenue:     high.Venue,
				BuyPrice:      buyPrice,
				SellPrice:     sellPrice,
				ProfitPercent: profitPercent,
				DetectedAt:    now,
			})
		}
	}

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].ProfitPercent > opps[j].ProfitPercent
	})
	return opps, best
}

// classify maps an adjusted profit percent onto the tri-state diagnostic.
func (s *Scanner) classify(profitPercent float64) SpreadClass {
	switch {
	case profitPercent >= s.cfg.MinProfitPercent:
		return SpreadMet
	case profitPercent >= s.cfg.MinProfitPercent-s.cfg.NearMissMargin:
		return SpreadNearMiss
	default:
		return SpreadFar
	}
}
