package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmelnick/dexarb/internal/domain"
)

var testToken = domain.Token{
	Symbol:   "BONK",
	Mint:     "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
	Decimals: 5,
}

func testConfig() Config {
	return Config{
		MinProfitPercent: 0.5,
		NearMissMargin:   0.3,
		Slippage:         0.01,
		MaxPointAge:      10 * time.Second,
	}
}

func point(venue string, price float64, at time.Time) domain.PricePoint {
	return domain.PricePoint{Venue: venue, Price: price, ObservedAt: at}
}

func TestFindOpportunitiesSpreadEatenBySlippage(t *testing.T) {
	// A 2% raw spread with 1% slippage on each leg nets out negative.
	now := time.Now().UTC()
	s := New(testConfig())

	opps, best := s.FindOpportunities(testToken, []domain.PricePoint{
		point("Raydium", 100, now),
		point("Orca", 102, now),
	}, now)

	assert.Empty(t, opps)
	require.False(t, best.IsZero())
	assert.InDelta(t, 2.0, best.RawPercent, 1e-9)
	assert.Less(t, best.AdjustedPercent, 0.0)
	assert.Equal(t, SpreadFar, best.Class)
}

func TestFindOpportunitiesProfitableSpread(t *testing.T) {
	now := time.Now().UTC()
	s := New(testConfig())

	opps, best := s.FindOpportunities(testToken, []domain.PricePoint{
		point("Raydium", 100, now),
		point("Orca", 105, now),
	}, now)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, "BONK/USDC", opp.TokenPair)
	assert.Equal(t, "Raydium", opp.BuyVenue)
	assert.Equal(t, "Orca", opp.SellVenue)
	assert.InDelta(t, 101.0, opp.BuyPrice, 1e-9)
	assert.InDelta(t, 103.95, opp.SellPrice, 1e-9)
	// (103.95 - 101) / 101 * 100
	assert.InDelta(t, 2.9208, opp.ProfitPercent, 1e-3)
	assert.NotEmpty(t, opp.ID)
	assert.Equal(t, now, opp.DetectedAt)

	assert.Equal(t, SpreadMet, best.Class)
	assert.InDelta(t, 5.0, best.RawPercent, 1e-9)
}

func TestFindOpportunitiesBuyVenueIsLowerPrice(t *testing.T) {
	// Point order must not matter; the cheap venue is always the buy side.
	now := time.Now().UTC()
	s := New(testConfig())

	opps, _ := s.FindOpportunities(testToken, []domain.PricePoint{
		point("Orca", 105, now),
		point("Raydium", 100, now),
	}, now)

	require.Len(t, opps, 1)
	assert.Equal(t, "Raydium", opps[0].BuyVenue)
	assert.Equal(t, "Orca", opps[0].SellVenue)
}

func TestFindOpportunitiesSameVenueExcluded(t *testing.T) {
	now := time.Now().UTC()
	s := New(testConfig())

	opps, best := s.FindOpportunities(testToken, []domain.PricePoint{
		point("Raydium", 100, now),
		point("Raydium", 110, now),
	}, now)

	assert.Empty(t, opps)
	assert.True(t, best.IsZero())
}

func TestFindOpportunitiesStalePointsExcluded(t *testing.T) {
	now := time.Now().UTC()
	s := New(testConfig())

	opps, best := s.FindOpportunities(testToken, []domain.PricePoint{
		point("Raydium", 100, now.Add(-11*time.Second)),
		point("Orca", 105, now),
	}, now)

	assert.Empty(t, opps)
	assert.True(t, best.IsZero())
}

func TestFindOpportunitiesNearMiss(t *testing.T) {
	// 2.5% raw spread nets ~0.47% adjusted, inside the 0.3pp margin below
	// the 0.5% threshold.
	now := time.Now().UTC()
	s := New(testConfig())

	opps, best := s.FindOpportunities(testToken, []domain.PricePoint{
		point("Raydium", 100, now),
		point("Orca", 102.5, now),
	}, now)

	assert.Empty(t, opps)
	require.False(t, best.IsZero())
	assert.Equal(t, SpreadNearMiss, best.Class)
	assert.InDelta(t, 0.4703, best.AdjustedPercent, 1e-3)
}

func TestFindOpportunitiesSortedByProfitDescending(t *testing.T) {
	now := time.Now().UTC()
	s := New(testConfig())

	opps, _ := s.FindOpportunities(testToken, []domain.PricePoint{
		point("Raydium", 100, now),
		point("Orca", 105, now),
		point("Meteora", 110, now),
	}, now)

	require.NotEmpty(t, opps)
	for i := 1; i < len(opps); i++ {
		assert.GreaterOrEqual(t, opps[i-1].ProfitPercent, opps[i].ProfitPercent)
	}
	// The widest pair (Raydium -> Meteora) must come first.
	assert.Equal(t, "Raydium", opps[0].BuyVenue)
	assert.Equal(t, "Meteora", opps[0].SellVenue)
}

func TestFindOpportunitiesHigherSlippageLowersProfit(t *testing.T) {
	now := time.Now().UTC()
	points := []domain.PricePoint{
		point("Raydium", 100, now),
		point("Orca", 105, now),
	}

	loose := New(Config{MinProfitPercent: 0.5, Slippage: 0.005, MaxPointAge: 10 * time.Second})
	tight := New(Config{MinProfitPercent: 0.5, Slippage: 0.02, MaxPointAge: 10 * time.Second})

	looseOpps, _ := loose.FindOpportunities(testToken, points, now)
	tightOpps, _ := tight.FindOpportunities(testToken, points, now)

	require.Len(t, looseOpps, 1)
	require.Len(t, tightOpps, 1)
	assert.Greater(t, looseOpps[0].ProfitPercent, tightOpps[0].ProfitPercent)
}

func TestFindOpportunitiesNoPoints(t *testing.T) {
	now := time.Now().UTC()
	s := New(testConfig())

	opps, best := s.FindOpportunities(testToken, nil, now)
	assert.Empty(t, opps)
	assert.True(t, best.IsZero())
}

func TestPairKey(t *testing.T) {
	opp := domain.Opportunity{TokenSymbol: "BONK", BuyVenue: "Raydium", SellVenue: "Orca"}
	assert.Equal(t, "BONK:Raydium>Orca", opp.PairKey())
}
