package domain

import "time"

// Opportunity is a cross-venue price discrepancy that cleared the minimum
// profit threshold at detection time. BuyPrice and SellPrice are already
// slippage-adjusted; BuyVenue != SellVenue and BuyPrice <= SellPrice hold by
// construction.
type Opportunity struct {
	ID            string
	TokenPair     string // e.g. "BONK/USDC"
	TokenSymbol   string
	TokenMint     string
	BuyVenue      string
	SellVenue     string
	BuyPrice      float64
	SellPrice     float64
	ProfitPercent float64
	DetectedAt    time.Time
}

// PairKey identifies the venue pair for per-pair risk tracking, independent of
// the individual opportunity.
func (o Opportunity) PairKey() string {
	return o.TokenSymbol + ":" + o.BuyVenue + ">" + o.SellVenue
}
