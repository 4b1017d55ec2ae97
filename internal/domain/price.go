package domain

import "time"

// PricePoint is a single per-venue price observation for a token, in USD.
// Points are immutable and discarded after a scan; accepted opportunities are
// what gets persisted, not the raw points.
type PricePoint struct {
	Venue        string
	Price        float64
	ObservedAt   time.Time
	LiquidityUsd float64
	Volume24hUsd float64
}

// FresherThan reports whether the point was observed within maxAge of now.
func (p PricePoint) FresherThan(now time.Time, maxAge time.Duration) bool {
	return now.Sub(p.ObservedAt) <= maxAge
}

// Token identifies one entry of the configured trading basket.
type Token struct {
	Symbol   string
	Mint     string
	Decimals int
}
