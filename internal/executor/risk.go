package executor

import (
	"sync"
	"time"
)

// RiskConfig holds the circuit-breaker and adaptive-threshold parameters.
type RiskConfig struct {
	// DefaultMinProfitPct is the profit threshold applied to live re-quotes
	// when a pair has no raised override.
	DefaultMinProfitPct float64
	// RaisedMinProfitPct applies to a pair once it accumulates
	// FailuresToRaise consecutive sell-leg failures, until a sell succeeds.
	RaisedMinProfitPct float64
	FailuresToRaise    int
	// DailyLossLimitUsd is the realized-loss tally that latches the halt.
	DailyLossLimitUsd float64
}

// RiskState is the engine's process-lifetime risk posture: the daily-loss
// circuit breaker and the per-pair consecutive sell-failure counters. It is
// owned exclusively by the Engine; the mutex only guards against the sweeper
// sharing the same breaker.
type RiskState struct {
	cfg RiskConfig

	mu           sync.Mutex
	day          string // UTC day the tally belongs to, "2006-01-02"
	dailyLoss    float64
	halted       bool
	sellFailures map[string]int
}

// NewRiskState creates a RiskState.
func NewRiskState(cfg RiskConfig) *RiskState {
	return &RiskState{
		cfg:          cfg,
		sellFailures: make(map[string]int),
	}
}

// Halted reports whether the circuit breaker is latched for the UTC day
// containing now. The latch is sticky for the remainder of its day: losses
// cannot be offset by later profits, and there is no manual reset. A new day
// observed here un-gates execution; the tally itself is reset lazily by the
// next RecordLoss.
func (r *RiskState) Halted(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.day != utcDay(now) {
		return false
	}
	return r.halted
}

// RecordLoss feeds a realized loss (positive USD amount) into the daily
// tally, resetting the tally first when the UTC day has rolled over. It
// returns true when this loss latched the breaker.
func (r *RiskState) RecordLoss(loss float64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if day := utcDay(now); r.day != day {
		r.day = day
		r.dailyLoss = 0
		r.halted = false
	}

	r.dailyLoss += loss
	if !r.halted && r.dailyLoss >= r.cfg.DailyLossLimitUsd {
		r.halted = true
		return true
	}
	return false
}

// DailyLoss returns the current tally for logging.
func (r *RiskState) DailyLoss() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dailyLoss
}

// EffectiveThreshold returns the minimum live profit percent required for the
// given pair: the default, or the raised value while the pair's consecutive
// sell-failure count is at or above the trip point.
func (r *RiskState) EffectiveThreshold(pairKey string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sellFailures[pairKey] >= r.cfg.FailuresToRaise {
		return r.cfg.RaisedMinProfitPct
	}
	return r.cfg.DefaultMinProfitPct
}

// RecordSellFailure increments the pair's consecutive-failure counter and
// returns the new count.
func (r *RiskState) RecordSellFailure(pairKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sellFailures[pairKey]++
	return r.sellFailures[pairKey]
}

// RecordSellSuccess clears the pair's counter. It returns true when the
// threshold had been raised, so the caller can emit a reverted notice.
func (r *RiskState) RecordSellSuccess(pairKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	raised := r.sellFailures[pairKey] >= r.cfg.FailuresToRaise
	delete(r.sellFailures, pairKey)
	return raised
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
