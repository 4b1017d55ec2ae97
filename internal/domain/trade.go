package domain

import "time"

// ExecStatus is the terminal state of one execution attempt.
type ExecStatus string

const (
	// ExecCompleted means both legs confirmed.
	ExecCompleted ExecStatus = "completed"
	// ExecPartialFailure means the buy leg committed capital but the sell leg
	// failed all retries; exposure remains in the intermediate token.
	ExecPartialFailure ExecStatus = "partial_failure"
	// ExecAborted means execution stopped before any capital was committed
	// (simulation or buy-leg failure).
	ExecAborted ExecStatus = "aborted"
	// ExecSkipped means a precondition or re-validation failed; no side effects.
	ExecSkipped ExecStatus = "skipped"
)

// TradeIntent is an Opportunity plus a sizing decision. It exists only within
// one execution attempt and is never persisted.
type TradeIntent struct {
	Opportunity Opportunity
	AmountUsd   float64
}

// ExecutionResult is the outcome of Engine.Execute, persisted via the Ledger.
type ExecutionResult struct {
	Opportunity    Opportunity
	Status         ExecStatus
	Reason         string // human-readable skip/abort cause
	BuyRef         string // transaction reference, empty if never submitted
	SellRef        string
	AmountUsd      float64
	RealizedProfit float64
	ExecutedAt     time.Time
}

// Residual is a non-base token balance stranded by a partial failure,
// awaiting liquidation by the auto-sweep.
type Residual struct {
	Mint       string
	Symbol     string
	Decimals   int
	Amount     uint64 // atomic units
	RecordedAt time.Time
}

// BalanceSnapshot is the Ledger's read model for current capital and
// win/loss counters. Balance and TotalProfit are USD; SolBalance is the
// fee-paying asset balance in SOL.
type BalanceSnapshot struct {
	Balance       float64
	SolBalance    float64
	TotalTrades   int
	WinningTrades int
	TotalProfit   float64
	UpdatedAt     time.Time
}
