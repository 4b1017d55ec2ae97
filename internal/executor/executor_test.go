package executor

import (
	"context"
	"errors"
	"log/slog"
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

// fakeRouter scripts each router call; unset functions default to success.
type fakeRouter struct {
	quoteFn   func(inputMint, outputMint string, amount uint64, venue string) (domain.SwapQuote, error)
	simFn     func(q domain.SwapQuote) (bool, error)
	swapFn    func(q domain.SwapQuote) (string, error)
	confirmFn func(ref string) error

	quoteCalls []string // venue per call
	swapCalls  []domain.SwapQuote
}

func (r *fakeRouter) Quote(_ context.Context, in, out string, amount uint64, venue string) (domain.SwapQuote, error) {
	r.quoteCalls = append(r.quoteCalls, venue)
	if r.quoteFn != nil {
		return r.quoteFn(in, out, amount, venue)
	}
	return domain.SwapQuote{InputMint: in, OutputMint: out, InAmount: amount, OutAmount: amount}, nil
}

func (r *fakeRouter) Simulate(_ context.Context, q domain.SwapQuote) (bool, error) {
	if r.simFn != nil {
		return r.simFn(q)
	}
	return true, nil
}

func (r *fakeRouter) Swap(_ context.Context, q domain.SwapQuote) (string, error) {
	r.swapCalls = append(r.swapCalls, q)
	if r.swapFn != nil {
		return r.swapFn(q)
	}
	return "sig-" + q.OutputMint[:4], nil
}

func (r *fakeRouter) WaitConfirmed(_ context.Context, ref string, _, _ time.Duration) error {
	if r.confirmFn != nil {
		return r.confirmFn(ref)
	}
	return nil
}

// fakeLedger keeps everything in memory.
type fakeLedger struct {
	snap      domain.BalanceSnapshot
	snapErr   error
	trades    []domain.ExecutionResult
	residuals []domain.Residual
}

func (l *fakeLedger) CurrentSnapshot(context.Context) (domain.BalanceSnapshot, error) {
	if l.snapErr != nil {
		return domain.BalanceSnapshot{}, l.snapErr
	}
	return l.snap, nil
}

func (l *fakeLedger) UpdateSnapshot(_ context.Context, snap domain.BalanceSnapshot) error {
	l.snap = snap
	return nil
}

func (l *fakeLedger) RecordTrade(_ context.Context, res domain.ExecutionResult) error {
	l.trades = append(l.trades, res)
	return nil
}

func (l *fakeLedger) RecordOpportunity(context.Context, domain.Opportunity, bool) error {
	return nil
}

func (l *fakeLedger) AddResidual(_ context.Context, r domain.Residual) error {
	l.residuals = append(l.residuals, r)
	return nil
}

func (l *fakeLedger) Residuals(context.Context) ([]domain.Residual, error) {
	return l.residuals, nil
}

func (l *fakeLedger) RemoveResidual(_ context.Context, mint string) error {
	kept := l.residuals[:0]
	for _, r := range l.residuals {
		if r.Mint != mint {
			kept = append(kept, r)
		}
	}
	l.residuals = kept
	return nil
}

type sentAlert struct {
	event string
	title string
}

type fakeNotifier struct {
	alerts []sentAlert
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, _ string) error {
	n.alerts = append(n.alerts, sentAlert{event: event, title: title})
	return nil
}

func (n *fakeNotifier) events() []string {
	out := make([]string, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.event)
	}
	return out
}

func testEngineConfig() Config {
	return Config{
		BaseMint:         usdcMint,
		BaseDecimals:     6,
		MaxTradeUsd:      250,
		BalanceFraction:  0.25,
		MinProfitUsd:     0.50,
		MinSolReserve:    0.05,
		EstimatedFeeSol:  0.0001,
		SellRetries:      3,
		SellRetryBackoff: time.Millisecond,
		ConfirmPoll:      time.Millisecond,
		ConfirmTimeout:   10 * time.Millisecond,
	}
}

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:            "opp-1",
		TokenPair:     "BONK/USDC",
		TokenSymbol:   "BONK",
		TokenMint:     bonkMint,
		BuyVenue:      "Raydium",
		SellVenue:     "Orca",
		BuyPrice:      100,
		SellPrice:     103,
		ProfitPercent: 2.9,
		DetectedAt:    time.Now().UTC(),
	}
}

// usd converts a USD amount into base atomic units for quote scripting.
func usd(v float64) uint64 { return uint64(v * 1e6) }

// routeQuotes scripts the router so the buy leg yields tokenOut token units
// and selling those yields sellOutUsd.
func routeQuotes(tokenOut uint64, sellOutUsd float64) func(string, string, uint64, string) (domain.SwapQuote, error) {
	return func(in, out string, amount uint64, venue string) (domain.SwapQuote, error) {
		if in == usdcMint {
			return domain.SwapQuote{InputMint: in, OutputMint: out, InAmount: amount, OutAmount: tokenOut}, nil
		}
		return domain.SwapQuote{InputMint: in, OutputMint: out, InAmount: amount, OutAmount: usd(sellOutUsd)}, nil
	}
}

func newTestEngine(router *fakeRouter, ledger *fakeLedger, notifier *fakeNotifier) *Engine {
	risk := NewRiskState(testRiskConfig())
	return NewEngine(router, ledger, ledger, risk, notifier,
		[]domain.Token{bonk}, testEngineConfig(), slog.Default())
}

func TestExecuteCompletedTrade(t *testing.T) {
	router := &fakeRouter{quoteFn: routeQuotes(40_000_000, 255)}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	notifier := &fakeNotifier{}
	e := newTestEngine(router, ledger, notifier)

	res := e.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.ExecCompleted, res.Status)
	assert.NotEmpty(t, res.BuyRef)
	assert.NotEmpty(t, res.SellRef)
	assert.InDelta(t, 250, res.AmountUsd, 1e-9)
	assert.InDelta(t, 5, res.RealizedProfit, 1e-9)

	// Buy at size on the buy venue, sell sized from the buy output.
	require.Len(t, router.swapCalls, 2)
	assert.Equal(t, usd(250), router.swapCalls[0].InAmount)
	assert.Equal(t, uint64(40_000_000), router.swapCalls[1].InAmount)

	// Ledger settled: balance, counters, fee burn.
	assert.InDelta(t, 1005, ledger.snap.Balance, 1e-9)
	assert.Equal(t, 1, ledger.snap.TotalTrades)
	assert.Equal(t, 1, ledger.snap.WinningTrades)
	assert.InDelta(t, 5, ledger.snap.TotalProfit, 1e-9)
	assert.InDelta(t, 1-2*0.0001, ledger.snap.SolBalance, 1e-9)

	require.Len(t, ledger.trades, 1)
	assert.Equal(t, domain.ExecCompleted, ledger.trades[0].Status)
	assert.Equal(t, []string{"trade_executed"}, notifier.events())
}

func TestExecuteSkippedWhenHalted(t *testing.T) {
	router := &fakeRouter{}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	e := newTestEngine(router, ledger, &fakeNotifier{})
	e.risk.RecordLoss(100, time.Now().UTC())

	res := e.Execute(context.Background(), testOpportunity())

	assert.Equal(t, domain.ExecSkipped, res.Status)
	assert.Empty(t, router.quoteCalls)
	assert.Empty(t, ledger.trades)
}

func TestExecuteSkippedOnPreconditions(t *testing.T) {
	t.Run("snapshot unavailable", func(t *testing.T) {
		ledger := &fakeLedger{snapErr: errors.New("db down")}
		e := newTestEngine(&fakeRouter{}, ledger, &fakeNotifier{})

		res := e.Execute(context.Background(), testOpportunity())
		assert.Equal(t, domain.ExecSkipped, res.Status)
	})

	t.Run("estimated profit below floor", func(t *testing.T) {
		ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
		router := &fakeRouter{}
		e := newTestEngine(router, ledger, &fakeNotifier{})

		opp := testOpportunity()
		opp.ProfitPercent = 0.1 // 250 * 0.1% = 0.25 USD, below the 0.50 floor

		res := e.Execute(context.Background(), opp)
		assert.Equal(t, domain.ExecSkipped, res.Status)
		assert.Empty(t, router.quoteCalls)
	})

	t.Run("insufficient fee reserve", func(t *testing.T) {
		ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 0.04}}
		e := newTestEngine(&fakeRouter{}, ledger, &fakeNotifier{})

		res := e.Execute(context.Background(), testOpportunity())
		assert.Equal(t, domain.ExecSkipped, res.Status)
	})

	t.Run("unknown token", func(t *testing.T) {
		ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
		e := newTestEngine(&fakeRouter{}, ledger, &fakeNotifier{})

		opp := testOpportunity()
		opp.TokenSymbol = "WIF"

		res := e.Execute(context.Background(), opp)
		assert.Equal(t, domain.ExecSkipped, res.Status)
	})
}

func TestExecuteSkippedWhenLiveProfitBelowThreshold(t *testing.T) {
	// Scan saw 2.9% but live quotes only net 0.2%.
	router := &fakeRouter{quoteFn: routeQuotes(40_000_000, 250.5)}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	e := newTestEngine(router, ledger, &fakeNotifier{})

	res := e.Execute(context.Background(), testOpportunity())

	assert.Equal(t, domain.ExecSkipped, res.Status)
	assert.Empty(t, router.swapCalls)
}

func TestExecuteAbortedOnFailedSimulation(t *testing.T) {
	router := &fakeRouter{
		quoteFn: routeQuotes(40_000_000, 255),
		simFn: func(q domain.SwapQuote) (bool, error) {
			// The sell leg simulation fails; the buy must never be submitted.
			if q.OutputMint == usdcMint {
				return false, nil
			}
			return true, nil
		},
	}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	e := newTestEngine(router, ledger, &fakeNotifier{})

	res := e.Execute(context.Background(), testOpportunity())

	assert.Equal(t, domain.ExecAborted, res.Status)
	assert.Contains(t, res.Reason, "sell simulation failed")
	assert.Empty(t, router.swapCalls)
	// Nothing was committed, so the balance is untouched.
	assert.InDelta(t, 1000, ledger.snap.Balance, 1e-9)
}

func TestExecuteAbortedOnBuyFailure(t *testing.T) {
	router := &fakeRouter{
		quoteFn: routeQuotes(40_000_000, 255),
		swapFn: func(domain.SwapQuote) (string, error) {
			return "", errors.New("blockhash expired")
		},
	}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	notifier := &fakeNotifier{}
	e := newTestEngine(router, ledger, notifier)

	res := e.Execute(context.Background(), testOpportunity())

	assert.Equal(t, domain.ExecAborted, res.Status)
	assert.Empty(t, notifier.events())
	assert.Empty(t, ledger.residuals)
}

func TestExecutePartialFailure(t *testing.T) {
	sellAttempts := 0
	router := &fakeRouter{
		quoteFn: routeQuotes(40_000_000, 255),
		swapFn: func(q domain.SwapQuote) (string, error) {
			if q.OutputMint == usdcMint {
				sellAttempts++
				return "", errors.New("route not found")
			}
			return "buy-sig", nil
		},
	}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	notifier := &fakeNotifier{}
	e := newTestEngine(router, ledger, notifier)

	opp := testOpportunity()
	res := e.Execute(context.Background(), opp)

	require.Equal(t, domain.ExecPartialFailure, res.Status)
	assert.Equal(t, "buy-sig", res.BuyRef)
	assert.Empty(t, res.SellRef)
	assert.Equal(t, 3, sellAttempts)

	// Exactly one alert, not one per retry.
	assert.Equal(t, []string{"partial_failure"}, notifier.events())

	// Stranded exposure booked for the sweeper.
	require.Len(t, ledger.residuals, 1)
	assert.Equal(t, bonkMint, ledger.residuals[0].Mint)
	assert.Equal(t, uint64(40_000_000), ledger.residuals[0].Amount)

	// Base balance shrank by the committed amount; one failure on the pair.
	assert.InDelta(t, 750, ledger.snap.Balance, 1e-9)
	assert.Equal(t, 1, e.risk.sellFailures[opp.PairKey()])

	require.Len(t, ledger.trades, 1)
	assert.Equal(t, domain.ExecPartialFailure, ledger.trades[0].Status)
}

func TestExecuteSellRecoversOnRetry(t *testing.T) {
	attempts := 0
	router := &fakeRouter{
		quoteFn: routeQuotes(40_000_000, 255),
		swapFn: func(q domain.SwapQuote) (string, error) {
			if q.OutputMint == usdcMint {
				attempts++
				if attempts == 1 {
					return "", errors.New("route not found")
				}
				return "sell-sig", nil
			}
			return "buy-sig", nil
		},
	}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	notifier := &fakeNotifier{}
	e := newTestEngine(router, ledger, notifier)

	res := e.Execute(context.Background(), testOpportunity())

	require.Equal(t, domain.ExecCompleted, res.Status)
	assert.Equal(t, "sell-sig", res.SellRef)
	assert.Equal(t, 2, attempts)
	assert.Empty(t, ledger.residuals)
	assert.Equal(t, []string{"trade_executed"}, notifier.events())
}

func TestExecuteRaisedThresholdBlocksMarginalTrade(t *testing.T) {
	// Live profit of 2% passes the 0.5% default but not the 1.5% raised
	// threshold once the pair has tripped its failure count.
	router := &fakeRouter{quoteFn: routeQuotes(40_000_000, 255)}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	e := newTestEngine(router, ledger, &fakeNotifier{})

	opp := testOpportunity()
	for i := 0; i < 3; i++ {
		e.risk.RecordSellFailure(opp.PairKey())
	}

	// 255 out on 250 in is 2%: fine by default, passes raised too. Tighten
	// the sell output to 253 so it is 1.2%, between the two thresholds.
	router.quoteFn = routeQuotes(40_000_000, 253)

	res := e.Execute(context.Background(), opp)
	assert.Equal(t, domain.ExecSkipped, res.Status)
	assert.Contains(t, res.Reason, "below effective threshold")
}

func TestExecuteThresholdRevertedAlertOnRecovery(t *testing.T) {
	router := &fakeRouter{quoteFn: routeQuotes(40_000_000, 255)}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 1000, SolBalance: 1}}
	notifier := &fakeNotifier{}
	e := newTestEngine(router, ledger, notifier)

	opp := testOpportunity()
	for i := 0; i < 3; i++ {
		e.risk.RecordSellFailure(opp.PairKey())
	}

	// 2% live profit clears the raised 1.5% threshold and executes; success
	// reverts the pair and emits the reverted notice before the trade alert.
	res := e.Execute(context.Background(), opp)
	require.Equal(t, domain.ExecCompleted, res.Status)
	assert.Equal(t, []string{"threshold_reverted", "trade_executed"}, notifier.events())
}

func TestExecuteLossLatchesCircuitBreaker(t *testing.T) {
	// A completed trade can still realize a loss; big enough, it latches the
	// breaker and the next opportunity is skipped.
	router := &fakeRouter{quoteFn: routeQuotes(40_000_000, 255)}
	ledger := &fakeLedger{snap: domain.BalanceSnapshot{Balance: 10000, SolBalance: 1}}
	notifier := &fakeNotifier{}

	risk := NewRiskState(testRiskConfig())
	e := NewEngine(router, ledger, ledger, risk, notifier, []domain.Token{bonk}, testEngineConfig(), slog.Default())

	// Settle a completed trade whose realized loss exceeds the daily limit.
	res := domain.ExecutionResult{
		Opportunity:    testOpportunity(),
		Status:         domain.ExecCompleted,
		AmountUsd:      250,
		RealizedProfit: -55,
		ExecutedAt:     time.Now().UTC(),
	}
	e.settle(context.Background(), e.logger, res, -55)

	assert.True(t, risk.Halted(time.Now().UTC()))
	assert.Contains(t, notifier.events(), "circuit_breaker")

	next := e.Execute(context.Background(), testOpportunity())
	assert.Equal(t, domain.ExecSkipped, next.Status)
	assert.Equal(t, "circuit breaker halted", next.Reason)
}
