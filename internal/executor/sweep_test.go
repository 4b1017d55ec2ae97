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

func testSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:        time.Minute,
		DustFloorUsd:    0.25,
		CleanupFloorUsd: 2.0,
		BaseMint:        usdcMint,
		BaseDecimals:    6,
		ConfirmPoll:     time.Millisecond,
		ConfirmTimeout:  10 * time.Millisecond,
	}
}

func newTestSweeper(router *fakeRouter, ledger *fakeLedger) *Sweeper {
	return NewSweeper(router, ledger, ledger, NewRiskState(testRiskConfig()),
		testSweepConfig(), slog.Default())
}

func residual(amount uint64) domain.Residual {
	return domain.Residual{
		Mint:       bonkMint,
		Symbol:     "BONK",
		Decimals:   5,
		Amount:     amount,
		RecordedAt: time.Now().UTC(),
	}
}

func TestSweepLiquidatesResidualAboveFloor(t *testing.T) {
	// The residual quotes at 12.50 USD, above the 2 USD cleanup floor.
	router := &fakeRouter{quoteFn: routeQuotes(0, 12.5)}
	ledger := &fakeLedger{
		snap:      domain.BalanceSnapshot{Balance: 500, SolBalance: 1},
		residuals: []domain.Residual{residual(40_000_000)},
	}
	s := newTestSweeper(router, ledger)

	s.SweepOnce(context.Background())

	require.Len(t, router.swapCalls, 1)
	assert.Equal(t, uint64(40_000_000), router.swapCalls[0].InAmount)
	assert.Empty(t, ledger.residuals)
	assert.InDelta(t, 512.5, ledger.snap.Balance, 1e-9)
}

func TestSweepDropsDust(t *testing.T) {
	// 0.10 USD of residual will never clear a transaction fee; it is
	// removed from tracking without a swap.
	router := &fakeRouter{quoteFn: routeQuotes(0, 0.10)}
	ledger := &fakeLedger{
		snap:      domain.BalanceSnapshot{Balance: 500},
		residuals: []domain.Residual{residual(1_000)},
	}
	s := newTestSweeper(router, ledger)

	s.SweepOnce(context.Background())

	assert.Empty(t, router.swapCalls)
	assert.Empty(t, ledger.residuals)
	assert.InDelta(t, 500, ledger.snap.Balance, 1e-9)
}

func TestSweepLeavesSubFloorResidualForLater(t *testing.T) {
	// 1 USD is above dust but below the cleanup floor: keep tracking it.
	router := &fakeRouter{quoteFn: routeQuotes(0, 1.0)}
	ledger := &fakeLedger{
		snap:      domain.BalanceSnapshot{Balance: 500},
		residuals: []domain.Residual{residual(100_000)},
	}
	s := newTestSweeper(router, ledger)

	s.SweepOnce(context.Background())

	assert.Empty(t, router.swapCalls)
	assert.Len(t, ledger.residuals, 1)
}

func TestSweepSkippedWhileHalted(t *testing.T) {
	router := &fakeRouter{quoteFn: routeQuotes(0, 12.5)}
	ledger := &fakeLedger{
		snap:      domain.BalanceSnapshot{Balance: 500},
		residuals: []domain.Residual{residual(40_000_000)},
	}
	s := newTestSweeper(router, ledger)
	s.risk.RecordLoss(100, time.Now().UTC())

	s.SweepOnce(context.Background())

	assert.Empty(t, router.quoteCalls)
	assert.Len(t, ledger.residuals, 1)
}

func TestSweepKeepsResidualOnFailedSubmission(t *testing.T) {
	router := &fakeRouter{
		quoteFn: routeQuotes(0, 12.5),
		swapFn: func(domain.SwapQuote) (string, error) {
			return "", errors.New("route not found")
		},
	}
	ledger := &fakeLedger{
		snap:      domain.BalanceSnapshot{Balance: 500},
		residuals: []domain.Residual{residual(40_000_000)},
	}
	s := newTestSweeper(router, ledger)

	s.SweepOnce(context.Background())

	// The residual stays for the next cycle and the balance is untouched.
	assert.Len(t, ledger.residuals, 1)
	assert.InDelta(t, 500, ledger.snap.Balance, 1e-9)
}

func TestSweepOneBadResidualDoesNotStopOthers(t *testing.T) {
	wifMint := "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
	router := &fakeRouter{
		quoteFn: func(in, out string, amount uint64, venue string) (domain.SwapQuote, error) {
			if in == bonkMint {
				return domain.SwapQuote{}, domain.ErrNoRoute
			}
			return domain.SwapQuote{InputMint: in, OutputMint: out, InAmount: amount, OutAmount: usd(10)}, nil
		},
	}
	ledger := &fakeLedger{
		snap: domain.BalanceSnapshot{Balance: 500},
		residuals: []domain.Residual{
			residual(40_000_000),
			{Mint: wifMint, Symbol: "WIF", Decimals: 6, Amount: 5_000_000, RecordedAt: time.Now().UTC()},
		},
	}
	s := newTestSweeper(router, ledger)

	s.SweepOnce(context.Background())

	// BONK had no route and is kept; WIF swept fine.
	require.Len(t, ledger.residuals, 1)
	assert.Equal(t, bonkMint, ledger.residuals[0].Mint)
	assert.InDelta(t, 510, ledger.snap.Balance, 1e-9)
}
