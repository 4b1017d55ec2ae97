// Package executor sizes, re-validates, and executes two-leg arbitrage
// trades through the swap-routing service, maintaining the engine's risk
// posture: a daily-loss circuit breaker and per-pair adaptive thresholds.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kmelnick/dexarb/internal/domain"
)

// SwapRouter is the interface through which the engine talks to the
// swap-routing service. Implemented by the jupiter client.
type SwapRouter interface {
	// Quote fetches a live, bindable quote. A non-empty venue restricts the
	// route to direct pools on that venue.
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, venue string) (domain.SwapQuote, error)
	// Simulate dry-runs the route; ok=false means the swap would fail.
	Simulate(ctx context.Context, quote domain.SwapQuote) (bool, error)
	// Swap builds and submits the route, returning a transaction reference.
	Swap(ctx context.Context, quote domain.SwapQuote) (string, error)
	// WaitConfirmed polls until the transaction confirms, fails, or times out.
	WaitConfirmed(ctx context.Context, ref string, poll, timeout time.Duration) error
}

// Notifier is the fire-and-forget alert channel. Failures to deliver are the
// notifier's problem; the engine never blocks on it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the engine's sizing and safety parameters.
type Config struct {
	BaseMint     string
	BaseDecimals int

	// MaxTradeUsd is the hard per-trade cap; BalanceFraction the soft cap as
	// a fraction of the current ledger balance.
	MaxTradeUsd     float64
	BalanceFraction float64
	// MinProfitUsd filters out trades whose estimated absolute profit cannot
	// clear fixed transaction costs, regardless of percentage.
	MinProfitUsd float64

	// MinSolReserve is the fee-asset balance that must remain after the
	// trade's own estimated fees.
	MinSolReserve   float64
	EstimatedFeeSol float64

	SellRetries      int
	SellRetryBackoff time.Duration

	ConfirmPoll    time.Duration
	ConfirmTimeout time.Duration
}

// Engine executes opportunities. It is single-threaded with respect to
// itself: the scan scheduler guarantees at most one Execute call is in
// flight, so balance and risk mutations need no further coordination.
type Engine struct {
	router   SwapRouter
	ledger   domain.Ledger
	resids   domain.ResidualStore
	risk     *RiskState
	notifier Notifier
	tokens   map[string]domain.Token // symbol -> token
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

// NewEngine creates an Engine. resids and notifier may be nil.
func NewEngine(
	router SwapRouter,
	ledger domain.Ledger,
	resids domain.ResidualStore,
	risk *RiskState,
	notifier Notifier,
	tokens []domain.Token,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	bySymbol := make(map[string]domain.Token, len(tokens))
	for _, t := range tokens {
		bySymbol[t.Symbol] = t
	}
	return &Engine{
		router:   router,
		ledger:   ledger,
		resids:   resids,
		risk:     risk,
		notifier: notifier,
		tokens:   bySymbol,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "execution_engine")),
		now:      time.Now,
	}
}

// Risk exposes the engine's risk state so the app can share it with the
// sweeper's safety checks.
func (e *Engine) Risk() *RiskState { return e.risk }

// Execute runs one opportunity through the full safety pipeline. It returns
// Skipped for any failed precondition or re-validation (no side effects),
// Aborted when execution stopped before capital was committed, and
// Completed/PartialFailure after the buy leg has landed. An execution past
// the buy submission is never cancelled by ctx; the sell-retry loop runs to
// completion so a partial failure cannot go undetected.
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity) domain.ExecutionResult {
	now := e.now().UTC()
	log := e.logger.With(
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.PairKey()),
	)

	// Precondition 1: circuit breaker.
	if e.risk.Halted(now) {
		log.Warn("execute skipped, circuit breaker halted",
			slog.Float64("daily_loss", e.risk.DailyLoss()),
		)
		return e.skip(opp, "circuit breaker halted")
	}

	token, ok := e.tokens[opp.TokenSymbol]
	if !ok {
		return e.skip(opp, fmt.Sprintf("unknown token %q", opp.TokenSymbol))
	}

	// Precondition 2: trade sizing.
	snap, err := e.ledger.CurrentSnapshot(ctx)
	if err != nil {
		log.Warn("execute skipped, balance snapshot unavailable", slog.String("error", err.Error()))
		return e.skip(opp, "balance snapshot unavailable")
	}
	amountUsd := math.Min(e.cfg.MaxTradeUsd, snap.Balance*e.cfg.BalanceFraction)
	if amountUsd <= 0 {
		return e.skip(opp, "computed trade size is zero")
	}
	if est := amountUsd * opp.ProfitPercent / 100; est < e.cfg.MinProfitUsd {
		log.Debug("execute skipped, estimated profit below absolute floor",
			slog.Float64("estimated_usd", est),
			slog.Float64("floor_usd", e.cfg.MinProfitUsd),
		)
		return e.skip(opp, "estimated profit below absolute floor")
	}

	// Precondition 3: fee-asset reserve beyond what the trade consumes.
	if snap.SolBalance-2*e.cfg.EstimatedFeeSol < e.cfg.MinSolReserve {
		log.Warn("execute skipped, insufficient fee reserve",
			slog.Float64("sol_balance", snap.SolBalance),
			slog.Float64("min_reserve", e.cfg.MinSolReserve),
		)
		return e.skip(opp, "insufficient fee reserve")
	}

	// (a) Re-fetch live, bindable quotes: buy at size, then sell sized from
	// the buy leg's actual expected output, never the scan-time price.
	buyQuote, err := e.router.Quote(ctx, e.cfg.BaseMint, token.Mint, e.toBase(amountUsd), opp.BuyVenue)
	if err != nil {
		log.Warn("execute skipped, buy quote failed", slog.String("error", err.Error()))
		return e.skip(opp, "buy quote failed")
	}
	sellQuote, err := e.router.Quote(ctx, token.Mint, e.cfg.BaseMint, buyQuote.OutAmount, opp.SellVenue)
	if err != nil {
		log.Warn("execute skipped, sell quote failed", slog.String("error", err.Error()))
		return e.skip(opp, "sell quote failed")
	}

	// (b) Re-validate profit from the two live quotes against the effective
	// threshold, which may carry the pair's raised override.
	expectedOutUsd := e.fromBase(sellQuote.OutAmount)
	liveProfitPct := (expectedOutUsd - amountUsd) / amountUsd * 100
	effectiveMin := e.risk.EffectiveThreshold(opp.PairKey())
	if liveProfitPct < effectiveMin {
		log.Info("execute skipped, live quotes below effective threshold",
			slog.Float64("live_profit_pct", liveProfitPct),
			slog.Float64("effective_min_pct", effectiveMin),
		)
		return e.skip(opp, "live profit below effective threshold")
	}

	// (c) Simulate both legs before committing capital to either; a sell leg
	// that was always going to fail must be caught before the buy.
	for _, leg := range []struct {
		name  string
		quote domain.SwapQuote
	}{{"buy", buyQuote}, {"sell", sellQuote}} {
		ok, err := e.router.Simulate(ctx, leg.quote)
		if err != nil {
			log.Warn("execute aborted, simulation errored",
				slog.String("leg", leg.name),
				slog.String("error", err.Error()),
			)
			return e.abort(opp, amountUsd, leg.name+" simulation errored")
		}
		if !ok {
			log.Warn("execute aborted, simulation failed", slog.String("leg", leg.name))
			return e.abort(opp, amountUsd, leg.name+" simulation failed")
		}
	}

	// (d) Submit the buy leg. A failure here is clean: nothing was at risk.
	buyRef, err := e.router.Swap(ctx, buyQuote)
	if err != nil {
		log.Warn("execute aborted, buy submission failed", slog.String("error", err.Error()))
		return e.abort(opp, amountUsd, "buy submission failed")
	}
	if err := e.router.WaitConfirmed(ctx, buyRef, e.cfg.ConfirmPoll, e.cfg.ConfirmTimeout); err != nil {
		log.Warn("execute aborted, buy not confirmed",
			slog.String("buy_ref", buyRef),
			slog.String("error", err.Error()),
		)
		return e.abort(opp, amountUsd, "buy not confirmed")
	}

	// Capital is committed. From here on shutdown must not cancel us: the
	// sell-retry loop runs to completion or exhausts its budget.
	ctx = context.WithoutCancel(ctx)

	log.Info("buy leg confirmed",
		slog.String("buy_ref", buyRef),
		slog.Float64("amount_usd", amountUsd),
	)

	// (e) Submit the sell leg with bounded retries and exponential backoff,
	// re-quoting each attempt from the buy leg's output.
	sellRef, finalOutUsd, sellErr := e.sellWithRetries(ctx, log, token, buyQuote.OutAmount, sellQuote)

	if sellErr != nil {
		// (f) Partial failure: capital sits in the intermediate token.
		return e.partialFailure(ctx, log, opp, token, amountUsd, buyRef, buyQuote.OutAmount, sellErr)
	}

	// (g) Sell landed: clear the pair's failure counter.
	if reverted := e.risk.RecordSellSuccess(opp.PairKey()); reverted {
		log.Info("pair threshold reverted to default", slog.String("pair", opp.PairKey()))
		e.notify(ctx, "threshold_reverted", "Threshold reverted",
			fmt.Sprintf("%s sell leg recovered; profit threshold back to default", opp.PairKey()))
	}

	// (h) Realized profit, breaker feed, persistence.
	realized := finalOutUsd - amountUsd
	res := domain.ExecutionResult{
		Opportunity:    opp,
		Status:         domain.ExecCompleted,
		BuyRef:         buyRef,
		SellRef:        sellRef,
		AmountUsd:      amountUsd,
		RealizedProfit: realized,
		ExecutedAt:     e.now().UTC(),
	}
	e.settle(ctx, log, res, realized)

	log.Info("trade completed",
		slog.String("sell_ref", sellRef),
		slog.Float64("realized_profit_usd", realized),
	)
	e.notify(ctx, "trade_executed", "Trade executed",
		fmt.Sprintf("%s: %.2f USD via %s -> %s, realized %+.2f USD",
			opp.TokenPair, amountUsd, opp.BuyVenue, opp.SellVenue, realized))
	return res
}

// sellWithRetries submits the sell leg up to the retry budget. Each attempt
// after the first re-fetches the quote, since a stale route is the usual
// failure cause. Returns the confirmed reference and the expected USD out.
func (e *Engine) sellWithRetries(
	ctx context.Context,
	log *slog.Logger,
	token domain.Token,
	tokenAmount uint64,
	quote domain.SwapQuote,
) (string, float64, error) {
	var lastErr error
	backoff := e.cfg.SellRetryBackoff

	for attempt := 1; attempt <= e.cfg.SellRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				// ctx here is already shutdown-proof; only a hard process
				// kill gets us out early.
				return "", 0, ctx.Err()
			}
			backoff *= 2

			fresh, err := e.router.Quote(ctx, token.Mint, e.cfg.BaseMint, tokenAmount, "")
			if err != nil {
				lastErr = err
				log.Warn("sell re-quote failed",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
				continue
			}
			quote = fresh
		}

		ref, err := e.router.Swap(ctx, quote)
		if err != nil {
			lastErr = err
			log.Warn("sell submission failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := e.router.WaitConfirmed(ctx, ref, e.cfg.ConfirmPoll, e.cfg.ConfirmTimeout); err != nil {
			lastErr = err
			log.Warn("sell not confirmed",
				slog.Int("attempt", attempt),
				slog.String("sell_ref", ref),
				slog.String("error", err.Error()),
			)
			continue
		}
		return ref, e.fromBase(quote.OutAmount), nil
	}

	if lastErr == nil {
		lastErr = errors.New("sell retries exhausted")
	}
	return "", 0, fmt.Errorf("sell leg failed after %d attempts: %w", e.cfg.SellRetries, lastErr)
}

// partialFailure records the one fatal-to-automate outcome: buy landed, sell
// never did. It surfaces an immediate alert, raises the pair's risk counter,
// books the stranded token for the sweeper, and reduces the base balance by
// the committed amount. No automatic recovery happens here; the sweep or an
// operator resolves the exposure.
func (e *Engine) partialFailure(
	ctx context.Context,
	log *slog.Logger,
	opp domain.Opportunity,
	token domain.Token,
	amountUsd float64,
	buyRef string,
	tokenAmount uint64,
	sellErr error,
) domain.ExecutionResult {
	failures := e.risk.RecordSellFailure(opp.PairKey())
	log.Error("partial failure: buy committed, sell leg exhausted retries",
		slog.String("buy_ref", buyRef),
		slog.Float64("amount_usd", amountUsd),
		slog.Int("consecutive_failures", failures),
		slog.String("error", sellErr.Error()),
	)

	e.notify(ctx, "partial_failure", "PARTIAL FAILURE",
		fmt.Sprintf("%s: buy %s committed %.2f USD but sell failed (%v); exposure in %s",
			opp.TokenPair, buyRef, amountUsd, sellErr, token.Symbol))

	if e.resids != nil {
		if err := e.resids.AddResidual(ctx, domain.Residual{
			Mint:       token.Mint,
			Symbol:     token.Symbol,
			Decimals:   token.Decimals,
			Amount:     tokenAmount,
			RecordedAt: e.now().UTC(),
		}); err != nil {
			log.Warn("residual record failed", slog.String("error", err.Error()))
		}
	}

	res := domain.ExecutionResult{
		Opportunity: opp,
		Status:      domain.ExecPartialFailure,
		Reason:      sellErr.Error(),
		BuyRef:      buyRef,
		AmountUsd:   amountUsd,
		ExecutedAt:  e.now().UTC(),
	}
	// The base balance did shrink by the committed amount; the stranded
	// token value is tracked separately as a residual.
	e.settle(ctx, log, res, -amountUsd)
	return res
}

// settle applies the read-before-write snapshot update and persists the
// trade. delta is the change to the base balance; only completed trades feed
// their realized loss into the circuit breaker.
func (e *Engine) settle(ctx context.Context, log *slog.Logger, res domain.ExecutionResult, delta float64) {
	snap, err := e.ledger.CurrentSnapshot(ctx)
	if err != nil {
		log.Error("settle: balance snapshot read failed", slog.String("error", err.Error()))
	} else {
		snap.Balance += delta
		snap.TotalTrades++
		if res.Status == domain.ExecCompleted {
			snap.SolBalance -= 2 * e.cfg.EstimatedFeeSol
			snap.TotalProfit += res.RealizedProfit
			if res.RealizedProfit > 0 {
				snap.WinningTrades++
			}
		} else {
			snap.SolBalance -= e.cfg.EstimatedFeeSol
		}
		snap.UpdatedAt = e.now().UTC()
		if err := e.ledger.UpdateSnapshot(ctx, snap); err != nil {
			log.Error("settle: snapshot write failed", slog.String("error", err.Error()))
		}
	}

	if res.Status == domain.ExecCompleted && res.RealizedProfit < 0 {
		if latched := e.risk.RecordLoss(-res.RealizedProfit, e.now().UTC()); latched {
			log.Error("daily loss limit reached, circuit breaker latched",
				slog.Float64("daily_loss", e.risk.DailyLoss()),
			)
			e.notify(ctx, "circuit_breaker", "Circuit breaker latched",
				fmt.Sprintf("daily loss %.2f USD reached the limit; trading halted until next UTC day",
					e.risk.DailyLoss()))
		}
	}

	if err := e.ledger.RecordTrade(ctx, res); err != nil {
		log.Error("settle: trade record failed", slog.String("error", err.Error()))
	}
}

// skip returns a Skipped result; precondition failures have no side effects
// and need no alert.
func (e *Engine) skip(opp domain.Opportunity, reason string) domain.ExecutionResult {
	return domain.ExecutionResult{
		Opportunity: opp,
		Status:      domain.ExecSkipped,
		Reason:      reason,
		ExecutedAt:  e.now().UTC(),
	}
}

// abort returns an Aborted result for failures before capital commitment.
func (e *Engine) abort(opp domain.Opportunity, amountUsd float64, reason string) domain.ExecutionResult {
	return domain.ExecutionResult{
		Opportunity: opp,
		Status:      domain.ExecAborted,
		Reason:      reason,
		AmountUsd:   amountUsd,
		ExecutedAt:  e.now().UTC(),
	}
}

// notify dispatches a fire-and-forget alert; delivery failures only get a
// local log line and never block execution.
func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) toBase(usd float64) uint64 {
	return uint64(math.Round(usd * math.Pow10(e.cfg.BaseDecimals)))
}

func (e *Engine) fromBase(amount uint64) float64 {
	return float64(amount) / math.Pow10(e.cfg.BaseDecimals)
}
