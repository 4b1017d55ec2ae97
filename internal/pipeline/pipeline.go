// Package pipeline ties price aggregation, opportunity scanning, and trade
// execution into the single pass the scheduler invokes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kmelnick/dexarb/internal/domain"
	"github.com/kmelnick/dexarb/internal/scanner"
)

// PriceSource returns current cross-venue points for a token.
type PriceSource interface {
	GetPrices(ctx context.Context, token domain.Token) []domain.PricePoint
}

// Executor runs one detected opportunity to completion.
type Executor interface {
	Execute(ctx context.Context, opp domain.Opportunity) domain.ExecutionResult
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds pipeline parameters.
type Config struct {
	Tokens []domain.Token
	// MaxTradesPerScan caps executions per pass; remaining opportunities are
	// recorded but not taken.
	MaxTradesPerScan int
	// MonitorOnly records opportunities without executing.
	MonitorOnly bool
}

// Pipeline runs one full detection pass per invocation. Execution is
// sequential so capital and risk state never race between trades.
type Pipeline struct {
	prices   PriceSource
	scanner  *scanner.Scanner
	executor Executor
	ledger   domain.Ledger
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

// New creates a Pipeline.
func New(
	prices PriceSource,
	sc *scanner.Scanner,
	executor Executor,
	ledger domain.Ledger,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		prices:   prices,
		scanner:  sc,
		executor: executor,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "pipeline")),
		now:      time.Now,
	}
}

// Scan runs one pass over the whole token basket.
func (p *Pipeline) Scan(ctx context.Context) {
	started := p.now()
	var detected, executed int

	for _, token := range p.cfg.Tokens {
		if ctx.Err() != nil {
			return
		}
		d, e := p.scanToken(ctx, token)
		detected += d
		executed += e
	}

	p.logger.Info("scan pass complete",
		slog.Int("tokens", len(p.cfg.Tokens)),
		slog.Int("detected", detected),
		slog.Int("executed", executed),
		slog.Duration("elapsed", p.now().Sub(started)),
	)
}

func (p *Pipeline) scanToken(ctx context.Context, token domain.Token) (detected, executed int) {
	log := p.logger.With(slog.String("token", token.Symbol))

	points := p.prices.GetPrices(ctx, token)
	if len(points) == 0 {
		log.Debug("no price points")
		return 0, 0
	}

	opps, best := p.scanner.FindOpportunities(token, points, p.now().UTC())

	if best.Class == scanner.SpreadNearMiss {
		p.alertNearMiss(ctx, token, best)
	}

	budget := p.cfg.MaxTradesPerScan
	for _, opp := range opps {
		taken := false
		if !p.cfg.MonitorOnly && budget > 0 {
			res := p.executor.Execute(ctx, opp)
			// A skipped opportunity never consumed capital or budget.
			if res.Status != domain.ExecSkipped {
				budget--
				executed++
				taken = true
			}
			log.Info("opportunity handled",
				slog.String("pair", opp.PairKey()),
				slog.String("status", string(res.Status)),
				slog.Float64("profit_percent", opp.ProfitPercent),
			)
		}
		if err := p.ledger.RecordOpportunity(ctx, opp, taken); err != nil {
			log.Warn("opportunity record failed", slog.String("error", err.Error()))
		}
	}

	return len(opps), executed
}

func (p *Pipeline) alertNearMiss(ctx context.Context, token domain.Token, best scanner.BestSpread) {
	msg := fmt.Sprintf(
		"%s: %s -> %s at %.2f%% adjusted (%.2f%% raw), below threshold",
		best.TokenPair, best.BuyVenue, best.SellVenue,
		best.AdjustedPercent, best.RawPercent,
	)
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, "near_miss", "Near miss", msg); err != nil {
		p.logger.Debug("near-miss alert failed",
			slog.String("token", token.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
