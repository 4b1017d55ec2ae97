package executor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/kmelnick/dexarb/internal/domain"
)

// SweepConfig holds the auto-sweep floors and cadence.
type SweepConfig struct {
	Interval time.Duration
	// DustFloorUsd: residuals below this are never worth a transaction fee.
	DustFloorUsd float64
	// CleanupFloorUsd: residuals must be worth at least this much before a
	// sweep spends fees liquidating them.
	CleanupFloorUsd float64

	BaseMint       string
	BaseDecimals   int
	ConfirmPoll    time.Duration
	ConfirmTimeout time.Duration
}

// Sweeper periodically converts residual token balances left behind by
// partial failures back into the base asset. It runs on the same safety
// machinery as the engine: simulation before submission and the shared
// circuit breaker.
type Sweeper struct {
	router SwapRouter
	resids domain.ResidualStore
	ledger domain.Ledger
	risk   *RiskState
	cfg    SweepConfig
	logger *slog.Logger

	now func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	router SwapRouter,
	resids domain.ResidualStore,
	ledger domain.Ledger,
	risk *RiskState,
	cfg SweepConfig,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		router: router,
		resids: resids,
		ledger: ledger,
		risk:   risk,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sweeper")),
		now:    time.Now,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("sweeper stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce inspects every residual balance and liquidates the ones worth
// cleaning up. Failures are absorbed per residual; a bad route on one token
// never stops the sweep of the others.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	if s.risk.Halted(s.now().UTC()) {
		s.logger.Debug("sweep skipped, circuit breaker halted")
		return
	}

	residuals, err := s.resids.Residuals(ctx)
	if err != nil {
		s.logger.Warn("residual listing failed", slog.String("error", err.Error()))
		return
	}

	for _, r := range residuals {
		s.sweepResidual(ctx, r)
	}
}

func (s *Sweeper) sweepResidual(ctx context.Context, r domain.Residual) {
	log := s.logger.With(slog.String("token", r.Symbol))

	quote, err := s.router.Quote(ctx, r.Mint, s.cfg.BaseMint, r.Amount, "")
	if err != nil {
		log.Debug("sweep quote failed", slog.String("error", err.Error()))
		return
	}
	valueUsd := float64(quote.OutAmount) / math.Pow10(s.cfg.BaseDecimals)

	if valueUsd < s.cfg.DustFloorUsd {
		// Pure dust is dropped from tracking; it will never clear the fee.
		log.Debug("dropping dust residual", slog.Float64("value_usd", valueUsd))
		if err := s.resids.RemoveResidual(ctx, r.Mint); err != nil {
			log.Warn("residual remove failed", slog.String("error", err.Error()))
		}
		return
	}
	if valueUsd < s.cfg.CleanupFloorUsd {
		log.Debug("residual below cleanup floor, leaving for later",
			slog.Float64("value_usd", valueUsd),
		)
		return
	}

	ok, err := s.router.Simulate(ctx, quote)
	if err != nil || !ok {
		log.Warn("sweep simulation failed", slog.Any("error", err))
		return
	}

	ref, err := s.router.Swap(ctx, quote)
	if err != nil {
		log.Warn("sweep submission failed", slog.String("error", err.Error()))
		return
	}
	if err := s.router.WaitConfirmed(ctx, ref, s.cfg.ConfirmPoll, s.cfg.ConfirmTimeout); err != nil {
		log.Warn("sweep not confirmed",
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.resids.RemoveResidual(ctx, r.Mint); err != nil {
		log.Warn("residual remove failed", slog.String("error", err.Error()))
	}

	// Read-before-write, same as the engine's settle path.
	snap, err := s.ledger.CurrentSnapshot(ctx)
	if err != nil {
		log.Error("sweep: balance snapshot read failed", slog.String("error", err.Error()))
		return
	}
	snap.Balance += valueUsd
	snap.UpdatedAt = s.now().UTC()
	if err := s.ledger.UpdateSnapshot(ctx, snap); err != nil {
		log.Error("sweep: snapshot write failed", slog.String("error", err.Error()))
		return
	}

	log.Info("residual swept back to base",
		slog.String("ref", ref),
		slog.Float64("value_usd", valueUsd),
	)
}
