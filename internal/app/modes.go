package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kmelnick/dexarb/internal/feed"
	"github.com/kmelnick/dexarb/internal/pipeline"
	"github.com/kmelnick/dexarb/internal/scheduler"
)

// TradeMode runs the full detect-and-execute loop: venue activity feed,
// signal-driven scan scheduler, execution engine, residual sweeper, and the
// daily archive when configured.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	pipe := pipeline.New(
		deps.Aggregator, deps.Scanner, deps.Engine, deps.Ledger, deps.Notifier,
		pipeline.Config{
			Tokens:           deps.Tokens,
			MaxTradesPerScan: a.cfg.Scan.MaxTradesPerScan,
		},
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startScanning(ctx, g, deps, pipe)

	if deps.Sweeper != nil {
		g.Go(func() error { return deps.Sweeper.Run(ctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	a.logger.Info("trade mode running",
		slog.Int("tokens", len(deps.Tokens)),
		slog.Int("max_trades_per_scan", a.cfg.Scan.MaxTradesPerScan),
	)
	return g.Wait()
}

// MonitorMode runs detection only: opportunities and near misses are
// recorded and alerted, never executed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	pipe := pipeline.New(
		deps.Aggregator, deps.Scanner, nil, deps.Ledger, deps.Notifier,
		pipeline.Config{
			Tokens:      deps.Tokens,
			MonitorOnly: true,
		},
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startScanning(ctx, g, deps, pipe)

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	a.logger.Info("monitor mode running", slog.Int("tokens", len(deps.Tokens)))
	return g.Wait()
}

// startScanning launches the scheduler, plus the activity feed and the
// bridge that turns bus signals into scheduler triggers when a signal bus
// was wired.
func (a *App) startScanning(ctx context.Context, g *errgroup.Group, deps *Dependencies, pipe *pipeline.Pipeline) {
	sched := scheduler.New(scheduler.Config{
		Debounce:         a.cfg.Scan.Debounce.Duration,
		MinScanInterval:  a.cfg.Scan.MinScanInterval.Duration,
		FallbackInterval: a.cfg.Scan.FallbackInterval.Duration,
	}, pipe.Scan, scheduler.RealClock{}, a.logger)

	triggers := make(chan struct{}, 1)

	if deps.Feed != nil {
		g.Go(func() error { return deps.Feed.Run(ctx) })
		g.Go(func() error { return a.bridgeSignals(ctx, deps, triggers) })
	}
	g.Go(func() error { return sched.Run(ctx, triggers) })
}

// bridgeSignals forwards venue signals from the bus into the scheduler's
// trigger channel. The channel holds one pending trigger; further signals
// while one is pending are redundant and dropped.
func (a *App) bridgeSignals(ctx context.Context, deps *Dependencies, triggers chan<- struct{}) error {
	signals, err := deps.SignalBus.Subscribe(ctx, feed.SignalChannel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-signals:
			if !ok {
				return ctx.Err()
			}
			select {
			case triggers <- struct{}{}:
			default:
			}
		}
	}
}
