// Package scheduler serializes the scan-and-trade pipeline. Two producers can
// trigger a scan: a live venue-activity signal and a fixed-interval fallback
// timer. The scheduler coalesces signal bursts through a short debounce,
// enforces a minimum inter-scan cooldown, and guarantees that at most one
// scan runs at a time; triggers arriving while a scan is in flight are
// dropped outright rather than queued, since two concurrent passes could see
// and double-execute the same opportunity.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// ScanFunc is the pipeline invoked for each accepted trigger. It runs to
// completion even when the scheduler is shutting down.
type ScanFunc func(ctx context.Context)

// Config holds the scheduler timing parameters.
type Config struct {
	// Debounce is how long to wait after a push signal before scanning,
	// restarting on every further signal so a burst collapses into one scan.
	Debounce time.Duration
	// MinScanInterval is the cooldown measured from the end of the previous
	// scan; debounced triggers inside the cooldown are dropped.
	MinScanInterval time.Duration
	// FallbackInterval is the dead-man's switch: a scan fires unconditionally
	// after this much time without one.
	FallbackInterval time.Duration
}

// state is the scheduler's position in the Idle/Debouncing/Scanning machine.
type state int

const (
	stateIdle state = iota
	stateDebouncing
	stateScanning
)

// Scheduler owns the scan gate: last scan time, in-progress flag, and the
// pending debounce timer.
type Scheduler struct {
	cfg    Config
	scan   ScanFunc
	clock  Clock
	logger *slog.Logger

	state      state
	lastScanAt time.Time
}

// New creates a Scheduler. clock may be nil to use the real clock.
func New(cfg Config, scan ScanFunc, clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		cfg:    cfg,
		scan:   scan,
		clock:  clock,
		logger: logger.With(slog.String("component", "scan_scheduler")),
	}
}

// Run processes triggers until ctx is cancelled. On shutdown the debounce and
// fallback timers are cancelled, but an in-flight scan is allowed to run to
// completion before Run returns; aborting mid-trade would leave trade state
// ambiguous.
func (s *Scheduler) Run(ctx context.Context, triggers <-chan struct{}) error {
	fallback := s.clock.NewTimer(s.cfg.FallbackInterval)
	defer fallback.Stop()

	// The debounce timer is created stopped and armed on the first signal.
	debounce := s.clock.NewTimer(s.cfg.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	scanDone := make(chan struct{}, 1)

	s.logger.Info("scan scheduler started",
		slog.Duration("debounce", s.cfg.Debounce),
		slog.Duration("min_scan_interval", s.cfg.MinScanInterval),
		slog.Duration("fallback_interval", s.cfg.FallbackInterval),
	)
	defer s.logger.Info("scan scheduler stopped")

	for {
		select {
		case <-ctx.Done():
			if s.state == stateScanning {
				s.logger.Info("waiting for in-flight scan to finish")
				<-scanDone
			}
			return ctx.Err()

		case _, ok := <-triggers:
			if !ok {
				if s.state == stateScanning {
					<-scanDone
				}
				return nil
			}
			switch s.state {
			case stateScanning:
				// No queuing: a signal during a scan is dropped entirely.
				s.logger.Debug("push signal dropped, scan in progress")
			case stateDebouncing:
				debounce.Reset(s.cfg.Debounce)
			case stateIdle:
				s.state = stateDebouncing
				debounce.Reset(s.cfg.Debounce)
			}

		case <-debounce.C():
			if s.state != stateDebouncing {
				continue
			}
			s.state = stateIdle
			if elapsed := s.clock.Now().Sub(s.lastScanAt); elapsed < s.cfg.MinScanInterval {
				// Inside the cooldown the trigger is dropped; the fallback
				// timer remains the safety net.
				s.logger.Debug("debounced trigger dropped, cooldown active",
					slog.Duration("since_last_scan", elapsed),
				)
				continue
			}
			s.startScan(ctx, fallback, scanDone)

		case <-fallback.C():
			if s.state != stateIdle {
				// Dead-man's switch only fires a scan from Idle; re-arm and
				// let the current activity run its course.
				fallback.Reset(s.cfg.FallbackInterval)
				continue
			}
			s.logger.Debug("fallback timer fired")
			s.startScan(ctx, fallback, scanDone)

		case <-scanDone:
			s.state = stateIdle
			s.lastScanAt = s.clock.Now()
		}
	}
}

// startScan transitions to Scanning and launches the pipeline. Starting a
// scan always re-arms the fallback timer.
func (s *Scheduler) startScan(ctx context.Context, fallback Timer, done chan<- struct{}) {
	s.state = stateScanning
	fallback.Reset(s.cfg.FallbackInterval)

	go func() {
		defer func() { done <- struct{}{} }()
		s.scan(ctx)
	}()
}
