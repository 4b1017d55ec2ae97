package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	ch chan time.Time
}

func (t *fakeTimer) C() <-chan time.Time      { return t.ch }
func (t *fakeTimer) Stop() bool               { return false }
func (t *fakeTimer) Reset(time.Duration) bool { return false }

// Fire delivers one tick as if the timer expired.
func (t *fakeTimer) Fire() { t.ch <- time.Time{} }

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTimer(time.Duration) Timer {
	t := &fakeTimer{ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// timer returns the i-th created timer; Run creates the fallback timer first
// and the debounce timer second.
func (c *fakeClock) timer(t *testing.T, i int) *fakeTimer {
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.timers) > i
	}, time.Second, time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func testSchedulerConfig() Config {
	return Config{
		Debounce:         150 * time.Millisecond,
		MinScanInterval:  8 * time.Second,
		FallbackInterval: 30 * time.Second,
	}
}

type schedulerHarness struct {
	clock    *fakeClock
	triggers chan struct{}
	scans    atomic.Int64
	started  chan struct{}
	release  chan struct{}
	blocking bool

	cancel       context.CancelFunc
	done         chan error
	consumedDone atomic.Bool
}

func startScheduler(t *testing.T, blocking bool) *schedulerHarness {
	t.Helper()
	h := &schedulerHarness{
		clock:    newFakeClock(),
		triggers: make(chan struct{}),
		started:  make(chan struct{}, 16),
		release:  make(chan struct{}),
		blocking: blocking,
		done:     make(chan error, 1),
	}

	scan := func(ctx context.Context) {
		h.scans.Add(1)
		h.started <- struct{}{}
		if h.blocking {
			<-h.release
		}
	}

	s := New(testSchedulerConfig(), scan, h.clock, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- s.Run(ctx, h.triggers) }()
	t.Cleanup(func() {
		cancel()
		if h.blocking {
			select {
			case <-h.release:
			default:
				close(h.release)
			}
		}
		if !h.consumedDone.Load() {
			select {
			case <-h.done:
			case <-time.After(time.Second):
				t.Error("scheduler did not stop")
			}
		}
	})
	return h
}

func (h *schedulerHarness) fallback(t *testing.T) *fakeTimer { return h.clock.timer(t, 0) }
func (h *schedulerHarness) debounce(t *testing.T) *fakeTimer { return h.clock.timer(t, 1) }

func (h *schedulerHarness) waitScan(t *testing.T) {
	t.Helper()
	select {
	case <-h.started:
	case <-time.After(time.Second):
		t.Fatal("scan did not start")
	}
}

func TestSchedulerBurstCoalescesIntoOneScan(t *testing.T) {
	h := startScheduler(t, false)

	// A burst of push signals arms and re-arms the debounce; only the single
	// timer expiry starts a scan.
	for i := 0; i < 5; i++ {
		h.triggers <- struct{}{}
	}
	h.debounce(t).Fire()
	h.waitScan(t)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), h.scans.Load())
}

func TestSchedulerCooldownDropsTrigger(t *testing.T) {
	h := startScheduler(t, false)

	h.triggers <- struct{}{}
	h.debounce(t).Fire()
	h.waitScan(t)

	// Let the scheduler record the scan end before the next trigger.
	time.Sleep(20 * time.Millisecond)

	// Inside the cooldown the debounced trigger is dropped.
	h.triggers <- struct{}{}
	h.debounce(t).Fire()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), h.scans.Load())

	// Past the cooldown it goes through.
	h.clock.Advance(9 * time.Second)
	h.triggers <- struct{}{}
	h.debounce(t).Fire()
	h.waitScan(t)
	assert.Equal(t, int64(2), h.scans.Load())
}

func TestSchedulerNoConcurrentScans(t *testing.T) {
	h := startScheduler(t, true)

	h.triggers <- struct{}{}
	h.debounce(t).Fire()
	h.waitScan(t)

	// While the scan is in flight, signals are dropped and the fallback
	// refuses to start a second scan.
	h.triggers <- struct{}{}
	h.triggers <- struct{}{}
	h.fallback(t).Fire()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), h.scans.Load())

	close(h.release)
}

func TestSchedulerFallbackScansFromIdle(t *testing.T) {
	h := startScheduler(t, false)

	h.fallback(t).Fire()
	h.waitScan(t)
	assert.Equal(t, int64(1), h.scans.Load())
}

func TestSchedulerWaitsForInFlightScanOnShutdown(t *testing.T) {
	h := startScheduler(t, true)

	h.triggers <- struct{}{}
	h.debounce(t).Fire()
	h.waitScan(t)

	h.cancel()
	select {
	case <-h.done:
		t.Fatal("scheduler returned while a scan was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.release)
	select {
	case err := <-h.done:
		h.consumedDone.Store(true)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after scan finished")
	}
}
