package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/taskhive/syncd/internal/sync/health"
)

func newSuspendWatcher(m *Machine, interval time.Duration) *SuspendWatcher {
	w := NewSuspendWatcher(m, interval, nil)
	w.last = time.Now()
	return w
}

func TestSuspendWatcherIgnoresOrdinaryTicks(t *testing.T) {
	m := NewMachine(testConfig(), newFakeProber(health.ResultAuthenticated), &fakeDrainer{}, nil)
	w := newSuspendWatcher(m, 20*time.Millisecond)

	// A tick arriving within scheduling slack of the interval is normal
	// jitter, not a suspension.
	w.last = time.Now().Add(-22 * time.Millisecond)
	w.observe(time.Now())

	if got := m.Snapshot().Status; got != StatusHealthy {
		t.Errorf("status after ordinary tick = %v, want healthy", got)
	}
}

func TestSuspendWatcherShortGapStaysHealthy(t *testing.T) {
	// testConfig requires 50ms of absence before degrading. A gap above the
	// watcher's slack but below that minimum must not change status.
	m := NewMachine(testConfig(), newFakeProber(health.ResultAuthenticated), &fakeDrainer{}, nil)
	w := newSuspendWatcher(m, 20*time.Millisecond)

	w.last = time.Now().Add(-60 * time.Millisecond) // gap of 40ms
	w.observe(time.Now())

	if got := m.Snapshot().Status; got != StatusHealthy {
		t.Errorf("status after sub-threshold gap = %v, want healthy", got)
	}
}

func TestSuspendWatcherLongGapDegrades(t *testing.T) {
	prober := newFakeProber(health.ResultUnreachable)
	m := NewMachine(testConfig(), prober, &fakeDrainer{}, nil)
	w := newSuspendWatcher(m, 20*time.Millisecond)

	// A multi-interval wall jump means the process was not scheduled:
	// 220ms since the previous tick leaves a 200ms gap, past the 50ms
	// minimum absence.
	w.last = time.Now().Add(-220 * time.Millisecond)
	w.observe(time.Now())

	if got := m.Snapshot().Status; got != StatusDegraded {
		t.Errorf("status after suspension gap = %v, want degraded", got)
	}
}

func TestSuspendWatcherRunStopsOnCancel(t *testing.T) {
	m := NewMachine(testConfig(), newFakeProber(health.ResultAuthenticated), &fakeDrainer{}, nil)
	w := NewSuspendWatcher(m, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Let a few ticks pass under normal scheduling.
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if got := m.Snapshot().Status; got != StatusHealthy {
		t.Errorf("status after uneventful run = %v, want healthy", got)
	}
}
