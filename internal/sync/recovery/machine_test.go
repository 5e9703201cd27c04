package recovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskhive/syncd/internal/sync/health"
	"github.com/taskhive/syncd/internal/sync/timeout"
)

type fakeProber struct {
	result  atomic.Value // health.Result
	calls   atomic.Int32
	latency time.Duration
}

func newFakeProber(r health.Result) *fakeProber {
	p := &fakeProber{}
	p.result.Store(r)
	return p
}

func (p *fakeProber) Probe(ctx context.Context) health.Result {
	p.calls.Add(1)
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return health.ResultUnreachable
		}
	}
	return p.result.Load().(health.Result)
}

type fakeDrainer struct {
	calls atomic.Int32
}

func (d *fakeDrainer) Process(ctx context.Context) error {
	d.calls.Add(1)
	return nil
}

func testConfig() Config {
	return Config{
		MinBackground:      50 * time.Millisecond,
		ForegroundDebounce: 10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInitialStateIsHealthy(t *testing.T) {
	m := NewMachine(testConfig(), newFakeProber(health.ResultAuthenticated), &fakeDrainer{}, nil)
	snap := m.Snapshot()
	if snap.Status != StatusHealthy {
		t.Errorf("initial status = %v, want healthy", snap.Status)
	}
	if snap.IsRefreshing {
		t.Error("initial IsRefreshing = true")
	}
}

func TestBackgroundingDegradesThenRecovers(t *testing.T) {
	prober := newFakeProber(health.ResultAuthenticated)
	drainer := &fakeDrainer{}
	m := NewMachine(testConfig(), prober, drainer, nil)
	m.Start(context.Background())
	defer m.Stop()

	var transitions []Transition
	done := make(chan struct{})
	go func() {
		for tr := range m.Events() {
			transitions = append(transitions, tr)
			if tr.To == StatusHealthy {
				close(done)
				return
			}
		}
	}()

	// Hidden for 60ms against a 50ms minimum, then foreground return.
	m.ReportHidden()
	time.Sleep(60 * time.Millisecond)
	m.ReportVisible()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("machine never returned to healthy")
	}

	want := []Transition{
		{From: StatusHealthy, To: StatusDegraded},
		{From: StatusDegraded, To: StatusRecovering},
		{From: StatusRecovering, To: StatusHealthy},
	}
	if len(transitions) != len(want) {
		t.Fatalf("saw %d transitions %v, want 3", len(transitions), transitions)
	}
	for i, tr := range transitions {
		if tr.From != want[i].From || tr.To != want[i].To {
			t.Errorf("transition %d = %v→%v, want %v→%v", i, tr.From, tr.To, want[i].From, want[i].To)
		}
	}

	waitFor(t, func() bool { return drainer.calls.Load() == 1 },
		"probe success must trigger exactly one drain")
	time.Sleep(30 * time.Millisecond)
	if got := drainer.calls.Load(); got != 1 {
		t.Errorf("drain called %d times, want exactly 1", got)
	}

	snap := m.Snapshot()
	if snap.AuthConfidence != AuthHigh {
		t.Errorf("AuthConfidence = %v, want high after authenticated probe", snap.AuthConfidence)
	}
	if snap.LastRefreshAt.IsZero() {
		t.Error("LastRefreshAt not updated")
	}
}

func TestShortBackgroundingStaysHealthy(t *testing.T) {
	prober := newFakeProber(health.ResultAuthenticated)
	m := NewMachine(testConfig(), prober, &fakeDrainer{}, nil)
	m.Start(context.Background())
	defer m.Stop()

	m.ReportHidden()
	time.Sleep(10 * time.Millisecond) // below the 50ms minimum
	m.ReportVisible()
	time.Sleep(50 * time.Millisecond)

	if snap := m.Snapshot(); snap.Status != StatusHealthy {
		t.Errorf("status = %v, want healthy after a brief blip", snap.Status)
	}
	if prober.calls.Load() != 0 {
		t.Error("no probe should run while healthy")
	}
}

func TestProbeFailureReturnsToDegraded(t *testing.T) {
	prober := newFakeProber(health.ResultUnreachable)
	drainer := &fakeDrainer{}
	m := NewMachine(testConfig(), prober, drainer, nil)
	m.Start(context.Background())
	defer m.Stop()

	m.ReportBackgrounded(100 * time.Millisecond)

	waitFor(t, func() bool { return m.Snapshot().Status == StatusDegraded && prober.calls.Load() > 0 },
		"machine should fall back to degraded after a failed probe")

	snap := m.Snapshot()
	if snap.AuthConfidence != AuthUnknown {
		t.Errorf("AuthConfidence = %v, want unknown after failed probe", snap.AuthConfidence)
	}
	if drainer.calls.Load() != 0 {
		t.Error("failed probe must not trigger a drain")
	}
	// No tight loop: exactly one probe until the next foreground signal.
	time.Sleep(50 * time.Millisecond)
	if got := prober.calls.Load(); got != 1 {
		t.Errorf("probe called %d times, want 1", got)
	}
}

func TestUnauthenticatedProbeGivesLowConfidence(t *testing.T) {
	prober := newFakeProber(health.ResultUnauthenticated)
	m := NewMachine(testConfig(), prober, &fakeDrainer{}, nil)
	m.Start(context.Background())
	defer m.Stop()

	m.ReportBackgrounded(100 * time.Millisecond)

	waitFor(t, func() bool { return m.Snapshot().Status == StatusHealthy },
		"reachable-but-unauthenticated still counts as probe success")
	if snap := m.Snapshot(); snap.AuthConfidence != AuthLow {
		t.Errorf("AuthConfidence = %v, want low", snap.AuthConfidence)
	}
}

func TestTimeoutErrorDegrades(t *testing.T) {
	m := NewMachine(testConfig(), newFakeProber(health.ResultAuthenticated), &fakeDrainer{}, nil)

	m.ReportTimeout(&timeout.Error{Deadline: 3 * time.Second})
	if snap := m.Snapshot(); snap.Status != StatusDegraded {
		t.Errorf("status = %v, want degraded after timeout", snap.Status)
	}

	// Non-timeout errors are the caller's business.
	m2 := NewMachine(testConfig(), newFakeProber(health.ResultAuthenticated), &fakeDrainer{}, nil)
	m2.ReportTimeout(context.Canceled)
	if snap := m2.Snapshot(); snap.Status != StatusHealthy {
		t.Errorf("status = %v, want healthy for non-timeout error", snap.Status)
	}
}

func TestRequestRefreshIsIdempotent(t *testing.T) {
	prober := newFakeProber(health.ResultAuthenticated)
	prober.latency = 50 * time.Millisecond
	m := NewMachine(testConfig(), prober, &fakeDrainer{}, nil)
	m.Start(context.Background())
	defer m.Stop()

	m.RequestRefresh()
	m.RequestRefresh()
	m.RequestRefresh()

	waitFor(t, func() bool { return !m.Snapshot().IsRefreshing && prober.calls.Load() > 0 },
		"refresh never completed")
	if got := prober.calls.Load(); got != 1 {
		t.Errorf("probe called %d times for overlapping refreshes, want 1", got)
	}
}

func TestForegroundFlickerCoalesced(t *testing.T) {
	prober := newFakeProber(health.ResultAuthenticated)
	cfg := Config{MinBackground: 10 * time.Millisecond, ForegroundDebounce: 40 * time.Millisecond}
	m := NewMachine(cfg, prober, &fakeDrainer{}, nil)
	m.Start(context.Background())
	defer m.Stop()

	// Rapid hide/show flicker: each visible signal restarts the debounce.
	for i := 0; i < 5; i++ {
		m.ReportBackgrounded(20 * time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, func() bool { return m.Snapshot().Status == StatusHealthy },
		"machine never recovered after flicker settled")
	if got := prober.calls.Load(); got != 1 {
		t.Errorf("probe called %d times, want 1 after debounce", got)
	}
}
