package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhive/syncd/internal/sync/health"
	"github.com/taskhive/syncd/internal/sync/metrics"
	"github.com/taskhive/syncd/internal/sync/timeout"
)

// Drainer replays deferred mutations; the mutation queue satisfies this.
type Drainer interface {
	Process(ctx context.Context) error
}

// Config tunes the machine's thresholds.
type Config struct {
	// MinBackground is the backgrounding duration at or above which the
	// environment is considered stale.
	MinBackground time.Duration

	// ForegroundDebounce coalesces rapid visibility flicker before a
	// recovery probe starts.
	ForegroundDebounce time.Duration
}

// DefaultConfig returns the thresholds the hosted client ships with.
func DefaultConfig() Config {
	return Config{
		MinBackground:      500 * time.Millisecond,
		ForegroundDebounce: 250 * time.Millisecond,
	}
}

// Machine is the single owner of the recovery status. All mutation goes
// through its transition method; reads are snapshots.
type Machine struct {
	mu             sync.Mutex
	status         Status
	isRefreshing   bool
	lastRefreshAt  time.Time
	authConfidence AuthConfidence
	hiddenAt       time.Time
	debounce       *time.Timer

	cfg     Config
	prober  health.Prober
	drainer Drainer
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events chan Transition
}

// NewMachine creates a machine in the healthy state.
func NewMachine(cfg Config, prober health.Prober, drainer Drainer, log *slog.Logger) *Machine {
	if cfg.MinBackground <= 0 {
		cfg.MinBackground = DefaultConfig().MinBackground
	}
	if cfg.ForegroundDebounce < 0 {
		cfg.ForegroundDebounce = DefaultConfig().ForegroundDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		status:         StatusHealthy,
		authConfidence: AuthHigh,
		cfg:            cfg,
		prober:         prober,
		drainer:        drainer,
		log:            log,
		events:         make(chan Transition, 16),
	}
}

// Start binds the machine to a lifecycle context for its internal probes.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// Stop cancels outstanding probes and pending debounce timers.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a consistent view of the machine's state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:         m.status,
		IsRefreshing:   m.isRefreshing,
		LastRefreshAt:  m.lastRefreshAt,
		AuthConfidence: m.authConfidence,
	}
}

// Events delivers status transitions to interested observers. Slow readers
// miss events rather than blocking the machine.
func (m *Machine) Events() <-chan Transition {
	return m.events
}

// ReportHidden records that the host lost visibility (tab backgrounded,
// window blurred, process suspended).
func (m *Machine) ReportHidden() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hiddenAt.IsZero() {
		m.hiddenAt = time.Now()
	}
}

// ReportVisible records a foreground return and reacts to however long the
// host was away.
func (m *Machine) ReportVisible() {
	m.mu.Lock()
	var away time.Duration
	if !m.hiddenAt.IsZero() {
		away = time.Since(m.hiddenAt)
		m.hiddenAt = time.Time{}
	}
	m.mu.Unlock()

	m.ReportBackgrounded(away)
}

// ReportBackgrounded handles a host report of "I was gone for d and I'm
// back". Sufficient absence degrades first; a degraded machine then
// schedules a debounced recovery probe.
func (m *Machine) ReportBackgrounded(d time.Duration) {
	m.mu.Lock()
	if m.status == StatusHealthy && d >= m.cfg.MinBackground {
		m.transitionLocked(StatusDegraded)
	}
	if m.status != StatusDegraded {
		m.mu.Unlock()
		return
	}

	// Debounce: rapid visibility flicker restarts the timer so only the
	// last foreground return fires a probe.
	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(m.cfg.ForegroundDebounce, m.beginRecovery)
	m.mu.Unlock()
}

// ReportTimeout lets bounded calls feed deadline failures back into the
// machine. Only genuine timeouts degrade; other errors are the caller's
// business.
func (m *Machine) ReportTimeout(err error) {
	if !timeout.IsTimeout(err) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusHealthy {
		m.log.Warn("Bounded request timed out, marking environment degraded", "error", err)
		m.transitionLocked(StatusDegraded)
	}
}

// RequestRefresh forces a probe (and drain on success) regardless of
// lifecycle signals. Idempotent: a probe already in flight is not
// duplicated.
func (m *Machine) RequestRefresh() {
	m.mu.Lock()
	if m.isRefreshing {
		m.mu.Unlock()
		return
	}
	if m.status == StatusDegraded {
		m.transitionLocked(StatusRecovering)
	}
	m.mu.Unlock()

	m.probe()
}

// beginRecovery fires after the foreground debounce window closes.
func (m *Machine) beginRecovery() {
	m.mu.Lock()
	if m.status != StatusDegraded || m.isRefreshing {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(StatusRecovering)
	m.mu.Unlock()

	m.probe()
}

// probe runs one health probe and applies its outcome. Guarded by
// isRefreshing so at most one probe is outstanding process-wide.
func (m *Machine) probe() {
	m.mu.Lock()
	if m.isRefreshing {
		m.mu.Unlock()
		return
	}
	m.isRefreshing = true
	ctx := m.ctx
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		result := m.prober.Probe(ctx)

		m.mu.Lock()
		m.isRefreshing = false
		switch result {
		case health.ResultAuthenticated, health.ResultUnauthenticated:
			if m.status != StatusHealthy {
				m.transitionLocked(StatusHealthy)
			}
			m.lastRefreshAt = time.Now()
			if result == health.ResultAuthenticated {
				m.authConfidence = AuthHigh
			} else {
				m.authConfidence = AuthLow
			}
			m.mu.Unlock()

			// Health regained: replay deferred writes in order. Errors are
			// settled per-entry inside the queue.
			if m.drainer != nil {
				if err := m.drainer.Process(ctx); err != nil {
					m.log.Warn("Queue drain interrupted", "error", err)
				}
			}
		default:
			// Probe failed or timed out. Stay out of a tight loop: the next
			// foreground signal (or explicit refresh) re-attempts.
			m.authConfidence = AuthUnknown
			if m.status == StatusRecovering {
				m.transitionLocked(StatusDegraded)
			}
			m.mu.Unlock()
		}
	}()
}

// transitionLocked is the sole mutation path for status. Callers hold mu.
func (m *Machine) transitionLocked(to Status) {
	from := m.status
	if from == to || !canTransition(from, to) {
		return
	}
	m.status = to
	m.log.Info("Recovery status changed", "from", from, "to", to)
	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()

	select {
	case m.events <- Transition{From: from, To: to, At: time.Now()}:
	default:
	}
}
