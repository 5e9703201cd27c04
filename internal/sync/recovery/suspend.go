package recovery

import (
	"context"
	"log/slog"
	"time"
)

// SuspendWatcher detects host suspension (laptop sleep, cgroup freeze, VM
// pause) by comparing wall-clock progress against its ticker interval. A
// wall jump much larger than the interval means the process was not
// scheduled for that long, which is the daemon's analogue of the browser
// tab being backgrounded.
type SuspendWatcher struct {
	machine  *Machine
	interval time.Duration
	slack    time.Duration
	log      *slog.Logger
	last     time.Time
}

// NewSuspendWatcher creates a watcher feeding the given machine.
func NewSuspendWatcher(machine *Machine, interval time.Duration, log *slog.Logger) *SuspendWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &SuspendWatcher{
		machine:  machine,
		interval: interval,
		slack:    interval / 2,
		log:      log,
	}
}

// Run blocks until ctx is canceled.
func (w *SuspendWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.last = time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.observe(time.Now())
		}
	}
}

// observe compares a tick's wall time against the previous one. Any excess
// beyond the ticker interval plus scheduling slack is reported to the
// machine as time spent suspended.
func (w *SuspendWatcher) observe(now time.Time) {
	gap := now.Sub(w.last) - w.interval
	w.last = now
	if gap > w.slack {
		w.log.Info("Host suspension detected", "gap", gap)
		w.machine.ReportBackgrounded(gap)
	}
}
