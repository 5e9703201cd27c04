// Package mutate is the per-call decision point for user writes: execute
// now under a deadline, or defer to the mutation queue, with an optimistic
// local update either way.
package mutate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/taskhive/syncd/internal/infra/journal"
	"github.com/taskhive/syncd/internal/sync/metrics"
	"github.com/taskhive/syncd/internal/sync/queue"
	"github.com/taskhive/syncd/internal/sync/recovery"
	"github.com/taskhive/syncd/internal/sync/timeout"
)

// Disposition says which path a call took.
type Disposition string

const (
	// DispositionExecuted: the mutation ran directly against the backend.
	DispositionExecuted Disposition = "executed"
	// DispositionQueued: the mutation was deferred; the caller got a
	// sentinel, not a result.
	DispositionQueued Disposition = "queued"
)

// Result is what a wrapped call returns immediately.
type Result struct {
	Disposition Disposition
	QueuedID    uuid.UUID
}

// Notifier surfaces "your change was queued" style notices to the UI.
type Notifier interface {
	MutationQueued(description string)
}

// Mutation describes one write and its local-state hooks.
type Mutation struct {
	// Invoke performs the write against the backend.
	Invoke func(ctx context.Context) error

	// Optimistic applies the local cache change before any network
	// activity. Runs synchronously and unconditionally on every call.
	Optimistic func()

	// Rollback undoes the optimistic change. Invoked at most once per
	// call, exactly on terminal failure.
	Rollback func()

	// OnSettled, if set, receives the discriminated terminal outcome on
	// both paths. For queued calls it fires after drain, long after the
	// caller got its sentinel.
	OnSettled func(queue.Outcome)

	Description string
	MaxRetries  int

	// Command makes the deferred form of this mutation journalable.
	Command *journal.Command

	// NotifyQueued surfaces a queued notice through the Notifier.
	NotifyQueued bool
}

// Frontend builds wrapped mutations bound to the recovery machine and queue.
type Frontend struct {
	machine  *recovery.Machine
	queue    *queue.Queue
	tiers    timeout.Tiers
	notifier Notifier
	log      *slog.Logger
}

// NewFrontend creates a frontend.
func NewFrontend(machine *recovery.Machine, q *queue.Queue, tiers timeout.Tiers, notifier Notifier, log *slog.Logger) *Frontend {
	if tiers.Initial <= 0 {
		tiers = timeout.DefaultTiers
	}
	if log == nil {
		log = slog.Default()
	}
	return &Frontend{machine: machine, queue: q, tiers: tiers, notifier: notifier, log: log}
}

// Wrapped is a callable mutation with reactive loading/queued flags. The
// flags track the most recent call.
type Wrapped struct {
	f *Frontend
	m Mutation

	loading  atomic.Bool
	queued   atomic.Bool
	queuedID atomic.Value // uuid.UUID
}

// Wrap produces the callable for a mutation.
func (f *Frontend) Wrap(m Mutation) *Wrapped {
	return &Wrapped{f: f, m: m}
}

// IsLoading is true only while a direct-path call is in flight.
func (w *Wrapped) IsLoading() bool { return w.loading.Load() }

// IsQueued is true while the deferred entry is still resident in the queue.
func (w *Wrapped) IsQueued() bool { return w.queued.Load() }

// QueuedID returns the queue id of the pending entry, if any.
func (w *Wrapped) QueuedID() (uuid.UUID, bool) {
	if !w.queued.Load() {
		return uuid.UUID{}, false
	}
	id, ok := w.queuedID.Load().(uuid.UUID)
	return id, ok
}

// Call runs the mutation. The optimistic update always applies first, so
// the local view updates instantly regardless of connectivity. Degraded or
// recovering environments defer the write and return a queued sentinel
// without waiting; a healthy environment executes directly and re-throws
// any terminal error to the caller after rollback.
func (w *Wrapped) Call(ctx context.Context) (Result, error) {
	if w.m.Optimistic != nil {
		w.m.Optimistic()
	}

	var rollbackOnce sync.Once
	rollback := func() {
		if w.m.Rollback != nil {
			rollbackOnce.Do(w.m.Rollback)
		}
	}

	status := w.f.machine.Snapshot().Status
	if status == recovery.StatusDegraded || status == recovery.StatusRecovering {
		return w.enqueue(rollback), nil
	}
	return w.execute(ctx, rollback)
}

func (w *Wrapped) enqueue(rollback func()) Result {
	// Clear the queued flag reactively once the queue's notifications show
	// the id gone, whatever the outcome. Subscribing before Enqueue means
	// the unsubscribe handle always exists by the time the id does, so a
	// settlement can never strand the observer.
	var mu sync.Mutex
	var id uuid.UUID
	var idSet, cleared bool
	var unsub func()
	clearIfGone := func(snap []queue.Entry) {
		mu.Lock()
		if !idSet || cleared {
			mu.Unlock()
			return
		}
		for _, e := range snap {
			if e.ID == id {
				mu.Unlock()
				return
			}
		}
		cleared = true
		u := unsub
		mu.Unlock()

		w.queued.Store(false)
		u()
	}

	mu.Lock()
	unsub = w.f.queue.Subscribe(clearIfGone)
	mu.Unlock()

	newID := w.f.queue.Enqueue(w.m.Invoke, queue.Options{
		Description: w.m.Description,
		MaxRetries:  w.m.MaxRetries,
		Command:     w.m.Command,
		OnSettled: func(out queue.Outcome) {
			if out.Err != nil {
				rollback()
			}
			if w.m.OnSettled != nil {
				w.m.OnSettled(out)
			}
		},
	})

	w.queuedID.Store(newID)
	w.queued.Store(true)
	mu.Lock()
	id = newID
	idSet = true
	mu.Unlock()

	// The entry may have drained before the id was bound above.
	if !w.f.queue.Pending(newID) {
		clearIfGone(nil)
	}

	if w.m.NotifyQueued && w.f.notifier != nil {
		w.f.notifier.MutationQueued(w.m.Description)
	}
	w.f.log.Debug("Mutation deferred to queue", "id", newID, "description", w.m.Description)
	metrics.MutationsTotal.WithLabelValues(string(DispositionQueued), "pending").Inc()

	return Result{Disposition: DispositionQueued, QueuedID: newID}
}

func (w *Wrapped) execute(ctx context.Context, rollback func()) (Result, error) {
	w.loading.Store(true)
	defer w.loading.Store(false)

	err := timeout.Do(ctx, w.f.tiers.Initial, w.m.Invoke)
	res := Result{Disposition: DispositionExecuted}

	if err != nil {
		// A deadline failure is also evidence about the environment.
		w.f.machine.ReportTimeout(err)
		rollback()
		metrics.MutationsTotal.WithLabelValues(string(DispositionExecuted), "failure").Inc()
		if w.m.OnSettled != nil {
			w.m.OnSettled(queue.Outcome{Attempts: 1, Err: err})
		}
		return res, err
	}

	metrics.MutationsTotal.WithLabelValues(string(DispositionExecuted), "success").Inc()
	if w.m.OnSettled != nil {
		w.m.OnSettled(queue.Outcome{Attempts: 1})
	}
	return res, nil
}
