// Package queue holds user writes that could not be executed while the
// environment was degraded, and replays them in order once health returns.
package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/taskhive/syncd/internal/infra/journal"
	"github.com/taskhive/syncd/internal/sync/metrics"
)

// DefaultMaxRetries bounds retry attempts when Options leaves it unset.
const DefaultMaxRetries = 3

// journalTimeout bounds background journal writes so a stalled database
// cannot pile up goroutines forever.
const journalTimeout = 5 * time.Second

// Operation is a deferred zero-argument mutation bound at enqueue time.
type Operation func(ctx context.Context) error

// Outcome is the discriminated settlement result of a queued mutation.
// Err == nil means the mutation eventually succeeded.
type Outcome struct {
	ID       uuid.UUID
	Attempts int
	Err      error
}

// Options configures a queued mutation.
type Options struct {
	Description string
	MaxRetries  int
	OnSettled   func(Outcome)

	// Command, when set, journals the mutation for rehydration after a
	// restart.
	Command *journal.Command
}

// Entry is the read-only snapshot view of a queued mutation.
type Entry struct {
	ID          uuid.UUID
	Description string
	Attempts    int
	MaxRetries  int
	CreatedAt   time.Time
}

type entry struct {
	Entry
	invoke    Operation
	onSettled func(Outcome)
	command   *journal.Command
}

// Queue is an in-memory FIFO of deferred mutations with a serialized drain.
type Queue struct {
	mu       sync.Mutex
	entries  []*entry
	draining bool

	baseDelay time.Duration
	store     journal.Store
	log       *slog.Logger

	subMu   sync.Mutex
	subs    map[int]func([]Entry)
	nextSub int
}

// Config tunes queue behavior.
type Config struct {
	// BaseDelay is the first retry delay; it doubles on every subsequent
	// attempt of the same entry.
	BaseDelay time.Duration

	// Store, when non-nil, journals command-carrying entries durably.
	Store journal.Store
}

// New creates an empty queue.
func New(cfg Config, log *slog.Logger) *Queue {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		baseDelay: cfg.BaseDelay,
		store:     cfg.Store,
		log:       log,
		subs:      make(map[int]func([]Entry)),
	}
}

// Enqueue appends a mutation to the tail and returns its id immediately.
// It never blocks: journaling failures degrade to memory-only queueing.
func (q *Queue) Enqueue(op Operation, opts Options) uuid.UUID {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	e := &entry{
		Entry: Entry{
			ID:          uuid.New(),
			Description: opts.Description,
			MaxRetries:  opts.MaxRetries,
			CreatedAt:   time.Now(),
		},
		invoke:    op,
		onSettled: opts.OnSettled,
		command:   opts.Command,
	}

	if q.store != nil && opts.Command != nil {
		rec := journal.Record{
			ID:          e.ID,
			Command:     *opts.Command,
			Description: opts.Description,
			MaxRetries:  opts.MaxRetries,
			CreatedAt:   e.CreatedAt,
		}
		// Journal off the caller's path: a stalled database must not stall
		// Enqueue. A failed write degrades to memory-only queueing.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			defer cancel()
			if err := q.store.Append(ctx, rec); err != nil {
				q.log.Warn("Failed to journal mutation, queueing in memory only",
					"id", rec.ID, "description", rec.Description, "error", err)
				return
			}
			// The entry may have settled while the append was in flight;
			// drop the record again so it cannot replay on the next run.
			if !q.Pending(rec.ID) {
				if err := q.store.Delete(ctx, rec.ID); err != nil {
					q.log.Warn("Failed to drop journaled mutation", "id", rec.ID, "error", err)
				}
			}
		}()
	}

	q.mu.Lock()
	q.entries = append(q.entries, e)
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.log.Debug("Mutation queued", "id", e.ID, "description", opts.Description, "depth", depth)
	q.notify()
	return e.ID
}

// Restore re-queues a journaled mutation after a restart. The entry keeps
// the record's id so settling removes the journal row; the record is not
// appended again.
func (q *Queue) Restore(rec journal.Record, op Operation, onSettled func(Outcome)) {
	maxRetries := rec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	cmd := rec.Command

	e := &entry{
		Entry: Entry{
			ID:          rec.ID,
			Description: rec.Description,
			MaxRetries:  maxRetries,
			CreatedAt:   rec.CreatedAt,
		},
		invoke:    op,
		onSettled: onSettled,
		command:   &cmd,
	}

	q.mu.Lock()
	q.entries = append(q.entries, e)
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.log.Debug("Journaled mutation restored", "id", e.ID, "description", e.Description)
	q.notify()
}

// Len returns the number of pending mutations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending reports whether the id is still resident in the queue.
func (q *Queue) Pending(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Subscribe registers an observer notified with a full snapshot on every
// queue change. Returns an unsubscribe function.
func (q *Queue) Subscribe(fn func([]Entry)) func() {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subMu.Unlock()

	return func() {
		q.subMu.Lock()
		delete(q.subs, id)
		q.subMu.Unlock()
	}
}

// Clear empties the queue without settling any entry. Used on logout to
// discard writes tied to a dead session; journaled commands are discarded
// with it.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := q.entries
	q.entries = nil
	q.mu.Unlock()

	if q.store != nil {
		for _, e := range dropped {
			if e.command == nil {
				continue
			}
			if err := q.store.Delete(context.Background(), e.ID); err != nil {
				q.log.Warn("Failed to drop journaled mutation", "id", e.ID, "error", err)
			}
		}
	}

	metrics.QueueDepth.Set(0)
	if len(dropped) > 0 {
		q.log.Info("Mutation queue cleared", "dropped", len(dropped))
	}
	q.notify()
}

// Process drains the queue head to tail, strictly serialized: at most one
// entry executes at a time and a second Process call while a drain is
// running returns immediately. The drain covers the entries present when it
// started; mutations enqueued mid-drain wait for the next trigger.
func (q *Queue) Process(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	window := make([]*entry, len(q.entries))
	copy(window, q.entries)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	if len(window) == 0 {
		return nil
	}
	q.log.Info("Draining mutation queue", "pending", len(window))

	for _, e := range window {
		// A Clear mid-drain removes entries; skip the ones that are gone
		// rather than falling through to later enqueues.
		q.mu.Lock()
		pending := false
		for _, cur := range q.entries {
			if cur == e {
				pending = true
				break
			}
		}
		q.mu.Unlock()
		if !pending {
			continue
		}

		if err := q.processEntry(ctx, e); err != nil {
			// Context gone: leave the rest queued for a later drain.
			return err
		}
	}
	return nil
}

// processEntry retries one entry until success, a permanent error, or an
// exhausted retry budget, then removes and settles it. Only a context error
// is returned.
func (q *Queue) processEntry(ctx context.Context, e *entry) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		err := e.invoke(ctx)

		q.mu.Lock()
		e.Attempts++
		attempts := e.Attempts
		q.mu.Unlock()

		if err == nil {
			q.settle(e, Outcome{ID: e.ID, Attempts: attempts})
			return nil
		}
		if ctx.Err() != nil {
			// Do not burn the retry budget on a canceled drain.
			q.mu.Lock()
			e.Attempts--
			q.mu.Unlock()
			return ctx.Err()
		}

		// Surface the bumped attempts counter before deciding the entry's
		// fate, so observers see the full 1..MaxRetries progression.
		q.notify()

		if IsPermanent(err) {
			q.log.Warn("Queued mutation failed permanently",
				"id", e.ID, "description", e.Description, "attempts", attempts, "error", err)
			q.settle(e, Outcome{ID: e.ID, Attempts: attempts, Err: err})
			return nil
		}
		if attempts >= e.MaxRetries {
			q.log.Warn("Queued mutation exhausted retries",
				"id", e.ID, "description", e.Description, "attempts", attempts, "error", err)
			q.settle(e, Outcome{ID: e.ID, Attempts: attempts, Err: err})
			return nil
		}

		q.log.Debug("Queued mutation failed, will retry",
			"id", e.ID, "attempt", attempts, "max_retries", e.MaxRetries, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// settle removes the entry, updates the journal, notifies subscribers and
// finally delivers the outcome.
func (q *Queue) settle(e *entry, out Outcome) {
	q.mu.Lock()
	for i, cur := range q.entries {
		if cur.ID == e.ID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	depth := len(q.entries)
	q.mu.Unlock()

	if q.store != nil && e.command != nil {
		if err := q.store.Delete(context.Background(), e.ID); err != nil {
			q.log.Warn("Failed to delete journaled mutation", "id", e.ID, "error", err)
		}
	}

	result := "success"
	if out.Err != nil {
		result = "failure"
	}
	metrics.QueueDepth.Set(float64(depth))
	metrics.MutationsTotal.WithLabelValues("queued", result).Inc()

	q.notify()
	if e.onSettled != nil {
		e.onSettled(out)
	}
}

// Snapshot returns a copy of the pending entries in queue order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.Entry
	}
	return out
}

func (q *Queue) notify() {
	snap := q.Snapshot()

	q.subMu.Lock()
	ids := make([]int, 0, len(q.subs))
	for id := range q.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]Entry), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, q.subs[id])
	}
	q.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
