// Package reconcile merges server-pushed change events into the same local
// cache the optimistic and queued mutation paths write to, without
// duplicating or resurrecting records.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskhive/syncd/internal/core/domain"
	"github.com/taskhive/syncd/internal/infra/cache"
	"github.com/taskhive/syncd/internal/infra/realtime"
	"github.com/taskhive/syncd/internal/sync/metrics"
	"github.com/taskhive/syncd/internal/sync/timeout"
)

// Fetcher performs the authoritative refetch used when a pushed payload is
// too thin to merge precisely.
type Fetcher func(ctx context.Context) ([]domain.Task, error)

// Reconciler applies a collection's push stream to the local cache.
type Reconciler struct {
	store      *cache.Store
	sub        realtime.Subscriber
	fetch      Fetcher
	collection string
	deadline   time.Duration
	log        *slog.Logger
}

// New creates a reconciler for one collection.
func New(store *cache.Store, sub realtime.Subscriber, fetch Fetcher, collection string, deadline time.Duration, log *slog.Logger) *Reconciler {
	if deadline <= 0 {
		deadline = timeout.DefaultTiers.Initial
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store:      store,
		sub:        sub,
		fetch:      fetch,
		collection: collection,
		deadline:   deadline,
		log:        log,
	}
}

// Run subscribes and applies events until ctx is canceled. The subscription
// is torn down with the context, so a restarted reconciler never receives
// duplicate deliveries from a leaked listener.
func (r *Reconciler) Run(ctx context.Context) error {
	events, err := r.sub.Subscribe(ctx, r.collection)
	if err != nil {
		return err
	}
	r.log.Info("Realtime reconciliation started", "collection", r.collection)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Apply(ctx, ev)
		}
	}
}

// Apply merges one pushed event into the cache.
func (r *Reconciler) Apply(ctx context.Context, ev domain.ChangeEvent) {
	if !ev.Complete() {
		// Not enough context to merge precisely: invalidate and refetch
		// rather than risk an incomplete record.
		r.log.Warn("Incomplete change event, forcing authoritative refetch",
			"type", ev.EventType, "id", ev.ID)
		metrics.ReconcileEvents.WithLabelValues(string(ev.EventType), "refetch").Inc()
		r.refetch(ctx)
		return
	}

	switch ev.EventType {
	case domain.EventTypeInsert:
		// Replace-by-identity: an optimistically added record with the same
		// id is overwritten by the authoritative server copy, never
		// duplicated.
		r.store.Upsert(*ev.Payload)
		metrics.ReconcileEvents.WithLabelValues(string(ev.EventType), "upsert").Inc()
	case domain.EventTypeUpdate:
		// Shallow-merge, server fields winning; last write wins per field
		// keyed by arrival order. A patch for an id we never saw is as
		// incomplete as a thin event: refetch instead of materializing a
		// partial record.
		if !r.store.Merge(ev.ID, ev.Fields) {
			r.log.Warn("Update for unknown task, forcing authoritative refetch", "id", ev.ID)
			metrics.ReconcileEvents.WithLabelValues(string(ev.EventType), "refetch").Inc()
			r.refetch(ctx)
			return
		}
		metrics.ReconcileEvents.WithLabelValues(string(ev.EventType), "merge").Inc()
	case domain.EventTypeDelete:
		r.store.Delete(ev.ID)
		metrics.ReconcileEvents.WithLabelValues(string(ev.EventType), "delete").Inc()
	}
}

func (r *Reconciler) refetch(ctx context.Context) {
	r.store.Invalidate()
	if r.fetch == nil {
		return
	}

	tasks, err := timeout.Run(ctx, r.deadline, r.fetch)
	if err != nil {
		// Leave the collection marked stale; the next event or an explicit
		// refresh retries.
		r.log.Warn("Authoritative refetch failed", "collection", r.collection, "error", err)
		return
	}
	r.store.ReplaceAll(tasks)
}
