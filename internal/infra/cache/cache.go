// Package cache is the client's local reactive task store. It has three
// independent writers (direct mutation success, queue drain outcomes, push
// reconciliation); per-field last-write-wins semantics are the tie-break,
// not locking order.
package cache

import (
	"sort"
	"sync"

	"github.com/taskhive/syncd/internal/core/domain"
)

// Snapshot is the state handed to subscribers on every change.
type Snapshot struct {
	Tasks       []domain.Task
	Invalidated bool
}

// Store holds the cached tasks for one list plus change subscribers.
type Store struct {
	mu          sync.RWMutex
	tasks       map[string]domain.Task
	order       []string
	invalidated bool

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]domain.Task),
		subs:  make(map[int]func(Snapshot)),
	}
}

// Get returns a copy of the task and whether it exists.
func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// List returns all cached tasks in insertion order.
func (s *Store) List() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of cached tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Invalidated reports whether the collection needs an authoritative refetch.
func (s *Store) Invalidated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invalidated
}

// Upsert inserts or fully replaces a task by identity. An existing record
// with the same id (e.g. an optimistic placeholder) is replaced, never
// duplicated.
func (s *Store) Upsert(task domain.Task) {
	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; !exists {
		s.order = append(s.order, task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	snap := s.snapshotStateLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Merge shallow-merges fields onto an existing task, incoming fields
// winning. Returns false without touching the store when the id is
// unknown: a patch alone is not enough to materialize a record, so the
// caller decides whether to refetch.
func (s *Store) Merge(id string, fields map[string]any) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	t.Merge(fields)
	s.tasks[id] = t
	snap := s.snapshotStateLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// Delete removes a task by identity; no-op when absent.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	snap := s.snapshotStateLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// ReplaceAll swaps in an authoritative server copy of the collection and
// clears any invalidation mark.
func (s *Store) ReplaceAll(tasks []domain.Task) {
	s.mu.Lock()
	s.tasks = make(map[string]domain.Task, len(tasks))
	s.order = s.order[:0]
	for _, t := range tasks {
		s.tasks[t.ID] = t.Clone()
		s.order = append(s.order, t.ID)
	}
	s.invalidated = false
	snap := s.snapshotStateLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Invalidate marks the collection stale pending an authoritative refetch.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.invalidated = true
	snap := s.snapshotStateLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Subscribe registers an observer called with a full snapshot after every
// change. Returns an unsubscribe function.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) snapshotLocked() []domain.Task {
	out := make([]domain.Task, 0, len(s.tasks))
	for _, id := range s.order {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *Store) snapshotStateLocked() Snapshot {
	return Snapshot{Tasks: s.snapshotLocked(), Invalidated: s.invalidated}
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
