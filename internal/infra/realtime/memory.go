package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/taskhive/syncd/internal/core/domain"
)

// MemoryHub is an in-process Subscriber used by tests and the demo client.
// Publish fans events out to every subscription for the collection.
type MemoryHub struct {
	mu     sync.Mutex
	subs   map[string][]chan domain.ChangeEvent
	closed bool
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string][]chan domain.ChangeEvent)}
}

func (h *MemoryHub) Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeEvent, error) {
	ch := make(chan domain.ChangeEvent, 64)

	h.mu.Lock()
	h.subs[collection] = append(h.subs[collection], ch)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.subs[collection]
		for i, c := range chans {
			if c == ch {
				h.subs[collection] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// Publish delivers an event to all current subscribers of the collection.
func (h *MemoryHub) Publish(collection string, ev domain.ChangeEvent) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	h.mu.Lock()
	chans := make([]chan domain.ChangeEvent, len(h.subs[collection]))
	copy(chans, h.subs[collection])
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for collection, chans := range h.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(h.subs, collection)
	}
	return nil
}
