// Package realtime delivers server-pushed change events to the client.
package realtime

import (
	"context"

	"github.com/taskhive/syncd/internal/core/domain"
)

// Subscriber provides a push channel scoped to an entity collection.
type Subscriber interface {
	// Subscribe returns a channel of change events for the collection. The
	// channel is closed when ctx is canceled or the transport shuts down.
	Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeEvent, error)

	// Close tears the transport down.
	Close() error
}
