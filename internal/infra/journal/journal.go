// Package journal persists queued mutations as tagged commands so a restart
// can rehydrate them. Captured closures cannot cross a process boundary;
// commands carry an operation kind plus a serializable payload and are
// rebuilt through a registry.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Command is the serializable form of a deferred mutation.
type Command struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Record is a journaled command with queue metadata.
type Record struct {
	ID          uuid.UUID
	Command     Command
	Description string
	MaxRetries  int
	CreatedAt   time.Time
}

// Store is the durable backing for the mutation queue.
type Store interface {
	// Append journals one record.
	Append(ctx context.Context, rec Record) error

	// Delete removes a record on terminal settlement; unknown ids are a
	// no-op so settlement stays idempotent.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns all records in append order.
	List(ctx context.Context) ([]Record, error)
}

// Builder rebuilds an executable operation from a command payload.
type Builder func(payload json.RawMessage) (func(ctx context.Context) error, error)

// Registry maps command kinds to builders for rehydration.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register binds a builder to a command kind. Later registrations for the
// same kind replace earlier ones.
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Build rebuilds the operation for a command.
func (r *Registry) Build(cmd Command) (func(ctx context.Context) error, error) {
	r.mu.RLock()
	b, ok := r.builders[cmd.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no builder registered for command kind %q", cmd.Kind)
	}
	return b(cmd.Payload)
}
