// Package backend talks to the taskhive data service. The sync core only
// sees the Service interface; transports live alongside it.
package backend

import (
	"context"
	"errors"

	"github.com/taskhive/syncd/internal/core/domain"
)

// ErrUnauthenticated means the backend was reachable but rejected the
// session. The recovery machine treats this differently from unreachability.
var ErrUnauthenticated = errors.New("session is not authenticated")

// ErrNotFound means the addressed entity does not exist server-side.
var ErrNotFound = errors.New("entity not found")

// Service is the slice of the data service the sync core consumes.
type Service interface {
	// CheckSession is the cheap, side-effect-free health probe request.
	// Returns nil for a valid session, ErrUnauthenticated for a rejected
	// one, and a transport error otherwise.
	CheckSession(ctx context.Context) error

	CreateTask(ctx context.Context, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, fields map[string]any) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, listID string) ([]domain.Task, error)
}
