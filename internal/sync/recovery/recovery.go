// Package recovery owns the process-wide environment health status. It
// classifies the client's connection to the backend as healthy, degraded or
// recovering, drives probes off host lifecycle signals, and triggers a
// queue drain when health returns. Nothing here surfaces errors to the
// user; it only classifies for others.
package recovery

import "time"

// Status is the environment health classification.
type Status string

const (
	// StatusHealthy: mutations may execute directly.
	StatusHealthy Status = "healthy"
	// StatusDegraded: new mutations should be deferred, not attempted.
	StatusDegraded Status = "degraded"
	// StatusRecovering: a probe is outstanding after returning from degraded.
	StatusRecovering Status = "recovering"
)

// AuthConfidence lets the UI suppress misleading "logged out" flashes while
// a probe is still deciding.
type AuthConfidence string

const (
	AuthHigh    AuthConfidence = "high"
	AuthLow     AuthConfidence = "low"
	AuthUnknown AuthConfidence = "unknown"
)

// Snapshot is a consistent read of the machine's state.
type Snapshot struct {
	Status         Status         `json:"status"`
	IsRefreshing   bool           `json:"is_refreshing"`
	LastRefreshAt  time.Time      `json:"last_refresh_at"`
	AuthConfidence AuthConfidence `json:"auth_confidence"`
}

// Transition describes one status change, delivered on the events channel.
type Transition struct {
	From Status
	To   Status
	At   time.Time
}

// validTransitions is the machine's full edge set. Self-transitions are
// filtered before lookup.
var validTransitions = map[Status]map[Status]bool{
	StatusHealthy:    {StatusDegraded: true},
	StatusDegraded:   {StatusRecovering: true},
	StatusRecovering: {StatusHealthy: true, StatusDegraded: true},
}

// canTransition reports whether from→to is a legal edge.
func canTransition(from, to Status) bool {
	return validTransitions[from][to]
}
