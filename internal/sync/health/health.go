// Package health issues the cheap reachability/session-validity probe the
// recovery machine drives its transitions from. Probes never retry
// internally; retry policy belongs to the caller.
package health

import "context"

// Result classifies one probe attempt.
type Result string

const (
	// ResultAuthenticated: backend reachable and the session is valid.
	ResultAuthenticated Result = "authenticated"
	// ResultUnauthenticated: backend reachable but the session was rejected.
	ResultUnauthenticated Result = "unauthenticated"
	// ResultUnreachable: the probe timed out or the backend is unreachable.
	ResultUnreachable Result = "unreachable"
)

// Prober performs one bounded, side-effect-free health check.
type Prober interface {
	Probe(ctx context.Context) Result
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) Result

func (f ProberFunc) Probe(ctx context.Context) Result { return f(ctx) }
