package health

import (
	"context"
	"errors"
	"time"

	"github.com/taskhive/syncd/internal/infra/backend"
	"github.com/taskhive/syncd/internal/sync/metrics"
	"github.com/taskhive/syncd/internal/sync/timeout"
)

// SessionProber checks session validity against the backend data service.
type SessionProber struct {
	svc      backend.Service
	deadline time.Duration
}

// NewSessionProber creates a prober bounded by the health-check deadline.
func NewSessionProber(svc backend.Service, deadline time.Duration) *SessionProber {
	if deadline <= 0 {
		deadline = timeout.DefaultTiers.Health
	}
	return &SessionProber{svc: svc, deadline: deadline}
}

// Probe issues one session check. Timeouts and transport errors classify as
// unreachable; an explicit rejection classifies as unauthenticated.
func (p *SessionProber) Probe(ctx context.Context) Result {
	start := time.Now()
	err := timeout.Do(ctx, p.deadline, p.svc.CheckSession)

	var result Result
	switch {
	case err == nil:
		result = ResultAuthenticated
	case errors.Is(err, backend.ErrUnauthenticated):
		result = ResultUnauthenticated
	default:
		result = ResultUnreachable
	}

	metrics.ProbeDuration.WithLabelValues(string(result)).Observe(time.Since(start).Seconds())
	return result
}
