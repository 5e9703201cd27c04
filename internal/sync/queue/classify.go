package queue

import (
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskhive/syncd/internal/infra/backend"
)

// IsPermanent reports whether an error can never heal with retries.
// Validation and permission failures fall in this class; network errors and
// server hiccups do not. Callers can also force the classification by
// wrapping with backoff.Permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, backend.ErrUnauthenticated) || errors.Is(err, backend.ErrNotFound) {
		return true
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "validation") || strings.Contains(s, "invalid") ||
		strings.Contains(s, "permission") || strings.Contains(s, "forbidden") ||
		strings.Contains(s, "unauthorized") {
		return true
	}

	// Default to retryable (network, 5xx, timeouts).
	return false
}
