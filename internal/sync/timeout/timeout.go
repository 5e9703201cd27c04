// Package timeout bounds async operations with a deadline and maps the
// outcome onto the client error taxonomy.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error indicates the deadline elapsed before the operation settled.
type Error struct {
	Deadline time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Deadline)
}

// CanceledError indicates the operation was aborted mid-flight, typically
// because the surrounding context was canceled rather than its own deadline.
type CanceledError struct {
	Cause error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("operation canceled: %v", e.Cause)
}

func (e *CanceledError) Unwrap() error { return e.Cause }

// IsTimeout reports whether err is (or wraps) a deadline expiry.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// Tiers holds the deadline conventions used across the client. Initial is
// for cold-start calls; Recovery for calls right after health is regained,
// where a warm connection that still can't answer quickly is itself evidence
// of staleness; Health bounds the probe.
type Tiers struct {
	Initial  time.Duration
	Recovery time.Duration
	Health   time.Duration
}

// DefaultTiers matches the deadlines the hosted client ships with.
var DefaultTiers = Tiers{
	Initial:  10 * time.Second,
	Recovery: 3 * time.Second,
	Health:   3 * time.Second,
}

// Do runs op under the given deadline. The derived context is canceled on
// both paths, so the timer never leaks and an in-flight operation observes
// cancellation on expiry. First settlement wins: once the deadline fires the
// operation's eventual result is discarded.
func Do(ctx context.Context, d time.Duration, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return &Error{Deadline: d}
		}
		return err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			// Parent canceled, not our deadline.
			return &CanceledError{Cause: ctx.Err()}
		}
		return &Error{Deadline: d}
	}
}

// Run is Do for operations that return a value.
func Run[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, d, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
