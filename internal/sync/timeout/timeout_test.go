package timeout

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoCompletesBeforeDeadline(t *testing.T) {
	err := Do(context.Background(), 500*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
}

func TestDoReturnsOperationError(t *testing.T) {
	opErr := errors.New("validation failed")
	err := Do(context.Background(), 500*time.Millisecond, func(ctx context.Context) error {
		return opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("Do returned %v, want %v", err, opErr)
	}
}

func TestDoTimesOutAtDeadlineNotCompletion(t *testing.T) {
	// Operation resolves at t=5000ms, deadline at t=80ms (scaled from the
	// 3000/5000 scenario); the call must reject at the deadline.
	start := time.Now()
	err := Do(context.Background(), 80*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	elapsed := time.Since(start)

	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("Do returned %v, want *timeout.Error", err)
	}
	if te.Deadline != 80*time.Millisecond {
		t.Errorf("Error.Deadline = %v, want 80ms", te.Deadline)
	}
	if elapsed > 1*time.Second {
		t.Errorf("Do settled after %v, want ~80ms", elapsed)
	}
}

func TestDoCancelsUnderlyingOperation(t *testing.T) {
	canceled := make(chan struct{})
	_ = Do(context.Background(), 50*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("underlying operation never observed cancellation")
	}
}

func TestDoParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var ce *CanceledError
	if !errors.As(err, &ce) {
		t.Fatalf("Do returned %v, want *timeout.CanceledError", err)
	}
	if IsTimeout(err) {
		t.Error("parent cancellation must not classify as timeout")
	}
}

func TestRunReturnsValue(t *testing.T) {
	got, err := Run(context.Background(), 500*time.Millisecond, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if got != 42 {
		t.Errorf("Run = %d, want 42", got)
	}
}

func TestRunZeroValueOnTimeout(t *testing.T) {
	got, err := Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "late", ctx.Err()
	})
	if !IsTimeout(err) {
		t.Fatalf("Run returned %v, want timeout", err)
	}
	if got != "" {
		t.Errorf("Run = %q, want zero value on timeout", got)
	}
}
