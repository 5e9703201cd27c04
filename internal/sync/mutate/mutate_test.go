package mutate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/syncd/internal/sync/health"
	"github.com/taskhive/syncd/internal/sync/queue"
	"github.com/taskhive/syncd/internal/sync/recovery"
	"github.com/taskhive/syncd/internal/sync/timeout"
)

type captureNotifier struct {
	queued []string
}

func (n *captureNotifier) MutationQueued(desc string) {
	n.queued = append(n.queued, desc)
}

func testTiers() timeout.Tiers {
	return timeout.Tiers{
		Initial:  200 * time.Millisecond,
		Recovery: 50 * time.Millisecond,
		Health:   50 * time.Millisecond,
	}
}

// degradedMachine returns a machine already classified degraded, with no
// probe scheduled so it stays there for the duration of a test.
func degradedMachine(t *testing.T) *recovery.Machine {
	t.Helper()
	m := recovery.NewMachine(recovery.DefaultConfig(), health.ProberFunc(func(ctx context.Context) health.Result {
		return health.ResultUnreachable
	}), nil, nil)
	m.ReportTimeout(&timeout.Error{Deadline: time.Second})
	require.Equal(t, recovery.StatusDegraded, m.Snapshot().Status)
	return m
}

func healthyMachine() *recovery.Machine {
	return recovery.NewMachine(recovery.DefaultConfig(), health.ProberFunc(func(ctx context.Context) health.Result {
		return health.ResultAuthenticated
	}), nil, nil)
}

func newFrontend(m *recovery.Machine, n Notifier) (*Frontend, *queue.Queue) {
	q := queue.New(queue.Config{BaseDelay: 2 * time.Millisecond}, nil)
	return NewFrontend(m, q, testTiers(), n, nil), q
}

func TestOptimisticUpdateRunsBeforeNetwork(t *testing.T) {
	f, _ := newFrontend(healthyMachine(), nil)

	var order []string
	w := f.Wrap(Mutation{
		Optimistic: func() { order = append(order, "optimistic") },
		Invoke: func(ctx context.Context) error {
			order = append(order, "network")
			return nil
		},
	})

	res, err := w.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispositionExecuted, res.Disposition)
	assert.Equal(t, []string{"optimistic", "network"}, order)
}

func TestDirectFailureRollsBackAndRethrows(t *testing.T) {
	f, _ := newFrontend(healthyMachine(), nil)

	boom := errors.New("boom")
	var rollbacks int
	w := f.Wrap(Mutation{
		Optimistic: func() {},
		Rollback:   func() { rollbacks++ },
		Invoke:     func(ctx context.Context) error { return boom },
	})

	_, err := w.Call(context.Background())
	require.ErrorIs(t, err, boom, "direct-path errors propagate to the caller")
	assert.Equal(t, 1, rollbacks, "rollback exactly once on terminal failure")
}

func TestDirectTimeoutDegradesMachine(t *testing.T) {
	m := healthyMachine()
	f, _ := newFrontend(m, nil)
	f.tiers.Initial = 30 * time.Millisecond

	w := f.Wrap(Mutation{
		Invoke: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	_, err := w.Call(context.Background())
	require.True(t, timeout.IsTimeout(err))
	assert.Equal(t, recovery.StatusDegraded, m.Snapshot().Status,
		"a timed-out direct mutation is evidence of a degraded environment")
}

func TestDegradedCallIsQueuedWithoutWaiting(t *testing.T) {
	notifier := &captureNotifier{}
	f, q := newFrontend(degradedMachine(t), notifier)

	var invoked atomic.Int32
	var optimistic bool
	w := f.Wrap(Mutation{
		Description:  "rename task",
		NotifyQueued: true,
		Optimistic:   func() { optimistic = true },
		Invoke: func(ctx context.Context) error {
			invoked.Add(1)
			return nil
		},
	})

	start := time.Now()
	res, err := w.Call(context.Background())
	require.NoError(t, err, "queued path never throws")

	assert.Equal(t, DispositionQueued, res.Disposition)
	assert.True(t, optimistic, "optimistic update applies even while degraded")
	assert.Less(t, time.Since(start), 100*time.Millisecond, "queued sentinel returns without waiting")
	assert.EqualValues(t, 0, invoked.Load(), "no network activity while degraded")
	assert.Equal(t, 1, q.Len())
	assert.True(t, w.IsQueued())
	id, ok := w.QueuedID()
	assert.True(t, ok)
	assert.Equal(t, res.QueuedID, id)
	assert.Equal(t, []string{"rename task"}, notifier.queued)

	// Drain: the entry executes and the queued flag clears reactively.
	require.NoError(t, q.Process(context.Background()))
	assert.EqualValues(t, 1, invoked.Load())
	assert.False(t, w.IsQueued())
}

func TestQueuedFlagClearsWhenEntrySettlesImmediately(t *testing.T) {
	f, q := newFrontend(degradedMachine(t), nil)

	// A drain permanently racing Call: entries can settle before the caller
	// has even looked at its sentinel.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				_ = q.Process(context.Background())
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < 25; i++ {
		w := f.Wrap(Mutation{
			Invoke: func(ctx context.Context) error { return nil },
		})
		res, err := w.Call(context.Background())
		require.NoError(t, err)
		require.Equal(t, DispositionQueued, res.Disposition)

		deadline := time.Now().Add(time.Second)
		for w.IsQueued() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		assert.False(t, w.IsQueued(), "queued flag clears no matter how fast the entry settles")
	}
}

func TestExhaustedRetriesRollBackExactlyOnce(t *testing.T) {
	f, q := newFrontend(degradedMachine(t), nil)

	// Optimistic sets the local title; exhausted retries must restore it.
	title := "Original"
	var rollbacks atomic.Int32
	var settled queue.Outcome
	w := f.Wrap(Mutation{
		Description: "set title",
		Optimistic:  func() { title = "Buy milk" },
		Rollback: func() {
			rollbacks.Add(1)
			title = "Original"
		},
		OnSettled: func(o queue.Outcome) { settled = o },
		Invoke: func(ctx context.Context) error {
			return errors.New("backend rejected write")
		},
	})

	res, err := w.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", title, "optimistic value visible immediately")

	require.NoError(t, q.Process(context.Background()))

	assert.EqualValues(t, 1, rollbacks.Load(), "rollback exactly once on queue exhaustion")
	assert.Equal(t, "Original", title, "local view restored")
	require.Error(t, settled.Err)
	assert.Equal(t, queue.DefaultMaxRetries, settled.Attempts)
	assert.False(t, w.IsQueued(), "queued flag cleared after settlement")
	_ = res
}

func TestQueuedSuccessDoesNotRollBack(t *testing.T) {
	f, q := newFrontend(degradedMachine(t), nil)

	var rollbacks int
	w := f.Wrap(Mutation{
		Rollback: func() { rollbacks++ },
		Invoke:   func(ctx context.Context) error { return nil },
	})

	_, err := w.Call(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Process(context.Background()))
	assert.Zero(t, rollbacks, "successful drain must not roll back")
}

func TestIsLoadingOnlyOnDirectPath(t *testing.T) {
	f, _ := newFrontend(healthyMachine(), nil)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	w := f.Wrap(Mutation{
		Invoke: func(ctx context.Context) error {
			close(inFlight)
			<-release
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		_, _ = w.Call(context.Background())
		close(done)
	}()

	<-inFlight
	assert.True(t, w.IsLoading())
	close(release)
	<-done
	assert.False(t, w.IsLoading())
	assert.False(t, w.IsQueued(), "direct path never sets the queued flag")
}
