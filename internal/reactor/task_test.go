package reactor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type goSubmitter struct{}

func (goSubmitter) Submit(fn func()) error {
	go fn()
	return nil
}

type closedSubmitter struct{}

func (closedSubmitter) Submit(func()) error { return errors.New("pool closed") }

func TestBlockReturnsTaskResult(t *testing.T) {
	l := startLoop(t)
	v, err := Block(context.Background(), l, func(s *Suspender) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSleepingTasksInterleave(t *testing.T) {
	l := startLoop(t)

	start := time.Now()
	_, err := Block(context.Background(), l, func(s *Suspender) (any, error) {
		remaining := 2
		var waiter Resolve
		for i := 0; i < 2; i++ {
			Spawn(l, s.Context(), func(s *Suspender) {
				_ = s.Sleep(50 * time.Millisecond)
				remaining--
				if remaining == 0 && waiter != nil {
					waiter(nil, nil)
				}
			})
		}
		return s.Await(func(resolve Resolve) {
			if remaining == 0 {
				resolve(nil, nil)
				return
			}
			waiter = resolve
		})
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 90*time.Millisecond, "two 50ms sleeps overlap")
}

func TestAwaitResolvedInlineDoesNotYield(t *testing.T) {
	l := startLoop(t)
	v, err := Block(context.Background(), l, func(s *Suspender) (any, error) {
		return s.Await(func(resolve Resolve) { resolve("now", nil) })
	})
	require.NoError(t, err)
	assert.Equal(t, "now", v)
}

func TestAwaitResumesExactlyOnce(t *testing.T) {
	l := startLoop(t)

	var resumes atomic.Int32
	var resolveLater Resolve
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Block(ctx, l, func(s *Suspender) (any, error) {
		v, err := s.Await(func(resolve Resolve) { resolveLater = resolve })
		resumes.Add(1)
		return v, err
	})
	require.ErrorIs(t, err, context.DeadlineExceeded, "the timeout wins the race")

	// The late reply arrives after the task moved on.
	resolveLater("late", nil)
	resolveLater("later", nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), resumes.Load())
}

func TestAwaitObservesCancelledContext(t *testing.T) {
	l := startLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var started atomic.Bool
	_, err := Block(ctx, l, func(s *Suspender) (any, error) {
		return s.Await(func(Resolve) { started.Store(true) })
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, started.Load(), "nothing is started once cancelled")
}

func TestOffload(t *testing.T) {
	l := startLoop(t)

	t.Run("result is posted back", func(t *testing.T) {
		v, err := Block(context.Background(), l, func(s *Suspender) (any, error) {
			return s.Offload(goSubmitter{}, func() (any, error) { return 7, nil })
		})
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("submit failure resolves with the error", func(t *testing.T) {
		_, err := Block(context.Background(), l, func(s *Suspender) (any, error) {
			return s.Offload(closedSubmitter{}, func() (any, error) { return nil, nil })
		})
		assert.ErrorContains(t, err, "pool closed")
	})

	t.Run("late result is discarded after timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		finished := make(chan struct{})
		_, err := Block(ctx, l, func(s *Suspender) (any, error) {
			return s.Offload(goSubmitter{}, func() (any, error) {
				defer close(finished)
				time.Sleep(40 * time.Millisecond)
				return "late", nil
			})
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		<-finished
	})
}

func TestBlockOnStoppedLoop(t *testing.T) {
	l := New(nil)
	_, err := Block(context.Background(), l, func(s *Suspender) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCloseUnwindsSuspendedTasks(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Start())

	parked := make(chan struct{})
	var unwound []int
	var deferredSleep error
	require.NoError(t, l.Post(func() {
		for i := range 3 {
			Spawn(l, context.Background(), func(s *Suspender) {
				defer func() { unwound = append(unwound, i) }()
				if i == 0 {
					defer func() { deferredSleep = s.Sleep(time.Millisecond) }()
				}
				_ = s.Sleep(time.Hour)
			})
		}
		close(parked)
	}))
	<-parked

	l.Close()
	assert.Equal(t, []int{0, 1, 2}, unwound, "tasks unwind oldest first")
	assert.ErrorIs(t, deferredSleep, ErrNotRunning, "an unwinding task cannot suspend again")
	assert.Zero(t, l.Outstanding())
}
