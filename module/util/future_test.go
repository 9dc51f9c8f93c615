package util_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/onflow/flow-blockstream/module/util"
	"github.com/onflow/flow-blockstream/utils/unittest"
)

func newPool(t *testing.T, size int) *workerpool.WorkerPool {
	pool := workerpool.New(size)
	t.Cleanup(pool.StopWait)
	return pool
}

func TestFuture_CompleteOnce(t *testing.T) {
	f := util.NewFuture[int]()
	require.False(t, util.CheckClosed(f.Done()))

	assert.True(t, f.Complete(1, nil))
	assert.False(t, f.Complete(2, errors.New("late")))

	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, util.CheckClosed(f.Done()))
}

func TestFuture_WaitContext(t *testing.T) {
	f := util.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.WaitContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThen_RunsInOrderOfDependencies(t *testing.T) {
	pool := newPool(t, 4)

	start := util.NewFuture[int]()
	doubled := util.Then(pool, start, func(v int) (int, error) { return v * 2, nil })
	summed := util.Then2(pool, start, doubled, func(a, b int) (int, error) { return a + b, nil })

	// nothing runs before the root is completed
	unittest.RequireNeverReturnBefore(t, func() { <-summed.Done() }, 20*time.Millisecond)

	start.Complete(3, nil)

	unittest.RequireReturnsBefore(t, func() { <-summed.Done() }, time.Second)
	result, err := summed.Wait()
	require.NoError(t, err)
	assert.Equal(t, 9, result)
}

func TestThen_PropagatesFailure(t *testing.T) {
	pool := newPool(t, 2)
	boom := errors.New("boom")
	calls := atomic.NewInt32(0)

	failed := util.Go(pool, func() (int, error) { return 0, boom })
	next := util.Then(pool, failed, func(v int) (int, error) {
		calls.Inc()
		return v, nil
	})
	joined := util.Then2(pool, util.Completed(1), next, func(a, b int) (int, error) {
		calls.Inc()
		return a + b, nil
	})

	_, err := joined.Wait()
	require.ErrorIs(t, err, boom)
	assert.Zero(t, calls.Load())
}

func TestThen_ChainPreservesOrder(t *testing.T) {
	pool := newPool(t, 8)

	var seen []int
	tail := util.Completed(0)
	for i := 1; i <= 100; i++ {
		i := i
		tail = util.Then(pool, tail, func(int) (int, error) {
			// only one link of the chain runs at a time
			seen = append(seen, i)
			return i, nil
		})
	}

	last, err := tail.Wait()
	require.NoError(t, err)
	assert.Equal(t, 100, last)
	require.Len(t, seen, 100)
	for i, v := range seen {
		assert.Equal(t, i+1, v)
	}
}

func TestFailed(t *testing.T) {
	boom := errors.New("boom")
	_, err := util.Failed[string](boom).Wait()
	require.ErrorIs(t, err, boom)
}
