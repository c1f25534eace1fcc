package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/backflow/types"
)

// fakeClock advances by step on every call.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now
	c.now = c.now.Add(c.step)

	return t
}

func TestNew_RequiresWorker(t *testing.T) {
	_, err := New(nil, Config{})
	require.ErrorIs(t, err, types.ErrWorkerRequired)
}

func TestExecute_Success(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0), step: 250 * time.Millisecond}
	var got WorkerRequest
	exec, err := New(WorkerFunc(func(_ context.Context, req WorkerRequest) error {
		got = req
		return nil
	}), Config{Now: clock.Now})
	require.NoError(t, err)

	res := exec.Execute(context.Background(), types.Task{ID: "a"})

	require.Equal(t, WorkerRequest{ID: "a"}, got)
	require.True(t, res.IsSuccess)
	require.True(t, res.Measured)
	require.Equal(t, 250*time.Millisecond, res.Latency)
	ms, ok := res.LatencyMs()
	require.True(t, ok)
	require.Equal(t, int64(250), ms)
}

func TestExecute_FailureHasNoLatency(t *testing.T) {
	exec, err := New(WorkerFunc(func(context.Context, WorkerRequest) error {
		return errors.New("boom")
	}), Config{})
	require.NoError(t, err)

	res := exec.Execute(context.Background(), types.Task{ID: "a"})

	require.Equal(t, types.TaskResult{ID: "a", IsSuccess: false}, res)
	_, ok := res.LatencyMs()
	require.False(t, ok)
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	exec, err := New(WorkerFunc(func(context.Context, WorkerRequest) error {
		panic("worker bug")
	}), Config{})
	require.NoError(t, err)

	var res types.TaskResult
	require.NotPanics(t, func() {
		res = exec.Execute(context.Background(), types.Task{ID: "a"})
	})
	require.Equal(t, types.TaskResult{ID: "a", IsSuccess: false}, res)
}

func TestExecuteBatch_OrderAndJoinAll(t *testing.T) {
	exec, err := New(WorkerFunc(func(_ context.Context, req WorkerRequest) error {
		switch req.ID {
		case "slow":
			time.Sleep(30 * time.Millisecond)
		case "bad":
			return errors.New("boom")
		}

		return nil
	}), Config{MaxConcurrency: 4})
	require.NoError(t, err)

	input := []types.Task{{ID: "slow"}, {ID: "bad"}, {ID: "ok"}}
	results := exec.ExecuteBatch(context.Background(), input)

	require.Len(t, results, 3)
	require.Equal(t, "slow", results[0].ID)
	require.True(t, results[0].IsSuccess)
	require.Equal(t, "bad", results[1].ID)
	require.False(t, results[1].IsSuccess)
	require.Equal(t, "ok", results[2].ID)
	require.True(t, results[2].IsSuccess)
}

func TestExecuteBatch_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	exec, err := New(WorkerFunc(func(context.Context, WorkerRequest) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)

		return nil
	}), Config{MaxConcurrency: 3})
	require.NoError(t, err)

	input := make([]types.Task, 12)
	for i := range input {
		input[i] = types.Task{ID: string(rune('a' + i))}
	}

	results := exec.ExecuteBatch(context.Background(), input)

	require.Len(t, results, 12)
	require.LessOrEqual(t, peak.Load(), int32(3))
	for _, r := range results {
		require.True(t, r.IsSuccess)
	}
}

func TestExecuteBatch_Empty(t *testing.T) {
	exec, err := New(WorkerFunc(func(context.Context, WorkerRequest) error { return nil }), Config{})
	require.NoError(t, err)

	require.Empty(t, exec.ExecuteBatch(context.Background(), nil))
}
