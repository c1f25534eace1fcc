package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/backflow/types"
)

const testPartition = "2026-10-19"

func newMemoryStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()

	backend := NewMemoryBackend()
	store, err := NewStore(backend, StoreConfig{})
	require.NoError(t, err)

	return store, backend
}

func tasks(ids ...string) []types.Task {
	out := make([]types.Task, len(ids))
	for i, id := range ids {
		out[i] = types.Task{ID: id}
	}

	return out
}

func ids(ts []types.Task) []string {
	out := make([]string, len(ts))
	for i, task := range ts {
		out[i] = task.ID
	}

	return out
}

func TestNewStore_RequiresBackend(t *testing.T) {
	_, err := NewStore(nil, StoreConfig{})
	require.Error(t, err)
}

func TestDailyPartition(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	// 2026-10-20 03:00 at UTC+9 is still 2026-10-19 in UTC.
	now := time.Date(2026, 10, 20, 3, 0, 0, 0, loc)

	require.Equal(t, "2026-10-19", DailyPartition(now))
	require.Equal(t, "2026-10-20", DailyPartition(now.Add(24*time.Hour)))
}

func TestStore_FilterPending(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	backend.Put(types.OutcomeRecord{ID: "succeeded", PartitionKey: testPartition, IsSuccess: true, Attempts: 1})
	backend.Put(types.OutcomeRecord{ID: "poisoned", PartitionKey: testPartition, IsSuccess: false, Attempts: 3})
	backend.Put(types.OutcomeRecord{ID: "retry", PartitionKey: testPartition, IsSuccess: false, Attempts: 2})
	backend.Put(types.OutcomeRecord{ID: "other-day", PartitionKey: "2026-10-18", IsSuccess: true, Attempts: 1})

	pending, err := store.FilterPending(ctx, tasks("new", "succeeded", "poisoned", "retry", "other-day"), testPartition)
	require.NoError(t, err)
	require.Equal(t, []string{"new", "retry", "other-day"}, ids(pending))
}

func TestStore_FilterPending_SuccessIsStickyRegardlessOfAttempts(t *testing.T) {
	store, backend := newMemoryStore(t)

	backend.Put(types.OutcomeRecord{ID: "a", PartitionKey: testPartition, IsSuccess: true, Attempts: 2})

	pending, err := store.FilterPending(context.Background(), tasks("a"), testPartition)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestStore_FilterPending_Empty(t *testing.T) {
	store, _ := newMemoryStore(t)

	pending, err := store.FilterPending(context.Background(), nil, testPartition)
	require.NoError(t, err)
	require.Empty(t, pending)
}

type failingBackend struct{ err error }

func (f failingBackend) BatchGet(context.Context, []types.OutcomeKey) (map[types.OutcomeKey]types.OutcomeRecord, error) {
	return nil, f.err
}

func (f failingBackend) TransactionalUpdate(context.Context, []types.OutcomeUpdate) error {
	return f.err
}

func TestStore_BackendErrorsPropagate(t *testing.T) {
	boom := errors.New("kv down")
	store, err := NewStore(failingBackend{err: boom}, StoreConfig{})
	require.NoError(t, err)

	_, err = store.FilterPending(context.Background(), tasks("a"), testPartition)
	require.ErrorIs(t, err, boom)

	err = store.RecordOutcomes(context.Background(), []types.TaskResult{{ID: "a"}}, testPartition)
	require.ErrorIs(t, err, boom)
}

func TestStore_RecordOutcomes(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	err := store.RecordOutcomes(ctx, []types.TaskResult{
		{ID: "a", IsSuccess: true},
		{ID: "b", IsSuccess: false},
	}, testPartition)
	require.NoError(t, err)

	a, ok := backend.Get(types.OutcomeKey{ID: "a", PartitionKey: testPartition})
	require.True(t, ok)
	require.Equal(t, types.OutcomeRecord{ID: "a", PartitionKey: testPartition, IsSuccess: true, Attempts: 1}, a)

	b, ok := backend.Get(types.OutcomeKey{ID: "b", PartitionKey: testPartition})
	require.True(t, ok)
	require.Equal(t, 1, b.Attempts)
	require.False(t, b.IsSuccess)

	// A later failure never clears success.
	require.NoError(t, store.RecordOutcomes(ctx, []types.TaskResult{{ID: "a", IsSuccess: false}}, testPartition))
	a, _ = backend.Get(types.OutcomeKey{ID: "a", PartitionKey: testPartition})
	require.True(t, a.IsSuccess)
	require.Equal(t, 2, a.Attempts)
}

func TestStore_RecordOutcomes_DuplicateIDsCollapse(t *testing.T) {
	store, backend := newMemoryStore(t)

	err := store.RecordOutcomes(context.Background(), []types.TaskResult{
		{ID: "a", IsSuccess: false},
		{ID: "a", IsSuccess: true},
	}, testPartition)
	require.NoError(t, err)

	a, _ := backend.Get(types.OutcomeKey{ID: "a", PartitionKey: testPartition})
	require.Equal(t, 1, a.Attempts)
	require.True(t, a.IsSuccess)
}

func TestStore_AttemptCeilingExcludesTask(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	for range types.MaxAttempts {
		pending, err := store.FilterPending(ctx, tasks("flaky"), testPartition)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.NoError(t, store.RecordOutcomes(ctx, []types.TaskResult{{ID: "flaky"}}, testPartition))
	}

	pending, err := store.FilterPending(ctx, tasks("flaky"), testPartition)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestStore_ConcurrentRecordsIncrementOncePerCall(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	const calls = 20
	var wg sync.WaitGroup
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, store.RecordOutcomes(ctx, []types.TaskResult{{ID: "shared"}}, testPartition))
		}()
	}
	wg.Wait()

	rec, ok := backend.Get(types.OutcomeKey{ID: "shared", PartitionKey: testPartition})
	require.True(t, ok)
	require.Equal(t, calls, rec.Attempts)
}

func TestMemoryBackend_RejectsEmptyKeys(t *testing.T) {
	backend := NewMemoryBackend()

	err := backend.TransactionalUpdate(context.Background(), []types.OutcomeUpdate{
		{ID: "a", PartitionKey: testPartition, AttemptsDelta: 1},
		{ID: "", PartitionKey: testPartition, AttemptsDelta: 1},
	})
	require.ErrorIs(t, err, types.ErrTransactionAborted)

	_, ok := backend.Get(types.OutcomeKey{ID: "a", PartitionKey: testPartition})
	require.False(t, ok, "no update may be applied when the transaction is rejected")
}
