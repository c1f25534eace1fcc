package backflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backflow/executor"
	"github.com/arloliu/backflow/idempotency"
	"github.com/arloliu/backflow/mapping"
	bftest "github.com/arloliu/backflow/testing"
)

type recordingWorker struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func newRecordingWorker(fail bool) *recordingWorker {
	return &recordingWorker{calls: make(map[string]int), fail: fail}
}

func (w *recordingWorker) Invoke(_ context.Context, req executor.WorkerRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[req.ID]++
	if w.fail {
		return errors.New("worker failure")
	}

	return nil
}

func (w *recordingWorker) count(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.calls[id]
}

func setupService(t *testing.T, nc *nats.Conn, cfg *Config) (jetstream.JetStream, *Resources) {
	t.Helper()

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	SetDefaults(cfg)

	res, err := Provision(t.Context(), js, cfg)
	require.NoError(t, err)
	require.NoError(t, InitBinding(t.Context(), mapping.NewKVStore(res.Mappings, nil), cfg))

	return js, res
}

func publishTasks(t *testing.T, js jetstream.JetStream, subject string, ids ...string) {
	t.Helper()

	for _, id := range ids {
		_, err := js.Publish(t.Context(), subject, fmt.Appendf(nil, `{"id":%q}`, id))
		require.NoError(t, err)
	}
}

func TestNewService_Validation(t *testing.T) {
	_, nc := bftest.StartEmbeddedNATS(t)

	_, err := NewService(nil, nc)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg := TestConfig()
	_, err = NewService(&cfg, nil)
	require.ErrorIs(t, err, ErrNATSConnectionRequired)

	cfg = TestConfig()
	cfg.BindingID = "bad.binding"
	_, err = NewService(&cfg, nc)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = TestConfig()
	svc, err := NewService(&cfg, nc)
	require.NoError(t, err)
	require.Equal(t, StateInit, svc.State())
	require.Nil(t, svc.Controller())
}

func TestService_StartWithoutBinding(t *testing.T) {
	_, nc := bftest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	svc, err := NewService(&cfg, nc, WithWorker(newRecordingWorker(false)), WithLogger(bftest.NewTestLogger(t)))
	require.NoError(t, err)

	err = svc.Start(t.Context())
	require.ErrorIs(t, err, ErrBindingNotFound)

	require.ErrorIs(t, svc.Stop(t.Context()), ErrNotStarted)
}

func TestService_ProcessesTasks(t *testing.T) {
	_, nc := bftest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	js, res := setupService(t, nc, &cfg)

	var (
		mu      sync.Mutex
		reports []BatchReport
	)
	hooks := &Hooks{
		OnBatchProcessed: func(_ context.Context, report BatchReport) error {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, report)

			return nil
		},
	}

	w := newRecordingWorker(false)
	svc, err := NewService(&cfg, nc, WithWorker(w), WithHooks(hooks), WithLogger(bftest.NewTestLogger(t)))
	require.NoError(t, err)
	require.NoError(t, svc.Start(t.Context()))
	require.ErrorIs(t, svc.Start(t.Context()), ErrAlreadyStarted)

	publishTasks(t, js, cfg.StreamSubject, "A", "B", "C")

	require.Eventually(t, func() bool {
		return w.count("A") == 1 && w.count("B") == 1 && w.count("C") == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		succeeded := 0
		for _, r := range reports {
			succeeded += r.Succeeded
		}

		return succeeded == 3
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return svc.State() == StateRunning
	}, time.Second, 10*time.Millisecond)

	backend := idempotency.NewKVBackend(res.Outcomes, idempotency.KVBackendConfig{})
	partition := idempotency.DailyPartition(time.Now())
	key := OutcomeKey{ID: "B", PartitionKey: partition}
	records, err := backend.BatchGet(t.Context(), []OutcomeKey{key})
	require.NoError(t, err)
	require.True(t, records[key].IsSuccess)
	require.Equal(t, 1, records[key].Attempts)

	// A redelivered task that already succeeded is not executed again.
	publishTasks(t, js, cfg.StreamSubject, "B", "D")
	require.Eventually(t, func() bool { return w.count("D") == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, w.count("B"))

	require.NoError(t, svc.Stop(t.Context()))
	require.Equal(t, StateStopped, svc.State())
	require.ErrorIs(t, svc.Stop(t.Context()), ErrNotStarted)
}

func TestService_FailuresShrinkBatch(t *testing.T) {
	_, nc := bftest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	cfg.MaxBatchSize = 2
	js, res := setupService(t, nc, &cfg)

	w := newRecordingWorker(true)
	svc, err := NewService(&cfg, nc, WithWorker(w), WithPartitioner(func(time.Time) string { return "fixed" }))
	require.NoError(t, err)
	require.NoError(t, svc.Start(t.Context()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	publishTasks(t, js, cfg.StreamSubject, "X")

	store := mapping.NewKVStore(res.Mappings, nil)
	require.Eventually(t, func() bool {
		state, err := store.Get(t.Context(), cfg.BindingID)
		return err == nil && !state.Enabled && state.BatchSize == 1
	}, 10*time.Second, 20*time.Millisecond)

	// Poisoned after three attempts in the same partition.
	require.Eventually(t, func() bool { return w.count("X") == MaxAttempts }, 10*time.Second, 20*time.Millisecond)

	backend := idempotency.NewKVBackend(res.Outcomes, idempotency.KVBackendConfig{})
	key := OutcomeKey{ID: "X", PartitionKey: "fixed"}
	records, err := backend.BatchGet(t.Context(), []OutcomeKey{key})
	require.NoError(t, err)
	require.True(t, records[key].Poisoned())
}

func TestService_RunStopsOnCancel(t *testing.T) {
	_, nc := bftest.StartEmbeddedNATS(t)

	cfg := TestConfig()
	setupService(t, nc, &cfg)

	svc, err := NewService(&cfg, nc, WithWorker(newRecordingWorker(false)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, svc.Run(ctx))
}

func TestProvision_Idempotent(t *testing.T) {
	_, nc := bftest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	cfg := TestConfig()
	_, err = Provision(t.Context(), js, &cfg)
	require.NoError(t, err)
	res, err := Provision(t.Context(), js, &cfg)
	require.NoError(t, err)

	info, err := res.Stream.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{cfg.StreamSubject}, info.Config.Subjects)

	store := mapping.NewKVStore(res.Mappings, nil)
	require.NoError(t, InitBinding(t.Context(), store, &cfg))
	require.ErrorIs(t, InitBinding(t.Context(), store, &cfg), ErrBindingExists)
}
