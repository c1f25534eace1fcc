package consumer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	bftest "github.com/arloliu/backflow/testing"
	"github.com/arloliu/backflow/types"
)

type fakeSource struct {
	mu    sync.Mutex
	state types.MappingState
	err   error
}

func (f *fakeSource) Refresh(context.Context) (types.MappingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state, f.err
}

func (f *fakeSource) set(state types.MappingState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

type recordingHandler struct {
	mu        sync.Mutex
	streams   [][]string
	scheduled int
	fail      func(call int) error
}

func (h *recordingHandler) Handle(_ context.Context, event types.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if event.Kind == types.EventKindScheduled {
		h.scheduled++
		return nil
	}

	ids := make([]string, len(event.Records))
	for i, rec := range event.Records {
		ids[i] = string(rec.Data)
	}
	h.streams = append(h.streams, ids)

	if h.fail != nil {
		return h.fail(len(h.streams))
	}

	return nil
}

func (h *recordingHandler) snapshot() ([][]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([][]string(nil), h.streams...), h.scheduled
}

func (h *recordingHandler) recordCount() int {
	streams, _ := h.snapshot()
	n := 0
	for _, s := range streams {
		n += len(s)
	}

	return n
}

type harness struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	_, nc := bftest.StartEmbeddedNATS(t)
	stream := bftest.CreateStream(t, nc, "TASKS", "tasks.>")
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	return &harness{nc: nc, js: js, stream: stream}
}

func (h *harness) publish(t *testing.T, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		_, err := h.js.Publish(t.Context(), "tasks.new", []byte(p))
		require.NoError(t, err)
	}
}

func (h *harness) pending(t *testing.T) uint64 {
	t.Helper()
	info, err := h.stream.Info(t.Context())
	require.NoError(t, err)

	return info.State.Msgs
}

func testConfig() Config {
	return Config{
		StreamName:           "TASKS",
		ConsumerName:         "backflow-test",
		FetchTimeout:         200 * time.Millisecond,
		AckWait:              time.Second,
		ScheduleInterval:     time.Hour,
		DisabledPollInterval: 20 * time.Millisecond,
		RetryBase:            10 * time.Millisecond,
		RetryCap:             50 * time.Millisecond,
		RetrySeed:            7,
	}
}

func startConsumer(t *testing.T, c *Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)

	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func TestNewJS_Validation(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{}
	handler := &recordingHandler{}

	_, err := New(nil, src, handler, testConfig())
	require.ErrorIs(t, err, types.ErrNATSConnectionRequired)

	_, err = NewJS(h.js, nil, handler, testConfig())
	require.Error(t, err)

	_, err = NewJS(h.js, src, nil, testConfig())
	require.Error(t, err)

	cfg := testConfig()
	cfg.StreamName = ""
	_, err = NewJS(h.js, src, handler, cfg)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{StreamName: "S", ConsumerName: "C"}
	cfg.applyDefaults()

	require.Equal(t, DefaultFetchTimeout, cfg.FetchTimeout)
	require.Equal(t, DefaultAckWait, cfg.AckWait)
	require.Equal(t, -1, cfg.MaxDeliver)
	require.Equal(t, DefaultScheduleInterval, cfg.ScheduleInterval)
	require.Equal(t, DefaultDisabledPollInterval, cfg.DisabledPollInterval)
	require.InDelta(t, DefaultRetryMultiplier, cfg.RetryMultiplier, 0.0001)
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Metrics)
}

func TestConsumer_AcksHandledBatches(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{state: types.MappingState{BindingID: "b", BatchSize: 10, Enabled: true}}
	handler := &recordingHandler{}

	c, err := NewJS(h.js, src, handler, testConfig())
	require.NoError(t, err)

	h.publish(t, `{"id":"a"}`, `{"id":"b"}`, `{"id":"c"}`)
	cancel, done := startConsumer(t, c)

	require.Eventually(t, func() bool { return handler.recordCount() == 3 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return h.pending(t) == 0 }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, types.StateRunning, c.State())

	info, err := c.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, "backflow-test", info.Name)

	cancel()
	require.NoError(t, waitDone(t, done))
	require.Equal(t, types.StateStopped, c.State())
}

func TestConsumer_RespectsBatchSize(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{state: types.MappingState{BindingID: "b", BatchSize: 2, Enabled: true}}
	handler := &recordingHandler{}

	c, err := NewJS(h.js, src, handler, testConfig())
	require.NoError(t, err)

	for i := range 5 {
		h.publish(t, fmt.Sprintf(`{"id":"%d"}`, i))
	}
	_, _ = startConsumer(t, c)

	require.Eventually(t, func() bool { return handler.recordCount() == 5 }, 5*time.Second, 20*time.Millisecond)

	streams, _ := handler.snapshot()
	for _, s := range streams {
		require.LessOrEqual(t, len(s), 2)
	}
}

func TestConsumer_NaksFailedBatchForRedelivery(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{state: types.MappingState{BindingID: "b", BatchSize: 10, Enabled: true}}
	handler := &recordingHandler{fail: func(call int) error {
		if call == 1 {
			return fmt.Errorf("%w: 1 of 2 tasks failed", types.ErrBatchPartialFailure)
		}

		return nil
	}}

	c, err := NewJS(h.js, src, handler, testConfig())
	require.NoError(t, err)

	h.publish(t, `{"id":"a"}`, `{"id":"b"}`)
	_, _ = startConsumer(t, c)

	require.Eventually(t, func() bool { return handler.recordCount() >= 4 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return h.pending(t) == 0 }, 5*time.Second, 20*time.Millisecond)

	streams, _ := handler.snapshot()
	require.ElementsMatch(t, []string{`{"id":"a"}`, `{"id":"b"}`}, streams[0])
}

func TestConsumer_DisabledBindingPullsNothing(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{state: types.MappingState{BindingID: "b", BatchSize: 5, Enabled: false}}
	handler := &recordingHandler{}

	c, err := NewJS(h.js, src, handler, testConfig())
	require.NoError(t, err)

	h.publish(t, `{"id":"a"}`)
	_, _ = startConsumer(t, c)

	require.Eventually(t, func() bool { return c.State() == types.StateDisabled }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, handler.recordCount())
	require.Equal(t, uint64(1), h.pending(t))

	src.set(types.MappingState{BindingID: "b", BatchSize: 5, Enabled: true})
	require.Eventually(t, func() bool { return handler.recordCount() == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestConsumer_ScheduledEvents(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{state: types.MappingState{BindingID: "b", BatchSize: 1, Enabled: false}}
	handler := &recordingHandler{}

	cfg := testConfig()
	cfg.ScheduleInterval = 30 * time.Millisecond
	c, err := NewJS(h.js, src, handler, cfg)
	require.NoError(t, err)

	_, _ = startConsumer(t, c)

	require.Eventually(t, func() bool {
		_, scheduled := handler.snapshot()
		return scheduled >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConsumer_MissingBindingIsFatal(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{err: fmt.Errorf("read binding: %w", types.ErrBindingNotFound)}

	c, err := NewJS(h.js, src, &recordingHandler{}, testConfig())
	require.NoError(t, err)

	_, done := startConsumer(t, c)

	err = waitDone(t, done)
	require.ErrorIs(t, err, types.ErrBindingNotFound)
	require.Equal(t, types.StateFatal, c.State())
}

func TestConsumer_TransientSourceErrorBacksOff(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{err: nats.ErrTimeout}
	handler := &recordingHandler{}

	c, err := NewJS(h.js, src, handler, testConfig())
	require.NoError(t, err)

	h.publish(t, `{"id":"a"}`)
	_, _ = startConsumer(t, c)

	require.Eventually(t, func() bool { return c.State() == types.StateBackoff }, 5*time.Second, 5*time.Millisecond)

	src.mu.Lock()
	src.err = nil
	src.state = types.MappingState{BindingID: "b", BatchSize: 1, Enabled: true}
	src.mu.Unlock()

	require.Eventually(t, func() bool { return handler.recordCount() == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestConsumer_RunTwice(t *testing.T) {
	h := newHarness(t)
	src := &fakeSource{state: types.MappingState{BindingID: "b", BatchSize: 1, Enabled: false}}

	c, err := NewJS(h.js, src, &recordingHandler{}, testConfig())
	require.NoError(t, err)

	_, _ = startConsumer(t, c)
	require.Eventually(t, func() bool { return c.State() == types.StateDisabled }, 5*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, c.Run(context.Background()), types.ErrAlreadyStarted)
}
