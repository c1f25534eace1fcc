package testing

import (
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)

	require.NotNil(t, ns)
	require.NotNil(t, nc)
	require.True(t, nc.IsConnected())
	require.True(t, ns.JetStreamEnabled())
}

func TestCreateJetStreamKV(t *testing.T) {
	_, nc := StartEmbeddedNATS(t)

	kv := CreateJetStreamKV(t, nc, "test-bucket")
	require.NotNil(t, kv)

	rev, err := kv.Put(t.Context(), "key", []byte("value"))
	require.NoError(t, err)
	require.Positive(t, rev)

	entry, err := kv.Get(t.Context(), "key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), entry.Value())
}

func TestCreateStream(t *testing.T) {
	_, nc := StartEmbeddedNATS(t)

	stream := CreateStream(t, nc, "TASKS", "tasks.>")
	require.NotNil(t, stream)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	_, err = js.Publish(t.Context(), "tasks.new", []byte(`{"id":"a"}`))
	require.NoError(t, err)

	info, err := stream.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.State.Msgs)
}

func TestRecordingLogger(t *testing.T) {
	logger := NewRecordingLogger()

	logger.Info("incrementing batch size to 5", "binding", "b")
	logger.Warn("already at batch size of 1, disabling")

	require.Len(t, logger.Lines(), 2)
	require.True(t, logger.Contains("incrementing batch size to 5"))
	require.True(t, logger.Contains("disabling"))
	require.False(t, logger.Contains("enabling stream"))
}
