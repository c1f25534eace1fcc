package natsutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/backflow/types"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", types.ErrConnectivity, true},
		{"timeout", nats.ErrTimeout, true},
		{"wrapped no servers", fmt.Errorf("fetch: %w", nats.ErrNoServers), true},
		{"no responders", nats.ErrNoResponders, true},
		{"refused text", errors.New("dial tcp: connection refused"), true},
		{"other", errors.New("bad payload"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestIsRevisionConflict(t *testing.T) {
	require.False(t, IsRevisionConflict(nil))
	require.True(t, IsRevisionConflict(jetstream.ErrKeyExists))
	require.True(t, IsRevisionConflict(fmt.Errorf("update: %w", jetstream.ErrKeyExists)))
	require.True(t, IsRevisionConflict(errors.New("nats: wrong last sequence: 4")))
	require.False(t, IsRevisionConflict(jetstream.ErrKeyNotFound))
}
