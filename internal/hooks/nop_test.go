package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/backflow/types"
)

func TestNewNop(t *testing.T) {
	hooks := NewNop()

	require.NotNil(t, hooks.OnBatchProcessed)
	require.NotNil(t, hooks.OnAdjustment)
	require.NotNil(t, hooks.OnError)

	ctx := context.Background()
	require.NoError(t, hooks.OnBatchProcessed(ctx, types.BatchReport{Pending: 3, Succeeded: 3}))
	require.NoError(t, hooks.OnAdjustment(ctx,
		types.MappingState{BindingID: "b", BatchSize: 2, Enabled: true},
		types.MappingState{BindingID: "b", BatchSize: 1, Enabled: true},
	))
	require.NoError(t, hooks.OnError(ctx, errors.New("boom")))
}

func TestFill(t *testing.T) {
	t.Run("nil hooks", func(t *testing.T) {
		h := Fill(nil)
		require.NotNil(t, h.OnBatchProcessed)
		require.NotNil(t, h.OnAdjustment)
		require.NotNil(t, h.OnError)
	})

	t.Run("keeps custom callbacks", func(t *testing.T) {
		var got error
		custom := &types.Hooks{
			OnError: func(_ context.Context, err error) error {
				got = err
				return nil
			},
		}

		h := Fill(custom)
		require.NotNil(t, h.OnBatchProcessed)
		require.NotNil(t, h.OnAdjustment)

		boom := errors.New("boom")
		require.NoError(t, h.OnError(context.Background(), boom))
		require.ErrorIs(t, got, boom)
	})
}
