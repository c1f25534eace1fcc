package hooks

import (
	"context"

	"github.com/arloliu/backflow/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.BatchReport) error                      = (*NopHooks)(nil).OnBatchProcessed
	_ func(context.Context, types.MappingState, types.MappingState) error = (*NopHooks)(nil).OnAdjustment
	_ func(context.Context, error) error                                  = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnBatchProcessed: h.OnBatchProcessed,
		OnAdjustment:     h.OnAdjustment,
		OnError:          h.OnError,
	}
}

// Fill returns a copy of h where every nil callback is replaced by its no-op.
func Fill(h *types.Hooks) types.Hooks {
	nop := NewNop()
	if h == nil {
		return nop
	}

	out := *h
	if out.OnBatchProcessed == nil {
		out.OnBatchProcessed = nop.OnBatchProcessed
	}
	if out.OnAdjustment == nil {
		out.OnAdjustment = nop.OnAdjustment
	}
	if out.OnError == nil {
		out.OnError = nop.OnError
	}

	return out
}

// OnBatchProcessed is a no-op implementation.
func (h *NopHooks) OnBatchProcessed(_ context.Context, _ types.BatchReport) error {
	return nil
}

// OnAdjustment is a no-op implementation.
func (h *NopHooks) OnAdjustment(_ context.Context, _, _ types.MappingState) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
