package types

import "context"

// Hooks defines callbacks for orchestrator and controller events.
//
// All hooks are optional. They run synchronously on the invocation goroutine after
// the corresponding bookkeeping completed, so they must return quickly.
//
// Hook execution behavior:
//   - Hook errors are logged but never fail the invocation
//   - The context passed to hooks is the invocation context
//
// Example:
//
//	hooks := &backflow.Hooks{
//	    OnAdjustment: func(ctx context.Context, from, to backflow.MappingState) error {
//	        log.Printf("batch size %d -> %d (enabled=%v)", from.BatchSize, to.BatchSize, to.Enabled)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnBatchProcessed is called after a stream delivery was fully processed,
	// including deliveries that end with a partial failure.
	OnBatchProcessed func(ctx context.Context, report BatchReport) error

	// OnAdjustment is called after the controller wrote a new binding state.
	OnAdjustment func(ctx context.Context, from, to MappingState) error

	// OnError is called when an invocation fails.
	OnError func(ctx context.Context, err error) error
}
