package consumer

import (
	"context"

	"github.com/arloliu/backflow/types"
)

// Handler processes the events produced by the pull loop.
//
// Stream events carry every message of one pull. A nil error acks all of them;
// any error naks all of them so the identical set is redelivered. The loop is
// single-threaded: the next pull starts only after Handle returns.
type Handler interface {
	Handle(ctx context.Context, event types.Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, event types.Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event types.Event) error { return f(ctx, event) }

// StateSource supplies the binding state read before every pull.
type StateSource interface {
	Refresh(ctx context.Context) (types.MappingState, error)
}
