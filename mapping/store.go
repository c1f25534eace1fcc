package mapping

import (
	"context"

	"github.com/arloliu/backflow/types"
)

// Store reads and writes binding state.
//
// Implementations must return an error wrapping types.ErrBindingNotFound when the
// binding does not exist, both from Get and from Update.
type Store interface {
	// Get returns the current state of the binding.
	Get(ctx context.Context, bindingID string) (types.MappingState, error)

	// Update overwrites the batch size and enabled flag of an existing binding.
	Update(ctx context.Context, bindingID string, batchSize int, enabled bool) error
}
