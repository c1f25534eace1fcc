package idempotency

import (
	"context"

	"github.com/arloliu/backflow/types"
)

// Backend is the persistence contract of the outcome store.
type Backend interface {
	// BatchGet returns the existing records among keys. Missing keys are absent
	// from the result.
	BatchGet(ctx context.Context, keys []types.OutcomeKey) (map[types.OutcomeKey]types.OutcomeRecord, error)

	// TransactionalUpdate applies every update or none of them.
	//
	// For each update the stored IsSuccess becomes stored || update.IsSuccess and
	// Attempts grows by AttemptsDelta. Missing records start from zero.
	TransactionalUpdate(ctx context.Context, updates []types.OutcomeUpdate) error
}
