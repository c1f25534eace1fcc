package backflow

import "github.com/arloliu/backflow/types"

// Sentinel errors re-exported from the types package.
var (
	ErrInvalidConfig          = types.ErrInvalidConfig
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired
	ErrWorkerRequired         = types.ErrWorkerRequired
	ErrAlreadyStarted         = types.ErrAlreadyStarted
	ErrNotStarted             = types.ErrNotStarted
	ErrBatchPartialFailure    = types.ErrBatchPartialFailure
	ErrUnknownEvent           = types.ErrUnknownEvent
	ErrMalformedRecord        = types.ErrMalformedRecord
	ErrBindingNotFound        = types.ErrBindingNotFound
	ErrBindingExists          = types.ErrBindingExists
	ErrMappingUpdate          = types.ErrMappingUpdate
	ErrInvalidBatchSize       = types.ErrInvalidBatchSize
	ErrTransactionAborted     = types.ErrTransactionAborted
	ErrRollbackFailed         = types.ErrRollbackFailed
)

// IsPartialFailure reports whether err is (or wraps) ErrBatchPartialFailure.
func IsPartialFailure(err error) bool {
	return types.IsPartialFailure(err)
}
