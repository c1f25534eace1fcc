package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the Backflow library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Orchestrator, Controller, Store, Consumer)
//   - Use consistent messages across similar error types

// Service errors - Public API errors returned by the Service component.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrWorkerRequired is returned when no worker is supplied to the executor.
	ErrWorkerRequired = errors.New("worker is required")

	// ErrAlreadyStarted is returned when Start is called on an already running service.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrNotStarted is returned when operations require a started service.
	ErrNotStarted = errors.New("service not started")
)

// Orchestrator errors - returned from batch and schedule handling.
var (
	// ErrBatchPartialFailure signals that at least one task in the batch failed.
	//
	// It is returned only after outcomes were recorded and the controller adjusted.
	// The stream consumer reacts to it by requesting redelivery of the whole batch.
	ErrBatchPartialFailure = errors.New("batch contains partial failure")

	// ErrUnknownEvent is returned when an event carries an unknown kind marker.
	ErrUnknownEvent = errors.New("unknown event kind")

	// ErrMalformedRecord marks a stream record whose payload cannot be decoded into a task.
	ErrMalformedRecord = errors.New("malformed stream record")
)

// Controller errors - returned by the mapping controller and its stores.
var (
	// ErrBindingNotFound is returned when no consumer binding exists.
	//
	// This is a configuration error, not a retryable condition.
	ErrBindingNotFound = errors.New("consumer binding not found")

	// ErrBindingExists is returned when provisioning a binding that already exists.
	ErrBindingExists = errors.New("consumer binding already exists")

	// ErrMappingUpdate is returned when writing the binding state fails.
	ErrMappingUpdate = errors.New("failed to update consumer binding")

	// ErrInvalidBatchSize is returned when a batch size falls outside [1, max].
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// Store errors - returned by the idempotency store and its backends.
var (
	// ErrTransactionAborted is returned when a multi-key outcome update could not commit.
	//
	// No entry of the aborted transaction is visible to readers afterwards.
	ErrTransactionAborted = errors.New("outcome transaction aborted")

	// ErrRollbackFailed is returned when compensating a partially applied transaction failed.
	ErrRollbackFailed = errors.New("outcome transaction rollback failed")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrConnectivity indicates a NATS/KV connectivity issue.
	// This is used to distinguish network failures from application errors.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrContextCanceled is returned when an operation is canceled by context.
	ErrContextCanceled = errors.New("operation canceled by context")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}

// IsPartialFailure reports whether err is (or wraps) ErrBatchPartialFailure.
func IsPartialFailure(err error) bool {
	return errors.Is(err, ErrBatchPartialFailure)
}

// IsFatal reports whether err must stop the consumer instead of triggering redelivery.
//
// Only configuration errors are fatal; everything else is retried by the platform.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBindingNotFound) || errors.Is(err, ErrInvalidConfig)
}
