// Package types provides core type definitions and interfaces for the Backflow library.
//
// This package contains shared types that are used across multiple packages in the
// Backflow library. By keeping these types in a separate package, we avoid import cycles
// between the main backflow package and its internal implementations.
//
// Key types:
//   - Task, TaskResult: Units of work and their execution outcome
//   - OutcomeRecord: Per-task idempotency record for one dedup partition
//   - MappingState: Consumer binding state (batch size, enabled flag)
//   - Event: Stream delivery or scheduled tick handed to the orchestrator
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
