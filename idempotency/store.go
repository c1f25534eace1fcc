package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/types"
)

// StoreConfig holds optional collaborators of a Store.
type StoreConfig struct {
	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Store applies the dedup rules on top of a Backend.
type Store struct {
	backend Backend
	logger  types.Logger
	metrics types.MetricsCollector
}

// NewStore creates a Store.
//
// Parameters:
//   - backend: Outcome persistence
//   - cfg: Optional logger and metrics
//
// Returns:
//   - *Store: Store ready for use
//   - error: Missing backend
func NewStore(backend Backend, cfg StoreConfig) (*Store, error) {
	if backend == nil {
		return nil, errors.New("idempotency backend is required")
	}

	return &Store{
		backend: backend,
		logger:  logging.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}, nil
}

// FilterPending returns the tasks that still need to run in partitionKey.
//
// A task is kept when it has no outcome record, or when its record is neither
// successful nor out of attempts. Input order is preserved.
//
// Parameters:
//   - ctx: Context for the backend read
//   - tasks: Candidate tasks
//   - partitionKey: Dedup partition
//
// Returns:
//   - []types.Task: Pending tasks (nil when none)
//   - error: Backend read error
func (s *Store) FilterPending(ctx context.Context, tasks []types.Task, partitionKey string) ([]types.Task, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	keys := make([]types.OutcomeKey, 0, len(tasks))
	seen := make(map[types.OutcomeKey]struct{}, len(tasks))
	for _, task := range tasks {
		key := types.OutcomeKey{ID: task.ID, PartitionKey: partitionKey}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	records, err := s.backend.BatchGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read outcomes: %w", err)
	}

	var pending []types.Task
	resolved, poisoned := 0, 0
	for _, task := range tasks {
		rec, ok := records[types.OutcomeKey{ID: task.ID, PartitionKey: partitionKey}]
		switch {
		case !ok:
			pending = append(pending, task)
		case rec.IsSuccess:
			resolved++
		case rec.Poisoned():
			poisoned++
		default:
			pending = append(pending, task)
		}
	}

	if resolved > 0 {
		s.metrics.IncrementTasksSkipped("resolved", resolved)
	}
	if poisoned > 0 {
		s.metrics.IncrementTasksSkipped("poisoned", poisoned)
		s.logger.Warn("skipping tasks out of attempts", "count", poisoned, "partition", partitionKey)
	}

	return pending, nil
}

// RecordOutcomes stores one attempt for every result in a single transaction.
//
// Results sharing an ID are merged first, so each task gains exactly one attempt
// per call and is marked successful if any of its results succeeded.
func (s *Store) RecordOutcomes(ctx context.Context, results []types.TaskResult, partitionKey string) error {
	if len(results) == 0 {
		return nil
	}

	index := make(map[string]int, len(results))
	updates := make([]types.OutcomeUpdate, 0, len(results))
	for _, res := range results {
		if i, ok := index[res.ID]; ok {
			updates[i].IsSuccess = updates[i].IsSuccess || res.IsSuccess
			continue
		}
		index[res.ID] = len(updates)
		updates = append(updates, types.OutcomeUpdate{
			ID:            res.ID,
			PartitionKey:  partitionKey,
			IsSuccess:     res.IsSuccess,
			AttemptsDelta: 1,
		})
	}

	if err := s.backend.TransactionalUpdate(ctx, updates); err != nil {
		return fmt.Errorf("failed to record outcomes: %w", err)
	}

	return nil
}
