package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backflow/internal/kvutil"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/internal/natsutil"
	"github.com/arloliu/backflow/types"
)

const (
	bindingKeyPrefix = "binding."
	// updateRetries bounds CAS retries when another writer races on the same binding.
	updateRetries = 3
)

// KVStore persists bindings as JSON values in a JetStream KV bucket.
//
// Each binding lives under "binding.<bindingID>". Writes are revision-checked so
// two controllers writing at once never interleave a partial value.
type KVStore struct {
	kv      jetstream.KeyValue
	metrics types.MetricsCollector
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates a KVStore on top of an existing bucket.
//
// Parameters:
//   - kv: Bucket holding bindings
//   - mc: Metrics collector for KV latencies (nil for no-op)
//
// Returns:
//   - *KVStore: Store ready for use
func NewKVStore(kv jetstream.KeyValue, mc types.MetricsCollector) *KVStore {
	return &KVStore{kv: kv, metrics: metrics.OrNop(mc)}
}

// ValidateBindingID reports whether id is usable as a binding identifier.
func ValidateBindingID(id string) error {
	if !natsutil.IsValidToken(id) {
		return fmt.Errorf("%w: binding id %q must be letters, digits, '-' or '_'", types.ErrInvalidConfig, id)
	}

	return nil
}

func bindingKey(bindingID string) string {
	return bindingKeyPrefix + bindingID
}

// Get returns the binding state.
func (s *KVStore) Get(ctx context.Context, bindingID string) (types.MappingState, error) {
	state, _, err := s.get(ctx, bindingID)

	return state, err
}

func (s *KVStore) get(ctx context.Context, bindingID string) (types.MappingState, uint64, error) {
	if err := ValidateBindingID(bindingID); err != nil {
		return types.MappingState{}, 0, err
	}

	start := time.Now()
	state, rev, found, err := kvutil.GetJSON[types.MappingState](ctx, s.kv, bindingKey(bindingID))
	s.metrics.RecordKVOperationDuration("get", time.Since(start).Seconds())
	if err != nil {
		return types.MappingState{}, 0, err
	}
	if !found {
		return types.MappingState{}, 0, fmt.Errorf("%w: %s", types.ErrBindingNotFound, bindingID)
	}

	return state, rev, nil
}

// Update overwrites the batch size and enabled flag.
//
// Concurrent writers resolve last-write-wins: the new values are decided by the
// caller, and a revision conflict only triggers a reread and the same write
// again. The revision check guarantees the binding still exists, so an update
// never recreates a deleted binding.
func (s *KVStore) Update(ctx context.Context, bindingID string, batchSize int, enabled bool) error {
	var lastErr error
	for range updateRetries {
		_, rev, err := s.get(ctx, bindingID)
		if err != nil {
			return err
		}

		start := time.Now()
		next := types.MappingState{BindingID: bindingID, BatchSize: batchSize, Enabled: enabled}
		_, err = kvutil.UpdateJSON(ctx, s.kv, bindingKey(bindingID), next, rev)
		s.metrics.RecordKVOperationDuration("update", time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		if !natsutil.IsRevisionConflict(err) {
			return fmt.Errorf("failed to update binding %s: %w", bindingID, err)
		}
		lastErr = err
	}

	return fmt.Errorf("failed to update binding %s after %d attempts: %w", bindingID, updateRetries, lastErr)
}

// Create provisions a new binding.
//
// Returns an error wrapping types.ErrBindingExists if the binding is already present.
func (s *KVStore) Create(ctx context.Context, state types.MappingState) error {
	if err := ValidateBindingID(state.BindingID); err != nil {
		return err
	}

	start := time.Now()
	_, err := kvutil.CreateJSON(ctx, s.kv, bindingKey(state.BindingID), state)
	s.metrics.RecordKVOperationDuration("create", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s", types.ErrBindingExists, state.BindingID)
		}

		return fmt.Errorf("failed to create binding %s: %w", state.BindingID, err)
	}

	return nil
}

// Watch streams the binding's state every time it is written.
//
// The current value is delivered first when the binding exists. The channel is
// closed when ctx is canceled or the watcher stops; undecodable entries and
// deletes are skipped.
//
// Parameters:
//   - ctx: Lifetime of the watch
//   - bindingID: Binding to watch
//
// Returns:
//   - <-chan types.MappingState: State updates in write order
//   - error: Invalid binding ID or watcher creation error
func (s *KVStore) Watch(ctx context.Context, bindingID string) (<-chan types.MappingState, error) {
	if err := ValidateBindingID(bindingID); err != nil {
		return nil, err
	}

	watcher, err := s.kv.Watch(ctx, bindingKey(bindingID))
	if err != nil {
		return nil, fmt.Errorf("failed to watch binding %s: %w", bindingID, err)
	}

	out := make(chan types.MappingState)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values.
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}

				var state types.MappingState
				if err := json.Unmarshal(entry.Value(), &state); err != nil {
					continue
				}

				select {
				case out <- state:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
