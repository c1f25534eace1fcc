package kvutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// GetJSON reads key and decodes its value into T.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - kv: Bucket to read from
//   - key: Key to read
//
// Returns:
//   - T: Decoded value (zero when missing)
//   - uint64: Entry revision for a later Update (0 when missing)
//   - bool: false when the key does not exist or was deleted
//   - error: Read or decode error
func GetJSON[T any](ctx context.Context, kv jetstream.KeyValue, key string) (T, uint64, bool, error) {
	var zero T

	entry, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return zero, 0, false, nil
		}

		return zero, 0, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var value T
	if err := json.Unmarshal(entry.Value(), &value); err != nil {
		return zero, 0, false, fmt.Errorf("failed to decode key %s: %w", key, err)
	}

	return value, entry.Revision(), true, nil
}

// CreateJSON encodes value and writes it only if key does not exist.
//
// Returns the new revision. A key that already exists surfaces as
// jetstream.ErrKeyExists.
func CreateJSON(ctx context.Context, kv jetstream.KeyValue, key string, value any) (uint64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("failed to encode key %s: %w", key, err)
	}

	return kv.Create(ctx, key, data)
}

// UpdateJSON encodes value and writes it only if key is still at revision.
func UpdateJSON(ctx context.Context, kv jetstream.KeyValue, key string, value any, revision uint64) (uint64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("failed to encode key %s: %w", key, err)
	}

	return kv.Update(ctx, key, data, revision)
}
