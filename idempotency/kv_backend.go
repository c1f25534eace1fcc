package idempotency

import (
	"cmp"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sourcegraph/conc/pool"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/internal/natsutil"
	"github.com/arloliu/backflow/types"
)

const (
	// DefaultMaxTxnRetries is the retry budget of a conflicting transaction.
	DefaultMaxTxnRetries = 5
	// DefaultReadConcurrency bounds parallel KV reads in BatchGet.
	DefaultReadConcurrency = 16
	// DefaultRollbackTimeout bounds undoing a failed transaction.
	DefaultRollbackTimeout = 5 * time.Second

	txnRetryBaseDelay = 5 * time.Millisecond
)

// KVBackendConfig configures a KVBackend. Zero values select defaults.
type KVBackendConfig struct {
	MaxTxnRetries   int
	ReadConcurrency int
	// RollbackTimeout bounds the undo writes, which run even after the caller's
	// context is cancelled.
	RollbackTimeout time.Duration

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// KVBackend stores outcome records as JSON values in a JetStream KV bucket.
//
// Keys are "<partitionKey>.<hex xxh3-128 of task ID>", which keeps arbitrary task
// IDs within the KV key alphabet and lets a whole partition be listed with
// "<partitionKey>.>".
//
// Multi-record transactions are optimistic. Each record is written with a
// revision check against the value read at the start of the attempt. When any
// write fails, the writes already applied are undone (previous value restored or
// the created key deleted, both revision-checked) and the transaction restarts
// from fresh reads. If an undo itself fails the error wraps types.ErrRollbackFailed.
type KVBackend struct {
	kv  jetstream.KeyValue
	cfg KVBackendConfig

	logger  types.Logger
	metrics types.MetricsCollector
}

var _ Backend = (*KVBackend)(nil)

// NewKVBackend creates a KVBackend on top of an existing bucket.
//
// Parameters:
//   - kv: Outcome bucket (bucket TTL bounds record retention)
//   - cfg: Tuning and collaborators
//
// Returns:
//   - *KVBackend: Backend ready for use
func NewKVBackend(kv jetstream.KeyValue, cfg KVBackendConfig) *KVBackend {
	if cfg.MaxTxnRetries <= 0 {
		cfg.MaxTxnRetries = DefaultMaxTxnRetries
	}
	if cfg.ReadConcurrency <= 0 {
		cfg.ReadConcurrency = DefaultReadConcurrency
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = DefaultRollbackTimeout
	}

	return &KVBackend{
		kv:      kv,
		cfg:     cfg,
		logger:  logging.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}
}

// OutcomeKVKey returns the bucket key of an outcome record.
func OutcomeKVKey(key types.OutcomeKey) string {
	sum := xxh3.HashString128(key.ID).Bytes()

	return key.PartitionKey + "." + hex.EncodeToString(sum[:])
}

type storedRecord struct {
	key      types.OutcomeKey
	record   types.OutcomeRecord
	raw      []byte
	revision uint64 // 0 when the key does not exist
}

func (b *KVBackend) read(ctx context.Context, key types.OutcomeKey) (storedRecord, error) {
	start := time.Now()
	entry, err := b.kv.Get(ctx, OutcomeKVKey(key))
	b.metrics.RecordKVOperationDuration("get", time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return storedRecord{key: key}, nil
		}

		return storedRecord{}, fmt.Errorf("failed to read outcome %s/%s: %w", key.PartitionKey, key.ID, err)
	}

	var rec types.OutcomeRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return storedRecord{}, fmt.Errorf("failed to decode outcome %s/%s: %w", key.PartitionKey, key.ID, err)
	}

	return storedRecord{key: key, record: rec, raw: entry.Value(), revision: entry.Revision()}, nil
}

func (b *KVBackend) readAll(ctx context.Context, keys []types.OutcomeKey) ([]storedRecord, error) {
	p := pool.NewWithResults[storedRecord]().
		WithContext(ctx).
		WithMaxGoroutines(min(b.cfg.ReadConcurrency, len(keys)))
	for _, key := range keys {
		p.Go(func(ctx context.Context) (storedRecord, error) {
			return b.read(ctx, key)
		})
	}

	return p.Wait()
}

// BatchGet reads keys in parallel and returns the existing records.
func (b *KVBackend) BatchGet(ctx context.Context, keys []types.OutcomeKey) (map[types.OutcomeKey]types.OutcomeRecord, error) {
	out := make(map[types.OutcomeKey]types.OutcomeRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	stored, err := b.readAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	for _, s := range stored {
		if s.revision > 0 {
			out[s.key] = s.record
		}
	}

	return out, nil
}

// TransactionalUpdate applies every update or none of them.
//
// Updates addressing the same record are merged before writing.
func (b *KVBackend) TransactionalUpdate(ctx context.Context, updates []types.OutcomeUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	merged, err := mergeUpdates(updates)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxTxnRetries; attempt++ {
		if attempt > 0 {
			b.metrics.IncrementTransactionRetry()
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", types.ErrTransactionAborted, ctx.Err())
			case <-time.After(time.Duration(attempt) * txnRetryBaseDelay):
			}
		}

		err := b.attempt(ctx, merged)
		if err == nil {
			return nil
		}
		if errors.Is(err, types.ErrRollbackFailed) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", types.ErrTransactionAborted, err)
		}
		lastErr = err

		b.logger.Debug("outcome transaction conflict, retrying", "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("%w after %d retries: %w", types.ErrTransactionAborted, b.cfg.MaxTxnRetries, lastErr)
}

func mergeUpdates(updates []types.OutcomeUpdate) ([]types.OutcomeUpdate, error) {
	index := make(map[types.OutcomeKey]int, len(updates))
	merged := make([]types.OutcomeUpdate, 0, len(updates))
	for _, u := range updates {
		if u.ID == "" || u.PartitionKey == "" {
			return nil, fmt.Errorf("%w: update with empty id or partition", types.ErrTransactionAborted)
		}
		if i, ok := index[u.Key()]; ok {
			merged[i].IsSuccess = merged[i].IsSuccess || u.IsSuccess
			merged[i].AttemptsDelta += u.AttemptsDelta
			continue
		}
		index[u.Key()] = len(merged)
		merged = append(merged, u)
	}

	// Writes always go in key order.
	slices.SortFunc(merged, func(a, b types.OutcomeUpdate) int {
		if c := cmp.Compare(a.PartitionKey, b.PartitionKey); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return merged, nil
}

type appliedWrite struct {
	kvKey       string
	previous    storedRecord
	newRevision uint64
}

func (b *KVBackend) attempt(ctx context.Context, updates []types.OutcomeUpdate) error {
	keys := make([]types.OutcomeKey, len(updates))
	for i, u := range updates {
		keys[i] = u.Key()
	}

	stored, err := b.readAll(ctx, keys)
	if err != nil {
		return err
	}
	current := make(map[types.OutcomeKey]storedRecord, len(stored))
	for _, s := range stored {
		current[s.key] = s
	}

	applied := make([]appliedWrite, 0, len(updates))
	for _, u := range updates {
		prev := current[u.Key()]
		next := prev.record.Apply(u)

		data, err := json.Marshal(next)
		if err != nil {
			return b.abort(ctx, applied, fmt.Errorf("failed to encode outcome %s: %w", u.ID, err))
		}

		kvKey := OutcomeKVKey(u.Key())
		start := time.Now()
		var rev uint64
		if prev.revision == 0 {
			rev, err = b.kv.Create(ctx, kvKey, data)
			b.metrics.RecordKVOperationDuration("create", time.Since(start).Seconds())
		} else {
			rev, err = b.kv.Update(ctx, kvKey, data, prev.revision)
			b.metrics.RecordKVOperationDuration("update", time.Since(start).Seconds())
		}
		if err != nil {
			return b.abort(ctx, applied, fmt.Errorf("failed to write outcome %s: %w", u.ID, err))
		}

		applied = append(applied, appliedWrite{kvKey: kvKey, previous: prev, newRevision: rev})
	}

	return nil
}

// abort undoes applied writes in reverse order and returns cause, or a rollback
// failure when an undo could not be applied.
//
// The undo ignores cancellation of ctx so a shutdown in the middle of a
// transaction cannot leave part of it committed.
func (b *KVBackend) abort(ctx context.Context, applied []appliedWrite, cause error) error {
	if len(applied) == 0 {
		return b.wrapCause(cause)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.RollbackTimeout)
	defer cancel()

	var rollbackErrs []error
	for i := len(applied) - 1; i >= 0; i-- {
		w := applied[i]

		start := time.Now()
		var err error
		if w.previous.revision == 0 {
			err = b.kv.Delete(ctx, w.kvKey, jetstream.LastRevision(w.newRevision))
		} else {
			_, err = b.kv.Update(ctx, w.kvKey, w.previous.raw, w.newRevision)
		}
		b.metrics.RecordKVOperationDuration("rollback", time.Since(start).Seconds())

		if err != nil {
			rollbackErrs = append(rollbackErrs, fmt.Errorf("key %s: %w", w.kvKey, err))
		}
	}

	if len(rollbackErrs) > 0 {
		b.logger.Error("outcome rollback failed", "cause", cause, "errors", len(rollbackErrs))
		return fmt.Errorf("%w: %w: %w", types.ErrRollbackFailed, cause, errors.Join(rollbackErrs...))
	}

	return b.wrapCause(cause)
}

func (b *KVBackend) wrapCause(cause error) error {
	if natsutil.IsRevisionConflict(cause) {
		return fmt.Errorf("revision conflict: %w", cause)
	}

	return cause
}
