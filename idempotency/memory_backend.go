package idempotency

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/backflow/types"
)

// MemoryBackend keeps outcome records in a map guarded by a mutex.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[types.OutcomeKey]types.OutcomeRecord
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[types.OutcomeKey]types.OutcomeRecord)}
}

// BatchGet returns the stored records among keys.
func (b *MemoryBackend) BatchGet(ctx context.Context, keys []types.OutcomeKey) (map[types.OutcomeKey]types.OutcomeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[types.OutcomeKey]types.OutcomeRecord, len(keys))
	for _, key := range keys {
		if rec, ok := b.records[key]; ok {
			out[key] = rec
		}
	}

	return out, nil
}

// TransactionalUpdate applies all updates under one lock.
func (b *MemoryBackend) TransactionalUpdate(ctx context.Context, updates []types.OutcomeUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, u := range updates {
		if u.ID == "" || u.PartitionKey == "" {
			return fmt.Errorf("%w: update with empty id or partition", types.ErrTransactionAborted)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, u := range updates {
		key := u.Key()
		b.records[key] = b.records[key].Apply(u)
	}

	return nil
}

// Put stores rec as is, replacing any existing record.
func (b *MemoryBackend) Put(rec types.OutcomeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records[rec.Key()] = rec
}

// Get returns the stored record for key.
func (b *MemoryBackend) Get(key types.OutcomeKey) (types.OutcomeRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[key]

	return rec, ok
}
