package mapping

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/backflow/types"
)

// MemoryStore keeps bindings in process memory.
//
// It is used by tests and by local runs without a NATS server. Update calls are
// counted per binding so callers can check how many writes a decision produced.
type MemoryStore struct {
	mu       sync.RWMutex
	bindings map[string]types.MappingState
	updates  *xsync.Map[string, *atomic.Int64]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore seeded with the given bindings.
func NewMemoryStore(initial ...types.MappingState) *MemoryStore {
	s := &MemoryStore{
		bindings: make(map[string]types.MappingState, len(initial)),
		updates:  xsync.NewMap[string, *atomic.Int64](),
	}
	for _, state := range initial {
		s.bindings[state.BindingID] = state
	}

	return s
}

// Get returns the binding state.
func (s *MemoryStore) Get(_ context.Context, bindingID string) (types.MappingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.bindings[bindingID]
	if !ok {
		return types.MappingState{}, fmt.Errorf("%w: %s", types.ErrBindingNotFound, bindingID)
	}

	return state, nil
}

// Update overwrites the binding state.
func (s *MemoryStore) Update(_ context.Context, bindingID string, batchSize int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bindings[bindingID]; !ok {
		return fmt.Errorf("%w: %s", types.ErrBindingNotFound, bindingID)
	}
	s.bindings[bindingID] = types.MappingState{BindingID: bindingID, BatchSize: batchSize, Enabled: enabled}

	counter, _ := s.updates.LoadOrStore(bindingID, &atomic.Int64{})
	counter.Add(1)

	return nil
}

// Create adds a new binding.
func (s *MemoryStore) Create(_ context.Context, state types.MappingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bindings[state.BindingID]; ok {
		return fmt.Errorf("%w: %s", types.ErrBindingExists, state.BindingID)
	}
	s.bindings[state.BindingID] = state

	return nil
}

// UpdateCount returns how many times Update succeeded for bindingID.
func (s *MemoryStore) UpdateCount(bindingID string) int64 {
	counter, ok := s.updates.Load(bindingID)
	if !ok {
		return 0
	}

	return counter.Load()
}
