package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps the checkpoint in process memory. Progress is lost on
// restart, which forces a full resync; writes stay idempotent so that is
// safe, just slow. Intended for tests and throwaway runs.
type MemoryStore struct {
	cp Checkpoint
	mu sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp, nil
}

func (s *MemoryStore) Advance(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cp.After(s.cp) {
		return nil
	}
	s.cp = cp
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
