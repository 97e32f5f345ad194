package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore holds one record per user in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put records data for a user.
func (s *MemoryStore) Put(userID string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = rec
}

// Delete removes a user's record.
func (s *MemoryStore) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
}

func (s *MemoryStore) Lookup(ctx context.Context, userID string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	return rec, ok, nil
}

var _ Store = (*MemoryStore)(nil)
