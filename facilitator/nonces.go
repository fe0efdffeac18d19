package facilitator

import "sync"

// NonceStore records consumed authorization nonces.
type NonceStore interface {
	// Used reports whether key has been consumed.
	Used(key string) bool
	// MarkUsed consumes key, returning false if it was already consumed.
	MarkUsed(key string) bool
}

// MemoryNonceStore is a process-local NonceStore.
type MemoryNonceStore struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewMemoryNonceStore creates an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{used: make(map[string]struct{})}
}

func (s *MemoryNonceStore) Used(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[key]
	return ok
}

func (s *MemoryNonceStore) MarkUsed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.used[key]; ok {
		return false
	}
	s.used[key] = struct{}{}
	return true
}

// Len returns the number of consumed nonces.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}
