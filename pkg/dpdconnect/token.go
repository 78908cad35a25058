package dpdconnect

import (
	"context"
	"sync"
)

// TokenStore holds the carrier JWT token across requests. The HTTP client
// calls Set whenever it obtains a fresh token, so implementations backed
// by durable storage survive process restarts.
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Get returns the stored token, empty when none was set yet.
func (s *MemoryTokenStore) Get(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Set replaces the stored token.
func (s *MemoryTokenStore) Set(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

var _ TokenStore = (*MemoryTokenStore)(nil)
