package users

import (
	"context"
	"sync"
)

// MemoryStore implements Store using in-memory maps. Accounts are lost on
// process exit; intended for anonymous or single-tenant deployments and
// tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byUsername map[string]*User
	byAPIKey   map[string]*User
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUsername: make(map[string]*User),
		byAPIKey:   make(map[string]*User),
	}
}

// Create persists a new account.
func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[u.Username]; ok {
		return ErrUsernameTaken
	}
	cp := *u
	s.byUsername[u.Username] = &cp
	s.byAPIKey[u.APIKey] = &cp
	return nil
}

// GetByAPIKey returns the account holding apiKey, or nil.
func (s *MemoryStore) GetByAPIKey(_ context.Context, apiKey string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byAPIKey[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// GetByUsername returns the account for username, or nil.
func (s *MemoryStore) GetByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// Close releases backend resources. It is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
