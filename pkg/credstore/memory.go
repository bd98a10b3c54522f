package credstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory map. It is intended for
// environments without persistent storage; all credentials are lost on
// process exit.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Load retrieves the record for a session, creating an empty one if absent.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked(sessionID).Clone(), nil
}

// loadLocked returns the live record for sessionID, creating it if needed.
// Callers must hold mu.
func (s *MemoryStore) loadLocked(sessionID string) *Record {
	rec, ok := s.records[sessionID]
	if !ok {
		now := time.Now()
		rec = &Record{
			SessionID:    sessionID,
			Keys:         make(map[string][]byte),
			CreatedAt:    now,
			LastActiveAt: now,
		}
		s.records[sessionID] = rec
	}
	return rec
}

// UpdateMeta sets the owner and phone number on a session's record.
func (s *MemoryStore) UpdateMeta(_ context.Context, sessionID, ownerID, phoneNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.loadLocked(sessionID)
	rec.OwnerID = ownerID
	rec.PhoneNumber = phoneNumber
	return nil
}

// GetCredentials returns the credential blob, or nil if unset.
func (s *MemoryStore) GetCredentials(_ context.Context, sessionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok || rec.Credentials == nil {
		return nil, nil
	}
	return append([]byte(nil), rec.Credentials...), nil
}

// SetCredentials overwrites the credential blob.
func (s *MemoryStore) SetCredentials(_ context.Context, sessionID string, creds []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.loadLocked(sessionID)
	rec.Credentials = append([]byte(nil), creds...)
	rec.LastActiveAt = time.Now()
	return nil
}

// GetKey returns the value stored under key, or nil if unset.
func (s *MemoryStore) GetKey(_ context.Context, sessionID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil, nil
	}
	val, ok := rec.Keys[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), val...), nil
}

// SetKey stores value under key. A nil value removes the key.
func (s *MemoryStore) SetKey(_ context.Context, sessionID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.loadLocked(sessionID)
	if value == nil {
		delete(rec.Keys, key)
		return nil
	}
	rec.Keys[key] = append([]byte(nil), value...)
	return nil
}

// Touch refreshes the record's LastActiveAt timestamp.
func (s *MemoryStore) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[sessionID]; ok {
		rec.LastActiveAt = time.Now()
	}
	return nil
}

// List returns records scoped to ownerID, or all records when ownerID is empty.
func (s *MemoryStore) List(_ context.Context, ownerID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if ownerID != "" && rec.OwnerID != ownerID {
			continue
		}
		result = append(result, rec.Clone())
	}
	return result, nil
}

// Delete removes the record.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, sessionID)
	return nil
}

// Close releases backend resources. It is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
