package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// apiKeyBytes is the number of random bytes behind each API key.
	apiKeyBytes = 32

	// bcryptCost matches the cost the original deployment hashed with.
	bcryptCost = 10

	minPasswordLen = 8
)

// ErrInvalidInput is returned by Register for missing or weak fields.
var ErrInvalidInput = errors.New("username and a password of at least 8 characters are required")

// Service implements account registration and API-key resolution on top of
// a Store.
type Service struct {
	store Store
}

// NewService creates an account service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates an account with a bcrypt-hashed password and a freshly
// generated API key, returning the new user including the key.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	if username == "" || len(password) < minPasswordLen {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	key := make([]byte, apiKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating api key: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		APIKey:       hex.EncodeToString(key),
		CreatedAt:    time.Now(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ResolveAPIKey returns the account holding apiKey, or nil if none does.
func (s *Service) ResolveAPIKey(ctx context.Context, apiKey string) (*User, error) {
	if apiKey == "" {
		return nil, nil
	}
	return s.store.GetByAPIKey(ctx, apiKey)
}

// VerifyPassword checks username/password against the stored hash, returning
// the account on success or nil when either is wrong.
func (s *Service) VerifyPassword(ctx context.Context, username, password string) (*User, error) {
	u, err := s.store.GetByUsername(ctx, username)
	if err != nil || u == nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, nil
	}
	return u, nil
}
