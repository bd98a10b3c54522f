// Package users provides owner accounts for the gateway: registration with
// bcrypt-hashed passwords and opaque API keys that scope which sessions a
// caller may list and delete.
package users

import (
	"context"
	"errors"
	"time"
)

// ErrUsernameTaken is returned by Store.Create for duplicate usernames.
var ErrUsernameTaken = errors.New("username already taken")

// User is an owner account.
type User struct {
	// ID is the stable owner identifier sessions are scoped to.
	ID string

	// Username is unique across the deployment.
	Username string

	// PasswordHash is the bcrypt hash of the account password.
	PasswordHash []byte

	// APIKey is the opaque key presented in the X-API-Key header.
	APIKey string

	// CreatedAt is when the account was registered.
	CreatedAt time.Time
}

// Store defines the interface for account persistence.
//
// Get-style methods return nil with a nil error when no account matches; a
// non-nil error always indicates a backing-store failure.
type Store interface {
	// Create persists a new account, failing with ErrUsernameTaken when
	// the username exists.
	Create(ctx context.Context, u *User) error

	// GetByAPIKey returns the account holding apiKey, or nil.
	GetByAPIKey(ctx context.Context, apiKey string) (*User, error)

	// GetByUsername returns the account for username, or nil.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// Close releases backend resources.
	Close() error
}
