// Package credstore provides durable persistence for per-session protocol
// credentials. It defines the Store interface the lifecycle manager binds to
// a protocol client as its auth-state provider, and the Record type holding
// one session's credential blob and keyed secondary key material.
package credstore

import (
	"context"
	"time"
)

// Record is the persisted auth material and metadata for one session.
type Record struct {
	// SessionID is the unique session identifier.
	SessionID string

	// OwnerID identifies the account that owns the session. Empty in
	// anonymous deployments.
	OwnerID string

	// PhoneNumber is the number the session was paired against.
	PhoneNumber string

	// Credentials is the opaque credential blob owned by the protocol
	// client. Nil until the client signals its first rotation.
	Credentials []byte

	// Keys holds the secondary key material the protocol client reads and
	// writes during the handshake, keyed by client-chosen names.
	Keys map[string][]byte

	// CreatedAt is when the record was first created.
	CreatedAt time.Time

	// LastActiveAt is the most recent session activity timestamp.
	LastActiveAt time.Time
}

// Clone returns a deep copy of the record. Stores return clones so callers
// cannot mutate shared state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Credentials != nil {
		cp.Credentials = append([]byte(nil), r.Credentials...)
	}
	cp.Keys = make(map[string][]byte, len(r.Keys))
	for k, v := range r.Keys {
		cp.Keys[k] = append([]byte(nil), v...)
	}
	return &cp
}

// Store defines the interface for credential persistence. Implementations
// serialize writes per session so concurrent SetKey and SetCredentials calls
// never lose updates.
//
// Get-style methods return nil with a nil error when the requested session or
// key is absent; a non-nil error always indicates a backing-store failure.
type Store interface {
	// Load retrieves the record for a session, creating an empty one if
	// absent. It never errors on a missing session.
	Load(ctx context.Context, sessionID string) (*Record, error)

	// UpdateMeta sets the owner and phone number on a session's record.
	UpdateMeta(ctx context.Context, sessionID, ownerID, phoneNumber string) error

	// GetCredentials returns the credential blob, or nil if unset.
	GetCredentials(ctx context.Context, sessionID string) ([]byte, error)

	// SetCredentials overwrites the credential blob. The write is durable
	// (or visible, for volatile backings) before the call returns.
	SetCredentials(ctx context.Context, sessionID string, creds []byte) error

	// GetKey returns the value stored under key, or nil if unset.
	GetKey(ctx context.Context, sessionID, key string) ([]byte, error)

	// SetKey stores value under key. A nil value removes the key.
	SetKey(ctx context.Context, sessionID, key string, value []byte) error

	// Touch refreshes the record's LastActiveAt timestamp.
	Touch(ctx context.Context, sessionID string) error

	// List returns records scoped to ownerID, or all records when ownerID
	// is empty.
	List(ctx context.Context, ownerID string) ([]*Record, error)

	// Delete removes the record. It is terminal: a subsequent Load
	// recreates a fresh empty record rather than erroring.
	Delete(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}
