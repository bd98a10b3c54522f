// Package registry provides the in-memory mapping from session identifier to
// live connection handle. It is the single source of truth for whether a
// session is currently connected. A Registry is an injected instance with no
// package-level state, so tests can run isolated registries side by side.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/chatgate/chatgate/pkg/protocol"
)

// ErrAlreadyExists is returned by Register when a live handle is already
// registered for the session ID.
var ErrAlreadyExists = errors.New("session already registered")

// State is the lifecycle state of a registered session.
type State string

// Session lifecycle states.
const (
	StateCreated          State = "created"
	StatePairingRequested State = "pairing_requested"
	StateConnected        State = "connected"
	StateDisconnected     State = "disconnected"
	StateClosed           State = "closed"
)

// Session is the live registry entry for one session: the protocol handle
// plus connection metadata. Mutable fields are guarded internally; a Session
// is safe for concurrent use.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// OwnerID identifies the session owner; empty in anonymous deployments.
	OwnerID string

	// PhoneNumber is the number being paired.
	PhoneNumber string

	// CreatedAt is when the handle was registered.
	CreatedAt time.Time

	// Client is the live protocol handle. Set once before Register.
	Client protocol.Client

	mu           sync.Mutex
	state        State
	lastActiveAt time.Time
	closed       bool
	cleanups     []func()
}

// NewSession creates a registry entry in the Created state.
func NewSession(id, ownerID, phoneNumber string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		OwnerID:      ownerID,
		PhoneNumber:  phoneNumber,
		CreatedAt:    now,
		state:        StateCreated,
		lastActiveAt: now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// LastActiveAt returns the most recent activity timestamp.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// TouchActive refreshes the activity timestamp.
func (s *Session) TouchActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

// AddCleanup registers a function run exactly once when the session is torn
// down. The lifecycle manager uses this for event unsubscription and watcher
// cancellation. If teardown already happened, fn runs immediately: a handler
// racing RunCleanups must not leave its cancellation registered on a dead
// session.
func (s *Session) AddCleanup(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Closed reports whether RunCleanups has torn the session down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RunCleanups marks the session torn down, then runs and clears all
// registered cleanup functions.
func (s *Session) RunCleanups() {
	s.mu.Lock()
	fns := s.cleanups
	s.cleanups = nil
	s.closed = true
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Registry is a concurrent map of live sessions. Its only invariant is
// uniqueness of live handles per session ID, enforced by Register.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds a session, failing with ErrAlreadyExists if the ID is taken.
// The uniqueness check and the insert are one critical section.
func (r *Registry) Register(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sess.ID]; ok {
		return ErrAlreadyExists
	}
	r.sessions[sess.ID] = sess
	return nil
}

// Get returns the session for id, or nil if none is registered.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove unregisters sess only if it is still the registered handle for its
// ID. It reports whether the entry was removed. A stale event for an old
// handle must not evict a freshly re-created session under the same ID.
func (r *Registry) Remove(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[sess.ID] != sess {
		return false
	}
	delete(r.sessions, sess.ID)
	return true
}

// Unregister removes and returns the session for id, or nil if absent.
func (r *Registry) Unregister(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return sess
}

// List returns sessions scoped to ownerID, or all sessions when ownerID is
// empty.
func (r *Registry) List(ownerID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if ownerID != "" && sess.OwnerID != ownerID {
			continue
		}
		result = append(result, sess)
	}
	return result
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
