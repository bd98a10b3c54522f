// Package manager orchestrates the session lifecycle: creating protocol
// connections bound to persisted credentials, reacting to connection-state
// transitions, and tearing sessions down. It owns the reconnect-vs-terminal
// policy around connection closes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatgate/chatgate/pkg/credstore"
	"github.com/chatgate/chatgate/pkg/protocol"
	"github.com/chatgate/chatgate/pkg/registry"
)

// Sentinel errors mapped to HTTP statuses at the API boundary.
var (
	// ErrInvalidInput means the session ID or phone number is missing.
	ErrInvalidInput = errors.New("session id and phone number are required")

	// ErrAlreadyExists means a live handle is already registered for the
	// session ID, or the ID belongs to another owner.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrNotFound means no session owned by the caller matches.
	ErrNotFound = errors.New("session not found")

	// ErrBackoff means the session closed recently and re-pairing is
	// gated by the reconnect cooldown.
	ErrBackoff = errors.New("session is cooling down, retry later")
)

const (
	defaultPairingTimeout     = 2 * time.Minute
	defaultShutdownTimeout    = 5 * time.Second
	defaultStatusPollInterval = 30 * time.Second
	defaultCooldownMin        = 5 * time.Second
	defaultCooldownMax        = 60 * time.Second
	defaultReapInterval       = time.Minute

	slogKeyError   = "error"
	slogKeySession = "session_id"
)

// Config configures the lifecycle manager.
type Config struct {
	// PairingTimeout bounds the pairing-code request.
	PairingTimeout time.Duration

	// ShutdownTimeout bounds graceful disconnects.
	ShutdownTimeout time.Duration

	// StatusPollInterval is the status watcher's poll period.
	StatusPollInterval time.Duration

	// PurgeOnDelete removes the credential record on explicit delete.
	// Transient disconnects always retain it.
	PurgeOnDelete bool

	// CooldownMin and CooldownMax bound the exponential re-pairing
	// cooldown armed after transient closes.
	CooldownMin time.Duration
	CooldownMax time.Duration

	// IdleTTL force-closes connected sessions idle past the duration.
	// Zero disables reaping.
	IdleTTL time.Duration

	// ReapInterval is the idle-session reaper's tick period.
	ReapInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.PairingTimeout == 0 {
		c.PairingTimeout = defaultPairingTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.StatusPollInterval == 0 {
		c.StatusPollInterval = defaultStatusPollInterval
	}
	if c.CooldownMin == 0 {
		c.CooldownMin = defaultCooldownMin
	}
	if c.CooldownMax == 0 {
		c.CooldownMax = defaultCooldownMax
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = defaultReapInterval
	}
}

// SessionInfo is the caller-facing view of one session, live or persisted.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	State        string    `json:"state"`
	Connected    bool      `json:"connected"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// cooldown tracks the re-pairing gate for one session after transient closes.
type cooldown struct {
	until time.Time
	wait  time.Duration
}

// Manager is the session lifecycle manager.
type Manager struct {
	cfg    Config
	store  credstore.Store
	reg    *registry.Registry
	dialer protocol.Dialer

	mu        sync.Mutex
	cooldowns map[string]*cooldown

	reapCancel context.CancelFunc
	reapDone   chan struct{}
}

// New creates a lifecycle manager over the given credential store, session
// registry and protocol dialer.
func New(store credstore.Store, reg *registry.Registry, dialer protocol.Dialer, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		store:     store,
		reg:       reg,
		dialer:    dialer,
		cooldowns: make(map[string]*cooldown),
	}
}

// Create establishes a new session: it reserves the session ID in the
// registry, loads or creates the credential record, dials the protocol
// client bound to that record, and requests a pairing code. On any failure
// the registry entry is rolled back so the ID is not left half-registered.
func (m *Manager) Create(ctx context.Context, sessionID, phoneNumber, ownerID string) (string, error) {
	if sessionID == "" || phoneNumber == "" {
		return "", ErrInvalidInput
	}

	if wait, ok := m.cooldownRemaining(sessionID); ok {
		return "", fmt.Errorf("%w (%s remaining)", ErrBackoff, wait.Round(time.Second))
	}

	// Reserve the ID before any blocking I/O. Concurrent creates for the
	// same ID race on this single critical section: exactly one wins.
	sess := registry.NewSession(sessionID, ownerID, phoneNumber)
	if err := m.reg.Register(sess); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			return "", ErrAlreadyExists
		}
		return "", err
	}

	code, err := m.pair(ctx, sess)
	if err != nil {
		sess.RunCleanups()
		m.reg.Remove(sess)
		return "", err
	}
	return code, nil
}

// pair performs the store and protocol work for Create. The caller rolls
// back the registry entry on error.
func (m *Manager) pair(ctx context.Context, sess *registry.Session) (string, error) {
	rec, err := m.store.Load(ctx, sess.ID)
	if err != nil {
		return "", fmt.Errorf("loading credential record: %w", err)
	}
	if rec.OwnerID != "" && rec.OwnerID != sess.OwnerID {
		// The persisted record belongs to someone else; the ID is taken.
		return "", ErrAlreadyExists
	}
	if err := m.store.UpdateMeta(ctx, sess.ID, sess.OwnerID, sess.PhoneNumber); err != nil {
		return "", fmt.Errorf("binding session owner: %w", err)
	}

	client, err := m.dialer.Dial(ctx, sess.ID, m.store)
	if err != nil {
		return "", fmt.Errorf("dialing protocol client: %w", err)
	}
	sess.Client = client

	cancelCreds := client.OnCredentialsUpdate(func(creds []byte) {
		m.persistCredentials(sess.ID, creds)
	})
	sess.AddCleanup(cancelCreds)

	cancelConn := client.OnConnectionUpdate(func(ev protocol.ConnectionEvent) {
		m.handleConnectionUpdate(sess, ev)
	})
	sess.AddCleanup(cancelConn)

	sess.SetState(registry.StatePairingRequested)

	pairCtx, cancel := context.WithTimeout(ctx, m.cfg.PairingTimeout)
	defer cancel()

	code, err := client.RequestPairingCode(pairCtx, sess.PhoneNumber)
	if err != nil {
		m.disconnectQuietly(sess)
		return "", fmt.Errorf("requesting pairing code: %w", err)
	}

	slog.Info("pairing requested", slogKeySession, sess.ID, "phone", sess.PhoneNumber)
	return code, nil
}

// persistCredentials writes one credential rotation back to the store.
// Rotations arrive on the protocol client's goroutine with no request in
// flight, so failures are logged rather than surfaced.
func (m *Manager) persistCredentials(sessionID string, creds []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.store.SetCredentials(ctx, sessionID, creds); err != nil {
		slog.Error("persisting rotated credentials failed", slogKeySession, sessionID, slogKeyError, err)
	}
}

// handleConnectionUpdate applies the connection-state transition policy.
func (m *Manager) handleConnectionUpdate(sess *registry.Session, ev protocol.ConnectionEvent) {
	switch ev.State {
	case protocol.ConnOpen:
		if sess.Closed() {
			// Torn down while the open event was in flight.
			return
		}
		sess.SetState(registry.StateConnected)
		sess.TouchActive()
		m.clearCooldown(sess.ID)
		m.touchStore(sess.ID)
		m.startWatcher(sess)
		slog.Info("session connected", slogKeySession, sess.ID)

	case protocol.ConnClose:
		m.handleClose(sess, ev)
	}
}

// handleClose decides reconnect vs. terminal teardown. A logout cause is
// terminal: the handle is unregistered permanently and the credentials are
// treated as invalid. Any other cause unregisters the live handle but
// retains the credential record so a later Create can resume from it.
func (m *Manager) handleClose(sess *registry.Session, ev protocol.ConnectionEvent) {
	if sess.Closed() {
		// Already torn down by an explicit delete or an earlier close.
		return
	}

	switch ev.Cause {
	case protocol.CauseLoggedOut:
		sess.SetState(registry.StateClosed)
		sess.RunCleanups()
		m.reg.Remove(sess)
		m.purgeCredentials(sess.ID)
		slog.Info("session logged out", slogKeySession, sess.ID)

	case protocol.CauseShutdown:
		sess.SetState(registry.StateClosed)
		sess.RunCleanups()
		m.reg.Remove(sess)

	default:
		sess.SetState(registry.StateDisconnected)
		sess.RunCleanups()
		m.reg.Remove(sess)
		m.armCooldown(sess.ID)
		slog.Warn("session connection lost, credentials retained",
			slogKeySession, sess.ID, slogKeyError, ev.Err)
	}
}

// Delete terminates a session owned by ownerID. The live handle, if any, is
// shut down gracefully; the credential record is purged when PurgeOnDelete
// is set.
func (m *Manager) Delete(ctx context.Context, sessionID, ownerID string) error {
	sess := m.reg.Get(sessionID)
	if sess != nil && !ownedBy(sess.OwnerID, ownerID) {
		return ErrNotFound
	}

	if sess == nil {
		// No live handle; the session must at least exist in the store.
		rec, err := m.findRecord(ctx, sessionID, ownerID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrNotFound
		}
	}

	if sess != nil {
		sess.SetState(registry.StateClosed)
		sess.RunCleanups()
		m.reg.Remove(sess)
		m.disconnectQuietly(sess)
	}

	m.clearCooldown(sessionID)

	if m.cfg.PurgeOnDelete {
		if err := m.store.Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("purging credential record: %w", err)
		}
	}

	slog.Info("session deleted", slogKeySession, sessionID)
	return nil
}

// List returns the caller's sessions, persisted and live merged. Sessions
// with no live handle report their last persisted activity.
func (m *Manager) List(ctx context.Context, ownerID string) ([]SessionInfo, error) {
	records, err := m.store.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing credential records: %w", err)
	}

	infos := make([]SessionInfo, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		info := SessionInfo{
			SessionID:    rec.SessionID,
			PhoneNumber:  rec.PhoneNumber,
			State:        string(registry.StateDisconnected),
			CreatedAt:    rec.CreatedAt,
			LastActiveAt: rec.LastActiveAt,
		}
		if sess := m.reg.Get(rec.SessionID); sess != nil {
			info.State = string(sess.State())
			info.Connected = sess.State() == registry.StateConnected
			info.LastActiveAt = sess.LastActiveAt()
		}
		infos = append(infos, info)
		seen[rec.SessionID] = true
	}

	// Live sessions not yet persisted (pairing in flight).
	for _, sess := range m.reg.List(ownerID) {
		if seen[sess.ID] {
			continue
		}
		infos = append(infos, SessionInfo{
			SessionID:    sess.ID,
			PhoneNumber:  sess.PhoneNumber,
			State:        string(sess.State()),
			Connected:    sess.State() == registry.StateConnected,
			CreatedAt:    sess.CreatedAt,
			LastActiveAt: sess.LastActiveAt(),
		})
	}
	return infos, nil
}

// StartReaper starts the idle-session reaper when IdleTTL is configured.
// The goroutine is stopped by Close.
func (m *Manager) StartReaper() {
	if m.cfg.IdleTTL == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.reapCancel = cancel
	m.reapDone = make(chan struct{})

	go func() {
		defer close(m.reapDone)

		ticker := time.NewTicker(m.cfg.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}()
}

// reapIdle force-closes connected sessions idle past IdleTTL with transient
// semantics: the credential record is retained.
func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTTL)
	for _, sess := range m.reg.List("") {
		if sess.State() != registry.StateConnected || sess.LastActiveAt().After(cutoff) {
			continue
		}
		slog.Info("reaping idle session", slogKeySession, sess.ID)
		sess.SetState(registry.StateDisconnected)
		sess.RunCleanups()
		m.reg.Remove(sess)
		m.disconnectQuietly(sess)
	}
}

// Close stops the reaper and gracefully shuts down every live session.
// Credential records are retained.
func (m *Manager) Close() error {
	if m.reapCancel != nil {
		m.reapCancel()
		<-m.reapDone
	}

	for _, sess := range m.reg.List("") {
		sess.SetState(registry.StateClosed)
		sess.RunCleanups()
		m.reg.Remove(sess)
		m.disconnectQuietly(sess)
	}
	return nil
}

// disconnectQuietly shuts down a client bounded by ShutdownTimeout, logging
// failures instead of propagating them.
func (m *Manager) disconnectQuietly(sess *registry.Session) {
	if sess.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	if err := sess.Client.Disconnect(ctx); err != nil {
		slog.Warn("graceful disconnect failed", slogKeySession, sess.ID, slogKeyError, err)
	}
}

// touchStore refreshes persisted activity without blocking the caller on
// store latency beyond the shutdown timeout.
func (m *Manager) touchStore(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.store.Touch(ctx, sessionID); err != nil {
		slog.Debug("touching session failed", slogKeySession, sessionID, slogKeyError, err)
	}
}

// findRecord looks up a persisted record scoped to ownerID, returning nil if
// absent. Load is get-or-create, so lookup goes through List.
func (m *Manager) findRecord(ctx context.Context, sessionID, ownerID string) (*credstore.Record, error) {
	records, err := m.store.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing credential records: %w", err)
	}
	for _, rec := range records {
		if rec.SessionID == sessionID {
			return rec, nil
		}
	}
	return nil, nil
}

// purgeCredentials removes a record after a terminal logout.
func (m *Manager) purgeCredentials(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.store.Delete(ctx, sessionID); err != nil {
		slog.Error("purging credentials after logout failed", slogKeySession, sessionID, slogKeyError, err)
	}
}

// cooldownRemaining reports whether sessionID is inside its re-pairing gate.
func (m *Manager) cooldownRemaining(sessionID string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cd, ok := m.cooldowns[sessionID]
	if !ok {
		return 0, false
	}
	remaining := time.Until(cd.until)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// armCooldown starts or doubles the re-pairing gate for a session, capped at
// CooldownMax. Without the gate a persistently failing credential could hit
// the protocol endpoint in an unbounded retry storm.
func (m *Manager) armCooldown(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cd, ok := m.cooldowns[sessionID]
	if !ok {
		cd = &cooldown{wait: m.cfg.CooldownMin}
		m.cooldowns[sessionID] = cd
	} else {
		cd.wait *= 2
		if cd.wait > m.cfg.CooldownMax {
			cd.wait = m.cfg.CooldownMax
		}
	}
	cd.until = time.Now().Add(cd.wait)
}

// clearCooldown resets the gate after a successful connect or an explicit
// delete.
func (m *Manager) clearCooldown(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cooldowns, sessionID)
}

// ownedBy reports whether a session owned by sessOwner may be acted on by
// caller. Anonymous deployments (both empty) always match.
func ownedBy(sessOwner, caller string) bool {
	return sessOwner == caller
}
