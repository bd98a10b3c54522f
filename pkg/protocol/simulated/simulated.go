// Package simulated provides an in-process protocol.Dialer that mimics the
// observable behavior of a real chat-protocol client: pairing codes,
// credential rotation, connection-state events and status delivery. It backs
// deployments without a real protocol library wired in, and gives tests a
// deterministic client to drive.
package simulated

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatgate/chatgate/pkg/credstore"
	"github.com/chatgate/chatgate/pkg/protocol"
)

const (
	// pairingAlphabet matches the code alphabet real pairing flows use:
	// unambiguous upper-case letters and digits.
	pairingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ123456789"
	pairingCodeLen  = 8

	// noiseKeyName is the secondary key the simulated handshake persists,
	// standing in for the key material a real client writes.
	noiseKeyName = "noise-key"

	defaultConnectDelay = 50 * time.Millisecond
)

// Config configures the simulated dialer.
type Config struct {
	// ConnectDelay is how long after a pairing-code request the simulated
	// connection reports open. Default 50ms.
	ConnectDelay time.Duration
}

// Dialer constructs simulated clients.
type Dialer struct {
	cfg Config
}

// NewDialer creates a simulated dialer.
func NewDialer(cfg Config) *Dialer {
	if cfg.ConnectDelay == 0 {
		cfg.ConnectDelay = defaultConnectDelay
	}
	return &Dialer{cfg: cfg}
}

// Dial returns a new simulated client bound to the session's credential
// store.
func (d *Dialer) Dial(_ context.Context, sessionID string, store credstore.Store) (protocol.Client, error) {
	return &Client{
		sessionID:    sessionID,
		store:        store,
		connectDelay: d.cfg.ConnectDelay,
		connSubs:     newSubscribers[protocol.ConnectionEvent](),
		credsSubs:    newSubscribers[[]byte](),
		statusSubs:   newSubscribers[protocol.StatusEvent](),
	}, nil
}

// Client is a simulated protocol connection.
type Client struct {
	sessionID    string
	store        credstore.Store
	connectDelay time.Duration

	connSubs   *subscribers[protocol.ConnectionEvent]
	credsSubs  *subscribers[[]byte]
	statusSubs *subscribers[protocol.StatusEvent]

	mu        sync.Mutex
	closed    bool
	pending   []protocol.Status
	connTimer *time.Timer
}

// simCreds is the simulated credential blob.
type simCreds struct {
	SessionID string    `json:"session_id"`
	Phone     string    `json:"phone"`
	PairedAt  time.Time `json:"paired_at"`
	Nonce     string    `json:"nonce"`
}

// RequestPairingCode generates a pairing code, persists simulated handshake
// key material through the bound store, signals a credential rotation, and
// schedules the connection-open event.
func (c *Client) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	if phoneNumber == "" {
		return "", errors.New("phone number is required")
	}

	code, err := randomCode()
	if err != nil {
		return "", err
	}

	// A real client writes handshake keys through its auth-state provider.
	nonce, err := randomCode()
	if err != nil {
		return "", err
	}
	if err := c.store.SetKey(ctx, c.sessionID, noiseKeyName, []byte(nonce)); err != nil {
		return "", fmt.Errorf("persisting handshake key: %w", err)
	}

	creds, err := json.Marshal(simCreds{
		SessionID: c.sessionID,
		Phone:     phoneNumber,
		PairedAt:  time.Now(),
		Nonce:     nonce,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling credentials: %w", err)
	}
	c.credsSubs.emit(creds)

	c.mu.Lock()
	c.connTimer = time.AfterFunc(c.connectDelay, func() {
		c.connSubs.emit(protocol.ConnectionEvent{State: protocol.ConnOpen})
	})
	c.mu.Unlock()

	return code[:4] + "-" + code[4:], nil
}

// OnConnectionUpdate subscribes to connection-state transitions.
func (c *Client) OnConnectionUpdate(fn func(protocol.ConnectionEvent)) protocol.CancelFunc {
	return c.connSubs.add(fn)
}

// OnCredentialsUpdate subscribes to credential rotations.
func (c *Client) OnCredentialsUpdate(fn func([]byte)) protocol.CancelFunc {
	return c.credsSubs.add(fn)
}

// OnStatusUpdate subscribes to peer status events.
func (c *Client) OnStatusUpdate(fn func(protocol.StatusEvent)) protocol.CancelFunc {
	return c.statusSubs.add(fn)
}

// FetchStatuses returns and clears the outstanding simulated statuses.
func (c *Client) FetchStatuses(_ context.Context) ([]protocol.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := c.pending
	c.pending = nil
	return statuses, nil
}

// ReadStatus acknowledges one peer's status.
func (c *Client) ReadStatus(_ context.Context, peer string) error {
	if peer == "" {
		return errors.New("peer is required")
	}
	return nil
}

// Disconnect closes the simulated connection gracefully.
func (c *Client) Disconnect(_ context.Context) error {
	c.close(protocol.ConnectionEvent{State: protocol.ConnClose, Cause: protocol.CauseShutdown})
	return nil
}

// Logout revokes authorization and closes the connection.
func (c *Client) Logout(_ context.Context) error {
	c.close(protocol.ConnectionEvent{State: protocol.ConnClose, Cause: protocol.CauseLoggedOut})
	return nil
}

// PushStatus queues a peer status and delivers the event to subscribers.
// Exposed for tests and demos driving the simulator.
func (c *Client) PushStatus(peer string) {
	c.mu.Lock()
	c.pending = append(c.pending, protocol.Status{Peer: peer})
	c.mu.Unlock()

	c.statusSubs.emit(protocol.StatusEvent{Peer: peer})
}

// DropConnection simulates a transient network failure.
func (c *Client) DropConnection(err error) {
	c.close(protocol.ConnectionEvent{State: protocol.ConnClose, Cause: protocol.CauseConnectionLost, Err: err})
}

// close emits the close event exactly once.
func (c *Client) close(ev protocol.ConnectionEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.connTimer != nil {
		c.connTimer.Stop()
	}
	c.mu.Unlock()

	c.connSubs.emit(ev)
}

// randomCode returns pairingCodeLen random characters from pairingAlphabet.
func randomCode() (string, error) {
	buf := make([]byte, pairingCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}
	for i, b := range buf {
		buf[i] = pairingAlphabet[int(b)%len(pairingAlphabet)]
	}
	return string(buf), nil
}

// subscribers is a minimal subscription list with cancellation handles.
// Callbacks run outside the lock, so a handler may cancel its own
// subscription without deadlocking.
type subscribers[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

func newSubscribers[T any]() *subscribers[T] {
	return &subscribers[T]{subs: make(map[int]func(T))}
}

func (s *subscribers[T]) add(fn func(T)) protocol.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *subscribers[T]) emit(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Verify interface compliance.
var (
	_ protocol.Dialer = (*Dialer)(nil)
	_ protocol.Client = (*Client)(nil)
)
