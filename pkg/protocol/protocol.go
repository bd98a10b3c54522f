// Package protocol defines the boundary to the external chat-protocol client
// library. The gateway never implements the wire protocol itself; it requires
// only an object that exposes lifecycle events, accepts a credential store as
// its auth-state provider, and can request pairing codes and acknowledge peer
// statuses.
package protocol

import (
	"context"

	"github.com/chatgate/chatgate/pkg/credstore"
)

// ConnState is the connection state reported by a client.
type ConnState string

// Connection states delivered via ConnectionEvent.
const (
	ConnOpen  ConnState = "open"
	ConnClose ConnState = "close"
)

// CloseCause classifies why a connection closed. The distinction between a
// logout and everything else drives the reconnect-vs-terminal decision in the
// lifecycle manager.
type CloseCause string

// Close causes.
const (
	// CauseLoggedOut means the caller or the remote end revoked
	// authorization. Persisted credentials are invalid afterwards.
	CauseLoggedOut CloseCause = "logged_out"

	// CauseConnectionLost covers network failures and transient errors.
	// Persisted credentials remain valid and a later pairing attempt may
	// resume from them.
	CauseConnectionLost CloseCause = "connection_lost"

	// CauseShutdown means the gateway itself requested a graceful close.
	CauseShutdown CloseCause = "shutdown"
)

// ConnectionEvent describes a connection-state transition.
type ConnectionEvent struct {
	State ConnState

	// Cause is set when State is ConnClose.
	Cause CloseCause

	// Err carries the underlying error for non-logout closes, if any.
	Err error
}

// StatusEvent is delivered when a peer publishes a status.
type StatusEvent struct {
	// Peer identifies the peer that published the status.
	Peer string
}

// Status describes an outstanding, unacknowledged peer status returned by
// Client.FetchStatuses.
type Status struct {
	Peer string
}

// CancelFunc detaches an event subscription. It is idempotent.
type CancelFunc func()

// Client is the live in-process handle to one protocol connection.
//
// All methods may block on network I/O and honor context cancellation.
// Event subscriptions return a CancelFunc so the lifecycle manager can
// deterministically detach handlers during teardown.
type Client interface {
	// RequestPairingCode starts the pairing handshake for phoneNumber and
	// returns the code the user enters on their device.
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)

	// OnConnectionUpdate subscribes to connection-state transitions.
	OnConnectionUpdate(fn func(ConnectionEvent)) CancelFunc

	// OnCredentialsUpdate subscribes to credential rotations. The payload
	// is the full serialized credential blob to persist.
	OnCredentialsUpdate(fn func(creds []byte)) CancelFunc

	// OnStatusUpdate subscribes to peer status events.
	OnStatusUpdate(fn func(StatusEvent)) CancelFunc

	// FetchStatuses returns outstanding unacknowledged peer statuses.
	FetchStatuses(ctx context.Context) ([]Status, error)

	// ReadStatus issues a read acknowledgement for one peer's status.
	ReadStatus(ctx context.Context, peer string) error

	// Disconnect closes the connection gracefully without revoking
	// authorization. The client reports a ConnClose event with
	// CauseShutdown.
	Disconnect(ctx context.Context) error

	// Logout revokes authorization and closes the connection. The client
	// reports a ConnClose event with CauseLoggedOut.
	Logout(ctx context.Context) error
}

// Dialer constructs protocol clients bound to a credential store. The store
// is the client's auth-state provider: the client reads and writes key
// material for sessionID through it during the handshake.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, store credstore.Store) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, sessionID string, store credstore.Store) (Client, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, sessionID string, store credstore.Store) (Client, error) {
	return f(ctx, sessionID, store)
}
