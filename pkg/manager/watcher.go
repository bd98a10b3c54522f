package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatgate/chatgate/pkg/protocol"
	"github.com/chatgate/chatgate/pkg/registry"
)

// statusEventBuffer bounds the watcher's event queue. Status bursts beyond
// it are dropped; the periodic poll picks them up on the next tick.
const statusEventBuffer = 16

// startWatcher runs the per-session status watcher: it acknowledges peer
// statuses both as events arrive and on a fixed poll interval. The watcher
// stops when the session leaves the Connected state; its cancellation is
// registered on the session so teardown never leaves a timer acting on a
// freed handle.
func (m *Manager) startWatcher(sess *registry.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	sess.AddCleanup(cancel)

	events := make(chan protocol.StatusEvent, statusEventBuffer)
	cancelSub := sess.Client.OnStatusUpdate(func(ev protocol.StatusEvent) {
		select {
		case events <- ev:
		default:
			slog.Debug("status event queue full, deferring to poll", slogKeySession, sess.ID)
		}
	})
	sess.AddCleanup(cancelSub)

	go m.watchStatuses(ctx, sess, events)
}

func (m *Manager) watchStatuses(ctx context.Context, sess *registry.Session, events <-chan protocol.StatusEvent) {
	ticker := time.NewTicker(m.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.ackStatus(ctx, sess, ev.Peer)
		case <-ticker.C:
			m.pollStatuses(ctx, sess)
		}
	}
}

// ackStatus issues one read acknowledgement. Failures are logged and the
// watcher keeps running; no HTTP caller is in flight for them.
func (m *Manager) ackStatus(ctx context.Context, sess *registry.Session, peer string) {
	if err := sess.Client.ReadStatus(ctx, peer); err != nil {
		slog.Warn("acknowledging status failed", slogKeySession, sess.ID, "peer", peer, slogKeyError, err)
		return
	}
	slog.Debug("status acknowledged", slogKeySession, sess.ID, "peer", peer)
	sess.TouchActive()
	m.touchStore(sess.ID)
}

// pollStatuses fetches outstanding statuses and acknowledges each. A failure
// on one peer does not block the remaining peers in the same poll.
func (m *Manager) pollStatuses(ctx context.Context, sess *registry.Session) {
	statuses, err := sess.Client.FetchStatuses(ctx)
	if err != nil {
		slog.Warn("fetching statuses failed", slogKeySession, sess.ID, slogKeyError, err)
		return
	}

	acked := false
	for _, st := range statuses {
		if err := sess.Client.ReadStatus(ctx, st.Peer); err != nil {
			slog.Warn("acknowledging status failed", slogKeySession, sess.ID, "peer", st.Peer, slogKeyError, err)
			continue
		}
		acked = true
	}
	if acked {
		sess.TouchActive()
		m.touchStore(sess.ID)
	}
}
