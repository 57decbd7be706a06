// Package broadcast fans server frames out to the connections of a session
// and throttles full session_state snapshots.
package broadcast

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"habitat/internal/clock"
	"habitat/internal/session"
	"habitat/pkg/interfaces"
	"habitat/pkg/types"
)

// DefaultInterval is the minimum spacing of session_state snapshots.
const DefaultInterval = 50 * time.Millisecond

// Transport looks up live connections.
type Transport interface {
	GetSessionConnections(sessionID string) []interfaces.Connection
	GetConnection(connID string) (interfaces.Connection, bool)
}

type window struct {
	last    time.Time
	pending bool
	timer   clock.Stopper
}

// Broadcaster implements interfaces.Broadcaster on top of a Transport.
type Broadcaster struct {
	transport Transport
	sessions  *session.Manager
	clock     clock.Clock
	interval  time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a broadcaster. A non-positive interval selects DefaultInterval.
func New(transport Transport, sessions *session.Manager, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Broadcaster {
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{
		transport: transport,
		sessions:  sessions,
		clock:     clk,
		interval:  interval,
		logger:    logger.With().Str("component", "broadcast").Logger(),
		windows:   make(map[string]*window),
	}
}

// Publish writes msg to every connection bound to the session. A failed
// write is logged and does not stop delivery to the others.
func (b *Broadcaster) Publish(sessionID string, msg *types.Outbound) {
	for _, conn := range b.transport.GetSessionConnections(sessionID) {
		if err := conn.WriteJSON(msg); err != nil {
			b.logger.Debug().Err(err).Str("session", sessionID).Str("conn", conn.GetConnID()).Str("type", msg.Type).Msg("delivery failed")
		}
	}
}

// SendTo writes msg to a single connection.
func (b *Broadcaster) SendTo(connID string, msg *types.Outbound) error {
	conn, ok := b.transport.GetConnection(connID)
	if !ok {
		return ErrUnknownConnection
	}
	return conn.WriteJSON(msg)
}

// MarkDirty requests a snapshot. Outside a throttle window it is emitted at
// once; inside, one emission is scheduled for the window end and further
// requests fold into it.
func (b *Broadcaster) MarkDirty(sessionID string) {
	now := b.clock.Now()

	b.mu.Lock()
	w := b.windowLocked(sessionID)
	if w == nil || w.pending {
		b.mu.Unlock()
		return
	}
	if w.last.IsZero() || now.Sub(w.last) >= b.interval {
		w.last = now
		b.mu.Unlock()
		b.emit(sessionID)
		return
	}
	w.pending = true
	w.timer = b.clock.AfterFunc(b.interval-now.Sub(w.last), func() {
		b.flush(sessionID)
	})
	b.mu.Unlock()
}

// EmitNow sends a snapshot immediately and absorbs any pending one.
func (b *Broadcaster) EmitNow(sessionID string) {
	now := b.clock.Now()

	b.mu.Lock()
	w := b.windowLocked(sessionID)
	if w == nil {
		b.mu.Unlock()
		return
	}
	if w.pending {
		w.timer.Stop()
		w.pending = false
		w.timer = nil
	}
	w.last = now
	b.mu.Unlock()

	b.emit(sessionID)
}

// Forget drops the throttle state of a torn-down session.
func (b *Broadcaster) Forget(sessionID string) {
	b.mu.Lock()
	w := b.windows[sessionID]
	delete(b.windows, sessionID)
	b.mu.Unlock()
	if w != nil && w.timer != nil {
		w.timer.Stop()
	}
}

// windowLocked returns the throttle window of a live session, creating it on
// first use. It returns nil once the session is gone so late requests leave
// no state behind. b.mu is held.
func (b *Broadcaster) windowLocked(sessionID string) *window {
	if w := b.windows[sessionID]; w != nil {
		return w
	}
	if !b.sessions.Exists(sessionID) {
		return nil
	}
	w := &window{}
	b.windows[sessionID] = w
	return w
}

func (b *Broadcaster) flush(sessionID string) {
	b.mu.Lock()
	w := b.windows[sessionID]
	if w == nil || !w.pending {
		b.mu.Unlock()
		return
	}
	w.pending = false
	w.timer = nil
	w.last = b.clock.Now()
	b.mu.Unlock()

	b.emit(sessionID)
}

// emit snapshots the session at emission time, so coalesced changes are
// all included.
func (b *Broadcaster) emit(sessionID string) {
	state, err := b.sessions.Snapshot(sessionID)
	if err != nil {
		b.logger.Debug().Str("session", sessionID).Msg("snapshot for missing session")
		return
	}
	b.Publish(sessionID, types.NewOutbound(types.EventSessionState, state, b.clock.Now()))
}
