package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/clock"
	"habitat/internal/session"
	"habitat/pkg/interfaces"
	"habitat/pkg/types"
)

type fakeConn struct {
	id, session string
	fail        bool

	mu     sync.Mutex
	frames []*types.Outbound
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v.(*types.Outbound))
	return nil
}

func (c *fakeConn) Close() error         { return nil }
func (c *fakeConn) GetConnID() string    { return c.id }
func (c *fakeConn) GetSessionID() string { return c.session }

func (c *fakeConn) states() []types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.SessionState
	for _, f := range c.frames {
		if f.Type == types.EventSessionState {
			out = append(out, f.Payload.(types.SessionState))
		}
	}
	return out
}

type fakeTransport struct {
	conns []*fakeConn
}

func (t *fakeTransport) GetSessionConnections(sessionID string) []interfaces.Connection {
	var out []interfaces.Connection
	for _, c := range t.conns {
		if c.session == sessionID {
			out = append(out, c)
		}
	}
	return out
}

func (t *fakeTransport) GetConnection(connID string) (interfaces.Connection, bool) {
	for _, c := range t.conns {
		if c.id == connID {
			return c, true
		}
	}
	return nil, false
}

const sid = "ROOM01"

func setup(t *testing.T) (*Broadcaster, *session.Manager, *clock.Fake, *fakeConn, *fakeConn) {
	t.Helper()
	clk := clock.NewFake(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	sessions := session.NewManager(session.DefaultOptions(), clk, zerolog.Nop())
	_, err := sessions.CreateSession(sid, "host", "Host", "")
	require.NoError(t, err)
	_, _, err = sessions.JoinSession(sid, "guest", "Guest", "")
	require.NoError(t, err)

	host := &fakeConn{id: "host", session: sid}
	guest := &fakeConn{id: "guest", session: sid}
	outsider := &fakeConn{id: "other", session: "ELSE01"}
	tr := &fakeTransport{conns: []*fakeConn{host, guest, outsider}}
	return New(tr, sessions, clk, 0, zerolog.Nop()), sessions, clk, host, guest
}

func TestBroadcaster_FirstChangeEmitsImmediately(t *testing.T) {
	b, _, _, host, guest := setup(t)

	b.MarkDirty(sid)

	assert.Len(t, host.states(), 1)
	assert.Len(t, guest.states(), 1)
}

func TestBroadcaster_CoalescesWithinWindow(t *testing.T) {
	b, sessions, clk, host, _ := setup(t)
	b.MarkDirty(sid)

	clk.Advance(10 * time.Millisecond)
	require.NoError(t, sessions.UpdatePlayerPosition(sid, "host", 1, 1, "up"))
	b.MarkDirty(sid)
	clk.Advance(10 * time.Millisecond)
	require.NoError(t, sessions.UpdatePlayerPosition(sid, "host", 2, 2, "up"))
	b.MarkDirty(sid)
	assert.Len(t, host.states(), 1, "held until the window closes")

	clk.Advance(30 * time.Millisecond)
	states := host.states()
	require.Len(t, states, 2)
	assert.Equal(t, types.Position{X: 2, Y: 2}, states[1].Players[0].Position, "latest change is not dropped")

	clk.Advance(time.Second)
	assert.Len(t, host.states(), 2)

	b.MarkDirty(sid)
	assert.Len(t, host.states(), 3, "outside the window again")
}

func TestBroadcaster_EmitNowAbsorbsPending(t *testing.T) {
	b, _, clk, host, _ := setup(t)
	b.MarkDirty(sid)
	clk.Advance(10 * time.Millisecond)
	b.MarkDirty(sid)

	b.EmitNow(sid)
	assert.Len(t, host.states(), 2)

	clk.Advance(time.Second)
	assert.Len(t, host.states(), 2)
	assert.Zero(t, clk.Pending())
}

func TestBroadcaster_PublishScopedToSession(t *testing.T) {
	b, _, clk, host, guest := setup(t)
	guest.fail = true

	b.Publish(sid, types.NewOutbound(types.EventChat, "hi", clk.Now()))

	assert.Len(t, host.frames, 1)
	assert.Empty(t, guest.frames)
}

func TestBroadcaster_SendTo(t *testing.T) {
	b, _, clk, host, guest := setup(t)

	require.NoError(t, b.SendTo("guest", types.NewOutbound(types.EventJoinError, nil, clk.Now())))
	assert.Empty(t, host.frames)
	assert.Len(t, guest.frames, 1)

	err := b.SendTo("ghost", types.NewOutbound(types.EventJoinError, nil, clk.Now()))
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestBroadcaster_ForgetCancelsPending(t *testing.T) {
	b, _, clk, host, _ := setup(t)
	b.MarkDirty(sid)
	b.MarkDirty(sid)
	require.Equal(t, 1, clk.Pending())

	b.Forget(sid)

	assert.Zero(t, clk.Pending())
	clk.Advance(time.Second)
	assert.Len(t, host.states(), 1)
}

func TestBroadcaster_MissingSessionEmitsNothing(t *testing.T) {
	b, sessions, _, host, _ := setup(t)
	_, err := sessions.RemovePlayer(sid, "host")
	require.NoError(t, err)
	_, err = sessions.RemovePlayer(sid, "guest")
	require.NoError(t, err)

	b.EmitNow(sid)

	assert.Empty(t, host.states())
}

func TestBroadcaster_LateRequestsAfterForgetKeepNoState(t *testing.T) {
	b, sessions, clk, host, _ := setup(t)
	b.MarkDirty(sid)
	_, err := sessions.RemovePlayer(sid, "host")
	require.NoError(t, err)
	_, err = sessions.RemovePlayer(sid, "guest")
	require.NoError(t, err)
	b.Forget(sid)

	b.MarkDirty(sid)
	b.EmitNow(sid)

	b.mu.Lock()
	assert.Empty(t, b.windows)
	b.mu.Unlock()
	assert.Zero(t, clk.Pending())
	assert.Len(t, host.states(), 1)
}
