package placement

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/clock"
	"habitat/internal/geometry"
	"habitat/internal/session"
	"habitat/pkg/types"
)

type fakeBroadcaster struct {
	mu        sync.Mutex
	published []*types.Outbound
	dirty     int
}

func (f *fakeBroadcaster) Publish(_ string, msg *types.Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
}

func (f *fakeBroadcaster) SendTo(string, *types.Outbound) error { return nil }

func (f *fakeBroadcaster) MarkDirty(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty++
}

func (f *fakeBroadcaster) EmitNow(string) {}

func (f *fakeBroadcaster) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, m := range f.published {
		out[i] = m.Type
	}
	return out
}

const sid = "HAB001"

func setup(t *testing.T, mask *geometry.Mask) (*Engine, *session.Manager, *fakeBroadcaster) {
	t.Helper()
	clk := clock.NewFake(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	sessions := session.NewManager(session.DefaultOptions(), clk, zerolog.Nop())
	_, err := sessions.CreateSession(sid, "host", "Host", "")
	require.NoError(t, err)
	_, _, err = sessions.JoinSession(sid, "guest", "Guest", "")
	require.NoError(t, err)

	pub := &fakeBroadcaster{}
	return NewEngine(sessions, mask, pub, clk, nil, zerolog.Nop()), sessions, pub
}

func boardOf(t *testing.T, sessions *session.Manager) [][]int {
	t.Helper()
	st, err := sessions.Snapshot(sid)
	require.NoError(t, err)
	return st.Board
}

func TestEngine_PlaceAndBroadcast(t *testing.T) {
	e, sessions, pub := setup(t, nil)

	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaKitchen, X: 2, Y: 3, W: 3, H: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 0, a.Rotation)
	b := boardOf(t, sessions)
	assert.Equal(t, 1, b[3][2])
	assert.Equal(t, 1, b[4][4])
	assert.Equal(t, 0, b[5][4])
	assert.Equal(t, []string{types.EventAreaPlaced}, pub.kinds())
	assert.Equal(t, 1, pub.dirty)
}

func TestEngine_NonHostRejectedBoardUnchanged(t *testing.T) {
	e, sessions, pub := setup(t, nil)
	before := boardOf(t, sessions)

	_, err := e.Place(sid, "guest", types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 2, H: 2})

	assert.ErrorIs(t, err, types.ErrNotHost)
	assert.Equal(t, "not_host", types.ReasonOf(err))
	assert.Equal(t, before, boardOf(t, sessions))
	assert.Empty(t, pub.kinds())
}

func TestEngine_HostCheckedOnEveryCommand(t *testing.T) {
	e, _, _ := setup(t, nil)
	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaSleep, X: 0, Y: 0, W: 2, H: 2})
	require.NoError(t, err)

	_, err = e.Move(sid, "guest", a.ID, 5, 5)
	assert.ErrorIs(t, err, types.ErrNotHost)
	_, err = e.Rotate(sid, "guest", a.ID)
	assert.ErrorIs(t, err, types.ErrNotHost)
	_, err = e.Remove(sid, "guest", a.ID)
	assert.ErrorIs(t, err, types.ErrNotHost)
	_, _, err = e.Undo(sid, "guest")
	assert.ErrorIs(t, err, types.ErrNotHost)
}

func TestEngine_PlaceRejectsCollisionAndBounds(t *testing.T) {
	e, _, _ := setup(t, nil)
	_, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 2, H: 2})
	require.NoError(t, err)

	tests := []struct {
		name string
		spec types.AreaSpec
	}{
		{"overlap", types.AreaSpec{Type: types.AreaSleep, X: 1, Y: 1, W: 2, H: 2}},
		{"past right edge", types.AreaSpec{Type: types.AreaSleep, X: 19, Y: 0, W: 2, H: 1}},
		{"negative origin", types.AreaSpec{Type: types.AreaSleep, X: -1, Y: 5, W: 2, H: 1}},
		{"zero width", types.AreaSpec{Type: types.AreaSleep, X: 5, Y: 5, W: 0, H: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Place(sid, "host", tt.spec)
			assert.ErrorIs(t, err, types.ErrInvalidPlacement)
			assert.Equal(t, "invalid_placement", types.ReasonOf(err))
		})
	}

	_, err = e.Place(sid, "host", types.AreaSpec{Type: "spa", X: 5, Y: 5, W: 1, H: 1})
	assert.ErrorIs(t, err, types.ErrInvalidAreaType)
}

func TestEngine_MaskRejectsBlockedTiles(t *testing.T) {
	// Left half of a 40×40 mask is buildable.
	rows := make([]string, 40)
	for i := range rows {
		rows[i] = strings.Repeat("1", 20) + strings.Repeat("0", 20)
	}
	mask, err := geometry.ParseTextMask(strings.NewReader(strings.Join(rows, "\n")))
	require.NoError(t, err)
	e, _, _ := setup(t, mask)

	_, err = e.Place(sid, "host", types.AreaSpec{Type: types.AreaDock, X: 8, Y: 0, W: 2, H: 2})
	assert.NoError(t, err)

	_, err = e.Place(sid, "host", types.AreaSpec{Type: types.AreaDock, X: 9, Y: 5, W: 2, H: 2})
	assert.ErrorIs(t, err, types.ErrInvalidPlacement, "tile 10 samples a blocked mask cell")

	assert.True(t, IsAllowed(mask, 9, 0, 20, 20))
	assert.False(t, IsAllowed(mask, 10, 0, 20, 20))
	assert.True(t, IsAllowed(nil, 10, 0, 20, 20))
}

func TestEngine_PlaceRemoveRestoresBoard(t *testing.T) {
	e, sessions, _ := setup(t, nil)
	_, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 4, H: 4})
	require.NoError(t, err)
	before := boardOf(t, sessions)

	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaEnergy, X: 10, Y: 10, W: 3, H: 5})
	require.NoError(t, err)
	_, err = e.Remove(sid, "host", a.ID)
	require.NoError(t, err)

	assert.Equal(t, before, boardOf(t, sessions))
}

func TestEngine_RotateSquareChangesRotationOnly(t *testing.T) {
	e, sessions, _ := setup(t, nil)
	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaControl, X: 4, Y: 4, W: 2, H: 2})
	require.NoError(t, err)
	before := boardOf(t, sessions)

	r, err := e.Rotate(sid, "host", a.ID)
	require.NoError(t, err)

	assert.Equal(t, 90, r.Rotation)
	assert.Equal(t, 2, r.W)
	assert.Equal(t, 2, r.H)
	assert.Equal(t, before, boardOf(t, sessions))

	for i := 0; i < 3; i++ {
		r, err = e.Rotate(sid, "host", a.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, r.Rotation)
}

func TestEngine_RotateBlockedLeavesAreaUnchanged(t *testing.T) {
	e, sessions, _ := setup(t, nil)
	// 2 wide, 3 tall at (0,0); an obstacle at (2,0) blocks the 3×2 rotation.
	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaStorage, X: 0, Y: 0, W: 2, H: 3})
	require.NoError(t, err)
	_, err = e.Place(sid, "host", types.AreaSpec{Type: types.AreaHygiene, X: 2, Y: 0, W: 1, H: 1})
	require.NoError(t, err)
	before := boardOf(t, sessions)

	_, err = e.Rotate(sid, "host", a.ID)

	assert.ErrorIs(t, err, types.ErrInvalidPlacement)
	assert.Equal(t, before, boardOf(t, sessions))
	st, _ := sessions.Snapshot(sid)
	assert.Equal(t, types.Area{ID: a.ID, Type: types.AreaStorage, X: 0, Y: 0, W: 2, H: 3}, st.Areas[0])
}

func TestEngine_MoveOverlappingItselfIsAllowed(t *testing.T) {
	e, sessions, _ := setup(t, nil)
	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaLaboratory, X: 0, Y: 0, W: 3, H: 3})
	require.NoError(t, err)

	m, err := e.Move(sid, "host", a.ID, 1, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, m.X)
	b := boardOf(t, sessions)
	assert.Equal(t, 0, b[0][0])
	assert.Equal(t, a.ID, b[3][3])
}

func TestEngine_MoveUnknownArea(t *testing.T) {
	e, _, _ := setup(t, nil)
	_, err := e.Move(sid, "host", 42, 1, 1)
	assert.ErrorIs(t, err, types.ErrAreaNotFound)
}

func TestEngine_UndoRedo(t *testing.T) {
	e, sessions, pub := setup(t, nil)
	empty := boardOf(t, sessions)

	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaGreenhouse, X: 1, Y: 1, W: 2, H: 2})
	require.NoError(t, err)
	placed := boardOf(t, sessions)
	_, err = e.Move(sid, "host", a.ID, 6, 6)
	require.NoError(t, err)
	moved := boardOf(t, sessions)

	_, kind, err := e.Undo(sid, "host")
	require.NoError(t, err)
	assert.Equal(t, types.EventAreaUpdated, kind)
	assert.Equal(t, placed, boardOf(t, sessions))

	_, kind, err = e.Undo(sid, "host")
	require.NoError(t, err)
	assert.Equal(t, types.EventAreaRemoved, kind)
	assert.Equal(t, empty, boardOf(t, sessions))

	_, _, err = e.Undo(sid, "host")
	assert.ErrorIs(t, err, types.ErrNothingToUndo)

	restored, kind, err := e.Redo(sid, "host")
	require.NoError(t, err)
	assert.Equal(t, types.EventAreaPlaced, kind)
	assert.Equal(t, a.ID, restored.ID)
	_, _, err = e.Redo(sid, "host")
	require.NoError(t, err)
	assert.Equal(t, moved, boardOf(t, sessions))

	_, _, err = e.Redo(sid, "host")
	assert.ErrorIs(t, err, types.ErrNothingToRedo)

	assert.Contains(t, pub.kinds(), types.EventAreaRemoved)
}

func TestEngine_NewEditClearsRedo(t *testing.T) {
	e, _, _ := setup(t, nil)
	_, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 1, H: 1})
	require.NoError(t, err)
	_, _, err = e.Undo(sid, "host")
	require.NoError(t, err)

	_, err = e.Place(sid, "host", types.AreaSpec{Type: types.AreaSleep, X: 5, Y: 5, W: 1, H: 1})
	require.NoError(t, err)

	_, _, err = e.Redo(sid, "host")
	assert.ErrorIs(t, err, types.ErrNothingToRedo)
}

func TestEngine_UndoRemoveRestoresSameID(t *testing.T) {
	e, sessions, _ := setup(t, nil)
	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaAirlock, X: 3, Y: 3, W: 1, H: 2})
	require.NoError(t, err)
	_, err = e.Remove(sid, "host", a.ID)
	require.NoError(t, err)

	back, kind, err := e.Undo(sid, "host")
	require.NoError(t, err)

	assert.Equal(t, types.EventAreaPlaced, kind)
	assert.Equal(t, a, back)
	assert.Equal(t, a.ID, boardOf(t, sessions)[3][3])

	next, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 1, H: 1})
	require.NoError(t, err)
	assert.Equal(t, a.ID+1, next.ID)
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	e, _, _ := setup(t, nil)
	e.SetHistoryCapacity(3)

	for i := 0; i < 5; i++ {
		_, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaKitchen, X: i, Y: 0, W: 1, H: 1})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, _, err := e.Undo(sid, "host")
		require.NoError(t, err)
	}
	_, _, err := e.Undo(sid, "host")
	assert.ErrorIs(t, err, types.ErrNothingToUndo)
}

func TestEngine_CanPlace(t *testing.T) {
	e, _, _ := setup(t, nil)
	a, err := e.Place(sid, "host", types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 2, H: 2})
	require.NoError(t, err)

	ok, err := e.CanPlace(sid, 1, 1, 2, 2, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = e.CanPlace(sid, 1, 1, 2, 2, a.ID)
	assert.True(t, ok)

	_, err = e.CanPlace("NOPE", 0, 0, 1, 1, 0)
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}
