package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/clock"
	"habitat/internal/random"
	"habitat/internal/session"
	"habitat/pkg/types"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []*types.Outbound
}

func (r *recordingBroadcaster) Publish(_ string, msg *types.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
}

func (r *recordingBroadcaster) SendTo(string, *types.Outbound) error { return nil }
func (r *recordingBroadcaster) MarkDirty(string)                     {}
func (r *recordingBroadcaster) EmitNow(string)                       {}

func (r *recordingBroadcaster) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if m.Type == kind {
			n++
		}
	}
	return n
}

const sid = "SIM001"

type fixture struct {
	sched    *Scheduler
	sessions *session.Manager
	clk      *clock.Fake
	pub      *recordingBroadcaster
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	sessions := session.NewManager(session.DefaultOptions(), clk, zerolog.Nop())
	_, err := sessions.CreateSession(sid, "host", "Host", "")
	require.NoError(t, err)
	_, _, err = sessions.JoinSession(sid, "guest", "Guest", "")
	require.NoError(t, err)
	require.NoError(t, sessions.Update(sid, func(s *session.Session) error {
		s.SimulationRunning = true
		return nil
	}))

	pub := &recordingBroadcaster{}
	return fixture{
		sched:    NewScheduler(sessions, pub, clk, random.Seeded(7), nil, opts, zerolog.Nop()),
		sessions: sessions,
		clk:      clk,
		pub:      pub,
	}
}

func drill(prob float64, dur time.Duration) []types.EventConfig {
	return []types.EventConfig{{
		Type:        "drill",
		Name:        "Drill",
		Probability: prob,
		Duration:    dur,
		Effects:     map[string]float64{types.StatOxygen: -10},
	}}
}

func (f fixture) oxygen(t *testing.T) []float64 {
	t.Helper()
	st, err := f.sessions.Snapshot(sid)
	require.NoError(t, err)
	var out []float64
	for _, p := range st.Players {
		out = append(out, p.Stats.Oxygen)
	}
	return out
}

func TestPickWeighted(t *testing.T) {
	catalog := []types.EventConfig{
		{Type: "a", Probability: 0.2},
		{Type: "never", Probability: 0},
		{Type: "b", Probability: 0.3},
	}
	tests := []struct {
		r    float64
		want string
	}{
		{0, "a"},
		{0.1, "a"},
		{0.2, "a"},
		{0.25, "b"},
		{0.49, "b"},
		{0.75, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PickWeighted(catalog, tt.r), "r=%v", tt.r)
	}
}

func TestPickWeighted_ZeroProbabilitiesNeverPick(t *testing.T) {
	catalog := []types.EventConfig{{Type: "a"}, {Type: "b"}}
	rng := random.Seeded(1)
	for i := 0; i < 1000; i++ {
		require.Equal(t, "", PickWeighted(catalog, rng.Float64()))
	}
	assert.Equal(t, "", PickWeighted(catalog, 0))
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	require.Len(t, catalog, 8)
	assert.Equal(t, OxygenLeak, catalog[0].Type)
	assert.Equal(t, CrewConflict, catalog[7].Type)

	sum := 0.0
	for _, c := range catalog {
		sum += c.Probability
		for _, a := range c.AffectedAreas {
			assert.True(t, a.Valid(), "%s lists unknown area %s", c.Type, a)
		}
	}
	assert.Less(t, sum, 1.0)
	assert.Equal(t, "", PickWeighted(catalog, 0.99))

	catalog[0].Effects[types.StatOxygen] = 0
	assert.Equal(t, -10.0, DefaultCatalog()[0].Effects[types.StatOxygen], "catalog copies are independent")
}

func TestScheduler_SpacingAndActiveCap(t *testing.T) {
	opts := DefaultOptions()
	opts.Catalog = drill(1, 10*time.Minute)
	f := newFixture(t, opts)
	require.NoError(t, f.sched.Start(sid))
	assert.True(t, f.sched.Running(sid))

	history := func() int {
		h, err := f.sched.History(sid)
		require.NoError(t, err)
		return len(h)
	}

	f.clk.Advance(15 * time.Second)
	assert.Equal(t, 1, history(), "first check triggers")

	f.clk.Advance(15 * time.Second)
	assert.Equal(t, 1, history(), "15s after the last incident is too soon")

	f.clk.Advance(15 * time.Second)
	assert.Equal(t, 2, history(), "30s after the last incident")

	f.clk.Advance(30 * time.Second)
	assert.Equal(t, 2, history(), "two incidents already active")

	active, err := f.sched.Active(sid)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.Equal(t, 2, f.pub.count(types.EventIncidentTriggered))
}

func TestScheduler_EffectsApplyUntilExpiry(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowForce = true
	opts.Catalog = drill(0, 100*time.Second)
	f := newFixture(t, opts)

	ev, err := f.sched.Force(sid, "drill")
	require.NoError(t, err)
	assert.Equal(t, ev.StartTime.Add(100*time.Second), ev.EndTime)
	assert.Nil(t, ev.AffectedArea)

	f.clk.Advance(40 * time.Second)
	assert.Equal(t, []float64{90, 90}, f.oxygen(t))

	f.clk.Advance(40 * time.Second)
	assert.Equal(t, []float64{80, 80}, f.oxygen(t))

	// At 120s the incident is past its end time and resolves instead.
	f.clk.Advance(40 * time.Second)
	assert.Equal(t, []float64{80, 80}, f.oxygen(t))

	active, _ := f.sched.Active(sid)
	assert.Empty(t, active)
	history, _ := f.sched.History(sid)
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
	assert.False(t, history[0].ResolvedManually)
	assert.Equal(t, 1, f.pub.count(types.EventIncidentResolved))
	assert.Zero(t, f.clk.Pending())
}

func TestScheduler_ShortIncidentAppliesNothing(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowForce = true
	opts.Catalog = drill(0, 30*time.Second)
	f := newFixture(t, opts)

	_, err := f.sched.Force(sid, "drill")
	require.NoError(t, err)

	f.clk.Advance(40 * time.Second)

	assert.Equal(t, []float64{100, 100}, f.oxygen(t))
	active, _ := f.sched.Active(sid)
	assert.Empty(t, active)
}

func TestScheduler_ResolveIsIdempotent(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowForce = true
	opts.Catalog = drill(0, time.Hour)
	f := newFixture(t, opts)
	ev, err := f.sched.Force(sid, "drill")
	require.NoError(t, err)

	first, err := f.sched.Resolve(sid, ev.ID, true)
	require.NoError(t, err)
	assert.True(t, first.ResolvedManually)

	second, err := f.sched.Resolve(sid, ev.ID, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.pub.count(types.EventIncidentResolved))

	f.clk.Advance(2 * time.Minute)
	assert.Equal(t, []float64{100, 100}, f.oxygen(t), "resolved incident stops ticking")
}

func TestScheduler_ResolveUnknown(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	_, err := f.sched.Resolve(sid, "missing", true)

	assert.ErrorIs(t, err, types.ErrEventNotFound)
	assert.Equal(t, "event_not_found", types.ReasonOf(err))
}

func TestScheduler_ForceGuarded(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	_, err := f.sched.Force(sid, OxygenLeak)
	assert.ErrorIs(t, err, types.ErrForbidden)

	opts := DefaultOptions()
	opts.AllowForce = true
	f = newFixture(t, opts)
	_, err = f.sched.Force(sid, "volcano")
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	ev, err := f.sched.Force(sid, OxygenLeak)
	require.NoError(t, err)
	require.NotNil(t, ev.AffectedArea)
	assert.Contains(t, ev.Config.AffectedAreas, *ev.AffectedArea)
}

func TestScheduler_StopAndResume(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowForce = true
	opts.Catalog = drill(0, time.Hour)
	f := newFixture(t, opts)
	require.NoError(t, f.sched.Start(sid))
	_, err := f.sched.Force(sid, "drill")
	require.NoError(t, err)

	f.sched.Stop(sid)
	assert.False(t, f.sched.Running(sid))
	f.clk.Advance(100 * time.Second)
	assert.Equal(t, []float64{100, 100}, f.oxygen(t))

	require.NoError(t, f.sched.Start(sid))
	f.clk.Advance(40 * time.Second)
	assert.Equal(t, []float64{90, 90}, f.oxygen(t))
}

func TestScheduler_ForceWhileStoppedWaitsForStart(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowForce = true
	opts.Catalog = drill(0, time.Hour)
	f := newFixture(t, opts)
	require.NoError(t, f.sessions.Update(sid, func(s *session.Session) error {
		s.SimulationRunning = false
		return nil
	}))

	ev, err := f.sched.Force(sid, "drill")
	require.NoError(t, err)
	assert.Zero(t, f.clk.Pending())
	f.clk.Advance(100 * time.Second)
	assert.Equal(t, []float64{100, 100}, f.oxygen(t))

	active, err := f.sched.Active(sid)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ev.ID, active[0].ID)

	require.NoError(t, f.sessions.Update(sid, func(s *session.Session) error {
		s.SimulationRunning = true
		return nil
	}))
	require.NoError(t, f.sched.Start(sid))
	f.clk.Advance(40 * time.Second)
	assert.Equal(t, []float64{90, 90}, f.oxygen(t))
}

func TestScheduler_TimersAfterTeardownAreNoops(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowForce = true
	opts.Catalog = drill(1, time.Hour)
	f := newFixture(t, opts)
	require.NoError(t, f.sched.Start(sid))
	_, err := f.sched.Force(sid, "drill")
	require.NoError(t, err)

	_, err = f.sessions.RemovePlayer(sid, "host")
	require.NoError(t, err)
	_, err = f.sessions.RemovePlayer(sid, "guest")
	require.NoError(t, err)

	assert.NotPanics(t, func() { f.clk.Advance(2 * time.Minute) })
	assert.Zero(t, f.clk.Pending())
	assert.False(t, f.sched.Running(sid))
}

func TestScheduler_StartMissingSession(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	err := f.sched.Start("NOPE01")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
	assert.False(t, f.sched.Running("NOPE01"))
}
