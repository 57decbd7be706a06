// Package missions assigns crew missions from the built habitat and tracks
// their progress to completion.
package missions

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"habitat/internal/clock"
	"habitat/internal/metrics"
	"habitat/internal/random"
	"habitat/internal/session"
	"habitat/pkg/interfaces"
	"habitat/pkg/types"
)

// Options tunes the engine.
type Options struct {
	ProgressTick   time.Duration
	ReplenishDelay time.Duration
	// MaxActive caps the assigned batch and the number of unfinished
	// missions replenishment may top up to.
	MaxActive int
	Catalog   []types.MissionConfig
}

func DefaultOptions() Options {
	return Options{
		ProgressTick:   time.Second,
		ReplenishDelay: 30 * time.Second,
		MaxActive:      10,
	}
}

// AssignedEvent is the payload of missions:assigned.
type AssignedEvent struct {
	Missions    []types.ActiveMission `json:"missions"`
	Replenished bool                  `json:"replenished,omitempty"`
}

// ProgressEvent is the payload of mission:progress.
type ProgressEvent struct {
	ID        string  `json:"id"`
	MissionID string  `json:"missionId"`
	Progress  float64 `json:"progress"`
}

// Engine owns the mission lifecycle of every session.
type Engine struct {
	sessions *session.Manager
	pub      interfaces.Broadcaster
	journal  interfaces.Journal
	clock    clock.Clock
	rng      *random.Source
	metrics  *metrics.Recorder
	timers   *clock.TimerSet
	opts     Options
	logger   zerolog.Logger
}

// NewEngine creates a mission engine. An empty catalog selects DefaultCatalog.
func NewEngine(sessions *session.Manager, pub interfaces.Broadcaster, clk clock.Clock, rng *random.Source, rec *metrics.Recorder, opts Options, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if len(opts.Catalog) == 0 {
		opts.Catalog = DefaultCatalog()
	}
	return &Engine{
		sessions: sessions,
		pub:      pub,
		clock:    clk,
		rng:      rng,
		metrics:  rec,
		timers:   clock.NewTimerSet(),
		opts:     opts,
		logger:   logger.With().Str("component", "missions").Logger(),
	}
}

// SetJournal makes completed missions land in j.
func (e *Engine) SetJournal(j interfaces.Journal) {
	e.journal = j
}

// BuildPool returns the eligible missions for a layout and crew.
func (e *Engine) BuildPool(areaTypes []types.AreaType, roles []types.Role) []types.MissionConfig {
	return BuildPool(e.opts.Catalog, areaTypes, roles)
}

// Assign draws the session's mission batch. It runs once per session; later
// calls return the existing batch without broadcasting. Nil roles or area
// types are taken from the session itself.
func (e *Engine) Assign(sessionID string, roles []types.Role, areaTypes []types.AreaType) ([]types.ActiveMission, error) {
	var (
		batch   []types.ActiveMission
		already bool
	)
	err := e.sessions.Update(sessionID, func(sess *session.Session) error {
		if sess.Missions.Assigned {
			already = true
			for _, m := range sess.OrderedMissions() {
				batch = append(batch, session.CopyMission(m))
			}
			return nil
		}
		if roles == nil {
			roles = sess.Roles()
		}
		if areaTypes == nil {
			areaTypes = sess.AreaTypes()
		}
		players := sess.PlayerIDs()
		picked := e.selectBatch(BuildPool(e.opts.Catalog, areaTypes, roles), roles, len(players))

		for i, cfg := range picked {
			m := e.instantiate(cfg, players, i)
			sess.Missions.ByID[m.ID] = m
			sess.Missions.Order = append(sess.Missions.Order, m.ID)
			batch = append(batch, session.CopyMission(m))
		}
		sess.Missions.NextAssignee = len(picked)
		sess.Missions.Assigned = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return batch, nil
	}

	e.logger.Info().Str("session", sessionID).Int("missions", len(batch)).Msg("missions assigned")
	e.publish(sessionID, types.EventMissionsAssigned, AssignedEvent{Missions: batch})
	return batch, nil
}

// selectBatch samples without replacement, preferring at every step a
// mission whose role requirement the crew meets.
func (e *Engine) selectBatch(pool []types.MissionConfig, roles []types.Role, crew int) []types.MissionConfig {
	if crew == 0 || len(pool) == 0 {
		return nil
	}
	target := (e.rng.IntN(2) + 2) * crew
	target = min(target, len(pool), e.opts.MaxActive)

	working := slices.Clone(pool)
	picked := make([]types.MissionConfig, 0, target)
	for len(picked) < target && len(working) > 0 {
		var matching []int
		for i, c := range working {
			if matchesRoles(c, roles) {
				matching = append(matching, i)
			}
		}
		var idx int
		if len(matching) > 0 {
			idx = matching[e.rng.IntN(len(matching))]
		} else {
			idx = e.rng.IntN(len(working))
		}
		picked = append(picked, working[idx])
		working = slices.Delete(working, idx, idx+1)
	}
	return picked
}

func (e *Engine) instantiate(cfg types.MissionConfig, players []string, slot int) *types.ActiveMission {
	m := &types.ActiveMission{
		ID:              uuid.NewString(),
		MissionID:       cfg.ID,
		Config:          cloneConfig(cfg),
		Status:          types.MissionPending,
		PlayersInvolved: []string{},
	}
	if len(players) > 0 {
		m.AssignedTo = players[slot%len(players)]
	}
	return m
}

// Activate moves a pending mission to active on behalf of playerID and starts
// its progress tick. missionID may be the instance id or the catalog id.
// A mission activated while the simulation is stopped ticks once Resume runs.
func (e *Engine) Activate(sessionID, missionID, playerID string) (types.ActiveMission, error) {
	now := e.clock.Now()
	var out types.ActiveMission
	err := e.sessions.Update(sessionID, func(sess *session.Session) error {
		m, err := find(sess, missionID)
		if err != nil {
			return err
		}
		if _, ok := sess.Players[playerID]; !ok {
			return fmt.Errorf("%w: player %s is not in the session", types.ErrInvalidPayload, playerID)
		}
		switch m.Status {
		case types.MissionActive:
			return fmt.Errorf("%w: %s", types.ErrMissionAlreadyActive, m.ID)
		case types.MissionCompleted:
			return fmt.Errorf("%w: %s", types.ErrMissionAlreadyCompleted, m.ID)
		}
		end := now.Add(m.Config.Duration)
		m.Status = types.MissionActive
		m.StartTime = &now
		m.EndTime = &end
		m.Progress = 0
		m.Elapsed = 0
		addPlayer(m, playerID)
		if sess.SimulationRunning {
			e.armProgress(sessionID, m.ID)
		}
		out = session.CopyMission(m)
		return nil
	})
	if err != nil {
		return types.ActiveMission{}, err
	}

	e.logger.Info().Str("session", sessionID).Str("mission", out.MissionID).Str("player", playerID).Msg("mission activated")
	e.publish(sessionID, types.EventMissionActivated, out)
	return out, nil
}

// Join adds a player to a mission. Joining a pending mission activates it.
func (e *Engine) Join(sessionID, missionID, playerID string) (types.ActiveMission, error) {
	var (
		out     types.ActiveMission
		pending bool
	)
	err := e.sessions.Update(sessionID, func(sess *session.Session) error {
		m, err := find(sess, missionID)
		if err != nil {
			return err
		}
		switch m.Status {
		case types.MissionPending:
			pending = true
			return nil
		case types.MissionCompleted:
			return fmt.Errorf("%w: %s", types.ErrMissionAlreadyCompleted, m.ID)
		}
		addPlayer(m, playerID)
		out = session.CopyMission(m)
		return nil
	})
	if err != nil {
		return types.ActiveMission{}, err
	}
	if pending {
		return e.Activate(sessionID, missionID, playerID)
	}
	e.publish(sessionID, types.EventMissionActivated, out)
	return out, nil
}

// HandleAreaClick activates the first pending mission located in areaType.
// It reports false when there is none.
func (e *Engine) HandleAreaClick(sessionID string, areaType types.AreaType, playerID string) (types.ActiveMission, bool, error) {
	var target string
	err := e.sessions.View(sessionID, func(sess *session.Session) {
		for _, m := range sess.OrderedMissions() {
			if m.Status == types.MissionPending && m.Config.Area == areaType {
				target = m.ID
				return
			}
		}
	})
	if err != nil || target == "" {
		return types.ActiveMission{}, false, err
	}
	m, err := e.Activate(sessionID, target, playerID)
	if err != nil {
		return types.ActiveMission{}, false, err
	}
	return m, true, nil
}

func (e *Engine) armProgress(sessionID, id string) {
	e.timers.Set(clock.Key(sessionID, "mission", id), e.clock.Every(e.opts.ProgressTick, func() {
		e.tick(sessionID, id)
	}))
}

func (e *Engine) tick(sessionID, id string) {
	var (
		progress ProgressEvent
		found    bool
		done     bool
	)
	err := e.sessions.Update(sessionID, func(sess *session.Session) error {
		m, ok := sess.Missions.ByID[id]
		if !ok || m.Status != types.MissionActive {
			return nil
		}
		found = true
		m.Elapsed += e.opts.ProgressTick
		m.Progress = percent(m.Elapsed, m.Config.Duration)
		done = m.Elapsed >= m.Config.Duration
		progress = ProgressEvent{ID: m.ID, MissionID: m.MissionID, Progress: m.Progress}
		return nil
	})
	if err != nil || !found {
		e.logger.Debug().Str("session", sessionID).Str("id", id).Msg("progress tick for gone mission")
		e.timers.Stop(clock.Key(sessionID, "mission", id))
		return
	}

	e.publish(sessionID, types.EventMissionProgress, progress)
	if done {
		if _, err := e.Complete(sessionID, id); err != nil {
			e.logger.Warn().Err(err).Str("session", sessionID).Str("id", id).Msg("auto-complete failed")
		}
	}
}

// percent is min(100, 100·elapsed/duration), exact for whole durations.
func percent(elapsed, duration time.Duration) float64 {
	if duration <= 0 {
		return 100
	}
	return min(100, float64(100*elapsed)/float64(duration))
}

// Complete finishes a mission and applies its effects to every player who
// took part. Completing a completed mission returns it unchanged.
func (e *Engine) Complete(sessionID, missionID string) (types.ActiveMission, error) {
	now := e.clock.Now()
	var (
		out     types.ActiveMission
		runID   string
		already bool
	)
	err := e.sessions.Update(sessionID, func(sess *session.Session) error {
		runID = sess.RunID
		m, err := find(sess, missionID)
		if err != nil {
			return err
		}
		if m.Status == types.MissionCompleted {
			already = true
			out = session.CopyMission(m)
			return nil
		}
		m.Status = types.MissionCompleted
		m.Progress = 100
		m.EndTime = &now
		for _, pid := range m.PlayersInvolved {
			sess.ApplyEffects(pid, m.Config.Effects)
		}
		out = session.CopyMission(m)
		return nil
	})
	if err != nil {
		return types.ActiveMission{}, err
	}
	e.timers.Stop(clock.Key(sessionID, "mission", out.ID))
	if already {
		return out, nil
	}

	e.metrics.MissionCompleted(out.MissionID)
	e.logger.Info().Str("session", sessionID).Str("mission", out.MissionID).Strs("players", out.PlayersInvolved).Msg("mission completed")
	if e.journal != nil {
		if err := e.journal.RecordMission(context.Background(), runID, out); err != nil {
			e.logger.Warn().Err(err).Str("session", sessionID).Msg("journal mission failed")
		}
	}
	e.publish(sessionID, types.EventMissionCompleted, out)
	e.scheduleReplenish(sessionID)
	return out, nil
}

func (e *Engine) scheduleReplenish(sessionID string) {
	key := clock.Key(sessionID, "replenish", uuid.NewString())
	e.timers.Set(key, e.clock.AfterFunc(e.opts.ReplenishDelay, func() {
		e.timers.Stop(key)
		e.replenish(sessionID)
	}))
}

// replenish adds one eligible mission not already in play, while the number
// of unfinished missions is under the cap.
func (e *Engine) replenish(sessionID string) {
	var added *types.ActiveMission
	err := e.sessions.Update(sessionID, func(sess *session.Session) error {
		open := 0
		inPlay := make(map[string]bool)
		for _, m := range sess.OrderedMissions() {
			if m.Status != types.MissionCompleted {
				open++
				inPlay[m.MissionID] = true
			}
		}
		if open >= e.opts.MaxActive {
			return nil
		}
		pool := slices.DeleteFunc(BuildPool(e.opts.Catalog, sess.AreaTypes(), sess.Roles()), func(c types.MissionConfig) bool {
			return inPlay[c.ID]
		})
		if len(pool) == 0 {
			return nil
		}
		m := e.instantiate(pool[e.rng.IntN(len(pool))], sess.PlayerIDs(), sess.Missions.NextAssignee)
		sess.Missions.NextAssignee++
		sess.Missions.ByID[m.ID] = m
		sess.Missions.Order = append(sess.Missions.Order, m.ID)
		cp := session.CopyMission(m)
		added = &cp
		return nil
	})
	if err != nil {
		e.logger.Debug().Str("session", sessionID).Msg("replenish for missing session")
		return
	}
	if added == nil {
		return
	}
	e.logger.Info().Str("session", sessionID).Str("mission", added.MissionID).Msg("mission replenished")
	e.publish(sessionID, types.EventMissionsAssigned, AssignedEvent{Missions: []types.ActiveMission{*added}, Replenished: true})
}

// Resume restarts progress ticks for missions left active by a stopped
// simulation.
func (e *Engine) Resume(sessionID string) error {
	var active []string
	err := e.sessions.View(sessionID, func(sess *session.Session) {
		for _, m := range sess.OrderedMissions() {
			if m.Status == types.MissionActive {
				active = append(active, m.ID)
			}
		}
	})
	if err != nil {
		return err
	}
	for _, id := range active {
		e.armProgress(sessionID, id)
	}
	return nil
}

// StopSession cancels every mission timer of the session.
func (e *Engine) StopSession(sessionID string) {
	e.timers.StopSession(sessionID)
}

// List returns the session's missions in assignment order.
func (e *Engine) List(sessionID string) ([]types.ActiveMission, error) {
	var out []types.ActiveMission
	err := e.sessions.View(sessionID, func(sess *session.Session) {
		for _, m := range sess.OrderedMissions() {
			out = append(out, session.CopyMission(m))
		}
	})
	return out, err
}

func (e *Engine) publish(sessionID, kind string, payload any) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(sessionID, types.NewOutbound(kind, payload, e.clock.Now()))
	e.pub.MarkDirty(sessionID)
}

func find(sess *session.Session, missionID string) (*types.ActiveMission, error) {
	if m, ok := sess.Missions.ByID[missionID]; ok {
		return m, nil
	}
	// Catalog ids can repeat after replenishment; prefer an unfinished one.
	var done *types.ActiveMission
	for _, m := range sess.OrderedMissions() {
		if m.MissionID != missionID {
			continue
		}
		if m.Status != types.MissionCompleted {
			return m, nil
		}
		if done == nil {
			done = m
		}
	}
	if done != nil {
		return done, nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrMissionNotFound, missionID)
}

func addPlayer(m *types.ActiveMission, playerID string) {
	if playerID == "" || slices.Contains(m.PlayersInvolved, playerID) {
		return
	}
	m.PlayersInvolved = append(m.PlayersInvolved, playerID)
}
