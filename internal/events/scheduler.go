// Package events runs the incident scheduler of a simulation: a periodic
// weighted draw that starts timed incidents, and a per-incident tick that
// applies their stat effects to the crew until they resolve.
package events

import (
	"context"
	"errors"
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

// Options tunes the scheduler.
type Options struct {
	CheckInterval time.Duration
	MinSpacing    time.Duration
	MaxActive     int
	EffectTick    time.Duration
	// AllowForce enables event:force. Only development deployments set it.
	AllowForce bool
	Catalog    []types.EventConfig
}

// DefaultOptions returns the production cadence: a draw every 15s, at least
// 20s between incidents, at most two at once and effects every 40s.
func DefaultOptions() Options {
	return Options{
		CheckInterval: 15 * time.Second,
		MinSpacing:    20 * time.Second,
		MaxActive:     2,
		EffectTick:    40 * time.Second,
	}
}

// Scheduler triggers and resolves incidents for running simulations.
type Scheduler struct {
	sessions *session.Manager
	pub      interfaces.Broadcaster
	journal  interfaces.Journal
	clock    clock.Clock
	rng      *random.Source
	metrics  *metrics.Recorder
	timers   *clock.TimerSet
	opts     Options
	byType   map[string]types.EventConfig
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler. An empty catalog selects DefaultCatalog.
func NewScheduler(sessions *session.Manager, pub interfaces.Broadcaster, clk clock.Clock, rng *random.Source, rec *metrics.Recorder, opts Options, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if len(opts.Catalog) == 0 {
		opts.Catalog = DefaultCatalog()
	}
	byType := make(map[string]types.EventConfig, len(opts.Catalog))
	for _, c := range opts.Catalog {
		byType[c.Type] = c
	}
	return &Scheduler{
		sessions: sessions,
		pub:      pub,
		clock:    clk,
		rng:      rng,
		metrics:  rec,
		timers:   clock.NewTimerSet(),
		opts:     opts,
		byType:   byType,
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// SetJournal makes resolved incidents land in j.
func (s *Scheduler) SetJournal(j interfaces.Journal) {
	s.journal = j
}

// Catalog returns the incident definitions in draw order.
func (s *Scheduler) Catalog() []types.EventConfig {
	return slices.Clone(s.opts.Catalog)
}

// Start arms the periodic check for a session and resumes the effect tick of
// incidents that were still active when the simulation was stopped.
func (s *Scheduler) Start(sessionID string) error {
	var active []string
	if err := s.sessions.View(sessionID, func(sess *session.Session) {
		active = slices.Clone(sess.Events.ActiveOrder)
	}); err != nil {
		return err
	}

	s.timers.Set(clock.Key(sessionID, "events", "check"), s.clock.Every(s.opts.CheckInterval, func() {
		s.check(sessionID)
	}))
	for _, id := range active {
		s.armEffect(sessionID, id)
	}
	s.logger.Info().Str("session", sessionID).Int("resumed", len(active)).Msg("scheduler started")
	return nil
}

// Stop halts the scheduler for a session. Active incidents stay active and
// resume on the next Start.
func (s *Scheduler) Stop(sessionID string) {
	n := s.timers.StopSession(sessionID)
	s.logger.Info().Str("session", sessionID).Int("timers", n).Msg("scheduler stopped")
}

// StopSession cancels every incident timer of a session being torn down.
func (s *Scheduler) StopSession(sessionID string) {
	s.timers.StopSession(sessionID)
}

// Running reports whether the periodic check is armed for the session.
func (s *Scheduler) Running(sessionID string) bool {
	return s.timers.Has(clock.Key(sessionID, "events", "check"))
}

func (s *Scheduler) check(sessionID string) {
	now := s.clock.Now()
	due := false
	err := s.sessions.View(sessionID, func(sess *session.Session) {
		due = s.canTrigger(sess, now)
	})
	if err != nil {
		s.logger.Debug().Str("session", sessionID).Msg("check fired for missing session")
		s.timers.StopSession(sessionID)
		return
	}
	if !due {
		return
	}

	eventType := PickWeighted(s.opts.Catalog, s.rng.Float64())
	if eventType == "" {
		return
	}
	if _, err := s.trigger(sessionID, s.byType[eventType], true); err != nil {
		s.logger.Warn().Err(err).Str("session", sessionID).Str("event", eventType).Msg("trigger failed")
	}
}

func (s *Scheduler) canTrigger(sess *session.Session, now time.Time) bool {
	last := sess.Events.LastTriggered
	if !last.IsZero() && now.Sub(last) < s.opts.MinSpacing {
		return false
	}
	return sess.ActiveEventCount() < s.opts.MaxActive
}

// Force triggers an incident of the given type immediately, ignoring spacing
// and the active cap. Only allowed in development. While the simulation is
// stopped the incident waits for Start before its effects tick.
func (s *Scheduler) Force(sessionID, eventType string) (types.ActiveEvent, error) {
	if !s.opts.AllowForce {
		return types.ActiveEvent{}, types.ErrForbidden
	}
	cfg, ok := s.byType[eventType]
	if !ok {
		return types.ActiveEvent{}, fmt.Errorf("%w: unknown event type %q", types.ErrInvalidPayload, eventType)
	}
	return s.trigger(sessionID, cfg, false)
}

func (s *Scheduler) trigger(sessionID string, cfg types.EventConfig, limited bool) (types.ActiveEvent, error) {
	now := s.clock.Now()
	ev := &types.ActiveEvent{
		ID:        uuid.NewString(),
		Type:      cfg.Type,
		Config:    cloneConfig(cfg),
		StartTime: now,
		EndTime:   now.Add(cfg.Duration),
	}
	if n := len(cfg.AffectedAreas); n > 0 {
		area := cfg.AffectedAreas[s.rng.IntN(n)]
		ev.AffectedArea = &area
	}

	var out types.ActiveEvent
	skipped := false
	err := s.sessions.Update(sessionID, func(sess *session.Session) error {
		if limited && !s.canTrigger(sess, now) {
			skipped = true
			return nil
		}
		sess.Events.Active[ev.ID] = ev
		sess.Events.ActiveOrder = append(sess.Events.ActiveOrder, ev.ID)
		sess.Events.History = append(sess.Events.History, ev)
		sess.Events.LastTriggered = now
		if sess.SimulationRunning {
			s.armEffect(sessionID, ev.ID)
		}
		out = session.CopyEvent(ev)
		return nil
	})
	if err != nil {
		return types.ActiveEvent{}, err
	}
	if skipped {
		return types.ActiveEvent{}, nil
	}

	s.metrics.IncidentTriggered(ev.Type)
	logEv := s.logger.Info().Str("session", sessionID).Str("event", ev.Type).Str("id", ev.ID)
	if ev.AffectedArea != nil {
		logEv = logEv.Str("area", string(*ev.AffectedArea))
	}
	logEv.Msg("incident triggered")
	s.publish(sessionID, types.EventIncidentTriggered, out)
	return out, nil
}

func (s *Scheduler) armEffect(sessionID, eventID string) {
	s.timers.Set(clock.Key(sessionID, "event", eventID), s.clock.Every(s.opts.EffectTick, func() {
		s.effectTick(sessionID, eventID)
	}))
}

// effectTick either auto-resolves an expired incident or applies one round
// of its effects to every player, never both.
func (s *Scheduler) effectTick(sessionID, eventID string) {
	now := s.clock.Now()
	found, expired := false, false
	err := s.sessions.Update(sessionID, func(sess *session.Session) error {
		ev, ok := sess.Events.Active[eventID]
		if !ok {
			return nil
		}
		found = true
		if !now.Before(ev.EndTime) {
			expired = true
			return nil
		}
		sess.ApplyEffectsAll(ev.Config.Effects)
		return nil
	})
	if err != nil || !found {
		s.logger.Debug().Str("session", sessionID).Str("id", eventID).Msg("effect tick for gone incident")
		s.timers.Stop(clock.Key(sessionID, "event", eventID))
		return
	}
	if expired {
		if _, err := s.Resolve(sessionID, eventID, false); err != nil {
			s.logger.Warn().Err(err).Str("session", sessionID).Str("id", eventID).Msg("auto-resolve failed")
		}
		return
	}
	if s.pub != nil {
		s.pub.MarkDirty(sessionID)
	}
}

// Resolve ends an incident. Any session member may resolve. Resolving an
// already resolved incident returns it unchanged.
func (s *Scheduler) Resolve(sessionID, eventID string, manual bool) (types.ActiveEvent, error) {
	var (
		out     types.ActiveEvent
		runID   string
		already bool
	)
	err := s.sessions.Update(sessionID, func(sess *session.Session) error {
		runID = sess.RunID
		ev, ok := sess.Events.Active[eventID]
		if !ok {
			for _, past := range sess.Events.History {
				if past.ID == eventID {
					out = session.CopyEvent(past)
					already = true
					return nil
				}
			}
			return fmt.Errorf("%w: %s", types.ErrEventNotFound, eventID)
		}
		ev.Resolved = true
		ev.ResolvedManually = manual
		delete(sess.Events.Active, eventID)
		sess.Events.ActiveOrder = slices.DeleteFunc(sess.Events.ActiveOrder, func(id string) bool { return id == eventID })
		out = session.CopyEvent(ev)
		return nil
	})
	s.timers.Stop(clock.Key(sessionID, "event", eventID))
	if err != nil {
		if errors.Is(err, types.ErrEventNotFound) {
			s.logger.Warn().Str("session", sessionID).Str("id", eventID).Msg("resolve for unknown incident")
		}
		return types.ActiveEvent{}, err
	}
	if already {
		return out, nil
	}

	s.metrics.IncidentResolved(out.Type, manual)
	s.logger.Info().Str("session", sessionID).Str("event", out.Type).Str("id", eventID).Bool("manual", manual).Msg("incident resolved")
	if s.journal != nil {
		if err := s.journal.RecordIncident(context.Background(), runID, out); err != nil {
			s.logger.Warn().Err(err).Str("session", sessionID).Msg("journal incident failed")
		}
	}
	s.publish(sessionID, types.EventIncidentResolved, out)
	return out, nil
}

// Active returns the unresolved incidents of a session in trigger order.
func (s *Scheduler) Active(sessionID string) ([]types.ActiveEvent, error) {
	var out []types.ActiveEvent
	err := s.sessions.View(sessionID, func(sess *session.Session) {
		for _, id := range sess.Events.ActiveOrder {
			out = append(out, session.CopyEvent(sess.Events.Active[id]))
		}
	})
	return out, err
}

// History returns every incident triggered in the session, resolved or not.
func (s *Scheduler) History(sessionID string) ([]types.ActiveEvent, error) {
	var out []types.ActiveEvent
	err := s.sessions.View(sessionID, func(sess *session.Session) {
		for _, ev := range sess.Events.History {
			out = append(out, session.CopyEvent(ev))
		}
	})
	return out, err
}

func (s *Scheduler) publish(sessionID, kind string, ev types.ActiveEvent) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(sessionID, types.NewOutbound(kind, ev, s.clock.Now()))
	s.pub.MarkDirty(sessionID)
}
