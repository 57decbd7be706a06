package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"habitat/internal/clock"
	"habitat/internal/events"
	"habitat/internal/metrics"
	"habitat/internal/missions"
	"habitat/internal/placement"
	"habitat/internal/roles"
	"habitat/internal/session"
	"habitat/pkg/interfaces"
	"habitat/pkg/types"
)

// Registry is the part of the connection registry the router needs.
type Registry interface {
	GetConnection(connID string) (interfaces.Connection, bool)
	Bind(connID, sessionID string) error
	Unbind(connID string)
}

// forgetter is implemented by broadcasters that keep per-session throttle
// state.
type forgetter interface {
	Forget(sessionID string)
}

// Payloads of the frames the router emits itself.

type JoinedEvent struct {
	PlayerID string              `json:"playerId"`
	State    types.SessionState  `json:"state"`
	Chat     []types.ChatMessage `json:"chat"`
}

type PlayerEvent struct {
	Player types.Player `json:"player"`
}

type HostChangedEvent struct {
	HostID string `json:"hostId"`
}

type SimulationEvent struct {
	Running  bool                  `json:"running"`
	Missions []types.ActiveMission `json:"missions,omitempty"`
}

// Deps wires the router to the engines. Journal and Metrics may be nil.
type Deps struct {
	Registry   Registry
	Sessions   *session.Manager
	Placement  *placement.Engine
	Events     *events.Scheduler
	Missions   *missions.Engine
	Broadcast  interfaces.Broadcaster
	Journal    interfaces.Journal
	Metrics    *metrics.Recorder
	Clock      clock.Clock
	RateLimit  int
	RateWindow time.Duration
	Logger     zerolog.Logger
}

// Router validates inbound commands and dispatches them to the session
// engines. It holds no game state of its own.
type Router struct {
	registry    Registry
	sessions    *session.Manager
	placement   *placement.Engine
	events      *events.Scheduler
	missions    *missions.Engine
	pub         interfaces.Broadcaster
	journal     interfaces.Journal
	metrics     *metrics.Recorder
	clock       clock.Clock
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

func NewRouter(d Deps) *Router {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Router{
		registry:    d.Registry,
		sessions:    d.Sessions,
		placement:   d.Placement,
		events:      d.Events,
		missions:    d.Missions,
		pub:         d.Broadcast,
		journal:     d.Journal,
		metrics:     d.Metrics,
		clock:       clk,
		rateLimiter: NewRateLimiter(d.RateLimit, d.RateWindow, clk.Now),
		logger:      d.Logger.With().Str("component", "router").Logger(),
	}
}

// Cleanup drops rate limiter state of idle connections.
func (r *Router) Cleanup() int {
	return r.rateLimiter.Cleanup()
}

// RouteMessage handles one command from message.FromConn. The returned error
// is reported back to that connection only.
func (r *Router) RouteMessage(ctx context.Context, message *types.Message) error {
	message.ID = uuid.NewString()
	message.Timestamp = r.clock.Now()

	err := r.route(ctx, message)
	if err != nil {
		r.metrics.Rejected(message.Type, types.ReasonOf(err))
		r.logger.Debug().Err(err).
			Str("conn", message.FromConn).
			Str("session", message.SessionID).
			Str("type", message.Type).
			Msg("command rejected")
	}
	return err
}

func (r *Router) route(ctx context.Context, message *types.Message) error {
	connID := message.FromConn
	if connID == "" {
		return ErrMissingSender
	}
	conn, ok := r.registry.GetConnection(connID)
	if !ok {
		return ErrSenderNotConnected
	}
	if !r.rateLimiter.Allow(connID) {
		return types.ErrRateLimited
	}
	sid := conn.GetSessionID()
	message.SessionID = sid

	switch message.Type {
	case types.MessageTypeCreateSession:
		return r.handleCreate(ctx, message, sid)
	case types.MessageTypeJoinSession:
		return r.handleJoin(ctx, message, sid)
	case types.MessageTypeLeaveSession:
		if sid == "" {
			return nil
		}
		return r.leave(ctx, connID, sid)
	}

	if !isKnown(message.Type) {
		return fmt.Errorf("%w: %q", types.ErrUnknownMessageType, message.Type)
	}
	if sid == "" {
		return types.ErrNotInSession
	}

	switch message.Type {
	case types.MessageTypePlaceArea:
		var spec types.AreaSpec
		if err := decode(message, &spec); err != nil {
			return err
		}
		_, err := r.placement.Place(sid, connID, spec)
		return err

	case types.MessageTypeUpdateArea:
		var upd types.AreaUpdate
		if err := decode(message, &upd); err != nil {
			return err
		}
		_, err := r.placement.Update(sid, connID, upd)
		return err

	case types.MessageTypeRemoveArea:
		var ref types.AreaRef
		if err := decode(message, &ref); err != nil {
			return err
		}
		_, err := r.placement.Remove(sid, connID, ref.AreaID)
		return err

	case types.MessageTypeUndo:
		_, _, err := r.placement.Undo(sid, connID)
		return err

	case types.MessageTypeRedo:
		_, _, err := r.placement.Redo(sid, connID)
		return err

	case types.MessageTypePlayerMove:
		var mv types.MoveRequest
		if err := decode(message, &mv); err != nil {
			return err
		}
		if err := r.sessions.UpdatePlayerPosition(sid, connID, mv.X, mv.Y, mv.Direction); err != nil {
			return err
		}
		r.pub.MarkDirty(sid)
		return nil

	case types.MessageTypeChat:
		return r.handleChat(ctx, message, sid)

	case types.MessageTypeSetRole:
		var req types.RoleRequest
		if err := decode(message, &req); err != nil {
			return err
		}
		if _, err := r.sessions.SetRole(sid, connID, req.Role); err != nil {
			return err
		}
		r.pub.MarkDirty(sid)
		return nil

	case types.MessageTypeStartMission, types.MessageTypeSimulationStart:
		return r.handleStart(message, sid)

	case types.MessageTypeSimulationStop:
		return r.handleStop(connID, sid)

	case types.MessageTypeMissionActivate:
		var req types.MissionRequest
		if err := decode(message, &req); err != nil {
			return err
		}
		playerID := req.PlayerID
		if playerID == "" {
			playerID = connID
		}
		_, err := r.missions.Activate(sid, req.MissionID, playerID)
		return err

	case types.MessageTypeMissionJoin:
		var req types.MissionRequest
		if err := decode(message, &req); err != nil {
			return err
		}
		_, err := r.missions.Join(sid, req.MissionID, connID)
		return err

	case types.MessageTypeAreaClick:
		var req types.AreaClickRequest
		if err := decode(message, &req); err != nil {
			return err
		}
		if !req.AreaType.Valid() {
			return types.ErrInvalidAreaType
		}
		_, _, err := r.missions.HandleAreaClick(sid, req.AreaType, connID)
		return err

	case types.MessageTypeEventResolve:
		var req types.EventRequest
		if err := decode(message, &req); err != nil {
			return err
		}
		_, err := r.events.Resolve(sid, req.EventID, true)
		return err

	case types.MessageTypeEventForce:
		var req types.EventRequest
		if err := decode(message, &req); err != nil {
			return err
		}
		_, err := r.events.Force(sid, req.EventType)
		return err
	}
	return nil
}

func (r *Router) handleCreate(ctx context.Context, message *types.Message, current string) error {
	var req types.JoinRequest
	if err := decode(message, &req); err != nil {
		return err
	}
	connID := message.FromConn
	if current != "" {
		if err := r.leave(ctx, connID, current); err != nil {
			return err
		}
	}

	state, err := r.sessions.CreateSession(req.SessionID, connID, req.PlayerName, req.Role)
	if err != nil {
		return err
	}
	sid := state.SessionID
	if err := r.registry.Bind(connID, sid); err != nil {
		_, _ = r.sessions.RemovePlayer(sid, connID)
		return err
	}
	message.SessionID = sid

	if err := r.pub.SendTo(connID, types.NewOutbound(types.EventSessionCreated,
		JoinedEvent{PlayerID: connID, State: state, Chat: []types.ChatMessage{}}, r.clock.Now())); err != nil {
		r.logger.Warn().Err(err).Str("conn", connID).Msg("session_created reply failed")
	}

	r.metrics.SessionCreated()
	if r.journal != nil {
		rec := &interfaces.SessionRecord{
			RunID:     r.runID(sid),
			SessionID: sid,
			HostName:  req.PlayerName,
			CreatedAt: state.CreatedAt,
		}
		if err := r.journal.RecordSessionStart(ctx, rec); err != nil {
			r.logger.Warn().Err(err).Str("session", sid).Msg("journal session start failed")
		}
	}
	return nil
}

func (r *Router) handleJoin(ctx context.Context, message *types.Message, current string) error {
	var req types.JoinRequest
	if err := decode(message, &req); err != nil {
		return err
	}
	if err := types.ValidateSessionID(req.SessionID); err != nil {
		return err
	}
	connID := message.FromConn
	rejoin := current == req.SessionID
	if current != "" && !rejoin {
		if err := r.leave(ctx, connID, current); err != nil {
			return err
		}
	}

	player, state, err := r.sessions.JoinSession(req.SessionID, connID, req.PlayerName, req.Role)
	if err != nil {
		return err
	}
	sid := state.SessionID
	if err := r.registry.Bind(connID, sid); err != nil {
		_, _ = r.sessions.RemovePlayer(sid, connID)
		return err
	}
	message.SessionID = sid

	chat, _ := r.sessions.ChatHistory(sid)
	if chat == nil {
		chat = []types.ChatMessage{}
	}
	if err := r.pub.SendTo(connID, types.NewOutbound(types.EventSessionJoined,
		JoinedEvent{PlayerID: connID, State: state, Chat: chat}, r.clock.Now())); err != nil {
		r.logger.Warn().Err(err).Str("conn", connID).Msg("session_joined reply failed")
	}
	if rejoin {
		return nil
	}
	r.pub.Publish(sid, types.NewOutbound(types.EventPlayerJoined, PlayerEvent{Player: player}, r.clock.Now()))
	r.pub.EmitNow(sid)
	return nil
}

func (r *Router) handleChat(ctx context.Context, message *types.Message, sid string) error {
	var req types.ChatRequest
	if err := decode(message, &req); err != nil {
		return err
	}
	chat, err := r.sessions.AppendChat(sid, message.FromConn, req.Text)
	if err != nil {
		return err
	}
	r.pub.Publish(sid, types.NewOutbound(types.EventChat, chat, r.clock.Now()))

	if r.journal != nil {
		if err := r.journal.StoreChat(ctx, r.runID(sid), chat); err != nil {
			r.logger.Warn().Err(err).Str("session", sid).Msg("journal chat failed")
		}
	}
	return nil
}

// handleStart starts the simulation: missions are assigned once, paused
// missions resume and the incident scheduler is armed.
func (r *Router) handleStart(message *types.Message, sid string) error {
	var req types.SimulationRequest
	if err := decode(message, &req); err != nil {
		return err
	}
	for _, a := range req.Areas {
		if !a.Valid() {
			return fmt.Errorf("%w: %q", types.ErrInvalidAreaType, a)
		}
	}

	err := r.sessions.Update(sid, func(s *session.Session) error {
		if !s.IsHost(message.FromConn) {
			return types.ErrNotHost
		}
		s.MissionStarted = true
		s.SimulationRunning = true
		return nil
	})
	if err != nil {
		return err
	}

	var crewRoles []types.Role
	if len(req.Roles) > 0 {
		crewRoles = roles.NormalizeAll(req.Roles)
	}
	var areas []types.AreaType
	if len(req.Areas) > 0 {
		areas = req.Areas
	}

	assigned, err := r.missions.Assign(sid, crewRoles, areas)
	if err != nil {
		return err
	}
	if err := r.missions.Resume(sid); err != nil {
		return err
	}
	if err := r.events.Start(sid); err != nil {
		return err
	}

	r.logger.Info().Str("session", sid).Int("missions", len(assigned)).Msg("simulation started")
	r.pub.Publish(sid, types.NewOutbound(types.EventSimulationStarted,
		SimulationEvent{Running: true, Missions: assigned}, r.clock.Now()))
	r.pub.EmitNow(sid)
	return nil
}

// handleStop pauses every timer of the session. Mission progress and active
// incidents are kept for the next start.
func (r *Router) handleStop(connID, sid string) error {
	err := r.sessions.Update(sid, func(s *session.Session) error {
		if !s.IsHost(connID) {
			return types.ErrNotHost
		}
		s.SimulationRunning = false
		return nil
	})
	if err != nil {
		return err
	}

	r.events.Stop(sid)
	r.missions.StopSession(sid)

	r.logger.Info().Str("session", sid).Msg("simulation stopped")
	r.pub.Publish(sid, types.NewOutbound(types.EventSimulationStopped, SimulationEvent{Running: false}, r.clock.Now()))
	r.pub.EmitNow(sid)
	return nil
}

// HandleDisconnect removes a closed connection's player from its session.
func (r *Router) HandleDisconnect(ctx context.Context, connID, sessionID string) {
	r.rateLimiter.Forget(connID)
	if sessionID == "" {
		return
	}
	if err := r.leave(ctx, connID, sessionID); err != nil {
		r.logger.Debug().Err(err).Str("conn", connID).Str("session", sessionID).Msg("disconnect cleanup")
	}
}

// leave removes connID from sessionID, promoting a new host or tearing the
// session down when it empties.
func (r *Router) leave(ctx context.Context, connID, sessionID string) error {
	runID := r.runID(sessionID)
	res, err := r.sessions.RemovePlayer(sessionID, connID)
	r.registry.Unbind(connID)
	if err != nil {
		return err
	}
	if !res.Removed {
		return nil
	}

	if res.Empty {
		r.teardown(ctx, sessionID, runID)
		return nil
	}

	now := r.clock.Now()
	r.pub.Publish(sessionID, types.NewOutbound(types.EventPlayerLeft, PlayerEvent{Player: res.Player}, now))
	if res.NewHostID != "" {
		r.pub.Publish(sessionID, types.NewOutbound(types.EventHostChanged, HostChangedEvent{HostID: res.NewHostID}, now))
	}
	r.pub.EmitNow(sessionID)
	return nil
}

// teardown releases everything keyed by a session that no longer exists.
func (r *Router) teardown(ctx context.Context, sessionID, runID string) {
	r.events.StopSession(sessionID)
	r.missions.StopSession(sessionID)
	if runID != "" {
		r.placement.Forget(runID)
	}
	if f, ok := r.pub.(forgetter); ok {
		f.Forget(sessionID)
	}
	r.metrics.SessionClosed()

	if r.journal != nil && runID != "" {
		if err := r.journal.RecordSessionEnd(ctx, runID, r.clock.Now()); err != nil {
			r.logger.Warn().Err(err).Str("session", sessionID).Msg("journal session end failed")
		}
	}
	r.logger.Info().Str("session", sessionID).Msg("session torn down")
}

func (r *Router) runID(sessionID string) string {
	var id string
	_ = r.sessions.View(sessionID, func(s *session.Session) {
		id = s.RunID
	})
	return id
}

// decode unmarshals the payload into v. A missing payload leaves v zero.
func decode(message *types.Message, v any) error {
	if len(message.Payload) == 0 || string(message.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(message.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return nil
}

func isKnown(messageType string) bool {
	switch messageType {
	case types.MessageTypePlaceArea, types.MessageTypeUpdateArea, types.MessageTypeRemoveArea,
		types.MessageTypeUndo, types.MessageTypeRedo, types.MessageTypePlayerMove,
		types.MessageTypeChat, types.MessageTypeSetRole, types.MessageTypeStartMission,
		types.MessageTypeSimulationStart, types.MessageTypeSimulationStop,
		types.MessageTypeMissionActivate, types.MessageTypeMissionJoin,
		types.MessageTypeAreaClick, types.MessageTypeEventResolve, types.MessageTypeEventForce:
		return true
	}
	return false
}
