package session

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"habitat/internal/clock"
	"habitat/internal/geometry"
	"habitat/internal/roles"
	"habitat/pkg/types"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Options sizes every session the manager creates.
type Options struct {
	Grid        geometry.Grid
	MaxPlayers  int
	ChatHistory int
}

// DefaultOptions returns a 20×20 grid of 32px tiles, five players and the
// last hundred chat lines.
func DefaultOptions() Options {
	return Options{
		Grid:        geometry.Grid{Cols: 20, Rows: 20, TileSize: 32},
		MaxPlayers:  5,
		ChatHistory: 100,
	}
}

// Manager is the concurrency-safe registry of live sessions. The registry map
// has its own lock; each session is guarded by its own mutex so sessions
// never contend with each other.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	opts   Options
	clock  clock.Clock
	logger zerolog.Logger
}

// NewManager creates an empty session registry.
func NewManager(opts Options, clk clock.Clock, logger zerolog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		sessions: make(map[string]*Session),
		opts:     opts,
		clock:    clk,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// Options returns the sizing the manager was built with.
func (m *Manager) Options() Options {
	return m.opts
}

// RemoveResult describes the effect of RemovePlayer.
type RemoveResult struct {
	Removed   bool
	Player    types.Player
	Empty     bool
	NewHostID string
}

// Summary is a lightweight listing entry.
type Summary struct {
	ID                string    `json:"id"`
	HostID            string    `json:"hostId"`
	Players           int       `json:"players"`
	Areas             int       `json:"areas"`
	MissionStarted    bool      `json:"missionStarted"`
	SimulationRunning bool      `json:"simulationRunning"`
	CreatedAt         time.Time `json:"createdAt"`
}

// CreateSession registers a new session with connID as its host. An empty id
// gets a generated code.
func (m *Manager) CreateSession(id, connID, playerName, roleLabel string) (types.SessionState, error) {
	if err := types.ValidatePlayerName(playerName); err != nil {
		return types.SessionState{}, err
	}
	id = strings.TrimSpace(id)
	if id != "" {
		if err := types.ValidateSessionID(id); err != nil {
			return types.SessionState{}, err
		}
	}

	now := m.clock.Now()
	m.mu.Lock()
	if id == "" {
		id = m.freeCodeLocked()
	}
	if existing, ok := m.sessions[id]; ok && !existing.closed.Load() {
		m.mu.Unlock()
		return types.SessionState{}, fmt.Errorf("%w: %s", types.ErrDuplicateSession, id)
	}
	s := newSession(id, uuid.NewString(), now, m.opts.Grid.Cols, m.opts.Grid.Rows, m.opts.ChatHistory)
	host := m.newPlayer(connID, playerName, roleLabel, now)
	host.IsHost = true
	s.addPlayer(host)
	s.HostID = connID
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info().Str("session", id).Str("conn", connID).Str("player", playerName).Msg("session created")

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State(), nil
}

// JoinSession adds a player to an existing session.
func (m *Manager) JoinSession(id, connID, playerName, roleLabel string) (types.Player, types.SessionState, error) {
	if err := types.ValidatePlayerName(playerName); err != nil {
		return types.Player{}, types.SessionState{}, err
	}

	var (
		joined types.Player
		state  types.SessionState
	)
	err := m.Update(id, func(s *Session) error {
		if _, already := s.Players[connID]; already {
			joined = *s.Players[connID]
			state = s.State()
			return nil
		}
		if len(s.Players) >= m.opts.MaxPlayers {
			return types.ErrRoomFull
		}
		if s.nameTaken(playerName) {
			return types.ErrNameTaken
		}
		p := m.newPlayer(connID, playerName, roleLabel, m.clock.Now())
		s.addPlayer(p)
		joined = *p
		state = s.State()
		return nil
	})
	if err != nil {
		return types.Player{}, types.SessionState{}, err
	}

	m.logger.Info().Str("session", id).Str("conn", connID).Str("player", playerName).Msg("player joined")
	return joined, state, nil
}

// RemovePlayer drops a player. It is idempotent. When the host leaves, the
// earliest-joined remaining player becomes host. When the last player
// leaves, the session is deleted.
func (m *Manager) RemovePlayer(id, connID string) (RemoveResult, error) {
	var res RemoveResult
	var s *Session
	err := m.Update(id, func(sess *Session) error {
		s = sess
		p, ok := sess.removePlayer(connID)
		if !ok {
			return nil
		}
		res.Removed = true
		res.Player = *p
		if len(sess.Players) == 0 {
			res.Empty = true
			sess.HostID = ""
			sess.closed.Store(true)
			return nil
		}
		if sess.HostID == connID {
			res.NewHostID = sess.promoteHost()
		}
		return nil
	})
	if err != nil {
		return RemoveResult{}, err
	}

	if res.Empty {
		m.mu.Lock()
		if m.sessions[id] == s {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		m.logger.Info().Str("session", id).Msg("session closed, last player left")
	} else if res.Removed {
		ev := m.logger.Info().Str("session", id).Str("conn", connID)
		if res.NewHostID != "" {
			ev = ev.Str("new_host", res.NewHostID)
		}
		ev.Msg("player left")
	}
	return res, nil
}

// UpdatePlayerPosition records a player's position. Movement is never
// validated; unknown players are ignored.
func (m *Manager) UpdatePlayerPosition(id, connID string, x, y float64, direction string) error {
	return m.Update(id, func(s *Session) error {
		p, ok := s.Players[connID]
		if !ok {
			return nil
		}
		p.Position = types.Position{X: x, Y: y}
		if direction != "" {
			p.Direction = direction
		}
		return nil
	})
}

// ApplyStatsEffects adds each delta to the player's stats, clamped to
// [0, 100]. Unknown stat keys and absent players are ignored.
func (m *Manager) ApplyStatsEffects(id, connID string, effects map[string]float64) error {
	return m.Update(id, func(s *Session) error {
		s.ApplyEffects(connID, effects)
		return nil
	})
}

// SetRole changes a player's role from a localized label.
func (m *Manager) SetRole(id, connID, roleLabel string) (types.Player, error) {
	var out types.Player
	err := m.Update(id, func(s *Session) error {
		p, ok := s.Players[connID]
		if !ok {
			return types.ErrNotInSession
		}
		p.Role = roles.Normalize(roleLabel)
		out = *p
		return nil
	})
	return out, err
}

// AppendChat stores a chat line in the bounded history.
func (m *Manager) AppendChat(id, connID, text string) (types.ChatMessage, error) {
	if err := types.ValidateChatText(text); err != nil {
		return types.ChatMessage{}, err
	}
	var msg types.ChatMessage
	err := m.Update(id, func(s *Session) error {
		p, ok := s.Players[connID]
		if !ok {
			return types.ErrNotInSession
		}
		msg = types.ChatMessage{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			Text:       strings.TrimSpace(text),
			Timestamp:  m.clock.Now(),
		}
		s.appendChat(msg)
		return nil
	})
	return msg, err
}

// ChatHistory returns a copy of the retained chat lines.
func (m *Manager) ChatHistory(id string) ([]types.ChatMessage, error) {
	var out []types.ChatMessage
	err := m.View(id, func(s *Session) {
		out = slices.Clone(s.Chat)
	})
	return out, err
}

// Snapshot returns an immutable view of the session.
func (m *Manager) Snapshot(id string) (types.SessionState, error) {
	var st types.SessionState
	err := m.View(id, func(s *Session) {
		st = s.State()
	})
	return st, err
}

// Update runs fn with exclusive access to the session. fn must not call back
// into the Manager.
func (m *Manager) Update(id string, fn func(*Session) error) error {
	s, ok := m.lookup(id)
	if !ok {
		return types.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return types.ErrSessionNotFound
	}
	return fn(s)
}

// View runs fn with exclusive access to the session for reading.
func (m *Manager) View(id string, fn func(*Session)) error {
	return m.Update(id, func(s *Session) error {
		fn(s)
		return nil
	})
}

// Exists reports whether a live session has this id.
func (m *Manager) Exists(id string) bool {
	s, ok := m.lookup(id)
	return ok && !s.closed.Load()
}

// List returns a summary of every live session ordered by creation time.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		if !s.closed.Load() {
			out = append(out, Summary{
				ID:                s.ID,
				HostID:            s.HostID,
				Players:           len(s.Players),
				Areas:             len(s.Areas),
				MissionStarted:    s.MissionStarted,
				SimulationRunning: s.SimulationRunning,
				CreatedAt:         s.CreatedAt,
			})
		}
		s.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// GetStats returns registry counters for monitoring.
func (m *Manager) GetStats() map[string]int {
	sessions := m.List()
	players := 0
	running := 0
	for _, s := range sessions {
		players += s.Players
		if s.SimulationRunning {
			running++
		}
	}
	return map[string]int{
		"active_sessions":     len(sessions),
		"connected_players":   players,
		"running_simulations": running,
	}
}

func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) newPlayer(connID, name, roleLabel string, now time.Time) *types.Player {
	center := m.opts.Grid.Center()
	return &types.Player{
		ID:          connID,
		Name:        name,
		Role:        roles.Normalize(roleLabel),
		Position:    types.Position{X: center.X, Y: center.Y},
		Direction:   "down",
		Stats:       types.InitialStats(),
		ConnectedAt: now,
	}
}

// freeCodeLocked draws 6-character codes until one is unused. m.mu is held.
func (m *Manager) freeCodeLocked() string {
	for {
		u := uuid.New()
		var b strings.Builder
		for i := 0; i < 6; i++ {
			b.WriteByte(codeAlphabet[int(u[i])%len(codeAlphabet)])
		}
		code := b.String()
		if s, ok := m.sessions[code]; !ok || s.closed.Load() {
			return code
		}
	}
}
