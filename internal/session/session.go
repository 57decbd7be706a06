package session

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"habitat/internal/board"
	"habitat/pkg/types"
)

// Session is the authoritative state of one habitat. All fields are guarded
// by the session mutex; reach them through Manager.Update or Manager.View.
type Session struct {
	mu     sync.Mutex
	closed atomic.Bool

	ID        string
	RunID     string
	HostID    string
	CreatedAt time.Time

	Players   map[string]*types.Player
	joinOrder []string

	Areas      map[int]*types.Area
	Board      *board.Board
	nextAreaID int

	Chat    []types.ChatMessage
	chatCap int

	MissionStarted    bool
	SimulationRunning bool

	Events   EventState
	Missions MissionState
}

// EventState is the incident bookkeeping of a session.
type EventState struct {
	Active        map[string]*types.ActiveEvent
	ActiveOrder   []string
	History       []*types.ActiveEvent
	LastTriggered time.Time
}

// MissionState is the mission bookkeeping of a session.
type MissionState struct {
	Assigned     bool
	ByID         map[string]*types.ActiveMission
	Order        []string
	NextAssignee int
}

func newSession(id, runID string, now time.Time, w, h, chatCap int) *Session {
	return &Session{
		ID:         id,
		RunID:      runID,
		CreatedAt:  now,
		Players:    make(map[string]*types.Player),
		Areas:      make(map[int]*types.Area),
		Board:      board.New(w, h),
		nextAreaID: 1,
		chatCap:    chatCap,
		Events:     EventState{Active: make(map[string]*types.ActiveEvent)},
		Missions:   MissionState{ByID: make(map[string]*types.ActiveMission)},
	}
}

// IsHost reports whether connID currently holds host authority.
func (s *Session) IsHost(connID string) bool {
	return connID != "" && s.HostID == connID
}

// PlayerIDs returns player ids in join order.
func (s *Session) PlayerIDs() []string {
	return slices.Clone(s.joinOrder)
}

// OrderedPlayers returns players in join order.
func (s *Session) OrderedPlayers() []*types.Player {
	out := make([]*types.Player, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		if p, ok := s.Players[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Roles returns the non-empty roles of the crew in join order.
func (s *Session) Roles() []types.Role {
	var out []types.Role
	for _, p := range s.OrderedPlayers() {
		if p.Role != types.RoleNone {
			out = append(out, p.Role)
		}
	}
	return out
}

// AreaTypes returns the distinct placed area types ordered by area id.
func (s *Session) AreaTypes() []types.AreaType {
	seen := make(map[types.AreaType]bool)
	var out []types.AreaType
	for _, a := range s.orderedAreas() {
		if !seen[a.Type] {
			seen[a.Type] = true
			out = append(out, a.Type)
		}
	}
	return out
}

// ApplyEffects adds effects to a player's stats. Absent players are ignored.
func (s *Session) ApplyEffects(playerID string, effects map[string]float64) bool {
	p, ok := s.Players[playerID]
	if !ok {
		return false
	}
	p.Stats = p.Stats.Apply(effects)
	return true
}

// ApplyEffectsAll adds effects to every player.
func (s *Session) ApplyEffectsAll(effects map[string]float64) {
	for _, p := range s.Players {
		p.Stats = p.Stats.Apply(effects)
	}
}

// InsertArea allocates an id for a, stores it and paints the board. The
// caller has validated the footprint.
func (s *Session) InsertArea(a types.Area) *types.Area {
	if a.ID == 0 {
		a.ID = s.nextAreaID
	}
	if a.ID >= s.nextAreaID {
		s.nextAreaID = a.ID + 1
	}
	stored := a
	s.Areas[a.ID] = &stored
	s.Board.Paint(a.ID, a.X, a.Y, a.W, a.H)
	return &stored
}

// DeleteArea clears an area's footprint and forgets it.
func (s *Session) DeleteArea(id int) (types.Area, bool) {
	a, ok := s.Areas[id]
	if !ok {
		return types.Area{}, false
	}
	s.Board.Clear(a.ID, a.X, a.Y, a.W, a.H)
	delete(s.Areas, id)
	return *a, true
}

// ReplaceArea moves an area to a new footprint. The caller has validated it
// with the area's own id ignored.
func (s *Session) ReplaceArea(next types.Area) {
	if cur, ok := s.Areas[next.ID]; ok {
		s.Board.Clear(cur.ID, cur.X, cur.Y, cur.W, cur.H)
	}
	stored := next
	s.Areas[next.ID] = &stored
	s.Board.Paint(next.ID, next.X, next.Y, next.W, next.H)
}

// ActiveEventCount returns the number of unresolved incidents.
func (s *Session) ActiveEventCount() int {
	return len(s.Events.Active)
}

// OrderedMissions returns missions in assignment order.
func (s *Session) OrderedMissions() []*types.ActiveMission {
	out := make([]*types.ActiveMission, 0, len(s.Missions.Order))
	for _, id := range s.Missions.Order {
		if m, ok := s.Missions.ByID[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// State builds an immutable copy of the session.
func (s *Session) State() types.SessionState {
	st := types.SessionState{
		SessionID:         s.ID,
		HostID:            s.HostID,
		Players:           make([]types.Player, 0, len(s.Players)),
		Areas:             make([]types.Area, 0, len(s.Areas)),
		Board:             s.Board.Rows(),
		MissionStarted:    s.MissionStarted,
		SimulationRunning: s.SimulationRunning,
		ActiveEvents:      make([]types.ActiveEvent, 0, len(s.Events.Active)),
		Missions:          make([]types.ActiveMission, 0, len(s.Missions.Order)),
		CreatedAt:         s.CreatedAt,
	}
	for _, p := range s.OrderedPlayers() {
		st.Players = append(st.Players, *p)
	}
	for _, a := range s.orderedAreas() {
		st.Areas = append(st.Areas, *a)
	}
	for _, id := range s.Events.ActiveOrder {
		if ev, ok := s.Events.Active[id]; ok {
			st.ActiveEvents = append(st.ActiveEvents, CopyEvent(ev))
		}
	}
	for _, m := range s.OrderedMissions() {
		st.Missions = append(st.Missions, CopyMission(m))
	}
	return st
}

// CopyEvent returns a value copy safe to hand outside the session lock.
func CopyEvent(ev *types.ActiveEvent) types.ActiveEvent {
	cp := *ev
	if ev.AffectedArea != nil {
		area := *ev.AffectedArea
		cp.AffectedArea = &area
	}
	return cp
}

// CopyMission returns a value copy safe to hand outside the session lock.
func CopyMission(m *types.ActiveMission) types.ActiveMission {
	cp := *m
	cp.PlayersInvolved = slices.Clone(m.PlayersInvolved)
	if m.StartTime != nil {
		t := *m.StartTime
		cp.StartTime = &t
	}
	if m.EndTime != nil {
		t := *m.EndTime
		cp.EndTime = &t
	}
	return cp
}

func (s *Session) orderedAreas() []*types.Area {
	ids := make([]int, 0, len(s.Areas))
	for id := range s.Areas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*types.Area, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Areas[id])
	}
	return out
}

func (s *Session) addPlayer(p *types.Player) {
	s.Players[p.ID] = p
	s.joinOrder = append(s.joinOrder, p.ID)
}

func (s *Session) removePlayer(id string) (*types.Player, bool) {
	p, ok := s.Players[id]
	if !ok {
		return nil, false
	}
	delete(s.Players, id)
	s.joinOrder = slices.DeleteFunc(s.joinOrder, func(other string) bool { return other == id })
	return p, true
}

func (s *Session) nameTaken(name string) bool {
	for _, p := range s.Players {
		if p.Name == name {
			return true
		}
	}
	return false
}

// promoteHost hands authority to the earliest-joined remaining player.
func (s *Session) promoteHost() string {
	s.HostID = ""
	for _, p := range s.OrderedPlayers() {
		if s.HostID == "" {
			s.HostID = p.ID
			p.IsHost = true
			continue
		}
		p.IsHost = false
	}
	return s.HostID
}

func (s *Session) appendChat(msg types.ChatMessage) {
	s.Chat = append(s.Chat, msg)
	if over := len(s.Chat) - s.chatCap; s.chatCap > 0 && over > 0 {
		s.Chat = slices.Clone(s.Chat[over:])
	}
}
