package types

import (
	"encoding/json"
	"time"
)

// Inbound message types sent by clients.
const (
	MessageTypeCreateSession   = "create_session"
	MessageTypeJoinSession     = "join_session"
	MessageTypeLeaveSession    = "leave_session"
	MessageTypePlaceArea       = "place_area"
	MessageTypeUpdateArea      = "update_area"
	MessageTypeRemoveArea      = "remove_area"
	MessageTypeUndo            = "undo"
	MessageTypeRedo            = "redo"
	MessageTypePlayerMove      = "player_move"
	MessageTypeChat            = "chat_message"
	MessageTypeSetRole         = "set_role"
	MessageTypeStartMission    = "start_mission"
	MessageTypeSimulationStart = "simulation:start"
	MessageTypeSimulationStop  = "simulation:stop"
	MessageTypeMissionActivate = "mission:activate"
	MessageTypeMissionJoin     = "mission:join"
	MessageTypeAreaClick       = "area:click"
	MessageTypeEventResolve    = "event:resolve"
	MessageTypeEventForce      = "event:force"
)

// Outbound message types emitted by the server.
const (
	EventSessionCreated    = "session_created"
	EventSessionJoined     = "session_joined"
	EventJoinError         = "join_error"
	EventPlayerJoined      = "player_joined"
	EventPlayerLeft        = "player_left"
	EventHostChanged       = "host_changed"
	EventSessionState      = "session_state"
	EventAreaPlaced        = "area_placed"
	EventAreaUpdated       = "area_updated"
	EventAreaRemoved       = "area_removed"
	EventPlaceError        = "place_error"
	EventChat              = "chat_message"
	EventSimulationStarted = "simulation:started"
	EventSimulationStopped = "simulation:stopped"
	EventMissionsAssigned  = "missions:assigned"
	EventMissionActivated  = "mission:activated"
	EventMissionProgress   = "mission:progress"
	EventMissionCompleted  = "mission:completed"
	EventIncidentTriggered = "event:triggered"
	EventIncidentResolved  = "event:resolved"
	EventError             = "error"
)

// Message is an inbound client command. Payload is decoded by the router
// once the type is known.
type Message struct {
	ID        string          `json:"id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Type      string          `json:"type"`
	FromConn  string          `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Outbound is the envelope for every server-to-client frame.
type Outbound struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOutbound stamps an outbound frame.
func NewOutbound(eventType string, payload any, now time.Time) *Outbound {
	return &Outbound{Type: eventType, Payload: payload, Timestamp: now}
}

// ErrorPayload is the body of join_error, place_error and error frames.
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	For     string `json:"for,omitempty"`
}

// Inbound payloads.

type JoinRequest struct {
	SessionID  string `json:"sessionId"`
	PlayerName string `json:"playerName"`
	Role       string `json:"role,omitempty"`
}

type AreaSpec struct {
	Type AreaType `json:"type"`
	X    int      `json:"x"`
	Y    int      `json:"y"`
	W    int      `json:"w"`
	H    int      `json:"h"`
}

type AreaUpdate struct {
	AreaID int  `json:"areaId"`
	X      *int `json:"x,omitempty"`
	Y      *int `json:"y,omitempty"`
	Rotate bool `json:"rotate,omitempty"`
}

type AreaRef struct {
	AreaID int `json:"areaId"`
}

type MoveRequest struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

type SimulationRequest struct {
	Roles []string   `json:"roles,omitempty"`
	Areas []AreaType `json:"areas,omitempty"`
}

type MissionRequest struct {
	MissionID string `json:"missionId"`
	PlayerID  string `json:"playerId,omitempty"`
}

type AreaClickRequest struct {
	AreaType AreaType `json:"areaType"`
}

type EventRequest struct {
	EventID   string `json:"eventId,omitempty"`
	EventType string `json:"eventType,omitempty"`
}
