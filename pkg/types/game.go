package types

import "time"

// AreaType names a habitat module a host can place on the grid.
type AreaType string

const (
	AreaKitchen     AreaType = "kitchen"
	AreaSleep       AreaType = "sleep"
	AreaRecreation  AreaType = "recreation"
	AreaMaintenance AreaType = "maintenance"
	AreaEnergy      AreaType = "energy"
	AreaControl     AreaType = "control"
	AreaStorage     AreaType = "storage"
	AreaDock        AreaType = "dock"
	AreaMedical     AreaType = "medical"
	AreaLaboratory  AreaType = "laboratory"
	AreaGreenhouse  AreaType = "greenhouse"
	AreaHygiene     AreaType = "hygiene"
	AreaAirlock     AreaType = "airlock"
)

// AreaTypes lists every known area type in catalog order.
var AreaTypes = []AreaType{
	AreaKitchen, AreaSleep, AreaRecreation, AreaMaintenance, AreaEnergy,
	AreaControl, AreaStorage, AreaDock, AreaMedical, AreaLaboratory,
	AreaGreenhouse, AreaHygiene, AreaAirlock,
}

// Valid reports whether t is a known area type.
func (t AreaType) Valid() bool {
	for _, known := range AreaTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Role is a crew specialization. The zero value means no role.
type Role string

const (
	RoleNone       Role = ""
	RoleEngineer   Role = "engineer"
	RoleTechnician Role = "technician"
	RoleBiologist  Role = "biologist"
	RoleMedic      Role = "medic"
	RoleScientist  Role = "scientist"
)

// Stat keys accepted in effect maps.
const (
	StatHealth  = "health"
	StatOxygen  = "oxygen"
	StatHunger  = "hunger"
	StatEnergy  = "energy"
	StatSanity  = "sanity"
	StatFatigue = "fatigue"
)

const (
	StatMin = 0.0
	StatMax = 100.0
)

// Stats are a player's vitals, each kept within [StatMin, StatMax].
type Stats struct {
	Health  float64 `json:"health"`
	Oxygen  float64 `json:"oxygen"`
	Hunger  float64 `json:"hunger"`
	Energy  float64 `json:"energy"`
	Sanity  float64 `json:"sanity"`
	Fatigue float64 `json:"fatigue"`
}

// InitialStats returns the vitals every player joins with.
func InitialStats() Stats {
	return Stats{Health: 100, Oxygen: 100, Hunger: 100, Energy: 100, Sanity: 100, Fatigue: 0}
}

// Apply adds each known delta and clamps the result. Unknown keys are ignored.
func (s Stats) Apply(effects map[string]float64) Stats {
	for key, delta := range effects {
		switch key {
		case StatHealth:
			s.Health = clampStat(s.Health + delta)
		case StatOxygen:
			s.Oxygen = clampStat(s.Oxygen + delta)
		case StatHunger:
			s.Hunger = clampStat(s.Hunger + delta)
		case StatEnergy:
			s.Energy = clampStat(s.Energy + delta)
		case StatSanity:
			s.Sanity = clampStat(s.Sanity + delta)
		case StatFatigue:
			s.Fatigue = clampStat(s.Fatigue + delta)
		}
	}
	return s
}

func clampStat(v float64) float64 {
	if v < StatMin {
		return StatMin
	}
	if v > StatMax {
		return StatMax
	}
	return v
}

// Position is a player location in world units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is one connected crew member. ID is the connection id.
type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        Role      `json:"role"`
	Position    Position  `json:"position"`
	Direction   string    `json:"direction"`
	Stats       Stats     `json:"stats"`
	IsHost      bool      `json:"isHost"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Area is a placed habitat module. Its footprint is the W×H tile rectangle at (X, Y).
type Area struct {
	ID       int      `json:"id"`
	Type     AreaType `json:"type"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
	W        int      `json:"w"`
	H        int      `json:"h"`
	Rotation int      `json:"rotation"`
}

// ChatMessage is one entry in a session's bounded chat history.
type ChatMessage struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionState is an immutable view of a session handed to clients and the API.
type SessionState struct {
	SessionID         string          `json:"sessionId"`
	HostID            string          `json:"hostId"`
	Players           []Player        `json:"players"`
	Areas             []Area          `json:"areas"`
	Board             [][]int         `json:"board"`
	MissionStarted    bool            `json:"missionStarted"`
	SimulationRunning bool            `json:"simulationRunning"`
	ActiveEvents      []ActiveEvent   `json:"activeEvents"`
	Missions          []ActiveMission `json:"missions"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// EventConfig describes one incident in the event catalog.
type EventConfig struct {
	Type                 string             `json:"type"`
	Name                 string             `json:"name"`
	Probability          float64            `json:"probability"`
	Duration             time.Duration      `json:"duration"`
	AffectedAreas        []AreaType         `json:"affectedAreas"`
	Effects              map[string]float64 `json:"effects"`
	RequiresPlayerAction bool               `json:"requiresPlayerAction"`
}

// ActiveEvent is a triggered incident instance.
type ActiveEvent struct {
	ID               string      `json:"id"`
	Type             string      `json:"type"`
	Config           EventConfig `json:"config"`
	StartTime        time.Time   `json:"startTime"`
	EndTime          time.Time   `json:"endTime"`
	Resolved         bool        `json:"resolved"`
	ResolvedManually bool        `json:"resolvedManually"`
	AffectedArea     *AreaType   `json:"affectedArea,omitempty"`
}

// MissionStatus is the lifecycle state of an assigned mission.
type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
)

// MissionConfig describes one mission in the mission catalog.
type MissionConfig struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Area          AreaType           `json:"area"`
	Duration      time.Duration      `json:"duration"`
	Effects       map[string]float64 `json:"effects"`
	RequiredRoles []Role             `json:"requiredRoles,omitempty"`
	MinPlayers    int                `json:"minPlayers"`
}

// ActiveMission is a mission assigned to a session.
type ActiveMission struct {
	ID              string        `json:"id"`
	MissionID       string        `json:"missionId"`
	Config          MissionConfig `json:"config"`
	Status          MissionStatus `json:"status"`
	Progress        float64       `json:"progress"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       *time.Time    `json:"startTime,omitempty"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	PlayersInvolved []string      `json:"playersInvolved"`
	AssignedTo      string        `json:"assignedTo,omitempty"`
}
