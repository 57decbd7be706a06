package events

import (
	"maps"
	"slices"
	"time"

	"habitat/pkg/types"
)

// Incident types.
const (
	OxygenLeak        = "oxygen_leak"
	PowerOutage       = "power_outage"
	MeteorShower      = "meteor_shower"
	FoodContamination = "food_contamination"
	SolarFlare        = "solar_flare"
	EquipmentFailure  = "equipment_failure"
	CommunicationLoss = "communication_loss"
	CrewConflict      = "crew_conflict"
)

// Per-check odds deliberately do not sum to 1; the remainder is "no incident".
var defaultCatalog = []types.EventConfig{
	{
		Type:                 OxygenLeak,
		Name:                 "Oxygen leak",
		Probability:          0.15,
		Duration:             60 * time.Second,
		AffectedAreas:        []types.AreaType{types.AreaAirlock, types.AreaMaintenance, types.AreaSleep},
		Effects:              map[string]float64{types.StatOxygen: -10, types.StatHealth: -2},
		RequiresPlayerAction: true,
	},
	{
		Type:                 PowerOutage,
		Name:                 "Power outage",
		Probability:          0.12,
		Duration:             90 * time.Second,
		AffectedAreas:        []types.AreaType{types.AreaEnergy, types.AreaControl},
		Effects:              map[string]float64{types.StatEnergy: -8, types.StatSanity: -3},
		RequiresPlayerAction: true,
	},
	{
		Type:                 MeteorShower,
		Name:                 "Meteor shower",
		Probability:          0.08,
		Duration:             45 * time.Second,
		AffectedAreas:        []types.AreaType{types.AreaDock, types.AreaAirlock, types.AreaGreenhouse},
		Effects:              map[string]float64{types.StatHealth: -10, types.StatSanity: -5},
		RequiresPlayerAction: true,
	},
	{
		Type:          FoodContamination,
		Name:          "Food contamination",
		Probability:   0.10,
		Duration:      120 * time.Second,
		AffectedAreas: []types.AreaType{types.AreaKitchen, types.AreaStorage, types.AreaGreenhouse},
		Effects:       map[string]float64{types.StatHunger: -15, types.StatHealth: -5},
	},
	{
		// Shorter than the effect tick: it usually resolves without applying anything.
		Type:        SolarFlare,
		Name:        "Solar flare",
		Probability: 0.07,
		Duration:    30 * time.Second,
		Effects:     map[string]float64{types.StatHealth: -5, types.StatEnergy: -5},
	},
	{
		Type:                 EquipmentFailure,
		Name:                 "Equipment failure",
		Probability:          0.12,
		Duration:             80 * time.Second,
		AffectedAreas:        []types.AreaType{types.AreaMaintenance, types.AreaLaboratory, types.AreaControl, types.AreaEnergy},
		Effects:              map[string]float64{types.StatEnergy: -5, types.StatFatigue: 10},
		RequiresPlayerAction: true,
	},
	{
		Type:          CommunicationLoss,
		Name:          "Communication loss",
		Probability:   0.10,
		Duration:      60 * time.Second,
		AffectedAreas: []types.AreaType{types.AreaControl, types.AreaDock},
		Effects:       map[string]float64{types.StatSanity: -8},
	},
	{
		Type:                 CrewConflict,
		Name:                 "Crew conflict",
		Probability:          0.08,
		Duration:             100 * time.Second,
		AffectedAreas:        []types.AreaType{types.AreaRecreation, types.AreaKitchen, types.AreaSleep},
		Effects:              map[string]float64{types.StatSanity: -10, types.StatFatigue: 5},
		RequiresPlayerAction: true,
	},
}

// DefaultCatalog returns a copy of the built-in incident catalog.
func DefaultCatalog() []types.EventConfig {
	out := make([]types.EventConfig, len(defaultCatalog))
	for i, c := range defaultCatalog {
		out[i] = cloneConfig(c)
	}
	return out
}

// PickWeighted walks the catalog accumulating probabilities and returns the
// first type whose running total reaches r, or "" when r lands past the end.
// Entries with no probability are never picked.
func PickWeighted(catalog []types.EventConfig, r float64) string {
	cumulative := 0.0
	for _, c := range catalog {
		if c.Probability <= 0 {
			continue
		}
		cumulative += c.Probability
		if cumulative >= r {
			return c.Type
		}
	}
	return ""
}

func cloneConfig(c types.EventConfig) types.EventConfig {
	c.AffectedAreas = slices.Clone(c.AffectedAreas)
	c.Effects = maps.Clone(c.Effects)
	return c
}
