package missions

import (
	"maps"
	"slices"
	"time"

	"habitat/pkg/types"
)

func mission(id, name, desc string, area types.AreaType, dur time.Duration, effects map[string]float64, roles ...types.Role) types.MissionConfig {
	return types.MissionConfig{
		ID:            id,
		Name:          name,
		Description:   desc,
		Area:          area,
		Duration:      dur,
		Effects:       effects,
		RequiredRoles: roles,
		MinPlayers:    1,
	}
}

// defaultCatalog is grouped by area in types.AreaTypes order.
var defaultCatalog = []types.MissionConfig{
	mission("cook_meal", "Cook a meal", "Prepare a hot meal for the crew.", types.AreaKitchen, 20*time.Second,
		map[string]float64{types.StatHunger: 25, types.StatSanity: 5}),
	mission("inventory_rations", "Ration inventory", "Count and log the remaining rations.", types.AreaKitchen, 30*time.Second,
		map[string]float64{types.StatFatigue: 5, types.StatSanity: 3}),

	mission("rest_cycle", "Rest cycle", "Complete a full sleep cycle.", types.AreaSleep, 45*time.Second,
		map[string]float64{types.StatEnergy: 30, types.StatFatigue: -30}),

	mission("team_game", "Team game night", "Play a game with the crew.", types.AreaRecreation, 30*time.Second,
		map[string]float64{types.StatSanity: 20, types.StatFatigue: -5}),
	mission("workout", "Workout", "Keep muscles from wasting in low gravity.", types.AreaRecreation, 25*time.Second,
		map[string]float64{types.StatHealth: 10, types.StatFatigue: 10, types.StatHunger: -5}),

	mission("repair_ducts", "Repair air ducts", "Seal the cracked ventilation ducts.", types.AreaMaintenance, 40*time.Second,
		map[string]float64{types.StatOxygen: 15, types.StatFatigue: 10}, types.RoleEngineer, types.RoleTechnician),
	mission("tool_check", "Tool check", "Inspect and sort the toolboxes.", types.AreaMaintenance, 20*time.Second,
		map[string]float64{types.StatSanity: 2, types.StatFatigue: 3}),

	mission("calibrate_panels", "Calibrate solar panels", "Realign the panels to the sun.", types.AreaEnergy, 35*time.Second,
		map[string]float64{types.StatEnergy: 15, types.StatFatigue: 8}, types.RoleEngineer),
	mission("battery_swap", "Battery swap", "Replace the degraded battery cells.", types.AreaEnergy, 30*time.Second,
		map[string]float64{types.StatEnergy: 10, types.StatFatigue: 5}, types.RoleTechnician),

	mission("system_diagnostics", "System diagnostics", "Run the full habitat diagnostics suite.", types.AreaControl, 30*time.Second,
		map[string]float64{types.StatSanity: 5, types.StatFatigue: 5}, types.RoleTechnician, types.RoleEngineer),
	mission("earth_report", "Report to Earth", "Send the daily status report.", types.AreaControl, 15*time.Second,
		map[string]float64{types.StatSanity: 10}),

	mission("organize_supplies", "Organize supplies", "Restack the supply crates.", types.AreaStorage, 25*time.Second,
		map[string]float64{types.StatFatigue: 8, types.StatSanity: 3}),

	mission("unload_cargo", "Unload cargo", "Move the resupply cargo inside.", types.AreaDock, 40*time.Second,
		map[string]float64{types.StatHunger: 10, types.StatFatigue: 15}),
	mission("dock_inspection", "Dock inspection", "Check the docking clamps for wear.", types.AreaDock, 25*time.Second,
		map[string]float64{types.StatSanity: 3, types.StatFatigue: 5}, types.RoleEngineer),

	mission("health_checkup", "Health checkup", "Examine the crew's vitals.", types.AreaMedical, 30*time.Second,
		map[string]float64{types.StatHealth: 20}, types.RoleMedic),
	mission("restock_medkits", "Restock medkits", "Refill every first-aid kit.", types.AreaMedical, 20*time.Second,
		map[string]float64{types.StatHealth: 5, types.StatFatigue: 3}),

	mission("soil_analysis", "Soil analysis", "Analyse regolith samples.", types.AreaLaboratory, 45*time.Second,
		map[string]float64{types.StatSanity: 8, types.StatFatigue: 10}, types.RoleScientist, types.RoleBiologist),
	mission("microscopy", "Microscopy session", "Catalogue microbial cultures.", types.AreaLaboratory, 35*time.Second,
		map[string]float64{types.StatSanity: 5, types.StatFatigue: 5}, types.RoleBiologist),

	mission("harvest_crops", "Harvest crops", "Harvest the ripe greenhouse crops.", types.AreaGreenhouse, 30*time.Second,
		map[string]float64{types.StatHunger: 20, types.StatOxygen: 5}),
	mission("tend_plants", "Tend plants", "Adjust nutrients and lighting.", types.AreaGreenhouse, 25*time.Second,
		map[string]float64{types.StatOxygen: 10, types.StatSanity: 5}, types.RoleBiologist),

	mission("clean_module", "Clean hygiene module", "Scrub and sanitise the module.", types.AreaHygiene, 20*time.Second,
		map[string]float64{types.StatHealth: 5, types.StatSanity: 5, types.StatFatigue: 5}),

	mission("eva_prep", "EVA preparation", "Check suits before a spacewalk.", types.AreaAirlock, 40*time.Second,
		map[string]float64{types.StatOxygen: -5, types.StatFatigue: 10}, types.RoleEngineer, types.RoleScientist),
	mission("seal_test", "Airlock seal test", "Pressure-test the airlock seals.", types.AreaAirlock, 25*time.Second,
		map[string]float64{types.StatOxygen: 5, types.StatSanity: 3}),
}

// DefaultCatalog returns a copy of the built-in mission catalog.
func DefaultCatalog() []types.MissionConfig {
	out := make([]types.MissionConfig, len(defaultCatalog))
	for i, c := range defaultCatalog {
		out[i] = cloneConfig(c)
	}
	return out
}

// ForArea returns the catalog missions for one area type, in catalog order.
func ForArea(catalog []types.MissionConfig, area types.AreaType) []types.MissionConfig {
	var out []types.MissionConfig
	for _, c := range catalog {
		if c.Area == area {
			out = append(out, c)
		}
	}
	return out
}

// BuildPool unions the missions of every distinct area type, dropping those
// whose required roles are all absent from the crew. Missions without a role
// requirement are always eligible.
func BuildPool(catalog []types.MissionConfig, areaTypes []types.AreaType, roles []types.Role) []types.MissionConfig {
	seen := make(map[types.AreaType]bool, len(areaTypes))
	var pool []types.MissionConfig
	for _, area := range areaTypes {
		if seen[area] {
			continue
		}
		seen[area] = true
		for _, c := range ForArea(catalog, area) {
			if len(c.RequiredRoles) == 0 || matchesRoles(c, roles) {
				pool = append(pool, c)
			}
		}
	}
	return pool
}

// matchesRoles reports whether the mission has a role requirement that one
// of roles satisfies.
func matchesRoles(c types.MissionConfig, roles []types.Role) bool {
	for _, r := range c.RequiredRoles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

func cloneConfig(c types.MissionConfig) types.MissionConfig {
	c.Effects = maps.Clone(c.Effects)
	c.RequiredRoles = slices.Clone(c.RequiredRoles)
	return c
}
