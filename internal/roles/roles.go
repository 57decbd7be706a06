// Package roles maps localized crew role labels onto the role enum.
package roles

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"habitat/pkg/types"
)

var labels = map[string]types.Role{
	"engineer":     types.RoleEngineer,
	"engenheiro":   types.RoleEngineer,
	"engenheira":   types.RoleEngineer,
	"ingenieur":    types.RoleEngineer,
	"ingeniero":    types.RoleEngineer,
	"ingeniera":    types.RoleEngineer,
	"technician":   types.RoleTechnician,
	"tecnico":      types.RoleTechnician,
	"tecnica":      types.RoleTechnician,
	"technicien":   types.RoleTechnician,
	"technicienne": types.RoleTechnician,
	"mechanic":     types.RoleTechnician,
	"biologist":    types.RoleBiologist,
	"biologo":      types.RoleBiologist,
	"biologa":      types.RoleBiologist,
	"biologiste":   types.RoleBiologist,
	"botanist":     types.RoleBiologist,
	"medic":        types.RoleMedic,
	"doctor":       types.RoleMedic,
	"medico":       types.RoleMedic,
	"medica":       types.RoleMedic,
	"medecin":      types.RoleMedic,
	"scientist":    types.RoleScientist,
	"cientista":    types.RoleScientist,
	"cientifico":   types.RoleScientist,
	"cientifica":   types.RoleScientist,
	"scientifique": types.RoleScientist,
	"researcher":   types.RoleScientist,
}

// Normalize folds case and strips accents before looking the label up.
// Unrecognized labels yield RoleNone.
func Normalize(label string) types.Role {
	key := strings.TrimSpace(label)
	if key == "" {
		return types.RoleNone
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, key)
	if err != nil {
		stripped = key
	}
	return labels[cases.Fold().String(stripped)]
}

// NormalizeAll maps every label, dropping unknown ones and duplicates while
// keeping first-seen order.
func NormalizeAll(in []string) []types.Role {
	seen := make(map[types.Role]bool, len(in))
	out := make([]types.Role, 0, len(in))
	for _, l := range in {
		r := Normalize(l)
		if r == types.RoleNone || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
