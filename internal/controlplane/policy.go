package controlplane

import (
	"sort"
	"strings"
)

// FallbackReason names why the checkset fell back to the global doctor
// command instead of a concatenation of per-component commands.
type FallbackReason string

const (
	ReasonMissingCommandMapping FallbackReason = "missing_command_mapping"
	ReasonSurfaceChange         FallbackReason = "surface_change"
	ReasonTooManyComponents     FallbackReason = "too_many_components"
)

// PolicyDecision is the computed checkset/doctor selection for one batch
// (spec §4.C7 "Checkset / Doctor selection").
type PolicyDecision struct {
	RequiredComponents []string       `json:"required_components"`
	Command            string         `json:"command"`
	IsFallback         bool           `json:"is_fallback"`
	FallbackReason     FallbackReason `json:"fallback_reason,omitempty"`
	Rationale          []string       `json:"rationale"`
}

// DecidePolicy computes the PolicyDecision for a blast radius, given the
// model (for per-component commands), the global doctor fallback command,
// maxComponentsForScoped, and which surface categories matched.
func DecidePolicy(m *Model, br BlastRadius, globalDoctorCmd string, maxComponentsForScoped int, surfaceMatches map[string][]string) PolicyDecision {
	surfaceChanged := HasSurfaceChange(surfaceMatches)

	required := append([]string{}, br.TouchedComponents...)
	if surfaceChanged {
		required = append(required, br.ImpactedComponents...)
	}
	required = sortedUniqueStrings(required)

	var rationale []string
	for category := range surfaceMatches {
		rationale = append(rationale, "surface_change:"+category)
	}
	sort.Strings(rationale)

	if len(required) > maxComponentsForScoped {
		rationale = append(rationale, string(ReasonTooManyComponents))
		return PolicyDecision{RequiredComponents: required, Command: globalDoctorCmd, IsFallback: true, FallbackReason: ReasonTooManyComponents, Rationale: rationale}
	}

	var commands []string
	for _, id := range required {
		c := m.componentByID(id)
		if c == nil || c.DoctorCommand == "" {
			rationale = append(rationale, string(ReasonMissingCommandMapping))
			return PolicyDecision{RequiredComponents: required, Command: globalDoctorCmd, IsFallback: true, FallbackReason: ReasonMissingCommandMapping, Rationale: rationale}
		}
		commands = append(commands, c.DoctorCommand)
	}

	if surfaceChanged {
		// Surface changes still get the scoped command set when every
		// required component resolved a command; the rationale already
		// records which categories drove the wider required set above.
	}

	return PolicyDecision{
		RequiredComponents: required,
		Command:            strings.Join(commands, " && "),
		IsFallback:         false,
		Rationale:          rationale,
	}
}
