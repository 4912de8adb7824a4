package controlplane

import (
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DetectSurfaceChanges globs each changed file against every surface
// category's patterns, returning the matched files grouped by category name
// (spec §4.C7 "Surface detection").
func DetectSurfaceChanges(surfaces []SurfaceCategory, changedFiles []string) map[string][]string {
	out := make(map[string][]string)
	for _, surface := range surfaces {
		var matched []string
		for _, f := range changedFiles {
			if matchesAny(surface.Patterns, f) {
				matched = append(matched, f)
			}
		}
		if len(matched) > 0 {
			sort.Strings(matched)
			out[surface.Name] = matched
		}
	}
	return out
}

func matchesAny(patterns []string, file string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, file); ok {
			return true
		}
	}
	return false
}

// HasSurfaceChange reports whether any category matched.
func HasSurfaceChange(matches map[string][]string) bool {
	return len(matches) > 0
}
