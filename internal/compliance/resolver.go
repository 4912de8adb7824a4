package compliance

import "github.com/bmatcuk/doublestar/v4"

// PatternResolver maps a changed file to the first resource whose glob
// patterns match it (spec §4.C9 step 2, DESIGN.md "doublestar for
// resource-path matching"). Resources are named logical locks (spec §3
// LockSet), distinct from the control plane's component ownership roots,
// since a project may lock at a finer grain than its component boundaries.
type PatternResolver struct {
	// Patterns maps a resource name to the doublestar glob patterns that
	// belong to it, e.g. {"db": {"migrations/**", "internal/db/**"}}.
	Patterns map[string][]string
	// Order fixes the resource lookup order so overlapping patterns resolve
	// deterministically; resources absent from Order are never matched.
	Order []string
}

// ResourceFor implements Resolver.
func (r PatternResolver) ResourceFor(file string) (string, bool) {
	for _, resource := range r.Order {
		for _, pattern := range r.Patterns[resource] {
			if ok, _ := doublestar.Match(pattern, file); ok {
				return resource, true
			}
		}
	}
	return "", false
}
