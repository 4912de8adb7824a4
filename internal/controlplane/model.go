// Package controlplane implements the policy core (spec §4.C7): a
// commit-keyed model cache, dependency graph, blast-radius closure, surface
// detection, and checkset/doctor selection.
package controlplane

// Confidence grades a dependency edge or a blast-radius conclusion.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Component is one unit of ownership in the dependency graph.
type Component struct {
	ID             string   `json:"id"`
	OwnershipRoots []string `json:"ownership_roots"` // longest-match path prefixes this component owns
	DoctorCommand  string   `json:"doctor_command,omitempty"`
}

// Edge is one dependency relationship between two components.
type Edge struct {
	From       string     `json:"from_component"`
	To         string     `json:"to_component"`
	Kind       string     `json:"kind"`
	Confidence Confidence `json:"confidence"`
}

// SurfaceCategory names one of the four well-known surface-change pattern
// groups (spec glossary: contract, schema, config, public-api style splits;
// exact category set is project-defined here via Patterns).
type SurfaceCategory struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"` // doublestar glob patterns
}

// Symbol is one entry of a cached per-file symbol table (spec §3
// ControlPlaneModel.symbols, §4.C7 "serve find/def/refs").
type Symbol struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"` // func|type|const|var|method
	File      string   `json:"file"`
	Line      int      `json:"line"`
	Component string   `json:"component,omitempty"`
	RefFiles  []string `json:"ref_files,omitempty"` // files with a reference to this symbol
}

// Model is the built, cacheable artifact for one commit sha.
type Model struct {
	Sha        string            `json:"sha"`
	Components []Component       `json:"components"`
	Edges      []Edge            `json:"edges"`
	Surfaces   []SurfaceCategory `json:"surfaces"`
	Symbols    []Symbol          `json:"symbols,omitempty"`
	ModelHash  string            `json:"model_hash"`
}

// Metadata is written alongside the model for compatibility checks on reuse.
type Metadata struct {
	Sha          string `json:"sha"`
	BuiltAt      string `json:"built_at"`
	ExtractorVer string `json:"extractor_version"`
}

func (m *Model) componentByID(id string) *Component {
	for i := range m.Components {
		if m.Components[i].ID == id {
			return &m.Components[i]
		}
	}
	return nil
}

// DedupeEdges removes duplicate (from,to,kind) edges, keeping the
// highest-confidence instance of each (spec §4.C7 "deduped by
// (from,to,kind)").
func DedupeEdges(edges []Edge) []Edge {
	rank := map[Confidence]int{ConfidenceHigh: 2, ConfidenceMedium: 1, ConfidenceLow: 0}
	best := make(map[[3]string]Edge)
	var order [][3]string
	for _, e := range edges {
		key := [3]string{e.From, e.To, e.Kind}
		cur, ok := best[key]
		if !ok {
			best[key] = e
			order = append(order, key)
			continue
		}
		if rank[e.Confidence] > rank[cur.Confidence] {
			best[key] = e
		}
	}
	out := make([]Edge, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}
