// Package compliance detects out-of-scope changes against a task's declared
// manifest locks/files and computes automatic rescope (spec §4.C9).
package compliance

import (
	"sort"

	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/task"
)

// Reason names why a changed file violates the manifest (spec §3 PolicyDecision-
// adjacent "violation carries reasons").
type Reason string

const (
	ReasonNotLockedForWrite Reason = "resource_not_locked_for_write"
	ReasonUnmapped          Reason = "resource_unmapped"
	ReasonFileNotDeclared   Reason = "file_not_declared_for_write"
)

// Violation records one changed file that falls outside the manifest's
// declared scope.
type Violation struct {
	File     string   `json:"file"`
	Resource string   `json:"resource,omitempty"`
	Reasons  []Reason `json:"reasons"`
}

// Resolver maps a changed file to the logical resource(s) it belongs to
// (spec §4.C9 step 2 "compute {resources} via ownership"). Production
// wiring uses PatternResolver, built from the project config's resources
// patterns; tests substitute a fake.
type Resolver interface {
	ResourceFor(file string) (resource string, ok bool)
}

// DetectViolations computes the manifest-compliance violations for a task's
// changed files (spec §4.C9 steps 1-2).
func DetectViolations(m *task.Manifest, changedFiles []string, resolver Resolver) []Violation {
	declaredWrites := toSet(m.Files.Writes)
	lockWrites := toSet(m.Locks.Writes)

	var violations []Violation
	for _, f := range changedFiles {
		var reasons []Reason
		var resource string

		if !declaredWrites[f] {
			reasons = append(reasons, ReasonFileNotDeclared)
		}

		res, ok := resolver.ResourceFor(f)
		if !ok {
			reasons = append(reasons, ReasonUnmapped)
		} else {
			resource = res
			if !lockWrites[res] {
				reasons = append(reasons, ReasonNotLockedForWrite)
			}
		}

		if len(reasons) > 0 {
			violations = append(violations, Violation{File: f, Resource: resource, Reasons: reasons})
		}
	}
	return violations
}

// Outcome is what the engine does with a set of detected violations, given
// the configured enforcement mode (spec §4.C9 step 3).
type Outcome struct {
	Violations  []Violation
	Gate        bool // true iff the task must move to needs_rescope
	RescopedMft *task.Manifest
	RescopeFail bool // true iff rescope was attempted and failed (resource_unmapped present)
}

// Evaluate maps a set of violations to an Outcome under mode (spec §4.C9
// step 3): off records and never gates; warn records and continues; block
// attempts automatic rescope, failing (-> needs_human_review) if any
// violation is resource_unmapped.
func Evaluate(mode config.ManifestEnforcement, m *task.Manifest, violations []Violation) Outcome {
	if len(violations) == 0 {
		return Outcome{}
	}
	switch mode {
	case config.EnforcementOff, config.EnforcementWarn:
		return Outcome{Violations: violations}
	case config.EnforcementBlock:
		return evaluateBlock(m, violations)
	default:
		return Outcome{Violations: violations}
	}
}

// evaluateBlock implements the automatic-rescope path of spec §4.C9 step 3:
// expand locks.writes/files.writes to cover every offending resource/path,
// unless any violation is resource_unmapped (rescope cannot proceed without
// a known resource to add to the manifest).
func evaluateBlock(m *task.Manifest, violations []Violation) Outcome {
	for _, v := range violations {
		for _, r := range v.Reasons {
			if r == ReasonUnmapped {
				return Outcome{Violations: violations, Gate: true, RescopeFail: true}
			}
		}
	}

	rescoped := *m
	writeResources := append([]string{}, m.Locks.Writes...)
	writeFiles := append([]string{}, m.Files.Writes...)
	for _, v := range violations {
		if v.Resource != "" {
			writeResources = append(writeResources, v.Resource)
		}
		writeFiles = append(writeFiles, v.File)
	}
	rescoped.Locks = task.LockSet{Reads: m.Locks.Reads, Writes: writeResources}.Normalize()
	rescoped.Files = task.FileSet{Reads: m.Files.Reads, Writes: sortedUnique(writeFiles)}

	return Outcome{Violations: violations, Gate: true, RescopedMft: &rescoped}
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}

func sortedUnique(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
