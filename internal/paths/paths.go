// Package paths resolves the on-disk layout for a mycelium installation.
//
// A PathsContext is built once (from MYCELIUM_HOME) and threaded explicitly
// to every component that needs a path — nothing in this package reads the
// environment after construction, and there is no process-wide singleton.
package paths

import (
	"os"
	"path/filepath"
	"strconv"
)

// EnvHome is the environment variable overriding the mycelium home directory.
const EnvHome = "MYCELIUM_HOME"

// defaultHomeSubdir is where mycelium stores its state when MYCELIUM_HOME is unset.
const defaultHomeSubdir = ".mycelium"

// PathsContext resolves every on-disk root named in spec §6.
type PathsContext struct {
	home string
}

// New builds a PathsContext. If home is empty, MYCELIUM_HOME is consulted;
// if that too is empty, "<repoPath>/.mycelium" is used.
func New(repoPath, home string) *PathsContext {
	if home == "" {
		home = os.Getenv(EnvHome)
	}
	if home == "" {
		home = filepath.Join(repoPath, defaultHomeSubdir)
	}
	return &PathsContext{home: home}
}

// Home returns the mycelium home root.
func (p *PathsContext) Home() string { return p.home }

// ProjectConfig returns the path to a project's config.yaml.
func (p *PathsContext) ProjectConfig(project string) string {
	return filepath.Join(p.home, "projects", project, "config.yaml")
}

// RunStateFile returns the path to a run's RunState JSON file.
func (p *PathsContext) RunStateFile(project, runID string) string {
	return filepath.Join(p.home, "state", project, runID+".json")
}

// RunStateLockFile returns the path to the advisory lock file guarding writes
// to RunStateFile. Kept as a sibling file so readers can always open the
// state file read-only without racing the writer's atomic rename.
func (p *PathsContext) RunStateLockFile(project, runID string) string {
	return filepath.Join(p.home, "state", project, runID+".json.lock")
}

// WorkspacesBase returns the base directory all task workspaces for a run live under.
func (p *PathsContext) WorkspacesBase(project, runID string) string {
	return filepath.Join(p.home, "workspaces", project, runID)
}

// RunWorkspacesRoot is an alias of WorkspacesBase kept for callers that want
// the "whole run" base directory name to read distinctly from a single task's.
func (p *PathsContext) RunWorkspacesRoot(project, runID string) string {
	return p.WorkspacesBase(project, runID)
}

// TaskWorkspace returns a single task's working-copy directory.
func (p *PathsContext) TaskWorkspace(project, runID, taskID string) string {
	return filepath.Join(p.WorkspacesBase(project, runID), taskID)
}

// LogsBase returns a run's logs directory.
func (p *PathsContext) LogsBase(project, runID string) string {
	return filepath.Join(p.home, "logs", project, runID)
}

// OrchestratorLog returns the path to the run's orchestrator.jsonl.
func (p *PathsContext) OrchestratorLog(project, runID string) string {
	return filepath.Join(p.LogsBase(project, runID), "orchestrator.jsonl")
}

// TaskLogsDir returns a task's log directory ("<id>-<slug>").
func (p *PathsContext) TaskLogsDir(project, runID, taskDirName string) string {
	return filepath.Join(p.LogsBase(project, runID), "tasks", taskDirName)
}

// TaskEventsLog returns the path to a task's events.jsonl.
func (p *PathsContext) TaskEventsLog(project, runID, taskDirName string) string {
	return filepath.Join(p.TaskLogsDir(project, runID, taskDirName), "events.jsonl")
}

// DoctorLog returns the path to a doctor run's captured log.
func (p *PathsContext) DoctorLog(project, runID, taskDirName string, attempt int) string {
	return filepath.Join(p.TaskLogsDir(project, runID, taskDirName), doctorLogName(attempt))
}

func doctorLogName(attempt int) string {
	return "doctor-" + strconv.Itoa(attempt) + ".log"
}

// ValidatorReport returns the path to a validator's normalized report.
func (p *PathsContext) ValidatorReport(project, runID, validator, taskDirName string, attempt int) string {
	return filepath.Join(p.LogsBase(project, runID), "validators", validator, taskDirName+"-"+strconv.Itoa(attempt)+".json")
}

// RunSummary returns the path to the per-run summary report.
func (p *PathsContext) RunSummary(project, runID string) string {
	return filepath.Join(p.LogsBase(project, runID), "summary.json")
}

// ControlPlaneModelDir returns a SHA-keyed control-plane model cache directory.
func (p *PathsContext) ControlPlaneModelDir(sha string) string {
	return filepath.Join(p.home, "control-plane", "models", sha)
}

// ControlPlaneModelFile returns the path to a cached model.json.
func (p *PathsContext) ControlPlaneModelFile(sha string) string {
	return filepath.Join(p.ControlPlaneModelDir(sha), "model.json")
}

// ControlPlaneMetadataFile returns the path to a cached model's metadata.json.
func (p *PathsContext) ControlPlaneMetadataFile(sha string) string {
	return filepath.Join(p.ControlPlaneModelDir(sha), "metadata.json")
}

// ControlPlaneLockFile returns the path to a model build's exclusive lock file.
func (p *PathsContext) ControlPlaneLockFile(sha string) string {
	return filepath.Join(p.ControlPlaneModelDir(sha), ".lock")
}

// EventsIndexFile returns the optional SQLite mirror index path for a run (SPEC_FULL §4.C12).
func (p *PathsContext) EventsIndexFile(project, runID string) string {
	return filepath.Join(p.home, "control-plane", "events", project, runID+".sqlite")
}

// Ledger returns the path to the project-wide ledger.json.
func (p *PathsContext) Ledger() string {
	return filepath.Join(p.home, "ledger.json")
}

// StopRequestFile returns the path to a run's stop-request sentinel. `mycelium
// stop` creates this file; the run engine's main loop polls for its existence
// once per batch and pauses the run when found (spec §4.C10 "operator stop").
func (p *PathsContext) StopRequestFile(project, runID string) string {
	return filepath.Join(p.home, "state", project, runID+".stop")
}

// IsWithin reports whether target is lexically contained within base, after
// cleaning both. Every delete-style operation must check this before acting
// (spec §8 invariant 8 — path containment).
func IsWithin(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if base == target {
		return true
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	if rel == ".." {
		return true
	}
	prefix := ".." + string(filepath.Separator)
	return len(rel) >= len(prefix) && rel[:len(prefix)] == prefix
}
