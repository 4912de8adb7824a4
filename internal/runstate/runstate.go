// Package runstate owns the RunState/TaskState entities (spec §3) and their
// durable, single-writer JSON persistence (spec §4.C1).
package runstate

import (
	"time"

	"github.com/mycelium-run/mycelium/internal/task"
)

// Status is the overall status of a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// RunState is the durable, per-run record persisted as one JSON file (spec §3).
type RunState struct {
	RunID            string                 `json:"run_id"`
	Project          string                 `json:"project"`
	RepoPath         string                 `json:"repo_path"`
	MainBranch       string                 `json:"main_branch"`
	BaseSha          string                 `json:"base_sha"`
	Status           Status                 `json:"status"`
	Tasks            map[string]*task.State `json:"tasks"`
	Batches          []*task.Batch          `json:"batches"`
	TokensUsed       int                    `json:"tokens_used"`
	EstimatedCostUSD float64                `json:"estimated_cost"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// New creates a pending RunState for a fresh run.
func New(runID, project, repoPath, mainBranch, baseSha string, manifests []*task.Manifest) *RunState {
	tasks := make(map[string]*task.State, len(manifests))
	for _, m := range manifests {
		tasks[m.ID] = task.NewState(m)
	}
	return &RunState{
		RunID:      runID,
		Project:    project,
		RepoPath:   repoPath,
		MainBranch: mainBranch,
		BaseSha:    baseSha,
		Status:     StatusPending,
		Tasks:      tasks,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Touch bumps UpdatedAt; every mutation to a RunState must call this before
// it is persisted (spec §3 "updated_at is bumped on every mutation").
func (r *RunState) Touch(now time.Time) { r.UpdatedAt = now }

// CompletedTaskIDs returns the ids of every task in StatusComplete.
func (r *RunState) CompletedTaskIDs() map[string]bool {
	out := make(map[string]bool, len(r.Tasks))
	for id, t := range r.Tasks {
		if t.Status == task.StatusComplete {
			out[id] = true
		}
	}
	return out
}

// AllTerminal reports whether every task has reached a terminal status
// (spec §4.C10 step 7 "all tasks terminal").
func (r *RunState) AllTerminal() bool {
	for _, t := range r.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// StaleRunning returns tasks currently StatusRunning whose LastHeartbeat is
// older than threshold, as of now (spec §4.C10 "no heartbeat for >15 min ->
// reset to pending").
func (r *RunState) StaleRunning(now time.Time, threshold time.Duration) []*task.State {
	var out []*task.State
	for _, t := range r.Tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		if t.LastHeartbeat.IsZero() || now.Sub(t.LastHeartbeat) > threshold {
			out = append(out, t)
		}
	}
	return out
}
