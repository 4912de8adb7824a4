package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mycelium-run/mycelium/internal/runstate"
	"github.com/mycelium-run/mycelium/internal/task"
)

// TaskSummary is one task's entry in the per-run summary report.
type TaskSummary struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	Attempts         int     `json:"attempts"`
	TokensUsed       int     `json:"tokens_used"`
	EstimatedCostUSD float64 `json:"estimated_cost"`
}

// RunSummary is the per-run report written after every batch (spec §4.C10
// "RunSummary updated after every batch").
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Project         string        `json:"project"`
	Status          string        `json:"status"`
	Batches         int           `json:"batches"`
	Tasks           []TaskSummary `json:"tasks"`
	TotalTokensUsed int           `json:"total_tokens_used"`
	TotalCostUSD    float64       `json:"total_estimated_cost"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func buildSummary(rs *runstate.RunState) RunSummary {
	summary := RunSummary{
		RunID:     rs.RunID,
		Project:   rs.Project,
		Status:    string(rs.Status),
		Batches:   len(rs.Batches),
		UpdatedAt: rs.UpdatedAt,
	}

	ids := make([]string, 0, len(rs.Tasks))
	for id := range rs.Tasks {
		ids = append(ids, id)
	}
	sortNatural(ids)

	for _, id := range ids {
		st := rs.Tasks[id]
		summary.Tasks = append(summary.Tasks, TaskSummary{
			ID:               id,
			Status:           string(st.Status),
			Attempts:         st.Attempts,
			TokensUsed:       st.TokensUsed,
			EstimatedCostUSD: st.EstimatedCostUSD,
		})
		summary.TotalTokensUsed += st.TokensUsed
		summary.TotalCostUSD += st.EstimatedCostUSD
	}
	return summary
}

func sortNatural(ids []string) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && task.LessNatural(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// writeSummary atomically writes rs's current RunSummary to disk; a failure
// here never aborts the run, it only means the human-facing report is
// stale until the next batch.
func (e *Engine) writeSummary(rs *runstate.RunState) {
	if e.deps.Paths == nil {
		return
	}
	path := e.deps.Paths.RunSummary(rs.Project, rs.RunID)
	data, err := json.MarshalIndent(buildSummary(rs), "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
	}
}
