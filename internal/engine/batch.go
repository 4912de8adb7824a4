package engine

import (
	"github.com/mycelium-run/mycelium/internal/events"
	"github.com/mycelium-run/mycelium/internal/ledger"
	"github.com/mycelium-run/mycelium/internal/runstate"
	"github.com/mycelium-run/mycelium/internal/task"
	"github.com/mycelium-run/mycelium/internal/vcs"
)

// mergeBatch folds every batch member that reached StatusValidated into
// mainBranch via an octopus-into-temp merge, fast-forwarding main only when
// every branch merged cleanly. If any branch conflicts, main is left at its
// pre-batch HEAD, the batch ends in BatchStatusConflict, and every member
// that took part in the merge is escalated to human review (spec §4.C4
// "main is only moved when the octopus succeeded", §4.C10 step 4).
func (e *Engine) mergeBatch(rs *runstate.RunState, batch *task.Batch) error {
	var branches []vcs.Branch
	for _, id := range batch.TaskIDs {
		st := rs.Tasks[id]
		if st.Status != task.StatusValidated {
			continue
		}
		branches = append(branches, vcs.Branch{TaskID: id, Name: st.Branch, WorkspacePath: st.Workspace})
	}

	if len(branches) == 0 {
		batch.Status = task.BatchStatusComplete
		return nil
	}

	batch.Status = task.BatchStatusMerging
	tempBranch, result, err := e.deps.VCS.MergeTaskBranchesToTemp(vcs.MergeRequest{
		Repo:       rs.RepoPath,
		MainBranch: rs.MainBranch,
		Branches:   branches,
	})
	if err != nil {
		batch.Status = task.BatchStatusConflict
		return err
	}

	for _, c := range result.Conflicts {
		st := rs.Tasks[c.TaskID]
		// The state machine's transition table has no dedicated merge-
		// conflict event (spec §4.C10's diagram models worker/validator/
		// compliance outcomes, not VCS-level ones); a merge conflict always
		// routes to human review regardless of the task's prior in-table
		// status, so it is set directly here rather than through Apply.
		st.Status = task.StatusNeedsHumanReview
		st.HumanReview = &task.HumanReview{Reason: "merge conflict: " + c.Detail, CreatedAt: e.deps.Clock.Now()}
		e.publish(events.New(events.BatchMergeConflict, c.TaskID, st.Attempts, map[string]any{"branch": c.Branch, "detail": c.Detail}))
	}

	if len(result.Conflicts) > 0 {
		// One conflict aborts the whole batch: main is not fast-forwarded,
		// and branches that merged cleanly into the temp branch go to human
		// review alongside the conflicting ones (set directly, as above).
		for _, id := range result.Merged {
			st := rs.Tasks[id]
			st.Status = task.StatusNeedsHumanReview
			st.HumanReview = &task.HumanReview{Reason: "batch merge aborted: another branch in the batch conflicted", CreatedAt: e.deps.Clock.Now()}
		}
		batch.Status = task.BatchStatusConflict
		return nil
	}

	if len(result.Merged) > 0 {
		if err := e.deps.VCS.FastForward(rs.RepoPath, rs.MainBranch, tempBranch); err != nil {
			batch.Status = task.BatchStatusConflict
			return err
		}
	}

	for _, id := range result.Merged {
		st := rs.Tasks[id]
		if _, err := st.Apply(task.EventComplianceOK); err != nil {
			continue
		}
		e.recordLedger(rs, st, result.MergeCommit)
		if e.deps.Workspaces != nil {
			_ = e.deps.Workspaces.RemoveTask(rs.Project, rs.RunID, id)
		}
	}

	batch.Status = task.BatchStatusComplete
	e.publish(events.New(events.BatchComplete, "", 0, map[string]any{
		"batch_id":  batch.ID,
		"merged":    result.Merged,
		"conflicts": len(result.Conflicts),
	}))
	return nil
}

// recordLedger persists the completed task's cross-run short-circuit entry
// (spec §4.C11).
func (e *Engine) recordLedger(rs *runstate.RunState, st *task.State, mergeCommit string) {
	if e.deps.Ledger == nil {
		return
	}
	entry := ledger.Entry{
		Status:                  "complete",
		Fingerprint:             ledgerFingerprint(st.Manifest, mergeCommit),
		MergeCommit:             mergeCommit,
		IntegrationDoctorPassed: true,
		CompletedAt:             e.deps.Clock.Now(),
		RunID:                   rs.RunID,
	}
	_ = e.deps.Ledger.Record(st.ID, entry)
}
