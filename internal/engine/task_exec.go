package engine

import (
	"context"
	"time"

	"github.com/mycelium-run/mycelium/internal/compliance"
	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/events"
	"github.com/mycelium-run/mycelium/internal/ledger"
	"github.com/mycelium-run/mycelium/internal/runstate"
	"github.com/mycelium-run/mycelium/internal/task"
	"github.com/mycelium-run/mycelium/internal/validator"
)

// runTask drives one task attempt through worker execution, validators and
// doctor, and manifest-compliance gating, up to (but not including) the
// batch-level merge (spec §4.C10 step 3). It never returns an error: every
// failure is folded into the task's own state so one task's trouble never
// aborts its batch siblings, which is what runBatch's errgroup relies on.
func (e *Engine) runTask(ctx context.Context, rs *runstate.RunState, m *task.Manifest) {
	st := rs.Tasks[m.ID]
	st.Manifest = m

	if _, err := st.Apply(task.EventStart); err != nil {
		return
	}
	st.Attempts++
	st.Branch = task.BranchName(e.deps.Config.BranchPrefix, m.ID)
	checkpoint(st, "start", "")
	e.publish(events.New(events.TaskStart, m.ID, st.Attempts, nil))

	wsPath, err := e.deps.Workspaces.PrepareTask(rs.Project, rs.RunID, m.ID, st.Branch, rs.BaseSha)
	if err != nil {
		e.failTask(st, m.ID, "workspace preparation failed: "+err.Error())
		return
	}
	st.Workspace = wsPath
	checkpoint(st, "workspace_ready", wsPath)

	result, err := e.deps.Worker.RunTask(ctx, WorkerRequest{
		Project:       rs.Project,
		RunID:         rs.RunID,
		TaskID:        m.ID,
		Attempt:       st.Attempts,
		WorkspacePath: wsPath,
		Manifest:      m,
	})
	if err != nil {
		e.retryOrFail(st, m.ID, "worker invocation failed: "+err.Error())
		return
	}
	e.finishWorkerResult(ctx, rs, st, m, wsPath, result)
}

// finishWorkerResult carries a task from a produced WorkerResult through
// validators and manifest compliance, up to (but not including) the batch
// merge (spec §4.C10 step 3b-3d). It is shared by runTask's own worker
// invocation and by resume's reattach path (resume.go's waitReattached),
// which classifies a WorkerResult from a container it never started itself.
func (e *Engine) finishWorkerResult(ctx context.Context, rs *runstate.RunState, st *task.State, m *task.Manifest, wsPath string, result WorkerResult) {
	st.ContainerID = result.ContainerID
	st.TokensUsed += result.TokensUsed
	st.EstimatedCostUSD += result.EstimatedCostUSD
	st.LastHeartbeat = e.deps.Clock.Now()
	checkpoint(st, "worker_done", "")

	if !result.Success {
		if result.ResetToPending {
			e.retryOrFail(st, m.ID, "worker reported failure, retrying")
		} else {
			e.terminalFail(st, m.ID, "worker reported a terminal failure")
		}
		return
	}

	if _, err := st.Apply(task.EventWorkerOK); err != nil {
		return
	}
	checkpoint(st, "validated", "")

	if e.runCompliance(rs, st, m, wsPath) {
		return
	}

	results := e.runValidators(ctx, st, wsPath)
	st.ValidatorResults = append(st.ValidatorResults, results...)
	if block, ok := validator.EvaluateBlock(results); ok {
		e.blockOnValidator(st, m.ID, block)
		return
	}
	checkpoint(st, "awaiting_merge", "")
}

// runCompliance evaluates manifest compliance for the task's own branch
// diff (spec §4.C9). It returns true if the task left runTask's remaining
// steps (rescoped back to pending, or escalated to human review).
func (e *Engine) runCompliance(rs *runstate.RunState, st *task.State, m *task.Manifest, wsPath string) bool {
	if e.deps.Resolver == nil {
		return false
	}
	changed, err := e.deps.VCS.ListChangedFiles(wsPath, rs.BaseSha)
	if err != nil {
		e.terminalFail(st, m.ID, "could not list changed files: "+err.Error())
		return true
	}

	mode := e.deps.Config.Manifest.Enforcement
	violations := compliance.DetectViolations(m, changed, e.deps.Resolver)
	outcome := compliance.Evaluate(mode, m, violations)
	if len(violations) > 0 {
		evType := events.ManifestComplianceWarn
		if mode == config.EnforcementBlock {
			evType = events.ManifestComplianceBlock
		}
		e.publish(events.New(evType, m.ID, st.Attempts, map[string]any{"violations": violations}))
	}
	if !outcome.Gate {
		return false
	}

	if _, err := st.Apply(task.EventComplianceBlock); err != nil {
		return true
	}
	if outcome.RescopeFail {
		st.Apply(task.EventAutoRescopeFail)
		st.HumanReview = &task.HumanReview{Reason: "manifest rescope failed: a changed resource has no ownership mapping", CreatedAt: e.deps.Clock.Now()}
		e.publish(events.New(events.TaskRescopeFail, m.ID, st.Attempts, nil))
		return true
	}

	st.Apply(task.EventAutoRescopeOK)
	st.Manifest = outcome.RescopedMft
	checkpoint(st, "rescoped", "")
	return true
}

// runValidators runs the configured validator pipeline plus the doctor, in
// that order, against wsPath (spec §4.C8).
func (e *Engine) runValidators(ctx context.Context, st *task.State, wsPath string) []task.ValidatorResult {
	var results []task.ValidatorResult
	if e.deps.Validators != nil {
		results = append(results, e.deps.Validators.RunAll(ctx, wsPath)...)
	}
	if e.deps.Doctor != nil {
		cmd := e.deps.Config.Doctor.Command
		if st.Manifest.VerifyCmd.Fast != "" {
			cmd = st.Manifest.VerifyCmd.Fast
		} else if st.Manifest.VerifyCmd.Doctor != "" {
			cmd = st.Manifest.VerifyCmd.Doctor
		}
		run, err := e.deps.Doctor.Run(ctx, wsPath, cmd)
		if err != nil {
			results = append(results, task.ValidatorResult{Validator: "doctor", Status: "error", Mode: string(e.deps.Config.Doctor.Mode), Summary: err.Error()})
		} else {
			results = append(results, run.Result)
			e.publishDoctorCanary(st, run.CanaryResult)
		}
	}
	return results
}

func (e *Engine) publishDoctorCanary(st *task.State, result validator.CanaryResult) {
	switch result {
	case validator.CanarySkipped:
		e.publish(events.New(events.DoctorCanarySkipped, st.ID, st.Attempts, nil))
	case validator.CanaryExpectedFail:
		e.publish(events.New(events.DoctorCanaryExpectFail, st.ID, st.Attempts, nil))
	case validator.CanaryUnexpectedPass:
		e.publish(events.New(events.DoctorCanaryUnexpectOK, st.ID, st.Attempts, nil))
	}
}

func (e *Engine) retryOrFail(st *task.State, taskID, why string) {
	if st.Attempts >= defaultMaxAttempts {
		e.terminalFail(st, taskID, why+" (max attempts reached)")
		return
	}
	st.Apply(task.EventWorkerFailRetry)
	checkpoint(st, "retry", why)
}

func (e *Engine) terminalFail(st *task.State, taskID, why string) {
	st.Apply(task.EventWorkerFailFinal)
	checkpoint(st, "failed", why)
	e.publish(events.New(events.TaskFailed, taskID, st.Attempts, map[string]any{"reason": why}))
}

func (e *Engine) failTask(st *task.State, taskID, why string) {
	// Infrastructure failure before the worker ever ran (e.g. workspace
	// preparation): always retryable up to the attempt cap, since nothing
	// about the task's own work caused it.
	e.retryOrFail(st, taskID, why)
}

func (e *Engine) blockOnValidator(st *task.State, taskID string, block validator.Block) {
	st.Apply(task.EventValidatorBlock)
	st.HumanReview = &task.HumanReview{Reason: block.Reason, CreatedAt: e.deps.Clock.Now()}
	e.publish(events.New(events.ValidatorBlock, taskID, st.Attempts, map[string]any{"validator": block.Validator, "reason": block.Reason}))
}

func checkpoint(st *task.State, phase, detail string) {
	st.Checkpoints = append(st.Checkpoints, task.Checkpoint{Phase: phase, Timestamp: time.Now().UTC(), Detail: detail})
}

// ledgerFingerprint computes the short-circuit fingerprint for m against a
// merge commit: the one just produced when recording a fresh completion, or
// a prior run's recorded one when checking whether to reuse it (spec §4.C11
// "used to short-circuit re-execution across different runs").
func ledgerFingerprint(m *task.Manifest, mergeCommit string) string {
	return ledger.Fingerprint(m, mergeCommit)
}

// applyLedgerShortCircuit marks every pending task whose ledger entry's
// fingerprint still matches its current manifest as already complete, so a
// fresh Start never redoes work the ledger already recorded as merged (spec
// §4.C10 "starting a task whose state is complete is a no-op unless
// --reuse-completed=false").
func (e *Engine) applyLedgerShortCircuit(rs *runstate.RunState, manifests []*task.Manifest) {
	if e.deps.Ledger == nil {
		return
	}
	led, err := e.deps.Ledger.Load()
	if err != nil {
		return
	}
	for _, m := range manifests {
		st := rs.Tasks[m.ID]
		if st == nil || st.Status != task.StatusPending {
			continue
		}
		entry, ok := led.Tasks[m.ID]
		if !ok {
			continue
		}
		candidate := ledgerFingerprint(m, entry.MergeCommit)
		if _, matched := led.ShortCircuit(m.ID, candidate); !matched {
			continue
		}
		st.Manifest = m
		// Jumps straight to complete rather than through Apply: the state
		// machine's transition table has no "ledger replay" event, the same
		// reasoning batch.go's merge-conflict handling uses for its own
		// direct status assignment.
		st.Status = task.StatusComplete
		checkpoint(st, "ledger_short_circuit", "reused prior completion from ledger, merge_commit="+entry.MergeCommit)
		e.publish(events.New(events.TaskLedgerShortCircuit, m.ID, st.Attempts, map[string]any{"merge_commit": entry.MergeCommit}))
	}
}
