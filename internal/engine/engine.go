// Package engine is the Run Engine (spec §4.C10): it drives the per-task
// state machine, the batch main loop, resume/recovery, and budget
// enforcement by orchestrating every other component (C1-C9).
package engine

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"github.com/mycelium-run/mycelium/internal/clock"
	"github.com/mycelium-run/mycelium/internal/compliance"
	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/container"
	"github.com/mycelium-run/mycelium/internal/controlplane"
	"github.com/mycelium-run/mycelium/internal/events"
	"github.com/mycelium-run/mycelium/internal/ledger"
	"github.com/mycelium-run/mycelium/internal/paths"
	"github.com/mycelium-run/mycelium/internal/runstate"
	"github.com/mycelium-run/mycelium/internal/scheduler"
	"github.com/mycelium-run/mycelium/internal/task"
	"github.com/mycelium-run/mycelium/internal/validator"
	"github.com/mycelium-run/mycelium/internal/vcs"
	"github.com/mycelium-run/mycelium/internal/workspace"
)

// staleHeartbeatThreshold is the hard-coded resume-recovery window (spec
// §4.C10 "no heartbeat for >15 min -> reset to pending"; SPEC_FULL.md §9
// open-question decision: kept unconfigured).
const staleHeartbeatThreshold = 15 * time.Minute

// defaultMaxAttempts bounds the "retry" policy so a persistently failing
// worker can't livelock a run forever (SPEC_FULL.md §9 open-question
// decision on the retry/fail-fast matrix).
const defaultMaxAttempts = 3

// ControlPlane is the narrow slice of *controlplane.Store the engine drives.
type ControlPlane interface {
	BuildOrGet(repo, sha string) (*controlplane.Model, error)
}

// Ledger is the narrow slice of *ledger.Store the engine drives.
type Ledger interface {
	Load() (*ledger.Ledger, error)
	Record(taskID string, entry ledger.Entry) error
}

// Deps are the capability interfaces the Engine is built from (spec §9
// "dynamic dispatch -> capability interfaces"); production wiring supplies
// the real VCS/Docker/etc., tests substitute fakes.
type Deps struct {
	Paths        *paths.PathsContext
	Config       *config.Config
	VCS          vcs.VCS
	Workspaces   workspace.Store
	Docker       container.DockerClient
	Worker       WorkerRunner
	ControlPlane ControlPlane
	Resolver     compliance.Resolver
	Validators   *validator.Pipeline
	Doctor       *validator.DoctorRunner
	Ledger       Ledger
	RunStates    runstate.Store
	Publisher    events.Publisher
	Clock        clock.Clock
}

// Engine drives one run to completion (spec §4.C10).
type Engine struct {
	deps Deps
}

// New builds an Engine from deps.
func New(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	return &Engine{deps: deps}
}

// RunOptions configures one invocation of Start/Resume.
type RunOptions struct {
	Project     string
	RunID       string
	Repo        string
	MainBranch  string
	MaxParallel int
	Manifests   []*task.Manifest
	// Tasks restricts execution to this id set when non-empty (CLI `--tasks`).
	Tasks []string
	// ReuseCompleted short-circuits any task whose ledger entry still
	// matches its current manifest fingerprint, instead of re-running it
	// (spec §4.C10 "starting a task whose state is complete is a no-op
	// unless --reuse-completed=false").
	ReuseCompleted bool
}

// Start begins a fresh run: resolves base_sha, creates RunState, and drives
// the main loop to completion (spec §4.C10 "pending -> running").
func (e *Engine) Start(ctx context.Context, opts RunOptions) (*runstate.RunState, error) {
	baseSha, err := e.deps.VCS.ResolveRunBaseSha(opts.Repo, opts.MainBranch)
	if err != nil {
		return nil, err
	}

	manifests := opts.Manifests
	if len(opts.Tasks) > 0 {
		manifests = filterManifests(manifests, opts.Tasks)
	}

	rs := runstate.New(opts.RunID, opts.Project, opts.Repo, opts.MainBranch, baseSha, manifests)
	if opts.ReuseCompleted {
		e.applyLedgerShortCircuit(rs, manifests)
	}
	rs.Status = runstate.StatusRunning
	if err := e.save(rs); err != nil {
		return nil, err
	}

	e.publish(events.New(events.RunStart, "", 0, map[string]any{"run_id": rs.RunID, "base_sha": baseSha}))
	return e.loop(ctx, rs, manifestIndex(manifests), opts.MaxParallel)
}

// Resume lifts a paused/crashed run back to running, reattaching any still-
// live containers and resetting stale in-flight tasks (spec §4.C10 "Resume
// lifts paused -> running").
func (e *Engine) Resume(ctx context.Context, project, runID string, manifests []*task.Manifest, maxParallel int) (*runstate.RunState, error) {
	rs, err := e.deps.RunStates.Load(project, runID)
	if err != nil {
		return nil, err
	}
	if rs.Status == runstate.StatusComplete || rs.Status == runstate.StatusFailed {
		return rs, nil
	}

	idx := manifestIndex(manifests)
	e.reattachAndResetStale(ctx, rs, idx)
	if err := e.mergeOrphanedValidated(rs); err != nil {
		return rs, err
	}
	e.clearStopRequest(rs)
	rs.Status = runstate.StatusRunning
	if err := e.save(rs); err != nil {
		return nil, err
	}

	e.publish(events.New(events.RunStart, "", 0, map[string]any{"run_id": rs.RunID, "resumed": true}))
	return e.loop(ctx, rs, idx, maxParallel)
}

// loop is the per-run main loop (spec §4.C10 "Main loop per run").
func (e *Engine) loop(ctx context.Context, rs *runstate.RunState, manifests map[string]*task.Manifest, maxParallel int) (*runstate.RunState, error) {
	if maxParallel <= 0 {
		maxParallel = e.deps.Config.MaxParallel
	}

	batchNum := len(rs.Batches)
	for {
		if ctx.Err() != nil {
			rs.Status = runstate.StatusPaused
			_ = e.save(rs)
			e.publish(events.New(events.RunStop, "", 0, map[string]any{"reason": "stopped"}))
			return rs, nil
		}

		if e.stopRequested(rs) {
			rs.Status = runstate.StatusPaused
			_ = e.save(rs)
			e.publish(events.New(events.RunPaused, "", 0, map[string]any{"reason": "stop_requested"}))
			return rs, nil
		}

		if blocked, taskID := e.budgetExceeded(rs); blocked {
			rs.Status = runstate.StatusFailed
			_ = e.save(rs)
			e.publish(events.New(events.BudgetBlock, taskID, 0, map[string]any{"reason": "max_tokens_per_task exceeded"}))
			return rs, nil
		}

		if rs.AllTerminal() {
			rs.Status = runstate.StatusComplete
			for _, t := range rs.Tasks {
				if t.Status == task.StatusFailed {
					rs.Status = runstate.StatusFailed
					break
				}
			}
			_ = e.save(rs)
			e.publish(events.New(events.RunStop, "", 0, map[string]any{"reason": string(rs.Status)}))
			return rs, nil
		}

		specs := pendingSpecs(rs, manifests)
		admitted, _ := scheduler.BuildBatch(specs, rs.CompletedTaskIDs(), maxParallel)
		if len(admitted) == 0 {
			// Nothing ready and not all terminal: every remaining task is
			// blocked on a dependency that will never complete (its own
			// dependency failed). Nothing further can run.
			rs.Status = runstate.StatusFailed
			_ = e.save(rs)
			return rs, nil
		}

		batchNum++
		batch := &task.Batch{
			ID:      batchNum,
			TaskIDs: manifestIDs(admitted),
			Locks:   scheduler.BatchLocks(admitted),
			Status:  task.BatchStatusRunning,
		}
		rs.Batches = append(rs.Batches, batch)
		e.publish(events.New(events.BatchStart, "", 0, map[string]any{"batch_id": batch.ID, "task_ids": batch.TaskIDs}))

		if err := e.runBatch(ctx, rs, batch, admitted); err != nil {
			return rs, err
		}

		if err := e.mergeBatch(rs, batch); err != nil {
			return rs, err
		}

		e.writeSummary(rs)
		if err := e.save(rs); err != nil {
			return rs, err
		}
	}
}

// runBatch executes every admitted task's worker phase concurrently, capped
// at maxParallel, fanning the ctx's single stop signal out to every
// in-flight unit (spec §5 "Cancellation").
func (e *Engine) runBatch(ctx context.Context, rs *runstate.RunState, batch *task.Batch, admitted []*task.Manifest) error {
	sem := semaphore.NewWeighted(int64(len(admitted)))
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range admitted {
		m := m
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			e.runTask(gctx, rs, m)
			return nil
		})
	}
	return g.Wait()
}

// stopRequested polls the run's stop sentinel (spec §4.C10 "operator stop" via
// `mycelium stop`), written out-of-process by a separate CLI invocation.
func (e *Engine) stopRequested(rs *runstate.RunState) bool {
	if e.deps.Paths == nil {
		return false
	}
	_, err := os.Stat(e.deps.Paths.StopRequestFile(rs.Project, rs.RunID))
	return err == nil
}

// clearStopRequest removes a prior stop sentinel so a resumed run does not
// immediately re-pause on its first loop iteration.
func (e *Engine) clearStopRequest(rs *runstate.RunState) {
	if e.deps.Paths == nil {
		return
	}
	_ = os.Remove(e.deps.Paths.StopRequestFile(rs.Project, rs.RunID))
}

func (e *Engine) budgetExceeded(rs *runstate.RunState) (bool, string) {
	if e.deps.Config.Budgets.Mode != config.BudgetBlock {
		return false, ""
	}
	for id, t := range rs.Tasks {
		if e.deps.Config.Budgets.MaxTokensPerTask > 0 && t.TokensUsed > e.deps.Config.Budgets.MaxTokensPerTask {
			return true, id
		}
	}
	return false, ""
}

func (e *Engine) save(rs *runstate.RunState) error {
	rs.Touch(e.deps.Clock.Now())
	return e.deps.RunStates.Save(rs)
}

func (e *Engine) publish(ev events.Event) {
	if e.deps.Publisher != nil {
		e.deps.Publisher.Publish(ev)
	}
}

func pendingSpecs(rs *runstate.RunState, manifests map[string]*task.Manifest) []*task.Manifest {
	var out []*task.Manifest
	for id, t := range rs.Tasks {
		if t.Status != task.StatusPending {
			continue
		}
		if m, ok := manifests[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func manifestIndex(manifests []*task.Manifest) map[string]*task.Manifest {
	out := make(map[string]*task.Manifest, len(manifests))
	for _, m := range manifests {
		out[m.ID] = m
	}
	return out
}

func manifestIDs(manifests []*task.Manifest) []string {
	out := make([]string, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, m.ID)
	}
	return out
}

func filterManifests(manifests []*task.Manifest, ids []string) []*task.Manifest {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*task.Manifest
	for _, m := range manifests {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// NewRunID generates a fresh run id (spec §4.C1/C3 "run_id" uuid).
func NewRunID() string { return uuid.NewString() }
