package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/container"
	"github.com/mycelium-run/mycelium/internal/events"
	"github.com/mycelium-run/mycelium/internal/ledger"
	"github.com/mycelium-run/mycelium/internal/paths"
	"github.com/mycelium-run/mycelium/internal/runstate"
	"github.com/mycelium-run/mycelium/internal/task"
	"github.com/mycelium-run/mycelium/internal/vcs"
	"github.com/mycelium-run/mycelium/internal/workspace"
)

// fakeDocker is a container.DockerClient that never actually shells out to
// docker; FindByLabels/Wait are scripted per container id so tests can drive
// the resume reattach path without a live daemon.
type fakeDocker struct {
	mu        sync.Mutex
	live      map[string]string // taskID -> containerID
	exitCodes map[string]int    // containerID -> exit code
	findCalls map[string]int
	waitCalls map[string]int
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		live:      map[string]string{},
		exitCodes: map[string]int{},
		findCalls: map[string]int{},
		waitCalls: map[string]int{},
	}
}

func (f *fakeDocker) Run(spec container.Spec, sink container.LogSink, attempt int) (string, error) {
	return "", nil
}

func (f *fakeDocker) RunBootstrap(containerID, taskID string, commands []string, maxCapturedBytes int, sink container.LogSink, attempt int) ([]container.BootstrapResult, error) {
	return nil, nil
}

func (f *fakeDocker) FindByLabels(project, run, taskID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls[taskID]++
	id, ok := f.live[taskID]
	return id, ok, nil
}

func (f *fakeDocker) ReattachLogs(containerID string, sink container.LogSink, taskID string, attempt int) error {
	return nil
}

func (f *fakeDocker) Wait(containerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitCalls[containerID]++
	return f.exitCodes[containerID], nil
}

func (f *fakeDocker) Stop(containerID string) error { return nil }

var _ container.DockerClient = (*fakeDocker)(nil)

// fakeVCS is a minimal vcs.VCS the engine drives without touching a real git
// repo; MergeTaskBranchesToTemp/FastForward always succeed and merge every
// branch cleanly.
type fakeVCS struct {
	baseSha string
}

func (f *fakeVCS) EnsureCleanWorkingTree(repo string) error                     { return nil }
func (f *fakeVCS) Checkout(repo, ref string) error                             { return nil }
func (f *fakeVCS) CheckoutOrCreateBranch(repo, branch, startPoint string) error { return nil }
func (f *fakeVCS) ResolveRunBaseSha(repo, mainBranch string) (string, error) {
	return f.baseSha, nil
}
func (f *fakeVCS) HeadSha(repo, ref string) (string, error)  { return f.baseSha, nil }
func (f *fakeVCS) IsAncestor(repo, a, b string) (bool, error) { return true, nil }
func (f *fakeVCS) ListChangedFiles(repoOrWorkspace, baseRef string) ([]string, error) {
	return nil, nil
}
func (f *fakeVCS) MergeTaskBranches(req vcs.MergeRequest) (vcs.MergeResult, error) {
	return f.mergeAll(req), nil
}
func (f *fakeVCS) MergeTaskBranchesToTemp(req vcs.MergeRequest) (string, vcs.MergeResult, error) {
	return "temp-merge-branch", f.mergeAll(req), nil
}
func (f *fakeVCS) mergeAll(req vcs.MergeRequest) vcs.MergeResult {
	result := vcs.MergeResult{MergeCommit: "merged-sha"}
	for _, b := range req.Branches {
		result.Merged = append(result.Merged, b.TaskID)
	}
	return result
}
func (f *fakeVCS) FastForward(repo, mainBranch, tempBranch string) error { return nil }
func (f *fakeVCS) CreateWorktreeAtRevision(repo, rev, worktreePath string) (func() error, error) {
	return func() error { return nil }, nil
}
func (f *fakeVCS) RemoveWorktree(repo, worktreePath string) error { return nil }

// fakeWorkspaces is a workspace.Store that hands back a throwaway directory
// per task without touching git worktrees.
type fakeWorkspaces struct {
	dir string
}

func (f *fakeWorkspaces) PrepareTask(project, runID, taskID, branch, baseRev string) (string, error) {
	path := filepath.Join(f.dir, taskID)
	return path, os.MkdirAll(path, 0o755)
}
func (f *fakeWorkspaces) RemoveTask(project, runID, taskID string) error { return nil }
func (f *fakeWorkspaces) RemoveRun(project, runID string) error         { return nil }

var _ workspace.Store = (*fakeWorkspaces)(nil)
var _ vcs.VCS = (*fakeVCS)(nil)

// fakeWorker is a WorkerRunner whose outcome per task id is scripted by the
// test: each call to RunTask for a given task id consumes the next queued
// result for it, falling back to a clean success once the queue is empty.
type fakeWorker struct {
	mu      sync.Mutex
	queued  map[string][]WorkerResult
	results map[string]WorkerResult
	calls   map[string]int
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		queued:  map[string][]WorkerResult{},
		results: map[string]WorkerResult{},
		calls:   map[string]int{},
	}
}

func (f *fakeWorker) RunTask(ctx context.Context, req WorkerRequest) (WorkerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.TaskID]++
	if q := f.queued[req.TaskID]; len(q) > 0 {
		next := q[0]
		f.queued[req.TaskID] = q[1:]
		return next, nil
	}
	if r, ok := f.results[req.TaskID]; ok {
		return r, nil
	}
	return WorkerResult{Success: true, TokensUsed: 100, EstimatedCostUSD: 0.01}, nil
}

func (f *fakeWorker) attempts(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[taskID]
}

func newTestManifest(id string, deps ...string) *task.Manifest {
	return &task.Manifest{
		ID:           id,
		Name:         "Task " + id,
		Dependencies: deps,
		VerifyCmd:    task.Verify{Doctor: "true"},
	}
}

func testDeps(t *testing.T, home string) (Deps, *fakeWorker) {
	t.Helper()
	p := paths.New(home, home)
	worker := newFakeWorker()
	return Deps{
		Paths:      p,
		Config:     config.Default(),
		VCS:        &fakeVCS{baseSha: "base-sha-1"},
		Workspaces: &fakeWorkspaces{dir: t.TempDir()},
		Worker:     worker,
		RunStates:  runstate.NewFileStore(p),
		Publisher:  events.NewMemoryPublisher(16),
	}, worker
}

func TestEngineStart_SingleTaskCompletesRun(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	eng := New(deps)

	m := newTestManifest("TASK-001")
	rs, err := eng.Start(context.Background(), RunOptions{
		Project:        "proj",
		RunID:          "run-1",
		Repo:           home,
		MainBranch:     "main",
		MaxParallel:    2,
		Manifests:      []*task.Manifest{m},
		ReuseCompleted: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, rs.Status)
	require.Equal(t, task.StatusComplete, rs.Tasks["TASK-001"].Status)
	require.Equal(t, 1, worker.attempts("TASK-001"))
	require.Len(t, rs.Batches, 1)
}

func TestEngineStart_DependentTasksRunInOrder(t *testing.T) {
	home := t.TempDir()
	deps, _ := testDeps(t, home)
	eng := New(deps)

	a := newTestManifest("A")
	b := newTestManifest("B", "A")
	rs, err := eng.Start(context.Background(), RunOptions{
		Project:        "proj",
		RunID:          "run-2",
		Repo:           home,
		MainBranch:     "main",
		MaxParallel:    2,
		Manifests:      []*task.Manifest{a, b},
		ReuseCompleted: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, rs.Status)
	require.Equal(t, task.StatusComplete, rs.Tasks["A"].Status)
	require.Equal(t, task.StatusComplete, rs.Tasks["B"].Status)
	// B depends on A, so it can't have been admitted into the first batch.
	require.True(t, len(rs.Batches) >= 2)
}

func TestEngineStart_WorkerTerminalFailureFailsRun(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	worker.results["TASK-001"] = WorkerResult{Success: false, ResetToPending: false}
	eng := New(deps)

	m := newTestManifest("TASK-001")
	rs, err := eng.Start(context.Background(), RunOptions{
		Project:        "proj",
		RunID:          "run-3",
		Repo:           home,
		MainBranch:     "main",
		MaxParallel:    1,
		Manifests:      []*task.Manifest{m},
		ReuseCompleted: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusFailed, rs.Status)
	require.Equal(t, task.StatusFailed, rs.Tasks["TASK-001"].Status)
}

func TestEngineStart_WorkerRetryEventuallySucceeds(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	eng := New(deps)

	m := newTestManifest("TASK-001")
	// Fail the first attempt (retryable), succeed on the second.
	worker.queued["TASK-001"] = []WorkerResult{
		{Success: false, ResetToPending: true},
	}

	rs, err := eng.Start(context.Background(), RunOptions{
		Project:        "proj",
		RunID:          "run-4",
		Repo:           home,
		MainBranch:     "main",
		MaxParallel:    1,
		Manifests:      []*task.Manifest{m},
		ReuseCompleted: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, rs.Status)
	require.Equal(t, task.StatusComplete, rs.Tasks["TASK-001"].Status)
	require.Equal(t, 2, worker.attempts("TASK-001"))
}

func TestEngineStart_WorkerRetryExhaustsAttempts(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	eng := New(deps)

	m := newTestManifest("TASK-001")
	worker.results["TASK-001"] = WorkerResult{Success: false, ResetToPending: true}

	rs, err := eng.Start(context.Background(), RunOptions{
		Project:        "proj",
		RunID:          "run-4b",
		Repo:           home,
		MainBranch:     "main",
		MaxParallel:    1,
		Manifests:      []*task.Manifest{m},
		ReuseCompleted: true,
	})
	require.NoError(t, err)
	// Every attempt fails with ResetToPending, so after defaultMaxAttempts
	// the task is terminally failed and the run fails.
	require.Equal(t, runstate.StatusFailed, rs.Status)
	require.Equal(t, task.StatusFailed, rs.Tasks["TASK-001"].Status)
	require.Equal(t, defaultMaxAttempts, rs.Tasks["TASK-001"].Attempts)
}

func TestEngineStart_LedgerShortCircuitSkipsMatchingTask(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	store := ledger.NewStore(filepath.Join(home, "ledger.json"))
	deps.Ledger = store
	eng := New(deps)

	m := newTestManifest("TASK-001")
	require.NoError(t, store.Record("TASK-001", ledger.Entry{
		Status:                  "complete",
		Fingerprint:             ledger.Fingerprint(m, "prior-merge-sha"),
		MergeCommit:             "prior-merge-sha",
		IntegrationDoctorPassed: true,
	}))

	rs, err := eng.Start(context.Background(), RunOptions{
		Project:        "proj",
		RunID:          "run-9",
		Repo:           home,
		MainBranch:     "main",
		MaxParallel:    1,
		Manifests:      []*task.Manifest{m},
		ReuseCompleted: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, rs.Status)
	require.Equal(t, task.StatusComplete, rs.Tasks["TASK-001"].Status)
	require.Equal(t, 0, worker.attempts("TASK-001"))
}

func TestEngineStart_LedgerMismatchedFingerprintStillRuns(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	store := ledger.NewStore(filepath.Join(home, "ledger.json"))
	deps.Ledger = store
	eng := New(deps)

	m := newTestManifest("TASK-001")
	require.NoError(t, store.Record("TASK-001", ledger.Entry{
		Status:                  "complete",
		Fingerprint:             "stale-fingerprint-from-a-different-manifest",
		MergeCommit:             "prior-merge-sha",
		IntegrationDoctorPassed: true,
	}))

	rs, err := eng.Start(context.Background(), RunOptions{
		Project:        "proj",
		RunID:          "run-10",
		Repo:           home,
		MainBranch:     "main",
		MaxParallel:    1,
		Manifests:      []*task.Manifest{m},
		ReuseCompleted: true,
	})
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, rs.Status)
	require.Equal(t, task.StatusComplete, rs.Tasks["TASK-001"].Status)
	require.Equal(t, 1, worker.attempts("TASK-001"))
}

func TestEngineResume_ResetsStaleRunningTask(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	store := deps.RunStates.(*runstate.FileStore)
	eng := New(deps)

	m := newTestManifest("TASK-001")
	rs := runstate.New("run-5", "proj", home, "main", "base-sha-1", []*task.Manifest{m})
	rs.Status = runstate.StatusPaused
	rs.Tasks["TASK-001"].Status = task.StatusRunning
	require.NoError(t, store.Save(rs))

	got, err := eng.Resume(context.Background(), "proj", "run-5", []*task.Manifest{m}, 1)
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, got.Status)
	require.Equal(t, task.StatusComplete, got.Tasks["TASK-001"].Status)
	require.Equal(t, 1, worker.attempts("TASK-001"))
}

func TestEngineResume_ReattachesLiveContainerAndCompletesRun(t *testing.T) {
	home := t.TempDir()
	deps, worker := testDeps(t, home)
	docker := newFakeDocker()
	docker.live["TASK-001"] = "container-1"
	docker.exitCodes["container-1"] = 0
	deps.Docker = docker
	store := deps.RunStates.(*runstate.FileStore)
	eng := New(deps)

	m := newTestManifest("TASK-001")
	rs := runstate.New("run-5b", "proj", home, "main", "base-sha-1", []*task.Manifest{m})
	rs.Status = runstate.StatusPaused
	rs.Tasks["TASK-001"].Status = task.StatusRunning
	rs.Tasks["TASK-001"].Workspace = filepath.Join(home, "TASK-001")
	require.NoError(t, store.Save(rs))

	got, err := eng.Resume(context.Background(), "proj", "run-5b", []*task.Manifest{m}, 1)
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, got.Status)
	require.Equal(t, task.StatusComplete, got.Tasks["TASK-001"].Status)
	// The container was reattached and waited out, never restarted through
	// the normal worker path.
	require.Equal(t, 0, worker.attempts("TASK-001"))
	require.Equal(t, 1, docker.waitCalls["container-1"])
}

func TestEngineResume_TerminalRunIsNoop(t *testing.T) {
	home := t.TempDir()
	deps, _ := testDeps(t, home)
	store := deps.RunStates.(*runstate.FileStore)
	eng := New(deps)

	m := newTestManifest("TASK-001")
	rs := runstate.New("run-6", "proj", home, "main", "base-sha-1", []*task.Manifest{m})
	rs.Status = runstate.StatusComplete
	rs.Tasks["TASK-001"].Status = task.StatusComplete
	require.NoError(t, store.Save(rs))

	got, err := eng.Resume(context.Background(), "proj", "run-6", []*task.Manifest{m}, 1)
	require.NoError(t, err)
	require.Equal(t, runstate.StatusComplete, got.Status)
}

func TestStopRequest_PausesRunAndResumeClearsIt(t *testing.T) {
	home := t.TempDir()
	p := paths.New(home, home)
	eng := &Engine{deps: Deps{Paths: p}}

	rs := &runstate.RunState{Project: "proj", RunID: "run-7"}
	require.False(t, eng.stopRequested(rs))

	stopFile := p.StopRequestFile("proj", "run-7")
	require.NoError(t, os.MkdirAll(filepath.Dir(stopFile), 0o755))
	require.NoError(t, os.WriteFile(stopFile, nil, 0o644))
	require.True(t, eng.stopRequested(rs))

	eng.clearStopRequest(rs)
	require.False(t, eng.stopRequested(rs))
}

func TestBudgetExceeded_BlockModeOverTokens(t *testing.T) {
	eng := &Engine{deps: Deps{Config: &config.Config{
		Budgets: config.BudgetConfig{Mode: config.BudgetBlock, MaxTokensPerTask: 50},
	}}}
	rs := &runstate.RunState{Tasks: map[string]*task.State{
		"TASK-001": {ID: "TASK-001", TokensUsed: 100},
	}}
	blocked, id := eng.budgetExceeded(rs)
	require.True(t, blocked)
	require.Equal(t, "TASK-001", id)
}

func TestBudgetExceeded_OffModeNeverBlocks(t *testing.T) {
	eng := &Engine{deps: Deps{Config: &config.Config{
		Budgets: config.BudgetConfig{Mode: config.BudgetOff, MaxTokensPerTask: 50},
	}}}
	rs := &runstate.RunState{Tasks: map[string]*task.State{
		"TASK-001": {ID: "TASK-001", TokensUsed: 100},
	}}
	blocked, _ := eng.budgetExceeded(rs)
	require.False(t, blocked)
}

func TestFilterManifests_KeepsOnlyRequestedIDs(t *testing.T) {
	all := []*task.Manifest{newTestManifest("A"), newTestManifest("B"), newTestManifest("C")}
	filtered := filterManifests(all, []string{"B", "C"})
	require.Len(t, filtered, 2)
	ids := map[string]bool{}
	for _, m := range filtered {
		ids[m.ID] = true
	}
	require.True(t, ids["B"])
	require.True(t, ids["C"])
	require.False(t, ids["A"])
}

func TestPendingSpecs_SkipsNonPendingTasks(t *testing.T) {
	a := newTestManifest("A")
	b := newTestManifest("B")
	manifests := manifestIndex([]*task.Manifest{a, b})
	rs := &runstate.RunState{Tasks: map[string]*task.State{
		"A": {ID: "A", Status: task.StatusPending},
		"B": {ID: "B", Status: task.StatusRunning},
	}}
	specs := pendingSpecs(rs, manifests)
	require.Len(t, specs, 1)
	require.Equal(t, "A", specs[0].ID)
}
