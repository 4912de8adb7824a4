package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelium-run/mycelium/internal/paths"
	"github.com/mycelium-run/mycelium/internal/vcs"
)

type fakeVCS struct {
	vcs.VCS
	mu                 sync.Mutex
	worktreesCreated   []string
	worktreesRemoved   []string
	branchCheckoutRepo []string
}

func (f *fakeVCS) CheckoutOrCreateBranch(repo, branch, startPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branchCheckoutRepo = append(f.branchCheckoutRepo, repo)
	return nil
}

func (f *fakeVCS) CreateWorktreeAtRevision(repo, rev, worktreePath string) (func() error, error) {
	f.mu.Lock()
	f.worktreesCreated = append(f.worktreesCreated, worktreePath)
	f.mu.Unlock()
	_ = os.MkdirAll(worktreePath, 0o755)
	return func() error { return nil }, nil
}

func (f *fakeVCS) RemoveWorktree(repo, worktreePath string) error {
	f.mu.Lock()
	f.worktreesRemoved = append(f.worktreesRemoved, worktreePath)
	f.mu.Unlock()
	return os.RemoveAll(worktreePath)
}

func TestPrepareTask_CreatesNewWorktree(t *testing.T) {
	home := t.TempDir()
	p := paths.New("/repo", home)
	fv := &fakeVCS{}
	s := New(p, "/repo", fv)

	path, err := s.PrepareTask("proj", "run-1", "T-1", "mycelium/task/t-1", "main")
	require.NoError(t, err)
	assert.Equal(t, p.TaskWorkspace("proj", "run-1", "T-1"), path)
	assert.Len(t, fv.worktreesCreated, 1)
}

func TestPrepareTask_RecoversExistingWorktree(t *testing.T) {
	home := t.TempDir()
	p := paths.New("/repo", home)
	fv := &fakeVCS{}
	s := New(p, "/repo", fv)

	wsPath := p.TaskWorkspace("proj", "run-1", "T-1")
	require.NoError(t, os.MkdirAll(wsPath, 0o755))

	path, err := s.PrepareTask("proj", "run-1", "T-1", "mycelium/task/t-1", "main")
	require.NoError(t, err)
	assert.Equal(t, wsPath, path)
	assert.Empty(t, fv.worktreesCreated)
}

func TestPrepareTask_ConcurrentTasksNeverCheckoutSharedRepo(t *testing.T) {
	home := t.TempDir()
	p := paths.New("/repo", home)
	fv := &fakeVCS{}
	s := New(p, "/repo", fv)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			taskID := "T-" + string(rune('1'+i))
			_, err := s.PrepareTask("proj", "run-1", taskID, "mycelium/task/"+taskID, "main")
			errs[i] = err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, fv.branchCheckoutRepo, n)
	for _, repo := range fv.branchCheckoutRepo {
		assert.NotEqual(t, "/repo", repo, "branch checkout must never target the shared repo working tree")
	}
}

func TestRemoveTask_RemovesOnlyWithinRoot(t *testing.T) {
	home := t.TempDir()
	p := paths.New("/repo", home)
	fv := &fakeVCS{}
	s := New(p, "/repo", fv)

	wsPath := p.TaskWorkspace("proj", "run-1", "T-1")
	require.NoError(t, os.MkdirAll(wsPath, 0o755))

	require.NoError(t, s.RemoveTask("proj", "run-1", "T-1"))
	assert.Len(t, fv.worktreesRemoved, 1)
	_, err := os.Stat(wsPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveRun_RemovesRunWorkspacesRoot(t *testing.T) {
	home := t.TempDir()
	p := paths.New("/repo", home)
	fv := &fakeVCS{}
	s := New(p, "/repo", fv)

	wsPath := p.TaskWorkspace("proj", "run-1", "T-1")
	require.NoError(t, os.MkdirAll(wsPath, 0o755))

	require.NoError(t, s.RemoveRun("proj", "run-1"))
	_, err := os.Stat(filepath.Join(home, "workspaces", "proj", "run-1"))
	assert.True(t, os.IsNotExist(err))
}
