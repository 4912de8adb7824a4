// Package workspace manages the per-task and per-run working copies the
// engine checks tasks out into (spec §4.C5).
package workspace

import (
	"os"
	"path/filepath"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
	"github.com/mycelium-run/mycelium/internal/paths"
	"github.com/mycelium-run/mycelium/internal/vcs"
)

// Store is the capability interface the engine drives for workspace
// lifecycle; production code uses FSStore, tests substitute a fake.
type Store interface {
	PrepareTask(project, runID, taskID, branch, baseRev string) (path string, err error)
	RemoveTask(project, runID, taskID string) error
	RemoveRun(project, runID string) error
}

// FSStore is the VCS-backed Store implementation.
type FSStore struct {
	paths *paths.PathsContext
	repo  string
	v     vcs.VCS
}

// New builds an FSStore rooted at paths, operating on the git checkout at
// repo, using v for worktree creation.
func New(p *paths.PathsContext, repo string, v vcs.VCS) *FSStore {
	return &FSStore{paths: p, repo: repo, v: v}
}

// PrepareTask creates (or recovers) the task's worktree, checked out onto
// branch at baseRev. If the worktree directory already exists and is a
// valid checkout (resumed run), it is reused as-is rather than recreated.
func (s *FSStore) PrepareTask(project, runID, taskID, branch, baseRev string) (string, error) {
	wsPath := s.paths.TaskWorkspace(project, runID, taskID)
	if info, err := os.Stat(wsPath); err == nil && info.IsDir() {
		// Recover: a worktree already exists from a prior attempt or a
		// resumed run. The engine is responsible for deciding whether its
		// dirty state should be reset; workspace only guarantees the path
		// exists and is within bounds.
		if !paths.IsWithin(s.paths.RunWorkspacesRoot(project, runID), wsPath) {
			return "", mycerrors.Wrap(mycerrors.CodeTaskInvalid, "recovered workspace escapes run workspace root", nil)
		}
		return wsPath, nil
	}

	if _, err := s.v.CreateWorktreeAtRevision(s.repo, baseRev, wsPath); err != nil {
		return "", err
	}
	// Branch creation runs with wsPath, not s.repo, as the git cwd: it
	// touches only the new worktree's own HEAD and index, never the shared
	// repo's checked-out tree the engine itself uses for merges. Worktrees
	// share one ref store but distinct tasks never contend for the same
	// branch name, so concurrent PrepareTask calls (runBatch starts one per
	// admitted task) touch disjoint working trees and disjoint refs (spec
	// §5 "workers operate only inside their per-task workspace clone").
	if err := s.v.CheckoutOrCreateBranch(wsPath, branch, baseRev); err != nil {
		return "", err
	}
	return wsPath, nil
}

// RemoveTask deletes a task's workspace after verifying it is lexically
// contained within the run's workspaces root (spec §8 invariant 8).
func (s *FSStore) RemoveTask(project, runID, taskID string) error {
	wsPath := s.paths.TaskWorkspace(project, runID, taskID)
	root := s.paths.RunWorkspacesRoot(project, runID)
	if !paths.IsWithin(root, wsPath) {
		return mycerrors.Wrap(mycerrors.CodeTaskInvalid, "refusing to remove workspace outside run root", nil)
	}
	return s.v.RemoveWorktree(s.repo, wsPath)
}

// RemoveRun deletes every workspace under a run, after the same containment
// check against the run's project workspaces base.
func (s *FSStore) RemoveRun(project, runID string) error {
	root := s.paths.RunWorkspacesRoot(project, runID)
	base := filepath.Join(s.paths.Home(), "workspaces", project)
	if !paths.IsWithin(base, root) {
		return mycerrors.Wrap(mycerrors.CodeTaskInvalid, "refusing to remove run workspace outside workspaces base", nil)
	}
	return os.RemoveAll(root)
}
