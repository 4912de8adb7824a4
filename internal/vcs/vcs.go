// Package vcs wraps the git operations the run engine needs (spec §4.C4):
// clean-tree checks, branch management, changed-file reporting, and the
// octopus-into-temp batch merge.
package vcs

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

// VCS is the capability interface the run engine drives; internal/engine
// never shells out to git directly.
type VCS interface {
	EnsureCleanWorkingTree(repo string) error
	Checkout(repo, ref string) error
	CheckoutOrCreateBranch(repo, branch, startPoint string) error
	ResolveRunBaseSha(repo, mainBranch string) (string, error)
	HeadSha(repo, ref string) (string, error)
	IsAncestor(repo, a, b string) (bool, error)
	ListChangedFiles(repoOrWorkspace, baseRef string) ([]string, error)
	MergeTaskBranches(req MergeRequest) (MergeResult, error)
	MergeTaskBranchesToTemp(req MergeRequest) (tempBranch string, result MergeResult, err error)
	FastForward(repo, mainBranch, tempBranch string) error
	CreateWorktreeAtRevision(repo, rev, worktreePath string) (cleanup func() error, err error)
	RemoveWorktree(repo, worktreePath string) error
}

// Branch describes one task branch to fold into a batch merge.
type Branch struct {
	TaskID        string
	Name          string
	WorkspacePath string // local path git fetches the branch's commits from
}

// MergeRequest is the input to MergeTaskBranches/MergeTaskBranchesToTemp.
type MergeRequest struct {
	Repo       string
	MainBranch string
	Branches   []Branch
	TempBranch string // optional; generated if empty
}

// Conflict records one task branch that failed to merge cleanly.
type Conflict struct {
	TaskID string
	Branch string
	Detail string
}

// MergeResult is the outcome of an octopus-into-temp merge attempt.
type MergeResult struct {
	Merged      []string // task ids that merged cleanly
	Conflicts   []Conflict
	MergeCommit string
}

// Git is the CommandRunner-backed VCS implementation.
type Git struct {
	runner CommandRunner
	mu     sync.Mutex
	clock  func() time.Time
}

// New builds a Git VCS using runner (NewExecRunner() in production).
func New(runner CommandRunner) *Git {
	return &Git{runner: runner, clock: time.Now}
}

func (g *Git) run(repo string, args ...string) (string, error) {
	return g.runner.Run(repo, "git", args...)
}

// EnsureCleanWorkingTree fails if the tree has uncommitted changes other than
// untracked ignored files (spec §4.C4).
func (g *Git) EnsureCleanWorkingTree(repo string) error {
	out, err := g.run(repo, "status", "--porcelain", "--untracked-files=normal")
	if err != nil {
		return mycerrors.NewGit("status", err, false)
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		// Ignore untracked-only entries ("?? path"); anything else (staged,
		// modified, deleted, renamed) is a dirty tree.
		if strings.HasPrefix(line, "?? ") {
			continue
		}
		return mycerrors.Wrap(mycerrors.CodeGit, "working tree is not clean", fmt.Errorf("%s", strings.TrimSpace(out)))
	}
	return nil
}

// Checkout checks out ref in repo.
func (g *Git) Checkout(repo, ref string) error {
	if _, err := g.run(repo, "checkout", ref); err != nil {
		return mycerrors.NewGit("checkout "+ref, err, false)
	}
	return nil
}

// CheckoutOrCreateBranch checks out branch if it exists, otherwise creates it
// from startPoint.
func (g *Git) CheckoutOrCreateBranch(repo, branch, startPoint string) error {
	if _, err := g.run(repo, "checkout", branch); err == nil {
		return nil
	}
	if _, err := g.run(repo, "checkout", "-b", branch, startPoint); err != nil {
		return mycerrors.NewGit("checkout -b "+branch, err, false)
	}
	return nil
}

// ResolveRunBaseSha resolves the sha a run is anchored to.
func (g *Git) ResolveRunBaseSha(repo, mainBranch string) (string, error) {
	return g.HeadSha(repo, mainBranch)
}

// HeadSha returns the commit sha that ref resolves to.
func (g *Git) HeadSha(repo, ref string) (string, error) {
	sha, err := g.run(repo, "rev-parse", ref)
	if err != nil {
		return "", mycerrors.NewGit("rev-parse "+ref, err, false)
	}
	return sha, nil
}

// IsAncestor reports whether a is an ancestor of b.
func (g *Git) IsAncestor(repo, a, b string) (bool, error) {
	_, err := g.run(repo, "merge-base", "--is-ancestor", a, b)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if ok := asCommandError(err, &cmdErr); ok {
		// git exits 1 (not an ancestor) vs >1 (real error); the runner
		// doesn't propagate exit codes, so treat any CommandError here as
		// "not an ancestor" and let genuinely broken repos fail on rev-parse.
		return false, nil
	}
	return false, mycerrors.NewGit("merge-base --is-ancestor", err, false)
}

func asCommandError(err error, target **CommandError) bool {
	ce, ok := err.(*CommandError)
	if ok {
		*target = ce
	}
	return ok
}

// ListChangedFiles returns the union of `diff baseRef...HEAD` and working-tree
// status porcelain, rename-aware and path-normalized to forward slashes
// (spec §4.C4).
func (g *Git) ListChangedFiles(repoOrWorkspace, baseRef string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
		if _, ok := seen[p]; ok || p == "" || p == "." {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	diffOut, err := g.run(repoOrWorkspace, "diff", "--name-only", "-M", baseRef+"...HEAD")
	if err != nil {
		return nil, mycerrors.NewGit("diff "+baseRef+"...HEAD", err, false)
	}
	for _, line := range strings.Split(diffOut, "\n") {
		if line != "" {
			add(line)
		}
	}

	statusOut, err := g.run(repoOrWorkspace, "status", "--porcelain", "-M")
	if err != nil {
		return nil, mycerrors.NewGit("status --porcelain", err, false)
	}
	for _, line := range strings.Split(statusOut, "\n") {
		if len(line) < 4 {
			continue
		}
		rest := line[3:]
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			add(rest[:idx])
			add(rest[idx+4:])
			continue
		}
		add(rest)
	}
	return out, nil
}

// MergeTaskBranches runs the octopus-into-temp merge against mainBranch
// directly (no intermediate temp branch retained by the caller).
func (g *Git) MergeTaskBranches(req MergeRequest) (MergeResult, error) {
	_, result, err := g.mergeToTemp(req)
	return result, err
}

// MergeTaskBranchesToTemp merges all branches into a freshly created temp
// branch off mainBranch, leaving mainBranch untouched until FastForward is
// called (spec §4.C4 "main is only moved when the octopus succeeded
// entirely").
func (g *Git) MergeTaskBranchesToTemp(req MergeRequest) (string, MergeResult, error) {
	return g.mergeToTemp(req)
}

func (g *Git) mergeToTemp(req MergeRequest) (string, MergeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	temp := req.TempBranch
	if temp == "" {
		temp = fmt.Sprintf("mycelium/merge-temp-%d", g.clock().UnixNano())
	}
	if err := g.CheckoutOrCreateBranch(req.Repo, temp, req.MainBranch); err != nil {
		return "", MergeResult{}, err
	}

	var result MergeResult
	for _, br := range req.Branches {
		remoteName := "mycelium-merge-" + strconv.Itoa(int(g.clock().UnixNano()%1_000_000))
		if _, err := g.run(req.Repo, "remote", "add", remoteName, br.WorkspacePath); err != nil {
			result.Conflicts = append(result.Conflicts, Conflict{TaskID: br.TaskID, Branch: br.Name, Detail: "could not add remote: " + err.Error()})
			continue
		}
		cleanupRemote := func() { _, _ = g.run(req.Repo, "remote", "remove", remoteName) }

		if _, err := g.run(req.Repo, "fetch", remoteName, br.Name); err != nil {
			cleanupRemote()
			result.Conflicts = append(result.Conflicts, Conflict{TaskID: br.TaskID, Branch: br.Name, Detail: "fetch failed: " + err.Error()})
			continue
		}

		mergeOut, err := g.run(req.Repo, "merge", "--no-ff", "FETCH_HEAD", "-m", "merge "+br.Name)
		if err != nil || strings.Contains(mergeOut, "CONFLICT") {
			_, _ = g.run(req.Repo, "merge", "--abort")
			cleanupRemote()
			detail := mergeOut
			if detail == "" && err != nil {
				detail = err.Error()
			}
			result.Conflicts = append(result.Conflicts, Conflict{TaskID: br.TaskID, Branch: br.Name, Detail: detail})
			continue
		}
		cleanupRemote()
		result.Merged = append(result.Merged, br.TaskID)
	}

	if len(result.Merged) > 0 {
		sha, err := g.HeadSha(req.Repo, "HEAD")
		if err != nil {
			return temp, result, err
		}
		result.MergeCommit = sha
	}
	return temp, result, nil
}

// FastForward fast-forwards mainBranch to tempBranch's tip.
func (g *Git) FastForward(repo, mainBranch, tempBranch string) error {
	if err := g.Checkout(repo, mainBranch); err != nil {
		return err
	}
	if _, err := g.run(repo, "merge", "--ff-only", tempBranch); err != nil {
		return mycerrors.NewGit("merge --ff-only "+tempBranch, err, false)
	}
	return nil
}

// CreateWorktreeAtRevision creates a detached worktree at rev and returns a
// cleanup func that removes it and prunes stale registrations.
func (g *Git) CreateWorktreeAtRevision(repo, rev, worktreePath string) (func() error, error) {
	if _, err := g.run(repo, "worktree", "add", "--detach", worktreePath, rev); err != nil {
		return nil, mycerrors.NewGit("worktree add --detach "+rev, err, false)
	}
	cleanup := func() error { return g.RemoveWorktree(repo, worktreePath) }
	return cleanup, nil
}

// RemoveWorktree removes the worktree at worktreePath, pruning stale
// registrations on failure and retrying once.
func (g *Git) RemoveWorktree(repo, worktreePath string) error {
	if _, err := g.run(repo, "worktree", "remove", "--force", worktreePath); err != nil {
		_, _ = g.run(repo, "worktree", "prune")
		if _, err := g.run(repo, "worktree", "remove", "--force", worktreePath); err != nil {
			return mycerrors.NewGit("worktree remove "+worktreePath, err, false)
		}
	}
	return nil
}
