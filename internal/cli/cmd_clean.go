package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
	"github.com/mycelium-run/mycelium/internal/vcs"
	"github.com/mycelium-run/mycelium/internal/workspace"
)

var cleanRunID string

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove a completed run's worktrees, logs, and state",
		Long: `Removes the run's task workspaces directory (deleted from disk; the
repository's git worktree registrations are not removed), its log
directory, and its run-state file. Refuses to run against anything still
running or paused; stop the run first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, project, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)

			runID := cleanRunID
			if runID == "" {
				runID, err = latestRunID(p, project)
				if err != nil {
					return fail(err)
				}
			}

			rs, err := newRunStateStore(p).Load(project, runID)
			if err != nil {
				return fail(err)
			}
			if rs.Status == "running" || rs.Status == "paused" {
				return fail(&mycerrors.MyceliumError{
					Code: mycerrors.CodeTaskInvalid,
					What: fmt.Sprintf("run %s is still %s", rs.RunID, rs.Status),
					Fix:  "stop the run first with `mycelium stop`",
				})
			}

			v := vcs.New(vcs.NewExecRunner())
			ws := workspace.New(p, repo, v)
			if err := ws.RemoveRun(project, runID); err != nil {
				return fail(err)
			}
			if err := os.RemoveAll(p.LogsBase(project, runID)); err != nil {
				return fail(err)
			}
			if err := os.Remove(p.RunStateFile(project, runID)); err != nil && !os.IsNotExist(err) {
				return fail(err)
			}

			return ok(runID, func() {
				cmd.Printf("%s %s\n", heading("cleaned:"), runID)
			})
		},
	}
	cmd.Flags().StringVar(&cleanRunID, "run-id", "", "run id to clean (default: latest run for this project)")
	return cmd
}
