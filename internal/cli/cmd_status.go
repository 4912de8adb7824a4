package cli

import (
	"github.com/spf13/cobra"
)

var statusRunID string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a run's task status",
		Long: `Loads a run's state file and prints one row per task: its current
status, attempt count, and any human-review note.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, project, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)

			runID := statusRunID
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

			return ok(rs, func() {
				cmd.Printf("%s %s (%s)\n", heading("run:"), rs.RunID, rs.Status)
				printTaskTable(cmd, rs)
			})
		},
	}
	cmd.Flags().StringVar(&statusRunID, "run-id", "", "run id to inspect (default: latest run for this project)")
	return cmd
}
