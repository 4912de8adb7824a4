package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var stopRunID string

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Request a running run to pause",
		Long: `Writes the run's stop-request sentinel. The run engine's main loop
polls for this file once per batch and pauses the run cleanly at the next
opportunity (spec §4.C10 "operator stop"); it does not kill anything
in-flight.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, project, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)

			runID := stopRunID
			if runID == "" {
				runID, err = latestRunID(p, project)
				if err != nil {
					return fail(err)
				}
			}

			path := p.StopRequestFile(project, runID)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fail(err)
			}
			if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
				return fail(err)
			}

			return ok(runID, func() {
				cmd.Printf("%s %s\n", heading("stop requested:"), runID)
			})
		},
	}
	cmd.Flags().StringVar(&stopRunID, "run-id", "", "run id to stop (default: latest run for this project)")
	return cmd
}
