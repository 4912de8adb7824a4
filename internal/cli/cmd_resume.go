package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mycelium-run/mycelium/internal/task"
)

var (
	resumeRunID    string
	resumeTasksDir string
	resumeMaxPar   int
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused or crashed run",
		Long: `Lifts a paused run back to running, reattaching any still-live task
containers and resetting stale in-flight tasks before continuing the main
loop (spec "Resume lifts paused -> running").`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, project, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			cfg, err := loadConfig(p, project)
			if err != nil {
				return fail(err)
			}

			runID := resumeRunID
			if runID == "" {
				runID, err = latestRunID(p, project)
				if err != nil {
					return fail(err)
				}
			}

			idx, err := task.BuildIndex(filepath.Join(repo, resumeTasksDir))
			if err != nil {
				return fail(err)
			}
			manifests := make([]*task.Manifest, 0, idx.Len())
			for _, id := range idx.IDs() {
				m, _ := idx.Manifest(id)
				manifests = append(manifests, m)
			}

			deps, err := buildEngine(p, cfg, repo, project, runID)
			if err != nil {
				return fail(err)
			}
			defer deps.Close()

			ctx, cancel := setupSignalContext()
			defer cancel()

			maxParallel := resumeMaxPar
			if maxParallel <= 0 {
				maxParallel = cfg.MaxParallel
			}

			stopProgress := watchBatchProgress(deps.publisher, len(manifests))
			defer stopProgress()

			rs, err := deps.eng.Resume(ctx, project, runID, manifests, maxParallel)
			if err != nil {
				return fail(err)
			}

			return ok(rs, func() {
				cmd.Printf("%s %s (%s)\n", heading("resumed:"), rs.RunID, rs.Status)
				printTaskTable(cmd, rs)
			})
		},
	}
	cmd.Flags().StringVar(&resumeRunID, "run-id", "", "run id to resume (default: latest run for this project)")
	cmd.Flags().StringVar(&resumeTasksDir, "tasks-dir", "tasks", "tasks directory, relative to --repo")
	cmd.Flags().IntVar(&resumeMaxPar, "max-parallel", 0, "override config's max_parallel")
	return cmd
}
