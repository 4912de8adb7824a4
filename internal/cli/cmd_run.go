package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mycelium-run/mycelium/internal/engine"
	"github.com/mycelium-run/mycelium/internal/task"
)

var (
	runTasksDir      string
	runMaxParallel   int
	runTasks         []string
	runReuseComplete bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new run",
		Long: `Discovers task manifests under the tasks directory and drives them
through the run engine to completion, pause (Ctrl-C or 'mycelium stop'), or
failure.`,
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

			idx, err := task.BuildIndex(filepath.Join(repo, runTasksDir))
			if err != nil {
				return fail(err)
			}
			manifests := make([]*task.Manifest, 0, idx.Len())
			for _, id := range idx.IDs() {
				m, _ := idx.Manifest(id)
				manifests = append(manifests, m)
			}

			runID := engine.NewRunID()
			deps, err := buildEngine(p, cfg, repo, project, runID)
			if err != nil {
				return fail(err)
			}
			defer deps.Close()

			ctx, cancel := setupSignalContext()
			defer cancel()

			maxParallel := runMaxParallel
			if maxParallel <= 0 {
				maxParallel = cfg.MaxParallel
			}

			stopProgress := watchBatchProgress(deps.publisher, len(manifests))
			defer stopProgress()

			rs, err := deps.eng.Start(ctx, engine.RunOptions{
				Project:        project,
				RunID:          runID,
				Repo:           repo,
				MainBranch:     cfg.MainBranch,
				MaxParallel:    maxParallel,
				Manifests:      manifests,
				Tasks:          runTasks,
				ReuseCompleted: runReuseComplete,
			})
			if err != nil {
				return fail(err)
			}

			return ok(rs, func() {
				cmd.Printf("%s %s (%s)\n", heading("run:"), rs.RunID, rs.Status)
				printTaskTable(cmd, rs)
			})
		},
	}
	cmd.Flags().StringVar(&runTasksDir, "tasks-dir", "tasks", "tasks directory, relative to --repo")
	cmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "override config's max_parallel")
	cmd.Flags().StringSliceVar(&runTasks, "tasks", nil, "restrict the run to this comma-separated set of task ids")
	cmd.Flags().BoolVar(&runReuseComplete, "reuse-completed", true, "skip re-executing tasks the ledger already recorded complete with a matching fingerprint; --reuse-completed=false forces re-execution")
	return cmd
}
