package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mycelium-run/mycelium/internal/task"
)

var planTasksDir string

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Discover and validate task manifests",
		Long: `Scans the tasks directory for manifest.json files (backlog/active/archive
or a flat legacy layout), validates each against the manifest schema, and
prints the discovered task ids in dependency-friendly natural order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			idx, err := task.BuildIndex(filepath.Join(repo, planTasksDir))
			if err != nil {
				return fail(err)
			}

			ids := idx.IDs()
			return ok(ids, func() {
				cmd.Println(heading("discovered tasks:"))
				for _, id := range ids {
					m, _ := idx.Manifest(id)
					cmd.Printf("  %s\t%s\n", id, m.Name)
				}
				cmd.Printf("%d tasks\n", idx.Len())
			})
		},
	}
	cmd.Flags().StringVar(&planTasksDir, "tasks-dir", "tasks", "tasks directory, relative to --repo")
	return cmd
}
