package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mycelium-run/mycelium/internal/config"
	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default <home>/projects/<project>/config.yaml for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, project, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			path := p.ProjectConfig(project)

			if _, err := os.Stat(path); err == nil {
				return fail(mycerrors.NewConfigInvalid(path, "project is already initialized"))
			}

			cfg := config.Default()
			cfg.Project = project
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fail(err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fail(err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fail(err)
			}

			return ok(path, func() {
				cmd.Printf("%s %s\n", heading("wrote"), path)
			})
		},
	}
}
