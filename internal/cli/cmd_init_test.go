package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mycelium-run/mycelium/internal/config"
)

// withProjectFlags points the package-level flag globals at a throwaway repo
// for the duration of a test, restoring the previous values on cleanup.
func withProjectFlags(t *testing.T, repo, project, home string) {
	t.Helper()
	prevRepo, prevProject, prevHome := repoPath, projectName, homeDir
	repoPath, projectName, homeDir = repo, project, home
	t.Cleanup(func() {
		repoPath, projectName, homeDir = prevRepo, prevProject, prevHome
	})
}

func TestInitCmd_WritesDefaultConfig(t *testing.T) {
	repo := t.TempDir()
	withProjectFlags(t, repo, "demo", filepath.Join(repo, ".mycelium"))

	cmd := newInitCmd()
	require.NoError(t, cmd.RunE(cmd, nil))

	p := resolvePaths(repo)
	path := p.ProjectConfig("demo")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	require.Equal(t, "demo", cfg.Project)
	require.Equal(t, 4, cfg.MaxParallel)
}

func TestInitCmd_FailsWhenAlreadyInitialized(t *testing.T) {
	repo := t.TempDir()
	withProjectFlags(t, repo, "demo", filepath.Join(repo, ".mycelium"))

	first := newInitCmd()
	require.NoError(t, first.RunE(first, nil))

	second := newInitCmd()
	err := second.RunE(second, nil)
	require.Error(t, err)
}
