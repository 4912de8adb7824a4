// Package cli implements the mycelium command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	repoPath    string
	projectName string
	homeDir     string
	jsonOut     bool
	plain       bool
)

// Command group IDs.
const (
	groupCore         = "core"
	groupInspection   = "inspect"
	groupControlPlane = "controlplane"
)

var rootCmd = &cobra.Command{
	Use:   "mycelium",
	Short: "Parallel task orchestrator for Claude Code workers",
	Long: `mycelium runs a batch of declarative task manifests against a git
repository, each in its own branch and container, gated by manifest
compliance, validators, and a project doctor command.

Quick start:
  mycelium init               Write a default project config.yaml
  mycelium plan                Discover and validate task manifests
  mycelium run                 Start a run
  mycelium status               Show the current run's progress
  mycelium resume               Resume a paused or crashed run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "path to the git repository")
	rootCmd.PersistentFlags().StringVar(&projectName, "project", "", "project name (default: repo directory name)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "mycelium home directory (default: $MYCELIUM_HOME or <repo>/.mycelium)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit a single JSON result envelope instead of human-readable output")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "disable color output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupInspection, Title: "Inspection:"},
		&cobra.Group{ID: groupControlPlane, Title: "Control Plane:"},
	)

	addCmd(newInitCmd(), groupCore)
	addCmd(newPlanCmd(), groupCore)
	addCmd(newRunCmd(), groupCore)
	addCmd(newResumeCmd(), groupCore)
	addCmd(newStopCmd(), groupCore)
	addCmd(newCleanCmd(), groupCore)

	addCmd(newStatusCmd(), groupInspection)

	addCmd(newCgCmd(), groupControlPlane)
}

func addCmd(cmd *cobra.Command, groupID string) {
	cmd.GroupID = groupID
	rootCmd.AddCommand(cmd)
}
