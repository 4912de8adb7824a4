package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"

	"github.com/mycelium-run/mycelium/internal/controlplane"
	"github.com/mycelium-run/mycelium/internal/paths"
	"github.com/mycelium-run/mycelium/internal/vcs"
)

var cpSha string

// newCgCmd builds the "cg" (control-plane/component-graph) command tree:
// build, search, deps, rdeps, blast, symbols (spec §4.C7). The tree has no
// policy subcommand.
func newCgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cg",
		Aliases: []string{"cp"},
		Short:   "Inspect the control-plane component graph",
	}
	cmd.PersistentFlags().StringVar(&cpSha, "sha", "", "commit sha to inspect (default: current HEAD)")

	cmd.AddCommand(newCgBuildCmd())
	cmd.AddCommand(newCgSearchCmd())
	cmd.AddCommand(newCgDepsCmd(false))
	cmd.AddCommand(newCgDepsCmd(true))
	cmd.AddCommand(newCgBlastCmd())
	cmd.AddCommand(newCgSymbolsCmd())
	return cmd
}

func resolveSha(repo string) (string, error) {
	if cpSha != "" {
		return cpSha, nil
	}
	v := vcs.New(vcs.NewExecRunner())
	return v.HeadSha(repo, "HEAD")
}

func cpStore(p *paths.PathsContext) *controlplane.Store {
	return controlplane.NewStore(p, controlplane.NewFileExtractor(""))
}

func errSymbolNotFound(name string) error {
	return &mycerrors.MyceliumError{
		Code: mycerrors.CodeTaskInvalid,
		What: fmt.Sprintf("symbol %q not found", name),
	}
}

func newCgBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build (or fetch the cached) model for a commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			sha, err := resolveSha(repo)
			if err != nil {
				return fail(err)
			}
			m, err := cpStore(p).BuildOrGet(repo, sha)
			if err != nil {
				return fail(err)
			}
			return ok(m, func() {
				cmd.Printf("%s %s\n", heading("model built:"), m.Sha)
				cmd.Printf("%d components, %d edges, %d symbols\n", len(m.Components), len(m.Edges), len(m.Symbols))
			})
		},
	}
}

func newCgSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search symbol names (find)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			sha, err := resolveSha(repo)
			if err != nil {
				return fail(err)
			}
			m, err := cpStore(p).BuildOrGet(repo, sha)
			if err != nil {
				return fail(err)
			}
			matches := controlplane.FindSymbols(m, args[0])
			return ok(matches, func() {
				for _, s := range matches {
					cmd.Printf("%s\t%s\t%s:%d\n", s.Kind, s.Name, s.File, s.Line)
				}
			})
		},
	}
}

func newCgDepsCmd(reverse bool) *cobra.Command {
	use, short := "deps <component>", "List a component's forward dependencies"
	if reverse {
		use, short = "rdeps <component>", "List a component's dependents"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			sha, err := resolveSha(repo)
			if err != nil {
				return fail(err)
			}
			m, err := cpStore(p).BuildOrGet(repo, sha)
			if err != nil {
				return fail(err)
			}
			target := args[0]
			var out []string
			for _, e := range m.Edges {
				if reverse && e.To == target {
					out = append(out, e.From)
				} else if !reverse && e.From == target {
					out = append(out, e.To)
				}
			}
			sort.Strings(out)
			return ok(out, func() {
				for _, c := range out {
					cmd.Println(c)
				}
			})
		},
	}
}

func newCgBlastCmd() *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "blast",
		Short: "Compute the blast radius of changed files since base",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			sha, err := resolveSha(repo)
			if err != nil {
				return fail(err)
			}
			m, err := cpStore(p).BuildOrGet(repo, sha)
			if err != nil {
				return fail(err)
			}
			v := vcs.New(vcs.NewExecRunner())
			if base == "" {
				base = "HEAD"
			}
			changed, err := v.ListChangedFiles(repo, base)
			if err != nil {
				return fail(err)
			}
			br := controlplane.ComputeBlastRadius(m, changed)
			return ok(br, func() {
				cmd.Printf("%s\n", heading("impacted components:"))
				for _, c := range br.ImpactedComponents {
					cmd.Println("  " + c)
				}
				if len(br.WideningReasons) > 0 {
					cmd.Printf("widened: %v\n", br.WideningReasons)
				}
			})
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "base ref to diff against (default: HEAD)")
	return cmd
}

func newCgSymbolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Look up symbol definitions and references",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "def <name>",
		Short: "Show a symbol's definition site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			sha, err := resolveSha(repo)
			if err != nil {
				return fail(err)
			}
			m, err := cpStore(p).BuildOrGet(repo, sha)
			if err != nil {
				return fail(err)
			}
			sym, found := controlplane.DefSymbol(m, args[0])
			if !found {
				return fail(errSymbolNotFound(args[0]))
			}
			return ok(sym, func() {
				cmd.Printf("%s\t%s:%d\n", sym.Kind, sym.File, sym.Line)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "refs <name>",
		Short: "List files referencing a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := resolveProject()
			if err != nil {
				return fail(err)
			}
			p := resolvePaths(repo)
			sha, err := resolveSha(repo)
			if err != nil {
				return fail(err)
			}
			m, err := cpStore(p).BuildOrGet(repo, sha)
			if err != nil {
				return fail(err)
			}
			files, found := controlplane.RefSymbols(m, args[0])
			if !found {
				return fail(errSymbolNotFound(args[0]))
			}
			return ok(files, func() {
				for _, f := range files {
					cmd.Println(f)
				}
			})
		},
	})
	return cmd
}
