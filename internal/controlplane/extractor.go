package controlplane

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileExtractor is the default Extractor (spec §1 "code graph extraction
// passes" are named as an external collaborator; no code-graph library
// exists anywhere in the retrieved pack, so this package reads the repo
// itself with go/parser, the standard library's own AST reader — there is
// no third-party substitute for parsing Go source into an AST). It builds
// one Component per package directory at any depth, Edges from import
// statements between components it recognizes, and a Symbols table of
// every exported top-level declaration with a naive textual cross-reference
// pass, good enough to drive `cg symbols`/`cg blast` without a real
// call-graph.
type FileExtractor struct {
	// ModulePath is the repo's go.mod module path (e.g.
	// "github.com/mycelium-run/mycelium"), used to recognize which imports
	// are internal and map them back to a component directory.
	ModulePath string
	// SkipDirs names directory basenames never walked into (vendor, .git,
	// the read-only example pack, etc).
	SkipDirs []string
}

// NewFileExtractor builds a FileExtractor, reading modulePath from
// repo/go.mod if modulePath is empty.
func NewFileExtractor(modulePath string) *FileExtractor {
	return &FileExtractor{
		ModulePath: modulePath,
		SkipDirs:   []string{".git", "_examples", "vendor", "node_modules"},
	}
}

// Extract implements Extractor (spec §4.C7). sha is recorded on the
// returned Model by the caller (Store.BuildOrGet); Extract itself only
// needs repo, the checked-out worktree path to read from.
func (x *FileExtractor) Extract(repo, sha string) (*Model, error) {
	modulePath := x.ModulePath
	if modulePath == "" {
		modulePath = readModulePath(repo)
	}

	pkgs, err := x.collectPackages(repo)
	if err != nil {
		return nil, err
	}

	components := make([]Component, 0, len(pkgs))
	for _, dir := range sortedKeys(pkgs) {
		components = append(components, Component{
			ID:             dir,
			OwnershipRoots: []string{dir + "/"},
		})
	}

	edges := x.collectEdges(repo, modulePath, pkgs)
	symbols := x.collectSymbols(repo, pkgs)

	return &Model{
		Components: components,
		Edges:      edges,
		Symbols:    symbols,
	}, nil
}

// collectPackages walks repo and groups .go files by their containing
// directory, relative to repo.
func (x *FileExtractor) collectPackages(repo string) (map[string][]string, error) {
	pkgs := make(map[string][]string)
	err := filepath.WalkDir(repo, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if x.skip(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(repo, path)
		if err != nil {
			return nil
		}
		dir := filepath.ToSlash(filepath.Dir(rel))
		pkgs[dir] = append(pkgs[dir], rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pkgs, nil
}

func (x *FileExtractor) skip(name string) bool {
	for _, s := range x.SkipDirs {
		if name == s {
			return true
		}
	}
	return false
}

// collectEdges parses each file's import block and records a high-
// confidence edge whenever the imported path resolves to another component
// directory under modulePath.
func (x *FileExtractor) collectEdges(repo, modulePath string, pkgs map[string][]string) []Edge {
	var edges []Edge
	fset := token.NewFileSet()
	for dir, files := range pkgs {
		for _, rel := range files {
			f, err := parser.ParseFile(fset, filepath.Join(repo, rel), nil, parser.ImportsOnly)
			if err != nil {
				continue
			}
			for _, imp := range f.Imports {
				path := strings.Trim(imp.Path.Value, `"`)
				if modulePath == "" || !strings.HasPrefix(path, modulePath) {
					continue
				}
				target := strings.TrimPrefix(strings.TrimPrefix(path, modulePath), "/")
				if _, ok := pkgs[target]; ok && target != dir {
					edges = append(edges, Edge{From: dir, To: target, Kind: "import", Confidence: ConfidenceHigh})
				}
			}
		}
	}
	return DedupeEdges(edges)
}

// collectSymbols records every exported top-level declaration plus a naive
// textual cross-reference scan for its references in other files.
func (x *FileExtractor) collectSymbols(repo string, pkgs map[string][]string) []Symbol {
	fset := token.NewFileSet()
	var symbols []Symbol
	allFiles := make(map[string][]byte)

	for dir, files := range pkgs {
		for _, rel := range files {
			full := filepath.Join(repo, rel)
			src, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			allFiles[rel] = src

			f, err := parser.ParseFile(fset, full, src, parser.ParseComments)
			if err != nil {
				continue
			}
			for _, decl := range f.Decls {
				symbols = append(symbols, declSymbols(fset, decl, rel, dir)...)
			}
		}
	}

	for i := range symbols {
		symbols[i].RefFiles = referencingFiles(symbols[i], allFiles)
	}
	return symbols
}

func declSymbols(fset *token.FileSet, decl ast.Decl, file, component string) []Symbol {
	var out []Symbol
	switch d := decl.(type) {
	case *ast.FuncDecl:
		if d.Name.IsExported() {
			kind := "func"
			if d.Recv != nil {
				kind = "method"
			}
			out = append(out, Symbol{Name: d.Name.Name, Kind: kind, File: file, Line: fset.Position(d.Pos()).Line, Component: component})
		}
	case *ast.GenDecl:
		for _, spec := range d.Specs {
			switch s := spec.(type) {
			case *ast.TypeSpec:
				if s.Name.IsExported() {
					out = append(out, Symbol{Name: s.Name.Name, Kind: "type", File: file, Line: fset.Position(s.Pos()).Line, Component: component})
				}
			case *ast.ValueSpec:
				kind := "var"
				if d.Tok == token.CONST {
					kind = "const"
				}
				for _, name := range s.Names {
					if name.IsExported() {
						out = append(out, Symbol{Name: name.Name, Kind: kind, File: file, Line: fset.Position(name.Pos()).Line, Component: component})
					}
				}
			}
		}
	}
	return out
}

// referencingFiles scans every file's raw source for textual occurrences of
// sym.Name, excluding its own definition file. This is a cheap heuristic,
// not a real reference resolver: a plain string match can false-positive on
// unrelated identifiers sharing a name in a different package, which is why
// blast-radius confidence never exceeds what the import-edge graph already
// established.
func referencingFiles(sym Symbol, files map[string][]byte) []string {
	var refs []string
	for file, src := range files {
		if file == sym.File {
			continue
		}
		if containsWord(src, sym.Name) {
			refs = append(refs, file)
		}
	}
	sort.Strings(refs)
	return refs
}

func containsWord(src []byte, word string) bool {
	s := string(src)
	idx := 0
	for {
		pos := strings.Index(s[idx:], word)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isIdentByte(s[pos-1])
		after := pos+len(word) >= len(s) || !isIdentByte(s[pos+len(word)])
		if before && after {
			return true
		}
		idx = pos + len(word)
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func readModulePath(repo string) string {
	data, err := os.ReadFile(filepath.Join(repo, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module"))
		}
	}
	return ""
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
