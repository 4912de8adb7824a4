package controlplane

import (
	"os"
	"strings"
)

// FindSymbols returns every symbol whose name contains query (case
// insensitive), for `cg search` (spec §4.C7 "Symbols").
func FindSymbols(m *Model, query string) []Symbol {
	query = strings.ToLower(query)
	var out []Symbol
	for _, s := range m.Symbols {
		if strings.Contains(strings.ToLower(s.Name), query) {
			out = append(out, s)
		}
	}
	return out
}

// DefSymbol returns the (at most one, by convention) definition site for an
// exact symbol name, for `cg symbols def`.
func DefSymbol(m *Model, name string) (Symbol, bool) {
	for _, s := range m.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// RefSymbols returns the files referencing an exact symbol name, for
// `cg symbols refs`. ok is false when the symbol itself isn't known; the CLI
// reports that as a TASK_ERROR "symbol not found", and there is no separate
// SYMBOL_REFS_UNAVAILABLE error code.
func RefSymbols(m *Model, name string) (files []string, ok bool) {
	s, found := DefSymbol(m, name)
	if !found {
		return nil, false
	}
	return s.RefFiles, true
}

// Snippet loads a definition's surrounding source lines from the live file
// tree rooted at repoDir (spec §4.C7 "optional snippet loading from the live
// file tree"). context is the number of lines before/after s.Line to
// include. Returns ("", false) if the file can't be read or the line is out
// of range.
func Snippet(repoDir string, s Symbol, context int) (string, bool) {
	if s.File == "" || s.Line <= 0 {
		return "", false
	}
	raw, err := os.ReadFile(joinRepoPath(repoDir, s.File))
	if err != nil {
		return "", false
	}
	lines := strings.Split(string(raw), "\n")
	idx := s.Line - 1
	if idx < 0 || idx >= len(lines) {
		return "", false
	}
	start := idx - context
	if start < 0 {
		start = 0
	}
	end := idx + context + 1
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n"), true
}

func joinRepoPath(repoDir, relFile string) string {
	if repoDir == "" {
		return relFile
	}
	return strings.TrimSuffix(repoDir, "/") + "/" + strings.TrimPrefix(relFile, "/")
}
