package controlplane

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFixtureModule builds a two-package module under dir:
//
//	alpha/alpha.go   defines exported Greet, imports beta
//	beta/beta.go     defines exported Name, referenced from alpha.go
//	beta/beta_test.go (excluded from extraction)
func writeFixtureModule(t *testing.T, dir, modulePath string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module "+modulePath+"\n\ngo 1.24.0\n"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "alpha"), 0o755))
	alpha := `package alpha

import "` + modulePath + `/beta"

// Greet returns a greeting using beta.Name.
func Greet() string {
	return "hello " + beta.Name()
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha", "alpha.go"), []byte(alpha), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "beta"), 0o755))
	beta := `package beta

// Name returns a constant name.
func Name() string {
	return "beta"
}

// MaxRetries bounds beta's internal retry loop.
const MaxRetries = 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta", "beta.go"), []byte(beta), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta", "beta_test.go"), []byte("package beta\n"), 0o644))
}

func TestFileExtractor_Extract_ComponentsAndEdges(t *testing.T) {
	dir := t.TempDir()
	writeFixtureModule(t, dir, "example.com/fixture")

	x := NewFileExtractor("")
	m, err := x.Extract(dir, "deadbeef")
	require.NoError(t, err)

	require.Len(t, m.Components, 2)
	var ids []string
	for _, c := range m.Components {
		ids = append(ids, c.ID)
	}
	require.Contains(t, ids, "alpha")
	require.Contains(t, ids, "beta")

	require.Len(t, m.Edges, 1)
	require.Equal(t, "alpha", m.Edges[0].From)
	require.Equal(t, "beta", m.Edges[0].To)
	require.Equal(t, ConfidenceHigh, m.Edges[0].Confidence)
}

func TestFileExtractor_Extract_Symbols(t *testing.T) {
	dir := t.TempDir()
	writeFixtureModule(t, dir, "example.com/fixture")

	x := NewFileExtractor("")
	m, err := x.Extract(dir, "deadbeef")
	require.NoError(t, err)

	byName := map[string]Symbol{}
	for _, s := range m.Symbols {
		byName[s.Name] = s
	}

	greet, ok := byName["Greet"]
	require.True(t, ok)
	require.Equal(t, "func", greet.Kind)
	require.Equal(t, "alpha", greet.Component)

	name, ok := byName["Name"]
	require.True(t, ok)
	require.Equal(t, "func", name.Kind)
	require.Contains(t, name.RefFiles, "alpha/alpha.go")

	maxRetries, ok := byName["MaxRetries"]
	require.True(t, ok)
	require.Equal(t, "const", maxRetries.Kind)
}

func TestFileExtractor_Extract_SkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixtureModule(t, dir, "example.com/fixture")

	x := NewFileExtractor("")
	m, err := x.Extract(dir, "deadbeef")
	require.NoError(t, err)

	for _, s := range m.Symbols {
		require.NotContains(t, s.File, "_test.go")
	}
}

func TestFileExtractor_Extract_SkipsConfiguredDirs(t *testing.T) {
	dir := t.TempDir()
	writeFixtureModule(t, dir, "example.com/fixture")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor", "ignored"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor", "ignored", "ignored.go"), []byte("package ignored\n"), 0o644))

	x := NewFileExtractor("")
	m, err := x.Extract(dir, "deadbeef")
	require.NoError(t, err)

	for _, c := range m.Components {
		require.NotEqual(t, "vendor/ignored", c.ID)
	}
}

func TestFileExtractor_Extract_ExplicitModulePathOverridesGoMod(t *testing.T) {
	dir := t.TempDir()
	writeFixtureModule(t, dir, "example.com/fixture")

	x := NewFileExtractor("example.com/fixture")
	m, err := x.Extract(dir, "deadbeef")
	require.NoError(t, err)
	require.Len(t, m.Edges, 1)
}

func TestDedupeEdges_KeepsHighestConfidence(t *testing.T) {
	edges := []Edge{
		{From: "a", To: "b", Kind: "import", Confidence: ConfidenceLow},
		{From: "a", To: "b", Kind: "import", Confidence: ConfidenceHigh},
		{From: "a", To: "c", Kind: "import", Confidence: ConfidenceMedium},
	}
	out := DedupeEdges(edges)
	require.Len(t, out, 2)
	for _, e := range out {
		if e.From == "a" && e.To == "b" {
			require.Equal(t, ConfidenceHigh, e.Confidence)
		}
	}
}
