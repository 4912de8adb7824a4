package task

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

// modernDirs are the subtrees of a modern-layout tasks root, in the order
// they're scanned. "backlog" and "active" hold live tasks; "archive" holds
// completed ones that are only consulted when a task id isn't found live.
var modernDirs = []string{"backlog", "active"}

const archiveDir = "archive"

// Index is the merged view of every discoverable task manifest, live tasks
// taking precedence over archived ones with the same id (spec §4.C2).
type Index struct {
	byID map[string]*Manifest
}

// Manifest looks up a parsed manifest by id.
func (idx *Index) Manifest(id string) (*Manifest, bool) {
	m, ok := idx.byID[id]
	return m, ok
}

// IDs returns every discovered task id, naturally sorted.
func (idx *Index) IDs() []string {
	ids := make([]string, 0, len(idx.byID))
	for id := range idx.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return LessNatural(ids[i], ids[j]) })
	return ids
}

// Len reports the number of discovered tasks.
func (idx *Index) Len() int { return len(idx.byID) }

// BuildIndex discovers task manifests under root, supporting both the modern
// backlog|active|archive tree and a legacy flat directory of task folders.
// Both layouts are probed unconditionally since spec §4.C2 requires either to
// work without configuration; a root with neither is simply an empty index.
func BuildIndex(root string) (*Index, error) {
	idx := &Index{byID: make(map[string]*Manifest)}

	for _, dir := range modernDirs {
		if err := loadManifestsUnder(filepath.Join(root, dir), idx.byID, true); err != nil {
			return nil, err
		}
	}
	// Legacy flat layout: task folders live directly under root. Skip any
	// entry that matches a modern-layout directory name to avoid double scans.
	if err := loadManifestsUnder(root, idx.byID, true); err != nil {
		return nil, err
	}
	// Archive is scanned last and never overwrites a live id.
	if err := loadManifestsUnder(filepath.Join(root, archiveDir), idx.byID, false); err != nil {
		return nil, err
	}
	return idx, nil
}

func loadManifestsUnder(dir string, out map[string]*Manifest, overwrite bool) error {
	matches, err := doublestar.FilepathGlob(filepath.Join(filepath.ToSlash(dir), "**", "manifest.json"))
	if err != nil {
		return mycerrors.Wrap(mycerrors.CodeTaskInvalid, "scanning for task manifests failed", err)
	}
	for _, path := range matches {
		if skipReservedDir(dir, path) {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return mycerrors.Wrap(mycerrors.CodeTaskInvalid, "reading manifest "+path+" failed", err)
		}
		m, err := ValidateManifestJSON(raw)
		if err != nil {
			return err
		}
		if _, exists := out[m.ID]; exists && !overwrite {
			continue
		}
		out[m.ID] = m
	}
	return nil
}

// skipReservedDir drops manifests that live under backlog/active/archive
// when scanning the legacy flat root, since those are handled by their own
// dedicated pass.
func skipReservedDir(scanRoot, manifestPath string) bool {
	rel, err := filepath.Rel(scanRoot, manifestPath)
	if err != nil {
		return false
	}
	first := rel
	if idx := indexOfSeparator(rel); idx >= 0 {
		first = rel[:idx]
	}
	for _, d := range modernDirs {
		if first == d {
			return true
		}
	}
	return first == archiveDir
}

func indexOfSeparator(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == filepath.Separator {
			return i
		}
	}
	return -1
}
