package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mycelium-run/mycelium/internal/filelock"
)

// Store is the capability interface the run engine drives for durable
// RunState persistence; production code uses FileStore, tests substitute a
// fake (spec §9 "dynamic dispatch -> capability interfaces").
type Store interface {
	Load(project, runID string) (*RunState, error)
	Save(rs *RunState) error
	Exists(project, runID string) bool
	LatestRunID(project string) (string, error)
}

// Paths is the narrow slice of PathsContext the store needs, kept as an
// interface so this package doesn't import internal/paths directly and the
// engine can wire in the real one.
type Paths interface {
	RunStateFile(project, runID string) string
	RunStateLockFile(project, runID string) string
}

// FileStore is the Store implementation backed by one JSON file per run,
// guarded by an OS advisory lock so only one process writes at a time (spec
// §3, §4.C1).
type FileStore struct {
	paths Paths
}

// NewFileStore builds a FileStore rooted at paths.
func NewFileStore(paths Paths) *FileStore {
	return &FileStore{paths: paths}
}

// Load reads and decodes a run's state file. A missing or corrupt file
// surfaces as a single typed error carrying the "run resume or clean"
// recovery hint required by spec §4.C1.
func (s *FileStore) Load(project, runID string) (*RunState, error) {
	path := s.paths.RunStateFile(project, runID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newLoadError(path, err)
	}
	var rs RunState
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, newLoadError(path, err)
	}
	return &rs, nil
}

// Save atomically persists rs: write to a sibling temp file, fsync, then
// rename over the target (spec §4.C1 "write-to-temp, fsync, rename"). The
// write itself is serialized against other writers with an advisory flock
// on a sibling ".lock" file, never the state file itself, so readers can
// always open the JSON read-only without racing the rename.
func (s *FileStore) Save(rs *RunState) error {
	path := s.paths.RunStateFile(rs.Project, rs.RunID)
	lockPath := s.paths.RunStateLockFile(rs.Project, rs.RunID)

	lock, err := filelock.Acquire(lockPath)
	if err != nil {
		return fmt.Errorf("acquire run state lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create run state dir: %w", err)
	}

	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp run state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp run state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp run state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp run state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename run state file: %w", err)
	}
	return nil
}

// Exists reports whether a run state file has been written for project/runID.
func (s *FileStore) Exists(project, runID string) bool {
	_, err := os.Stat(s.paths.RunStateFile(project, runID))
	return err == nil
}

// LatestRunID returns the most recently modified run id for project, for
// `mycelium resume` without an explicit --run-id.
func (s *FileStore) LatestRunID(project string) (string, error) {
	dir := filepath.Dir(s.paths.RunStateFile(project, "x"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list run states for project %s: %w", project, err)
	}
	var bestName string
	var bestModTime int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); mt > bestModTime {
			bestModTime = mt
			bestName = e.Name()
		}
	}
	if bestName == "" {
		return "", fmt.Errorf("no runs found for project %s", project)
	}
	return bestName[:len(bestName)-len(".json")], nil
}

func newLoadError(path string, cause error) error {
	return &LoadError{Path: path, Cause: cause}
}

// LoadError is the single typed error a failed resume load surfaces (spec
// §4.C1: "surface as a single, typed error with the recovery hint
// 'run resume or clean'").
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load run state %s: %v (run resume or clean)", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }
