// Package ledger maintains the project-wide cross-run memory of completed
// tasks (spec §4.C11): a fingerprint of each task's manifest + merge commit,
// used to short-circuit re-execution across different runs.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/mycelium-run/mycelium/internal/task"
)

// SchemaVersion is the ledger.json format version.
const SchemaVersion = 1

// Entry is one completed task's durable record (spec §3 Ledger.tasks).
type Entry struct {
	Status                  string    `json:"status"`
	Fingerprint             string    `json:"fingerprint"`
	MergeCommit             string    `json:"merge_commit"`
	IntegrationDoctorPassed bool      `json:"integration_doctor_passed"`
	CompletedAt             time.Time `json:"completed_at"`
	RunID                   string    `json:"run_id"`
}

// Ledger is the decoded ledger.json contents.
type Ledger struct {
	SchemaVersion int              `json:"schema_version"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Tasks         map[string]Entry `json:"tasks"`
}

// Fingerprint computes sha256(manifestCanonical + mergeCommit) (spec §4.C11).
// manifestCanonical is a deterministic JSON encoding of m so that
// semantically-identical manifests always hash the same regardless of map
// iteration order.
func Fingerprint(m *task.Manifest, mergeCommit string) string {
	canon := canonicalManifestJSON(m)
	h := sha256.New()
	h.Write(canon)
	h.Write([]byte(mergeCommit))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalManifestJSON re-marshals m through a map so json.Marshal's
// alphabetical key ordering makes the encoding stable across Go versions'
// struct-field iteration, matching the teacher's HashContent idiom
// (sha256+hex over a canonical encoding).
func canonicalManifestJSON(m *task.Manifest) []byte {
	raw, _ := json.Marshal(m)
	var generic map[string]any
	_ = json.Unmarshal(raw, &generic)
	canon, _ := json.Marshal(generic)
	return canon
}

// Store persists the project-wide ledger.json (spec §4.C11 "written
// atomically after a task's merge commit lands on main").
type Store struct {
	path string
}

// NewStore builds a Store rooted at path (paths.PathsContext.Ledger()).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the ledger, returning an empty one if the file doesn't exist yet.
func (s *Store) Load() (*Ledger, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Ledger{SchemaVersion: SchemaVersion, Tasks: make(map[string]Entry)}, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", s.path, err)
	}
	var l Ledger
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", s.path, err)
	}
	if l.Tasks == nil {
		l.Tasks = make(map[string]Entry)
	}
	return &l, nil
}

// Record upserts taskID's entry and atomically persists the ledger.
func (s *Store) Record(taskID string, entry Entry) error {
	l, err := s.Load()
	if err != nil {
		return err
	}
	l.Tasks[taskID] = entry
	l.SchemaVersion = SchemaVersion
	l.UpdatedAt = time.Now().UTC()
	return s.save(l)
}

func (s *Store) save(l *Ledger) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	tmp := s.path + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}

// ShortCircuit reports whether taskID can skip re-execution: its ledger
// fingerprint matches fingerprint and its prior run already passed the
// integration doctor (spec §4.C11 "used to short-circuit re-execution
// across different runs").
func (l *Ledger) ShortCircuit(taskID, fingerprint string) (Entry, bool) {
	e, ok := l.Tasks[taskID]
	if !ok || e.Fingerprint != fingerprint || !e.IntegrationDoctorPassed {
		return Entry{}, false
	}
	return e, true
}

// CompletedTaskIDs returns every task id recorded as complete, naturally sorted.
func (l *Ledger) CompletedTaskIDs() []string {
	ids := make([]string, 0, len(l.Tasks))
	for id, e := range l.Tasks {
		if e.Status == "complete" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return task.LessNatural(ids[i], ids[j]) })
	return ids
}
