package controlplane

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mycelium-run/mycelium/internal/filelock"
)

// ExtractorVersion is bumped whenever the (out-of-scope) extraction passes
// change their output shape; a cached model built by an older version is
// never reused (spec §4.C7 "each extractor version match the current
// binary's").
const ExtractorVersion = "1"

// SchemaVersion is the Model/Metadata json shape version.
const SchemaVersion = 1

// Extractor is the narrow, out-of-scope capability this package consumes to
// build a fresh Model when no compatible cached one exists (spec §1 "code
// graph extraction passes" are an external collaborator). Production wiring
// supplies a real extractor; tests supply a fake that returns a canned Model.
type Extractor interface {
	Extract(repo, sha string) (*Model, error)
}

// Paths is the narrow slice of PathsContext this package needs.
type Paths interface {
	ControlPlaneModelFile(sha string) string
	ControlPlaneMetadataFile(sha string) string
	ControlPlaneLockFile(sha string) string
}

// storedMetadata is the on-disk metadata.json shape (spec §4.C7).
type storedMetadata struct {
	Sha           string    `json:"sha"`
	BuiltAt       time.Time `json:"built_at"`
	ExtractorVer  string    `json:"extractor_version"`
	SchemaVersion int       `json:"schema_version"`
}

// Store resolves, caches, and builds commit-keyed ControlPlaneModels (spec
// §4.C7 "Model build orchestration").
type Store struct {
	paths     Paths
	extractor Extractor
	now       func() time.Time
}

// NewStore builds a Store.
func NewStore(paths Paths, extractor Extractor) *Store {
	return &Store{paths: paths, extractor: extractor, now: time.Now}
}

// ErrModelNotBuilt is returned by Get (read-only, no build) when no cached
// model exists for sha. The CLI's cg commands use BuildOrGet, which builds a
// missing model, so they do not report this error, and there is no
// MODEL_NOT_BUILT error code.
var ErrModelNotBuilt = fmt.Errorf("control-plane model not built for this commit")

// Get returns a cached model for sha without building one. No CLI command
// calls it.
func (s *Store) Get(sha string) (*Model, error) {
	m, ok, err := s.loadIfCompatible(sha)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrModelNotBuilt
	}
	return m, nil
}

// BuildOrGet resolves repo's base_sha model: if a compatible cached model
// exists it is returned as-is; otherwise the model is built via the
// extractor under an exclusive per-sha lock and published atomically (spec
// §4.C7 "Model build orchestration").
func (s *Store) BuildOrGet(repo, sha string) (*Model, error) {
	if m, ok, err := s.loadIfCompatible(sha); err != nil {
		return nil, err
	} else if ok {
		return m, nil
	}

	lock, err := filelock.Acquire(s.paths.ControlPlaneLockFile(sha))
	if err != nil {
		return nil, fmt.Errorf("acquire control-plane model lock for %s: %w", sha, err)
	}
	defer lock.Unlock()

	// Re-check after acquiring the lock: another process may have built and
	// published the model while we were waiting.
	if m, ok, err := s.loadIfCompatible(sha); err != nil {
		return nil, err
	} else if ok {
		return m, nil
	}

	model, err := s.extractor.Extract(repo, sha)
	if err != nil {
		return nil, fmt.Errorf("extract control-plane model for %s: %w", sha, err)
	}
	model.Sha = sha
	model.Edges = DedupeEdges(model.Edges)
	model.ModelHash = hashModel(model)

	if err := s.publish(model); err != nil {
		return nil, err
	}
	return model, nil
}

// loadIfCompatible reads a cached model for sha, returning ok=false (not an
// error) if none exists or the cached schema/extractor version is stale.
func (s *Store) loadIfCompatible(sha string) (*Model, bool, error) {
	metaPath := s.paths.ControlPlaneMetadataFile(sha)
	metaRaw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read control-plane metadata %s: %w", metaPath, err)
	}
	var meta storedMetadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, false, fmt.Errorf("parse control-plane metadata %s: %w", metaPath, err)
	}
	if meta.SchemaVersion != SchemaVersion || meta.ExtractorVer != ExtractorVersion {
		return nil, false, nil
	}

	modelPath := s.paths.ControlPlaneModelFile(sha)
	modelRaw, err := os.ReadFile(modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read control-plane model %s: %w", modelPath, err)
	}
	var model Model
	if err := json.Unmarshal(modelRaw, &model); err != nil {
		return nil, false, fmt.Errorf("parse control-plane model %s: %w", modelPath, err)
	}
	return &model, true, nil
}

// publish writes model.json and metadata.json atomically (write-temp,
// rename) so concurrent readers never observe a half-written model.
func (s *Store) publish(model *Model) error {
	modelPath := s.paths.ControlPlaneModelFile(model.Sha)
	metaPath := s.paths.ControlPlaneMetadataFile(model.Sha)
	if err := os.MkdirAll(filepath.Dir(modelPath), 0o755); err != nil {
		return fmt.Errorf("create control-plane model dir: %w", err)
	}

	modelData, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal control-plane model: %w", err)
	}
	if err := atomicWrite(modelPath, modelData); err != nil {
		return err
	}

	meta := storedMetadata{
		Sha:           model.Sha,
		BuiltAt:       s.now().UTC(),
		ExtractorVer:  ExtractorVersion,
		SchemaVersion: SchemaVersion,
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal control-plane metadata: %w", err)
	}
	return atomicWrite(metaPath, metaData)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

func hashModel(m *Model) string {
	data, _ := json.Marshal(struct {
		Components []Component       `json:"components"`
		Edges      []Edge            `json:"edges"`
		Surfaces   []SurfaceCategory `json:"surfaces"`
	}{m.Components, m.Edges, m.Surfaces})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
