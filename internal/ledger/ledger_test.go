package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mycelium-run/mycelium/internal/task"
)

func testManifest(id string) *task.Manifest {
	return &task.Manifest{ID: id, Name: "Task " + id, VerifyCmd: task.Verify{Doctor: "true"}}
}

func TestFingerprint_StableAcrossMapOrdering(t *testing.T) {
	m := testManifest("T-1")
	a := Fingerprint(m, "merge-sha-1")
	b := Fingerprint(m, "merge-sha-1")
	require.Equal(t, a, b)
}

func TestFingerprint_ChangesWithMergeCommit(t *testing.T) {
	m := testManifest("T-1")
	a := Fingerprint(m, "merge-sha-1")
	b := Fingerprint(m, "merge-sha-2")
	require.NotEqual(t, a, b)
}

func TestStore_LoadMissingReturnsEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	store := NewStore(path)

	l, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, l.SchemaVersion)
	require.Empty(t, l.Tasks)
}

func TestStore_RecordThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	store := NewStore(path)

	entry := Entry{
		Status:                  "complete",
		Fingerprint:             "abc123",
		MergeCommit:             "merge-sha-1",
		IntegrationDoctorPassed: true,
		CompletedAt:             time.Now().UTC().Truncate(time.Second),
		RunID:                   "run-1",
	}
	require.NoError(t, store.Record("T-1", entry))

	l, err := store.Load()
	require.NoError(t, err)
	got, ok := l.Tasks["T-1"]
	require.True(t, ok)
	require.Equal(t, entry.Fingerprint, got.Fingerprint)
	require.Equal(t, entry.MergeCommit, got.MergeCommit)
	require.True(t, got.IntegrationDoctorPassed)
}

func TestShortCircuit_MatchesFingerprintAndDoctorPassed(t *testing.T) {
	l := &Ledger{Tasks: map[string]Entry{
		"T-1": {Fingerprint: "abc123", IntegrationDoctorPassed: true},
	}}
	entry, ok := l.ShortCircuit("T-1", "abc123")
	require.True(t, ok)
	require.Equal(t, "abc123", entry.Fingerprint)
}

func TestShortCircuit_MismatchedFingerprintFails(t *testing.T) {
	l := &Ledger{Tasks: map[string]Entry{
		"T-1": {Fingerprint: "abc123", IntegrationDoctorPassed: true},
	}}
	_, ok := l.ShortCircuit("T-1", "different")
	require.False(t, ok)
}

func TestShortCircuit_DoctorNotPassedFails(t *testing.T) {
	l := &Ledger{Tasks: map[string]Entry{
		"T-1": {Fingerprint: "abc123", IntegrationDoctorPassed: false},
	}}
	_, ok := l.ShortCircuit("T-1", "abc123")
	require.False(t, ok)
}

func TestCompletedTaskIDs_OnlyCompleteAndSorted(t *testing.T) {
	l := &Ledger{Tasks: map[string]Entry{
		"T-2": {Status: "complete"},
		"T-1": {Status: "complete"},
		"T-3": {Status: "failed"},
	}}
	require.Equal(t, []string{"T-1", "T-2"}, l.CompletedTaskIDs())
}
