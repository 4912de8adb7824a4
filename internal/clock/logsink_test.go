package clock

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_AppendsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.jsonl")
	sink, err := Open(path, "run-1", "proj", WithClock(Fixed{At: time.Unix(0, 0).UTC()}))
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit("run.start", "", 0, map[string]string{"k": "v"}))
	require.NoError(t, sink.Emit("task.start", "TASK-1", 1, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"run.start"`)
	assert.Contains(t, lines[1], `"task_id":"TASK-1"`)
}

func TestSQLiteIndex_LatestEventTime(t *testing.T) {
	dir := t.TempDir()
	sink, err := Open(filepath.Join(dir, "events.jsonl"), "run-1", "proj",
		WithSQLiteIndex(filepath.Join(dir, "events.sqlite")))
	require.NoError(t, err)
	defer sink.Close()

	_, ok := sink.LatestEventTime("TASK-1", "doctor.pass")
	assert.False(t, ok)

	require.NoError(t, sink.Emit("doctor.pass", "TASK-1", 1, nil))
	ts, ok := sink.LatestEventTime("TASK-1", "doctor.pass")
	require.True(t, ok)
	assert.NotEmpty(t, ts)
}
