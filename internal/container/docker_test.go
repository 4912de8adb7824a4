package container

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	responses map[string]fakeResponse
	calls     []string
}

type fakeResponse struct {
	out string
	err error
}

func (f *fakeRunner) Run(workDir, name string, args ...string) (string, error) {
	full := append([]string{name}, args...)
	key := strings.Join(full, " ")
	f.calls = append(f.calls, key)
	for k, r := range f.responses {
		if strings.HasPrefix(key, k) {
			return r.out, r.err
		}
	}
	return "", nil
}

func newFake() *fakeRunner { return &fakeRunner{responses: make(map[string]fakeResponse)} }

type memSink struct {
	events []sinkEvent
}

type sinkEvent struct {
	eventType, taskID string
	attempt           int
	payload           any
}

func (m *memSink) Emit(eventType, taskID string, attempt int, payload any) error {
	m.events = append(m.events, sinkEvent{eventType, taskID, attempt, payload})
	return nil
}

func TestClassifyLine_StructuredVsRaw(t *testing.T) {
	ll := classifyLine(`{"type":"task.progress","payload":{"pct":50}}`)
	assert.True(t, ll.Structured)
	assert.Equal(t, "task.progress", ll.Type)

	raw := classifyLine("plain text output")
	assert.False(t, raw.Structured)
}

func TestDocker_Run_ClassifiesUnreachableDaemon(t *testing.T) {
	r := newFake()
	r.responses["docker run"] = fakeResponse{err: &CommandError{Err: assertErr{}, Output: "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?"}}
	d := New(r)
	_, err := d.Run(Spec{Project: "p", Run: "r", Task: "t", Image: "img"}, nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Docker daemon")
}

type assertErr struct{}

func (assertErr) Error() string { return "exit status 1" }

func TestDocker_ReattachLogs_ClassifiesLines(t *testing.T) {
	r := newFake()
	r.responses["docker logs abc"] = fakeResponse{out: "plain log line\n{\"type\":\"task.start\",\"payload\":{}}"}
	d := New(r)
	sink := &memSink{}
	require.NoError(t, d.ReattachLogs("abc", sink, "T-1", 1))
	require.Len(t, sink.events, 2)
	assert.Equal(t, "task.log", sink.events[0].eventType)
	assert.Equal(t, "task.start", sink.events[1].eventType)
}

func TestDocker_RunBootstrap_StopsOnFirstFailure(t *testing.T) {
	r := newFake()
	r.responses["docker exec abc sh -c false"] = fakeResponse{out: "", err: &CommandError{Err: assertErr{}, Output: "boom"}}
	d := New(r)
	sink := &memSink{}
	results, err := d.RunBootstrap("abc", "T-1", []string{"echo ok", "false", "echo never"}, 1024, sink, 1)
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[1].ExitCode)
}

func TestDocker_FindByLabels(t *testing.T) {
	r := newFake()
	r.responses["docker ps"] = fakeResponse{out: "abc123 running"}
	d := New(r)
	id, running, err := d.FindByLabels("proj", "run-1", "T-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.True(t, running)
}

func TestDocker_FindByLabels_NoneFound(t *testing.T) {
	r := newFake()
	d := New(r)
	id, running, err := d.FindByLabels("proj", "run-1", "T-1")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.False(t, running)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "abcdef", truncate("abcdef", 0))
}
