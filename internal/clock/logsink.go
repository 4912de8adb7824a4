package clock

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Record is one line of an orchestrator/task JSONL event log.
// Fields are encoded in the order ts, run_id, task_id?, attempt?, type, payload?.
type Record struct {
	TS      string `json:"ts"`
	RunID   string `json:"run_id"`
	TaskID  string `json:"task_id,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// LogSink is a single-writer append-only JSONL file, optionally mirrored
// into a local SQLite index (SPEC_FULL §4.C12). One LogSink per file; callers
// must not share a LogSink's path across writers.
type LogSink struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	clock   Clock
	index   *sql.DB
	runID   string
	project string
}

// Option configures a LogSink.
type Option func(*LogSink)

// WithClock overrides the time source (tests).
func WithClock(c Clock) Option {
	return func(s *LogSink) { s.clock = c }
}

// WithSQLiteIndex opens (creating if needed) a local SQLite mirror at
// indexPath, used to answer indexed lookups instead of a directory walk.
// The index is a derived cache of the JSONL file; it is safe to delete and
// rebuild by replaying the log.
func WithSQLiteIndex(indexPath string) Option {
	return func(s *LogSink) {
		if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
			return
		}
		db, err := sql.Open("sqlite", indexPath)
		if err != nil {
			return
		}
		_, _ = db.Exec(`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT, task_id TEXT, type TEXT, attempt INTEGER, ts TEXT, payload TEXT
		)`)
		_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_task_type ON events(run_id, task_id, type)`)
		s.index = db
	}
}

// Open creates or appends to the JSONL file at path.
func Open(path, runID, project string, opts ...Option) (*LogSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	s := &LogSink{path: path, file: f, clock: RealClock{}, runID: runID, project: project}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Emit appends one event. taskID/attempt may be zero-valued when not applicable.
func (s *LogSink) Emit(eventType, taskID string, attempt int, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		TS:      s.clock.Now().Format("2006-01-02T15:04:05.000Z07:00"),
		RunID:   s.runID,
		TaskID:  taskID,
		Attempt: attempt,
		Type:    eventType,
		Payload: payload,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}

	if s.index != nil {
		payloadJSON, _ := json.Marshal(payload)
		_, _ = s.index.Exec(
			`INSERT INTO events(run_id, task_id, type, attempt, ts, payload) VALUES (?,?,?,?,?,?)`,
			rec.RunID, rec.TaskID, rec.Type, rec.Attempt, rec.TS, string(payloadJSON),
		)
	}
	return nil
}

// LatestEventTime returns the ts of the most recent event of the given type
// for a task, read from the SQLite index. It returns ("", false) when the
// index is absent or holds no matching event.
func (s *LogSink) LatestEventTime(taskID, eventType string) (string, bool) {
	if s.index == nil {
		return "", false
	}
	var ts string
	row := s.index.QueryRow(
		`SELECT ts FROM events WHERE run_id=? AND task_id=? AND type=? ORDER BY ts DESC LIMIT 1`,
		s.runID, taskID, eventType,
	)
	if err := row.Scan(&ts); err != nil {
		return "", false
	}
	return ts, true
}

// Close flushes and closes the sink's file and index.
func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil {
		_ = s.index.Close()
	}
	return s.file.Close()
}

// Path returns the JSONL file path backing this sink.
func (s *LogSink) Path() string { return s.path }
