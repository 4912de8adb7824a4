package events

import (
	"log/slog"

	"github.com/mycelium-run/mycelium/internal/clock"
)

// SinkPublisher wraps a MemoryPublisher and durably persists every event to
// a clock.LogSink, mirroring the teacher's PersistentPublisher split between
// real-time broadcast and durable persistence.
type SinkPublisher struct {
	inner  *MemoryPublisher
	sink   *clock.LogSink
	logger *slog.Logger
}

// NewSinkPublisher creates a publisher that both broadcasts in-process and
// appends every event to sink.
func NewSinkPublisher(sink *clock.LogSink, logger *slog.Logger) *SinkPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkPublisher{inner: NewMemoryPublisher(0), sink: sink, logger: logger}
}

// Publish broadcasts e and appends it to the durable JSONL log.
func (p *SinkPublisher) Publish(e Event) {
	p.inner.Publish(e)
	if p.sink == nil {
		return
	}
	if err := p.sink.Emit(string(e.Type), e.TaskID, e.Attempt, e.Payload); err != nil {
		p.logger.Warn("failed to persist orchestrator event", "type", e.Type, "task_id", e.TaskID, "error", err)
	}
}

// Subscribe delegates to the in-memory publisher.
func (p *SinkPublisher) Subscribe(taskID string) <-chan Event { return p.inner.Subscribe(taskID) }

// Unsubscribe delegates to the in-memory publisher.
func (p *SinkPublisher) Unsubscribe(taskID string, ch <-chan Event) { p.inner.Unsubscribe(taskID, ch) }

// Close closes the in-memory publisher and the underlying sink.
func (p *SinkPublisher) Close() {
	p.inner.Close()
	if p.sink != nil {
		_ = p.sink.Close()
	}
}
