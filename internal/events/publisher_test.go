package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToTaskAndGlobalSubscribers(t *testing.T) {
	p := NewMemoryPublisher(4)
	taskCh := p.Subscribe("TASK-1")
	globalCh := p.Subscribe(GlobalTaskID)

	p.Publish(New(TaskStart, "TASK-1", 0, nil))

	select {
	case e := <-taskCh:
		assert.Equal(t, TaskStart, e.Type)
	default:
		t.Fatal("expected event on task channel")
	}
	select {
	case e := <-globalCh:
		assert.Equal(t, TaskStart, e.Type)
	default:
		t.Fatal("expected event on global channel")
	}
}

func TestPublish_NonBlockingOnFullBuffer(t *testing.T) {
	p := NewMemoryPublisher(1)
	ch := p.Subscribe("TASK-1")
	p.Publish(New(TaskStart, "TASK-1", 0, nil))
	p.Publish(New(TaskFailed, "TASK-1", 0, nil)) // buffer full, should not block

	e := <-ch
	assert.Equal(t, TaskStart, e.Type)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	p := NewMemoryPublisher(1)
	ch := p.Subscribe("TASK-1")
	p.Unsubscribe("TASK-1", ch)

	_, ok := <-ch
	require.False(t, ok)
}
