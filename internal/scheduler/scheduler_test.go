package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelium-run/mycelium/internal/task"
)

func spec(id string, deps []string, reads, writes []string) *task.Manifest {
	return &task.Manifest{
		ID:           id,
		Dependencies: deps,
		Locks:        task.LockSet{Reads: reads, Writes: writes},
	}
}

// TestBuildBatch_S1 is spec scenario S1: A(writes=[db]), B(reads=[db]),
// C(reads=[db]), maxParallel=3 -> batches [A], [B,C].
func TestBuildBatch_S1(t *testing.T) {
	specs := []*task.Manifest{
		spec("A", nil, nil, []string{"db"}),
		spec("B", nil, []string{"db"}, nil),
		spec("C", nil, []string{"db"}, nil),
	}
	completed := map[string]bool{}

	batch1, remaining := BuildBatch(specs, completed, 3)
	require.Len(t, batch1, 1)
	assert.Equal(t, "A", batch1[0].ID)
	require.Len(t, remaining, 2)

	completed["A"] = true
	batch2, remaining2 := BuildBatch(remaining, completed, 3)
	require.Len(t, batch2, 2)
	assert.Equal(t, "B", batch2[0].ID)
	assert.Equal(t, "C", batch2[1].ID)
	assert.Empty(t, remaining2)
}

func TestBuildBatch_RespectsDependencies(t *testing.T) {
	specs := []*task.Manifest{
		spec("2", []string{"1"}, nil, nil),
		spec("1", nil, nil, nil),
	}
	batch, remaining := BuildBatch(specs, map[string]bool{}, 4)
	require.Len(t, batch, 1)
	assert.Equal(t, "1", batch[0].ID)
	require.Len(t, remaining, 1)
	assert.Equal(t, "2", remaining[0].ID)
}

func TestBuildBatch_NaturalNumericOrder(t *testing.T) {
	specs := []*task.Manifest{
		spec("10", nil, nil, nil),
		spec("2", nil, nil, nil),
		spec("1", nil, nil, nil),
	}
	batch, _ := BuildBatch(specs, map[string]bool{}, 10)
	ids := []string{batch[0].ID, batch[1].ID, batch[2].ID}
	assert.Equal(t, []string{"1", "2", "10"}, ids)
}

func TestBuildBatch_CapsAtMaxParallel(t *testing.T) {
	specs := []*task.Manifest{
		spec("A", nil, nil, nil),
		spec("B", nil, nil, nil),
		spec("C", nil, nil, nil),
	}
	batch, remaining := BuildBatch(specs, map[string]bool{}, 2)
	assert.Len(t, batch, 2)
	assert.Len(t, remaining, 1)
}

func TestBatchLocks_UnionSortedDeduped(t *testing.T) {
	members := []*task.Manifest{
		spec("A", nil, []string{"b", "a"}, []string{"c"}),
		spec("B", nil, []string{"a"}, []string{"c", "d"}),
	}
	locks := BatchLocks(members)
	assert.Equal(t, []string{"a", "b"}, locks.Reads)
	assert.Equal(t, []string{"c", "d"}, locks.Writes)
}

func TestTracker_NextBatchAndCompletion(t *testing.T) {
	tr := NewTracker([]*task.Manifest{
		spec("A", nil, nil, []string{"db"}),
		spec("B", []string{"A"}, nil, []string{"db"}),
	})

	batch1 := tr.NextBatch(4)
	require.Len(t, batch1, 1)
	assert.Equal(t, "A", batch1[0].ID)
	assert.Equal(t, 1, tr.RunningCount())

	assert.Empty(t, tr.NextBatch(4)) // B not ready, A still running

	tr.MarkCompleted("A")
	assert.False(t, tr.IsDone())

	batch2 := tr.NextBatch(4)
	require.Len(t, batch2, 1)
	assert.Equal(t, "B", batch2[0].ID)

	tr.MarkCompleted("B")
	assert.True(t, tr.IsDone())
}

func TestTracker_MarkFailedAllowsRetryOffer(t *testing.T) {
	tr := NewTracker([]*task.Manifest{spec("A", nil, nil, nil)})
	batch := tr.NextBatch(1)
	require.Len(t, batch, 1)

	tr.MarkFailed("A")
	assert.Equal(t, 0, tr.RunningCount())

	retry := tr.NextBatch(1)
	require.Len(t, retry, 1)
	assert.Equal(t, "A", retry[0].ID)
}
