// Package scheduler builds deterministic, lock-conflict-aware task batches
// for the run engine (spec §4.C3).
package scheduler

import (
	"sort"
	"sync"

	"github.com/mycelium-run/mycelium/internal/task"
)

// BuildBatch computes the next batch from specs given the set of already
// completed task ids and maxParallel, returning the admitted batch and the
// specs left over for a future call. Ready tasks are considered in
// natural-numeric id order and admitted greedily while their normalized
// locks don't conflict with what the batch has already claimed.
func BuildBatch(specs []*task.Manifest, completed map[string]bool, maxParallel int) (admitted []*task.Manifest, remaining []*task.Manifest) {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	ready := make([]*task.Manifest, 0, len(specs))
	notReady := make([]*task.Manifest, 0)
	for _, spec := range specs {
		if dependenciesSatisfied(spec, completed) {
			ready = append(ready, spec)
		} else {
			notReady = append(notReady, spec)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return task.LessNatural(ready[i].ID, ready[j].ID) })

	var accReads, accWrites map[string]bool
	for _, spec := range ready {
		if len(admitted) >= maxParallel {
			notReady = append(notReady, spec)
			continue
		}
		locks := spec.Locks.Normalize()
		if conflicts(locks, accReads, accWrites) {
			notReady = append(notReady, spec)
			continue
		}
		admitted = append(admitted, spec)
		accReads, accWrites = accumulate(accReads, accWrites, locks)
	}
	return admitted, notReady
}

func dependenciesSatisfied(spec *task.Manifest, completed map[string]bool) bool {
	for _, dep := range spec.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// conflicts reports whether locks conflicts with the batch's accumulated
// reads/writes per spec §4.C3's rule: A.writes∩(B.reads∪B.writes)≠∅ or
// A.reads∩B.writes≠∅.
func conflicts(locks task.LockSet, accReads, accWrites map[string]bool) bool {
	for _, w := range locks.Writes {
		if accReads[w] || accWrites[w] {
			return true
		}
	}
	for _, r := range locks.Reads {
		if accWrites[r] {
			return true
		}
	}
	return false
}

func accumulate(accReads, accWrites map[string]bool, locks task.LockSet) (map[string]bool, map[string]bool) {
	if accReads == nil {
		accReads = make(map[string]bool)
	}
	if accWrites == nil {
		accWrites = make(map[string]bool)
	}
	for _, r := range locks.Reads {
		accReads[r] = true
	}
	for _, w := range locks.Writes {
		accWrites[w] = true
	}
	return accReads, accWrites
}

// BatchLocks returns the sorted, deduplicated union of locks across members.
func BatchLocks(members []*task.Manifest) task.LockSet {
	var reads, writes []string
	for _, m := range members {
		reads = append(reads, m.Locks.Reads...)
		writes = append(writes, m.Locks.Writes...)
	}
	return task.LockSet{Reads: reads, Writes: writes}.Normalize()
}

// Tracker keeps the run-wide bookkeeping the engine needs across batches:
// which ids are completed, which are currently running, and the full task
// set the scheduler draws the next ready set from.
type Tracker struct {
	mu        sync.RWMutex
	specs     map[string]*task.Manifest
	completed map[string]bool
	running   map[string]bool
}

// NewTracker builds a Tracker seeded with specs.
func NewTracker(specs []*task.Manifest) *Tracker {
	byID := make(map[string]*task.Manifest, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	return &Tracker{
		specs:     byID,
		completed: make(map[string]bool),
		running:   make(map[string]bool),
	}
}

// NextBatch admits the next batch from the not-yet-completed, not-currently-
// running specs and marks its members running.
func (t *Tracker) NextBatch(maxParallel int) []*task.Manifest {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := make([]*task.Manifest, 0, len(t.specs))
	for id, spec := range t.specs {
		if t.completed[id] || t.running[id] {
			continue
		}
		pending = append(pending, spec)
	}
	admitted, _ := BuildBatch(pending, t.completed, maxParallel)
	for _, spec := range admitted {
		t.running[spec.ID] = true
	}
	return admitted
}

// MarkCompleted records id as completed and no longer running.
func (t *Tracker) MarkCompleted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.running, id)
	t.completed[id] = true
}

// MarkFailed removes id from running without marking it completed, so a
// future NextBatch call can offer it again (e.g. after a retry reset).
func (t *Tracker) MarkFailed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.running, id)
}

// IsDone reports whether every tracked task is completed.
func (t *Tracker) IsDone() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.completed) == len(t.specs)
}

// RunningCount reports the number of tasks currently marked running.
func (t *Tracker) RunningCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.running)
}
