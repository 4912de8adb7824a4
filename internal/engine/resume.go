package engine

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mycelium-run/mycelium/internal/events"
	"github.com/mycelium-run/mycelium/internal/runstate"
	"github.com/mycelium-run/mycelium/internal/scheduler"
	"github.com/mycelium-run/mycelium/internal/task"
)

// reattachAndResetStale implements the resume half of spec §4.C10: any task
// left StatusRunning from a crashed process either has a live container
// (reattach its log stream and wait it out to completion) or doesn't (reset
// to pending so the next main-loop iteration re-admits it). Live containers
// are waited on concurrently, same shape as runBatch's worker fan-out.
func (e *Engine) reattachAndResetStale(ctx context.Context, rs *runstate.RunState, manifests map[string]*task.Manifest) {
	now := e.deps.Clock.Now()
	stale := make(map[string]bool)
	for _, st := range rs.StaleRunning(now, staleHeartbeatThreshold) {
		stale[st.ID] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for id, st := range rs.Tasks {
		id, st := id, st
		if st.Status != task.StatusRunning {
			continue
		}

		if e.deps.Docker != nil {
			containerID, running, err := e.deps.Docker.FindByLabels(rs.Project, rs.RunID, id)
			if err == nil && running {
				m := manifests[id]
				if m != nil {
					st.Manifest = m
					st.ContainerID = containerID
					st.LastHeartbeat = now
					e.publish(events.New(events.ContainerReattach, id, st.Attempts, nil))
					e.publish(events.New(events.CodexThreadResumed, id, st.Attempts, nil))
					g.Go(func() error {
						e.waitReattached(gctx, rs, st, m, containerID)
						return nil
					})
					continue
				}
			}
		}

		if !stale[id] {
			// No live container, but also not yet past the staleness
			// threshold (e.g. resumed moments after a crash): leave it
			// running for one more loop iteration before forcing a reset.
			continue
		}
		st.Apply(task.EventStaleHeartbeat)
		checkpoint(st, "resume_reset", "no live container found on resume and heartbeat stale")
	}
	_ = g.Wait()
}

// waitReattached blocks until a reattached container exits, classifies the
// outcome the same way the non-resume worker path does (worker.go's
// ContainerWorkerRunner.RunTask), and feeds the task back through the
// post-worker pipeline so it reaches validated/merged rather than staying
// StatusRunning forever (spec §8 Scenario S5).
func (e *Engine) waitReattached(ctx context.Context, rs *runstate.RunState, st *task.State, m *task.Manifest, containerID string) {
	sink := newResultSink(e.deps.Publisher, m.ID, st.Attempts)
	if err := e.deps.Docker.ReattachLogs(containerID, sink, m.ID, st.Attempts); err != nil {
		e.retryOrFail(st, m.ID, "reattach log fetch failed: "+err.Error())
		return
	}

	exitCode, err := e.deps.Docker.Wait(containerID)
	if err != nil {
		e.retryOrFail(st, m.ID, "reattached container wait failed: "+err.Error())
		return
	}
	e.publish(events.New(events.ContainerExit, m.ID, st.Attempts, map[string]any{"exit_code": exitCode}))

	result := sink.result()
	result.ContainerID = containerID
	if !sink.hasResult() {
		result.Success = exitCode == 0
		result.ResetToPending = exitCode != 0
	}
	e.finishWorkerResult(ctx, rs, st, m, st.Workspace, result)
}

// mergeOrphanedValidated merges any task already sitting in StatusValidated
// before the main loop's own batches get a chance to: tasks a reattach just
// finished, or tasks validated just before a crash whose batch never reached
// mergeBatch. Without this, a reattached task reaches StatusValidated but
// never belongs to any batch.TaskIDs the loop builds (those only ever come
// from StatusPending specs via scheduler.BuildBatch), so it would wait for a
// merge that never comes.
func (e *Engine) mergeOrphanedValidated(rs *runstate.RunState) error {
	var ids []string
	var manifests []*task.Manifest
	for id, st := range rs.Tasks {
		if st.Status != task.StatusValidated {
			continue
		}
		ids = append(ids, id)
		if st.Manifest != nil {
			manifests = append(manifests, st.Manifest)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	batch := &task.Batch{
		ID:      len(rs.Batches) + 1,
		TaskIDs: ids,
		Locks:   scheduler.BatchLocks(manifests),
		Status:  task.BatchStatusRunning,
	}
	rs.Batches = append(rs.Batches, batch)
	e.publish(events.New(events.BatchStart, "", 0, map[string]any{"batch_id": batch.ID, "task_ids": batch.TaskIDs}))
	return e.mergeBatch(rs, batch)
}
