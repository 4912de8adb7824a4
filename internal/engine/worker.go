package engine

import (
	"context"
	"sync"

	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/container"
	"github.com/mycelium-run/mycelium/internal/events"
	"github.com/mycelium-run/mycelium/internal/task"
)

// WorkerRequest is one task attempt's worker invocation (spec §4.C6/C10
// "Start worker, wait for completion").
type WorkerRequest struct {
	Project       string
	RunID         string
	TaskID        string
	Attempt       int
	WorkspacePath string
	Manifest      *task.Manifest
}

// WorkerResult is what the worker phase reports back to the task state
// machine. ResetToPending mirrors the worker's own "retry this, don't fail
// it" signal (spec §4.C10 "worker_fail_retry -> pending"), independent of
// the raw container exit code: the worker process decides whether a
// failure is retryable.
type WorkerResult struct {
	Success          bool
	ResetToPending   bool
	TokensUsed       int
	EstimatedCostUSD float64
	ContainerID      string
}

// WorkerRunner is the capability interface the engine drives to execute a
// task's actual work; production wiring is container-backed, tests
// substitute a fake (spec §9 "dynamic dispatch -> capability interfaces").
// The worker's own decision logic (what it does inside the container) is
// out of scope; the engine only needs to start it, wait for it, and read
// back its structured result.
type WorkerRunner interface {
	RunTask(ctx context.Context, req WorkerRequest) (WorkerResult, error)
}

// ContainerWorkerRunner is the default, Docker-backed WorkerRunner.
type ContainerWorkerRunner struct {
	docker    container.DockerClient
	cfg       *config.DockerConfig
	publisher events.Publisher
}

// NewContainerWorkerRunner builds a ContainerWorkerRunner.
func NewContainerWorkerRunner(docker container.DockerClient, cfg *config.DockerConfig, publisher events.Publisher) *ContainerWorkerRunner {
	return &ContainerWorkerRunner{docker: docker, cfg: cfg, publisher: publisher}
}

// RunTask starts req's worker container, runs bootstrap commands, waits for
// completion, and classifies the outcome (spec §4.C6, §4.C10 step 3).
func (c *ContainerWorkerRunner) RunTask(ctx context.Context, req WorkerRequest) (WorkerResult, error) {
	spec := container.Spec{
		Project:     req.Project,
		Run:         req.RunID,
		Task:        req.TaskID,
		Image:       c.cfg.Image,
		Env:         c.cfg.Env,
		Binds:       []string{req.WorkspacePath + ":/workspace"},
		Workdir:     "/workspace",
		User:        c.cfg.User,
		NetworkMode: c.cfg.NetworkMode,
		Resources: container.Resources{
			MemoryBytes: c.cfg.MemoryBytes,
			CPUQuota:    c.cfg.CPUQuota,
			PidsLimit:   c.cfg.PidsLimit,
		},
	}

	sink := newResultSink(c.publisher, req.TaskID, req.Attempt)
	c.publish(events.ContainerStart, req.TaskID, req.Attempt, map[string]any{"image": spec.Image})

	containerID, err := c.docker.Run(spec, sink, req.Attempt)
	if err != nil {
		return WorkerResult{}, err
	}

	if len(c.cfg.Bootstrap) > 0 {
		if _, err := c.docker.RunBootstrap(containerID, req.TaskID, c.cfg.Bootstrap, c.cfg.BootstrapMaxBytes, sink, req.Attempt); err != nil {
			return WorkerResult{ContainerID: containerID}, err
		}
	}

	exitCode, err := c.docker.Wait(containerID)
	if err != nil {
		return WorkerResult{ContainerID: containerID}, err
	}
	c.publish(events.ContainerExit, req.TaskID, req.Attempt, map[string]any{"exit_code": exitCode})

	if c.cfg.StopContainersOnExit {
		_ = c.docker.Stop(containerID)
	}

	result := sink.result()
	result.ContainerID = containerID
	if !sink.hasResult() {
		result.Success = exitCode == 0
		result.ResetToPending = exitCode != 0
	}
	return result, nil
}

func (c *ContainerWorkerRunner) publish(t events.Type, taskID string, attempt int, payload any) {
	if c.publisher != nil {
		c.publisher.Publish(events.New(t, taskID, attempt, payload))
	}
}

// resultSink is a container.LogSink that forwards every classified log line
// to the engine's event publisher and separately captures the worker's
// final "worker.result" structured event, from which the engine reads
// token/cost accounting and the retry-vs-terminal failure decision (spec
// §4.C10 "Worker result {success, reset_to_pending, tokens_used,
// estimated_cost}" — emitted by the out-of-scope worker as its last
// structured log line).
type resultSink struct {
	publisher events.Publisher
	taskID    string
	attempt   int

	mu  sync.Mutex
	got bool
	res WorkerResult
}

func newResultSink(publisher events.Publisher, taskID string, attempt int) *resultSink {
	return &resultSink{publisher: publisher, taskID: taskID, attempt: attempt}
}

// Emit implements container.LogSink.
func (s *resultSink) Emit(eventType, taskID string, attempt int, payload any) error {
	if s.publisher != nil {
		s.publisher.Publish(events.New(events.Type(eventType), taskID, attempt, payload))
	}
	if eventType == "worker.result" {
		s.captureResult(payload)
	}
	return nil
}

func (s *resultSink) captureResult(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = true
	if v, ok := m["success"].(bool); ok {
		s.res.Success = v
	}
	if v, ok := m["reset_to_pending"].(bool); ok {
		s.res.ResetToPending = v
	}
	if v, ok := m["tokens_used"].(float64); ok {
		s.res.TokensUsed = int(v)
	}
	if v, ok := m["estimated_cost"].(float64); ok {
		s.res.EstimatedCostUSD = v
	}
}

func (s *resultSink) hasResult() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func (s *resultSink) result() WorkerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}
