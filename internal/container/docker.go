// Package container supervises worker containers: create/start, log
// demultiplexing and classification, bootstrap command execution, and
// reattach-by-label on resume (spec §4.C6).
package container

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

// LogSink receives classified log lines for one task.
type LogSink interface {
	Emit(eventType, taskID string, attempt int, payload any) error
}

// DockerClient is the capability interface the engine drives; internal code
// never shells out to `docker` directly.
type DockerClient interface {
	Run(spec Spec, sink LogSink, attempt int) (containerID string, err error)
	RunBootstrap(containerID, taskID string, commands []string, maxCapturedBytes int, sink LogSink, attempt int) ([]BootstrapResult, error)
	FindByLabels(project, run, task string) (containerID string, running bool, err error)
	ReattachLogs(containerID string, sink LogSink, taskID string, attempt int) error
	Wait(containerID string) (exitCode int, err error)
	Stop(containerID string) error
}

// Docker is the CommandRunner-backed DockerClient, shelling out to the
// `docker` CLI since no Docker SDK is vendored anywhere in the corpus this
// module was built against.
type Docker struct {
	runner CommandRunner
}

// New builds a Docker client using runner (NewExecRunner() in production).
func New(runner CommandRunner) *Docker {
	return &Docker{runner: runner}
}

func (d *Docker) run(args ...string) (string, error) {
	return d.runner.Run("", "docker", args...)
}

// Run creates and starts a worker container per spec, attaches its log
// stream to sink via ReattachLogs (the same call used to reattach after a
// restart), and returns its id.
func (d *Docker) Run(spec Spec, sink LogSink, attempt int) (string, error) {
	args := []string{"run", "-d"}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	for _, b := range spec.Binds {
		args = append(args, "-v", b)
	}
	if spec.Workdir != "" {
		args = append(args, "-w", spec.Workdir)
	}
	if spec.User != "" {
		args = append(args, "-u", spec.User)
	}
	if spec.NetworkMode != "" {
		args = append(args, "--network", spec.NetworkMode)
	}
	if spec.Resources.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.Resources.MemoryBytes, 10))
	}
	if spec.Resources.CPUQuota > 0 {
		args = append(args, "--cpu-quota", strconv.FormatInt(spec.Resources.CPUQuota, 10))
	}
	if spec.Resources.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(spec.Resources.PidsLimit, 10))
	}
	for k, v := range spec.labels() {
		args = append(args, "--label", k+"="+v)
	}
	args = append(args, "--label", "mycelium.correlation="+uuid.NewString())
	args = append(args, spec.Image)

	id, err := d.run(args...)
	if err != nil {
		return "", classifyDockerError(err)
	}
	id = strings.TrimSpace(id)

	if err := d.ReattachLogs(id, sink, spec.Task, attempt); err != nil {
		return id, err
	}
	return id, nil
}

// ReattachLogs streams a running container's combined stdout/stderr,
// classifying each line per spec §4.C6, never restarting the container.
func (d *Docker) ReattachLogs(containerID string, sink LogSink, taskID string, attempt int) error {
	out, err := d.run("logs", containerID)
	if err != nil {
		return mycerrors.NewDockerError("docker logs "+containerID, err)
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		ll := classifyLine(line)
		if ll.Structured {
			if sink != nil {
				_ = sink.Emit(ll.Type, taskID, attempt, ll.Payload)
			}
			continue
		}
		if sink != nil {
			_ = sink.Emit("task.log", taskID, attempt, ll.Raw)
		}
	}
	return nil
}

// classifyLine distinguishes a structured JSON event line ({"type":...,
// "payload":...}) from raw text, using gjson for a cheap shape check before
// committing to a full unmarshal.
func classifyLine(line string) LogLine {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return LogLine{Raw: line}
	}
	typeField := gjson.Get(trimmed, "type")
	if !typeField.Exists() {
		return LogLine{Raw: line}
	}
	return LogLine{
		Raw:        line,
		Structured: true,
		Type:       typeField.String(),
		Payload:    gjson.Get(trimmed, "payload").Value(),
	}
}

// RunBootstrap executes commands inside containerID in order, stopping at
// the first non-zero exit, truncating captured output to maxCapturedBytes
// (spec §4.C6).
func (d *Docker) RunBootstrap(containerID, taskID string, commands []string, maxCapturedBytes int, sink LogSink, attempt int) ([]BootstrapResult, error) {
	emit := func(eventType string, payload any) {
		if sink != nil {
			_ = sink.Emit(eventType, taskID, attempt, payload)
		}
	}

	emit("bootstrap.start", map[string]any{"commands": len(commands)})
	var results []BootstrapResult
	for _, cmdStr := range commands {
		emit("bootstrap.cmd.start", map[string]any{"command": cmdStr})
		out, err := d.run("exec", containerID, "sh", "-c", cmdStr)
		out = truncate(out, maxCapturedBytes)
		res := BootstrapResult{Command: cmdStr, Stdout: out}
		if err != nil {
			res.ExitCode = 1
			res.Stderr = truncate(err.Error(), maxCapturedBytes)
			results = append(results, res)
			emit("bootstrap.cmd.fail", map[string]any{"command": cmdStr, "output": res.Stderr})
			emit("bootstrap.failed", map[string]any{"command": cmdStr})
			return results, mycerrors.NewDockerError(fmt.Sprintf("bootstrap command %q failed", cmdStr), err)
		}
		results = append(results, res)
		emit("bootstrap.cmd.complete", map[string]any{"command": cmdStr})
	}
	emit("bootstrap.complete", map[string]any{"commands": len(commands)})
	return results, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// FindByLabels looks up a worker container by its correlation labels
// (spec §4.C6 reattach).
func (d *Docker) FindByLabels(project, run, task string) (string, bool, error) {
	filter := fmt.Sprintf("label=mycelium.project=%s", project)
	filterRun := fmt.Sprintf("label=mycelium.run=%s", run)
	filterTask := fmt.Sprintf("label=mycelium.task=%s", task)
	out, err := d.run("ps", "-a", "--filter", filter, "--filter", filterRun, "--filter", filterTask, "--format", "{{.ID}} {{.State}}")
	if err != nil {
		return "", false, mycerrors.NewDockerError("docker ps (reattach lookup)", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", false, nil
	}
	first := strings.SplitN(out, "\n", 2)[0]
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return "", false, nil
	}
	id := fields[0]
	running := len(fields) > 1 && fields[1] == "running"
	return id, running, nil
}

// Wait blocks until containerID exits and returns its exit code, via
// `docker wait` (spec §4.C6 worker lifecycle "Start ... wait for completion").
func (d *Docker) Wait(containerID string) (int, error) {
	out, err := d.run("wait", containerID)
	if err != nil {
		return 0, mycerrors.NewDockerError("docker wait "+containerID, err)
	}
	code, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, mycerrors.NewDockerError("parse docker wait exit code for "+containerID, convErr)
	}
	return code, nil
}

// Stop sends SIGKILL to containerID.
func (d *Docker) Stop(containerID string) error {
	if _, err := d.run("kill", "-s", "SIGKILL", containerID); err != nil {
		return mycerrors.NewDockerError("docker kill "+containerID, err)
	}
	return nil
}

// classifyDockerError wraps a failed docker CLI invocation, adding the
// daemon-unreachable hint when the output suggests the daemon isn't running.
func classifyDockerError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "cannot connect to the docker daemon") || strings.Contains(lower, "is the docker daemon running") {
		return mycerrors.NewDockerUnreachable(err)
	}
	return mycerrors.NewDockerError("docker run", err)
}
