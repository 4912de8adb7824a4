// Package validator runs the test/style/architecture/doctor validators,
// normalizes their outcomes, and enforces block mode (spec §4.C8).
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/task"
)

// Kind names one of the four validators spec §4.C8 runs.
type Kind string

const (
	KindTest         Kind = "test"
	KindStyle        Kind = "style"
	KindArchitecture Kind = "architecture"
	KindDoctor       Kind = "doctor"
)

// Outcome is the raw pass/fail signal a Runner reports before normalization.
type Outcome struct {
	Status     string // pass|fail|error|skipped
	Summary    string
	Effective  bool
	Concerns   int
	Recs       int
	Canary     string
	ReportPath string
}

// Runner executes a validator's underlying command. Production code shells
// out via CommandRunner; tests substitute a fake (spec §9 "dynamic dispatch
// -> capability interfaces").
type Runner interface {
	Run(ctx context.Context, workDir, command string, timeout time.Duration, extraEnv map[string]string) (Outcome, error)
}

// CommandRunner is the narrow subprocess interface validator execution
// needs; no validator-execution library exists anywhere in the retrieved
// pack, so this stays a thin os/exec wrapper (same rationale as internal/vcs
// and internal/container).
type CommandRunner interface {
	Run(workDir string, name string, args ...string) (stdout string, err error)
}

// ShellRunner is the default Runner, executing command as `sh -c <command>`
// with a context-bound timeout (spec §5 "per-validator timeout_seconds").
type ShellRunner struct {
	runner CommandRunner
}

// NewShellRunner builds a ShellRunner using runner.
func NewShellRunner(runner CommandRunner) *ShellRunner {
	return &ShellRunner{runner: runner}
}

// Run executes command in workDir and never returns a Go error: any runner
// error (a non-zero exit, or the shell itself failing to start) becomes a
// "fail" outcome, and a timeout becomes an "error" outcome.
func (r *ShellRunner) Run(ctx context.Context, workDir, command string, timeout time.Duration, extraEnv map[string]string) (Outcome, error) {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct {
		out string
		err error
	}, 1)
	go func() {
		out, err := r.run(command, workDir, extraEnv)
		done <- struct {
			out string
			err error
		}{out, err}
	}()

	select {
	case <-ctx.Done():
		return Outcome{Status: "error", Summary: "validator timed out"}, nil
	case res := <-done:
		if res.err != nil {
			return Outcome{Status: "fail", Summary: truncate(res.out, 2000)}, nil
		}
		return Outcome{Status: "pass", Summary: truncate(res.out, 2000)}, nil
	}
}

func (r *ShellRunner) run(command, workDir string, extraEnv map[string]string) (string, error) {
	if len(extraEnv) == 0 {
		return r.runner.Run(workDir, "sh", "-c", command)
	}
	// CommandRunner has no env-injection hook, so fold extraEnv into the
	// shell invocation itself (each KEY=VALUE exported before the command).
	var b strings.Builder
	for k, v := range extraEnv {
		fmt.Fprintf(&b, "export %s=%q; ", k, v)
	}
	b.WriteString(command)
	return r.runner.Run(workDir, "sh", "-c", b.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}

// Pipeline runs the configured validators for one task attempt and
// normalizes their results (spec §4.C8).
type Pipeline struct {
	runner Runner
	cfg    *config.ValidatorConfig
}

// NewPipeline builds a Pipeline.
func NewPipeline(runner Runner, cfg *config.ValidatorConfig) *Pipeline {
	return &Pipeline{runner: runner, cfg: cfg}
}

// RunAll runs test/style/architecture for workDir's task branch, skipping any
// validator whose spec disables it, and returns one normalized
// task.ValidatorResult per validator, in (test, style, architecture) order;
// a disabled validator is recorded with status "skipped".
func (p *Pipeline) RunAll(ctx context.Context, workDir string) []task.ValidatorResult {
	var results []task.ValidatorResult
	for _, pair := range []struct {
		kind Kind
		spec config.ValidatorSpec
	}{
		{KindTest, p.cfg.Test},
		{KindStyle, p.cfg.Style},
		{KindArchitecture, p.cfg.Architecture},
	} {
		if !pair.spec.Enabled {
			results = append(results, task.ValidatorResult{
				Validator: string(pair.kind),
				Status:    "skipped",
				Mode:      string(pair.spec.Mode),
			})
			continue
		}
		timeout := time.Duration(pair.spec.TimeoutSeconds) * time.Second
		out, err := p.runner.Run(ctx, workDir, pair.spec.Command, timeout, nil)
		if err != nil {
			results = append(results, task.ValidatorResult{
				Validator: string(pair.kind),
				Status:    "error",
				Mode:      string(pair.spec.Mode),
				Summary:   err.Error(),
			})
			continue
		}
		results = append(results, task.ValidatorResult{
			Validator: string(pair.kind),
			Status:    out.Status,
			Mode:      string(pair.spec.Mode),
			Summary:   FormatSummary(out),
		})
	}
	return results
}

// FormatSummary renders the shared human summary format every validator uses
// (spec §4.C8: "Effective: yes | Concerns: n | Recs: n | Canary: …").
func FormatSummary(out Outcome) string {
	effective := "no"
	if out.Effective {
		effective = "yes"
	}
	s := fmt.Sprintf("Effective: %s | Concerns: %d | Recs: %d", effective, out.Concerns, out.Recs)
	if out.Canary != "" {
		s += " | Canary: " + out.Canary
	}
	if out.Summary != "" {
		s += "\n" + out.Summary
	}
	return s
}

// Block is the gating decision produced when a validator result should stop
// the task from merging (spec §4.C8 step 4).
type Block struct {
	Validator string
	Reason    string
}

// EvaluateBlock scans results for the first one that should block the task,
// per spec §4.C8 step 4: "mode=block AND status in {fail,error}".
func EvaluateBlock(results []task.ValidatorResult) (Block, bool) {
	for _, r := range results {
		if r.Mode == "block" && (r.Status == "fail" || r.Status == "error") {
			return Block{Validator: r.Validator, Reason: fmt.Sprintf("%s validator %s (mode=block)", r.Validator, r.Status)}, true
		}
	}
	return Block{}, false
}
