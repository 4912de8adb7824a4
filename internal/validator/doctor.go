package validator

import (
	"context"
	"time"

	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/task"
)

// CanaryResult classifies a doctor canary double-run (spec §4.C8 step 5).
type CanaryResult string

const (
	CanarySkipped        CanaryResult = "skipped"
	CanaryExpectedFail   CanaryResult = "expected_fail"
	CanaryUnexpectedPass CanaryResult = "unexpected_pass"
)

// DoctorRunner runs the project-level or per-component doctor command,
// optionally re-running it under the canary env var (spec §4.C8 step 3-5).
type DoctorRunner struct {
	runner Runner
	cfg    *config.DoctorConfig
}

// NewDoctorRunner builds a DoctorRunner.
func NewDoctorRunner(runner Runner, cfg *config.DoctorConfig) *DoctorRunner {
	return &DoctorRunner{runner: runner, cfg: cfg}
}

// DoctorRun is the outcome of one doctor verification, including the canary
// double-run when enabled.
type DoctorRun struct {
	Result       task.ValidatorResult
	CanaryResult CanaryResult
}

// Run executes command (the checkset-selected command, or the project
// doctor fallback) once, then — if the canary is enabled — a second time
// with cfg.CanaryEnvVar set, classifying the pair per spec §4.C8 step 5.
func (d *DoctorRunner) Run(ctx context.Context, workDir, command string) (DoctorRun, error) {
	timeout := time.Duration(d.cfg.TimeoutSeconds) * time.Second

	primary, err := d.runner.Run(ctx, workDir, command, timeout, nil)
	if err != nil {
		return DoctorRun{}, err
	}
	result := task.ValidatorResult{
		Validator: string(KindDoctor),
		Status:    primary.Status,
		Mode:      string(d.cfg.Mode),
		Summary:   FormatSummary(primary),
	}

	if d.cfg.CanaryMode != config.CanaryEnv {
		return DoctorRun{Result: result, CanaryResult: CanarySkipped}, nil
	}

	canaryOut, err := d.runner.Run(ctx, workDir, command, timeout, map[string]string{d.cfg.CanaryEnvVar: "1"})
	if err != nil {
		return DoctorRun{}, err
	}

	if canaryOut.Status == "pass" {
		// The doctor is expected to fail under the canary var (it marks an
		// intentionally-broken path); an unexpected pass means the doctor
		// command is over-permissive and didn't actually exercise it.
		result.Trigger = "doctor_canary_failed"
		if d.cfg.Mode == config.ModeBlock {
			result.Status = "fail"
		}
		return DoctorRun{Result: result, CanaryResult: CanaryUnexpectedPass}, nil
	}
	return DoctorRun{Result: result, CanaryResult: CanaryExpectedFail}, nil
}
