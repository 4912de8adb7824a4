package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/task"
)

// fakeRunner scripts one Outcome per Kind (keyed by the command string, since
// Pipeline.RunAll passes each validator's configured command verbatim).
type fakeRunner struct {
	outcomes map[string]Outcome
	errs     map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, workDir, command string, timeout time.Duration, extraEnv map[string]string) (Outcome, error) {
	if err, ok := f.errs[command]; ok {
		return Outcome{}, err
	}
	return f.outcomes[command], nil
}

func TestPipeline_RunAll_SkipsDisabledValidators(t *testing.T) {
	cfg := &config.ValidatorConfig{
		Test:  config.ValidatorSpec{Enabled: true, Mode: config.ModeBlock, Command: "go test ./..."},
		Style: config.ValidatorSpec{Enabled: false, Mode: config.ModeWarn},
	}
	runner := &fakeRunner{outcomes: map[string]Outcome{"go test ./...": {Status: "pass"}}}
	p := NewPipeline(runner, cfg)

	results := p.RunAll(context.Background(), "/work")
	require.Len(t, results, 3)
	require.Equal(t, "pass", results[0].Status)
	require.Equal(t, "skipped", results[1].Status)
}

func TestPipeline_RunAll_RunnerErrorBecomesErrorStatus(t *testing.T) {
	cfg := &config.ValidatorConfig{
		Test: config.ValidatorSpec{Enabled: true, Mode: config.ModeBlock, Command: "go test ./..."},
	}
	runner := &fakeRunner{errs: map[string]error{"go test ./...": errors.New("exec failed")}}
	p := NewPipeline(runner, cfg)

	results := p.RunAll(context.Background(), "/work")
	require.Len(t, results, 3)
	require.Equal(t, "error", results[0].Status)
	require.Contains(t, results[0].Summary, "exec failed")
}

func TestEvaluateBlock_BlockModeFailStops(t *testing.T) {
	results := []task.ValidatorResult{
		{Validator: "test", Status: "pass", Mode: "block"},
		{Validator: "style", Status: "fail", Mode: "block"},
	}
	b, blocked := EvaluateBlock(results)
	require.True(t, blocked)
	require.Equal(t, "style", b.Validator)
}

func TestEvaluateBlock_WarnModeNeverBlocks(t *testing.T) {
	results := []task.ValidatorResult{{Validator: "style", Status: "fail", Mode: "warn"}}
	_, blocked := EvaluateBlock(results)
	require.False(t, blocked)
}

func TestEvaluateBlock_NoBlockingResult(t *testing.T) {
	results := []task.ValidatorResult{{Validator: "test", Status: "pass", Mode: "block"}}
	_, blocked := EvaluateBlock(results)
	require.False(t, blocked)
}

func TestFormatSummary_IncludesEffectiveConcernsRecs(t *testing.T) {
	s := FormatSummary(Outcome{Effective: true, Concerns: 2, Recs: 1, Canary: "x"})
	require.Contains(t, s, "Effective: yes")
	require.Contains(t, s, "Concerns: 2")
	require.Contains(t, s, "Recs: 1")
	require.Contains(t, s, "Canary: x")
}

// fakeCommandRunner implements CommandRunner, scripting exit success/failure
// per command string.
type fakeCommandRunner struct {
	fail map[string]bool
	out  map[string]string
}

func (f *fakeCommandRunner) Run(workDir, name string, args ...string) (string, error) {
	cmd := args[len(args)-1]
	if f.fail[cmd] {
		return f.out[cmd], errors.New("exit status 1")
	}
	return f.out[cmd], nil
}

func TestShellRunner_Run_SuccessIsPass(t *testing.T) {
	cr := &fakeCommandRunner{out: map[string]string{"true": "ok"}}
	r := NewShellRunner(cr)
	out, err := r.Run(context.Background(), "/work", "true", time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, "pass", out.Status)
}

func TestShellRunner_Run_NonZeroExitIsFail(t *testing.T) {
	cr := &fakeCommandRunner{fail: map[string]bool{"false": true}}
	r := NewShellRunner(cr)
	out, err := r.Run(context.Background(), "/work", "false", time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, "fail", out.Status)
}

func TestDoctorRunner_Run_CanaryDisabledSkipsSecondRun(t *testing.T) {
	cfg := &config.DoctorConfig{Mode: config.ModeBlock, CanaryMode: config.CanaryOff, TimeoutSeconds: 5}
	runner := &fakeRunner{outcomes: map[string]Outcome{"doctor": {Status: "pass"}}}
	d := NewDoctorRunner(runner, cfg)

	run, err := d.Run(context.Background(), "/work", "doctor")
	require.NoError(t, err)
	require.Equal(t, CanarySkipped, run.CanaryResult)
	require.Equal(t, "pass", run.Result.Status)
}

func TestDoctorRunner_Run_CanaryUnexpectedPassBlocksInBlockMode(t *testing.T) {
	cfg := &config.DoctorConfig{Mode: config.ModeBlock, CanaryMode: config.CanaryEnv, CanaryEnvVar: "MYCELIUM_CANARY", TimeoutSeconds: 5}
	runner := &canaryRunner{primary: Outcome{Status: "pass"}, canary: Outcome{Status: "pass"}}
	d := NewDoctorRunner(runner, cfg)

	run, err := d.Run(context.Background(), "/work", "doctor")
	require.NoError(t, err)
	require.Equal(t, CanaryUnexpectedPass, run.CanaryResult)
	require.Equal(t, "fail", run.Result.Status)
	require.Equal(t, "doctor_canary_failed", run.Result.Trigger)
}

func TestDoctorRunner_Run_CanaryExpectedFailLeavesResultUnchanged(t *testing.T) {
	cfg := &config.DoctorConfig{Mode: config.ModeBlock, CanaryMode: config.CanaryEnv, CanaryEnvVar: "MYCELIUM_CANARY", TimeoutSeconds: 5}
	runner := &canaryRunner{primary: Outcome{Status: "pass"}, canary: Outcome{Status: "fail"}}
	d := NewDoctorRunner(runner, cfg)

	run, err := d.Run(context.Background(), "/work", "doctor")
	require.NoError(t, err)
	require.Equal(t, CanaryExpectedFail, run.CanaryResult)
	require.Equal(t, "pass", run.Result.Status)
}

// canaryRunner distinguishes the primary run from the canary re-run by
// whether extraEnv is set, since DoctorRunner issues both against the same
// command string.
type canaryRunner struct {
	primary Outcome
	canary  Outcome
}

func (c *canaryRunner) Run(ctx context.Context, workDir, command string, timeout time.Duration, extraEnv map[string]string) (Outcome, error) {
	if len(extraEnv) > 0 {
		return c.canary, nil
	}
	return c.primary, nil
}
