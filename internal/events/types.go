// Package events defines the orchestrator event taxonomy (spec §6) and an
// in-process Publisher that fans events out to the JSONL sink and to
// in-process observers (tests, the CLI's progress display).
package events

import "time"

// Type identifies one of the required event types from spec §6.
type Type string

const (
	RunStart  Type = "run.start"
	RunStop   Type = "run.stop"
	RunPaused Type = "run.paused"

	BatchStart         Type = "batch.start"
	BatchComplete      Type = "batch.complete"
	BatchMergeConflict Type = "batch.merge_conflict"
	BatchMergeRecover  Type = "batch.merge_conflict.recovered"

	TaskStart              Type = "task.start"
	TaskFailed             Type = "task.failed"
	TaskRescopeFail        Type = "task.rescope.failed"
	TaskPolicyDecide       Type = "task.policy.decision"
	TaskPolicyError        Type = "task.policy.error"
	TaskLedgerShortCircuit Type = "task.ledger.short_circuit"

	WorkspacePrepareStart     Type = "workspace.prepare.start"
	WorkspacePrepareComplete  Type = "workspace.prepare.complete"
	WorkspacePrepareRecovered Type = "workspace.prepare.recovered"

	ContainerStart    Type = "container.start"
	ContainerExit     Type = "container.exit"
	ContainerReattach Type = "container.reattach"

	BootstrapStart       Type = "bootstrap.start"
	BootstrapCmdStart    Type = "bootstrap.cmd.start"
	BootstrapCmdComplete Type = "bootstrap.cmd.complete"
	BootstrapCmdFail     Type = "bootstrap.cmd.fail"
	BootstrapComplete    Type = "bootstrap.complete"
	BootstrapFailed      Type = "bootstrap.failed"

	CodexThreadStarted Type = "codex.thread.started"
	CodexThreadResumed Type = "codex.thread.resumed"
	CodexAuth          Type = "codex.auth"

	DoctorPass             Type = "doctor.pass"
	DoctorFail             Type = "doctor.fail"
	DoctorCanarySkipped    Type = "doctor.canary.skipped"
	DoctorCanaryStart      Type = "doctor.canary.start"
	DoctorCanaryExpectFail Type = "doctor.canary.expected_fail"
	DoctorCanaryUnexpectOK Type = "doctor.canary.unexpected_pass"

	ValidatorPass  Type = "validator.pass"
	ValidatorFail  Type = "validator.fail"
	ValidatorError Type = "validator.error"
	ValidatorBlock Type = "validator.block"

	BudgetBlock Type = "budget.block"

	ManifestComplianceWarn  Type = "manifest.compliance.warn"
	ManifestComplianceBlock Type = "manifest.compliance.block"
)

// Event is one published event, mirrored 1:1 into a clock.Record when
// written to the JSONL sink.
type Event struct {
	Type    Type
	TaskID  string
	Attempt int
	Payload any
	Time    time.Time
}

// New builds an Event timestamped now.
func New(t Type, taskID string, attempt int, payload any) Event {
	return Event{Type: t, TaskID: taskID, Attempt: attempt, Payload: payload, Time: time.Now().UTC()}
}
