package task

import (
	"time"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

// Status is the per-task state in the run-engine state machine (spec §4.C10).
type Status string

const (
	StatusPending           Status = "pending"
	StatusRunning           Status = "running"
	StatusValidated         Status = "validated"
	StatusComplete          Status = "complete"
	StatusNeedsRescope      Status = "needs_rescope"
	StatusNeedsHumanReview  Status = "needs_human_review"
	StatusFailed            Status = "failed"
	StatusOverridden        Status = "overridden"
)

// ValidatorResult records one validator's outcome on a task (spec §3).
type ValidatorResult struct {
	Validator  string `json:"validator"`
	Status     string `json:"status"` // pass|fail|error|skipped
	Mode       string `json:"mode"`   // off|warn|block
	Summary    string `json:"summary,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
}

// HumanReview records why a task needs operator attention.
type HumanReview struct {
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint records a durable progress marker written after each phase of
// task execution (spec §4.C10 step 3a "checkpoint to state after every phase").
type Checkpoint struct {
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// State is the mutable per-task record owned by RunState (spec §3 TaskState).
type State struct {
	ID               string            `json:"id"`
	Status           Status            `json:"status"`
	Attempts         int               `json:"attempts"`
	Branch           string            `json:"branch,omitempty"`
	Workspace        string            `json:"workspace,omitempty"`
	LogsDir          string            `json:"logs_dir,omitempty"`
	TokensUsed       int               `json:"tokens_used"`
	EstimatedCostUSD float64           `json:"estimated_cost"`
	ValidatorResults []ValidatorResult `json:"validator_results,omitempty"`
	HumanReview      *HumanReview      `json:"human_review,omitempty"`
	Checkpoints      []Checkpoint      `json:"checkpoints,omitempty"`
	Override         string            `json:"override,omitempty"`
	ContainerID      string            `json:"container_id,omitempty"`
	LastHeartbeat    time.Time         `json:"last_heartbeat,omitempty"`
	Manifest         *Manifest         `json:"-"`
}

// NewState creates a pending task state for m.
func NewState(m *Manifest) *State {
	return &State{ID: m.ID, Status: StatusPending, Manifest: m}
}

// Event is a state-machine transition trigger named in spec §4.C10's diagram.
type Event string

const (
	EventStart            Event = "start"
	EventWorkerOK         Event = "worker_ok"
	EventWorkerFailRetry  Event = "worker_fail_retry"
	EventWorkerFailFinal  Event = "worker_fail_terminal"
	EventComplianceOK     Event = "compliance_ok_and_merged"
	EventComplianceBlock  Event = "compliance_block"
	EventValidatorBlock   Event = "validator_block"
	EventAutoRescopeOK    Event = "auto_rescope_ok"
	EventAutoRescopeFail  Event = "auto_rescope_fail"
	EventStaleHeartbeat   Event = "stale_heartbeat"
	EventOverride         Event = "override"
)

// transitions enumerates the allowed (from, event) -> to moves from spec
// §4.C10's diagram. Any (from, event) pair absent from this table is illegal.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventStart: StatusRunning,
	},
	StatusRunning: {
		EventWorkerOK:        StatusValidated,
		EventWorkerFailRetry: StatusPending,
		EventWorkerFailFinal: StatusFailed,
		EventStaleHeartbeat:  StatusPending,
	},
	StatusValidated: {
		EventComplianceOK:    StatusComplete,
		EventComplianceBlock: StatusNeedsRescope,
		EventValidatorBlock:  StatusNeedsHumanReview,
	},
	StatusNeedsRescope: {
		EventAutoRescopeOK:   StatusPending,
		EventAutoRescopeFail: StatusNeedsHumanReview,
	},
}

// Apply validates and performs a state transition, returning the new status.
// On an illegal transition it returns a TASK_ERROR and leaves s untouched,
// satisfying spec §8 invariant 3 ("every illegal transition ... leaves
// RunState byte-identical").
func (s *State) Apply(ev Event) (Status, error) {
	// "override" is legal from any status and is an operator action, not a
	// worker-driven move (spec §4.C10: "any -> override -> overridden status").
	if ev == EventOverride {
		s.Status = StatusOverridden
		return s.Status, nil
	}

	allowed, ok := transitions[s.Status]
	if !ok {
		return s.Status, mycerrors.NewTaskInvalidTransition(s.ID, string(s.Status), string(ev))
	}
	next, ok := allowed[ev]
	if !ok {
		return s.Status, mycerrors.NewTaskInvalidTransition(s.ID, string(s.Status), string(ev))
	}
	s.Status = next
	return s.Status, nil
}

// IsTerminal reports whether status requires no further engine action.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusNeedsHumanReview, StatusOverridden:
		return true
	default:
		return false
	}
}
