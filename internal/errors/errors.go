// Package errors provides structured error types for mycelium.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code identifies a class of error.
type Code string

// Error codes, grouped by the taxonomy in spec §7.
const (
	CodeConfigInvalid Code = "CONFIG_ERROR"
	CodeTaskInvalid   Code = "TASK_ERROR"
	CodeGit           Code = "GIT_ERROR"
	CodeGitConflict   Code = "GIT_ERROR.merge_conflict"
	CodeDocker        Code = "DOCKER_ERROR"
	CodeLLM           Code = "LLM_ERROR"
)

// Category groups codes for coarse handling (retry vs. fatal, etc).
type Category int

const (
	CategoryUnknown Category = iota
	CategoryBadRequest
	CategoryConflict
	CategoryUnavailable
	CategoryInternal
)

var codeCategories = map[Code]Category{
	CodeConfigInvalid: CategoryBadRequest,
	CodeTaskInvalid:   CategoryBadRequest,
	CodeGit:           CategoryInternal,
	CodeGitConflict:   CategoryConflict,
	CodeDocker:        CategoryUnavailable,
	CodeLLM:           CategoryUnavailable,
}

// MyceliumError is the structured error type used throughout the engine.
type MyceliumError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements error.
func (e *MyceliumError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *MyceliumError) Unwrap() error { return e.Cause }

// Is reports whether target is a MyceliumError with the same code.
func (e *MyceliumError) Is(target error) bool {
	t, ok := target.(*MyceliumError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Category returns the coarse category for this error's code.
func (e *MyceliumError) Category() Category {
	if c, ok := codeCategories[e.Code]; ok {
		return c
	}
	return CategoryUnknown
}

// UserMessage renders the short-mode CLI message (What/Why/Fix).
func (e *MyceliumError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// DebugMessage renders the debug-mode CLI message (adds code/cause).
func (e *MyceliumError) DebugMessage() string {
	msg := e.UserMessage()
	msg += fmt.Sprintf("\n\nCode: %s", e.Code)
	if e.Cause != nil {
		msg += fmt.Sprintf("\nCause: %s", e.Cause.Error())
	}
	return msg
}

// MarshalJSON implements json.Marshaler, including the flattened cause.
func (e *MyceliumError) MarshalJSON() ([]byte, error) {
	type alias MyceliumError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// WithCause returns a copy of e with Cause set.
func (e *MyceliumError) WithCause(cause error) *MyceliumError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// As reports whether err is (or wraps) a *MyceliumError, writing into target.
func As(err error, target **MyceliumError) bool {
	for err != nil {
		if me, ok := err.(*MyceliumError); ok {
			*target = me
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Wrap converts any error into a MyceliumError carrying the given code.
func Wrap(code Code, what string, cause error) *MyceliumError {
	return &MyceliumError{Code: code, What: what, Cause: cause}
}

// --- Constructors ---

// NewConfigInvalid builds a CONFIG_ERROR for an invalid or missing field.
func NewConfigInvalid(field, why string) *MyceliumError {
	return &MyceliumError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  why,
		Fix:  "Check the project's config.yaml (<home>/projects/<project>/config.yaml) and fix the invalid field",
	}
}

// NewTaskInvalidTransition builds a TASK_ERROR for an illegal state transition.
func NewTaskInvalidTransition(taskID, from, event string) *MyceliumError {
	return &MyceliumError{
		Code: CodeTaskInvalid,
		What: fmt.Sprintf("task %s cannot handle event %q from state %q", taskID, event, from),
		Why:  "the requested transition is not allowed by the task state machine",
		Fix:  "inspect the run state with 'mycelium status' before retrying",
	}
}

// NewTaskNotFound builds a TASK_ERROR for a missing task id.
func NewTaskNotFound(taskID string) *MyceliumError {
	return &MyceliumError{
		Code: CodeTaskInvalid,
		What: fmt.Sprintf("task %s not found", taskID),
		Why:  "no task with this id exists in the current plan",
		Fix:  "run 'mycelium plan --dry-run' to list declared tasks",
	}
}

// NewGit builds a GIT_ERROR, classifying conflict-marker failures separately.
func NewGit(op string, cause error, isConflict bool) *MyceliumError {
	code := CodeGit
	what := fmt.Sprintf("git operation %q failed", op)
	if isConflict {
		code = CodeGitConflict
		what = fmt.Sprintf("git operation %q produced a merge conflict", op)
	}
	return &MyceliumError{Code: code, What: what, Cause: cause}
}

// NewDockerUnreachable builds a DOCKER_ERROR for an unreachable daemon.
func NewDockerUnreachable(cause error) *MyceliumError {
	return &MyceliumError{
		Code:  CodeDocker,
		What:  "could not reach the Docker daemon",
		Why:   "the worker container could not be created or started",
		Fix:   "Start the Docker daemon and retry, or run with --local-worker to bypass Docker.",
		Cause: cause,
	}
}

// NewDockerError builds a generic DOCKER_ERROR.
func NewDockerError(what string, cause error) *MyceliumError {
	return &MyceliumError{Code: CodeDocker, What: what, Cause: cause}
}

// NewLLMUnauthorized builds an LLM_ERROR for a 401 from a provider.
func NewLLMUnauthorized(provider string) *MyceliumError {
	return &MyceliumError{
		Code: CodeLLM,
		What: fmt.Sprintf("%s rejected the request as unauthorized", provider),
		Why:  "the configured API key was missing or invalid",
		Fix:  fmt.Sprintf("set a valid API key for %s and retry", provider),
	}
}

// NewLLMError builds a generic LLM_ERROR.
func NewLLMError(what string, cause error) *MyceliumError {
	return &MyceliumError{Code: CodeLLM, What: what, Cause: cause}
}
