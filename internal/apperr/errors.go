// Package apperr defines the error kinds surfaced by the orchestration engine.
//
// Every error carries a Kind so callers can branch with errors.Is against the
// kind sentinels (ErrInvalidState, ErrTaskDependency, ...) while still
// receiving a descriptive message and any wrapped cause.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine error.
type Kind string

const (
	// KindConfiguration indicates a missing project, path or setting.
	KindConfiguration Kind = "configuration"
	// KindInvalidState indicates an operation attempted in the wrong project status.
	KindInvalidState Kind = "invalid_state"
	// KindTaskDependency indicates a reference to an unknown dependency id.
	KindTaskDependency Kind = "task_dependency"
	// KindDuplicateTask indicates a task id that appears more than once.
	KindDuplicateTask Kind = "duplicate_task"
	// KindCyclicDependency indicates a dependency cycle in a task batch.
	KindCyclicDependency Kind = "cyclic_dependency"
	// KindVerification indicates a verification stage that could not run.
	KindVerification Kind = "verification"
	// KindGeneration indicates a failure reported by the code generator.
	KindGeneration Kind = "generation"
	// KindHumanInputRequired indicates escalation to a human operator.
	KindHumanInputRequired Kind = "human_input_required"
	// KindNotFound indicates a missing task, session or checkpoint.
	KindNotFound Kind = "not_found"
	// KindIO indicates a filesystem or process failure.
	KindIO Kind = "io"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrTaskDependency     = &Error{Kind: KindTaskDependency}
	ErrDuplicateTask      = &Error{Kind: KindDuplicateTask}
	ErrCyclicDependency   = &Error{Kind: KindCyclicDependency}
	ErrVerification       = &Error{Kind: KindVerification}
	ErrGeneration         = &Error{Kind: KindGeneration}
	ErrHumanInputRequired = &Error{Kind: KindHumanInputRequired}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrIO                 = &Error{Kind: KindIO}
)

// Error is a classified engine error.
type Error struct {
	Kind      Kind
	Operation string // operation that failed, e.g. "start_processing"
	Message   string
	Err       error

	// Payload, populated depending on Kind.
	Current      string   // InvalidState: observed status
	Expected     []string // InvalidState: acceptable statuses
	TaskID       string   // TaskDependency, DuplicateTask
	DependencyID string   // TaskDependency
	Path         []string // CyclicDependency
	Stage        string   // Verification
	Prompt       string   // HumanInputRequired
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}
	b.WriteString(e.describe())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) describe() string {
	switch e.Kind {
	case KindInvalidState:
		return fmt.Sprintf("invalid state %s, expected %s", e.Current, strings.Join(e.Expected, " or "))
	case KindTaskDependency:
		return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DependencyID)
	case KindDuplicateTask:
		return fmt.Sprintf("duplicate task id %q", e.TaskID)
	case KindCyclicDependency:
		return "circular dependency detected: " + strings.Join(e.Path, " -> ")
	case KindVerification:
		return fmt.Sprintf("verification stage %q: %s", e.Stage, e.Message)
	case KindHumanInputRequired:
		return "human input required: " + e.Prompt
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Configuration reports a missing or invalid project setting.
func Configuration(op, msg string) *Error {
	return &Error{Kind: KindConfiguration, Operation: op, Message: msg}
}

// InvalidState reports an operation attempted in the wrong status.
func InvalidState(current string, expected []string, op string) *Error {
	return &Error{Kind: KindInvalidState, Operation: op, Current: current, Expected: expected}
}

// TaskDependency reports a dependency on an id absent from the batch.
func TaskDependency(taskID, depID string) *Error {
	return &Error{Kind: KindTaskDependency, Operation: "admit_tasks", TaskID: taskID, DependencyID: depID}
}

// Duplicate reports a repeated task id.
func Duplicate(taskID string) *Error {
	return &Error{Kind: KindDuplicateTask, Operation: "admit_tasks", TaskID: taskID}
}

// Cycle reports a dependency cycle along path.
func Cycle(path []string) *Error {
	return &Error{Kind: KindCyclicDependency, Operation: "admit_tasks", Path: path}
}

// Verification reports a stage that could not be run.
func Verification(stage string, err error) *Error {
	msg := "could not run"
	return &Error{Kind: KindVerification, Operation: "verify", Stage: stage, Message: msg, Err: err}
}

// Generation reports a generator failure.
func Generation(msg string, err error) *Error {
	return &Error{Kind: KindGeneration, Operation: "generate", Message: msg, Err: err}
}

// HumanInputRequired reports an escalation carrying the operator prompt.
func HumanInputRequired(prompt string) *Error {
	return &Error{Kind: KindHumanInputRequired, Prompt: prompt}
}

// NotFound reports a missing entity.
func NotFound(op, what string) *Error {
	return &Error{Kind: KindNotFound, Operation: op, Message: what + " not found"}
}

// IO wraps a filesystem or process error.
func IO(op string, err error) *Error {
	return &Error{Kind: KindIO, Operation: op, Err: err}
}
