package taskgraph

// TaskType enumerates the kinds of work a task can represent.
type TaskType string

const (
	TypeAnalyzeSpec              TaskType = "analyze_spec"
	TypeDecomposeSpec            TaskType = "decompose_spec"
	TypeDefineStruct             TaskType = "define_struct"
	TypeImplementFunction        TaskType = "implement_function"
	TypeWriteUnitTest            TaskType = "write_unit_test"
	TypeWriteIntegrationTest     TaskType = "write_integration_test"
	TypeWriteE2ETest             TaskType = "write_e2e_test"
	TypeRefactorCode             TaskType = "refactor_code"
	TypeUpdateFileDocumentation  TaskType = "update_file_documentation"
	TypeUpdateCrateDocumentation TaskType = "update_crate_documentation"
	TypeSetupNewCrate            TaskType = "setup_new_crate"
	TypeRunVerificationStage     TaskType = "run_verification_stage"
	TypeRequestHumanInput        TaskType = "request_human_input"
	TypeGitCommit                TaskType = "git_commit"
	TypeGitPush                  TaskType = "git_push"
	TypeUpdateFileIndex          TaskType = "update_file_index"
	TypeQualifyCrate             TaskType = "qualify_crate"
)

// TaskTypes lists every known task type.
var TaskTypes = []TaskType{
	TypeAnalyzeSpec, TypeDecomposeSpec, TypeDefineStruct, TypeImplementFunction,
	TypeWriteUnitTest, TypeWriteIntegrationTest, TypeWriteE2ETest, TypeRefactorCode,
	TypeUpdateFileDocumentation, TypeUpdateCrateDocumentation, TypeSetupNewCrate,
	TypeRunVerificationStage, TypeRequestHumanInput, TypeGitCommit, TypeGitPush,
	TypeUpdateFileIndex, TypeQualifyCrate,
}

var knownTypes = func() map[TaskType]bool {
	m := make(map[TaskType]bool, len(TaskTypes))
	for _, t := range TaskTypes {
		m[t] = true
	}
	return m
}()

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	return knownTypes[t]
}

// StatusKind is the discriminant of a task Status.
type StatusKind string

const (
	StatusPending                    StatusKind = "pending"
	StatusReady                      StatusKind = "ready"
	StatusInProgress                 StatusKind = "in_progress"
	StatusBlockedByDependency        StatusKind = "blocked_by_dependency"
	StatusBlockedByError             StatusKind = "blocked_by_error"
	StatusAwaitingHumanClarification StatusKind = "awaiting_human_clarification"
	StatusCompletedSuccess           StatusKind = "completed_success"
	StatusCompletedWithWarnings      StatusKind = "completed_with_warnings"
	StatusFailed                     StatusKind = "failed"
)

// Status is a task status. Reason is set only for BlockedByError.
type Status struct {
	Kind   StatusKind `json:"kind" yaml:"kind"`
	Reason string     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func Pending() Status                    { return Status{Kind: StatusPending} }
func Ready() Status                      { return Status{Kind: StatusReady} }
func InProgress() Status                 { return Status{Kind: StatusInProgress} }
func BlockedByDependency() Status        { return Status{Kind: StatusBlockedByDependency} }
func AwaitingHumanClarification() Status { return Status{Kind: StatusAwaitingHumanClarification} }
func CompletedSuccess() Status           { return Status{Kind: StatusCompletedSuccess} }
func CompletedWithWarnings() Status      { return Status{Kind: StatusCompletedWithWarnings} }
func Failed() Status                     { return Status{Kind: StatusFailed} }

// BlockedByError builds the blocked status carrying reason.
func BlockedByError(reason string) Status {
	return Status{Kind: StatusBlockedByError, Reason: reason}
}

// Is reports whether s has the given kind.
func (s Status) Is(kind StatusKind) bool {
	return s.Kind == kind
}

// In reports whether s has any of kinds.
func (s Status) In(kinds ...StatusKind) bool {
	for _, k := range kinds {
		if s.Kind == k {
			return true
		}
	}
	return false
}

// Runnable reports whether a task in this status may be selected.
func (s Status) Runnable() bool {
	return s.Kind == StatusPending || s.Kind == StatusReady
}

// Terminal reports whether the task will not run again without human action.
func (s Status) Terminal() bool {
	switch s.Kind {
	case StatusCompletedSuccess, StatusCompletedWithWarnings, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string {
	if s.Kind == StatusBlockedByError {
		return "BlockedByError(" + s.Reason + ")"
	}
	return string(s.Kind)
}
