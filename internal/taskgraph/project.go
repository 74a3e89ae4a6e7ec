package taskgraph

// ProjectKind is the discriminant of a ProjectStatus.
type ProjectKind string

const (
	ProjectUnloaded           ProjectKind = "Unloaded"
	ProjectIdle               ProjectKind = "Idle"
	ProjectPlanning           ProjectKind = "Planning"
	ProjectReadyToExecute     ProjectKind = "ReadyToExecute"
	ProjectExecutingTask      ProjectKind = "ExecutingTask"
	ProjectAwaitingHumanInput ProjectKind = "AwaitingHumanInput"
	ProjectSelfCorrecting     ProjectKind = "SelfCorrecting"
	ProjectPaused             ProjectKind = "Paused"
	ProjectError              ProjectKind = "Error"
	ProjectCompletedGoal      ProjectKind = "CompletedGoal"
)

// ProjectStatus is the session-level state. Message is set for
// AwaitingHumanInput and Error; TaskID for SelfCorrecting, ExecutingTask,
// AwaitingHumanInput and a Paused session with a retry pending.
type ProjectStatus struct {
	Kind    ProjectKind `json:"kind"`
	Message string      `json:"message,omitempty"`
	TaskID  string      `json:"task_id,omitempty"`
}

func Unloaded() ProjectStatus       { return ProjectStatus{Kind: ProjectUnloaded} }
func Idle() ProjectStatus           { return ProjectStatus{Kind: ProjectIdle} }
func Planning() ProjectStatus       { return ProjectStatus{Kind: ProjectPlanning} }
func ReadyToExecute() ProjectStatus { return ProjectStatus{Kind: ProjectReadyToExecute} }
func Paused() ProjectStatus         { return ProjectStatus{Kind: ProjectPaused} }
func CompletedGoal() ProjectStatus  { return ProjectStatus{Kind: ProjectCompletedGoal} }

// ExecutingTask marks taskID as dispatched.
func ExecutingTask(taskID string) ProjectStatus {
	return ProjectStatus{Kind: ProjectExecutingTask, TaskID: taskID}
}

// SelfCorrecting restricts selection to taskID for a bounded retry.
func SelfCorrecting(taskID string) ProjectStatus {
	return ProjectStatus{Kind: ProjectSelfCorrecting, TaskID: taskID}
}

// AwaitingHumanInput escalates taskID to an operator with msg as the
// prompt. Only a response for taskID clears it.
func AwaitingHumanInput(taskID, msg string) ProjectStatus {
	return ProjectStatus{Kind: ProjectAwaitingHumanInput, TaskID: taskID, Message: msg}
}

// PausedBeforeRetry pauses with a self-correction of taskID pending;
// resuming continues that retry.
func PausedBeforeRetry(taskID string) ProjectStatus {
	return ProjectStatus{Kind: ProjectPaused, TaskID: taskID}
}

// ErrorStatus halts orchestration until reload.
func ErrorStatus(msg string) ProjectStatus {
	return ProjectStatus{Kind: ProjectError, Message: msg}
}

// Is reports whether s has the given kind.
func (s ProjectStatus) Is(kind ProjectKind) bool {
	return s.Kind == kind
}

// In reports whether s has any of kinds.
func (s ProjectStatus) In(kinds ...ProjectKind) bool {
	for _, k := range kinds {
		if s.Kind == k {
			return true
		}
	}
	return false
}

func (s ProjectStatus) String() string {
	switch s.Kind {
	case ProjectAwaitingHumanInput, ProjectError:
		return string(s.Kind) + "(" + s.Message + ")"
	case ProjectSelfCorrecting, ProjectExecutingTask:
		return string(s.Kind) + "(" + s.TaskID + ")"
	case ProjectPaused:
		if s.TaskID != "" {
			return string(s.Kind) + "(retry " + s.TaskID + ")"
		}
	}
	return string(s.Kind)
}

// LoopStatuses are the statuses in which the orchestration loop keeps iterating.
var LoopStatuses = []ProjectKind{
	ProjectReadyToExecute, ProjectSelfCorrecting, ProjectIdle, ProjectCompletedGoal,
}
