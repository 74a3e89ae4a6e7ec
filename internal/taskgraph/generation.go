package taskgraph

// ChangeAction is what a generator did to a file.
type ChangeAction string

const (
	ChangeCreated  ChangeAction = "created"
	ChangeModified ChangeAction = "modified"
	ChangeDeleted  ChangeAction = "deleted"
)

// FileChange is one generated file, relative to the project root.
type FileChange struct {
	Path    string       `json:"path"`
	Content string       `json:"content,omitempty"`
	Action  ChangeAction `json:"action"`
}

// GenerationOutcome is what a code generator reports for a task.
type GenerationOutcome struct {
	TaskID       string       `json:"task_id"`
	Success      bool         `json:"success"`
	ChangedFiles []FileChange `json:"changed_files,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	Error        string       `json:"error_message,omitempty"`
}

// Summary describes the changed files in one line per file.
func (o GenerationOutcome) Summary() string {
	if len(o.ChangedFiles) == 0 {
		return ""
	}
	s := ""
	for i, f := range o.ChangedFiles {
		if i > 0 {
			s += "\n"
		}
		s += string(f.Action) + " " + f.Path
	}
	return s
}
