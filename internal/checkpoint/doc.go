// Package checkpoint snapshots orchestration sessions to JSON files and
// restores them.
//
// Each checkpoint is stored as <dir>/<id>.json. A restored session never
// resumes a task mid-execution: an ExecutingTask session comes back as
// ReadyToExecute with the interrupted task Pending.
package checkpoint
