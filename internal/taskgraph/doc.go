// Package taskgraph holds the task model of the orchestration engine.
//
// A Task is a unit of generation work with an id, a type, dependencies on
// other tasks and a status. Statuses that carry a payload (BlockedByError)
// are modeled as a tagged variant: a Status value pairs a StatusKind with
// an optional reason, and constructors such as BlockedByError build the
// valid combinations.
//
// Tasks enter a session only through Admit, which validates a whole
// decomposition batch (unique ids, resolvable dependencies and parents, no
// cycles) and rejects it wholesale on any violation.
//
// Attempts are append-only. The first execution of a task is attempt 1 and
// CurrentAttemptNumber always equals len(Attempts). A human reset records
// AttemptBaseline so that the self-correction budget restarts without
// discarding history.
package taskgraph
