// Package knowledge maintains a local semantic index of a project's code
// and documentation and prepares generation context from it.
//
// The index is a chromem-go database with one collection per project.
// Documents are embedded locally with a feature-hashing embedder, so no
// network access is needed. Refresh is rate limited and idempotent: files
// whose content did not change are not re-embedded, and files that
// disappeared are removed. The index is eventually consistent with the
// workspace; a task may be prepared against an index that does not yet
// include the previous task's changes.
package knowledge
