// Package loop implements the completeness loop: a cycle controller that
// alternates an implementation actor and a review actor over a shared
// workspace until a specification is judged complete.
//
// The two actors are isolated by construction. The implementation actor works
// through a tool registry scoped to the workspace and produces a free-text
// closing response that is logged and discarded. The review actor sees only
// durable state: the specification, the file tree, file contents, and git
// history. Nothing the implementation actor says about its own work can reach
// the reviewer.
//
// State (cycle count, phase, completeness score, error counts, token usage)
// is persisted to a JSON file in the workspace after every mutation, so a run
// can be paused with context cancellation and resumed later.
package loop
