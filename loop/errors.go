package loop

import "errors"

// Sentinel errors for workspace and git boundaries. Callers match with
// errors.Is; wrapped variants carry the offending path or detail.
var (
	// ErrPathEscape is returned when a tool path resolves outside the
	// workspace root. The check happens before any I/O.
	ErrPathEscape = errors.New("path escapes workspace root")

	// ErrNotFound is returned when a read targets a file that does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrNothingToCommit is returned when a commit is requested but no staged
	// content differs from HEAD.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrWorkspaceUnavailable is returned when the workspace root cannot be
	// read at all, as opposed to a single missing file.
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")
)
