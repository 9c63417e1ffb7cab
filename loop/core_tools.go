package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Baswold/Completeness-agent-loop-harness/llm"
)

// Limits for tool-initiated command execution.
const (
	defaultShellTimeout = 2 * time.Minute
	maxShellTimeout     = 10 * time.Minute
)

// RegisterWorkspaceTools registers the standard workspace tool set: file
// operations, directory listing, shell execution, and content search. This
// is the whole world the implementation actor can act on.
func RegisterWorkspaceTools(r *ToolRegistry) {
	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "read_file",
			Description: "Read a file from the workspace. Returns line-numbered content. Use offset/limit for large files.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":   map[string]interface{}{"type": "string", "description": "Path relative to the workspace root"},
					"offset": map[string]interface{}{"type": "integer", "description": "1-based line to start from"},
					"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of lines to return"},
				},
				"required": []string{"path"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			path, ok := GetStringArg(args, "path")
			if !ok {
				return "", fmt.Errorf("read_file: missing required argument: path")
			}
			offset, _ := GetIntArg(args, "offset")
			limit, _ := GetIntArg(args, "limit")
			return ws.ReadLines(path, offset, limit)
		},
	})

	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "write_file",
			Description: "Create or overwrite a file in the workspace. Parent directories are created automatically.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":    map[string]interface{}{"type": "string", "description": "Path relative to the workspace root"},
					"content": map[string]interface{}{"type": "string", "description": "Full file content"},
				},
				"required": []string{"path", "content"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			path, ok := GetStringArg(args, "path")
			if !ok {
				return "", fmt.Errorf("write_file: missing required argument: path")
			}
			content, ok := GetStringArg(args, "content")
			if !ok {
				return "", fmt.Errorf("write_file: missing required argument: content")
			}
			if err := ws.Write(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "delete_path",
			Description: "Delete a file or directory tree in the workspace.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{"type": "string", "description": "Path relative to the workspace root"},
				},
				"required": []string{"path"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			path, ok := GetStringArg(args, "path")
			if !ok {
				return "", fmt.Errorf("delete_path: missing required argument: path")
			}
			if err := ws.Delete(path); err != nil {
				return "", err
			}
			return "Deleted " + path, nil
		},
	})

	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "move_path",
			Description: "Move or rename a file or directory within the workspace.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"source":      map[string]interface{}{"type": "string", "description": "Existing path"},
					"destination": map[string]interface{}{"type": "string", "description": "New path"},
				},
				"required": []string{"source", "destination"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			src, ok := GetStringArg(args, "source")
			if !ok {
				return "", fmt.Errorf("move_path: missing required argument: source")
			}
			dst, ok := GetStringArg(args, "destination")
			if !ok {
				return "", fmt.Errorf("move_path: missing required argument: destination")
			}
			if err := ws.Move(src, dst); err != nil {
				return "", err
			}
			return fmt.Sprintf("Moved %s to %s", src, dst), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "list_dir",
			Description: "List the entries of a workspace directory.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{"type": "string", "description": "Path relative to the workspace root; defaults to the root"},
				},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			path, _ := GetStringArg(args, "path")
			if path == "" {
				path = "."
			}
			entries, err := ws.List(path)
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&sb, "%s/\n", e.Name)
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
				}
			}
			return sb.String(), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "shell",
			Description: "Run a shell command in the workspace root. Output is truncated; long-running commands are killed at the timeout.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command":    map[string]interface{}{"type": "string", "description": "Command to execute with bash -c"},
					"timeout_ms": map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds (default 120000, max 600000)"},
				},
				"required": []string{"command"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			command, ok := GetStringArg(args, "command")
			if !ok {
				return "", fmt.Errorf("shell: missing required argument: command")
			}
			timeout := defaultShellTimeout
			if ms, ok := GetIntArg(args, "timeout_ms"); ok && ms > 0 {
				timeout = time.Duration(ms) * time.Millisecond
				if timeout > maxShellTimeout {
					timeout = maxShellTimeout
				}
			}
			result, err := ws.Exec(context.Background(), command, timeout)
			if err != nil {
				return "", err
			}
			return formatExecResult(result), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "grep",
			Description: "Search file contents under the workspace with a regex pattern.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern":          map[string]interface{}{"type": "string", "description": "Regex pattern"},
					"path":             map[string]interface{}{"type": "string", "description": "Directory to search; defaults to the root"},
					"glob":             map[string]interface{}{"type": "string", "description": "Glob filter, e.g. *.go"},
					"case_insensitive": map[string]interface{}{"type": "boolean"},
				},
				"required": []string{"pattern"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			pattern, ok := GetStringArg(args, "pattern")
			if !ok {
				return "", fmt.Errorf("grep: missing required argument: pattern")
			}
			path, _ := GetStringArg(args, "path")
			globFilter, _ := GetStringArg(args, "glob")
			ci, _ := GetBoolArg(args, "case_insensitive")
			return ws.Grep(context.Background(), pattern, path, GrepOptions{
				GlobFilter:      globFilter,
				CaseInsensitive: ci,
				MaxResults:      200,
			})
		},
	})

	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "glob",
			Description: "Find files matching a glob pattern, e.g. **/*.go or cmd/*.go.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{"type": "string", "description": "Glob pattern"},
					"path":    map[string]interface{}{"type": "string", "description": "Directory to search from; defaults to the root"},
				},
				"required": []string{"pattern"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			pattern, ok := GetStringArg(args, "pattern")
			if !ok {
				return "", fmt.Errorf("glob: missing required argument: pattern")
			}
			path, _ := GetStringArg(args, "path")
			matches, err := ws.Glob(pattern, path)
			if err != nil {
				return "", err
			}
			return strings.Join(matches, "\n"), nil
		},
	})
}

// RegisterTestTool registers run_tests bound to the configured verification
// command, so the implementation actor can check its work before stopping.
func RegisterTestTool(r *ToolRegistry, testCommand string, timeout time.Duration) {
	if testCommand == "" {
		return
	}
	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "run_tests",
			Description: "Run the project's configured test command and return its output.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			result, err := ws.Exec(context.Background(), testCommand, timeout)
			if err != nil {
				return "", err
			}
			return formatExecResult(result), nil
		},
	})
}

// RegisterCommitTool registers a commit tool bound to the git layer. The
// message is sanitized before it reaches history, so the actor cannot embed
// completeness claims in commits.
func RegisterCommitTool(r *ToolRegistry, repo *Repo, sanitizer *Sanitizer) {
	r.Register(RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "commit",
			Description: "Commit the listed files with a message. An empty file list commits all changes.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"files":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"message": map[string]interface{}{"type": "string", "description": "Commit message"},
				},
				"required": []string{"message"},
			},
		},
		Executor: func(arguments json.RawMessage, ws *Workspace) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			message, ok := GetStringArg(args, "message")
			if !ok {
				return "", fmt.Errorf("commit: missing required argument: message")
			}
			files, _ := GetStringSliceArg(args, "files")
			hash, err := repo.Commit(files, sanitizer.Sanitize(message))
			if err != nil {
				return "", err
			}
			return "Committed " + hash, nil
		},
	})
}

func formatExecResult(result *ExecResult) string {
	var sb strings.Builder
	sb.WriteString(result.Output())
	if result.TimedOut {
		fmt.Fprintf(&sb, "\n[command timed out after %dms]", result.DurationMs)
	} else if result.ExitCode != 0 {
		fmt.Fprintf(&sb, "\n[exit code %d]", result.ExitCode)
	}
	return sb.String()
}
