package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace scopes all file operations to a single root directory. Every path
// argument is canonicalized and checked against the root before any I/O, so a
// `..` traversal or an absolute path pointing elsewhere fails with
// ErrPathEscape without touching the filesystem.
type Workspace struct {
	root string
}

// NewWorkspace creates a Workspace rooted at dir, which must exist.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrWorkspaceUnavailable, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrWorkspaceUnavailable, abs)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve canonicalizes path relative to the root and rejects anything that
// lands outside it. Absolute paths are accepted only when they are inside the
// root.
func (w *Workspace) Resolve(path string) (string, error) {
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(w.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if candidate != w.root && !strings.HasPrefix(candidate, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return candidate, nil
}

// Rel converts an absolute path under the root back to a root-relative one.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// Read returns the full content of a file. A missing file yields ErrNotFound.
func (w *Workspace) Read(path string) (string, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// ReadLines returns a line-numbered slice of a file. offset is 1-based; a
// zero limit means the rest of the file.
func (w *Workspace) ReadLines(path string, offset, limit int) (string, error) {
	content, err := w.Read(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(content, "\n")

	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// Write replaces the content of a file atomically: the data is written to a
// temp file in the same directory and renamed over the target, so a crash
// never leaves a partial file. Parent directories are created as needed.
func (w *Workspace) Write(path, content string) error {
	resolved, err := w.Resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write %s: create parent: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Delete removes a file or an entire directory tree.
func (w *Workspace) Delete(path string) error {
	resolved, err := w.Resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := os.RemoveAll(resolved); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Move renames a file or directory within the workspace.
func (w *Workspace) Move(src, dst string) error {
	from, err := w.Resolve(src)
	if err != nil {
		return err
	}
	to, err := w.Resolve(dst)
	if err != nil {
		return err
	}
	if _, err := os.Stat(from); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("move %s: create parent: %w", dst, err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Exists reports whether a path exists inside the workspace.
func (w *Workspace) Exists(path string) bool {
	resolved, err := w.Resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// DirEntry is a single directory listing entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// List returns the entries of a directory.
func (w *Workspace) List(path string) ([]DirEntry, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	result := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		de := DirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil {
			de.Size = info.Size()
		}
		result = append(result, de)
	}
	return result, nil
}

// Glob matches files by pattern relative to the workspace root and returns
// root-relative paths.
func (w *Workspace) Glob(pattern, path string) ([]string, error) {
	base := w.root
	if path != "" {
		resolved, err := w.Resolve(path)
		if err != nil {
			return nil, err
		}
		base = resolved
	}
	matches, err := filepath.Glob(filepath.Join(base, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	result := make([]string, len(matches))
	for i, m := range matches {
		result[i] = w.Rel(m)
	}
	return result, nil
}
