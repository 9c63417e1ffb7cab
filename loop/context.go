package loop

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Baswold/Completeness-agent-loop-harness/llm"
)

// Directories and files never included in context packages.
var ignoredDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "__pycache__": true, ".venv": true, "venv": true,
	"target": true, "dist": true, "build": true, "vendor": true,
	".idea": true, ".vscode": true,
}

var ignoredFiles = map[string]bool{
	StateFileName: true,
	".DS_Store":   true,
}

// Extensions considered source or test content for the review package.
var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true, ".rs": true,
	".rb": true, ".sh": true, ".sql": true, ".proto": true,
	".yaml": true, ".yml": true, ".toml": true, ".json": true,
	".md": true, ".html": true, ".css": true, ".mod": true,
}

var filePathPattern = regexp.MustCompile(`[\w./-]+\.\w{1,5}`)

// ContextBuilder assembles the per-cycle input packages for both actors from
// durable state only: the workspace files, the specification, and git
// history. It holds no reference to actor responses, which is what enforces
// the isolation between the two roles.
type ContextBuilder struct {
	ws     *Workspace
	repo   *Repo
	spec   string
	logger *zap.Logger

	// Token budgets per package, estimated at four characters per token.
	ImplementerBudget int
	ReviewerBudget    int
	GitLogEntries     int
}

// NewContextBuilder creates a ContextBuilder over the workspace and its
// repository. spec is the original specification text, included verbatim in
// every review package.
func NewContextBuilder(ws *Workspace, repo *Repo, spec string, logger *zap.Logger) *ContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextBuilder{
		ws:                ws,
		repo:              repo,
		spec:              spec,
		logger:            logger,
		ImplementerBudget: 24000,
		ReviewerBudget:    48000,
		GitLogEntries:     5,
	}
}

type workspaceFile struct {
	path    string // root-relative
	size    int64
	modTime int64
}

// listFiles walks the workspace and returns all non-ignored files.
func (b *ContextBuilder) listFiles() ([]workspaceFile, error) {
	var files []workspaceFile
	root := b.ws.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if ignoredDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoredFiles[name] || strings.HasPrefix(name, ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, workspaceFile{
			path:    b.ws.Rel(path),
			size:    info.Size(),
			modTime: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspaceUnavailable, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// FileTree renders the workspace as an indented path listing.
func (b *ContextBuilder) FileTree() (string, error) {
	files, err := b.listFiles()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, f := range files {
		depth := strings.Count(f.path, string(filepath.Separator))
		fmt.Fprintf(&sb, "%s%s\n", strings.Repeat("  ", depth), f.path)
	}
	return sb.String(), nil
}

// BuildImplementationPackage assembles the implementation actor's input:
// goal restatement, reviewer instructions, pending tool-error notes, the
// last commit message, the file tree, and as many prioritized file contents
// as the token budget allows. The tree and instructions always survive the
// budget; file contents are dropped lowest-priority first.
func (b *ContextBuilder) BuildImplementationPackage(state *RunState) (string, error) {
	files, err := b.listFiles()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Task\n\n")
	sb.WriteString("You are implementing a software specification incrementally. ")
	sb.WriteString("Work on the most important unfinished part, using your tools to read and modify the workspace.\n\n")
	fmt.Fprintf(&sb, "Cycle %d. Current phase: %s.\n\n", state.CycleCount, state.Phase)

	sb.WriteString("## Instructions\n\n")
	if state.LastReview != nil && state.LastReview.NextInstructions != "" {
		sb.WriteString(state.LastReview.NextInstructions + "\n\n")
	} else {
		sb.WriteString("No review has happened yet. Read the existing files, then start implementing the specification from its first requirement.\n\n")
	}

	if state.LastReview != nil && len(state.LastReview.RemainingWork) > 0 {
		sb.WriteString("## Remaining work (priority order)\n\n")
		for _, item := range state.LastReview.RemainingWork {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
		sb.WriteString("\n")
	}
	if state.LastReview != nil && len(state.LastReview.SpecificIssues) > 0 {
		sb.WriteString("## Known issues\n\n")
		for _, item := range state.LastReview.SpecificIssues {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
		sb.WriteString("\n")
	}

	if len(state.PendingErrorNotes) > 0 {
		sb.WriteString("## Tool errors from the previous cycle\n\n")
		for _, note := range state.PendingErrorNotes {
			fmt.Fprintf(&sb, "- %s\n", note)
		}
		sb.WriteString("\n")
	}

	if b.repo != nil {
		if msg := b.repo.HeadMessage(); msg != "" {
			sb.WriteString("## Last commit\n\n")
			sb.WriteString(strings.TrimSpace(msg) + "\n\n")
		}
	}

	tree, err := b.FileTree()
	if err != nil {
		return "", err
	}
	sb.WriteString("## File tree\n\n")
	sb.WriteString(tree + "\n")

	// Fill the remaining budget with file contents, highest priority first.
	budget := b.ImplementerBudget - llm.EstimateTokens(sb.String())
	prioritized := b.prioritizeFiles(files, state.LastReview)
	included := 0
	for _, f := range prioritized {
		if budget <= 0 {
			break
		}
		content, err := b.ws.Read(f.path)
		if err != nil {
			continue
		}
		cost := llm.EstimateTokens(content) + 20
		if cost > budget {
			continue
		}
		fmt.Fprintf(&sb, "## File: %s\n\n```\n%s\n```\n\n", f.path, content)
		budget -= cost
		included++
	}
	b.logger.Debug("built implementation package",
		zap.Int("files_included", included),
		zap.Int("files_total", len(files)))

	return sb.String(), nil
}

// prioritizeFiles orders candidate files: ones referenced by the previous
// review first, then by modification time, newest first.
func (b *ContextBuilder) prioritizeFiles(files []workspaceFile, review *ReviewResult) []workspaceFile {
	referenced := make(map[string]bool)
	if review != nil {
		for _, text := range append(review.SpecificIssues, review.RemainingWork...) {
			for _, m := range filePathPattern.FindAllString(text, -1) {
				referenced[strings.TrimPrefix(m, "./")] = true
			}
		}
	}

	sorted := make([]workspaceFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := referenced[sorted[i].path], referenced[sorted[j].path]
		if ri != rj {
			return ri
		}
		return sorted[i].modTime > sorted[j].modTime
	})
	return sorted
}

// BuildReviewPackage assembles the review actor's input from durable state
// only: the specification verbatim, the file tree, source file contents up
// to the budget (with an explicit omission marker when the budget cuts
// files), and the factual fields of recent git history. Nothing from the
// implementation actor's responses can appear here.
func (b *ContextBuilder) BuildReviewPackage(state *RunState, verification string) (string, error) {
	files, err := b.listFiles()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Specification\n\n")
	sb.WriteString(b.spec + "\n\n")

	fmt.Fprintf(&sb, "# Review context\n\nCycle %d. Phase: %s. Previous score: %d.\n\n",
		state.CycleCount, state.Phase, state.CompletenessScore)

	if verification != "" {
		sb.WriteString("# Verification output\n\n```\n")
		sb.WriteString(verification)
		sb.WriteString("\n```\n\n")
	}

	if b.repo != nil {
		entries, err := b.repo.Log(b.GitLogEntries)
		if err == nil && len(entries) > 0 {
			sb.WriteString("# Recent commits\n\n")
			for _, e := range entries {
				fmt.Fprintf(&sb, "- %s %s (%s)\n  files: %s\n",
					e.Hash,
					strings.TrimSpace(e.Message),
					e.Timestamp.Format("2006-01-02 15:04"),
					strings.Join(e.FilesChanged, ", "))
			}
			sb.WriteString("\n")
		}
	}

	tree, err := b.FileTree()
	if err != nil {
		return "", err
	}
	sb.WriteString("# File tree\n\n")
	sb.WriteString(tree + "\n")

	sb.WriteString("# Source files\n\n")
	budget := b.ReviewerBudget - llm.EstimateTokens(sb.String())
	var omitted []string
	for _, f := range files {
		if !sourceExtensions[strings.ToLower(filepath.Ext(f.path))] {
			continue
		}
		content, err := b.ws.Read(f.path)
		if err != nil {
			continue
		}
		cost := llm.EstimateTokens(content) + 20
		if cost > budget {
			omitted = append(omitted, f.path)
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n```\n%s\n```\n\n", f.path, content)
		budget -= cost
	}
	if len(omitted) > 0 {
		fmt.Fprintf(&sb, "[omitted %d files due to context budget: %s]\n",
			len(omitted), strings.Join(omitted, ", "))
	}

	return sb.String(), nil
}

// SpecText returns the specification as loaded.
func (b *ContextBuilder) SpecText() string {
	return b.spec
}

// LoadSpec reads a specification file from disk.
func LoadSpec(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load specification %s: %w", path, err)
	}
	return string(data), nil
}
