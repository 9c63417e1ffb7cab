package loop

import (
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit identity used when the workspace repository has no configured user.
const (
	commitAuthorName  = "Completeness Loop"
	commitAuthorEmail = "completeness-loop@localhost"
)

// LogEntry is one entry of the factual git history handed to the review
// actor: hash, message, files changed, timestamp, and nothing else.
type LogEntry struct {
	Hash         string    `json:"hash"`
	Message      string    `json:"message"`
	FilesChanged []string  `json:"files_changed"`
	Timestamp    time.Time `json:"timestamp"`
}

// Repo wraps a go-git repository rooted at the workspace.
type Repo struct {
	repo *git.Repository
	path string
}

// EnsureRepo opens the git repository at path, initializing a fresh one if
// none exists.
func EnsureRepo(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", path, err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// OpenRepo opens an existing repository and fails if there is none.
func OpenRepo(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", path, err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// Commit stages exactly the listed files and commits them. An empty file list
// stages all changes. Returns ErrNothingToCommit when staging produces no net
// change against HEAD. History is append-only; there is no force or rewrite
// path here.
func (r *Repo) Commit(files []string, message string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}

	if len(files) == 0 {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return "", fmt.Errorf("stage all: %w", err)
		}
	} else {
		for _, f := range files {
			if _, err := wt.Add(f); err != nil {
				return "", fmt.Errorf("stage %s: %w", f, err)
			}
		}
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	staged := 0
	for _, fs := range status {
		switch fs.Staging {
		case git.Added, git.Modified, git.Deleted, git.Renamed, git.Copied:
			staged++
		}
	}
	if staged == 0 {
		return "", ErrNothingToCommit
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// Log returns the last k commits, most recent first. A repository with no
// commits yields an empty slice, not an error.
func (r *Repo) Log(k int) ([]LogEntry, error) {
	head, err := r.repo.Head()
	if err != nil {
		// No commits yet.
		return nil, nil
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	var entries []LogEntry
	for len(entries) < k {
		commit, err := iter.Next()
		if err != nil {
			break
		}
		entry := LogEntry{
			Hash:      commit.Hash.String()[:8],
			Message:   commit.Message,
			Timestamp: commit.Author.When,
		}
		if stats, err := commit.Stats(); err == nil {
			for _, s := range stats {
				entry.FilesChanged = append(entry.FilesChanged, s.Name)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// HeadMessage returns the message of the most recent commit, or "" if there
// is none.
func (r *Repo) HeadMessage() string {
	entries, err := r.Log(1)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[0].Message
}
