package loop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Baswold/Completeness-agent-loop-harness/llm"
)

// StateFileName is the run state file kept at the workspace root. It is the
// only file the loop writes outside the actor's own edits, and it is ignored
// when building context packages.
const StateFileName = ".completeness_state.json"

// Phase is the review mode the loop is currently in. It only moves forward:
// once testing is reached, a later score regression does not revert it.
type Phase string

const (
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
)

// ScorePoint is one appended entry of the completeness history.
type ScorePoint struct {
	Cycle     int       `json:"cycle"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// RunState is the durable state of one run against a workspace. It is
// created on the first cycle, mutated only by the controller, persisted after
// every mutation, and destroyed only by an explicit reset.
//
// LastReview, PendingErrorNotes, and LastVerification exist so that a
// controller rebuilt from this file produces exactly the next-cycle inputs
// the in-memory controller would have produced.
type RunState struct {
	RunID               string        `json:"run_id"`
	CycleCount          int           `json:"cycle_count"`
	Phase               Phase         `json:"phase"`
	CompletenessScore   int           `json:"completeness_score"`
	CompletenessHistory []ScorePoint  `json:"completeness_history"`
	ConsecutiveErrors   int           `json:"consecutive_error_count"`
	ImplementerTokens   llm.Usage     `json:"implementer_tokens"`
	ReviewerTokens      llm.Usage     `json:"reviewer_tokens"`
	StartedAt           time.Time     `json:"started_at"`
	LastReview          *ReviewResult `json:"last_review,omitempty"`
	PendingErrorNotes   []string      `json:"pending_error_notes,omitempty"`
	LastVerification    VerifyStatus  `json:"last_verification,omitempty"`
}

// NewRunState creates the initial state for a fresh run.
func NewRunState() *RunState {
	return &RunState{
		RunID:     uuid.New().String(),
		Phase:     PhaseImplementation,
		StartedAt: time.Now().UTC(),
	}
}

// RecordScore appends a history point and updates the current score.
func (s *RunState) RecordScore(score int) {
	s.CompletenessScore = clampScore(score)
	s.CompletenessHistory = append(s.CompletenessHistory, ScorePoint{
		Cycle:     s.CycleCount,
		Score:     s.CompletenessScore,
		Timestamp: time.Now().UTC(),
	})
}

// AdvancePhase moves implementation to testing once the score reaches the
// threshold. The transition is one-way.
func (s *RunState) AdvancePhase(threshold int) bool {
	if s.Phase == PhaseImplementation && s.CompletenessScore >= threshold {
		s.Phase = PhaseTesting
		return true
	}
	return false
}

// Save writes the state atomically to the workspace root.
func (s *RunState) Save(root string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	target := filepath.Join(root, StateFileName)
	tmp, err := os.CreateTemp(root, ".state-*")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState reads persisted state from the workspace root. A missing file
// returns (nil, nil): the caller starts a fresh run.
func LoadState(root string) (*RunState, error) {
	data, err := os.ReadFile(filepath.Join(root, StateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("load state: corrupt state file: %w", err)
	}
	return &s, nil
}

// ResetState deletes the persisted state file. Missing is not an error.
func ResetState(root string) error {
	err := os.Remove(filepath.Join(root, StateFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}
