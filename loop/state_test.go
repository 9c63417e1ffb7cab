package loop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundtrip(t *testing.T) {
	dir := t.TempDir()

	s := NewRunState()
	s.CycleCount = 7
	s.Phase = PhaseTesting
	s.RecordScore(81)
	s.ConsecutiveErrors = 1
	s.PendingErrorNotes = []string{"tool shell: exit 1"}
	s.LastVerification = VerifyPass
	s.LastReview = &ReviewResult{
		Score:            81,
		RemainingWork:    []string{"more tests"},
		NextInstructions: "add tests for the parser",
		Outcome:          ReviewParsed,
	}
	require.NoError(t, s.Save(dir))

	loaded, err := LoadState(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, s.RunID, loaded.RunID)
	assert.Equal(t, 7, loaded.CycleCount)
	assert.Equal(t, PhaseTesting, loaded.Phase)
	assert.Equal(t, 81, loaded.CompletenessScore)
	assert.Equal(t, 1, loaded.ConsecutiveErrors)
	assert.Equal(t, s.PendingErrorNotes, loaded.PendingErrorNotes)
	assert.Equal(t, VerifyPass, loaded.LastVerification)
	require.NotNil(t, loaded.LastReview)
	assert.Equal(t, "add tests for the parser", loaded.LastReview.NextInstructions)
}

func TestLoadStateMissingFile(t *testing.T) {
	s, err := LoadState(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadStateCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("{nope"), 0o644))

	_, err := LoadState(dir)
	assert.Error(t, err)
}

func TestResetState(t *testing.T) {
	dir := t.TempDir()
	s := NewRunState()
	require.NoError(t, s.Save(dir))

	require.NoError(t, ResetState(dir))
	loaded, err := LoadState(dir)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Resetting twice is fine.
	require.NoError(t, ResetState(dir))
}

func TestAdvancePhaseIsOneWay(t *testing.T) {
	s := NewRunState()
	s.RecordScore(69)
	assert.False(t, s.AdvancePhase(70))
	assert.Equal(t, PhaseImplementation, s.Phase)

	s.RecordScore(70)
	assert.True(t, s.AdvancePhase(70))
	assert.Equal(t, PhaseTesting, s.Phase)

	// A score regression never reverts the phase.
	s.RecordScore(10)
	assert.False(t, s.AdvancePhase(70))
	assert.Equal(t, PhaseTesting, s.Phase)
}

func TestRecordScoreAppendsHistory(t *testing.T) {
	s := NewRunState()
	s.CycleCount = 1
	s.RecordScore(20)
	s.CycleCount = 2
	s.RecordScore(35)

	require.Len(t, s.CompletenessHistory, 2)
	assert.Equal(t, 1, s.CompletenessHistory[0].Cycle)
	assert.Equal(t, 20, s.CompletenessHistory[0].Score)
	assert.Equal(t, 2, s.CompletenessHistory[1].Cycle)
	assert.Equal(t, 35, s.CompletenessHistory[1].Score)
	assert.Equal(t, 35, s.CompletenessScore)
}

func TestRecordScoreClamps(t *testing.T) {
	s := NewRunState()
	s.RecordScore(150)
	assert.Equal(t, 100, s.CompletenessScore)
	s.RecordScore(-5)
	assert.Equal(t, 0, s.CompletenessScore)
}
