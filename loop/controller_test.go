package loop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baswold/Completeness-agent-loop-harness/llm"
)

// scriptedBackend plays back a fixed sequence of responses and errors, one
// per Complete call, and records every request it sees.
type scriptedBackend struct {
	mu       sync.Mutex
	script   []scriptStep
	calls    int
	requests []llm.Request
}

type scriptStep struct {
	resp *llm.Response
	err  error
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.calls >= len(s.script) {
		return &llm.Response{Content: "nothing left to do", FinishReason: "stop"}, nil
	}
	step := s.script[s.calls]
	s.calls++
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func implStep(text string) scriptStep {
	return scriptStep{resp: &llm.Response{
		Content:      text,
		FinishReason: "stop",
		Usage:        llm.Usage{InputTokens: 100, OutputTokens: 10, TotalTokens: 110},
	}}
}

func reviewStep(score int) scriptStep {
	text := fmt.Sprintf(`## Completeness Score: %d/100

## Remaining Work (Priority Order):
- keep going

## Commit Instructions:
`+"```bash\n"+`git add .
git commit -m "Progress at score %d"
`+"```\n"+`
## Next Instructions for the Implementer:
Continue with the next item.`, score, score)
	return scriptStep{resp: &llm.Response{
		Content:      text,
		FinishReason: "stop",
		Usage:        llm.Usage{InputTokens: 200, OutputTokens: 50, TotalTokens: 250},
	}}
}

func errStep() scriptStep {
	return scriptStep{err: &llm.AuthenticationError{BackendError: llm.BackendError{
		ClientError: llm.ClientError{Message: "backend rejected the call"},
	}}}
}

// newScriptedController wires a full controller over a temp workspace with a
// scripted backend and no retry delays.
func newScriptedController(t *testing.T, script []scriptStep, cfg ControllerConfig) (*Controller, *scriptedBackend, *Workspace, *Repo) {
	t.Helper()
	ws, repo := newTestRepo(t)
	require.NoError(t, ws.Write("app.go", "package app\n"))

	backend := &scriptedBackend{script: script}
	client := llm.NewClient(llm.WithBackend("scripted", backend))
	noRetry := &llm.RetryPolicy{MaxRetries: 0}

	registry := NewToolRegistry()
	RegisterWorkspaceTools(registry)

	builder := NewContextBuilder(ws, repo, testSpec, nil)
	implementer := NewImplementer(client, registry, ws, ImplementerOptions{Retry: noRetry})
	reviewer := NewReviewer(client, ReviewerOptions{Retry: noRetry})

	cfg.ErrorPause = 0
	controller := NewController(cfg, ws, repo, builder, implementer, reviewer, nil, nil, nil)
	return controller, backend, ws, repo
}

func scoreScenario(scores []int) []scriptStep {
	var script []scriptStep
	for _, score := range scores {
		script = append(script, implStep("made some changes"), reviewStep(score))
	}
	return script
}

func TestControllerScoreScenario(t *testing.T) {
	// Scores 0, 35, 70, 95 with thresholds 70/95: the phase flips after
	// cycle 3 and the run completes at cycle 4.
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 10
	controller, _, _, _ := newScriptedController(t, scoreScenario([]int{0, 35, 70, 95}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopComplete, result.Reason)
	assert.Equal(t, 4, result.State.CycleCount)
	assert.Equal(t, PhaseTesting, result.State.Phase)
	assert.Equal(t, 95, result.State.CompletenessScore)

	require.Len(t, result.State.CompletenessHistory, 4)
	for i, want := range []int{0, 35, 70, 95} {
		assert.Equal(t, want, result.State.CompletenessHistory[i].Score)
		assert.Equal(t, i+1, result.State.CompletenessHistory[i].Cycle)
	}
}

func TestControllerPhaseAdvancesAtThresholdNotBefore(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 2
	controller, _, _, _ := newScriptedController(t, scoreScenario([]int{69, 70}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopMaxIterations, result.Reason)
	assert.Equal(t, PhaseTesting, result.State.Phase)
	// After cycle 1 (score 69) the phase was still implementation, which is
	// why cycle 2 ran the implementation reviewer before flipping.
	assert.Equal(t, 69, result.State.CompletenessHistory[0].Score)
}

func TestControllerMaxIterations(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 3
	controller, _, _, _ := newScriptedController(t, scoreScenario([]int{10, 10, 10, 10, 10}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.Reason)
	assert.Equal(t, 3, result.State.CycleCount)
}

func TestControllerErrorLimitHaltsOnFourthFailure(t *testing.T) {
	// Threshold 3: failures 1 through 3 keep the run alive, the 4th halts.
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 10
	script := []scriptStep{errStep(), errStep(), errStep(), errStep()}
	controller, _, _, _ := newScriptedController(t, script, cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopErrorLimit, result.Reason)
	assert.Equal(t, 4, result.State.CycleCount)
	assert.Equal(t, 4, result.State.ConsecutiveErrors)
}

func TestControllerRecoversWithinErrorBudget(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 10
	script := []scriptStep{
		errStep(), errStep(), errStep(), // three failures, still within budget
		implStep("recovered"), reviewStep(96),
	}
	controller, _, _, _ := newScriptedController(t, script, cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)

	// The phase flip and the completion check happen in the same cycle, so
	// score 96 finishes the run right after the recovery.
	assert.Equal(t, StopComplete, result.Reason)
	assert.Equal(t, 4, result.State.CycleCount)
	assert.Equal(t, 0, result.State.ConsecutiveErrors, "success resets the count")
	assert.Equal(t, PhaseTesting, result.State.Phase)
}

func TestControllerErrorCycleKeepsScoreAndSynthesizesFallback(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 2
	script := []scriptStep{
		implStep("work"), reviewStep(40),
		errStep(),
	}
	controller, _, ws, repo := newScriptedController(t, script, cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.Reason)

	state := result.State
	assert.Equal(t, 40, state.CompletenessScore, "error cycle keeps the previous score")
	assert.Equal(t, 1, state.ConsecutiveErrors)
	require.NotNil(t, state.LastReview)
	assert.Equal(t, ReviewFallback, state.LastReview.Outcome)

	// The errored cycle persisted state before propagating.
	loaded, err := LoadState(ws.Root())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.ConsecutiveErrors)

	// The next implementation package names the failure so the actor can
	// recover from it, not just a generic retry instruction.
	builder := NewContextBuilder(ws, repo, testSpec, nil)
	pkg, err := builder.BuildImplementationPackage(loaded)
	require.NoError(t, err)
	assert.Contains(t, pkg, "backend rejected the call")
}

func TestControllerCommitsWithSanitizedFooter(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 1
	controller, _, _, repo := newScriptedController(t, scoreScenario([]int{40}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.Reason)

	msg := repo.HeadMessage()
	assert.Contains(t, msg, "Progress at score 40")
	assert.Contains(t, msg, "Completeness: 40%")
}

func TestControllerCommitGateBlocksFailingImplementationPhase(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 1
	cfg.TestCommand = "exit 1"
	controller, _, _, repo := newScriptedController(t, scoreScenario([]int{40}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VerifyFail, result.State.LastVerification)
	assert.Equal(t, "", repo.HeadMessage(), "failing verification blocks the commit in the implementation phase")
}

func TestControllerCommitOnFailureOverride(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 1
	cfg.TestCommand = "exit 1"
	cfg.CommitOnFailure = true
	controller, _, _, repo := newScriptedController(t, scoreScenario([]int{40}), cfg)

	_, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, repo.HeadMessage(), "Progress at score 40")
}

func TestControllerCommitsInTestingPhaseDespiteFailure(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 2
	cfg.TestCommand = "exit 1"
	controller, _, _, repo := newScriptedController(t, scoreScenario([]int{70, 75}), cfg)

	_, err := controller.Run(context.Background())
	require.NoError(t, err)

	// Cycle 1 (implementation, fail) was blocked, leaving the seed file
	// uncommitted. Cycle 2 ran in the testing phase where failing
	// verification still commits, so it picks the file up.
	assert.Contains(t, repo.HeadMessage(), "Progress at score 75")
}

func TestControllerVerificationPassGatesCompletion(t *testing.T) {
	// Score reaches 95 in the testing phase but verification fails, so the
	// run must not report success.
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 2
	cfg.TestCommand = "exit 1"
	controller, _, _, _ := newScriptedController(t, scoreScenario([]int{80, 95}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.Reason)
	assert.Equal(t, 95, result.State.CompletenessScore)
}

func TestControllerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultControllerConfig()
	controller, _, _, _ := newScriptedController(t, scoreScenario([]int{10}), cfg)

	result, err := controller.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, result.Reason)
}

func TestControllerAirGapEndToEnd(t *testing.T) {
	// The implementation actor brags with a unique marker; no later request
	// to the backend may ever contain it.
	const marker = "XAIRGAP_E2E_MARKER_91fc3X"
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 2
	script := []scriptStep{
		implStep("Everything is fully done. "+marker), reviewStep(50),
		implStep("still bragging "+marker), reviewStep(60),
	}
	controller, backend, _, _ := newScriptedController(t, script, cfg)

	_, err := controller.Run(context.Background())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(backend.requests), 4)
	for i, req := range backend.requests {
		for _, msg := range req.Messages {
			assert.NotContains(t, msg.Content, marker,
				"request %d leaked the implementation actor's free text", i)
		}
	}
}

func TestControllerAccumulatesTokenUsage(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 2
	controller, _, _, _ := newScriptedController(t, scoreScenario([]int{10, 20}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 220, result.State.ImplementerTokens.TotalTokens)
	assert.Equal(t, 500, result.State.ReviewerTokens.TotalTokens)
}

func TestControllerResumeFromPersistedState(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 2
	controller, _, ws, repo := newScriptedController(t, scoreScenario([]int{30, 45}), cfg)

	result, err := controller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.Reason)

	loaded, err := LoadState(ws.Root())
	require.NoError(t, err)
	require.NotNil(t, loaded)

	// A new controller over the loaded state picks up exactly where the
	// first left off.
	backend := &scriptedBackend{script: scoreScenario([]int{60})}
	client := llm.NewClient(llm.WithBackend("scripted", backend))
	noRetry := &llm.RetryPolicy{MaxRetries: 0}
	registry := NewToolRegistry()
	RegisterWorkspaceTools(registry)
	builder := NewContextBuilder(ws, repo, testSpec, nil)
	implementer := NewImplementer(client, registry, ws, ImplementerOptions{Retry: noRetry})
	reviewer := NewReviewer(client, ReviewerOptions{Retry: noRetry})
	cfg.MaxIterations = 3
	resumed := NewController(cfg, ws, repo, builder, implementer, reviewer, nil, loaded, nil)

	result2, err := resumed.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.State.RunID, result2.State.RunID)
	assert.Equal(t, 3, result2.State.CycleCount)
	assert.Equal(t, 60, result2.State.CompletenessScore)
	require.Len(t, result2.State.CompletenessHistory, 3)

	// The resumed implementer received the persisted review instructions.
	require.NotEmpty(t, backend.requests)
	found := false
	for _, msg := range backend.requests[0].Messages {
		if strings.Contains(msg.Content, "Continue with the next item.") {
			found = true
		}
	}
	assert.True(t, found, "next instructions from the persisted review must reach the implementer")
}
