package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// VerifyStatus is the outcome of the verification step.
type VerifyStatus string

const (
	VerifyPass VerifyStatus = "pass"
	VerifyFail VerifyStatus = "fail"
	// VerifyNone means no test command is configured. It gates commits the
	// same way a pass does.
	VerifyNone VerifyStatus = "none"
)

// StopReason explains why a run ended.
type StopReason string

const (
	StopComplete      StopReason = "complete"
	StopMaxIterations StopReason = "max_iterations"
	StopMaxRuntime    StopReason = "max_runtime"
	StopErrorLimit    StopReason = "error_limit"
	StopCancelled     StopReason = "cancelled"
)

// ControllerConfig holds the loop's limits and thresholds.
type ControllerConfig struct {
	MaxIterations         int           // hard cap on cycles
	MaxRuntime            time.Duration // zero means unlimited
	MaxConsecutiveErrors  int           // run halts when the count exceeds this
	TestingPhaseThreshold int           // score at which phase moves to testing
	CompletionThreshold   int           // score required for success
	TestCommand           string        // empty disables verification
	TestTimeout           time.Duration
	CommitOnFailure       bool          // allow implementation-phase commits on failing verification
	ErrorPause            time.Duration // wait between errored cycles
}

// DefaultControllerConfig returns the standard limits.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxIterations:         100,
		MaxConsecutiveErrors:  3,
		TestingPhaseThreshold: 70,
		CompletionThreshold:   95,
		TestTimeout:           5 * time.Minute,
		ErrorPause:            5 * time.Second,
	}
}

// RunResult reports how a run ended and the final state.
type RunResult struct {
	Reason StopReason
	State  *RunState
}

// Controller drives the implement, verify, review, commit cycle. It is the
// only component that mutates RunState, and it persists after every
// mutation.
type Controller struct {
	cfg         ControllerConfig
	ws          *Workspace
	repo        *Repo
	builder     *ContextBuilder
	implementer *Implementer
	reviewer    *Reviewer
	sanitizer   *Sanitizer
	state       *RunState
	emitter     *EventEmitter
	logger      *zap.Logger
}

// NewController wires a Controller. state may come from LoadState to resume
// a paused run; nil starts fresh. A nil sanitizer gets the default deny
// list, a nil emitter gets a fresh one, a nil logger a nop.
func NewController(
	cfg ControllerConfig,
	ws *Workspace,
	repo *Repo,
	builder *ContextBuilder,
	implementer *Implementer,
	reviewer *Reviewer,
	sanitizer *Sanitizer,
	state *RunState,
	logger *zap.Logger,
) *Controller {
	if state == nil {
		state = NewRunState()
	}
	if sanitizer == nil {
		sanitizer = NewSanitizer(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:         cfg,
		ws:          ws,
		repo:        repo,
		builder:     builder,
		implementer: implementer,
		reviewer:    reviewer,
		sanitizer:   sanitizer,
		state:       state,
		emitter:     NewEventEmitter(state.RunID, 0),
		logger:      logger,
	}
}

// State returns the controller's run state.
func (c *Controller) State() *RunState {
	return c.state
}

// Events returns the controller's event channel.
func (c *Controller) Events() <-chan RunEvent {
	return c.emitter.Events()
}

// Run executes cycles until a termination condition fires. Cancelling the
// context pauses the run: state is already persisted, so a later Run with
// the loaded state resumes where this one stopped.
func (c *Controller) Run(ctx context.Context) (*RunResult, error) {
	c.emitter.Emit(EventRunStart, map[string]interface{}{
		"cycle": c.state.CycleCount,
		"phase": string(c.state.Phase),
	})
	defer c.emitter.Close()

	for {
		if err := ctx.Err(); err != nil {
			return c.finish(StopCancelled), nil
		}
		if c.cfg.MaxIterations > 0 && c.state.CycleCount >= c.cfg.MaxIterations {
			return c.finish(StopMaxIterations), nil
		}
		if c.cfg.MaxRuntime > 0 && time.Since(c.state.StartedAt) >= c.cfg.MaxRuntime {
			return c.finish(StopMaxRuntime), nil
		}

		if err := c.runCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c.finish(StopCancelled), nil
			}
			// Survive while the count stays within the threshold; the failure
			// that pushes it past halts the run.
			if c.state.ConsecutiveErrors > c.cfg.MaxConsecutiveErrors {
				c.logger.Error("consecutive error limit exceeded",
					zap.Int("errors", c.state.ConsecutiveErrors),
					zap.Int("limit", c.cfg.MaxConsecutiveErrors),
					zap.Error(err))
				return c.finish(StopErrorLimit), nil
			}
			c.logger.Warn("cycle failed, continuing",
				zap.Int("consecutive_errors", c.state.ConsecutiveErrors),
				zap.Error(err))
			if c.cfg.ErrorPause > 0 {
				select {
				case <-ctx.Done():
					return c.finish(StopCancelled), nil
				case <-time.After(c.cfg.ErrorPause):
				}
			}
			continue
		}

		if c.isComplete() {
			return c.finish(StopComplete), nil
		}
	}
}

func (c *Controller) finish(reason StopReason) *RunResult {
	c.emitter.Emit(EventRunEnd, map[string]interface{}{
		"reason": string(reason),
		"cycle":  c.state.CycleCount,
		"score":  c.state.CompletenessScore,
	})
	c.logger.Info("run finished",
		zap.String("reason", string(reason)),
		zap.Int("cycles", c.state.CycleCount),
		zap.Int("score", c.state.CompletenessScore),
		zap.String("phase", string(c.state.Phase)))
	return &RunResult{Reason: reason, State: c.state}
}

// isComplete checks the success condition: completion-threshold score
// reached, in the testing phase, with a passing (or absent) verification.
func (c *Controller) isComplete() bool {
	if c.state.CompletenessScore < c.cfg.CompletionThreshold {
		return false
	}
	if c.state.Phase != PhaseTesting {
		return false
	}
	return c.state.LastVerification == VerifyPass || c.state.LastVerification == VerifyNone
}

// runCycle executes one full implement, verify, review, commit cycle and
// persists the updated state. Any failure is converted into an error-count
// increment plus a synthetic fallback review, so the next cycle asks the
// implementation actor to recover.
func (c *Controller) runCycle(ctx context.Context) error {
	c.state.CycleCount++
	c.emitter.Emit(EventCycleStart, map[string]interface{}{
		"cycle": c.state.CycleCount,
		"phase": string(c.state.Phase),
	})
	c.logger.Info("cycle start",
		zap.Int("cycle", c.state.CycleCount),
		zap.String("phase", string(c.state.Phase)),
		zap.Int("score", c.state.CompletenessScore))

	// Implement.
	pkg, err := c.builder.BuildImplementationPackage(c.state)
	if err != nil {
		return c.cycleError(fmt.Errorf("build implementation package: %w", err))
	}
	outcome, err := c.implementer.Run(ctx, pkg)
	if err != nil {
		return c.cycleError(fmt.Errorf("implementation: %w", err))
	}
	c.state.ImplementerTokens = c.state.ImplementerTokens.Add(outcome.Usage)
	// The closing response stops here: logged, then dropped.
	c.logger.Debug("implementer closing response",
		zap.String("response", outcome.ClosingResponse))
	c.emitter.Emit(EventImplementEnd, map[string]interface{}{
		"tool_calls":  outcome.ToolCallCount,
		"tool_errors": len(outcome.ToolErrors),
	})

	// Verify.
	verification, verifyOutput := c.verify(ctx)
	c.state.LastVerification = verification
	c.emitter.Emit(EventVerifyResult, map[string]interface{}{
		"status": string(verification),
	})

	// Review, from settled durable state only.
	reviewPkg, err := c.builder.BuildReviewPackage(c.state, verifyOutput)
	if err != nil {
		return c.cycleError(fmt.Errorf("build review package: %w", err))
	}
	review, usage, err := c.reviewer.Run(ctx, reviewPkg, c.state.Phase, c.state.CompletenessScore)
	if err != nil {
		return c.cycleError(fmt.Errorf("review: %w", err))
	}
	c.state.ReviewerTokens = c.state.ReviewerTokens.Add(usage)
	c.emitter.Emit(EventReviewEnd, map[string]interface{}{
		"score":   review.Score,
		"outcome": string(review.Outcome),
	})

	// Commit, when gated open.
	if review.Commit != nil && c.shouldCommit(verification) {
		message := c.sanitizer.SanitizeWithScore(review.Commit.Message, review.Score)
		hash, err := c.repo.Commit(review.Commit.Files, message)
		switch {
		case errors.Is(err, ErrNothingToCommit):
			c.logger.Debug("nothing to commit")
		case err != nil:
			// A commit failure is not fatal to the cycle; the work itself is
			// on disk and the next review still sees it.
			c.logger.Warn("commit failed", zap.Error(err))
		default:
			c.emitter.Emit(EventCommitCreated, map[string]interface{}{"hash": hash})
			c.logger.Info("committed", zap.String("hash", hash))
		}
	}

	// Settle state.
	c.state.RecordScore(review.Score)
	c.state.LastReview = review
	c.state.PendingErrorNotes = outcome.ToolErrors
	c.state.ConsecutiveErrors = 0
	if c.state.AdvancePhase(c.cfg.TestingPhaseThreshold) {
		c.emitter.Emit(EventPhaseAdvanced, map[string]interface{}{
			"phase": string(c.state.Phase),
		})
		c.logger.Info("phase advanced", zap.String("phase", string(c.state.Phase)))
	}
	if err := c.state.Save(c.ws.Root()); err != nil {
		return c.cycleError(err)
	}
	return nil
}

// verify runs the configured test command. Its failure is review input, not
// a controller error.
func (c *Controller) verify(ctx context.Context) (VerifyStatus, string) {
	if c.cfg.TestCommand == "" {
		return VerifyNone, ""
	}
	result, err := c.ws.Exec(ctx, c.cfg.TestCommand, c.cfg.TestTimeout)
	if err != nil {
		return VerifyFail, fmt.Sprintf("verification could not run: %v", err)
	}
	output := TruncateOutput(result.Output(), 20000, TruncateHeadTail)
	if result.TimedOut {
		return VerifyFail, output + "\n[verification timed out]"
	}
	if result.ExitCode != 0 {
		return VerifyFail, output
	}
	return VerifyPass, output
}

// shouldCommit applies the commit gate: in the testing phase every cycle
// commits; in the implementation phase only pass-or-none verification does,
// unless the failure override is configured.
func (c *Controller) shouldCommit(verification VerifyStatus) bool {
	if c.state.Phase == PhaseTesting {
		return true
	}
	if verification != VerifyFail {
		return true
	}
	return c.cfg.CommitOnFailure
}

// cycleError records a failed cycle: the error count grows, a fallback
// review keeps the previous score and asks the actor to recover, and state
// is persisted before the error propagates.
func (c *Controller) cycleError(err error) error {
	c.state.ConsecutiveErrors++
	c.state.LastReview = FallbackReview(c.state.CompletenessScore,
		fmt.Sprintf("cycle %d failed: %v", c.state.CycleCount, err))
	c.state.RecordScore(c.state.CompletenessScore)
	c.emitter.Emit(EventCycleError, map[string]interface{}{
		"cycle": c.state.CycleCount,
		"error": err.Error(),
	})
	if saveErr := c.state.Save(c.ws.Root()); saveErr != nil {
		c.logger.Error("state save failed after cycle error", zap.Error(saveErr))
	}
	return err
}
