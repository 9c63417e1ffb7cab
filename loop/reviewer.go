package loop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Baswold/Completeness-agent-loop-harness/llm"
)

// Reviewer drives the review actor. It is stateless across invocations:
// each call sends one request built entirely from the review package and
// parses the response. The prompt is selected by the run's phase.
type Reviewer struct {
	client     *llm.Client
	model      string
	backend    string
	implPrompt string
	testPrompt string
	retry      llm.RetryPolicy
	logger     *zap.Logger
}

// ReviewerOptions configures a Reviewer.
type ReviewerOptions struct {
	Model                string
	Backend              string
	ImplementationPrompt string // empty means DefaultReviewImplementationPrompt
	TestingPrompt        string // empty means DefaultReviewTestingPrompt
	Retry                *llm.RetryPolicy
	Logger               *zap.Logger
}

// NewReviewer creates a Reviewer over the given client.
func NewReviewer(client *llm.Client, opts ReviewerOptions) *Reviewer {
	implPrompt := opts.ImplementationPrompt
	if implPrompt == "" {
		implPrompt = DefaultReviewImplementationPrompt
	}
	testPrompt := opts.TestingPrompt
	if testPrompt == "" {
		testPrompt = DefaultReviewTestingPrompt
	}
	retry := llm.DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{
		client:     client,
		model:      opts.Model,
		backend:    opts.Backend,
		implPrompt: implPrompt,
		testPrompt: testPrompt,
		retry:      retry,
		logger:     logger,
	}
}

// Run performs one review. prevScore seeds the fallback result when the
// response cannot be parsed; a parse failure is a degraded result, never an
// error. Only transport failures surface as errors.
func (rv *Reviewer) Run(ctx context.Context, pkg string, phase Phase, prevScore int) (*ReviewResult, llm.Usage, error) {
	prompt := rv.implPrompt
	if phase == PhaseTesting {
		prompt = rv.testPrompt
	}

	req := llm.Request{
		Model:   rv.model,
		Backend: rv.backend,
		Messages: []llm.Message{
			llm.SystemMessage(prompt),
			llm.UserMessage(pkg),
		},
	}
	resp, err := llm.Retry(ctx, rv.retry, func(ctx context.Context) (*llm.Response, error) {
		return rv.client.Complete(ctx, req)
	})
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("review actor: %w", err)
	}

	result := ParseReview(resp.Content, prevScore)
	if result.Outcome == ReviewFallback {
		rv.logger.Warn("review output did not parse",
			zap.String("reason", result.FallbackReason),
			zap.Int("kept_score", result.Score))
	} else {
		rv.logger.Debug("review parsed",
			zap.Int("score", result.Score),
			zap.Int("remaining", len(result.RemainingWork)),
			zap.Int("issues", len(result.SpecificIssues)))
	}
	return result, resp.Usage, nil
}
