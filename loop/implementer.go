package loop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Baswold/Completeness-agent-loop-harness/llm"
)

// Implementer drives the implementation actor: a bounded tool-use loop over
// the workspace. The actor's closing free text goes into the outcome for
// logging only; nothing downstream of the review path ever receives it.
type Implementer struct {
	client        *llm.Client
	registry      *ToolRegistry
	ws            *Workspace
	model         string
	backend       string
	systemPrompt  string
	maxToolRounds int
	retry         llm.RetryPolicy
	logger        *zap.Logger
}

// ImplementerOptions configures an Implementer.
type ImplementerOptions struct {
	Model         string
	Backend       string
	SystemPrompt  string // empty means DefaultImplementerPrompt
	MaxToolRounds int    // per cycle; default 20
	Retry         *llm.RetryPolicy
	Logger        *zap.Logger
}

// NewImplementer creates an Implementer over the given client, registry, and
// workspace.
func NewImplementer(client *llm.Client, registry *ToolRegistry, ws *Workspace, opts ImplementerOptions) *Implementer {
	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = DefaultImplementerPrompt
	}
	rounds := opts.MaxToolRounds
	if rounds <= 0 {
		rounds = 20
	}
	retry := llm.DefaultRetryPolicy()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Implementer{
		client:        client,
		registry:      registry,
		ws:            ws,
		model:         opts.Model,
		backend:       opts.Backend,
		systemPrompt:  prompt,
		maxToolRounds: rounds,
		retry:         retry,
		logger:        logger,
	}
}

// ImplementationOutcome summarizes one implementation pass.
type ImplementationOutcome struct {
	// ClosingResponse is the actor's final free text. Logged, never fed to
	// the review path.
	ClosingResponse string
	ToolCallCount   int
	ToolErrors      []string
	Rounds          int
	Usage           llm.Usage
}

// Run executes one implementation pass over the given context package. The
// actor may stop early; the next review detects any gap, so there is no
// retry here beyond transport-level retries inside the client call.
func (im *Implementer) Run(ctx context.Context, pkg string) (*ImplementationOutcome, error) {
	conversation := []llm.Message{
		llm.SystemMessage(im.systemPrompt),
		llm.UserMessage(pkg),
	}
	tools := im.registry.Definitions()

	outcome := &ImplementationOutcome{}

	for round := 0; round <= im.maxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome.Rounds = round + 1

		req := llm.Request{
			Model:    im.model,
			Backend:  im.backend,
			Messages: conversation,
			Tools:    tools,
		}
		resp, err := llm.Retry(ctx, im.retry, func(ctx context.Context) (*llm.Response, error) {
			return im.client.Complete(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("implementation actor: %w", err)
		}
		outcome.Usage = outcome.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 || resp.FinishReason != "tool_calls" {
			outcome.ClosingResponse = resp.Content
			break
		}
		if round == im.maxToolRounds {
			// Budget exhausted with calls still pending.
			outcome.ClosingResponse = resp.Content
			im.logger.Warn("tool round budget exhausted", zap.Int("rounds", round+1))
			break
		}

		conversation = append(conversation, llm.AssistantMessage(resp.Content, resp.ToolCalls...))
		for _, call := range resp.ToolCalls {
			outcome.ToolCallCount++
			output, err := im.registry.Execute(call.Name, call.Arguments, im.ws)
			if err != nil {
				// The failure goes back to the model as a correction hint and
				// into the notes for the next cycle's package.
				note := fmt.Sprintf("tool %s: %v", call.Name, err)
				outcome.ToolErrors = append(outcome.ToolErrors, note)
				conversation = append(conversation, llm.ToolResultMessage(call.ID, "Error: "+err.Error(), true))
				im.logger.Debug("tool call failed", zap.String("tool", call.Name), zap.Error(err))
				continue
			}
			conversation = append(conversation, llm.ToolResultMessage(call.ID, output, false))
		}
	}

	im.logger.Debug("implementation pass finished",
		zap.Int("tool_calls", outcome.ToolCallCount),
		zap.Int("tool_errors", len(outcome.ToolErrors)),
		zap.Int("rounds", outcome.Rounds))
	return outcome, nil
}
