package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Baswold/Completeness-agent-loop-harness/config"
	"github.com/Baswold/Completeness-agent-loop-harness/llm"
	"github.com/Baswold/Completeness-agent-loop-harness/loop"
)

func newRunCmd() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or resume the loop; interrupt with Ctrl-C to pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			controller, err := buildController(cfg, fresh, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				for event := range controller.Events() {
					logger.Info("event",
						zap.String("kind", string(event.Kind)),
						zap.Any("data", event.Data))
				}
			}()

			result, err := controller.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("run stopped: %s (cycle %d, score %d%%, phase %s)\n",
				result.Reason, result.State.CycleCount,
				result.State.CompletenessScore, result.State.Phase)
			if result.Reason == loop.StopCancelled {
				fmt.Println("state saved; run again to resume")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "discard persisted state and start over")
	return cmd
}

// buildController wires the full stack from configuration: workspace, git
// layer, tool registry, context builder, both actors, and the controller.
func buildController(cfg config.Config, fresh bool, logger *zap.Logger) (*loop.Controller, error) {
	ws, err := loop.NewWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	repo, err := loop.EnsureRepo(ws.Root())
	if err != nil {
		return nil, err
	}

	spec, err := loop.LoadSpec(cfg.SpecFile)
	if err != nil {
		return nil, err
	}

	backendOpts := []llm.GollmOption{}
	if cfg.Model.Name != "" {
		backendOpts = append(backendOpts, llm.WithModel(cfg.Model.Name))
	}
	if cfg.Model.APIKey != "" {
		backendOpts = append(backendOpts, llm.WithAPIKey(cfg.Model.APIKey))
	}
	if cfg.Model.MaxTokens > 0 {
		backendOpts = append(backendOpts, llm.WithMaxTokens(cfg.Model.MaxTokens))
	}
	backendOpts = append(backendOpts, llm.WithTemperature(cfg.Model.Temperature))
	backend, err := llm.NewGollmBackend(cfg.Model.Backend, backendOpts...)
	if err != nil {
		return nil, err
	}
	client := llm.NewClient(llm.WithBackend(cfg.Model.Backend, backend))

	sanitizer := loop.NewSanitizer(cfg.Commit.DenyPhrases)
	testTimeout := time.Duration(cfg.Verify.TimeoutSeconds) * time.Second

	registry := loop.NewToolRegistry()
	loop.RegisterWorkspaceTools(registry)
	loop.RegisterTestTool(registry, cfg.Verify.TestCommand, testTimeout)
	loop.RegisterCommitTool(registry, repo, sanitizer)

	builder := loop.NewContextBuilder(ws, repo, spec, logger)
	if cfg.Context.ImplementerTokenBudget > 0 {
		builder.ImplementerBudget = cfg.Context.ImplementerTokenBudget
	}
	if cfg.Context.ReviewerTokenBudget > 0 {
		builder.ReviewerBudget = cfg.Context.ReviewerTokenBudget
	}
	if cfg.Context.GitLogEntries > 0 {
		builder.GitLogEntries = cfg.Context.GitLogEntries
	}

	implementer := loop.NewImplementer(client, registry, ws, loop.ImplementerOptions{
		Model:         cfg.Model.Name,
		Backend:       cfg.Model.Backend,
		SystemPrompt:  readPromptFile(cfg.Prompts.ImplementerFile),
		MaxToolRounds: cfg.Limits.MaxToolRounds,
		Logger:        logger,
	})
	reviewer := loop.NewReviewer(client, loop.ReviewerOptions{
		Model:                cfg.Model.Name,
		Backend:              cfg.Model.Backend,
		ImplementationPrompt: readPromptFile(cfg.Prompts.ReviewImplementationFile),
		TestingPrompt:        readPromptFile(cfg.Prompts.ReviewTestingFile),
		Logger:               logger,
	})

	var state *loop.RunState
	if fresh {
		if err := loop.ResetState(ws.Root()); err != nil {
			return nil, err
		}
	} else {
		state, err = loop.LoadState(ws.Root())
		if err != nil {
			return nil, err
		}
		if state != nil {
			logger.Info("resuming persisted run",
				zap.String("run_id", state.RunID),
				zap.Int("cycle", state.CycleCount),
				zap.Int("score", state.CompletenessScore))
		}
	}

	controllerCfg := loop.ControllerConfig{
		MaxIterations:         cfg.Limits.MaxIterations,
		MaxRuntime:            time.Duration(cfg.Limits.MaxRuntimeHours * float64(time.Hour)),
		MaxConsecutiveErrors:  cfg.Limits.MaxConsecutiveErrors,
		TestingPhaseThreshold: cfg.Limits.TestingPhaseThreshold,
		CompletionThreshold:   cfg.Limits.CompletionThreshold,
		TestCommand:           cfg.Verify.TestCommand,
		TestTimeout:           testTimeout,
		CommitOnFailure:       cfg.Commit.CommitOnFailure,
		ErrorPause:            5 * time.Second,
	}

	return loop.NewController(controllerCfg, ws, repo, builder, implementer, reviewer, sanitizer, state, logger), nil
}

// readPromptFile returns the file content or "" so the built-in default
// prompt applies.
func readPromptFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
