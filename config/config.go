// Package config loads harness configuration from a YAML file with
// environment variable overrides, in that order on top of hardcoded
// defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: COMPLETENESS_LIMITS__MAX_ITERATIONS overrides
// limits.max_iterations.
const EnvPrefix = "COMPLETENESS_"

// Config is the full harness configuration.
type Config struct {
	Workspace string        `koanf:"workspace"`
	SpecFile  string        `koanf:"spec_file"`
	Model     ModelConfig   `koanf:"model"`
	Limits    LimitsConfig  `koanf:"limits"`
	Context   ContextConfig `koanf:"context"`
	Verify    VerifyConfig  `koanf:"verify"`
	Commit    CommitConfig  `koanf:"commit"`
	Prompts   PromptsConfig `koanf:"prompts"`
	Logging   LoggingConfig `koanf:"logging"`
}

// ModelConfig selects the LLM backend and model for both actors.
type ModelConfig struct {
	Backend     string  `koanf:"backend"` // gollm provider name: openai, anthropic, ollama
	Name        string  `koanf:"name"`
	APIKey      string  `koanf:"api_key"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

// LimitsConfig bounds the run.
type LimitsConfig struct {
	MaxIterations         int     `koanf:"max_iterations"`
	MaxRuntimeHours       float64 `koanf:"max_runtime_hours"` // zero means unlimited
	MaxConsecutiveErrors  int     `koanf:"max_consecutive_errors"`
	TestingPhaseThreshold int     `koanf:"testing_phase_threshold"`
	CompletionThreshold   int     `koanf:"completion_threshold"`
	MaxToolRounds         int     `koanf:"max_tool_rounds"`
}

// ContextConfig bounds the per-actor context packages.
type ContextConfig struct {
	ImplementerTokenBudget int `koanf:"implementer_token_budget"`
	ReviewerTokenBudget    int `koanf:"reviewer_token_budget"`
	GitLogEntries          int `koanf:"git_log_entries"`
}

// VerifyConfig configures the verification step.
type VerifyConfig struct {
	TestCommand    string `koanf:"test_command"` // empty disables verification
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// CommitConfig configures commit gating and message sanitization.
type CommitConfig struct {
	DenyPhrases     []string `koanf:"deny_phrases"` // empty means the built-in list
	CommitOnFailure bool     `koanf:"commit_on_failure"`
}

// PromptsConfig points at optional prompt override files.
type PromptsConfig struct {
	ImplementerFile          string `koanf:"implementer_file"`
	ReviewImplementationFile string `koanf:"review_implementation_file"`
	ReviewTestingFile        string `koanf:"review_testing_file"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level    string `koanf:"level"`    // debug, info, warn, error
	Encoding string `koanf:"encoding"` // json or console
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Workspace: ".",
		SpecFile:  "SPEC.md",
		Model: ModelConfig{
			Backend:     "openai",
			MaxTokens:   8192,
			Temperature: 0.2,
		},
		Limits: LimitsConfig{
			MaxIterations:         100,
			MaxConsecutiveErrors:  3,
			TestingPhaseThreshold: 70,
			CompletionThreshold:   95,
			MaxToolRounds:         20,
		},
		Context: ContextConfig{
			ImplementerTokenBudget: 24000,
			ReviewerTokenBudget:    48000,
			GitLogEntries:          5,
		},
		Verify: VerifyConfig{
			TimeoutSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return cfg, fmt.Errorf("load environment overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants the loop depends on.
func (c Config) Validate() error {
	if c.Limits.MaxIterations <= 0 {
		return fmt.Errorf("limits.max_iterations must be positive")
	}
	if c.Limits.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("limits.max_consecutive_errors must not be negative")
	}
	if c.Limits.TestingPhaseThreshold < 0 || c.Limits.TestingPhaseThreshold > 100 {
		return fmt.Errorf("limits.testing_phase_threshold must be in [0,100]")
	}
	if c.Limits.CompletionThreshold < 0 || c.Limits.CompletionThreshold > 100 {
		return fmt.Errorf("limits.completion_threshold must be in [0,100]")
	}
	if c.Limits.TestingPhaseThreshold > c.Limits.CompletionThreshold {
		return fmt.Errorf("limits.testing_phase_threshold must not exceed limits.completion_threshold")
	}
	if c.Model.Backend == "" {
		return fmt.Errorf("model.backend is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
