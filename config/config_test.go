package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Workspace)
	assert.Equal(t, "SPEC.md", cfg.SpecFile)
	assert.Equal(t, "openai", cfg.Model.Backend)
	assert.Equal(t, 100, cfg.Limits.MaxIterations)
	assert.Equal(t, 3, cfg.Limits.MaxConsecutiveErrors)
	assert.Equal(t, 70, cfg.Limits.TestingPhaseThreshold)
	assert.Equal(t, 95, cfg.Limits.CompletionThreshold)
	assert.Equal(t, 24000, cfg.Context.ImplementerTokenBudget)
	assert.Equal(t, 48000, cfg.Context.ReviewerTokenBudget)
	assert.Equal(t, 300, cfg.Verify.TimeoutSeconds)
	assert.Equal(t, "", cfg.Verify.TestCommand, "verification is off by default")
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
workspace: /tmp/project
spec_file: requirements.md
model:
  backend: anthropic
  name: claude-sonnet-4
limits:
  max_iterations: 50
  testing_phase_threshold: 60
verify:
  test_command: "go test ./..."
commit:
  deny_phrases:
    - "done"
  commit_on_failure: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/project", cfg.Workspace)
	assert.Equal(t, "requirements.md", cfg.SpecFile)
	assert.Equal(t, "anthropic", cfg.Model.Backend)
	assert.Equal(t, "claude-sonnet-4", cfg.Model.Name)
	assert.Equal(t, 50, cfg.Limits.MaxIterations)
	assert.Equal(t, 60, cfg.Limits.TestingPhaseThreshold)
	assert.Equal(t, 95, cfg.Limits.CompletionThreshold, "untouched keys keep defaults")
	assert.Equal(t, "go test ./...", cfg.Verify.TestCommand)
	assert.Equal(t, []string{"done"}, cfg.Commit.DenyPhrases)
	assert.True(t, cfg.Commit.CommitOnFailure)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "model: [not: a: map\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COMPLETENESS_LIMITS__MAX_ITERATIONS", "7")
	t.Setenv("COMPLETENESS_MODEL__BACKEND", "ollama")
	t.Setenv("COMPLETENESS_VERIFY__TEST_COMMAND", "make test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Limits.MaxIterations)
	assert.Equal(t, "ollama", cfg.Model.Backend)
	assert.Equal(t, "make test", cfg.Verify.TestCommand)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfigFile(t, "limits:\n  max_iterations: 50\n")
	t.Setenv("COMPLETENESS_LIMITS__MAX_ITERATIONS", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Limits.MaxIterations)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(c *Config) {}, ""},
		{"zero iterations", func(c *Config) { c.Limits.MaxIterations = 0 }, "max_iterations"},
		{"negative error limit", func(c *Config) { c.Limits.MaxConsecutiveErrors = -1 }, "max_consecutive_errors"},
		{"threshold over 100", func(c *Config) { c.Limits.CompletionThreshold = 101 }, "completion_threshold"},
		{"negative threshold", func(c *Config) { c.Limits.TestingPhaseThreshold = -5 }, "testing_phase_threshold"},
		{"testing above completion", func(c *Config) {
			c.Limits.TestingPhaseThreshold = 96
			c.Limits.CompletionThreshold = 95
		}, "must not exceed"},
		{"missing backend", func(c *Config) { c.Model.Backend = "" }, "model.backend"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
