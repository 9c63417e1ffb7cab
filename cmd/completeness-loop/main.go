// Command completeness-loop runs the two-actor completeness loop against a
// workspace: an implementation actor edits the code through sandboxed tools,
// a review actor scores the result from durable state only, and the
// controller cycles them until the specification is judged complete.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Baswold/Completeness-agent-loop-harness/config"
)

var (
	flagConfig    string
	flagWorkspace string
	flagSpec      string
)

func main() {
	root := &cobra.Command{
		Use:           "completeness-loop",
		Short:         "Run an implement-review loop against a specification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace directory (overrides config)")
	root.PersistentFlags().StringVarP(&flagSpec, "spec", "s", "", "specification file (overrides config)")

	root.AddCommand(newRunCmd(), newStatusCmd(), newResetCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig applies the shared flags on top of the loaded file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagWorkspace != "" {
		cfg.Workspace = flagWorkspace
	}
	if flagSpec != "" {
		cfg.SpecFile = flagSpec
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
