package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Baswold/Completeness-agent-loop-harness/loop"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted run state of the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := loop.NewWorkspace(cfg.Workspace)
			if err != nil {
				return err
			}
			state, err := loop.LoadState(ws.Root())
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Println("no run state; nothing has run in this workspace")
				return nil
			}

			fmt.Printf("run:      %s\n", state.RunID)
			fmt.Printf("started:  %s\n", state.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("cycles:   %d\n", state.CycleCount)
			fmt.Printf("phase:    %s\n", state.Phase)
			fmt.Printf("score:    %d%%\n", state.CompletenessScore)
			fmt.Printf("errors:   %d consecutive\n", state.ConsecutiveErrors)
			fmt.Printf("tokens:   implementer %d, reviewer %d\n",
				state.ImplementerTokens.TotalTokens, state.ReviewerTokens.TotalTokens)
			if len(state.CompletenessHistory) > 0 {
				fmt.Println("history:")
				for _, p := range state.CompletenessHistory {
					fmt.Printf("  cycle %3d: %3d%%  (%s)\n", p.Cycle, p.Score,
						p.Timestamp.Format("15:04:05"))
				}
			}
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted run state (the workspace files are untouched)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := loop.NewWorkspace(cfg.Workspace)
			if err != nil {
				return err
			}
			if err := loop.ResetState(ws.Root()); err != nil {
				return err
			}
			fmt.Println("run state reset")
			return nil
		},
	}
}
