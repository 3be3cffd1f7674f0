package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-core/internal/config"
	"github.com/randalmurphal/orc-core/internal/store"
	"github.com/randalmurphal/orc-core/internal/workingcopy"
)

func newWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Working-copy pool maintenance",
	}
	cmd.AddCommand(newWorktreePruneCmd())
	return cmd
}

func newWorktreePruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Clear stale git worktree registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			pool := workingcopy.New(st, cfg.WorktreeBase, nil)
			if err := pool.Prune(context.Background()); err != nil {
				return fmt.Errorf("prune working copies: %w", err)
			}

			fmt.Println("worktree registrations pruned")
			return nil
		},
	}
}
