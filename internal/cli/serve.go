package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-core/internal/app"
	"github.com/randalmurphal/orc-core/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and block until signaled",
		Long: `Start the daemon: open the Store, initialize the working-copy pool,
and run the scheduler's dispatch loop until SIGINT/SIGTERM.

Example:
  orcd serve --config orcd.yaml`,
		RunE: runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Info("orcd: serving", "pool_size", cfg.PoolSize, "max_concurrent", cfg.MaxConcurrent, "db_path", cfg.DBPath)
	<-ctx.Done()
	log.Info("orcd: shutting down, waiting for in-flight tasks")

	a.Stop()
	return nil
}
