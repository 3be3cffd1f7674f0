package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orc-core/internal/config"
	"github.com/randalmurphal/orc-core/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Store schema migrations and exit",
		Long: `Open the Store (running any pending migrations as a side effect of
Open) and exit. Useful for running migrations ahead of time, separately
from starting the daemon.`,
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

			fmt.Printf("migrations applied to %s\n", cfg.DBPath)
			return nil
		},
	}
}
