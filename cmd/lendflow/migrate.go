package main

import (
	"github.com/spf13/cobra"

	"github.com/lendflow/lendflow/internal/platform/db"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Run the embedded database migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		command := "up"
		if len(args) == 1 {
			command = args[0]
		}
		if err := db.Migrate(cmd.Context(), cfg.PGDSN, command); err != nil {
			return err
		}
		logger.Info("migrations applied", "command", command)
		return nil
	},
}
