package main

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/lendflow/lendflow/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and trigger background jobs",
}

var jobsTriggerCmd = &cobra.Command{
	Use:       "trigger [idempotency-cleanup]",
	Short:     "Enqueue a maintenance job now",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"idempotency-cleanup"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		client := jobs.NewClient(cfg.Redis().Asynq())
		defer func() {
			_ = client.Close()
		}()
		info, err := client.EnqueueCleanup(cmd.Context(), cfg.IdempotencyRetention)
		if err != nil {
			return fmt.Errorf("trigger %s: %w", args[0], err)
		}
		logger.Info("job enqueued", "type", info.Type, "id", info.ID, "queue", info.Queue)
		return nil
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		inspector := asynq.NewInspector(cfg.Redis().Asynq())
		defer func() {
			_ = inspector.Close()
		}()
		stats, err := jobs.QueueStats(inspector)
		if err != nil {
			return err
		}
		for _, q := range stats {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d retry=%d archived=%d scheduled=%d\n",
				q.Queue, q.Pending, q.Active, q.Retry, q.Archived, q.Scheduled); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsTriggerCmd, jobsStatsCmd)
}
