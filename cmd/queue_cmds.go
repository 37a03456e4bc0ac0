package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arcflow/budget-engine/internal/model"
)

var (
	queueBriefingID string
	queuePriority   int
	queueWorkers    int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the asynchronous budget-generation queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Enqueue a budget-generation job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Queue.Enqueue(ctx, queueBriefingID, queuePriority)
		if err != nil {
			return eris.Wrap(err, "enqueue job")
		}

		zap.L().Info("job enqueued",
			zap.String("job", job.ID),
			zap.String("briefing", job.BriefingID))
		cmd.Println(job.ID)
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process queued jobs with a worker pool until the queue is empty",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		workers := queueWorkers
		if workers == 0 {
			workers = cfg.Queue.Workers
		}

		handle := func(ctx context.Context, job model.Job) error {
			_, err := env.Engine.Generate(ctx, job.BriefingID, "")
			return err
		}

		if err := env.Queue.Drain(ctx, workers, handle); err != nil {
			return eris.Wrap(err, "drain queue")
		}
		zap.L().Info("queue drained")
		return nil
	},
}

func init() {
	queueAddCmd.Flags().StringVar(&queueBriefingID, "briefing", "", "briefing id (required)")
	queueAddCmd.Flags().IntVar(&queuePriority, "priority", 0, "advisory priority")
	_ = queueAddCmd.MarkFlagRequired("briefing")

	queueDrainCmd.Flags().IntVar(&queueWorkers, "workers", 0, "worker pool size (default from config)")

	queueCmd.AddCommand(queueAddCmd, queueDrainCmd)
	rootCmd.AddCommand(queueCmd)
}
