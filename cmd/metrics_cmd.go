package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print a snapshot of engine health metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		depth, err := env.Queue.Length(ctx)
		if err != nil {
			return eris.Wrap(err, "queue depth")
		}
		snap, err := env.Metrics.Collect(ctx, depth)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}
