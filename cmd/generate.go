package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	generateBriefingID string
	regenerateReason   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a budget for a completed briefing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.Generate(ctx, generateBriefingID, "")
		if err != nil {
			return eris.Wrap(err, "generate budget")
		}

		zap.L().Info("budget generated",
			zap.String("briefing", generateBriefingID),
			zap.Int("version", result.Budget.Version),
			zap.Float64("total", result.Budget.TotalValue))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Regenerate a briefing's budget as a new version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.Generate(ctx, generateBriefingID, regenerateReason)
		if err != nil {
			return eris.Wrap(err, "regenerate budget")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a briefing's current budget and superseded versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		current, ok, err := env.Engine.Current(ctx, generateBriefingID)
		if err != nil {
			return eris.Wrap(err, "load current budget")
		}
		history, err := env.Engine.History(ctx, generateBriefingID)
		if err != nil {
			return eris.Wrap(err, "load budget history")
		}

		out := map[string]any{"history": history}
		if ok {
			out["current"] = current
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateBriefingID, "briefing", "", "briefing id (required)")
	_ = generateCmd.MarkFlagRequired("briefing")

	regenerateCmd.Flags().StringVar(&generateBriefingID, "briefing", "", "briefing id (required)")
	regenerateCmd.Flags().StringVar(&regenerateReason, "reason", "", "reason recorded on the superseded version")
	_ = regenerateCmd.MarkFlagRequired("briefing")

	historyCmd.Flags().StringVar(&generateBriefingID, "briefing", "", "briefing id (required)")
	_ = historyCmd.MarkFlagRequired("briefing")

	rootCmd.AddCommand(generateCmd, regenerateCmd, historyCmd)
}
