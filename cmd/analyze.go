package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/confirm"
)

var analyzeForce bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <profile-id> [profile-id...]",
	Short: "Classify scraped profiles by likely financial status",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		if len(ids) == 1 {
			analysis, err := env.Pipeline.AnalyzeProfile(ctx, ids[0], analyzeForce)
			if err != nil {
				return err
			}
			return printJSON(analysis)
		}

		result, err := env.Pipeline.BatchAnalyzeProfiles(ctx, ids, analyzeForce)
		if err != nil {
			return err
		}

		zap.L().Info("batch analysis complete",
			zap.Int("processed", result.Processed),
			zap.Int("skipped", result.Skipped),
			zap.Int("errors", len(result.Errors)),
			zap.Int64("total_tokens", result.TotalTokens),
		)
		return printJSON(result)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeForce, "force", false, "re-analyze even if a recent analysis exists")
	rootCmd.AddCommand(analyzeCmd)
}
