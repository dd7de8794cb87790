package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/confirm"
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Harvest post comments",
}

var postScanCmd = &cobra.Command{
	Use:   "scan <post-external-id>",
	Short: "Fetch a post's comments and stub out the commenting profiles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, confirm.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout()))
		if err != nil {
			return err
		}
		defer env.Close()

		comments, err := env.Orchestrator.ScanPost(ctx, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("post scan complete",
			zap.String("post", args[0]),
			zap.Int("comments", len(comments)),
		)
		return printJSON(comments)
	},
}

func init() {
	postCmd.AddCommand(postScanCmd)
	rootCmd.AddCommand(postCmd)
}
