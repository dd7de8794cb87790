package main

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show analysis statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.AnalysisStats(ctx)
		if err != nil {
			return err
		}

		return printJSON(stats)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
