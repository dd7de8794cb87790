package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "Social profile scraping and financial-status analysis",
	Long:  "Manages scraping accounts and their browser sessions, harvests group feeds and profiles, and classifies profiles by likely financial status via Claude.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
