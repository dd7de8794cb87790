package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/confirm"
	"github.com/finsight-io/finsight/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// No operator terminal behind the API; join flows report their
		// status without waiting on a prompt.
		env, err := initEnv(ctx, confirm.Auto{Answer: true})
		if err != nil {
			return err
		}
		defer env.Close()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		srv := server.New(env.Store, env.Orchestrator, env.Pipeline, env.Sessions, cfg)

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
