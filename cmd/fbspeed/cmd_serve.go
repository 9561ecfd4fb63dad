package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NodePath81/fbspeed/internal/speedserver"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve trace, download and upload endpoints for testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.BindPort, _ = cmd.Flags().GetInt("port")
			}
			logger := util.NewLoggerWith(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := speedserver.NewServer(cfg, logger)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().IntP("port", "p", 0, "Listen port, overrides server.bind_port")
	return cmd
}
