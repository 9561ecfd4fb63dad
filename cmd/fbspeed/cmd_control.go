package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/fbspeed/internal/app"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/spf13/cobra"
)

func newControlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "control",
		Short: "Serve the control API and status stream; SIGHUP reloads config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			cfg, err := app.LoadConfigOrDefault(path)
			if err != nil {
				return err
			}
			logger := util.NewLoggerWith(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			supervisor := app.NewSupervisor(path, logger)
			if err := supervisor.Start(); err != nil {
				return err
			}
			if rt := supervisor.Runtime(); rt != nil {
				logger.Info("control plane ready", "addr", rt.ControlAddr())
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigCh)
			for sig := range sigCh {
				if sig == syscall.SIGHUP {
					if err := supervisor.Restart(); err != nil {
						logger.Error("restart failed", "error", err)
					}
					continue
				}
				logger.Info("shutting down", "signal", sig.String())
				break
			}
			supervisor.Stop()
			return nil
		},
	}
}
