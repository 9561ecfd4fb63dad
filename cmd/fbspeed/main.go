package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/NodePath81/fbspeed/internal/app"
	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/version"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.yaml"

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		code := 1
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fbspeed",
		Short:         "HTTP speed test: latency, jitter, download and upload",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to config file")

	rootCmd.AddCommand(
		newRunCmd(),
		newControlCmd(),
		newServeCmd(),
		newCheckCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			},
		},
	)
	return rootCmd
}

// configPath returns the --config value, or "" when the default path is
// absent so that defaults apply. An explicitly named file must exist.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if cmd.Flags().Changed("config") {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return app.LoadConfigOrDefault(configPath(cmd))
}
