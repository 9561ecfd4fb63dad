package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/fbspeed/internal/app"
	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/spf13/cobra"
)

var errInterrupted = errors.New("interrupted")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one speed test and print the results",
		Args:  cobra.NoArgs,
		RunE:  runHandler,
	}
	cmd.Flags().Bool("json", false, "Print the final snapshot as JSON")
	cmd.Flags().Bool("no-progress", false, "Disable progress bar")
	cmd.Flags().BoolP("verbose", "v", false, "Log at the configured level instead of warn")
	return cmd
}

func runHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := cfg.Log.Level
	if !verbose && util.ParseLevel(level) < util.ParseLevel("warn") {
		level = "warn"
	}
	logger := util.NewLoggerWith(os.Stderr, level, cfg.Log.Format)

	eng, err := app.NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	progress := newProgressPrinter(out, !noProgress && !asJSON)
	snap, err := runOnce(ctx, eng.Orchestrator, progress.update)
	progress.finish()
	if errors.Is(err, errInterrupted) {
		return &exitError{code: 130, err: err}
	}
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	renderResults(out, snap)
	return nil
}

// runOnce starts a run and follows its publications until it completes,
// fails or ctx ends. Cancelling ctx resets the engine.
func runOnce(ctx context.Context, orch *engine.Orchestrator, onUpdate func(engine.Snapshot)) (engine.Snapshot, error) {
	updates, cancel := orch.Subscribe()
	defer cancel()
	if !orch.Start() {
		return orch.Snapshot(), errors.New("speed test already running")
	}
	for {
		if ctx.Err() != nil {
			orch.Reset()
			return orch.Snapshot(), errInterrupted
		}
		select {
		case <-ctx.Done():
			continue
		case snap, ok := <-updates:
			if !ok {
				return orch.Snapshot(), errors.New("engine closed")
			}
			if onUpdate != nil {
				onUpdate(snap)
			}
			switch {
			case snap.Phase == engine.PhaseComplete:
				return snap, nil
			case snap.Phase == engine.PhaseIdle && snap.LastError != "":
				return snap, fmt.Errorf("speed test failed: %s", snap.LastError)
			case snap.Phase == engine.PhaseIdle:
				return snap, errors.New("speed test reset")
			}
		}
	}
}
