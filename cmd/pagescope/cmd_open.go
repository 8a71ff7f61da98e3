package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pagescope/internal/config"
	"pagescope/internal/logging"
	"pagescope/internal/overlay"
)

var openCmd = &cobra.Command{
	Use:   "open [url]",
	Short: "Open a page and show the debugging panel",
	Long: `Launches (or attaches to) a browser, instruments the page at url, and runs
the terminal panel until it is closed with esc.

Memory pressure compaction runs when the page is hidden, on SIGUSR1, or on
ctrl+g in the panel. Edits to the config file are picked up while running.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	// The panel owns the terminal, so diagnostics go to a file.
	if cfg.Logging.File == "" {
		opts := cfg.LoggingOptions()
		opts.File = filepath.Join(os.TempDir(), "pagescope.log")
		if err := logging.Initialize(opts); err != nil {
			return err
		}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	ps, err := attach(ctx, cfg, args[0], nil)
	if err != nil {
		return err
	}
	defer ps.close()

	if !ps.dbg.IsVisible() {
		ps.dbg.Toggle()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	model := overlay.New(ps.dbg, overlay.Options{Context: gctx})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
	stopForward := overlay.Forward(ps.dbg.Aggregator(), p)
	defer stopForward()

	g.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ps.dbg.WatchPressure(gctx)
	})
	if _, err := os.Stat(configPath()); err == nil {
		g.Go(func() error {
			return config.Watch(gctx, configPath(), applyReload)
		})
	}
	return g.Wait()
}

// applyReload picks up the settings that can change while running.
func applyReload(next *config.Config) {
	logging.SetDebugMode(next.DebugMode)
	logging.SetLevel(next.Logging.Level)
}
