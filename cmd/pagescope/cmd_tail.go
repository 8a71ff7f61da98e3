package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pagescope/internal/config"
	"pagescope/internal/event"
)

var tailLevels []string

var tailCmd = &cobra.Command{
	Use:   "tail [url]",
	Short: "Stream captured console, network and storage activity",
	Long: `Instruments the page at url and prints one line per captured event until
interrupted.

Example:
  pagescope tail https://example.com --level warn,error`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringSliceVar(&tailLevels, "level", nil, "Only print console entries at these levels")
}

func runTail(cmd *cobra.Command, args []string) error {
	levels, err := parseLevels(tailLevels)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	printer := newLinePrinter(cmd.OutOrStdout(), levels)
	ps, err := attach(ctx, cfg, args[0], printer, printer.Observe)
	if err != nil {
		return err
	}
	defer ps.close()

	g, gctx := errgroup.WithContext(ctx)
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

func parseLevels(raw []string) ([]event.Level, error) {
	out := make([]event.Level, 0, len(raw))
	for _, s := range raw {
		lvl, ok := event.ParseLevel(s)
		if !ok {
			return nil, fmt.Errorf("unknown level %q (want log, info, warn, error or debug)", s)
		}
		out = append(out, lvl)
	}
	return out, nil
}
