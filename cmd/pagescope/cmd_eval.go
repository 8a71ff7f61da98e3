package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var evalWait time.Duration

var evalCmd = &cobra.Command{
	Use:   "eval [url] [code]",
	Short: "Evaluate one expression in a page and print the result",
	Long: `Loads url with instrumentation enabled, waits, then evaluates code the way
the panel's command line does. Console output captured meanwhile is printed
before the result.

Example:
  pagescope eval https://example.com "document.title"`,
	Args: cobra.ExactArgs(2),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().DurationVar(&evalWait, "wait", 0, "Time to let the page run before evaluating")
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	ps, err := attach(ctx, cfg, args[0], nil)
	if err != nil {
		return err
	}
	defer ps.close()

	if evalWait > 0 {
		select {
		case <-time.After(evalWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	res := ps.dbg.Execute(ctx, args[1])
	printer := newLinePrinter(cmd.OutOrStdout(), nil)
	for _, entry := range ps.dbg.GetAllLogs() {
		printer.OnLogReceived(entry)
	}
	if res.Failed() {
		return fmt.Errorf("evaluation failed: %w", res.Err)
	}
	return nil
}
