// Command pagescope attaches a debugging console to a browser page: it
// captures console output, network traffic and storage, and shows them in a
// terminal panel or streams them to stdout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pagescope/internal/config"
	"pagescope/internal/logging"
)

var (
	// Global flags
	cfgFile  string
	debug    bool
	headless bool

	// Loaded in PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pagescope",
	Short: "Embedded debugging console for web pages",
	Long: `pagescope instruments a browser page and captures what happens inside it:
console output, uncaught errors, fetch/XHR traffic, and localStorage,
sessionStorage and cookie snapshots.

Captured data is kept in bounded in-memory stores and shown in a terminal
panel (open), streamed as lines (tail), or queried once (eval).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath())
		if err != nil {
			return err
		}
		if debug {
			loaded.DebugMode = true
		}
		if cmd.Flags().Changed("headless") {
			loaded.Browser.Headless = headless
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded
		return logging.Initialize(cfg.LoggingOptions())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./"+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable diagnostic logging")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "Run the launched browser headless")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigFile
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
