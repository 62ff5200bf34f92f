// Package cmd provides Cobra CLI commands for startgrid.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/startgrid/startgrid/internal/cli"
)

var (
	app     *cli.App
	version = "dev"

	rootCmd = &cobra.Command{
		Use:   "startgrid",
		Short: "A personal start page with smart favicon caching",
		Long: `Startgrid - a bookmark grid organized into categories, backed by a
multi-tier favicon cache.

Icons are resolved through a prioritized chain of candidate sources
(custom icon, favicon proxy, DNS-based fallback), deduplicated across
concurrent requests and cached in memory, in SQLite and by the HTTP
layer. Failed lookups are negative-cached so unreachable sites never
hammer the network.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion", "version":
				return nil
			}

			var err error
			app, err = cli.NewApp()
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if app != nil {
				_ = app.Close()
			}
		},
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetVersion records the build version printed by the version command.
func SetVersion(v string) {
	version = v
}
