package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/startgrid/startgrid/internal/icon"
)


var warmCategory int

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Preload icons for bookmarks so renders hit the cache",
	Long: `Resolves icons for the bookmarks of a category (default: all
categories) and stores the results in the durable cache, so subsequent
grid renders load icons without waiting on the network.`,
	RunE: runWarm,
}

func init() {
	rootCmd.AddCommand(warmCmd)
	warmCmd.Flags().IntVarP(&warmCategory, "category", "c", -1, "category index to warm (-1 for all)")
}

func runWarm(_ *cobra.Command, _ []string) error {
	categories := app.Store.Categories()
	if len(categories) == 0 {
		fmt.Println("No bookmarks to warm.")
		return nil
	}

	warmed := 0
	for i, category := range categories {
		if warmCategory >= 0 && i != warmCategory {
			continue
		}

		for _, bm := range category.Items {
			resolved, err := app.Resolver.Resolve(app.Ctx, bm, icon.ResolveOptions{IgnoreNegativeCache: true})
			if err != nil {
				return err
			}
			if resolved == "" {
				continue
			}
			// Pull the bytes through the persistent cache so the durable
			// tier is warm, not just the session-level resolved map.
			if _, err := app.Resolver.ResolveData(app.Ctx, resolved); err != nil {
				return err
			}
			warmed++
		}
	}

	fmt.Printf("Warmed icons for %d bookmarks.\n", warmed)
	return nil
}
