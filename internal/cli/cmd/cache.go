package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the icon cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show icon cache statistics",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty all icon cache tiers",
	RunE:  runCacheClear,
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired entries from the durable cache tier",
	RunE:  runCacheSweep,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
}

func runCacheStats(_ *cobra.Command, _ []string) error {
	stats := app.Resolver.Stats(app.Ctx)

	fmt.Printf("Memory tier entries:   %d\n", stats.MemorySize)
	fmt.Printf("Durable tier:          %v\n", stats.DurableAvailable)
	if stats.DurableAvailable {
		fmt.Printf("Durable tier entries:  %d\n", stats.DurableSize)
	}
	fmt.Printf("Pending resolutions:   %d\n", stats.PendingCount)
	fmt.Printf("Resolved this session: %d\n", stats.ResolvedCacheSize)
	fmt.Printf("Negative cache size:   %d\n", stats.NegativeCacheSize)
	return nil
}

func runCacheClear(_ *cobra.Command, _ []string) error {
	app.Resolver.ClearAll(app.Ctx)
	fmt.Println("Icon caches cleared.")
	return nil
}

func runCacheSweep(_ *cobra.Command, _ []string) error {
	app.Cache.Sweep(app.Ctx)
	fmt.Println("Expired icon cache entries swept.")
	return nil
}
