// Package cli implements the strata command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Freshness-aware knowledge store for codebase analyses",
	Long: "Strata stores codebase analysis artifacts with content-hash deduplication\n" +
		"and tracks change timestamps across a scope hierarchy, so every read\n" +
		"reports how stale its answer is.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(freshnessCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(dependentsCmd)
	rootCmd.AddCommand(lifecycleCmd)
	rootCmd.AddCommand(staleCmd)
}
