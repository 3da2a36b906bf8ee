package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:           "changeweave",
		Short:         "Release notes from your tracked work items",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	dbPath     string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(errorStyle.Render("✖ " + err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config (missing file falls back to defaults and environment)")
	// Empty means storage.path from config
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the summary cache and run history database (SQLite)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the changeweave version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("changeweave " + version)
	},
}
