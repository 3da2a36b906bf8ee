package main

import (
	"fmt"
	"time"

	"changeweave/internal/config"

	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	pruneOlderThan time.Duration
	initDir        string
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runs, or the work items rendered by one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			items, err := store.RunItems(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println(mutedStyle.Render("No items recorded for run " + args[0]))
				return nil
			}
			for _, it := range items {
				parent := ""
				if it.ParentID != "" {
					parent = mutedStyle.Render(" ↑ #" + it.ParentID)
				}
				fmt.Printf("#%-8s %-14s %s%s\n", it.ID, it.TypeName(), it.Title, parent)
			}
			return nil
		}

		runs, err := store.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println(mutedStyle.Render("No runs recorded yet."))
			return nil
		}
		fmt.Println(titleStyle.Render("Recent runs"))
		for _, r := range runs {
			fmt.Printf("%s  %s  %-12s v%-10s %s  %s  items=%d summarized=%d\n",
				mutedStyle.Render(r.StartedAt.Local().Format("2006-01-02 15:04")),
				r.ID,
				r.Project,
				r.Version,
				stateStyle(r.FinalState).Render(fmt.Sprintf("%-6s", r.FinalState)),
				coverageStyle(r.Coverage).Render(fmt.Sprintf("%-8s", r.Coverage)),
				r.Items, r.Summarized)
			if r.Error != "" {
				fmt.Println("    " + errorStyle.Render(r.Error))
			}
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop cached summaries not used recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PruneSummaries(cmd.Context(), time.Now().Add(-pruneOlderThan))
		if err != nil {
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("🧹 Removed %d cached summaries.", n)))
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml and .env templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := config.Scaffold(initDir)
		if err != nil {
			return err
		}
		if len(created) == 0 {
			fmt.Println(mutedStyle.Render("config.yaml and .env already exist; nothing to do."))
			return nil
		}
		for _, p := range created {
			fmt.Println(okStyle.Render("✅ Created " + p))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to list")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Remove summaries unused for this long")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write the templates into")
}
