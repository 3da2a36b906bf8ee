package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"changeweave/internal/config"
	"changeweave/internal/generator"
	"changeweave/internal/hierarchy"
	"changeweave/internal/knowledge"
	"changeweave/internal/pipeline"
	"changeweave/internal/secrets"

	"github.com/spf13/cobra"
)

var (
	genProjectURL string
	genRelease    string
	genQuery      string
	genOutputDir  string
	genProvider   string
	genNoItems    bool
	genNoRollup   bool
	genNoHistory  bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Fetch closed work items and write release notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyGenerateFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		resolver := secrets.NewResolver(secrets.GCPFetcher())
		defer resolver.Close()
		if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
			return err
		}

		return runGenerate(ctx, cfg)
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genProjectURL, "project-url", "", "GitHub repository or Azure DevOps project URL")
	f.StringVarP(&genRelease, "release", "r", "", "Release version to title the notes with")
	f.StringVarP(&genQuery, "query", "q", "", "GitHub issue search terms, or Azure DevOps query id / WIQL")
	f.StringVarP(&genOutputDir, "output", "o", "", "Output directory for the release notes")
	f.StringVar(&genProvider, "provider", "", "Summarizer provider: gemini, openai, ollama or none")
	f.BoolVar(&genNoItems, "no-item-summaries", false, "Use raw descriptions instead of per-item summaries")
	f.BoolVar(&genNoRollup, "no-rollup", false, "Skip the release overview summary")
	f.BoolVar(&genNoHistory, "no-history", false, "Do not use the summary cache or record run history")
}

func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("project-url") {
		cfg.Project.URL = genProjectURL
	}
	if flags.Changed("release") {
		cfg.Project.Version = genRelease
	}
	if flags.Changed("query") {
		cfg.Project.Query = genQuery
	}
	if flags.Changed("output") {
		cfg.Output.Dir = genOutputDir
	}
	if flags.Changed("provider") {
		cfg.AI.Provider = genProvider
	}
	if genNoItems {
		cfg.Summary.Items = false
	}
	if genNoRollup {
		cfg.Summary.Rollup = false
	}
}

func runGenerate(ctx context.Context, cfg *config.Config) error {
	name := cfg.ProjectName()
	fmt.Printf("🚀 Generating release notes for %s v%s\n", name, cfg.Project.Version)

	fetcher, err := buildFetcher(ctx, cfg)
	if err != nil {
		return err
	}

	var extra []pipeline.Option
	var cache knowledge.SummaryCache
	if !genNoHistory {
		store, err := openStore(cfg)
		if err != nil {
			log.Printf("Warning: run history disabled: %v", err)
		} else {
			defer store.Close()
			extra = append(extra, pipeline.WithRunStore(store))
			if cfg.Storage.Cache {
				cache = store
			}
		}
	}

	engine, err := buildEngine(ctx, cfg, cache)
	if err != nil {
		log.Printf("Warning: summarization unavailable: %v", err)
		extra = append(extra, pipeline.WithUnavailableCause(err))
	} else if engine != nil {
		extra = append(extra, pipeline.WithEngine(engine))
	}

	renderer := generator.NewRenderer(generator.RenderOptions{
		Project:     name,
		Version:     cfg.Project.Version,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})

	md := generator.NewMarkdownSink(cfg.Output.Dir, name, cfg.Project.Version)
	sinks := generator.MultiSink{md}
	outputs := []string{md.Path()}
	if cfg.Output.JSON {
		js := generator.NewJSONSink(cfg.Output.Dir)
		sinks = append(sinks, js)
		outputs = append(outputs, js.Path)
	}
	itemSummaries, rollup := cfg.SummaryRequests()
	opts := pipeline.Options{
		Project:             name,
		Version:             cfg.Project.Version,
		Query:               cfg.Project.Query,
		ItemSummaries:       itemSummaries,
		RollupSummary:       rollup,
		MinDescriptionChars: cfg.Summary.MinDescriptionChars,
		Hierarchy: hierarchy.Options{
			Classification: hierarchy.Classification{Major: cfg.Hierarchy.MajorTypes},
		},
		EligibleStates: cfg.Hierarchy.EligibleStates,
		OutputPath:     md.Path(),
	}
	if cfg.Output.Report {
		opts.ReportPath = filepath.Join(cfg.Output.Dir, "pipeline_report.json")
		outputs = append(outputs, opts.ReportPath)
	}

	res, err := pipeline.New(opts, fetcher, renderer, sinks, extra...).Run(ctx)
	if err != nil && (res == nil || res.Document == nil) {
		return err
	}
	fmt.Println(renderRunSummary(res, outputs))
	return err
}
