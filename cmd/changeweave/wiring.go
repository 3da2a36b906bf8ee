package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"changeweave/internal/config"
	"changeweave/internal/knowledge"
	"changeweave/internal/pipeline"
	"changeweave/internal/platform"
	"changeweave/internal/platform/devops"
	"changeweave/internal/platform/github"
	"changeweave/internal/storage"

	"github.com/spf13/cobra"
)

// loadConfig reads --config. The default path may be absent, in which case
// defaults and the environment are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*storage.SQLiteStore, error) {
	path := dbPath
	if path == "" {
		path = cfg.Storage.Path
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return storage.NewSQLiteStore(path)
}

// buildFetcher picks the platform from the project URL.
func buildFetcher(ctx context.Context, cfg *config.Config) (pipeline.Fetcher, error) {
	proj, err := platform.ParseProject(cfg.Project.URL)
	if err != nil {
		return nil, err
	}

	switch proj.Platform {
	case platform.GitHub:
		auth, err := githubAuth(cfg, proj)
		if err != nil {
			return nil, err
		}
		src, err := github.NewSource(github.Config{
			Owner:               proj.Owner,
			Repo:                proj.Name,
			BaseURL:             proj.APIBase,
			IncludePullRequests: cfg.Platform.GitHub.IncludePullRequests,
			MaxPages:            cfg.Platform.GitHub.MaxPages,
		}, auth)
		if err != nil {
			return nil, err
		}
		return platform.NewClient(src, github.NewAdapter(cfg.Platform.GitHub.LabelTypes)), nil

	case platform.DevOps:
		src, err := devops.NewSource(devops.Config{
			OrgURL:         proj.APIBase,
			Project:        proj.Name,
			PAT:            cfg.Platform.AccessToken,
			MaxParentDepth: cfg.Platform.DevOps.MaxParentDepth,
		})
		if err != nil {
			return nil, err
		}
		icons, err := src.TypeIcons(ctx)
		if err != nil {
			log.Printf("Warning: could not load work item type icons: %v", err)
		}
		return platform.NewClient(src, devops.NewAdapter(icons)), nil

	default:
		return nil, fmt.Errorf("unsupported platform %q", proj.Platform)
	}
}

func githubAuth(cfg *config.Config, proj platform.Project) (github.Authenticator, error) {
	app := cfg.Platform.GitHub
	if app.AppID == "" {
		return github.StaticToken(cfg.Platform.AccessToken), nil
	}
	keyPEM, err := os.ReadFile(app.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read GitHub App private key: %w", err)
	}
	gen, err := github.NewJWTGenerator(app.AppID, keyPEM)
	if err != nil {
		return nil, err
	}
	exchanger := github.NewTokenExchanger(github.WithExchangeBaseURL(proj.APIBase))
	return github.NewAppAuth(gen, exchanger, app.InstallationID), nil
}

// buildEngine returns a nil engine when summarization is switched off. An
// error means it was wanted but cannot run.
func buildEngine(ctx context.Context, cfg *config.Config, cache knowledge.SummaryCache) (*knowledge.Engine, error) {
	if !cfg.SummarizationEnabled() {
		return nil, nil
	}
	provider := strings.ToLower(cfg.AI.Provider)
	if provider != "ollama" && cfg.AI.APIKey == "" {
		return nil, fmt.Errorf("AI API key not configured")
	}
	model := cfg.ModelName()
	summarizer, err := knowledge.NewSummarizer(ctx, knowledge.SummarizerOptions{
		Provider: provider,
		APIKey:   cfg.AI.APIKey,
		Model:    model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create summarizer: %w", err)
	}
	return knowledge.NewEngine(summarizer, knowledge.EngineOptions{
		Concurrency:         cfg.Summary.Concurrency,
		RequestTimeout:      cfg.Summary.RequestTimeout,
		MinDescriptionChars: cfg.Summary.MinDescriptionChars,
		Project: knowledge.ProjectInfo{
			Name:    cfg.ProjectName(),
			Version: cfg.Project.Version,
			Brief:   cfg.Project.Brief,
		},
		Cache:          cache,
		CacheNamespace: provider + ":" + model,
	}), nil
}
