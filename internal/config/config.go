package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"changeweave/internal/platform"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Project struct {
		URL     string `yaml:"url"`
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Brief   string `yaml:"brief"`
		// Query is a GitHub issue search or an Azure DevOps query id / WIQL.
		Query string `yaml:"query"`
	} `yaml:"project"`
	Platform struct {
		AccessToken string `yaml:"access_token"`
		GitHub      struct {
			AppID               string            `yaml:"app_id"`
			InstallationID      int64             `yaml:"installation_id"`
			PrivateKeyPath      string            `yaml:"private_key_path"`
			LabelTypes          map[string]string `yaml:"label_types"`
			IncludePullRequests bool              `yaml:"include_pull_requests"`
			MaxPages            int               `yaml:"max_pages"`
		} `yaml:"github"`
		DevOps struct {
			MaxParentDepth int `yaml:"max_parent_depth"`
		} `yaml:"devops"`
	} `yaml:"platform"`
	AI struct {
		Provider string `yaml:"provider"` // gemini, openai, ollama or none
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"ai"`
	Summary struct {
		Items               bool          `yaml:"items"`
		Rollup              bool          `yaml:"rollup"`
		Concurrency         int           `yaml:"concurrency"`
		RequestTimeout      time.Duration `yaml:"request_timeout"`
		MinDescriptionChars int           `yaml:"min_description_chars"`
	} `yaml:"summary"`
	Hierarchy struct {
		MajorTypes     []string `yaml:"major_types"`
		EligibleStates []string `yaml:"eligible_states"`
	} `yaml:"hierarchy"`
	Output struct {
		Dir    string `yaml:"dir"`
		JSON   bool   `yaml:"json"`
		Report bool   `yaml:"report"`
	} `yaml:"output"`
	Storage struct {
		Path  string `yaml:"path"`
		Cache bool   `yaml:"cache"`
	} `yaml:"storage"`
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	var cfg Config
	cfg.AI.Provider = "gemini"
	cfg.Summary.Items = true
	cfg.Summary.Rollup = true
	cfg.Summary.Concurrency = 4
	cfg.Summary.RequestTimeout = 60 * time.Second
	cfg.Summary.MinDescriptionChars = 10
	cfg.Hierarchy.MajorTypes = []string{"Epic"}
	cfg.Hierarchy.EligibleStates = []string{"Closed", "Done", "Resolved", "Completed"}
	cfg.Platform.GitHub.MaxPages = 10
	cfg.Platform.DevOps.MaxParentDepth = 5
	cfg.Output.Dir = "Releases"
	cfg.Output.JSON = true
	cfg.Output.Report = true
	cfg.Storage.Path = ".changeweave/changeweave.db"
	cfg.Storage.Cache = true
	return &cfg
}

// LoadConfig reads .env, then the YAML file at path (skipped when path is
// empty), then CHANGEWEAVE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// 3. Override with Environment Variables if present
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"CHANGEWEAVE_API_KEY", &cfg.AI.APIKey},
		{"CHANGEWEAVE_AI_PROVIDER", &cfg.AI.Provider},
		{"CHANGEWEAVE_MODEL", &cfg.AI.Model},
		{"CHANGEWEAVE_ACCESS_TOKEN", &cfg.Platform.AccessToken},
		{"CHANGEWEAVE_PROJECT_URL", &cfg.Project.URL},
		{"CHANGEWEAVE_RELEASE_VERSION", &cfg.Project.Version},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if _, err := platform.ParseProject(c.Project.URL); err != nil {
		problems = append(problems, fmt.Sprintf("project.url: %v", err))
	}
	if strings.TrimSpace(c.Project.Version) == "" {
		problems = append(problems, "project.version is required")
	}
	switch strings.ToLower(c.AI.Provider) {
	case "gemini", "openai", "ollama", "none", "":
	default:
		problems = append(problems, fmt.Sprintf("ai.provider %q is not one of gemini, openai, ollama, none", c.AI.Provider))
	}
	if c.Summary.Concurrency < 0 {
		problems = append(problems, "summary.concurrency must not be negative")
	}
	if c.Summary.RequestTimeout < 0 {
		problems = append(problems, "summary.request_timeout must not be negative")
	}
	gh := c.Platform.GitHub
	if gh.AppID != "" && (gh.InstallationID <= 0 || gh.PrivateKeyPath == "") {
		problems = append(problems, "platform.github.app_id needs installation_id and private_key_path")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ProjectName is the configured name, else the repository or project name
// taken from the URL.
func (c *Config) ProjectName() string {
	if c.Project.Name != "" {
		return c.Project.Name
	}
	if p, err := platform.ParseProject(c.Project.URL); err == nil {
		return p.Name
	}
	return "project"
}

// defaultModels holds the model used per provider when ai.model is unset.
var defaultModels = map[string]string{
	"gemini": "gemini-2.5-flash",
	"openai": "gpt-4o-mini",
	"ollama": "llama3.1",
}

// ModelName returns ai.model, or the default model of the configured provider.
func (c *Config) ModelName() string {
	if m := strings.TrimSpace(c.AI.Model); m != "" {
		return m
	}
	provider := strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if provider == "" {
		provider = "gemini"
	}
	return defaultModels[provider]
}

// SummarizationEnabled reports whether any model request is configured.
func (c *Config) SummarizationEnabled() bool {
	return !strings.EqualFold(c.AI.Provider, "none") && (c.Summary.Items || c.Summary.Rollup)
}

// SummaryRequests returns the per-item and roll-up toggles a run should ask
// for. Both are off when the provider is "none".
func (c *Config) SummaryRequests() (items, rollup bool) {
	if strings.EqualFold(strings.TrimSpace(c.AI.Provider), "none") {
		return false, false
	}
	return c.Summary.Items, c.Summary.Rollup
}

// SecretResolver turns a credential reference into its value.
type SecretResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// ResolveSecrets replaces credential references in place.
func (c *Config) ResolveSecrets(ctx context.Context, r SecretResolver) error {
	for _, field := range []*string{&c.AI.APIKey, &c.Platform.AccessToken} {
		v, err := r.Resolve(ctx, *field)
		if err != nil {
			return err
		}
		*field = v
	}
	return nil
}
