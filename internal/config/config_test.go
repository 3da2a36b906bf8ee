package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHANGEWEAVE_API_KEY", "CHANGEWEAVE_AI_PROVIDER", "CHANGEWEAVE_MODEL",
		"CHANGEWEAVE_ACCESS_TOKEN", "CHANGEWEAVE_PROJECT_URL", "CHANGEWEAVE_RELEASE_VERSION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
project:
  url: https://github.com/acme/shop
  version: 1.2.0
ai:
  provider: openai
  model: gpt-4o-mini
summary:
  rollup: false
  request_timeout: 15s
hierarchy:
  major_types: [Epic, Initiative]
`), 0644))

	t.Setenv("CHANGEWEAVE_API_KEY", "from-env")
	t.Setenv("CHANGEWEAVE_RELEASE_VERSION", "1.3.0")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "from-env", cfg.AI.APIKey)
	assert.Equal(t, "1.3.0", cfg.Project.Version)
	assert.True(t, cfg.Summary.Items, "unset keys keep defaults")
	assert.False(t, cfg.Summary.Rollup)
	assert.Equal(t, 15*time.Second, cfg.Summary.RequestTimeout)
	assert.Equal(t, 4, cfg.Summary.Concurrency)
	assert.Equal(t, []string{"Epic", "Initiative"}, cfg.Hierarchy.MajorTypes)
	assert.Equal(t, "shop", cfg.ProjectName())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project: [unclosed"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project.url")
	assert.Contains(t, err.Error(), "project.version")

	cfg.Project.URL = "https://dev.azure.com/acme/Shop"
	cfg.Project.Version = "2.0"
	cfg.AI.Provider = "claude-local"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ai.provider")

	cfg.AI.Provider = "none"
	cfg.Platform.GitHub.AppID = "123"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "installation_id")

	cfg.Platform.GitHub.AppID = ""
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.SummarizationEnabled())
}

func TestModelName_FollowsProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHANGEWEAVE_AI_PROVIDER", "openai")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.AI.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.ModelName())

	cfg.AI.Provider = "Ollama"
	assert.Equal(t, "llama3.1", cfg.ModelName())

	cfg.AI.Provider = ""
	assert.Equal(t, "gemini-2.5-flash", cfg.ModelName())

	cfg.AI.Model = "custom-model"
	assert.Equal(t, "custom-model", cfg.ModelName())
}

func TestSummaryRequests(t *testing.T) {
	cfg := Default()
	items, rollup := cfg.SummaryRequests()
	assert.True(t, items)
	assert.True(t, rollup)

	cfg.Summary.Rollup = false
	items, rollup = cfg.SummaryRequests()
	assert.True(t, items)
	assert.False(t, rollup)

	cfg.Summary.Rollup = true
	cfg.AI.Provider = "NONE"
	items, rollup = cfg.SummaryRequests()
	assert.False(t, items)
	assert.False(t, rollup)
}

type prefixResolver struct{ fail bool }

func (r prefixResolver) Resolve(_ context.Context, v string) (string, error) {
	if r.fail {
		return "", errors.New("denied")
	}
	if strings.HasPrefix(v, "gcpsm://") {
		return "resolved-" + strings.TrimPrefix(v, "gcpsm://"), nil
	}
	return v, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := Default()
	cfg.AI.APIKey = "gcpsm://llm-key"
	cfg.Platform.AccessToken = "plain"

	require.NoError(t, cfg.ResolveSecrets(context.Background(), prefixResolver{}))
	assert.Equal(t, "resolved-llm-key", cfg.AI.APIKey)
	assert.Equal(t, "plain", cfg.Platform.AccessToken)

	assert.Error(t, cfg.ResolveSecrets(context.Background(), prefixResolver{fail: true}))
}

func TestScaffold(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	created, err := Scaffold(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "config.yaml"), filepath.Join(dir, ".env")}, created)

	// the template must load cleanly
	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Bug", cfg.Platform.GitHub.LabelTypes["bug"])
	assert.NoError(t, cfg.Validate())

	again, err := Scaffold(dir)
	require.NoError(t, err)
	assert.Empty(t, again)
}
