package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `project:
  url: https://github.com/OWNER/REPO
  name: ""
  version: 0.1.0
  brief: ""
  # GitHub: issue search terms (scoped to the repository). Azure DevOps: saved query id or WIQL.
  query: ""

platform:
  # Prefer CHANGEWEAVE_ACCESS_TOKEN in .env. gcpsm://projects/P/secrets/NAME is also accepted.
  access_token: ""
  github:
    label_types:
      epic: Epic
      feature: Feature
      bug: Bug
    include_pull_requests: false
  devops:
    max_parent_depth: 5

ai:
  provider: gemini
  model: gemini-2.5-flash
  api_key: ""

summary:
  items: true
  rollup: true
  concurrency: 4
  request_timeout: 60s

hierarchy:
  major_types: [Epic]
  eligible_states: [Closed, Done, Resolved, Completed]

output:
  dir: Releases
  json: true
  report: true

storage:
  path: .changeweave/changeweave.db
  cache: true
`

const envTemplate = `CHANGEWEAVE_PROJECT_URL=
CHANGEWEAVE_RELEASE_VERSION=
CHANGEWEAVE_ACCESS_TOKEN=
CHANGEWEAVE_AI_PROVIDER=gemini
CHANGEWEAVE_MODEL=
CHANGEWEAVE_API_KEY=
`

// Scaffold writes config.yaml and .env templates into dir. Existing files
// are left alone and not reported as created.
func Scaffold(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	var created []string
	files := []struct{ name, body string }{
		{"config.yaml", configTemplate},
		{".env", envTemplate},
	}
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to create %s: %w", path, err)
		}
		_, werr := f.WriteString(file.body)
		cerr := f.Close()
		if werr != nil {
			return created, fmt.Errorf("failed to write %s: %w", path, werr)
		}
		if cerr != nil {
			return created, cerr
		}
		created = append(created, path)
	}
	return created, nil
}
