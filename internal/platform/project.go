package platform

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	GitHub = "github"
	DevOps = "devops"
)

// Project identifies where work items live.
type Project struct {
	Platform string
	// Owner is the GitHub owner or the Azure DevOps organization.
	Owner string
	// Name is the GitHub repository or the Azure DevOps project.
	Name string
	// APIBase is the REST root: https://api.github.com, or the organization
	// URL for Azure DevOps.
	APIBase string
	WebURL  string
}

// ParseProject recognizes github.com, dev.azure.com and *.visualstudio.com
// project URLs.
func ParseProject(raw string) (Project, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Project{}, fmt.Errorf("project url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Project{}, fmt.Errorf("invalid project url %q: %w", raw, err)
	}
	host := strings.ToLower(u.Hostname())
	parts := splitPath(u.Path)

	switch {
	case host == "github.com" || host == "www.github.com":
		if len(parts) < 2 {
			return Project{}, fmt.Errorf("github url must name owner and repository: %s", raw)
		}
		repo := strings.TrimSuffix(parts[1], ".git")
		return Project{
			Platform: GitHub,
			Owner:    parts[0],
			Name:     repo,
			APIBase:  "https://api.github.com",
			WebURL:   fmt.Sprintf("https://github.com/%s/%s", parts[0], repo),
		}, nil
	case host == "dev.azure.com":
		if len(parts) < 2 {
			return Project{}, fmt.Errorf("azure devops url must name organization and project: %s", raw)
		}
		return Project{
			Platform: DevOps,
			Owner:    parts[0],
			Name:     parts[1],
			APIBase:  "https://dev.azure.com/" + parts[0],
			WebURL:   fmt.Sprintf("https://dev.azure.com/%s/%s", parts[0], parts[1]),
		}, nil
	case strings.HasSuffix(host, ".visualstudio.com"):
		if len(parts) < 1 {
			return Project{}, fmt.Errorf("visualstudio url must name a project: %s", raw)
		}
		org := strings.TrimSuffix(host, ".visualstudio.com")
		project := parts[0]
		if project == "DefaultCollection" && len(parts) > 1 {
			project = parts[1]
		}
		return Project{
			Platform: DevOps,
			Owner:    org,
			Name:     project,
			APIBase:  "https://" + host,
			WebURL:   fmt.Sprintf("https://%s/%s", host, project),
		}, nil
	default:
		return Project{}, fmt.Errorf("unsupported project host %q", host)
	}
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
		out = append(out, s)
	}
	return out
}
