package secrets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

const metadataProjectURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

// SecretManagerClient reads secrets from GCP Secret Manager.
type SecretManagerClient struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerClient uses application default credentials unless opts
// say otherwise. The project is taken from the environment or the metadata
// server and is only needed for bare secret names.
func NewSecretManagerClient(ctx context.Context, opts ...option.ClientOption) (*SecretManagerClient, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	// a missing project only matters for bare names; FetchSecret reports it
	projectID, _ := getProjectID(ctx)
	return &SecretManagerClient{client: client, projectID: projectID}, nil
}

// GCPFetcher adapts NewSecretManagerClient to Resolver.
func GCPFetcher(opts ...option.ClientOption) func(ctx context.Context) (Fetcher, error) {
	return func(ctx context.Context) (Fetcher, error) {
		return NewSecretManagerClient(ctx, opts...)
	}
}

// FetchSecret accepts a full version path, a secret path (latest version)
// or a bare secret name.
func (c *SecretManagerClient) FetchSecret(ctx context.Context, secretPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	name, err := normalizeSecretPath(secretPath, c.projectID)
	if err != nil {
		return "", err
	}
	result, err := c.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}
	return string(result.GetPayload().GetData()), nil
}

func (c *SecretManagerClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func normalizeSecretPath(secretPath, projectID string) (string, error) {
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/versions/") {
		return secretPath, nil
	}
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/secrets/") {
		return secretPath + "/versions/latest", nil
	}
	if projectID == "" {
		return "", fmt.Errorf("secret %q needs a project: set GOOGLE_CLOUD_PROJECT or use projects/<id>/secrets/<name>", secretPath)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, path.Base(secretPath)), nil
}

func getProjectID(ctx context.Context) (string, error) {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"} {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}
	return getProjectIDFromMetadata(ctx, metadataProjectURL)
}

func getProjectIDFromMetadata(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch project ID from metadata server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}
	projectID := strings.TrimSpace(string(body))
	if projectID == "" {
		return "", fmt.Errorf("empty project ID from metadata server")
	}
	return projectID, nil
}
