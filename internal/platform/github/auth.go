package github

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// MaxJWTDuration is the longest App JWT lifetime GitHub accepts.
const MaxJWTDuration = 10 * time.Minute

// tokenRefreshMargin is how long before expiry a cached installation token
// is replaced.
const tokenRefreshMargin = 2 * time.Minute

// Authenticator supplies the value of the Authorization header.
type Authenticator interface {
	Authorization(ctx context.Context) (string, error)
}

// StaticToken authenticates with a personal access token. An empty token
// sends unauthenticated requests.
type StaticToken string

func (t StaticToken) Authorization(context.Context) (string, error) {
	if t == "" {
		return "", nil
	}
	return "Bearer " + string(t), nil
}

// JWTGenerator signs GitHub App JWTs.
type JWTGenerator struct {
	appID      string
	privateKey *rsa.PrivateKey
	now        func() time.Time
}

func NewJWTGenerator(appID string, privateKeyPEM []byte) (*JWTGenerator, error) {
	if appID == "" {
		return nil, fmt.Errorf("app ID cannot be empty")
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &JWTGenerator{appID: appID, privateKey: key, now: time.Now}, nil
}

// GenerateToken signs a JWT valid for the given duration. GitHub rejects
// anything longer than MaxJWTDuration.
func (g *JWTGenerator) GenerateToken(duration time.Duration) (string, error) {
	if duration <= 0 {
		return "", fmt.Errorf("duration must be positive")
	}
	if duration > MaxJWTDuration {
		return "", fmt.Errorf("duration %v exceeds maximum allowed %v", duration, MaxJWTDuration)
	}
	// backdate to tolerate clock drift against GitHub
	now := g.now().Add(-30 * time.Second)
	claims := jwt.RegisteredClaims{
		Issuer:    g.appID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(g.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// InstallationToken is a short-lived token scoped to one App installation.
type InstallationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenExchanger trades App JWTs for installation tokens.
type TokenExchanger struct {
	httpClient *http.Client
	baseURL    string
}

type TokenExchangerOption func(*TokenExchanger)

func WithExchangeHTTPClient(client *http.Client) TokenExchangerOption {
	return func(t *TokenExchanger) { t.httpClient = client }
}

func WithExchangeBaseURL(url string) TokenExchangerOption {
	return func(t *TokenExchanger) { t.baseURL = url }
}

func NewTokenExchanger(opts ...TokenExchangerOption) *TokenExchanger {
	t := &TokenExchanger{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TokenExchanger) ExchangeToken(ctx context.Context, appJWT string, installationID int64) (*InstallationToken, error) {
	if appJWT == "" {
		return nil, fmt.Errorf("JWT cannot be empty")
	}
	if installationID <= 0 {
		return nil, fmt.Errorf("installation ID must be positive")
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", t.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var token InstallationToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &token, nil
}

type apiError struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}

func parseAPIError(statusCode int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return fmt.Errorf("API error (status %d): %s", statusCode, string(body))
	}
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: %s (check JWT validity and expiration)", apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("forbidden: %s (check App permissions)", apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (check installation ID)", apiErr.Message)
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, apiErr.Message)
	}
}

// AppAuth authenticates as a GitHub App installation, caching the
// installation token until shortly before it expires.
type AppAuth struct {
	generator      *JWTGenerator
	exchanger      *TokenExchanger
	installationID int64

	mu     sync.Mutex
	cached *InstallationToken
	now    func() time.Time
}

func NewAppAuth(generator *JWTGenerator, exchanger *TokenExchanger, installationID int64) *AppAuth {
	return &AppAuth{
		generator:      generator,
		exchanger:      exchanger,
		installationID: installationID,
		now:            time.Now,
	}
}

func (a *AppAuth) Authorization(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != nil && a.now().Add(tokenRefreshMargin).Before(a.cached.ExpiresAt) {
		return "Bearer " + a.cached.Token, nil
	}
	appJWT, err := a.generator.GenerateToken(MaxJWTDuration)
	if err != nil {
		return "", err
	}
	token, err := a.exchanger.ExchangeToken(ctx, appJWT, a.installationID)
	if err != nil {
		return "", fmt.Errorf("failed to exchange installation token: %w", err)
	}
	a.cached = token
	return "Bearer " + token.Token, nil
}
