// Package secrets resolves credential references such as
// gcpsm://projects/p/secrets/name into their values.
package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scheme prefixes values stored in GCP Secret Manager.
const Scheme = "gcpsm://"

// Fetcher reads one secret by path.
type Fetcher interface {
	FetchSecret(ctx context.Context, secretPath string) (string, error)
	Close() error
}

// Resolver replaces gcpsm:// references with secret values. The backing
// Fetcher is created on first use, so configs without references never
// contact Secret Manager.
type Resolver struct {
	newFetcher func(ctx context.Context) (Fetcher, error)

	mu      sync.Mutex
	fetcher Fetcher
}

func NewResolver(newFetcher func(ctx context.Context) (Fetcher, error)) *Resolver {
	return &Resolver{newFetcher: newFetcher}
}

// IsReference reports whether value names a secret.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), Scheme)
}

// Resolve returns value unchanged unless it is a reference.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	path := strings.TrimPrefix(strings.TrimSpace(value), Scheme)
	if path == "" {
		return "", fmt.Errorf("empty secret reference")
	}

	r.mu.Lock()
	if r.fetcher == nil {
		f, err := r.newFetcher(ctx)
		if err != nil {
			r.mu.Unlock()
			return "", fmt.Errorf("failed to create secret fetcher: %w", err)
		}
		r.fetcher = f
	}
	f := r.fetcher
	r.mu.Unlock()

	secret, err := f.FetchSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve secret %q: %w", path, err)
	}
	return strings.TrimSpace(secret), nil
}

func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetcher == nil {
		return nil
	}
	err := r.fetcher.Close()
	r.fetcher = nil
	return err
}
