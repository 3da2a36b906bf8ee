package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	values map[string]string
	calls  int
	closed bool
}

func (m *mockFetcher) FetchSecret(_ context.Context, p string) (string, error) {
	m.calls++
	v, ok := m.values[p]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockFetcher) Close() error {
	m.closed = true
	return nil
}

func TestResolver_Resolve(t *testing.T) {
	mock := &mockFetcher{values: map[string]string{"projects/p/secrets/pat": "s3cret\n"}}
	created := 0
	r := NewResolver(func(context.Context) (Fetcher, error) {
		created++
		return mock, nil
	})
	ctx := context.Background()

	v, err := r.Resolve(ctx, "plain-token")
	require.NoError(t, err)
	assert.Equal(t, "plain-token", v)
	assert.Equal(t, 0, created, "plain values never create a client")

	v, err = r.Resolve(ctx, "gcpsm://projects/p/secrets/pat")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = r.Resolve(ctx, "gcpsm://projects/p/secrets/missing")
	assert.Error(t, err)
	_, err = r.Resolve(ctx, "gcpsm://")
	assert.Error(t, err)

	assert.Equal(t, 1, created)
	require.NoError(t, r.Close())
	assert.True(t, mock.closed)
}

func TestResolver_FetcherCreationFails(t *testing.T) {
	r := NewResolver(func(context.Context) (Fetcher, error) {
		return nil, errors.New("no credentials")
	})
	_, err := r.Resolve(context.Background(), "gcpsm://name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.NoError(t, r.Close())
}

func TestNormalizeSecretPath(t *testing.T) {
	tests := []struct {
		in, project, want string
		wantErr           bool
	}{
		{"projects/p/secrets/s/versions/3", "", "projects/p/secrets/s/versions/3", false},
		{"projects/p/secrets/s", "", "projects/p/secrets/s/versions/latest", false},
		{"s", "proj", "projects/proj/secrets/s/versions/latest", false},
		{"s", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeSecretPath(tt.in, tt.project)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetProjectIDFromMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Google", r.Header.Get("Metadata-Flavor"))
		fmt.Fprint(w, "my-project\n")
	}))
	defer srv.Close()

	id, err := getProjectIDFromMetadata(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "my-project", id)
}

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference(" gcpsm://x"))
	assert.False(t, IsReference("ghp_token"))
}
