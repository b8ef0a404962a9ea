package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaphod7777/Phishfindr/internal/auth"
	"github.com/zaphod7777/Phishfindr/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(slog.LevelError, "text")
}

func newTestClient(serverURL string) *Client {
	return New(serverURL, auth.StaticToken("test-token"), 5*time.Second, testLogger())
}

func TestEnsureSubscription(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"created", http.StatusOK, `{"status":"enabled"}`, false},
		{"already active 409", http.StatusConflict, `{"error":"exists"}`, false},
		{"already enabled AF20024", http.StatusBadRequest, `{"error":{"code":"AF20024","message":"The subscription is already enabled."}}`, false},
		{"forbidden", http.StatusForbidden, `{"error":"denied"}`, true},
		{"other bad request", http.StatusBadRequest, `{"error":{"code":"AF20011"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/subscriptions/start", r.URL.Path)
				assert.Equal(t, "Audit.Exchange", r.URL.Query().Get("contentType"))
				assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestClient(server.URL).EnsureSubscription(context.Background(), "Audit.Exchange")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestListContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/content", r.URL.Path)
		assert.Equal(t, "Audit.AzureActiveDirectory", r.URL.Query().Get("contentType"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"contentUri": "https://example.com/blob/1", "contentId": "1", "contentType": "Audit.AzureActiveDirectory"},
			{"contentUri": "https://example.com/blob/2", "contentId": "2", "contentType": "Audit.AzureActiveDirectory"}
		]`))
	}))
	defer server.Close()

	refs, err := newTestClient(server.URL).ListContent(context.Background(), "Audit.AzureActiveDirectory")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "https://example.com/blob/1", refs[0].ContentURI)
	assert.Equal(t, "2", refs[1].ContentID)
}

func TestListContentAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ListContent(context.Background(), "Audit.Exchange")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestFetchContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"Id": "e1", "Operation": "UserLoggedIn"},
			{"Id": "e2", "Operation": "FileAccessed"}
		]`))
	}))
	defer server.Close()

	events, err := newTestClient(server.URL).FetchContent(context.Background(), ContentRef{ContentURI: server.URL + "/blob/1"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	first, ok := events[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "e1", first["Id"])
}

func TestFetchContentNotArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": "unexpected shape"}`))
	}))
	defer server.Close()

	events, err := newTestClient(server.URL).FetchContent(context.Background(), ContentRef{ContentURI: server.URL + "/blob/1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotArray))
	assert.Empty(t, events)
}

func TestFetchContentTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchContent(context.Background(), ContentRef{ContentURI: server.URL + "/blob/x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotArray))
}
