package baidu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSettings = Settings{ClientType: "70", BDSToken: "tok", Cookie: "BDUSS=abc"}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)

	return NewClient(server.URL, testSettings, server.Client(), "photo-test/1.0")
}

func TestResolveDownloadURL_SendsSessionAndReturnsDLink(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, downloadPath, r.URL.Path)
		assert.Equal(t, "70", r.URL.Query().Get("clienttype"))
		assert.Equal(t, "tok", r.URL.Query().Get("bdstoken"))
		assert.Equal(t, "123", r.URL.Query().Get("fsid"))
		assert.Equal(t, "BDUSS=abc", r.Header.Get("Cookie"))
		assert.Equal(t, "photo-test/1.0", r.Header.Get("User-Agent"))

		fmt.Fprint(w, `{"errno":0,"dlink":"https://d.example.com/file/123"}`)
	})

	link, err := client.ResolveDownloadURL(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "https://d.example.com/file/123", link)
}

func TestResolveDownloadURL_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantAuth bool
		wantCode int
	}{
		{
			name:     "api error code",
			status:   http.StatusOK,
			body:     `{"error_code":31066,"error_msg":"file does not exist"}`,
			wantCode: 31066,
		},
		{
			name:   "missing dlink",
			status: http.StatusOK,
			body:   `{"errno":0}`,
		},
		{
			name:   "malformed payload",
			status: http.StatusOK,
			body:   `not json`,
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `upstream down`,
		},
		{
			name:     "expired session code",
			status:   http.StatusOK,
			body:     `{"error_code":-6,"error_msg":"auth failed"}`,
			wantAuth: true,
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			body:     `{}`,
			wantAuth: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			link, err := client.ResolveDownloadURL(context.Background(), "123")
			require.Error(t, err)
			assert.Empty(t, link)

			if tt.wantAuth {
				var authErr *photo.AuthInvalidError
				assert.True(t, errors.As(err, &authErr), "expected AuthInvalidError, got %T", err)
				assert.True(t, photo.IsFatal(err))

				return
			}

			var resErr *photo.ResolutionError
			require.True(t, errors.As(err, &resErr), "expected ResolutionError, got %T", err)
			assert.Equal(t, "123", resErr.RemoteID)
			assert.Equal(t, tt.wantCode, resErr.APICode)
			assert.True(t, photo.IsRetryable(err))
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Run("valid session", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, authProbeID, r.URL.Query().Get("fsid"))
			fmt.Fprint(w, `{"errno":2}`)
		})

		require.NoError(t, client.Authenticate(context.Background()))
	})

	t.Run("error code in payload", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"error_code":31045,"error_msg":"access denied"}`)
		})

		err := client.Authenticate(context.Background())

		var authErr *photo.AuthInvalidError
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, "authenticate", authErr.Operation)
	})

	t.Run("unauthorized status", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		var authErr *photo.AuthInvalidError
		require.True(t, errors.As(client.Authenticate(context.Background()), &authErr))
	})
}

func TestHTTPClient_CarriesSessionCredentials(t *testing.T) {
	var gotCookie, gotAgent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAgent = r.Header.Get("User-Agent")
	}))
	t.Cleanup(server.Close)

	base := server.Client()
	base.Timeout = 42 * time.Second

	client := NewClient(server.URL, testSettings, base, "photo-test/1.0")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/file/123", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "fetcher/2.0")

	resp, err := client.HTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "BDUSS=abc", gotCookie)
	assert.Equal(t, "fetcher/2.0", gotAgent)
	assert.Equal(t, 42*time.Second, client.HTTPClient().Timeout)
	assert.Empty(t, req.Header.Get("Cookie"), "caller's request must not be mutated")
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		return path
	}

	t.Run("valid", func(t *testing.T) {
		path := write("ok.json", `{"clienttype":"70","bdstoken":"tok","Cookie":"BDUSS=abc"}`)

		s, err := LoadSettings(path)
		require.NoError(t, err)
		assert.Equal(t, testSettings, s)
	})

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "nope.json")},
		{name: "invalid json", path: write("bad.json", `{`)},
		{name: "missing cookie", path: write("partial.json", `{"clienttype":"70","bdstoken":"tok"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSettings(tt.path)

			var cfgErr *photo.ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.True(t, photo.IsFatal(err))
		})
	}
}
