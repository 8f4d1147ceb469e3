package putio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/italolelis/photo_downloader/internal/photo"
	putio "github.com/putdotio/go-putio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string, folderID int64) *Client {
	goputioClient := putio.NewClient(nil)
	u, _ := url.Parse(serverURL)
	goputioClient.BaseURL = u

	return &Client{putioClient: goputioClient, folderID: folderID}
}

func TestResolveDownloadURL(t *testing.T) {
	tests := []struct {
		name     string
		remoteID string
		status   int
		body     string
		wantURL  string
		wantAuth bool
	}{
		{
			name:     "success",
			remoteID: "100",
			status:   http.StatusOK,
			body:     `{"url":"https://dl.put.io/files/100"}`,
			wantURL:  "https://dl.put.io/files/100",
		},
		{
			name:     "not found",
			remoteID: "100",
			status:   http.StatusNotFound,
			body:     `{"error_type":"NOT_FOUND","error_message":"file not found","status_code":404}`,
		},
		{
			name:     "unauthorized",
			remoteID: "100",
			status:   http.StatusUnauthorized,
			body:     `{"error_type":"invalid_grant","error_message":"invalid token","status_code":401}`,
			wantAuth: true,
		},
		{
			name:     "non numeric id",
			remoteID: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v2/files/100/url", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			server := httptest.NewServer(mux)
			defer server.Close()

			client := newTestClient(server.URL, 0)
			got, err := client.ResolveDownloadURL(context.Background(), tt.remoteID)

			switch {
			case tt.wantURL != "":
				require.NoError(t, err)
				assert.Equal(t, tt.wantURL, got)
			case tt.wantAuth:
				var authErr *photo.AuthInvalidError
				assert.True(t, errors.As(err, &authErr), "expected AuthInvalidError, got %T: %v", err, err)
			default:
				var resErr *photo.ResolutionError
				require.True(t, errors.As(err, &resErr), "expected ResolutionError, got %T: %v", err, err)
				assert.Equal(t, tt.remoteID, resErr.RemoteID)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/v2/account/info", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"info":{"username":"alice","mail":"alice@example.com"},"status":"OK"}`)
		})

		server := httptest.NewServer(mux)
		defer server.Close()

		require.NoError(t, newTestClient(server.URL, 0).Authenticate(context.Background()))
	})

	t.Run("rejected token", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/v2/account/info", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error_type":"invalid_grant","error_message":"invalid token","status_code":401}`)
		})

		server := httptest.NewServer(mux)
		defer server.Close()

		err := newTestClient(server.URL, 0).Authenticate(context.Background())

		var authErr *photo.AuthInvalidError
		require.True(t, errors.As(err, &authErr))
		assert.True(t, photo.IsFatal(err))
	})
}

func TestEnumerate_WalksFoldersRecursively(t *testing.T) {
	listings := map[string]string{
		"10": `{"files":[
			{"id":11,"name":"IMG_0001.JPG","size":2048,"file_type":"IMAGE","content_type":"image/jpeg","created_at":"2023-01-01T10:00:00"},
			{"id":12,"name":"2023-02","size":0,"file_type":"FOLDER","content_type":"application/x-directory","created_at":"2023-02-01T00:00:00"},
			{"id":13,"name":"notes.txt","size":10,"file_type":"TEXT","content_type":"text/plain","created_at":"2023-01-01T10:00:00"}
		],"parent":{"id":10,"name":"photos","file_type":"FOLDER"},"status":"OK"}`,
		"12": `{"files":[
			{"id":14,"name":"clip.mov","size":4096,"file_type":"VIDEO","content_type":"video/quicktime","created_at":"2023-02-03T08:30:00"}
		],"parent":{"id":12,"name":"2023-02","file_type":"FOLDER"},"status":"OK"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/files/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		body, ok := listings[r.URL.Query().Get("parent_id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error_type":"NOT_FOUND","error_message":"not found"}`)

			return
		}

		fmt.Fprint(w, body)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	items, err := newTestClient(server.URL, 10).Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, photo.Item{Date: "2023-01-01", Filename: "IMG_0001.JPG", RemoteID: "11", Size: 2048}, items[0])
	assert.Equal(t, photo.Item{Date: "2023-02-03", Filename: "clip.mov", RemoteID: "14", Size: 4096}, items[1])
}

func TestEnumerate_RootListingFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error_type":"ERROR","error_message":"server error"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 10).Enumerate(context.Background())
	require.Error(t, err)
}
