package baidu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/photo"
)

const (
	DefaultBaseURL = "https://photo.baidu.com"

	downloadPath = "/youai/file/v2/download"

	// authProbeID is a deliberately bogus identifier. A valid session answers it
	// with a dlink-less payload, an expired one with an error code.
	authProbeID = "test"

	// errCodeAuthFailed is returned by the API when the cookie or token is no longer accepted.
	errCodeAuthFailed = -6

	maxErrorBody = 4096
)

type Client struct {
	BaseURL    string
	settings   Settings
	httpClient *http.Client
}

// sessionTransport attaches the session cookie and user agent to every request,
// the API calls and the dlink transfers alike.
type sessionTransport struct {
	next      http.RoundTripper
	cookie    string
	userAgent string
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	if req.Header.Get("Cookie") == "" {
		req.Header.Set("Cookie", t.cookie)
	}

	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	return t.next.RoundTrip(req)
}

type downloadResponse struct {
	ErrorCode *int   `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Errno     int    `json:"errno"`
	DLink     string `json:"dlink"`
}

func NewClient(baseURL string, settings Settings, httpClient *http.Client, userAgent string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	next := httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	return &Client{
		BaseURL:  baseURL,
		settings: settings,
		httpClient: &http.Client{
			Transport:     &sessionTransport{next: next, cookie: settings.Cookie, userAgent: userAgent},
			CheckRedirect: httpClient.CheckRedirect,
			Jar:           httpClient.Jar,
			Timeout:       httpClient.Timeout,
		},
	}
}

// HTTPClient returns the client carrying the session credentials. Download
// links are only honoured when fetched with the same cookie that minted them.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Authenticate performs one probe call. Any error code in the answer means the
// session cannot authorize downloads at all.
func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "checking baidu photo session")

	payload, err := c.download(ctx, authProbeID)
	if err != nil {
		var authErr *photo.AuthInvalidError
		if errors.As(err, &authErr) {
			return err
		}

		return &photo.AuthInvalidError{Operation: "authenticate", Err: err}
	}

	if payload.ErrorCode != nil {
		logger.ErrorContext(ctx, "session rejected", "error_code", *payload.ErrorCode, "error_msg", payload.ErrorMsg)

		return &photo.AuthInvalidError{
			Operation: "authenticate",
			Err:       fmt.Errorf("api error %d: %s", *payload.ErrorCode, payload.ErrorMsg),
		}
	}

	logger.InfoContext(ctx, "baidu photo session is valid")

	return nil
}

// ResolveDownloadURL exchanges fsid for a short-lived direct download link.
func (c *Client) ResolveDownloadURL(ctx context.Context, remoteID string) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("fsid", remoteID)

	payload, err := c.download(ctx, remoteID)
	if err != nil {
		var authErr *photo.AuthInvalidError
		if errors.As(err, &authErr) {
			return "", err
		}

		return "", &photo.ResolutionError{RemoteID: remoteID, APIMessage: "request failed", Err: err}
	}

	if payload.ErrorCode != nil {
		logger.WarnContext(ctx, "api refused download link", "error_code", *payload.ErrorCode, "error_msg", payload.ErrorMsg)

		if *payload.ErrorCode == errCodeAuthFailed {
			return "", &photo.AuthInvalidError{
				Operation: "resolve_download_url",
				Err:       fmt.Errorf("api error %d: %s", *payload.ErrorCode, payload.ErrorMsg),
			}
		}

		return "", &photo.ResolutionError{RemoteID: remoteID, APICode: *payload.ErrorCode, APIMessage: payload.ErrorMsg}
	}

	if payload.DLink == "" {
		return "", &photo.ResolutionError{RemoteID: remoteID, APIMessage: "response has no dlink"}
	}

	logger.DebugContext(ctx, "resolved download link")

	return payload.DLink, nil
}

func (c *Client) download(ctx context.Context, fsid string) (*downloadResponse, error) {
	q := url.Values{}
	q.Set("clienttype", c.settings.ClientType)
	q.Set("bdstoken", c.settings.BDSToken)
	q.Set("fsid", fsid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+downloadPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &photo.AuthInvalidError{Operation: "download", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, string(b))
	}

	var payload downloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &payload, nil
}
