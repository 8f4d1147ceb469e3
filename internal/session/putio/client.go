package putio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

const dateLayout = "2006-01-02"

type Client struct {
	putioClient    *putio.Client
	downloadClient *http.Client
	folderID       int64
}

// NewClient builds a put.io client authorized with a static OAuth token. httpClient,
// when set, is used as the base transport underneath the token source.
func NewClient(token string, folderID int64, httpClient *http.Client) *Client {
	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	} else {
		httpClient = http.DefaultClient
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(ctx, tokenSource)

	return &Client{
		putioClient:    putio.NewClient(oauthClient),
		downloadClient: httpClient,
		folderID:       folderID,
	}
}

// HTTPClient returns the client used for transfers. put.io download URLs are
// signed, so the OAuth token is kept off the CDN requests.
func (c *Client) HTTPClient() *http.Client {
	return c.downloadClient
}

func (c *Client) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "authenticating with Put.io")

	user, err := c.putioClient.Account.Info(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to get account info", "err", err)

		return &photo.AuthInvalidError{Operation: "authenticate", Err: err}
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

// ResolveDownloadURL returns the direct download URL of the file with the given put.io id.
func (c *Client) ResolveDownloadURL(ctx context.Context, remoteID string) (string, error) {
	id, err := strconv.ParseInt(remoteID, 10, 64)
	if err != nil {
		return "", &photo.ResolutionError{RemoteID: remoteID, APIMessage: "remote id is not a put.io file id", Err: err}
	}

	url, err := c.putioClient.Files.URL(ctx, id, false)
	if err != nil {
		if isUnauthorized(err) {
			return "", &photo.AuthInvalidError{Operation: "resolve_download_url", Err: err}
		}

		return "", &photo.ResolutionError{RemoteID: remoteID, APIMessage: apiMessage(err), Err: err}
	}

	return url, nil
}

// Enumerate lists every image below the configured folder, recursively.
func (c *Client) Enumerate(ctx context.Context) ([]photo.Item, error) {
	logger := logctx.LoggerFromContext(ctx).With("folder_id", c.folderID)

	items, err := c.getFilesRecursively(ctx, c.folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate put.io folder %d: %w", c.folderID, err)
	}

	logger.InfoContext(ctx, "enumerated put.io folder", "item_count", len(items))

	return items, nil
}

func (c *Client) getFilesRecursively(ctx context.Context, parentID int64) ([]photo.Item, error) {
	logger := logctx.LoggerFromContext(ctx).With("parent_id", parentID)

	files, _, err := c.putioClient.Files.List(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var result []photo.Item

	for _, f := range files {
		switch strings.ToLower(f.FileType) {
		case "image", "video":
			if f.CreatedAt == nil {
				logger.WarnContext(ctx, "skipping file without creation date", "file_id", f.ID, "name", f.Name)

				continue
			}

			item := photo.NewItem(f.CreatedAt.Format(dateLayout), f.Name, strconv.FormatInt(f.ID, 10))
			item.Size = f.Size

			result = append(result, item)
		case "folder":
			nested, err := c.getFilesRecursively(ctx, f.ID)
			if err != nil {
				logger.ErrorContext(ctx, "failed to get nested files", "file_id", f.ID, "err", err)

				continue
			}

			result = append(result, nested...)
		}
	}

	return result, nil
}

func isUnauthorized(err error) bool {
	var errResp *putio.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		return false
	}

	return errResp.Response.StatusCode == http.StatusUnauthorized
}

func apiMessage(err error) string {
	var errResp *putio.ErrorResponse
	if errors.As(err, &errResp) && errResp.Message != "" {
		return errResp.Message
	}

	return err.Error()
}
