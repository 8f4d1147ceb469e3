// Package session defines the authenticated remote API boundary: checking the
// credentials once per run and turning a remote identifier into a direct URL.
package session

import (
	"context"
	"net/http"

	"github.com/italolelis/photo_downloader/internal/telemetry"
)

// Client resolves remote identifiers to direct download URLs. Implementations
// return *photo.AuthInvalidError when the credentials cannot authorize anything,
// and *photo.ResolutionError for per-item refusals. HTTPClient is the client
// resolved URLs must be fetched with.
type Client interface {
	Authenticate(ctx context.Context) error
	ResolveDownloadURL(ctx context.Context, remoteID string) (string, error)
	HTTPClient() *http.Client
}

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedClient creates a new instrumented session client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Authenticate checks the credentials with telemetry.
func (c *InstrumentedClient) Authenticate(ctx context.Context) error {
	return c.telemetry.InstrumentSessionOperation(ctx, c.clientType, "authenticate", func(ctx context.Context) error {
		return c.client.Authenticate(ctx)
	})
}

// ResolveDownloadURL resolves a download URL with telemetry.
func (c *InstrumentedClient) ResolveDownloadURL(ctx context.Context, remoteID string) (string, error) {
	var result string

	var err error

	instrumentedErr := c.telemetry.InstrumentSessionOperation(ctx, c.clientType, "resolve_download_url", func(ctx context.Context) error {
		result, err = c.client.ResolveDownloadURL(ctx, remoteID)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return result, nil
}

func (c *InstrumentedClient) HTTPClient() *http.Client {
	return c.client.HTTPClient()
}
