package session

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/italolelis/photo_downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	authErr error
	urls    map[string]string
}

func (s *stubClient) Authenticate(context.Context) error { return s.authErr }

func (s *stubClient) HTTPClient() *http.Client { return http.DefaultClient }

func (s *stubClient) ResolveDownloadURL(_ context.Context, remoteID string) (string, error) {
	u, ok := s.urls[remoteID]
	if !ok {
		return "", &photo.ResolutionError{RemoteID: remoteID, APIMessage: "unknown"}
	}

	return u, nil
}

func TestInstrumentedClient_PassesThrough(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: true, ServiceName: "test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	inner := &stubClient{urls: map[string]string{"1": "https://example.com/1"}}
	client := NewInstrumentedClient(inner, tel, "stub")

	require.NoError(t, client.Authenticate(context.Background()))

	got, err := client.ResolveDownloadURL(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/1", got)

	_, err = client.ResolveDownloadURL(context.Background(), "2")

	var resErr *photo.ResolutionError
	assert.True(t, errors.As(err, &resErr))

	assert.Same(t, http.DefaultClient, client.HTTPClient())
}

func TestInstrumentedClient_DisabledTelemetryKeepsAuthErrors(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	inner := &stubClient{authErr: &photo.AuthInvalidError{Operation: "authenticate"}}
	client := NewInstrumentedClient(inner, tel, "stub")

	err = client.Authenticate(context.Background())
	assert.True(t, photo.IsFatal(err))
}
