// Package metadata enumerates the items a run is asked to download.
package metadata

import (
	"context"

	"github.com/italolelis/photo_downloader/internal/photo"
)

// Source lists every item known to the remote side. Records that cannot be
// parsed are skipped by the implementation, never returned.
type Source interface {
	Enumerate(ctx context.Context) ([]photo.Item, error)
}
