package transfer

import (
	"context"

	"github.com/italolelis/photo_downloader/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch downloads a file with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, url, destPath string, knownTotalSize int64) (*Result, error) {
	var result *Result

	var err error

	instrumentedErr := f.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) error {
		result, err = f.fetcher.Fetch(ctx, url, destPath, knownTotalSize)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	f.telemetry.RecordBytes(ctx, result.BytesWritten)

	return result, nil
}
