package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/photo_downloader/internal/logctx"
)

// RemoveStaleTempFiles deletes the temp files an interrupted atomic write left next to
// documentPath. Files younger than minAge are kept since a live writer may own them.
func RemoveStaleTempFiles(ctx context.Context, documentPath string, minAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	pattern := filepath.Join(filepath.Dir(documentPath), filepath.Base(documentPath)+".tmp-*")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // already deleted
			}

			logger.ErrorContext(ctx, "failed to stat temp file", "file", path, "err", err)

			return removed, err
		}

		if info.IsDir() || now.Sub(info.ModTime()) < minAge {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to delete stale temp file", "file", path, "err", err)

			return removed, err
		}

		removed++

		logger.InfoContext(ctx, "deleted stale temp file", "file", path)
	}

	return removed, nil
}
