package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/italolelis/photo_downloader/internal/transfer/progress"
)

const (
	DefaultChunkSize   = 512 * 1024        // 512KiB
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MiB

	filePerm = 0644
)

// Status describes how a fetch completed.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusAlreadyComplete Status = "already_complete"
)

// Result is returned by a successful fetch.
type Result struct {
	Status       Status
	BytesWritten int64
	TotalSize    int64
}

// Fetcher downloads a single file, resuming from whatever is already on disk.
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string, knownTotalSize int64) (*Result, error)
}

// Options configures an HTTPFetcher.
type Options struct {
	ChunkSize        int
	MaxFileSize      int64
	UserAgent        string
	ProgressInterval int64
}

// HTTPFetcher performs range-resumable HTTP(S) downloads.
type HTTPFetcher struct {
	client *http.Client
	opts   Options
}

func NewHTTPFetcher(client *http.Client, opts Options) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 10 * 1024 * 1024
	}

	return &HTTPFetcher{client: client, opts: opts}
}

// Fetch downloads url into destPath. An existing destPath is treated as a partial
// download and resumed with a range request. Partial files are never removed, not
// even on failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, destPath string, knownTotalSize int64) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("file_path", destPath)

	var currentSize int64

	info, err := os.Stat(destPath)

	switch {
	case err == nil:
		currentSize = info.Size()
		if knownTotalSize > 0 && currentSize >= knownTotalSize {
			logger.DebugContext(ctx, "file already complete on disk", "size", humanize.IBytes(uint64(currentSize)))

			return &Result{Status: StatusAlreadyComplete, TotalSize: currentSize}, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, &photo.TransferError{Path: destPath, Reason: "failed to stat destination", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &photo.TransferError{Path: destPath, Reason: "failed to create request", Err: err}
	}

	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	if currentSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", currentSize))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &photo.TransferError{Path: destPath, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	appendMode := currentSize > 0

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && currentSize > 0:
		// Nothing left past our offset: the partial file is already the whole resource.
		logger.DebugContext(ctx, "range not satisfiable, treating file as complete")

		return &Result{Status: StatusAlreadyComplete, TotalSize: currentSize}, nil
	case resp.StatusCode == http.StatusOK && currentSize > 0:
		logger.WarnContext(ctx, "server ignored range request, restarting from zero", "offset", currentSize)

		currentSize = 0
		appendMode = false
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	default:
		return nil, &photo.TransferError{
			Path:       destPath,
			StatusCode: resp.StatusCode,
			Reason:     "unexpected response status " + resp.Status,
		}
	}

	totalSize := currentSize
	if resp.ContentLength > 0 {
		totalSize += resp.ContentLength
	}

	if totalSize > f.opts.MaxFileSize {
		return nil, &photo.SizeLimitError{Path: destPath, TotalSize: totalSize, Limit: f.opts.MaxFileSize}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	out, err := os.OpenFile(destPath, flags, filePerm)
	if err != nil {
		return nil, &photo.TransferError{Path: destPath, Reason: "failed to open destination", Err: err}
	}

	written, copyErr := f.copyChunks(ctx, out, resp.Body, destPath, currentSize, totalSize, resp.ContentLength > 0)

	syncErr := out.Sync()
	closeErr := out.Close()

	if copyErr != nil {
		return nil, copyErr
	}

	if err := errors.Join(syncErr, closeErr); err != nil {
		return nil, &photo.TransferError{Path: destPath, Reason: "failed to flush destination", Err: err}
	}

	logger.DebugContext(ctx, "transfer finished",
		"written", humanize.IBytes(uint64(written)),
		"total", humanize.IBytes(uint64(currentSize+written)))

	return &Result{Status: StatusCompleted, BytesWritten: written, TotalSize: currentSize + written}, nil
}

// copyChunks appends body to out in bounded chunks, enforcing the size cap even
// when the server did not announce a content length.
func (f *HTTPFetcher) copyChunks(
	ctx context.Context, out io.Writer, body io.Reader, destPath string, offset, totalSize int64, sizeKnown bool,
) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	progressTotal := int64(0)
	if sizeKnown {
		progressTotal = totalSize
	}

	pr := progress.NewReader(body, offset, progressTotal, f.opts.ProgressInterval, func(written, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"file_path", destPath,
				"downloaded", humanize.IBytes(uint64(written)),
				"total", humanize.IBytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "file_path", destPath, "downloaded", humanize.IBytes(uint64(written)))
		}
	})

	buf := make([]byte, f.opts.ChunkSize)

	var written int64

	for {
		n, err := io.ReadFull(pr, buf)
		if n > 0 {
			if offset+written+int64(n) > f.opts.MaxFileSize {
				return written, &photo.SizeLimitError{Path: destPath, TotalSize: offset + written + int64(n), Limit: f.opts.MaxFileSize}
			}

			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, &photo.TransferError{Path: destPath, Reason: "failed to write chunk", Err: werr}
			}

			written += int64(n)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}

		if err != nil {
			return written, &photo.TransferError{Path: destPath, Reason: "failed to read response body", Err: err}
		}
	}

	if sizeKnown && offset+written != totalSize {
		return written, &photo.TransferError{
			Path:   destPath,
			Reason: fmt.Sprintf("short body: got %d of %d bytes", offset+written, totalSize),
		}
	}

	return written, nil
}
