package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/photo_downloader/internal/hashverify"
	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/metadata"
	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/italolelis/photo_downloader/internal/session"
	"github.com/italolelis/photo_downloader/internal/storage"
	"github.com/italolelis/photo_downloader/internal/telemetry"
	"github.com/italolelis/photo_downloader/internal/transfer"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxWorkers = 32
	DefaultMaxRetries = 5

	dirPerm = 0755
)

// Config configures a Downloader.
type Config struct {
	SaveRoot   string
	MaxWorkers int
	MaxRetries int

	// AdoptExisting records a file already on disk without any network call when
	// it has no history but its size matches the item's known size.
	AdoptExisting bool
}

type Downloader struct {
	cfg      Config
	source   metadata.Source
	session  session.Client
	fetcher  transfer.Fetcher
	store    storage.RecordStore
	verifier hashverify.Verifier
	tel      *telemetry.Telemetry

	// OnItemFailed is called once per item that is still failed when the run ends.
	OnItemFailed func(item photo.Item, err error)

	bytesDownloaded atomic.Int64
}

func NewDownloader(
	cfg Config,
	source metadata.Source,
	sess session.Client,
	fetcher transfer.Fetcher,
	store storage.RecordStore,
	verifier hashverify.Verifier,
	tel *telemetry.Telemetry,
) *Downloader {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	if verifier == nil {
		verifier = hashverify.MD5{}
	}

	return &Downloader{
		cfg:      cfg,
		source:   source,
		session:  sess,
		fetcher:  fetcher,
		store:    store,
		verifier: verifier,
		tel:      tel,
	}
}

type failure struct {
	item photo.Item
	err  error
}

// Run checks the session, plans the pending set and downloads it in up to
// MaxRetries rounds. The store is flushed on every return path. A non-nil error
// means the run was aborted or interrupted; item failures alone are reported in
// the Summary only.
func (d *Downloader) Run(ctx context.Context) (summary *Summary, err error) {
	runID := logctx.RunIDFromContext(ctx)
	if runID == "" {
		runID = NewRunID()
		ctx = logctx.WithRunID(ctx, runID)
	}

	logger := logctx.LoggerFromContext(ctx)
	summary = &Summary{RunID: runID, State: StateAborted}

	defer func() {
		if flushErr := d.store.Flush(context.WithoutCancel(ctx)); flushErr != nil {
			logger.ErrorContext(ctx, "failed to flush record store", "err", flushErr)

			err = errors.Join(err, fmt.Errorf("failed to flush record store: %w", flushErr))
		}

		summary.BytesDownloaded = d.bytesDownloaded.Load()

		logger.InfoContext(ctx, "run finished",
			"state", summary.State,
			"total", summary.Total,
			"skipped", summary.Skipped,
			"succeeded", summary.Succeeded,
			"failed", len(summary.Failed),
			"rounds", summary.Rounds,
			"transferred", humanize.IBytes(uint64(summary.BytesDownloaded)))
	}()

	if err := d.store.Load(ctx); err != nil {
		return summary, fmt.Errorf("failed to load record store: %w", err)
	}

	if err := d.session.Authenticate(ctx); err != nil {
		return summary, err
	}

	pending, total, err := d.Plan(ctx)
	if err != nil {
		return summary, err
	}

	summary.Total = total
	summary.Considered = len(pending)
	summary.Skipped = total - len(pending)

	logger.InfoContext(ctx, "planned downloads", "total", total, "pending", len(pending), "skipped", summary.Skipped)

	var permanent, retrying []failure

	for round := 1; round <= d.cfg.MaxRetries && len(pending) > 0; round++ {
		summary.Rounds = round

		d.tel.RecordRound(ctx, len(pending))
		logger.InfoContext(ctx, "starting round", "round", round, "pending", len(pending))

		succeeded, failed, undispatched, roundErr := d.runRound(ctx, pending)
		summary.Succeeded += succeeded

		if roundErr != nil {
			logger.ErrorContext(ctx, "aborting run", "round", round, "err", roundErr)

			d.finalize(summary, append(permanent, append(failed, undispatched...)...))

			summary.State = StateAborted

			return summary, roundErr
		}

		if ctx.Err() != nil {
			logger.WarnContext(ctx, "run interrupted", "round", round)

			d.finalize(summary, append(permanent, append(failed, undispatched...)...))

			summary.State = StateInterrupted

			return summary, ctx.Err()
		}

		pending = make([]photo.Item, 0, len(failed))
		retrying = retrying[:0]

		for _, f := range failed {
			if photo.IsRetryable(f.err) {
				pending = append(pending, f.item)
				retrying = append(retrying, f)

				continue
			}

			logger.WarnContext(ctx, "not retrying item", "item_key", f.item.Key(), "err", f.err)

			permanent = append(permanent, f)
		}
	}

	d.finalize(summary, append(permanent, retrying...))

	return summary, nil
}

// finalize marks every remaining failure as permanent for this run.
func (d *Downloader) finalize(summary *Summary, failures []failure) {
	seen := make(map[string]struct{}, len(failures))

	summary.Failed = summary.Failed[:0]

	for _, f := range failures {
		key := f.item.Key()
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}

		summary.Failed = append(summary.Failed, f.item.Filename)

		if d.OnItemFailed != nil {
			d.OnItemFailed(f.item, f.err)
		}
	}

	if len(summary.Failed) == 0 {
		summary.State = StateDone
	} else {
		summary.State = StatePartiallyFailed
	}
}

// Plan enumerates items and returns the ones that need downloading, previously
// failed items first. Items sharing a key are planned once.
func (d *Downloader) Plan(ctx context.Context) ([]photo.Item, int, error) {
	logger := logctx.LoggerFromContext(ctx)

	items, err := d.source.Enumerate(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to enumerate items: %w", err)
	}

	seen := make(map[string]struct{}, len(items))

	var retries, fresh []photo.Item

	for _, item := range items {
		item.Filename = photo.SanitizeFilename(item.Filename)
		key := item.Key()

		if _, ok := seen[key]; ok {
			logger.DebugContext(ctx, "skipping duplicate item", "item_key", key)

			continue
		}

		seen[key] = struct{}{}

		if d.store.HasFailure(key) {
			retries = append(retries, item)

			continue
		}

		if !d.store.IsVerified(ctx, key, item.DestPath(d.cfg.SaveRoot)) {
			fresh = append(fresh, item)
		}
	}

	return append(retries, fresh...), len(seen), nil
}

// runRound downloads items with at most MaxWorkers in flight. It returns the
// number of successes, the item failures, the items never dispatched because
// the context ended, and a fatal error if one aborted the round.
func (d *Downloader) runRound(ctx context.Context, items []photo.Item) (int, []failure, []failure, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxWorkers)

	var (
		mu           sync.Mutex
		failed       []failure
		undispatched []failure
		succeeded    atomic.Int64
	)

	for i, item := range items {
		if err := gctx.Err(); err != nil {
			mu.Lock()
			for _, rest := range items[i:] {
				undispatched = append(undispatched, failure{item: rest, err: err})
			}
			mu.Unlock()

			break
		}

		g.Go(func() error {
			// g.Go may have blocked on the limit while the run was cancelled.
			if err := gctx.Err(); err != nil {
				mu.Lock()
				undispatched = append(undispatched, failure{item: item, err: err})
				mu.Unlock()

				return nil
			}

			err := d.DownloadItem(gctx, item)
			if err == nil {
				succeeded.Add(1)

				return nil
			}

			mu.Lock()
			failed = append(failed, failure{item: item, err: err})
			mu.Unlock()

			if photo.IsFatal(err) {
				return err
			}

			return nil
		})
	}

	err := g.Wait()

	return int(succeeded.Load()), failed, undispatched, err
}

// DownloadItem runs the single-item protocol: skip if verified, resolve the URL,
// fetch with resume, hash and record. Failures are recorded before returning and
// panics are converted to errors.
func (d *Downloader) DownloadItem(ctx context.Context, item photo.Item) (err error) {
	item.Filename = photo.SanitizeFilename(item.Filename)

	key := item.Key()
	dest := item.DestPath(d.cfg.SaveRoot)

	logger := logctx.LoggerFromContext(ctx).With("item_key", key)
	ctx = logctx.WithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "recovered panic while downloading item", "panic", r)

			d.tel.RecordSystemError(ctx, "downloader", "panic")
			d.recordFailure(ctx, item)

			err = fmt.Errorf("panic while downloading %s: %v", key, r)
		}
	}()

	return d.tel.InstrumentDownload(ctx, func(ctx context.Context) error {
		return d.downloadItem(ctx, item, key, dest)
	})
}

func (d *Downloader) downloadItem(ctx context.Context, item photo.Item, key, dest string) error {
	logger := logctx.LoggerFromContext(ctx)

	if d.store.IsVerified(ctx, key, dest) {
		logger.DebugContext(ctx, "file already verified")

		return d.clearStaleFailure(ctx, item, key)
	}

	if adopted, err := d.adopt(ctx, item, dest); err != nil || adopted {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		d.recordFailure(ctx, item)

		return &photo.TransferError{Path: dest, Reason: "failed to create target directory", Err: err}
	}

	url, err := d.session.ResolveDownloadURL(ctx, item.RemoteID)
	if err != nil {
		if photo.IsFatal(err) {
			return err
		}

		logger.WarnContext(ctx, "failed to resolve download url", "err", err)
		d.recordFailure(ctx, item)

		return err
	}

	result, err := d.fetcher.Fetch(ctx, url, dest, item.Size)
	if err != nil {
		logger.WarnContext(ctx, "failed to fetch file", "err", err)
		d.recordFailure(ctx, item)

		return err
	}

	d.bytesDownloaded.Add(result.BytesWritten)

	if err := d.complete(ctx, item, dest); err != nil {
		d.recordFailure(ctx, item)

		return err
	}

	logger.InfoContext(ctx, "downloaded file",
		"file_path", dest,
		"status", result.Status,
		"size", humanize.IBytes(uint64(result.TotalSize)))

	return nil
}

// clearStaleFailure drops the failure record of an item whose verified copy is
// already on disk, so later runs stop planning it.
func (d *Downloader) clearStaleFailure(ctx context.Context, item photo.Item, key string) error {
	if !d.store.HasFailure(key) {
		return nil
	}

	rec, ok := d.store.History()[key]
	if !ok {
		return nil
	}

	if err := d.store.RecordSuccess(context.WithoutCancel(ctx), item, rec.Hash, rec.Size); err != nil {
		return fmt.Errorf("failed to clear failure record: %w", err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "cleared failure record of verified file")

	return nil
}

// complete hashes dest and records the item as downloaded.
func (d *Downloader) complete(ctx context.Context, item photo.Item, dest string) error {
	info, err := os.Stat(dest)
	if err != nil {
		return &photo.TransferError{Path: dest, Reason: "failed to stat downloaded file", Err: err}
	}

	if item.Size > 0 && info.Size() != item.Size {
		return &photo.IntegrityError{
			Path:   dest,
			Reason: fmt.Sprintf("size %d does not match expected %d", info.Size(), item.Size),
		}
	}

	hash, err := d.verifier.Digest(dest)
	if err != nil {
		return &photo.TransferError{Path: dest, Reason: "failed to hash downloaded file", Err: err}
	}

	if err := d.store.RecordSuccess(context.WithoutCancel(ctx), item, hash, info.Size()); err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}

	return nil
}

// adopt records an unrecorded file whose size already matches the known remote size.
func (d *Downloader) adopt(ctx context.Context, item photo.Item, dest string) (bool, error) {
	if !d.cfg.AdoptExisting || item.Size <= 0 {
		return false, nil
	}

	info, err := os.Stat(dest)
	if err != nil || info.Size() != item.Size {
		return false, nil
	}

	if err := d.complete(ctx, item, dest); err != nil {
		return false, err
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "adopted existing file", "file_path", dest)

	return true, nil
}

func (d *Downloader) recordFailure(ctx context.Context, item photo.Item) {
	if err := d.store.RecordFailure(context.WithoutCancel(ctx), item); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to record failure", "err", err)
	}
}
