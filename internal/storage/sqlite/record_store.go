package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/photo_downloader/internal/hashverify"
	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/italolelis/photo_downloader/internal/storage"
	"github.com/italolelis/photo_downloader/internal/storage/jsonfile"
)

// RecordStore keeps history and failures in SQLite. RecordSuccess commits the
// history upsert and the failure delete in one transaction.
type RecordStore struct {
	db       *sql.DB
	verifier hashverify.Verifier
	now      func() time.Time

	mu sync.Mutex
}

func NewRecordStore(db *sql.DB, verifier hashverify.Verifier) *RecordStore {
	if verifier == nil {
		verifier = hashverify.MD5{}
	}

	return &RecordStore{db: db, verifier: verifier, now: time.Now}
}

// Load drops rows that lack required fields, mirroring the JSON store's tolerance
// for hand-edited state.
func (r *RecordStore) Load(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM history WHERE trim(hash) = '' OR trim(date) = '' OR trim(filename) = '' OR trim(fsid) = ''`)
	if err != nil {
		logger.ErrorContext(ctx, "failed to prune invalid history rows", "err", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		logger.WarnContext(ctx, "dropped invalid history rows", "count", n)
	}

	res, err = r.db.ExecContext(ctx,
		`DELETE FROM failures WHERE trim(date) = '' OR trim(filename) = '' OR trim(fsid) = ''`)
	if err != nil {
		logger.ErrorContext(ctx, "failed to prune invalid failure rows", "err", err)
	} else if n, _ := res.RowsAffected(); n > 0 {
		logger.WarnContext(ctx, "dropped invalid failure rows", "count", n)
	}

	var historyCount, failureCount int

	_ = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&historyCount)
	_ = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures`).Scan(&failureCount)

	logger.InfoContext(ctx, "record store loaded", "history", historyCount, "failures", failureCount)

	return nil
}

func (r *RecordStore) IsVerified(ctx context.Context, itemKey, path string) bool {
	var hash string

	r.mu.Lock()
	err := r.db.QueryRowContext(ctx, `SELECT hash FROM history WHERE item_key = ?`, itemKey).Scan(&hash)
	r.mu.Unlock()

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to read history record", "item_key", itemKey, "err", err)
		}

		return false
	}

	return r.verifier.Verify(hash, path)
}

func (r *RecordStore) HasFailure(itemKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var one int

	err := r.db.QueryRow(`SELECT 1 FROM failures WHERE item_key = ?`, itemKey).Scan(&one)

	return err == nil
}

func (r *RecordStore) RecordSuccess(ctx context.Context, item photo.Item, hash string, size int64) error {
	rec := storage.NewHistoryRecord(item, hash, size, float64(r.now().UnixNano())/float64(time.Second))

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (item_key, timestamp, hash, date, filename, fsid, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			timestamp = excluded.timestamp,
			hash = excluded.hash,
			date = excluded.date,
			filename = excluded.filename,
			fsid = excluded.fsid,
			size = excluded.size
	`, rec.ItemKey, rec.Timestamp, rec.Hash, rec.Date, rec.Filename, rec.RemoteID, rec.Size)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to upsert history record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE item_key = ?`, rec.ItemKey); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to clear failure record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit success record: %w", err)
	}

	return nil
}

func (r *RecordStore) RecordFailure(ctx context.Context, item photo.Item) error {
	rec := storage.NewFailureRecord(item)

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO failures (item_key, date, filename, fsid) VALUES (?, ?, ?, ?)`,
		rec.ItemKey, rec.Date, rec.Filename, rec.RemoteID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert failure record: %w", err)
	}

	return nil
}

func (r *RecordStore) History() map[string]storage.HistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]storage.HistoryRecord{}

	rows, err := r.db.Query(`SELECT item_key, timestamp, hash, date, filename, fsid, size FROM history`)
	if err != nil {
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var rec storage.HistoryRecord
		if err := rows.Scan(&rec.ItemKey, &rec.Timestamp, &rec.Hash, &rec.Date, &rec.Filename, &rec.RemoteID, &rec.Size); err != nil {
			continue
		}

		out[rec.ItemKey] = rec
	}

	return out
}

func (r *RecordStore) Failures() map[string]storage.FailureRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]storage.FailureRecord{}

	rows, err := r.db.Query(`SELECT item_key, date, filename, fsid FROM failures`)
	if err != nil {
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var rec storage.FailureRecord
		if err := rows.Scan(&rec.ItemKey, &rec.Date, &rec.Filename, &rec.RemoteID); err != nil {
			continue
		}

		out[rec.ItemKey] = rec
	}

	return out
}

// Flush checkpoints the WAL into the main database file.
func (r *RecordStore) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}

	return nil
}

// ExportJSON writes history and failures as the two documents the JSON store reads.
func (r *RecordStore) ExportJSON(historyPath, failuresPath string) error {
	return errors.Join(
		jsonfile.WriteDocument(historyPath, r.History()),
		jsonfile.WriteDocument(failuresPath, r.Failures()),
	)
}

func (r *RecordStore) Close() error {
	return r.db.Close()
}
