// Package jsonfile persists download history and failures as two JSON documents,
// each a flat object keyed by item key.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/italolelis/photo_downloader/internal/hashverify"
	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/italolelis/photo_downloader/internal/storage"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// Store is a write-through storage.RecordStore. One mutex covers both documents, so
// a history write and a failure write never interleave.
type Store struct {
	historyPath  string
	failuresPath string
	verifier     hashverify.Verifier
	now          func() time.Time

	mu       sync.Mutex
	history  map[string]storage.HistoryRecord
	failures map[string]storage.FailureRecord
}

func New(historyPath, failuresPath string, verifier hashverify.Verifier) *Store {
	if verifier == nil {
		verifier = hashverify.MD5{}
	}

	return &Store{
		historyPath:  historyPath,
		failuresPath: failuresPath,
		verifier:     verifier,
		now:          time.Now,
		history:      map[string]storage.HistoryRecord{},
		failures:     map[string]storage.FailureRecord{},
	}
}

// Load reads both documents. A missing or corrupt document leaves that map empty
// and is logged; it is never an error.
func (s *Store) Load(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := readDocument(ctx, s.historyPath); ok {
		history, err := storage.DecodeHistory(logger, data)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load download history, starting empty", "path", s.historyPath, "err", err)
		}

		s.history = history
	}

	if data, ok := readDocument(ctx, s.failuresPath); ok {
		failures, err := storage.DecodeFailures(logger, data)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load failure records, starting empty", "path", s.failuresPath, "err", err)
		}

		s.failures = failures
	}

	logger.InfoContext(ctx, "record store loaded", "history", len(s.history), "failures", len(s.failures))

	return nil
}

// IsVerified reports whether a history record exists for the key and the file at
// path still hashes to the recorded value. Hashing happens outside the lock.
func (s *Store) IsVerified(_ context.Context, itemKey, path string) bool {
	s.mu.Lock()
	rec, ok := s.history[itemKey]
	s.mu.Unlock()

	if !ok {
		return false
	}

	return s.verifier.Verify(rec.Hash, path)
}

func (s *Store) HasFailure(itemKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.failures[itemKey]

	return ok
}

// RecordSuccess upserts the history record, then clears any failure record.
func (s *Store) RecordSuccess(ctx context.Context, item photo.Item, hash string, size int64) error {
	rec := storage.NewHistoryRecord(item, hash, size, float64(s.now().UnixNano())/float64(time.Second))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[rec.ItemKey] = rec

	if err := WriteDocument(s.historyPath, s.history); err != nil {
		return fmt.Errorf("failed to persist download history: %w", err)
	}

	if _, ok := s.failures[rec.ItemKey]; !ok {
		return nil
	}

	delete(s.failures, rec.ItemKey)

	if err := WriteDocument(s.failuresPath, s.failures); err != nil {
		return fmt.Errorf("failed to persist failure records: %w", err)
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "cleared failure record", "item_key", rec.ItemKey)

	return nil
}

// RecordFailure inserts a failure record unless one already exists for the key.
func (s *Store) RecordFailure(_ context.Context, item photo.Item) error {
	rec := storage.NewFailureRecord(item)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.failures[rec.ItemKey]; ok {
		return nil
	}

	s.failures[rec.ItemKey] = rec

	if err := WriteDocument(s.failuresPath, s.failures); err != nil {
		return fmt.Errorf("failed to persist failure records: %w", err)
	}

	return nil
}

func (s *Store) History() map[string]storage.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maps.Clone(s.history)
}

func (s *Store) Failures() map[string]storage.FailureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maps.Clone(s.failures)
}

// Flush rewrites both documents unconditionally.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(
		WriteDocument(s.historyPath, s.history),
		WriteDocument(s.failuresPath, s.failures),
	)
}

func (s *Store) Close() error {
	return nil
}

func readDocument(ctx context.Context, path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to read record document, starting empty", "path", path, "err", err)
		}

		return nil, false
	}

	return data, true
}

// WriteDocument replaces path atomically: encode to a temp file in the same
// directory, fsync, then rename over the target.
func WriteDocument[T any](path string, records map[string]T) error {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to set record file mode: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to replace record file: %w", err)
	}

	return nil
}
