package storage

import (
	"context"

	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/italolelis/photo_downloader/internal/telemetry"
)

// InstrumentedStore wraps a RecordStore with telemetry.
type InstrumentedStore struct {
	RecordStore
	telemetry *telemetry.Telemetry
}

// NewInstrumentedStore creates a new instrumented record store.
func NewInstrumentedStore(store RecordStore, tel *telemetry.Telemetry) *InstrumentedStore {
	return &InstrumentedStore{
		RecordStore: store,
		telemetry:   tel,
	}
}

// Load loads the store with telemetry.
func (s *InstrumentedStore) Load(ctx context.Context) error {
	return s.telemetry.InstrumentStoreOperation(ctx, "load", func(ctx context.Context) error {
		return s.RecordStore.Load(ctx)
	})
}

// IsVerified checks a record against the file on disk with telemetry.
func (s *InstrumentedStore) IsVerified(ctx context.Context, itemKey, path string) bool {
	var verified bool

	_ = s.telemetry.InstrumentStoreOperation(ctx, "is_verified", func(ctx context.Context) error {
		verified = s.RecordStore.IsVerified(ctx, itemKey, path)

		return nil
	})

	return verified
}

// RecordSuccess records a verified download with telemetry.
func (s *InstrumentedStore) RecordSuccess(ctx context.Context, item photo.Item, hash string, size int64) error {
	return s.telemetry.InstrumentStoreOperation(ctx, "record_success", func(ctx context.Context) error {
		return s.RecordStore.RecordSuccess(ctx, item, hash, size)
	})
}

// RecordFailure records a failed attempt with telemetry.
func (s *InstrumentedStore) RecordFailure(ctx context.Context, item photo.Item) error {
	return s.telemetry.InstrumentStoreOperation(ctx, "record_failure", func(ctx context.Context) error {
		return s.RecordStore.RecordFailure(ctx, item)
	})
}

// Flush persists both documents with telemetry.
func (s *InstrumentedStore) Flush(ctx context.Context) error {
	return s.telemetry.InstrumentStoreOperation(ctx, "flush", func(ctx context.Context) error {
		return s.RecordStore.Flush(ctx)
	})
}
