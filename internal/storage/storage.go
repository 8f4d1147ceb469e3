package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/italolelis/photo_downloader/internal/photo"
)

// HistoryRecord is durable proof that an item was downloaded and hash-verified.
type HistoryRecord struct {
	ItemKey   string  `json:"-"`
	Timestamp float64 `json:"timestamp"`
	Hash      string  `json:"hash"`
	Date      string  `json:"date"`
	Filename  string  `json:"filename"`
	RemoteID  string  `json:"fsid"`
	Size      int64   `json:"size"`
}

// FailureRecord marks an item whose most recent attempt failed.
type FailureRecord struct {
	ItemKey  string `json:"-"`
	Date     string `json:"date"`
	Filename string `json:"filename"`
	RemoteID string `json:"fsid"`
}

// RecordStore owns the history and failure maps and their persistence.
// Every mutation is flushed before it returns.
type RecordStore interface {
	Load(ctx context.Context) error
	IsVerified(ctx context.Context, itemKey, path string) bool
	HasFailure(itemKey string) bool
	RecordSuccess(ctx context.Context, item photo.Item, hash string, size int64) error
	RecordFailure(ctx context.Context, item photo.Item) error
	History() map[string]HistoryRecord
	Failures() map[string]FailureRecord
	Flush(ctx context.Context) error
	Close() error
}

// ErrMissingField is returned by Validate for records lacking a required field.
var ErrMissingField = errors.New("record is missing a required field")

// Validate checks the required history fields.
func (r HistoryRecord) Validate() error {
	return requireFields(map[string]string{
		"hash":     r.Hash,
		"date":     r.Date,
		"filename": r.Filename,
		"fsid":     r.RemoteID,
	})
}

// Validate checks the required failure fields.
func (r FailureRecord) Validate() error {
	return requireFields(map[string]string{
		"date":     r.Date,
		"filename": r.Filename,
		"fsid":     r.RemoteID,
	})
}

// Item rebuilds the item a failure record was written for.
func (r FailureRecord) Item() photo.Item {
	return photo.NewItem(r.Date, r.Filename, r.RemoteID)
}

func requireFields(fields map[string]string) error {
	var missing []string

	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	return nil
}

// wireRecord accepts fsid as either a JSON string or number, since hand-edited
// documents and older writers use both.
type wireRecord struct {
	Timestamp float64         `json:"timestamp"`
	Hash      string          `json:"hash"`
	Date      string          `json:"date"`
	Filename  string          `json:"filename"`
	FSID      json.RawMessage `json:"fsid"`
	Size      int64           `json:"size"`
}

func (w wireRecord) remoteID() string {
	raw := strings.TrimSpace(string(w.FSID))
	if raw == "" || raw == "null" {
		return ""
	}

	if s, err := strconv.Unquote(raw); err == nil {
		return s
	}

	return raw
}

// DecodeHistory parses a history document. Records missing required fields are
// dropped with a warning. A malformed document yields an error and no records.
func DecodeHistory(logger *slog.Logger, data []byte) (map[string]HistoryRecord, error) {
	raw, err := decodeDocument(data)
	if err != nil {
		return map[string]HistoryRecord{}, err
	}

	out := make(map[string]HistoryRecord, len(raw))

	for key, w := range raw {
		rec := HistoryRecord{
			ItemKey:   key,
			Timestamp: w.Timestamp,
			Hash:      w.Hash,
			Date:      w.Date,
			Filename:  w.Filename,
			RemoteID:  w.remoteID(),
			Size:      w.Size,
		}

		if err := rec.Validate(); err != nil {
			logger.Warn("dropping invalid history record", "item_key", key, "err", err)

			continue
		}

		out[key] = rec
	}

	return out, nil
}

// DecodeFailures parses a failure document with the same rules as DecodeHistory.
func DecodeFailures(logger *slog.Logger, data []byte) (map[string]FailureRecord, error) {
	raw, err := decodeDocument(data)
	if err != nil {
		return map[string]FailureRecord{}, err
	}

	out := make(map[string]FailureRecord, len(raw))

	for key, w := range raw {
		rec := FailureRecord{
			ItemKey:  key,
			Date:     w.Date,
			Filename: w.Filename,
			RemoteID: w.remoteID(),
		}

		if err := rec.Validate(); err != nil {
			logger.Warn("dropping invalid failure record", "item_key", key, "err", err)

			continue
		}

		out[key] = rec
	}

	return out, nil
}

func decodeDocument(data []byte) (map[string]wireRecord, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]wireRecord{}, nil
	}

	// Decode entries one at a time so a single malformed record can be dropped
	// without discarding the whole document.
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode record document: %w", err)
	}

	out := make(map[string]wireRecord, len(entries))

	for key, entry := range entries {
		var w wireRecord
		if err := json.Unmarshal(entry, &w); err != nil {
			// Leave it zero-valued; validation drops it with a warning.
			out[key] = wireRecord{}

			continue
		}

		out[key] = w
	}

	return out, nil
}

// NewHistoryRecord builds the record written after a verified download.
func NewHistoryRecord(item photo.Item, hash string, size int64, timestamp float64) HistoryRecord {
	return HistoryRecord{
		ItemKey:   item.Key(),
		Timestamp: timestamp,
		Hash:      hash,
		Date:      item.Date,
		Filename:  photo.SanitizeFilename(item.Filename),
		RemoteID:  item.RemoteID,
		Size:      size,
	}
}

// NewFailureRecord builds the record written after a failed attempt.
func NewFailureRecord(item photo.Item) FailureRecord {
	return FailureRecord{
		ItemKey:  item.Key(),
		Date:     item.Date,
		Filename: photo.SanitizeFilename(item.Filename),
		RemoteID: item.RemoteID,
	}
}
