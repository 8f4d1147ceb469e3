package jsondir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/italolelis/photo_downloader/internal/logctx"
	"github.com/italolelis/photo_downloader/internal/photo"
)

// ErrMalformedRecord is returned for metadata documents missing a usable field.
var ErrMalformedRecord = errors.New("malformed metadata record")

// Source reads one metadata document per photo from a directory of *.json files.
type Source struct {
	dir string
}

func New(dir string) *Source {
	return &Source{dir: dir}
}

type record struct {
	Path      string          `json:"path"`
	FSID      json.RawMessage `json:"fsid"`
	Size      int64           `json:"size"`
	ExtraInfo struct {
		DateTime string `json:"date_time"`
	} `json:"extra_info"`
}

// Enumerate returns the items of every parseable document, ordered by file name.
func (s *Source) Enumerate(ctx context.Context) ([]photo.Item, error) {
	logger := logctx.LoggerFromContext(ctx).With("metadata_dir", s.dir)

	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata files: %w", err)
	}

	if _, err := os.Stat(s.dir); err != nil {
		return nil, &photo.ConfigError{Field: "METADATA_DIR", Reason: "metadata directory is not accessible", Err: err}
	}

	sort.Strings(files)

	items := make([]photo.Item, 0, len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, err := ParseFile(file)
		if err != nil {
			logger.WarnContext(ctx, "skipping metadata record", "file", filepath.Base(file), "err", err)

			continue
		}

		items = append(items, item)
	}

	logger.InfoContext(ctx, "enumerated metadata records", "file_count", len(files), "item_count", len(items))

	return items, nil
}

// ParseFile reads a single metadata document.
func ParseFile(file string) (photo.Item, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return photo.Item{}, fmt.Errorf("failed to read %s: %w", file, err)
	}

	return Parse(data)
}

// Parse converts one metadata document into an Item. The date comes from the
// EXIF style "2023:01:01 10:00:00" timestamp, the filename from the base of path.
func Parse(data []byte) (photo.Item, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return photo.Item{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	if len(r.ExtraInfo.DateTime) < 10 {
		return photo.Item{}, fmt.Errorf("%w: missing extra_info.date_time", ErrMalformedRecord)
	}

	date := strings.ReplaceAll(r.ExtraInfo.DateTime[:10], ":", "-")

	name := path.Base(strings.ReplaceAll(r.Path, "\\", "/"))
	if r.Path == "" || name == "/" || name == "." {
		return photo.Item{}, fmt.Errorf("%w: missing path", ErrMalformedRecord)
	}

	remoteID, err := decodeFSID(r.FSID)
	if err != nil {
		return photo.Item{}, err
	}

	item := photo.NewItem(date, name, remoteID)
	item.Size = r.Size

	return item, nil
}

func decodeFSID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing fsid", ErrMalformedRecord)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("%w: empty fsid", ErrMalformedRecord)
		}

		return s, nil
	}

	var n json.Number

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("%w: fsid must be a string or number", ErrMalformedRecord)
	}

	return n.String(), nil
}
