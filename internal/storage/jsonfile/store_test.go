package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/photo_downloader/internal/hashverify"
	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dir := t.TempDir()
	s := New(filepath.Join(dir, "download_history.json"), filepath.Join(dir, "failed_downloads.json"), hashverify.MD5{})
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, s.Load(context.Background()))

	return s, dir
}

func readRaw(t *testing.T, path string) map[string]map[string]any {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &out))

	return out
}

func TestLoad_MissingFilesStartEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	assert.Empty(t, s.History())
	assert.Empty(t, s.Failures())
}

func TestLoad_CorruptFilesStartEmpty(t *testing.T) {
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "h.json")
	failuresPath := filepath.Join(dir, "f.json")

	require.NoError(t, os.WriteFile(historyPath, []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(failuresPath, []byte("[1,2,3]"), 0o644))

	s := New(historyPath, failuresPath, nil)
	require.NoError(t, s.Load(context.Background()))

	assert.Empty(t, s.History())
	assert.Empty(t, s.Failures())
}

func TestLoad_DropsRecordsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "h.json")
	failuresPath := filepath.Join(dir, "f.json")

	history := `{
	  "2023-01-01_a.jpg_1": {"timestamp": 1.5, "hash": "abc", "date": "2023-01-01", "filename": "a.jpg", "fsid": 1, "size": 3},
	  "2023-01-01_b.jpg_2": {"timestamp": 1.5, "date": "2023-01-01", "filename": "b.jpg", "fsid": "2", "size": 3},
	  "broken": "not an object"
	}`
	failures := `{
	  "2023-01-02_c.jpg_3": {"date": "2023-01-02", "filename": "c.jpg", "fsid": "3"},
	  "2023-01-02_d.jpg_4": {"date": "2023-01-02", "fsid": "4"}
	}`

	require.NoError(t, os.WriteFile(historyPath, []byte(history), 0o644))
	require.NoError(t, os.WriteFile(failuresPath, []byte(failures), 0o644))

	s := New(historyPath, failuresPath, nil)
	require.NoError(t, s.Load(context.Background()))

	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, "1", h["2023-01-01_a.jpg_1"].RemoteID, "numeric fsid is accepted")

	f := s.Failures()
	require.Len(t, f, 1)
	assert.Contains(t, f, "2023-01-02_c.jpg_3")
}

func TestRecordSuccess_ClearsFailure(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	item := photo.NewItem("2023-01-01", "a.jpg", "1")

	require.NoError(t, s.RecordFailure(ctx, item))
	assert.True(t, s.HasFailure(item.Key()))

	require.NoError(t, s.RecordSuccess(ctx, item, "deadbeef", 42))

	assert.False(t, s.HasFailure(item.Key()))
	assert.Contains(t, s.History(), item.Key())

	history := readRaw(t, filepath.Join(dir, "download_history.json"))
	failures := readRaw(t, filepath.Join(dir, "failed_downloads.json"))

	require.Contains(t, history, item.Key())
	assert.NotContains(t, failures, item.Key())

	rec := history[item.Key()]
	assert.Equal(t, "deadbeef", rec["hash"])
	assert.Equal(t, "2023-01-01", rec["date"])
	assert.Equal(t, "a.jpg", rec["filename"])
	assert.Equal(t, "1", rec["fsid"])
	assert.EqualValues(t, 42, rec["size"])
	assert.EqualValues(t, 1700000000, rec["timestamp"])
}

func TestRecordFailure_InsertsOnce(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	item := photo.NewItem("2023-01-01", "a.jpg", "1")

	require.NoError(t, s.RecordFailure(ctx, item))

	path := filepath.Join(dir, "failed_downloads.json")
	before, err := os.Stat(path)
	require.NoError(t, err)

	// Make an unexpected rewrite observable through the modification time.
	old := before.ModTime().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, s.RecordFailure(ctx, item))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, old.Unix(), after.ModTime().Unix())
	assert.Len(t, s.Failures(), 1)
}

func TestIsVerified(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()
	item := photo.NewItem("2023-01-01", "a.jpg", "1")
	path := item.DestPath(dir)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	assert.False(t, s.IsVerified(ctx, item.Key(), path), "no record yet")

	hash, err := hashverify.Digest(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordSuccess(ctx, item, hash, 11))

	assert.True(t, s.IsVerified(ctx, item.Key(), path))

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))
	assert.False(t, s.IsVerified(ctx, item.Key(), path), "content changed")

	require.NoError(t, os.Remove(path))
	assert.False(t, s.IsVerified(ctx, item.Key(), path), "file deleted by the user")
}

func TestReloadKeepsProgress(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	ok := photo.NewItem("2023-01-01", "a.jpg", "1")
	bad := photo.NewItem("2023-01-01", "b.jpg", "2")

	require.NoError(t, s.RecordSuccess(ctx, ok, "h1", 1))
	require.NoError(t, s.RecordFailure(ctx, bad))

	reopened := New(filepath.Join(dir, "download_history.json"), filepath.Join(dir, "failed_downloads.json"), nil)
	require.NoError(t, reopened.Load(ctx))

	assert.Contains(t, reopened.History(), ok.Key())
	assert.True(t, reopened.HasFailure(bad.Key()))
}

func TestConcurrentMutationsStayConsistent(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	for i := 0; i < 40; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			item := photo.NewItem("2023-01-01", fmt.Sprintf("%d.jpg", i), fmt.Sprint(i))

			assert.NoError(t, s.RecordFailure(ctx, item))

			if i%2 == 0 {
				assert.NoError(t, s.RecordSuccess(ctx, item, "h", 1))
			}
		}(i)
	}

	wg.Wait()

	history := readRaw(t, filepath.Join(dir, "download_history.json"))
	failures := readRaw(t, filepath.Join(dir, "failed_downloads.json"))

	assert.Len(t, history, 20)
	assert.Len(t, failures, 20)

	for key := range history {
		assert.NotContains(t, failures, key)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestFlushWritesBothDocuments(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, s.Flush(context.Background()))

	assert.Empty(t, readRaw(t, filepath.Join(dir, "download_history.json")))
	assert.Empty(t, readRaw(t, filepath.Join(dir, "failed_downloads.json")))
}
