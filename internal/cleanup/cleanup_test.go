package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "download_history.json")

	write := func(name string, age time.Duration) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

		mod := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mod, mod))

		return path
	}

	document := write("download_history.json", 48*time.Hour)
	stale := write("download_history.json.tmp-123", 2*time.Hour)
	fresh := write("download_history.json.tmp-456", time.Second)
	other := write("failed_downloads.json.tmp-789", 2*time.Hour)

	removed, err := RemoveStaleTempFiles(context.Background(), doc, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, document)
	assert.FileExists(t, other)
}

func TestRemoveStaleTempFiles_MissingDirectory(t *testing.T) {
	removed, err := RemoveStaleTempFiles(context.Background(), filepath.Join(t.TempDir(), "nope", "x.json"), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
