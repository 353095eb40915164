package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/qubic/qutedb-crawler/pkg/crawler"
	"github.com/qubic/qutedb-crawler/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{
	TestRunPattern: crawler.DefaultTestRunPattern,
	MetadataFile:   "metadata.json",
	ThumbnailFile:  "quicklook_plot.png",
}

func addRun(t *testing.T, root, rel string, rec *metadata.Record, thumbnail bool) {
	t.Helper()

	dir := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	if rec != nil {
		data, err := rec.Marshal()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644))
	}

	if thumbnail {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "quicklook_plot.png"), []byte("png"), 0o644))
	}
}

func TestGenerateIndex(t *testing.T) {
	root := t.TempDir()

	older := metadata.NewRecord(1_682_944_200, 1_682_944_800)
	newer := metadata.NewRecord(1_683_014_400, 1_683_014_430)

	addRun(t, root, "2023-05-01_12.30.00__run1", &older, true)
	addRun(t, root, "calib/2023-05-02_08.00.00__run2", &newer, false)
	addRun(t, root, "2023-05-03_08.00.00__nodata", nil, true)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2023-05-04_08.00.00__broken"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "2023-05-04_08.00.00__broken", "metadata.json"), []byte("{"), 0o644,
	))

	idx, err := GenerateIndex(root, testOpts)
	require.NoError(t, err)
	require.Len(t, idx.Entries, 2)
	assert.NotZero(t, idx.Generated)

	first := idx.Entries[0]
	assert.Equal(t, "calib/2023-05-02_08.00.00__run2", first.Path)
	assert.Equal(t, "2023-05-02_08.00.00__run2", first.Name)
	assert.Equal(t, int64(30), first.DurationS)
	assert.False(t, first.HasThumbnail)

	second := idx.Entries[1]
	assert.Equal(t, "2023-05-01_12.30.00__run1", second.Path)
	assert.Equal(t, "2023-05-01 12:30:00", second.StartTime)
	assert.Equal(t, "2023-05-01 12:40:00", second.EndTime)
	assert.Equal(t, int64(600), second.DurationS)
	assert.True(t, second.HasThumbnail)
}

func TestGenerateIndex_Empty(t *testing.T) {
	idx, err := GenerateIndex(t.TempDir(), testOpts)
	require.NoError(t, err)
	assert.NotNil(t, idx.Entries)
	assert.Empty(t, idx.Entries)
}

func TestGenerateIndex_MissingRoot(t *testing.T) {
	_, err := GenerateIndex(filepath.Join(t.TempDir(), "missing"), testOpts)
	assert.Error(t, err)
}

func TestWriteIndex(t *testing.T) {
	root := t.TempDir()
	rec := metadata.NewRecord(1.0, 9.0)
	addRun(t, root, "2023-05-01_12.30.00__run1", &rec, false)

	idx, err := GenerateIndex(root, testOpts)
	require.NoError(t, err)
	require.NoError(t, WriteIndex(root, idx, nil))

	data, err := os.ReadFile(filepath.Join(root, FileName))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	entries, ok := decoded["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)

	entry, ok := entries[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2023-05-01_12.30.00__run1", entry["path"])
	assert.Equal(t, "1970-01-01 00:00:01", entry["start_time"])
	assert.Equal(t, "1970-01-01 00:00:09", entry["end_time"])
	assert.InDelta(t, 8, entry["duration_s"], 0)
	assert.Equal(t, false, entry["has_thumbnail"])
	assert.NotContains(t, entry, "start")
}
