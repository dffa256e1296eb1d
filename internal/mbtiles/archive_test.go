package mbtiles_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/monkut/servembtiles/internal/errors"
	"github.com/monkut/servembtiles/internal/mbtiles"
	"github.com/monkut/servembtiles/internal/mbtiles/mbtilestest"
)

type recordingObserver struct {
	mu      sync.Mutex
	queries []string
}

func (o *recordingObserver) ObserveArchiveQuery(query string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, query)
}

func openArchive(t *testing.T, path string, opts ...mbtiles.Option) *mbtiles.Archive {
	t.Helper()
	archive, err := mbtiles.Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

func TestOpen_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mbtiles")

	_, err := mbtiles.Open(context.Background(), path)

	var notFound *apierrors.ArchiveNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, path, notFound.Path)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := mbtiles.Open(context.Background(), "")

	var notFound *apierrors.ArchiveNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestArchive_MetadataValue(t *testing.T) {
	path := mbtilestest.Standard(t, nil, [2]string{"name", "Test"})
	archive := openArchive(t, path)
	ctx := context.Background()

	value, ok, err := archive.MetadataValue(ctx, "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Test", value)

	_, ok, err = archive.MetadataValue(ctx, "minzoom")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchive_MetadataValue_ParameterizedKey(t *testing.T) {
	path := mbtilestest.Standard(t, nil)
	archive := openArchive(t, path)

	_, ok, err := archive.MetadataValue(context.Background(), `version" OR "1"="1`)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchive_Metadata_StorageOrder(t *testing.T) {
	path := mbtilestest.Create(t, mbtilestest.Fixture{
		Metadata: [][2]string{{"name", "Test"}, {"version", "1.1.0"}},
	})
	archive := openArchive(t, path)

	entries, err := archive.Metadata(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	body, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.Equal(t, `[["name","Test"],["version","1.1.0"]]`, string(body))
}

func TestArchive_Metadata_NullValue(t *testing.T) {
	path := mbtilestest.Standard(t, nil)
	mbtilestest.Exec(t, path, `INSERT INTO metadata (name, value) VALUES ('attribution', NULL)`)
	archive := openArchive(t, path)

	entries, err := archive.Metadata(context.Background())
	require.NoError(t, err)

	body, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.Equal(t, `[["version","1.1.0"],["attribution",null]]`, string(body))
}

func TestArchive_Tile(t *testing.T) {
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	path := mbtilestest.Standard(t, []mbtilestest.Tile{{Zoom: 5, Column: 3, Row: 7, Data: data}})
	observer := &recordingObserver{}
	archive := openArchive(t, path, mbtiles.WithObserver(observer), mbtiles.WithMaxOpenConns(2))
	ctx := context.Background()

	got, ok, err := archive.Tile(ctx, 5, 3, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, data, got)

	_, ok, err = archive.Tile(ctx, 5, 3, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"tile", "tile"}, observer.queries)
}

func TestArchive_Tile_NullData(t *testing.T) {
	path := mbtilestest.Standard(t, nil)
	mbtilestest.Exec(t, path, `INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (1, 0, 0, NULL)`)
	archive := openArchive(t, path)

	got, ok, err := archive.Tile(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestArchive_ReadOnly(t *testing.T) {
	path := mbtilestest.Standard(t, nil)
	archive := openArchive(t, path)

	entries, err := archive.Metadata(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, path, archive.Path())
}

func TestArchive_MissingTable(t *testing.T) {
	path := mbtilestest.Standard(t, nil)
	mbtilestest.Exec(t, path, `DROP TABLE tiles`)
	archive := openArchive(t, path)

	_, _, err := archive.Tile(context.Background(), 0, 0, 0)
	require.Error(t, err)
	assert.True(t, apierrors.ErrStorageUnavailable.Has(err))
}

func TestArchive_Ping(t *testing.T) {
	path := mbtilestest.Standard(t, nil)
	archive := openArchive(t, path)

	require.NoError(t, archive.Ping(context.Background()))

	require.NoError(t, os.Remove(path))
	err := archive.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, apierrors.ErrStorageUnavailable.Has(err))
}

func TestArchive_RemovedFile(t *testing.T) {
	path := mbtilestest.Standard(t, []mbtilestest.Tile{{Zoom: 0, Column: 0, Row: 0, Data: []byte("tile")}})
	archive := openArchive(t, path)
	ctx := context.Background()

	_, ok, err := archive.Tile(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.Remove(path))

	_, _, err = archive.Tile(ctx, 0, 0, 0)
	require.Error(t, err)
	assert.True(t, apierrors.ErrStorageUnavailable.Has(err))

	_, err = archive.Metadata(ctx)
	require.Error(t, err)
	assert.True(t, apierrors.ErrStorageUnavailable.Has(err))

	_, _, err = archive.MetadataValue(ctx, "version")
	require.Error(t, err)
	assert.True(t, apierrors.ErrStorageUnavailable.Has(err))
}

func TestArchive_CanceledContext(t *testing.T) {
	path := mbtilestest.Standard(t, nil)
	archive := openArchive(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := archive.Tile(ctx, 0, 0, 0)
	require.Error(t, err)
	assert.True(t, apierrors.ErrStorageUnavailable.Has(err))
}

func TestDriverName(t *testing.T) {
	assert.NotEmpty(t, mbtiles.DriverName())
	assert.Contains(t, []string{"purego", "cgo"}, mbtiles.DriverType())
}
