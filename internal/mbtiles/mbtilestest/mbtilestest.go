// Package mbtilestest builds throwaway .mbtiles archives for tests.
package mbtilestest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monkut/servembtiles/internal/mbtiles"
)

const schema = `
CREATE TABLE metadata (name text, value text);
CREATE TABLE tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);
CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row);
`

// Tile is a stored tile, addressed in TMS.
type Tile struct {
	Zoom   int64
	Column int64
	Row    int64
	Data   []byte
}

// Fixture describes the contents of a test archive. Metadata rows are
// inserted in order.
type Fixture struct {
	Metadata [][2]string
	Tiles    []Tile
}

// Create writes the fixture to a fresh archive under t.TempDir and returns
// its path.
func Create(t testing.TB, f Fixture) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.mbtiles")
	db, err := sql.Open(mbtiles.DriverName(), path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schema)
	require.NoError(t, err)

	for _, kv := range f.Metadata {
		_, err := db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)`, kv[0], kv[1])
		require.NoError(t, err)
	}
	for _, tl := range f.Tiles {
		_, err := db.Exec(`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
			tl.Zoom, tl.Column, tl.Row, tl.Data)
		require.NoError(t, err)
	}

	return path
}

// Exec runs statements against an existing archive, for tests that need
// NULLs or broken tables.
func Exec(t testing.TB, path string, query string, args ...any) {
	t.Helper()

	db, err := sql.Open(mbtiles.DriverName(), path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(query, args...)
	require.NoError(t, err)
}

// Standard returns a 1.1.0 archive with the given metadata appended after
// the version row.
func Standard(t testing.TB, tiles []Tile, extra ...[2]string) string {
	t.Helper()

	md := append([][2]string{{"version", "1.1.0"}}, extra...)
	return Create(t, Fixture{Metadata: md, Tiles: tiles})
}
