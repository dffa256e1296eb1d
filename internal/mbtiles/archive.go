// Package mbtiles provides read-only access to an MBTiles archive and
// validates that the archive can be served.
//
// Build modes:
//   - Default (CGO_ENABLED=0): pure Go modernc.org/sqlite
//   - CGO mode (-tags cgo_sqlite): mattn/go-sqlite3
package mbtiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/zeebo/errs"

	apierrors "github.com/monkut/servembtiles/internal/errors"
)

const (
	queryMetadataValue = `SELECT value FROM metadata WHERE name = ?`
	queryAllMetadata   = `SELECT name, value FROM metadata`
	queryTile          = `SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`
)

// DriverName returns the database/sql driver name compiled into this build.
func DriverName() string {
	return driverName
}

// DriverType returns "cgo" for mattn/go-sqlite3, "purego" for modernc.org/sqlite.
func DriverType() string {
	return driverType
}

// QueryObserver is notified after every archive query.
type QueryObserver interface {
	ObserveArchiveQuery(query string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveArchiveQuery(string, time.Duration, error) {}

// Option configures an Archive.
type Option func(*Archive)

// WithObserver reports query timings to o.
func WithObserver(o QueryObserver) Option {
	return func(a *Archive) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithMaxOpenConns bounds the read-only connection pool.
func WithMaxOpenConns(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.maxOpenConns = n
		}
	}
}

// MetadataEntry is one row of the metadata table. It serializes as a
// two-element JSON array, [name, value].
type MetadataEntry struct {
	Name  string
	Value sql.NullString
}

// MarshalJSON implements json.Marshaler.
func (e MetadataEntry) MarshalJSON() ([]byte, error) {
	pair := [2]any{e.Name, nil}
	if e.Value.Valid {
		pair[1] = e.Value.String
	}
	return json.Marshal(pair)
}

// Archive is a read-only handle on an .mbtiles file. It is safe for
// concurrent use. Each query opens its own connection and closes it when the
// call returns, so a deleted or replaced file is seen by the next query.
type Archive struct {
	path         string
	db           *sql.DB
	observer     QueryObserver
	maxOpenConns int
}

// Open opens the archive at path read-only. It fails with
// *errors.ArchiveNotFoundError when the file does not exist and with
// ErrStorageUnavailable when it cannot be opened.
func Open(ctx context.Context, path string, opts ...Option) (*Archive, error) {
	if path == "" {
		return nil, &apierrors.ArchiveNotFoundError{}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &apierrors.ArchiveNotFoundError{Path: path, Err: err}
		}
		return nil, apierrors.ErrStorageUnavailable.Wrap(err)
	}

	a := &Archive{
		path:         path,
		observer:     nopObserver{},
		maxOpenConns: 4,
	}
	for _, opt := range opts {
		opt(a)
	}

	db, err := sql.Open(driverName, readOnlyDSN(path))
	if err != nil {
		return nil, apierrors.ErrStorageUnavailable.Wrap(err)
	}
	db.SetMaxOpenConns(a.maxOpenConns)
	// No idle connections: an open handle keeps an unlinked file readable.
	db.SetMaxIdleConns(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Combine(apierrors.ErrStorageUnavailable.Wrap(err), db.Close())
	}

	a.db = db
	return a, nil
}

// readOnlyDSN uses a file: URI so both drivers honour mode=ro.
func readOnlyDSN(path string) string {
	return "file:" + path + "?mode=ro"
}

// Path returns the filesystem path of the archive.
func (a *Archive) Path() string {
	return a.path
}

// MetadataValue returns the value stored under key. A missing row or a NULL
// value reports ok == false.
func (a *Archive) MetadataValue(ctx context.Context, key string) (value string, ok bool, err error) {
	start := time.Now()
	defer func() { a.observer.ObserveArchiveQuery("metadata_value", time.Since(start), err) }()

	var v sql.NullString
	err = a.db.QueryRowContext(ctx, queryMetadataValue, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apierrors.ErrStorageUnavailable.Wrap(err)
	}
	return v.String, v.Valid, nil
}

// Metadata returns every metadata row in storage order.
func (a *Archive) Metadata(ctx context.Context) (entries []MetadataEntry, err error) {
	start := time.Now()
	defer func() { a.observer.ObserveArchiveQuery("metadata_all", time.Since(start), err) }()

	rows, err := a.db.QueryContext(ctx, queryAllMetadata)
	if err != nil {
		return nil, apierrors.ErrStorageUnavailable.Wrap(err)
	}
	defer func() { err = errs.Combine(err, apierrors.ErrStorageUnavailable.Wrap(rows.Close())) }()

	for rows.Next() {
		var entry MetadataEntry
		if err := rows.Scan(&entry.Name, &entry.Value); err != nil {
			return nil, apierrors.ErrStorageUnavailable.Wrap(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.ErrStorageUnavailable.Wrap(err)
	}
	return entries, nil
}

// Tile returns the tile_data stored at the given TMS coordinate.
func (a *Archive) Tile(ctx context.Context, zoom, column, row int64) (data []byte, ok bool, err error) {
	start := time.Now()
	defer func() { a.observer.ObserveArchiveQuery("tile", time.Since(start), err) }()

	err = a.db.QueryRowContext(ctx, queryTile, zoom, column, row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierrors.ErrStorageUnavailable.Wrap(err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, true, nil
}

// Ping checks that the archive file is still present and queryable.
func (a *Archive) Ping(ctx context.Context) error {
	if _, err := os.Stat(a.path); err != nil {
		return apierrors.ErrStorageUnavailable.Wrap(err)
	}
	_, _, err := a.MetadataValue(ctx, "version")
	return err
}

// Close releases the connection pool.
func (a *Archive) Close() error {
	return apierrors.ErrStorageUnavailable.Wrap(a.db.Close())
}
