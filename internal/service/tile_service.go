// Package service turns request paths into tile and metadata responses.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	apierrors "github.com/monkut/servembtiles/internal/errors"
	"github.com/monkut/servembtiles/internal/mbtiles"
	"github.com/monkut/servembtiles/internal/tile"
)

// JSONContentType is the content type of the metadata dump.
const JSONContentType = "application/json"

// UsageMessage is returned for any request that is not a GET on one of the
// two supported URL shapes.
const UsageMessage = `request URI not in expected: ("/metadata", "/z/x/y.(png|jpg|jpeg)")`

// Lookup outcomes reported to the Recorder.
const (
	OutcomeHit          = "hit"
	OutcomeMiss         = "miss"
	OutcomeBadAddress   = "bad_address"
	OutcomeZoomOutRange = "zoom_out_of_range"
	OutcomeMetadata     = "metadata"
	OutcomeNoMetadata   = "metadata_missing"
	OutcomeUsage        = "usage"
	OutcomeError        = "error"
)

// Store is the read-only view of an archive the service needs.
type Store interface {
	mbtiles.MetadataReader
	Metadata(ctx context.Context) ([]mbtiles.MetadataEntry, error)
	Tile(ctx context.Context, zoom, column, row int64) ([]byte, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Recorder receives lookup outcomes.
type Recorder interface {
	RecordTileLookup(outcome string)
	RecordTileBytes(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordTileLookup(string) {}
func (nopRecorder) RecordTileBytes(int)     {}

// Response is a complete HTTP response descriptor.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

func textResponse(status int, format string, args ...any) Response {
	return Response{
		Status:      status,
		ContentType: apierrors.PlainTextContentType,
		Body:        []byte(fmt.Sprintf(format, args...)),
	}
}

// Options configures a TileService.
type Options struct {
	// ArchivePath is the absolute path of the .mbtiles file.
	ArchivePath string
	// TileExt is the served image extension: .png, .jpg or .jpeg.
	TileExt string
	// Scheme selects TMS or XYZ row addressing for request paths.
	Scheme tile.Scheme
	// ArchiveOptions are passed to mbtiles.Open.
	ArchiveOptions []mbtiles.Option
	// Recorder receives lookup outcomes; optional.
	Recorder Recorder
}

// TileService resolves tile and metadata requests against one archive. All
// fields are fixed at construction so a TileService may be shared by
// concurrent requests.
type TileService struct {
	store    Store
	source   string
	caps     mbtiles.Capabilities
	format   tile.Format
	scheme   tile.Scheme
	recorder Recorder
	logger   *zap.Logger
}

// New opens and validates the archive. It fails if the archive does not
// exist, the extension is unsupported, or the archive is incompatible.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*TileService, error) {
	archive, err := mbtiles.Open(ctx, opts.ArchivePath, opts.ArchiveOptions...)
	if err != nil {
		return nil, err
	}

	svc, err := NewWithStore(ctx, archive, archive.Path(), opts, logger)
	if err != nil {
		return nil, errs.Combine(err, archive.Close())
	}
	return svc, nil
}

// NewWithStore builds a TileService over an already opened store. source
// names the archive in errors and logs.
func NewWithStore(ctx context.Context, store Store, source string, opts Options, logger *zap.Logger) (*TileService, error) {
	format, err := tile.ParseFormat(opts.TileExt)
	if err != nil {
		return nil, err
	}

	caps, err := mbtiles.LoadCapabilities(ctx, store, source)
	if err != nil {
		return nil, err
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	logger.Info("mbtiles archive validated",
		zap.String("archive", source),
		zap.String("version", caps.Version.String()),
		zap.String("minzoom", caps.MinZoom.String()),
		zap.String("maxzoom", caps.MaxZoom.String()),
		zap.String("tile_ext", format.Ext),
		zap.String("scheme", opts.Scheme.String()),
	)

	return &TileService{
		store:    store,
		source:   source,
		caps:     caps,
		format:   format,
		scheme:   opts.Scheme,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Capabilities returns what was learned about the archive at startup.
func (s *TileService) Capabilities() mbtiles.Capabilities {
	return s.caps
}

// Format returns the configured tile format.
func (s *TileService) Format() tile.Format {
	return s.format
}

// Scheme returns the configured addressing scheme.
func (s *TileService) Scheme() tile.Scheme {
	return s.scheme
}

// Ping probes the archive.
func (s *TileService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases the archive.
func (s *TileService) Close() error {
	return s.store.Close()
}

// Handle serves one request. Client mistakes and absent data are returned
// as a Response; only storage failures are returned as an error.
func (s *TileService) Handle(ctx context.Context, method, path string) (Response, error) {
	if method != http.MethodGet {
		s.recorder.RecordTileLookup(OutcomeUsage)
		return textResponse(http.StatusBadRequest, "%s", UsageMessage), nil
	}

	req, err := tile.Resolve(path)
	if err != nil {
		var badAddr *apierrors.BadAddressError
		if errors.As(err, &badAddr) {
			s.recorder.RecordTileLookup(OutcomeBadAddress)
			s.logger.Debug("bad tile address", zap.String("path", path), zap.String("reason", badAddr.Reason))
			return textResponse(http.StatusBadRequest, "%s", badAddr.Error()), nil
		}
		return Response{}, err
	}

	switch req.Route {
	case tile.RouteMetadata:
		return s.Metadata(ctx)
	case tile.RouteTile:
		return s.Lookup(ctx, path, req)
	default:
		s.recorder.RecordTileLookup(OutcomeUsage)
		return textResponse(http.StatusBadRequest, "%s", UsageMessage), nil
	}
}

// Lookup fetches the tile addressed by a resolved tile request. path is the
// raw request path, quoted back in diagnostic bodies.
func (s *TileService) Lookup(ctx context.Context, path string, req tile.Request) (Response, error) {
	if !s.caps.ZoomInRange(req.Zoom) {
		s.recorder.RecordTileLookup(OutcomeZoomOutRange)
		return textResponse(http.StatusNotFound,
			"Requested zoomlevel(%d) Not Available! Valid range minzoom(%d) maxzoom(%d) PATH_INFO: %s",
			req.Zoom, s.caps.MinZoom.Level, s.caps.MaxZoom.Level, path), nil
	}

	requested, ok := req.Coordinate()
	if !ok {
		s.recorder.RecordTileLookup(OutcomeMiss)
		return notFound(path), nil
	}

	stored, ok := s.scheme.ToStorage(requested)
	if !ok {
		s.recorder.RecordTileLookup(OutcomeMiss)
		return notFound(path), nil
	}

	data, found, err := s.store.Tile(ctx, int64(stored.Zoom), int64(stored.Column), int64(stored.Row))
	if err != nil {
		s.recorder.RecordTileLookup(OutcomeError)
		return Response{}, fmt.Errorf("tile %s: %w", stored, err)
	}
	if !found {
		s.recorder.RecordTileLookup(OutcomeMiss)
		return notFound(path), nil
	}

	s.recorder.RecordTileLookup(OutcomeHit)
	s.recorder.RecordTileBytes(len(data))
	return Response{
		Status:      http.StatusOK,
		ContentType: s.format.ContentType,
		Body:        data,
	}, nil
}

func notFound(path string) Response {
	return textResponse(http.StatusNotFound, "No data found for request location: %s", path)
}
