package tile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"

	apierrors "github.com/monkut/servembtiles/internal/errors"
)

// MaxZoom is the deepest zoom level a Coordinate can address. Columns and
// rows are 32-bit.
const MaxZoom = 31

// MetadataSegment is the route discriminator for the metadata dump.
const MetadataSegment = "metadata"

// Coordinate addresses one tile of the pyramid.
type Coordinate struct {
	Zoom   maptile.Zoom
	Column uint32
	Row    uint32
}

// Tile returns the coordinate as a maptile.Tile.
func (c Coordinate) Tile() maptile.Tile {
	return maptile.New(c.Column, c.Row, c.Zoom)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Zoom, c.Column, c.Row)
}

// Flip mirrors the row between the XYZ and TMS conventions:
// row' = 2^zoom - row - 1. It reports false when the row lies outside the
// zoom level's grid and therefore has no mirror.
func (c Coordinate) Flip() (Coordinate, bool) {
	if !c.Tile().Valid() {
		return c, false
	}
	c.Row = uint32(1)<<uint32(c.Zoom) - c.Row - 1
	return c, true
}

// ToStorage converts a requested coordinate into the TMS coordinate MBTiles
// stores. TMS requests pass through unchanged.
func (s Scheme) ToStorage(c Coordinate) (Coordinate, bool) {
	if s == XYZ {
		return c.Flip()
	}
	return c, true
}

// Route identifies which endpoint a path addresses.
type Route int

const (
	// RouteNone matches neither endpoint.
	RouteNone Route = iota
	// RouteMetadata is the metadata dump.
	RouteMetadata
	// RouteTile is a single tile fetch.
	RouteTile
)

func (r Route) String() string {
	switch r {
	case RouteMetadata:
		return "metadata"
	case RouteTile:
		return "tile"
	default:
		return "none"
	}
}

// Request is a resolved request path. Zoom, Column and Row are the requested
// indexes; they may exceed what a Coordinate can address.
type Request struct {
	Route  Route
	Zoom   uint64
	Column uint64
	Row    uint64
	// Ext is the lower-cased extension from the path, including the dot.
	Ext string
}

// Coordinate returns the requested tile as a Coordinate. It reports false
// when the zoom is deeper than MaxZoom or the column or row does not fit in
// 32 bits; no archive can hold such a tile.
func (r Request) Coordinate() (Coordinate, bool) {
	if r.Zoom > MaxZoom || r.Column > math.MaxUint32 || r.Row > math.MaxUint32 {
		return Coordinate{}, false
	}
	return Coordinate{
		Zoom:   maptile.Zoom(r.Zoom),
		Column: uint32(r.Column),
		Row:    uint32(r.Row),
	}, true
}

// Resolve parses a request path. A path whose first segment is not
// "metadata" is treated as a tile address and must have exactly the shape
// z/x/y.ext; anything else is a *errors.BadAddressError. Indexes are
// returned as requested, before any scheme transform.
func Resolve(path string) (Request, error) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return Request{Route: RouteNone}, nil
	}

	segments := strings.Split(trimmed, "/")
	if segments[0] == MetadataSegment {
		if len(segments) == 1 {
			return Request{Route: RouteMetadata}, nil
		}
		return Request{Route: RouteNone}, nil
	}

	if len(segments) != 3 {
		return Request{}, badAddress(path, "expected 3 path segments, got %d", len(segments))
	}

	zoom, err := parseIndex(segments[0])
	if err != nil {
		return Request{}, badAddress(path, "zoom %q is not a non-negative integer", segments[0])
	}

	column, err := parseIndex(segments[1])
	if err != nil {
		return Request{}, badAddress(path, "column %q is not a non-negative integer", segments[1])
	}

	parts := strings.Split(segments[2], ".")
	if len(parts) != 2 {
		return Request{}, badAddress(path, "%q is not of the form <row>.<ext>", segments[2])
	}

	row, err := parseIndex(parts[0])
	if err != nil {
		return Request{}, badAddress(path, "row %q is not a non-negative integer", parts[0])
	}

	ext := "." + strings.ToLower(parts[1])
	if !IsImageExtension(ext) {
		return Request{}, badAddress(path, "extension %q is not one of %s", parts[1], strings.Join(SupportedExtensions(), ", "))
	}

	return Request{
		Route:  RouteTile,
		Zoom:   zoom,
		Column: column,
		Row:    row,
		Ext:    ext,
	}, nil
}

// parseIndex accepts unsigned base-10 integers only; signs are rejected.
// Values too large for uint64 saturate.
func parseIndex(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxUint64, nil
	}
	return v, err
}

func badAddress(path, format string, args ...any) error {
	return &apierrors.BadAddressError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
