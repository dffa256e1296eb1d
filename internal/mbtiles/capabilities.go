package mbtiles

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apierrors "github.com/monkut/servembtiles/internal/errors"
)

// Version is a parsed MBTiles format version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "major.minor.patch". Anything else is an
// *errors.UnsupportedVersionError carrying the raw string.
func ParseVersion(raw string) (Version, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Version{}, &apierrors.UnsupportedVersionError{Version: raw}
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return Version{}, &apierrors.UnsupportedVersionError{Version: raw}
		}
		nums[i] = int(n)
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Supported reports whether the tiles and metadata tables of this version
// have the layout this server reads (1.0 through 1.2).
func (v Version) Supported() bool {
	return v.Major == 1 && v.Minor <= 2
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ZoomBound is an optional zoom limit read from metadata.
type ZoomBound struct {
	Level int
	Valid bool
}

func (b ZoomBound) String() string {
	if !b.Valid {
		return "unset"
	}
	return strconv.Itoa(b.Level)
}

// Capabilities is what the server learns about an archive at startup. It is
// immutable and safe to share across requests.
type Capabilities struct {
	Version Version
	MinZoom ZoomBound
	MaxZoom ZoomBound
}

// Constrained reports whether both zoom bounds are set.
func (c Capabilities) Constrained() bool {
	return c.MinZoom.Valid && c.MaxZoom.Valid
}

// ZoomInRange reports whether zoom may be requested. An archive missing
// either bound accepts every zoom.
func (c Capabilities) ZoomInRange(zoom uint64) bool {
	if !c.Constrained() {
		return true
	}
	if c.MaxZoom.Level < 0 {
		return false
	}
	if c.MinZoom.Level > 0 && zoom < uint64(c.MinZoom.Level) {
		return false
	}
	return zoom <= uint64(c.MaxZoom.Level)
}

// MetadataReader looks up single metadata values.
type MetadataReader interface {
	MetadataValue(ctx context.Context, key string) (string, bool, error)
}

// LoadCapabilities validates the archive's version and reads its zoom
// bounds. source names the archive in errors.
func LoadCapabilities(ctx context.Context, r MetadataReader, source string) (Capabilities, error) {
	raw, ok, err := r.MetadataValue(ctx, "version")
	if err != nil {
		return Capabilities{}, err
	}
	if !ok {
		return Capabilities{}, &apierrors.MissingVersionError{Path: source}
	}

	version, err := ParseVersion(raw)
	if err != nil {
		return Capabilities{}, err
	}
	if !version.Supported() {
		return Capabilities{}, &apierrors.UnsupportedVersionError{Version: raw}
	}

	minZoom, err := loadZoomBound(ctx, r, "minzoom")
	if err != nil {
		return Capabilities{}, err
	}
	maxZoom, err := loadZoomBound(ctx, r, "maxzoom")
	if err != nil {
		return Capabilities{}, err
	}

	return Capabilities{
		Version: version,
		MinZoom: minZoom,
		MaxZoom: maxZoom,
	}, nil
}

func loadZoomBound(ctx context.Context, r MetadataReader, key string) (ZoomBound, error) {
	raw, ok, err := r.MetadataValue(ctx, key)
	if err != nil {
		return ZoomBound{}, err
	}
	if !ok {
		return ZoomBound{}, nil
	}

	level, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return ZoomBound{}, &apierrors.InvalidMetadataError{Key: key, Value: raw, Err: err}
	}
	return ZoomBound{Level: level, Valid: true}, nil
}
