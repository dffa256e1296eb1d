// Package tile resolves request paths into tile-pyramid coordinates.
package tile

import (
	"fmt"
	"strings"

	apierrors "github.com/monkut/servembtiles/internal/errors"
)

// Format is the single image format an archive is served as.
type Format struct {
	Ext         string
	ContentType string
}

var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// SupportedExtensions lists the tile image extensions that can be served.
func SupportedExtensions() []string {
	return []string{".png", ".jpg", ".jpeg"}
}

// IsImageExtension reports whether ext (with leading dot) is a supported
// image extension, ignoring case.
func IsImageExtension(ext string) bool {
	_, ok := contentTypes[strings.ToLower(ext)]
	return ok
}

// ParseFormat binds a configured extension to its MIME type.
func ParseFormat(ext string) (Format, error) {
	normalized := strings.ToLower(ext)
	contentType, ok := contentTypes[normalized]
	if !ok {
		return Format{}, &apierrors.UnsupportedExtensionError{Ext: ext, Supported: SupportedExtensions()}
	}
	return Format{Ext: normalized, ContentType: contentType}, nil
}

// Scheme selects how the row component of a tile URL is interpreted.
type Scheme int

const (
	// TMS rows count from the bottom-left origin, as MBTiles stores them.
	TMS Scheme = iota
	// XYZ rows count from the top-left origin.
	XYZ
)

// ParseScheme parses "tms" or "xyz" (case-insensitive).
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tms":
		return TMS, nil
	case "xyz":
		return XYZ, nil
	default:
		return TMS, fmt.Errorf("unknown addressing scheme %q (expected tms or xyz)", s)
	}
}

func (s Scheme) String() string {
	if s == XYZ {
		return "xyz"
	}
	return "tms"
}
