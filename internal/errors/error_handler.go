// Package errors defines the failure taxonomy of the tile server and maps it
// onto plain-text HTTP responses.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// PlainTextContentType is used for every error and diagnostic body.
const PlainTextContentType = "text/plain; charset=utf-8"

// TileGrammar is the URL shape a tile request must follow.
const TileGrammar = "z/x/y.(png|jpg|jpeg)"

// ErrStorageUnavailable wraps any failure to open or query the archive.
var ErrStorageUnavailable = errs.Class("storage unavailable")

// ArchiveNotFoundError is returned when the configured archive file does not exist.
type ArchiveNotFoundError struct {
	Path string
	Err  error
}

func (e *ArchiveNotFoundError) Error() string {
	if e.Path == "" {
		return "mbtiles archive path not configured"
	}
	return fmt.Sprintf("mbtiles archive not found: %s", e.Path)
}

func (e *ArchiveNotFoundError) Unwrap() error { return e.Err }

// UnsupportedExtensionError is returned when the configured tile extension is
// not a supported image type.
type UnsupportedExtensionError struct {
	Ext       string
	Supported []string
}

func (e *UnsupportedExtensionError) Error() string {
	return fmt.Sprintf("%s not in (%s)", e.Ext, strings.Join(e.Supported, ", "))
}

// MissingVersionError is returned when the metadata table has no "version" row.
type MissingVersionError struct {
	Path string
}

func (e *MissingVersionError) Error() string {
	return fmt.Sprintf("no \"version\" key in metadata of %s", e.Path)
}

// UnsupportedVersionError carries the raw version string that failed the
// compatibility check.
type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unknown MBTiles version(%s) (supported: 1.0.x through 1.2.x, 'grids' not supported)", e.Version)
}

// InvalidMetadataError is returned when a metadata value cannot be interpreted.
type InvalidMetadataError struct {
	Key   string
	Value string
	Err   error
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("invalid metadata %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *InvalidMetadataError) Unwrap() error { return e.Err }

// BadAddressError is returned when a request path is not a valid tile address.
type BadAddressError struct {
	Path   string
	Reason string
}

func (e *BadAddressError) Error() string {
	msg := fmt.Sprintf("Unable to parse PATH_INFO(%s), expecting %q", e.Path, TileGrammar)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsBadAddress reports whether err is a BadAddressError.
func IsBadAddress(err error) bool {
	var target *BadAddressError
	return stderrors.As(err, &target)
}

// HTTPStatus converts an error to an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case IsBadAddress(err):
		return http.StatusBadRequest
	case ErrStorageUnavailable.Has(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handler writes error responses and logs them.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError processes an error raised while serving r and writes an
// appropriate plain-text response naming the request path.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := HTTPStatus(err)
	requestID := r.Header.Get("X-Request-ID")

	var message string
	switch statusCode {
	case http.StatusBadRequest:
		message = err.Error()
	case http.StatusServiceUnavailable:
		h.logger.Error("archive unavailable",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
		)
		message = fmt.Sprintf("tile archive unavailable while serving %s", r.URL.Path)
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
		)
		message = fmt.Sprintf("internal error while serving %s", r.URL.Path)
	}

	h.WriteErrorResponse(w, statusCode, message, requestID)
}

// WriteErrorResponse writes a plain-text error body with the given status.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, message string, requestID string) {
	h.logger.Debug("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	w.Header().Set("Content-Type", PlainTextContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(message))
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Retry-After", "1")
	h.WriteErrorResponse(w, http.StatusTooManyRequests, "rate limit exceeded", requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, "internal server error", requestID)
}
