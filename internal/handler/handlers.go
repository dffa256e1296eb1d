// Package handler provides HTTP request handlers for the tile server.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apierrors "github.com/monkut/servembtiles/internal/errors"
	"github.com/monkut/servembtiles/internal/service"
)

// TileService is the part of service.TileService the handlers call.
type TileService interface {
	Handle(ctx context.Context, method, path string) (service.Response, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	service      TileService
	errorHandler *apierrors.Handler
	logger       *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc TileService, errorHandler *apierrors.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		service:      svc,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Tiles handles every request on the tile port: GET /metadata,
// GET /{z}/{x}/{y}.{ext}, and the usage response for anything else.
func (h *Handlers) Tiles(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Handle(r.Context(), r.Method, r.URL.Path)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeResponse(w, resp)
}

// writeResponse writes the body byte-for-byte.
func (h *Handlers) writeResponse(w http.ResponseWriter, resp service.Response) {
	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)

	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug("failed to write response body", zap.Error(err))
	}
}
