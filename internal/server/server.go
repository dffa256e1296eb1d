// Package server provides the HTTP server for the tile port.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/monkut/servembtiles/internal/config"
	apierrors "github.com/monkut/servembtiles/internal/errors"
	"github.com/monkut/servembtiles/internal/handler"
	"github.com/monkut/servembtiles/internal/metrics"
	"github.com/monkut/servembtiles/internal/middleware"
)

// Route names, also used as the "route" metrics label.
const (
	RouteMetadata = "metadata"
	RouteTile     = "tile"
	RouteOther    = "other"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	metrics      *metrics.Metrics
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server over svc. m may be nil when metrics
// are disabled.
func NewServer(cfg *config.Config, svc handler.TileService, m *metrics.Metrics, logger *zap.Logger) *Server {
	// Path parsing belongs to the tile resolver, so mux must not clean or
	// redirect request paths.
	router := mux.NewRouter().SkipClean(true)
	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(svc, errorHandler, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		metrics:      m,
		errorHandler: errorHandler,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	// Setup middleware chain
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS(s.cfg.CORS.AllowedOrigins),
	}

	if s.metrics != nil {
		middlewareChain = append(middlewareChain, metrics.MetricsMiddleware(s.metrics))
	}

	// Add rate limiter if enabled
	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	if s.cfg.Server.RequestTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	// Apply middleware to router
	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Every method reaches the tile handler, which answers non-GET requests
	// with the usage message rather than 405.
	s.router.HandleFunc("/"+RouteMetadata, s.handlers.Tiles).Name(RouteMetadata)
	s.router.HandleFunc("/{zoom}/{column}/{row}", s.handlers.Tiles).Name(RouteTile)
	s.router.PathPrefix("/").HandlerFunc(s.handlers.Tiles).Name(RouteOther)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("address", s.cfg.Server.Address),
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetRouter returns the router for testing purposes.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
