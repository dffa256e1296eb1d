// Package health provides liveness and readiness endpoints for the tile server.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger reports whether the tile archive can still be queried.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusRecorder receives the outcome of every readiness check.
type StatusRecorder interface {
	SetHealthStatus(healthy bool)
}

// HealthCheck manages health check functionality.
type HealthCheck struct {
	archive       Pinger
	recorder      StatusRecorder
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	lastCheck     time.Time
	checkInterval time.Duration
	checkTimeout  time.Duration
}

// NewHealthCheck creates a new HealthCheck instance. recorder may be nil.
func NewHealthCheck(archive Pinger, recorder StatusRecorder, logger *zap.Logger) *HealthCheck {
	return &HealthCheck{
		archive:       archive,
		recorder:      recorder,
		logger:        logger,
		ready:         false,
		checkInterval: 5 * time.Second,
		checkTimeout:  5 * time.Second,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
// Returns 200 OK while the tile archive answers queries.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if hc.IsReady() {
		writeJSON(w, http.StatusOK, readyResponse())
		return
	}

	// Perform a fresh check if not ready
	ctx, cancel := context.WithTimeout(r.Context(), hc.checkTimeout)
	defer cancel()

	if err := hc.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "not_ready",
			Checks: map[string]string{
				"archive": "unhealthy",
			},
			Error: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, readyResponse())
}

// Check pings the archive once and updates the readiness state.
func (hc *HealthCheck) Check(ctx context.Context) error {
	var err error
	if hc.archive != nil {
		err = hc.archive.Ping(ctx)
	}

	hc.mu.Lock()
	hc.ready = err == nil
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	if hc.recorder != nil {
		hc.recorder.SetHealthStatus(err == nil)
	}
	return err
}

// Run performs periodic health checks until ctx is done.
func (hc *HealthCheck) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
			err := hc.Check(checkCtx)
			cancel()

			if err != nil {
				hc.logger.Warn("health check failed", zap.Error(err))
			}
		}
	}
}

// LastCheck returns the time of the most recent archive check.
func (hc *HealthCheck) LastCheck() time.Time {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastCheck
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status.
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.ready = ready
}

func readyResponse() ReadinessResponse {
	return ReadinessResponse{
		Status: "ready",
		Checks: map[string]string{
			"archive": "healthy",
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
