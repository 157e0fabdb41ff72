package server

import (
	"context"
	"net/http"
	"time"

	"github.com/quantumtrades/marketd/internal/common"
)

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	metrics := s.app.MarketService.Metrics()
	status := "ok"
	if metrics.Requests > 0 && float64(metrics.Errors)/float64(metrics.Requests) > 0.5 {
		status = "degraded"
	}

	resp := map[string]interface{}{
		"status":          status,
		"version":         common.GetVersion(),
		"environment":     s.app.Config.Environment,
		"uptime_seconds":  int(time.Since(s.app.StartupTime).Seconds()),
		"store_available": s.app.Store != nil,
		"circuits":        s.app.Chain.Circuits(),
	}

	if s.app.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ok, err := s.app.Backend.Health(ctx)
		resp["backend_available"] = err == nil && ok
	}

	WriteJSON(w, http.StatusOK, resp)
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// handleStats handles GET /api/stats: service metrics, cache counters,
// circuit state, and store contents.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats := map[string]interface{}{
		"service":   s.app.MarketService.Metrics(),
		"cache":     s.app.Cache.Stats(),
		"circuits":  s.app.Chain.Circuits(),
		"timestamp": time.Now(),
	}

	if s.app.Store != nil {
		storeStats, err := s.app.Store.Stats(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("Store stats failed")
		} else {
			stats["store"] = storeStats
		}
	}

	if s.app.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		backendStats, err := s.app.Backend.Stats(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Backend stats failed")
		} else {
			stats["backend"] = backendStats
		}
	}

	WriteJSON(w, http.StatusOK, stats)
}
