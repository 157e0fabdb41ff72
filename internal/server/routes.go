package server

import "net/http"

// registerRoutes attaches every API endpoint to the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Service endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/stats", s.handleStats)

	// Market data endpoints
	mux.HandleFunc("/api/market/quote/", s.handleQuote)
	mux.HandleFunc("/api/market/quotes", s.handleQuotes)
	mux.HandleFunc("/api/market/history/", s.handleHistory)
	mux.HandleFunc("/api/market/search", s.handleSearch)
	mux.HandleFunc("/api/market/overview", s.handleOverview)

	// Cache endpoints
	mux.HandleFunc("/api/market/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/api/market/cache/warm", s.handleCacheWarm)
	mux.HandleFunc("/api/market/cache/", s.handleCacheInvalidate)

	// Sync endpoints
	mux.HandleFunc("/api/sync/import", s.handleSyncImport)
	mux.HandleFunc("/api/sync/status", s.handleSyncStatus)
}
