package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

// writeMarketError maps the service error taxonomy to HTTP status codes.
func writeMarketError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		WriteError(w, http.StatusBadRequest, verr.Error())
		return
	}
	var failed *models.AllProvidersFailedError
	if errors.As(err, &failed) {
		WriteError(w, http.StatusBadGateway, failed.Error())
		return
	}
	var perr *models.ProviderError
	if errors.As(err, &perr) && perr.Status == http.StatusNotFound {
		WriteError(w, http.StatusNotFound, perr.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}

// handleQuote handles GET /api/market/quote/{symbol}. The refresh query
// parameter bypasses the cache.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	symbol := PathParam(r.URL.Path, "/api/market/quote/")
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "Symbol is required")
		return
	}

	opts := interfaces.QuoteOptions{
		ForceRefresh: r.URL.Query().Get("refresh") == "true",
	}
	quote, err := s.app.MarketService.GetQuote(r.Context(), symbol, opts)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, quote)
}

// quotesRequest is the body of POST /api/market/quotes.
type quotesRequest struct {
	Symbols []string `json:"symbols"`
}

// handleQuotes handles POST /api/market/quotes: a batch with per-symbol
// outcomes, never failing as a whole.
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req quotesRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Symbols) == 0 {
		WriteError(w, http.StatusBadRequest, "At least one symbol is required")
		return
	}
	if len(req.Symbols) > 50 {
		WriteError(w, http.StatusBadRequest, "Too many symbols (max 50)")
		return
	}

	result, err := s.app.MarketService.GetQuotes(r.Context(), req.Symbols)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// handleHistory handles GET /api/market/history/{symbol}?period=&interval=.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	symbol := PathParam(r.URL.Path, "/api/market/history/")
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "Symbol is required")
		return
	}

	period := r.URL.Query().Get("period")
	interval := r.URL.Query().Get("interval")

	bars, err := s.app.MarketService.GetHistory(r.Context(), symbol, period, interval)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": strings.ToUpper(symbol),
		"period": period,
		"count":  len(bars),
		"bars":   bars,
	})
}

// handleSearch handles GET /api/market/search?q=&limit=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query().Get("q")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			WriteError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	results, err := s.app.MarketService.Search(r.Context(), query, limit)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

// handleOverview handles GET /api/market/overview.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	overview, err := s.app.MarketService.GetMarketOverview(r.Context())
	if err != nil {
		writeMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, overview)
}

// handleCacheStats handles GET /api/market/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Cache.Stats())
}

// warmRequest is the body of POST /api/market/cache/warm.
type warmRequest struct {
	Symbols []string `json:"symbols"`
}

// handleCacheWarm handles POST /api/market/cache/warm. Without a body it
// warms the configured sync symbols.
func (s *Server) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req warmRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.app.Config.Sync.Symbols
	}
	if len(symbols) == 0 {
		WriteError(w, http.StatusBadRequest, "No symbols given and none configured")
		return
	}

	result, err := s.app.MarketService.GetQuotes(r.Context(), symbols)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"warmed": len(result.Success),
		"failed": len(result.Errors),
	})
}

// handleCacheInvalidate handles DELETE /api/market/cache/{symbol}.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	symbol := PathParam(r.URL.Path, "/api/market/cache/")
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "Symbol is required")
		return
	}

	s.app.MarketService.InvalidateSymbol(symbol)
	WriteJSON(w, http.StatusOK, map[string]string{
		"symbol": strings.ToUpper(symbol),
		"status": "invalidated",
	})
}
