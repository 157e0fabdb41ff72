package server

import (
	"errors"
	"net/http"

	"github.com/quantumtrades/marketd/internal/models"
	syncsvc "github.com/quantumtrades/marketd/internal/services/sync"
)

// syncImportRequest is the body of POST /api/sync/import. Month limits
// the refresh to the last closed month instead of a full import.
type syncImportRequest struct {
	Symbols   []string `json:"symbols"`
	MonthOnly bool     `json:"month_only"`
}

// handleSyncImport handles POST /api/sync/import.
func (s *Server) handleSyncImport(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if s.app.SyncService == nil {
		WriteError(w, http.StatusServiceUnavailable, "Price store unavailable, sync is disabled")
		return
	}

	var req syncImportRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Symbols) == 0 {
		WriteError(w, http.StatusBadRequest, "At least one symbol is required")
		return
	}

	results := make([]models.SyncResult, 0, len(req.Symbols))
	failures := map[string]string{}
	for _, symbol := range req.Symbols {
		var (
			result *models.SyncResult
			err    error
		)
		if req.MonthOnly {
			result, err = s.app.SyncService.UpdateClosedMonth(r.Context(), symbol)
		} else {
			result, err = s.app.SyncService.ImportHistory(r.Context(), symbol)
		}
		if err != nil {
			if errors.Is(err, syncsvc.ErrSyncRunning) {
				WriteError(w, http.StatusConflict, err.Error())
				return
			}
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				WriteError(w, http.StatusBadRequest, verr.Error())
				return
			}
			failures[symbol] = err.Error()
			continue
		}
		results = append(results, *result)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"failures": failures,
	})
}

// handleSyncStatus handles GET /api/sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.app.SyncService == nil {
		WriteError(w, http.StatusServiceUnavailable, "Price store unavailable, sync is disabled")
		return
	}

	status := map[string]interface{}{
		"progress": s.app.SyncService.Progress(),
	}
	if s.app.Store != nil {
		if symbols, err := s.app.Store.ListSyncedSymbols(r.Context()); err == nil {
			status["synced_symbols"] = symbols
		}
	}
	WriteJSON(w, http.StatusOK, status)
}
