// Package interfaces defines service contracts for marketd
package interfaces

import (
	"context"

	"github.com/quantumtrades/marketd/internal/models"
)

// QuoteOptions configures a single-quote request.
type QuoteOptions struct {
	ForceRefresh bool
}

// MarketDataService is the top-level query surface for the presentation
// layer. It routes between cache, the adapter fallback chain, the price
// store, and the mock generator.
type MarketDataService interface {
	// GetQuote returns a live quote, served from cache when fresh.
	GetQuote(ctx context.Context, symbol string, opts QuoteOptions) (*models.Quote, error)

	// GetQuotes returns per-symbol results; one symbol failing never fails
	// the batch.
	GetQuotes(ctx context.Context, symbols []string) (*models.BatchQuoteResult, error)

	// GetHistory returns daily bars for a named period, merging stored
	// closed-month data with live current-month data.
	GetHistory(ctx context.Context, symbol, period, interval string) ([]models.HistoricalBar, error)

	// Search finds symbols matching the query. Queries shorter than 2
	// characters return an empty result without any network call.
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)

	// GetMarketOverview fetches the main indices concurrently with partial
	// success allowed.
	GetMarketOverview(ctx context.Context) (*models.MarketOverview, error)

	// InvalidateSymbol drops every cache entry mentioning the symbol.
	InvalidateSymbol(symbol string)

	// Metrics reports orchestrator counters since startup.
	Metrics() models.ServiceMetrics
}

// SyncService imports and maintains closed-month history in the price store.
type SyncService interface {
	// ImportHistory imports the full available history for a symbol up to
	// the last closed month. Idempotent: re-running when data is current
	// returns a skipped result.
	ImportHistory(ctx context.Context, symbol string) (*models.SyncResult, error)

	// UpdateClosedMonth refreshes only the most recently closed month.
	UpdateClosedMonth(ctx context.Context, symbol string) (*models.SyncResult, error)

	// MonthlySync runs UpdateClosedMonth (or a first import) for every
	// given symbol sequentially, collecting per-symbol outcomes.
	MonthlySync(ctx context.Context, symbols []string) ([]models.SyncResult, error)

	// Progress reports the current sync position.
	Progress() SyncProgress
}

// SyncProgress reports how far a running sync has advanced.
type SyncProgress struct {
	Running bool   `json:"running"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Symbol  string `json:"symbol,omitempty"`
}
