// Package interfaces defines service contracts for marketd
package interfaces

import (
	"context"
	"time"

	"github.com/quantumtrades/marketd/internal/models"
)

// SourceAdapter is the contract every upstream data provider implements.
// Each adapter translates its provider's native schema into the canonical
// Quote/HistoricalBar shape. Adapters that lack a capability return a
// models.NotSupportedError so the fallback chain can move on.
type SourceAdapter interface {
	// Name identifies the adapter in circuit-breaker state and source tags.
	Name() string

	// GetQuote retrieves a live quote for a single symbol.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)

	// GetQuotes retrieves live quotes for several symbols in one call.
	GetQuotes(ctx context.Context, symbols []string) ([]*models.Quote, error)

	// GetHistory retrieves daily bars for the given period and interval.
	GetHistory(ctx context.Context, symbol string, opts HistoryOptions) ([]models.HistoricalBar, error)

	// Search finds symbols matching a query.
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

// HistoryOptions configures a history request.
type HistoryOptions struct {
	Period   string // 1D, 5D, 1M, 3M, 6M, 1Y, 2Y, 5Y, 10Y, MAX
	Interval string // 1d, 1wk, 1mo
	From     time.Time
	To       time.Time
}
