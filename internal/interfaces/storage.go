// Package interfaces defines service contracts for marketd
package interfaces

import (
	"context"

	"github.com/quantumtrades/marketd/internal/models"
)

// PriceStore persists historical bars, dividends, fundamentals, and
// per-symbol sync metadata. Bars are upserted by (symbol, date); queries
// return bars sorted ascending by date.
type PriceStore interface {
	// SaveBars bulk-upserts bars for a symbol in one transaction and
	// returns the number of records written.
	SaveBars(ctx context.Context, symbol string, bars []models.HistoricalBar) (int, error)

	// GetBars returns bars within [start, end] ("2006-01-02", inclusive,
	// empty string means unbounded), sorted ascending by date.
	GetBars(ctx context.Context, symbol, start, end string) ([]models.HistoricalBar, error)

	// HasBars reports whether the symbol has any resident history.
	HasBars(ctx context.Context, symbol string) (bool, error)

	// SaveDividends bulk-upserts dividend events for a symbol.
	SaveDividends(ctx context.Context, symbol string, dividends []models.Dividend) (int, error)

	// GetDividends returns dividend events for a symbol ordered by payment date.
	GetDividends(ctx context.Context, symbol string) ([]models.Dividend, error)

	// SaveFundamentals upserts one per-period fundamentals record.
	SaveFundamentals(ctx context.Context, f *models.Fundamentals) error

	// GetFundamentals returns fundamentals for a symbol, newest period first.
	GetFundamentals(ctx context.Context, symbol string) ([]models.Fundamentals, error)

	// Sync metadata, one record per symbol.
	GetSyncMetadata(ctx context.Context, symbol string) (*models.SyncMetadata, error)
	UpdateSyncMetadata(ctx context.Context, symbol string, dataRange models.DateRange, recordCount int) error
	ListSyncedSymbols(ctx context.Context) ([]string, error)

	// PurgeOlderThan deletes bars older than the given number of years and
	// returns the deleted count.
	PurgeOlderThan(ctx context.Context, years int) (int, error)

	// Stats summarizes resident data across all symbols.
	Stats(ctx context.Context) (*models.StoreStats, error)

	Close() error
}
