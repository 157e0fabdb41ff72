// Package models defines data structures for marketd
package models

import (
	"time"
)

// Quote holds a live price snapshot for a single symbol. Quotes are
// immutable: every fetch produces a new value.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePct     float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Currency      string    `json:"currency"`
	Exchange      string    `json:"exchange"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"` // adapter that produced the quote
	Stale         bool      `json:"stale,omitempty"`  // served past TTL after all sources failed
}

// HistoricalBar represents a single day's price data for a symbol.
// At most one bar exists per (symbol, date); re-imports overwrite.
type HistoricalBar struct {
	Symbol        string    `json:"symbol"`
	Date          string    `json:"date"` // calendar day, "2006-01-02"
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	AdjustedClose float64   `json:"adjusted_close"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// ParseBarDate parses a bar date string into a time at midnight UTC.
func ParseBarDate(date string) (time.Time, error) {
	return time.Parse("2006-01-02", date)
}

// Dividend represents a dividend event for a symbol.
type Dividend struct {
	Symbol      string    `json:"symbol"`
	PaymentDate string    `json:"payment_date"` // "2006-01-02"
	ExDate      string    `json:"ex_date,omitempty"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type,omitempty"` // dividend, JCP
	Timestamp   time.Time `json:"timestamp"`
}

// Fundamentals holds per-period fundamental figures for a symbol.
type Fundamentals struct {
	Symbol        string    `json:"symbol"`
	Period        string    `json:"period"` // e.g. "2024Q1", "2024FY"
	MarketCap     float64   `json:"market_cap,omitempty"`
	PE            float64   `json:"pe_ratio,omitempty"`
	EPS           float64   `json:"eps,omitempty"`
	DividendYield float64   `json:"dividend_yield,omitempty"`
	NetIncome     float64   `json:"net_income,omitempty"`
	Revenue       float64   `json:"revenue,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DateRange is an inclusive [Start, End] calendar range.
type DateRange struct {
	Start string `json:"start"` // "2006-01-02"
	End   string `json:"end"`
}

// SyncMetadata tracks which historical data is resident for a symbol.
// One record per symbol, owned by the price store.
type SyncMetadata struct {
	Symbol      string    `json:"symbol"`
	LastSync    string    `json:"last_sync"` // calendar day of last successful sync
	LastUpdate  time.Time `json:"last_update"`
	DataRange   DateRange `json:"data_range"`
	RecordCount int       `json:"record_count"`
}

// SearchResult is one entry from a symbol search.
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Type     string `json:"type"` // stock, fund, bdr
}

// IndexSnapshot holds a market index reading within an overview. A nil
// snapshot means that index could not be fetched.
type IndexSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_percent"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketOverview aggregates the main B3 indices. Source is "aggregated"
// when every index resolved, "partial" when at least one failed, or "mock".
type MarketOverview struct {
	Ibovespa  *IndexSnapshot `json:"ibovespa"`
	Ifix      *IndexSnapshot `json:"ifix"`
	SmallCap  *IndexSnapshot `json:"small_cap"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Warning   string         `json:"warning,omitempty"`
}

// QuoteError pairs a symbol with the error that prevented its quote.
type QuoteError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// BatchQuoteResult holds per-symbol outcomes for a multi-quote request.
// A failing symbol never fails the batch; it lands in Errors instead.
type BatchQuoteResult struct {
	Success   []*Quote     `json:"success"`
	Errors    []QuoteError `json:"errors"`
	Timestamp time.Time    `json:"timestamp"`
}

// StoreStats summarizes the contents of the price store.
type StoreStats struct {
	Symbols      []SymbolStats `json:"symbols"`
	TotalRecords int           `json:"total_records"`
	Oldest       string        `json:"oldest,omitempty"`
	Newest       string        `json:"newest,omitempty"`
}

// SymbolStats summarizes one symbol's resident data.
type SymbolStats struct {
	Symbol      string    `json:"symbol"`
	RecordCount int       `json:"records"`
	LastSync    string    `json:"last_sync"`
	DataRange   DateRange `json:"range"`
}

// SyncResult reports the outcome of a historical import for one symbol.
type SyncResult struct {
	Symbol      string    `json:"symbol"`
	Skipped     bool      `json:"skipped"`
	RecordCount int       `json:"record_count"`
	DataRange   DateRange `json:"data_range"`
}

// ServiceMetrics counts orchestrator activity since startup.
type ServiceMetrics struct {
	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APICalls    int64 `json:"api_calls"`
	Fallbacks   int64 `json:"fallbacks"`
}
