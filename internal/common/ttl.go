// Package common provides shared utilities for marketd
package common

import "time"

// CacheClass identifies a cache entry class with its own expiry duration.
type CacheClass string

// Cache entry classes.
const (
	ClassStockPrices    CacheClass = "STOCK_PRICES"
	ClassHistoricalData CacheClass = "HISTORICAL_DATA"
	ClassSearchResults  CacheClass = "SEARCH_RESULTS"
	ClassMarketOverview CacheClass = "MARKET_OVERVIEW"
)

// Default TTLs per cache class.
const (
	TTLStockPrices    = 1 * time.Minute
	TTLHistoricalData = 30 * time.Minute
	TTLSearchResults  = 30 * time.Minute
	TTLMarketOverview = 2 * time.Minute
)

// DefaultTTLs returns the default expiry duration for every cache class.
func DefaultTTLs() map[CacheClass]time.Duration {
	return map[CacheClass]time.Duration{
		ClassStockPrices:    TTLStockPrices,
		ClassHistoricalData: TTLHistoricalData,
		ClassSearchResults:  TTLSearchResults,
		ClassMarketOverview: TTLMarketOverview,
	}
}

// TTLsFromConfig returns the per-class TTL table with config overrides
// applied. Unparseable or empty overrides keep the default.
func TTLsFromConfig(cfg CacheConfig) map[CacheClass]time.Duration {
	ttls := DefaultTTLs()
	override := func(class CacheClass, raw string) {
		if raw == "" {
			return
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			ttls[class] = d
		}
	}
	override(ClassStockPrices, cfg.StockPrices)
	override(ClassHistoricalData, cfg.HistoricalData)
	override(ClassSearchResults, cfg.SearchResults)
	override(ClassMarketOverview, cfg.MarketOverview)
	return ttls
}

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	if updated.IsZero() {
		return false
	}
	return time.Since(updated) < ttl
}
