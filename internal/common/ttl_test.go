package common

import (
	"testing"
	"time"
)

func TestIsFresh(t *testing.T) {
	tests := []struct {
		name    string
		updated time.Time
		ttl     time.Duration
		want    bool
	}{
		{"zero_time", time.Time{}, time.Hour, false},
		{"just_updated", time.Now(), time.Hour, true},
		{"expired", time.Now().Add(-2 * time.Hour), time.Hour, false},
		{"within_ttl", time.Now().Add(-30 * time.Minute), time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFresh(tt.updated, tt.ttl); got != tt.want {
				t.Errorf("IsFresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTTLsFromConfig_Overrides(t *testing.T) {
	ttls := TTLsFromConfig(CacheConfig{
		StockPrices:    "5m",
		HistoricalData: "",
		SearchResults:  "not-a-duration",
		MarketOverview: "-1s",
	})

	if ttls[ClassStockPrices] != 5*time.Minute {
		t.Errorf("STOCK_PRICES ttl = %v, want 5m", ttls[ClassStockPrices])
	}
	if ttls[ClassHistoricalData] != TTLHistoricalData {
		t.Errorf("HISTORICAL_DATA ttl = %v, want default", ttls[ClassHistoricalData])
	}
	if ttls[ClassSearchResults] != TTLSearchResults {
		t.Errorf("SEARCH_RESULTS ttl = %v, want default on parse error", ttls[ClassSearchResults])
	}
	if ttls[ClassMarketOverview] != TTLMarketOverview {
		t.Errorf("MARKET_OVERVIEW ttl = %v, want default on negative", ttls[ClassMarketOverview])
	}
}

func TestDefaultTTLs_CoversAllClasses(t *testing.T) {
	ttls := DefaultTTLs()
	for _, class := range []CacheClass{ClassStockPrices, ClassHistoricalData, ClassSearchResults, ClassMarketOverview} {
		if ttls[class] <= 0 {
			t.Errorf("class %s has no default TTL", class)
		}
	}
}
