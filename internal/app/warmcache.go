package app

import (
	"context"
	"os"
	"time"

	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/interfaces"
)

// warmCache pre-fetches quotes for the configured sync symbols and the
// market overview so the first dashboard load hits a warm cache.
func warmCache(ctx context.Context, market interfaces.MarketDataService, config *common.Config, logger *common.Logger) {
	if os.Getenv("MARKETD_WARM_CACHE") == "off" {
		logger.Info().Msg("Warm cache: disabled via MARKETD_WARM_CACHE=off")
		return
	}

	symbols := config.Sync.Symbols
	if len(symbols) == 0 {
		logger.Info().Msg("Warm cache: no symbols configured, warming overview only")
	}

	start := time.Now()

	if _, err := market.GetMarketOverview(ctx); err != nil {
		logger.Warn().Err(err).Msg("Warm cache: market overview fetch failed")
	}

	warmed := 0
	if len(symbols) > 0 {
		result, err := market.GetQuotes(ctx, symbols)
		if err != nil {
			logger.Warn().Err(err).Msg("Warm cache: quote batch failed")
		} else {
			warmed = len(result.Success)
		}
	}

	if ctx.Err() != nil {
		return
	}

	logger.Info().
		Int("symbols", warmed).
		Dur("duration", time.Since(start)).
		Msg("Warm cache: complete")
}
