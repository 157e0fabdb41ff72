package app

import (
	"context"
	"time"

	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/interfaces"
)

// syncCheckInterval is how often the scheduler checks whether the monthly
// sync is due. The sync itself fires at most once per day.
const syncCheckInterval = time.Hour

// runSyncScheduler fires a monthly sync on the configured day of month,
// at most once per calendar day.
func runSyncScheduler(ctx context.Context, syncService interfaces.SyncService, config *common.Config, logger *common.Logger) {
	ticker := time.NewTicker(syncCheckInterval)
	defer ticker.Stop()

	var lastRun string

	// One immediate check so a restart on the sync day does not wait an hour.
	lastRun = checkAndSync(ctx, syncService, config, logger, lastRun, time.Now())

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Sync scheduler: stopped")
			return
		case now := <-ticker.C:
			lastRun = checkAndSync(ctx, syncService, config, logger, lastRun, now)
		}
	}
}

// checkAndSync runs the monthly sync when today matches the configured
// day of month and no sync has run today. Returns the updated last-run day.
func checkAndSync(ctx context.Context, syncService interfaces.SyncService, config *common.Config, logger *common.Logger, lastRun string, now time.Time) string {
	if now.Day() != config.Sync.DayOfMonth {
		return lastRun
	}
	today := now.Format("2006-01-02")
	if lastRun == today {
		return lastRun
	}
	if len(config.Sync.Symbols) == 0 {
		logger.Debug().Msg("Sync scheduler: no symbols configured")
		return today
	}

	logger.Info().Int("symbols", len(config.Sync.Symbols)).Msg("Sync scheduler: monthly sync starting")

	results, err := syncService.MonthlySync(ctx, config.Sync.Symbols)
	if err != nil {
		logger.Error().Err(err).Msg("Sync scheduler: monthly sync failed")
		return lastRun
	}

	logger.Info().Int("synced", len(results)).Msg("Sync scheduler: monthly sync complete")
	return today
}
