// Package sync maintains closed-month history in the price store. Imports
// pull the full available range up to the last closed month; the monthly
// job refreshes only the most recently closed month per symbol.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantumtrades/marketd/internal/cache"
	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/fallback"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

// ErrSyncRunning is returned when a sync is requested while another one
// is still in flight.
var ErrSyncRunning = errors.New("sync already running")

// Service implements interfaces.SyncService.
type Service struct {
	chain     *fallback.Chain
	store     interfaces.PriceStore
	dataCache *cache.Cache
	cfg       *common.Config
	logger    *common.Logger
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	progress interfaces.SyncProgress
}

// ServiceOption configures the sync service.
type ServiceOption func(*Service)

// WithClock sets the time source used for month boundary math.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the sync service. The store must be open; sync is
// meaningless without it.
func NewService(
	cfg *common.Config,
	chain *fallback.Chain,
	store interfaces.PriceStore,
	dataCache *cache.Cache,
	logger *common.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		chain:     chain,
		store:     store,
		dataCache: dataCache,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// closedMonthEnd returns the last day of the most recently closed month.
func (s *Service) closedMonthEnd() time.Time {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return monthStart.AddDate(0, 0, -1)
}

// ImportHistory imports the full available history for a symbol, bounded
// by sync.years_back, up to the last closed month. Re-running when the
// store already covers that boundary returns a skipped result.
func (s *Service) ImportHistory(ctx context.Context, symbol string) (*models.SyncResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &models.ValidationError{Field: "symbol", Message: "must not be empty"}
	}

	closedEnd := s.closedMonthEnd()
	closedEndDate := closedEnd.Format("2006-01-02")

	meta, err := s.store.GetSyncMetadata(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if meta != nil && meta.DataRange.End >= closedEndDate {
		s.logger.Debug().Str("symbol", symbol).Msg("History already current, skipping import")
		return &models.SyncResult{Symbol: symbol, Skipped: true, DataRange: meta.DataRange}, nil
	}

	yearsBack := s.cfg.Sync.YearsBack
	if yearsBack <= 0 {
		yearsBack = 20
	}
	from := closedEnd.AddDate(-yearsBack, 0, 0)

	bars, err := s.chain.GetHistory(ctx, symbol, interfaces.HistoryOptions{
		Period:   "MAX",
		Interval: "1d",
		From:     from,
		To:       closedEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", symbol, err)
	}

	// Only closed months are persisted; the open month stays live.
	closed := bars[:0:0]
	for _, bar := range bars {
		if bar.Date <= closedEndDate {
			closed = append(closed, bar)
		}
	}
	if len(closed) == 0 {
		s.logger.Warn().Str("symbol", symbol).Msg("No closed-month bars returned, nothing to import")
		return &models.SyncResult{Symbol: symbol, Skipped: true}, nil
	}

	written, err := s.store.SaveBars(ctx, symbol, closed)
	if err != nil {
		return nil, fmt.Errorf("persist history for %s: %w", symbol, err)
	}

	dataRange := models.DateRange{Start: closed[0].Date, End: closed[len(closed)-1].Date}
	if err := s.store.UpdateSyncMetadata(ctx, symbol, dataRange, written); err != nil {
		return nil, err
	}

	s.logger.Info().Str("symbol", symbol).Int("records", written).
		Str("from", dataRange.Start).Str("to", dataRange.End).Msg("Historical import complete")

	return &models.SyncResult{Symbol: symbol, RecordCount: written, DataRange: dataRange}, nil
}

// UpdateClosedMonth refreshes only the most recently closed month.
func (s *Service) UpdateClosedMonth(ctx context.Context, symbol string) (*models.SyncResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &models.ValidationError{Field: "symbol", Message: "must not be empty"}
	}

	closedEnd := s.closedMonthEnd()
	monthStart := time.Date(closedEnd.Year(), closedEnd.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthStartDate := monthStart.Format("2006-01-02")
	closedEndDate := closedEnd.Format("2006-01-02")

	meta, err := s.store.GetSyncMetadata(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if meta != nil && meta.DataRange.End >= closedEndDate {
		return &models.SyncResult{Symbol: symbol, Skipped: true, DataRange: meta.DataRange}, nil
	}

	bars, err := s.chain.GetHistory(ctx, symbol, interfaces.HistoryOptions{
		Period:   "1M",
		Interval: "1d",
		From:     monthStart,
		To:       closedEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch closed month for %s: %w", symbol, err)
	}

	monthBars := bars[:0:0]
	for _, bar := range bars {
		if bar.Date >= monthStartDate && bar.Date <= closedEndDate {
			monthBars = append(monthBars, bar)
		}
	}
	if len(monthBars) == 0 {
		return &models.SyncResult{Symbol: symbol, Skipped: true}, nil
	}

	written, err := s.store.SaveBars(ctx, symbol, monthBars)
	if err != nil {
		return nil, fmt.Errorf("persist closed month for %s: %w", symbol, err)
	}

	dataRange := models.DateRange{Start: monthBars[0].Date, End: monthBars[len(monthBars)-1].Date}
	if err := s.store.UpdateSyncMetadata(ctx, symbol, dataRange, written); err != nil {
		return nil, err
	}

	s.logger.Info().Str("symbol", symbol).Int("records", written).
		Str("month", monthStart.Format("2006-01")).Msg("Closed month updated")

	return &models.SyncResult{Symbol: symbol, RecordCount: written, DataRange: dataRange}, nil
}

// MonthlySync runs a first import or a closed-month update for every
// symbol sequentially. Only one sync runs at a time.
func (s *Service) MonthlySync(ctx context.Context, symbols []string) ([]models.SyncResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSyncRunning
	}
	s.running = true
	s.progress = interfaces.SyncProgress{Running: true, Total: len(symbols)}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.progress = interfaces.SyncProgress{}
		s.mu.Unlock()
	}()

	results := make([]models.SyncResult, 0, len(symbols))
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		s.mu.Lock()
		s.progress.Current = i + 1
		s.progress.Symbol = strings.ToUpper(symbol)
		s.mu.Unlock()

		has, err := s.store.HasBars(ctx, symbol)
		if err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("Store check failed during monthly sync")
			continue
		}

		var result *models.SyncResult
		if has {
			result, err = s.UpdateClosedMonth(ctx, symbol)
		} else {
			result, err = s.ImportHistory(ctx, symbol)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("Symbol sync failed, continuing")
			continue
		}
		results = append(results, *result)
	}

	if s.dataCache != nil {
		s.dataCache.InvalidateByEvent("sync_complete")
	}

	s.logger.Info().Int("symbols", len(symbols)).Int("synced", len(results)).Msg("Monthly sync finished")
	return results, nil
}

// Progress reports the current sync position.
func (s *Service) Progress() interfaces.SyncProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Ensure Service implements SyncService
var _ interfaces.SyncService = (*Service)(nil)
