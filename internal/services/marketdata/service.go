// Package marketdata implements the top-level data orchestrator. Requests
// flow cache first, then the adapter fallback chain; historical queries
// additionally merge closed-month data from the price store with live
// current-month data from the chain.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantumtrades/marketd/internal/cache"
	"github.com/quantumtrades/marketd/internal/clients/mock"
	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/fallback"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

// overviewSymbols are the B3 indices aggregated into the market overview.
var overviewSymbols = []string{"IBOV", "IFIX", "SMLL"}

// Service implements interfaces.MarketDataService.
type Service struct {
	chain  *fallback.Chain
	mock   *mock.Client
	store  interfaces.PriceStore // nil when the store failed to open
	cache  *cache.Cache
	cfg    *common.Config
	logger *common.Logger
	now    func() time.Time

	requests    int64
	errors      int64
	cacheHits   int64
	cacheMisses int64
	apiCalls    int64
	fallbacks   int64
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithClock sets the time source used for history range math.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the data orchestrator. store may be nil, in which
// case history is served entirely from the live chain.
func NewService(
	cfg *common.Config,
	chain *fallback.Chain,
	mockClient *mock.Client,
	store interfaces.PriceStore,
	dataCache *cache.Cache,
	logger *common.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		chain:  chain,
		mock:   mockClient,
		store:  store,
		cache:  dataCache,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetQuote returns a live quote. Resolution order: fresh cache, fallback
// chain, stale cache, mock degrade (when enabled).
func (s *Service) GetQuote(ctx context.Context, symbol string, opts interfaces.QuoteOptions) (*models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &models.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	atomic.AddInt64(&s.requests, 1)

	if !s.cfg.Features.UseRealData {
		return s.mockQuote(ctx, symbol)
	}

	key := "quote_" + symbol
	if !opts.ForceRefresh {
		loaded := false
		v, err := s.cache.GetOrLoad(key, common.ClassStockPrices, func() (any, error) {
			loaded = true
			atomic.AddInt64(&s.cacheMisses, 1)
			atomic.AddInt64(&s.apiCalls, 1)
			return s.chain.GetQuote(ctx, symbol)
		})
		if err == nil {
			if !loaded {
				atomic.AddInt64(&s.cacheHits, 1)
			}
			return v.(*models.Quote), nil
		}
		return s.degradeQuote(ctx, key, symbol, err)
	}

	atomic.AddInt64(&s.apiCalls, 1)
	quote, err := s.chain.GetQuote(ctx, symbol)
	if err != nil {
		return s.degradeQuote(ctx, key, symbol, err)
	}
	s.cache.Set(key, common.ClassStockPrices, quote)
	return quote, nil
}

// degradeQuote serves a stale cache entry or a mock quote after the whole
// chain has failed.
func (s *Service) degradeQuote(ctx context.Context, key, symbol string, chainErr error) (*models.Quote, error) {
	if ctx.Err() != nil {
		atomic.AddInt64(&s.errors, 1)
		return nil, ctx.Err()
	}

	if v, ok := s.cache.GetStale(key); ok {
		atomic.AddInt64(&s.fallbacks, 1)
		s.logger.Warn().Err(chainErr).Str("symbol", symbol).Msg("All sources failed, serving stale quote")
		// Copy before tagging so the cached entry stays untouched.
		stale := *(v.(*models.Quote))
		stale.Stale = true
		return &stale, nil
	}

	if s.cfg.Features.FallbackToMock {
		atomic.AddInt64(&s.fallbacks, 1)
		s.logger.Warn().Err(chainErr).Str("symbol", symbol).Msg("All sources failed, serving mock quote")
		return s.mockQuote(ctx, symbol)
	}

	atomic.AddInt64(&s.errors, 1)
	return nil, chainErr
}

func (s *Service) mockQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	quote, err := s.mock.GetQuote(ctx, symbol)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return nil, err
	}
	return quote, nil
}

// GetQuotes resolves a batch. Fresh cache entries are served directly;
// the remaining symbols go upstream in a single chain call. A failing
// symbol lands in the Errors list, never failing the batch.
func (s *Service) GetQuotes(ctx context.Context, symbols []string) (*models.BatchQuoteResult, error) {
	result := &models.BatchQuoteResult{
		Success:   make([]*models.Quote, 0, len(symbols)),
		Errors:    []models.QuoteError{},
		Timestamp: s.now(),
	}

	pending := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			result.Errors = append(result.Errors, models.QuoteError{
				Symbol: symbol,
				Error:  "symbol must not be empty",
			})
			continue
		}
		atomic.AddInt64(&s.requests, 1)

		if !s.cfg.Features.UseRealData {
			pending = append(pending, symbol)
			continue
		}
		if v, ok := s.cache.Get("quote_" + symbol); ok {
			atomic.AddInt64(&s.cacheHits, 1)
			result.Success = append(result.Success, v.(*models.Quote))
			continue
		}
		atomic.AddInt64(&s.cacheMisses, 1)
		pending = append(pending, symbol)
	}
	if len(pending) == 0 {
		return result, nil
	}

	if !s.cfg.Features.UseRealData {
		quotes, err := s.mock.GetQuotes(ctx, pending)
		if err != nil {
			atomic.AddInt64(&s.errors, 1)
			return nil, err
		}
		result.Success = append(result.Success, quotes...)
		return result, nil
	}

	// One upstream round trip covers every uncached symbol.
	atomic.AddInt64(&s.apiCalls, 1)
	quotes, chainErr := s.chain.GetQuotes(ctx, pending)
	fetched := make(map[string]*models.Quote, len(quotes))
	for _, quote := range quotes {
		symbol := strings.ToUpper(quote.Symbol)
		fetched[symbol] = quote
		s.cache.Set("quote_"+symbol, common.ClassStockPrices, quote)
	}

	for _, symbol := range pending {
		if quote, ok := fetched[symbol]; ok {
			result.Success = append(result.Success, quote)
			continue
		}
		missErr := chainErr
		if missErr == nil {
			missErr = fmt.Errorf("symbol %s missing from batch response", symbol)
		}
		quote, err := s.degradeQuote(ctx, "quote_"+symbol, symbol, missErr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Errors = append(result.Errors, models.QuoteError{Symbol: symbol, Error: err.Error()})
			continue
		}
		result.Success = append(result.Success, quote)
	}

	return result, nil
}

// GetHistory returns daily bars for the period. Closed months come from
// the price store when resident; the open month always comes from the
// live chain. The merged series is windowed, deduped, and sorted.
func (s *Service) GetHistory(ctx context.Context, symbol, period, interval string) ([]models.HistoricalBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &models.ValidationError{Field: "symbol", Message: "must not be empty"}
	}
	if period == "" {
		period = "1M"
	}
	if interval == "" {
		interval = "1d"
	}
	atomic.AddInt64(&s.requests, 1)

	if !s.cfg.Features.UseRealData {
		return s.mock.GetHistory(ctx, symbol, interfaces.HistoryOptions{Period: period, Interval: interval})
	}

	key := fmt.Sprintf("history_%s_%s_%s", symbol, strings.ToUpper(period), interval)
	loaded := false
	v, err := s.cache.GetOrLoad(key, common.ClassHistoricalData, func() (any, error) {
		loaded = true
		atomic.AddInt64(&s.cacheMisses, 1)
		return s.loadHistory(ctx, symbol, period, interval)
	})
	if err == nil && !loaded {
		atomic.AddInt64(&s.cacheHits, 1)
	}
	if err != nil {
		if ctx.Err() != nil {
			atomic.AddInt64(&s.errors, 1)
			return nil, ctx.Err()
		}
		if stale, ok := s.cache.GetStale(key); ok {
			atomic.AddInt64(&s.fallbacks, 1)
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("History sources failed, serving stale series")
			return stale.([]models.HistoricalBar), nil
		}
		if s.cfg.Features.FallbackToMock {
			atomic.AddInt64(&s.fallbacks, 1)
			return s.mock.GetHistory(ctx, symbol, interfaces.HistoryOptions{Period: period, Interval: interval})
		}
		atomic.AddInt64(&s.errors, 1)
		return nil, err
	}
	return v.([]models.HistoricalBar), nil
}

// loadHistory assembles the merged series for one request.
func (s *Service) loadHistory(ctx context.Context, symbol, period, interval string) ([]models.HistoricalBar, error) {
	now := s.now().UTC()
	from := periodStart(now, period)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var stored []models.HistoricalBar
	if s.store != nil && from.Before(monthStart) {
		closedEnd := monthStart.AddDate(0, 0, -1)
		bars, err := s.store.GetBars(ctx, symbol, from.Format("2006-01-02"), closedEnd.Format("2006-01-02"))
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price store read failed, using live data only")
		} else {
			stored = bars
		}
	}

	liveFrom := monthStart
	if len(stored) == 0 {
		// Nothing resident, fetch the whole window live.
		liveFrom = from
	}

	atomic.AddInt64(&s.apiCalls, 1)
	live, err := s.chain.GetHistory(ctx, symbol, interfaces.HistoryOptions{
		Period:   period,
		Interval: interval,
		From:     liveFrom,
		To:       now,
	})
	if err != nil {
		if len(stored) == 0 {
			return nil, err
		}
		// Closed months alone are better than nothing.
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Live history failed, serving stored months only")
		live = nil
	}

	return mergeBars(stored, live, from, now), nil
}

// mergeBars combines stored and live series, windows them to [from, to],
// dedupes by date with live data winning, and sorts ascending.
func mergeBars(stored, live []models.HistoricalBar, from, to time.Time) []models.HistoricalBar {
	fromDate := from.Format("2006-01-02")
	toDate := to.Format("2006-01-02")

	byDate := make(map[string]models.HistoricalBar, len(stored)+len(live))
	for _, b := range stored {
		byDate[b.Date] = b
	}
	for _, b := range live {
		byDate[b.Date] = b
	}

	merged := make([]models.HistoricalBar, 0, len(byDate))
	for date, b := range byDate {
		if date < fromDate || date > toDate {
			continue
		}
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}

// periodStart resolves a named period code relative to end.
func periodStart(end time.Time, period string) time.Time {
	switch strings.ToUpper(period) {
	case "1D":
		return end.AddDate(0, 0, -1)
	case "5D":
		return end.AddDate(0, 0, -5)
	case "1M":
		return end.AddDate(0, -1, 0)
	case "3M":
		return end.AddDate(0, -3, 0)
	case "6M":
		return end.AddDate(0, -6, 0)
	case "1Y":
		return end.AddDate(-1, 0, 0)
	case "2Y":
		return end.AddDate(-2, 0, 0)
	case "5Y":
		return end.AddDate(-5, 0, 0)
	case "10Y":
		return end.AddDate(-10, 0, 0)
	case "MAX":
		return end.AddDate(-20, 0, 0)
	default:
		return end.AddDate(0, -1, 0)
	}
}

// Search finds symbols matching the query. Queries shorter than two
// characters return empty without touching the network.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return []models.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	atomic.AddInt64(&s.requests, 1)

	if !s.cfg.Features.UseRealData {
		return s.mock.Search(ctx, query, limit)
	}

	key := fmt.Sprintf("search_%s_%d", strings.ToLower(query), limit)
	loaded := false
	v, err := s.cache.GetOrLoad(key, common.ClassSearchResults, func() (any, error) {
		loaded = true
		atomic.AddInt64(&s.cacheMisses, 1)
		atomic.AddInt64(&s.apiCalls, 1)
		return s.chain.Search(ctx, query, limit)
	})
	if err == nil && !loaded {
		atomic.AddInt64(&s.cacheHits, 1)
	}
	if err != nil {
		if ctx.Err() != nil {
			atomic.AddInt64(&s.errors, 1)
			return nil, ctx.Err()
		}
		if s.cfg.Features.FallbackToMock {
			atomic.AddInt64(&s.fallbacks, 1)
			return s.mock.Search(ctx, query, limit)
		}
		atomic.AddInt64(&s.errors, 1)
		return nil, err
	}
	return v.([]models.SearchResult), nil
}

// GetMarketOverview fetches the main indices concurrently. One index
// failing degrades the overview to partial instead of failing it.
func (s *Service) GetMarketOverview(ctx context.Context) (*models.MarketOverview, error) {
	atomic.AddInt64(&s.requests, 1)

	if !s.cfg.Features.UseRealData {
		return s.mockOverview(ctx)
	}

	const key = "market_overview"
	loaded := false
	v, err := s.cache.GetOrLoad(key, common.ClassMarketOverview, func() (any, error) {
		loaded = true
		atomic.AddInt64(&s.cacheMisses, 1)
		return s.loadOverview(ctx)
	})
	if err == nil && !loaded {
		atomic.AddInt64(&s.cacheHits, 1)
	}
	if err != nil {
		if ctx.Err() != nil {
			atomic.AddInt64(&s.errors, 1)
			return nil, ctx.Err()
		}
		if s.cfg.Features.FallbackToMock {
			atomic.AddInt64(&s.fallbacks, 1)
			return s.mockOverview(ctx)
		}
		atomic.AddInt64(&s.errors, 1)
		return nil, err
	}
	return v.(*models.MarketOverview), nil
}

func (s *Service) loadOverview(ctx context.Context) (*models.MarketOverview, error) {
	snapshots := make([]*models.IndexSnapshot, len(overviewSymbols))
	var wg sync.WaitGroup

	for i, symbol := range overviewSymbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			atomic.AddInt64(&s.apiCalls, 1)
			quote, err := s.chain.GetQuote(ctx, symbol)
			if err != nil {
				s.logger.Warn().Err(err).Str("index", symbol).Msg("Index snapshot failed")
				return
			}
			snapshots[i] = &models.IndexSnapshot{
				Symbol:    quote.Symbol,
				Price:     quote.Price,
				Change:    quote.Change,
				ChangePct: quote.ChangePct,
				Volume:    quote.Volume,
				Timestamp: quote.Timestamp,
			}
		}(i, symbol)
	}
	wg.Wait()

	overview := &models.MarketOverview{
		Ibovespa:  snapshots[0],
		Ifix:      snapshots[1],
		SmallCap:  snapshots[2],
		Timestamp: s.now(),
		Source:    "aggregated",
	}

	failed := 0
	for _, snap := range snapshots {
		if snap == nil {
			failed++
		}
	}
	switch failed {
	case 0:
	case len(snapshots):
		return nil, &models.AllProvidersFailedError{Op: "market_overview"}
	default:
		overview.Source = "partial"
		overview.Warning = "some indices unavailable"
	}
	return overview, nil
}

func (s *Service) mockOverview(ctx context.Context) (*models.MarketOverview, error) {
	quotes, err := s.mock.GetQuotes(ctx, overviewSymbols)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		return nil, err
	}

	snapshot := func(q *models.Quote) *models.IndexSnapshot {
		return &models.IndexSnapshot{
			Symbol:    q.Symbol,
			Price:     q.Price,
			Change:    q.Change,
			ChangePct: q.ChangePct,
			Volume:    q.Volume,
			Timestamp: q.Timestamp,
		}
	}
	return &models.MarketOverview{
		Ibovespa:  snapshot(quotes[0]),
		Ifix:      snapshot(quotes[1]),
		SmallCap:  snapshot(quotes[2]),
		Timestamp: s.now(),
		Source:    "mock",
	}, nil
}

// InvalidateSymbol drops every cache entry mentioning the symbol.
func (s *Service) InvalidateSymbol(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return
	}
	removed := s.cache.Invalidate("_" + symbol)
	s.logger.Debug().Str("symbol", symbol).Int("removed", removed).Msg("Symbol cache invalidated")
}

// Metrics returns a snapshot of the orchestrator counters.
func (s *Service) Metrics() models.ServiceMetrics {
	return models.ServiceMetrics{
		Requests:    atomic.LoadInt64(&s.requests),
		Errors:      atomic.LoadInt64(&s.errors),
		CacheHits:   atomic.LoadInt64(&s.cacheHits),
		CacheMisses: atomic.LoadInt64(&s.cacheMisses),
		APICalls:    atomic.LoadInt64(&s.apiCalls),
		Fallbacks:   atomic.LoadInt64(&s.fallbacks),
	}
}

// Ensure Service implements MarketDataService
var _ interfaces.MarketDataService = (*Service)(nil)
