package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumtrades/marketd/internal/cache"
	"github.com/quantumtrades/marketd/internal/clients/mock"
	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/fallback"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

// --- Test doubles ---

// fakeAdapter serves canned data and counts calls.
type fakeAdapter struct {
	name     string
	failing  bool
	quotes   map[string]*models.Quote
	bars     []models.HistoricalBar
	searches []models.SearchResult

	quoteCalls   int
	historyCalls int
	searchCalls  int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	f.quoteCalls++
	if f.failing {
		return nil, errors.New("upstream down")
	}
	if q, ok := f.quotes[symbol]; ok {
		return q, nil
	}
	return &models.Quote{Symbol: symbol, Price: 10, Source: f.name}, nil
}

func (f *fakeAdapter) GetQuotes(ctx context.Context, symbols []string) ([]*models.Quote, error) {
	f.quoteCalls++
	if f.failing {
		return nil, errors.New("upstream down")
	}
	out := make([]*models.Quote, 0, len(symbols))
	for _, sym := range symbols {
		// With a canned map, unknown symbols are silently absent from the
		// batch response, as brapi omits them.
		if f.quotes != nil {
			if q, ok := f.quotes[sym]; ok {
				out = append(out, q)
			}
			continue
		}
		out = append(out, &models.Quote{Symbol: sym, Price: 10, Source: f.name})
	}
	return out, nil
}

func (f *fakeAdapter) GetHistory(ctx context.Context, symbol string, opts interfaces.HistoryOptions) ([]models.HistoricalBar, error) {
	f.historyCalls++
	if f.failing {
		return nil, errors.New("upstream down")
	}
	return f.bars, nil
}

func (f *fakeAdapter) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	f.searchCalls++
	if f.failing {
		return nil, errors.New("upstream down")
	}
	return f.searches, nil
}

var _ interfaces.SourceAdapter = (*fakeAdapter)(nil)

// fakeStore serves canned bars for GetBars and fails everything else it
// does not need.
type fakeStore struct {
	bars     []models.HistoricalBar
	getCalls int
	lastFrom string
	lastTo   string
}

func (f *fakeStore) SaveBars(ctx context.Context, symbol string, bars []models.HistoricalBar) (int, error) {
	return 0, nil
}

func (f *fakeStore) GetBars(ctx context.Context, symbol, start, end string) ([]models.HistoricalBar, error) {
	f.getCalls++
	f.lastFrom, f.lastTo = start, end
	out := make([]models.HistoricalBar, 0, len(f.bars))
	for _, b := range f.bars {
		if start != "" && b.Date < start {
			continue
		}
		if end != "" && b.Date > end {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeStore) HasBars(ctx context.Context, symbol string) (bool, error) {
	return len(f.bars) > 0, nil
}

func (f *fakeStore) SaveDividends(ctx context.Context, symbol string, dividends []models.Dividend) (int, error) {
	return 0, nil
}

func (f *fakeStore) GetDividends(ctx context.Context, symbol string) ([]models.Dividend, error) {
	return nil, nil
}

func (f *fakeStore) SaveFundamentals(ctx context.Context, fund *models.Fundamentals) error {
	return nil
}

func (f *fakeStore) GetFundamentals(ctx context.Context, symbol string) ([]models.Fundamentals, error) {
	return nil, nil
}

func (f *fakeStore) GetSyncMetadata(ctx context.Context, symbol string) (*models.SyncMetadata, error) {
	return nil, nil
}

func (f *fakeStore) UpdateSyncMetadata(ctx context.Context, symbol string, dataRange models.DateRange, recordCount int) error {
	return nil
}

func (f *fakeStore) ListSyncedSymbols(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeStore) PurgeOlderThan(ctx context.Context, years int) (int, error) { return 0, nil }

func (f *fakeStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	return &models.StoreStats{}, nil
}

func (f *fakeStore) Close() error { return nil }

var _ interfaces.PriceStore = (*fakeStore)(nil)

// --- Helpers ---

func dayBars(symbol, start, end string, close float64) []models.HistoricalBar {
	from, _ := time.Parse("2006-01-02", start)
	to, _ := time.Parse("2006-01-02", end)
	var bars []models.HistoricalBar
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		bars = append(bars, models.HistoricalBar{
			Symbol: symbol,
			Date:   d.Format("2006-01-02"),
			Close:  close,
		})
	}
	return bars
}

type serviceEnv struct {
	service *Service
	adapter *fakeAdapter
	store   *fakeStore
	cache   *cache.Cache
	cfg     *common.Config
}

func newTestService(t *testing.T, now time.Time, adapter *fakeAdapter, store *fakeStore) *serviceEnv {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Features.UseRealData = true
	cfg.Features.FallbackToMock = true

	dataCache := cache.New(common.DefaultTTLs(), cache.WithLogger(common.NewSilentLogger()))
	t.Cleanup(dataCache.Close)

	chain := fallback.NewChain(&cfg.Fallback, []interfaces.SourceAdapter{adapter},
		fallback.WithLogger(common.NewSilentLogger()))

	var priceStore interfaces.PriceStore
	if store != nil {
		priceStore = store
	}

	svc := NewService(cfg, chain, mock.NewClient(), priceStore, dataCache,
		common.NewSilentLogger(), WithClock(func() time.Time { return now }))

	return &serviceEnv{service: svc, adapter: adapter, store: store, cache: dataCache, cfg: cfg}
}

// --- Quote tests ---

func TestGetQuoteFromChainThenCache(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", quotes: map[string]*models.Quote{
		"PETR4": {Symbol: "PETR4", Price: 32.5, Source: "brapi"},
	}}
	env := newTestService(t, time.Now(), adapter, nil)

	quote, err := env.service.GetQuote(context.Background(), "petr4", interfaces.QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 32.5, quote.Price)
	assert.Equal(t, 1, adapter.quoteCalls)

	// Second call is served from cache.
	_, err = env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.quoteCalls)

	metrics := env.service.Metrics()
	assert.Equal(t, int64(1), metrics.CacheHits)
	assert.Equal(t, int64(1), metrics.CacheMisses)
}

func TestGetQuoteForceRefreshBypassesCache(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi"}
	env := newTestService(t, time.Now(), adapter, nil)

	env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{ForceRefresh: true})
	assert.Equal(t, 2, adapter.quoteCalls)
}

func TestGetQuoteServesStaleOnChainFailure(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", quotes: map[string]*models.Quote{
		"PETR4": {Symbol: "PETR4", Price: 32.5, Source: "brapi"},
	}}
	env := newTestService(t, time.Now(), adapter, nil)

	fresh, err := env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	require.NoError(t, err)
	assert.False(t, fresh.Stale)

	adapter.failing = true
	quote, err := env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 32.5, quote.Price)
	assert.True(t, quote.Stale)
	assert.Equal(t, int64(1), env.service.Metrics().Fallbacks)

	// The cached entry itself keeps its original tags.
	adapter.failing = false
	again, err := env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	require.NoError(t, err)
	assert.False(t, again.Stale)
}

func TestGetQuoteMockDegradeWhenNothingCached(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", failing: true}
	env := newTestService(t, time.Now(), adapter, nil)

	quote, err := env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "mock", quote.Source)
}

func TestGetQuoteErrorWhenMockDisabled(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", failing: true}
	env := newTestService(t, time.Now(), adapter, nil)
	env.cfg.Features.FallbackToMock = false

	_, err := env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	require.Error(t, err)

	var failed *models.AllProvidersFailedError
	assert.ErrorAs(t, err, &failed)
}

func TestGetQuoteMockOnlyMode(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi"}
	env := newTestService(t, time.Now(), adapter, nil)
	env.cfg.Features.UseRealData = false

	quote, err := env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "mock", quote.Source)
	assert.Equal(t, 0, adapter.quoteCalls)
}

func TestGetQuoteValidation(t *testing.T) {
	env := newTestService(t, time.Now(), &fakeAdapter{name: "brapi"}, nil)

	_, err := env.service.GetQuote(context.Background(), "  ", interfaces.QuoteOptions{})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

// --- Batch tests ---

func TestGetQuotesPartialSuccess(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", quotes: map[string]*models.Quote{
		"PETR4": {Symbol: "PETR4", Price: 32.5, Source: "brapi"},
		"VALE3": {Symbol: "VALE3", Price: 65.8, Source: "brapi"},
	}}
	env := newTestService(t, time.Now(), adapter, nil)
	env.cfg.Features.FallbackToMock = false

	// Prime both, then fail the chain and force refresh one of them.
	result, err := env.service.GetQuotes(context.Background(), []string{"PETR4", "VALE3"})
	require.NoError(t, err)
	assert.Len(t, result.Success, 2)
	assert.Empty(t, result.Errors)

	adapter.failing = true
	env.cache.Invalidate("")
	result, err = env.service.GetQuotes(context.Background(), []string{"PETR4", "VALE3"})
	require.NoError(t, err)
	assert.Empty(t, result.Success)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, "PETR4", result.Errors[0].Symbol)
}

func TestGetQuotesBatchesUncachedSymbolsInOneCall(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", quotes: map[string]*models.Quote{
		"PETR4": {Symbol: "PETR4", Price: 32.5, Source: "brapi"},
		"VALE3": {Symbol: "VALE3", Price: 65.8, Source: "brapi"},
	}}
	env := newTestService(t, time.Now(), adapter, nil)

	result, err := env.service.GetQuotes(context.Background(), []string{"PETR4", "VALE3"})
	require.NoError(t, err)
	assert.Len(t, result.Success, 2)
	assert.Equal(t, 1, adapter.quoteCalls)

	// Cached symbols stay out of the next upstream call.
	result, err = env.service.GetQuotes(context.Background(), []string{"PETR4", "VALE3"})
	require.NoError(t, err)
	assert.Len(t, result.Success, 2)
	assert.Equal(t, 1, adapter.quoteCalls)
}

func TestGetQuotesMissingSymbolDegradesToMock(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", quotes: map[string]*models.Quote{
		"PETR4": {Symbol: "PETR4", Price: 32.5, Source: "brapi"},
	}}
	env := newTestService(t, time.Now(), adapter, nil)

	result, err := env.service.GetQuotes(context.Background(), []string{"PETR4", "NOPE3"})
	require.NoError(t, err)
	require.Len(t, result.Success, 2)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "brapi", result.Success[0].Source)
	assert.Equal(t, "mock", result.Success[1].Source)
}

func TestGetQuotesMissingSymbolErrorsWhenMockDisabled(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", quotes: map[string]*models.Quote{
		"PETR4": {Symbol: "PETR4", Price: 32.5, Source: "brapi"},
	}}
	env := newTestService(t, time.Now(), adapter, nil)
	env.cfg.Features.FallbackToMock = false

	result, err := env.service.GetQuotes(context.Background(), []string{"PETR4", "NOPE3"})
	require.NoError(t, err)
	assert.Len(t, result.Success, 1)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "NOPE3", result.Errors[0].Symbol)
}

// --- History merge tests ---

func TestGetHistoryMergesStoredAndLive(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{
		name: "brapi",
		bars: dayBars("PETR4", "2024-02-01", "2024-02-15", 33),
	}
	store := &fakeStore{bars: dayBars("PETR4", "2024-01-01", "2024-01-31", 31)}
	env := newTestService(t, now, adapter, store)

	// Period 1M from 2024-02-10 starts at 2024-01-10.
	bars, err := env.service.GetHistory(context.Background(), "PETR4", "1M", "1d")
	require.NoError(t, err)
	require.NotEmpty(t, bars)

	// Windowed to [2024-01-10, 2024-02-10].
	assert.Equal(t, "2024-01-10", bars[0].Date)
	assert.Equal(t, "2024-02-10", bars[len(bars)-1].Date)

	// Ascending and deduped.
	seen := map[string]bool{}
	for i, b := range bars {
		if i > 0 {
			assert.Greater(t, b.Date, bars[i-1].Date)
		}
		assert.False(t, seen[b.Date], "duplicate date %s", b.Date)
		seen[b.Date] = true
	}

	// January came from the store, February from the live chain.
	for _, b := range bars {
		if b.Date < "2024-02-01" {
			assert.Equal(t, float64(31), b.Close, "stored bar %s", b.Date)
		} else {
			assert.Equal(t, float64(33), b.Close, "live bar %s", b.Date)
		}
	}

	// The store was asked only for closed months.
	assert.Equal(t, "2024-01-10", store.lastFrom)
	assert.Equal(t, "2024-01-31", store.lastTo)
}

func TestGetHistoryFullLiveWhenStoreEmpty(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{
		name: "brapi",
		bars: dayBars("PETR4", "2024-01-10", "2024-02-10", 33),
	}
	store := &fakeStore{}
	env := newTestService(t, now, adapter, store)

	bars, err := env.service.GetHistory(context.Background(), "PETR4", "1M", "1d")
	require.NoError(t, err)
	require.NotEmpty(t, bars)
	assert.Equal(t, "2024-01-10", bars[0].Date)
	assert.Equal(t, 1, adapter.historyCalls)
}

func TestGetHistoryStoredOnlyWhenLiveFails(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{name: "brapi", failing: true}
	store := &fakeStore{bars: dayBars("PETR4", "2024-01-01", "2024-01-31", 31)}
	env := newTestService(t, now, adapter, store)

	bars, err := env.service.GetHistory(context.Background(), "PETR4", "1M", "1d")
	require.NoError(t, err)
	require.NotEmpty(t, bars)
	assert.Equal(t, "2024-01-31", bars[len(bars)-1].Date)
}

func TestGetHistoryCached(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{name: "brapi", bars: dayBars("PETR4", "2024-02-01", "2024-02-10", 33)}
	env := newTestService(t, now, adapter, nil)

	env.service.GetHistory(context.Background(), "PETR4", "1M", "1d")
	env.service.GetHistory(context.Background(), "PETR4", "1M", "1d")
	assert.Equal(t, 1, adapter.historyCalls)
}

// --- Search tests ---

func TestSearchShortQuerySkipsNetwork(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi"}
	env := newTestService(t, time.Now(), adapter, nil)

	results, err := env.service.Search(context.Background(), "p", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, adapter.searchCalls)
}

func TestSearchCachesByQuery(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", searches: []models.SearchResult{{Symbol: "PETR4"}}}
	env := newTestService(t, time.Now(), adapter, nil)

	env.service.Search(context.Background(), "petr", 10)
	env.service.Search(context.Background(), "PETR", 10)
	assert.Equal(t, 1, adapter.searchCalls)
}

// --- Overview tests ---

func TestGetMarketOverviewAggregated(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", quotes: map[string]*models.Quote{
		"IBOV": {Symbol: "IBOV", Price: 120500},
		"IFIX": {Symbol: "IFIX", Price: 2850},
		"SMLL": {Symbol: "SMLL", Price: 3200},
	}}
	env := newTestService(t, time.Now(), adapter, nil)

	overview, err := env.service.GetMarketOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "aggregated", overview.Source)
	require.NotNil(t, overview.Ibovespa)
	assert.Equal(t, float64(120500), overview.Ibovespa.Price)
	require.NotNil(t, overview.Ifix)
	require.NotNil(t, overview.SmallCap)
}

func TestGetMarketOverviewMockDegrade(t *testing.T) {
	adapter := &fakeAdapter{name: "brapi", failing: true}
	env := newTestService(t, time.Now(), adapter, nil)

	overview, err := env.service.GetMarketOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock", overview.Source)
	require.NotNil(t, overview.Ibovespa)
}

// --- Invalidation tests ---

func TestInvalidateSymbolDropsQuoteAndHistory(t *testing.T) {
	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{name: "brapi", bars: dayBars("PETR4", "2024-02-01", "2024-02-10", 33)}
	env := newTestService(t, now, adapter, nil)

	env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	env.service.GetHistory(context.Background(), "PETR4", "1M", "1d")

	env.service.InvalidateSymbol("PETR4")

	env.service.GetQuote(context.Background(), "PETR4", interfaces.QuoteOptions{})
	env.service.GetHistory(context.Background(), "PETR4", "1M", "1d")
	assert.Equal(t, 2, adapter.quoteCalls)
	assert.Equal(t, 2, adapter.historyCalls)
}
