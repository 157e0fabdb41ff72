// Package mock provides a synthetic data source used both standalone in
// development and as the final rung of the fallback chain. Data is a
// bounded random walk, deterministic for a given symbol and day.
package mock

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

const adapterName = "mock"

// basePrices anchors the walk for well-known B3 tickers so mock quotes
// look plausible next to real ones.
var basePrices = map[string]float64{
	"PETR4": 32.50,
	"VALE3": 65.80,
	"ITUB4": 28.90,
	"BBDC4": 22.15,
	"ABEV3": 12.45,
	"MGLU3": 8.75,
	"WEGE3": 45.20,
	"SUZB3": 52.30,
	"RENT3": 35.60,
	"LREN3": 18.90,
	"IBOV":  120500.00,
	"IFIX":  2850.00,
	"SMLL":  3200.00,
}

var stockNames = map[string]string{
	"PETR4": "Petróleo Brasileiro S.A. - Petrobras",
	"VALE3": "Vale S.A.",
	"ITUB4": "Itaú Unibanco Holding S.A.",
	"BBDC4": "Banco Bradesco S.A.",
	"ABEV3": "Ambev S.A.",
	"MGLU3": "Magazine Luiza S.A.",
	"WEGE3": "WEG S.A.",
	"SUZB3": "Suzano S.A.",
	"RENT3": "Localiza Rent a Car S.A.",
	"LREN3": "Lojas Renner S.A.",
	"IBOV":  "Ibovespa",
	"IFIX":  "IFIX",
	"SMLL":  "Small Cap",
}

// Client generates synthetic market data.
type Client struct {
	latency time.Duration
	now     func() time.Time // injectable clock for testing
}

// ClientOption configures the mock client.
type ClientOption func(*Client)

// WithLatency sets the simulated network latency per call.
func WithLatency(d time.Duration) ClientOption {
	return func(c *Client) {
		c.latency = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a mock data source.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies this adapter in circuit state and source tags.
func (c *Client) Name() string {
	return adapterName
}

// simulateLatency sleeps for the configured latency, honoring cancellation.
func (c *Client) simulateLatency(ctx context.Context) error {
	if c.latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.latency):
		return nil
	}
}

// seededRand returns a deterministic generator for a symbol and salt.
func seededRand(symbol string, salt int64) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	return rand.New(rand.NewSource(int64(h.Sum64()) ^ salt))
}

func basePrice(symbol string) float64 {
	if p, ok := basePrices[strings.ToUpper(symbol)]; ok {
		return p
	}
	// Unknown symbols get a stable pseudo-random base in the 10..90 range.
	rng := seededRand(symbol, 0)
	return 10 + rng.Float64()*80
}

// GetQuote generates a quote around the symbol's base price. The walk is
// seeded with the current day so the quote is stable within a day.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := c.simulateLatency(ctx); err != nil {
		return nil, err
	}

	now := c.now()
	rng := seededRand(symbol, int64(now.Year())*10000+int64(now.YearDay()))

	base := basePrice(symbol)
	previousClose := base * (1 + (rng.Float64()-0.5)*0.04)
	price := previousClose * (1 + (rng.Float64()-0.5)*0.10)
	change := price - previousClose
	changePct := 0.0
	if previousClose > 0 {
		changePct = (change / previousClose) * 100
	}

	high := price * (1 + rng.Float64()*0.03)
	low := price * (1 - rng.Float64()*0.03)
	if low > previousClose {
		low = previousClose
	}

	name := stockNames[strings.ToUpper(symbol)]
	if name == "" {
		name = "Ação " + strings.ToUpper(symbol)
	}

	return &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Name:          name,
		Price:         price,
		PreviousClose: previousClose,
		Change:        change,
		ChangePct:     changePct,
		Volume:        1_000_000 + rng.Int63n(9_000_000),
		High:          high,
		Low:           low,
		Currency:      "BRL",
		Exchange:      "B3",
		Timestamp:     now,
		Source:        adapterName,
	}, nil
}

// GetQuotes generates quotes for every symbol.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]*models.Quote, error) {
	quotes := make([]*models.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		quote, err := c.GetQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// GetHistory generates a bounded random walk of daily bars ending today.
// The same symbol and period always produce the same series.
func (c *Client) GetHistory(ctx context.Context, symbol string, opts interfaces.HistoryOptions) ([]models.HistoricalBar, error) {
	if err := c.simulateLatency(ctx); err != nil {
		return nil, err
	}

	from, to := opts.From, opts.To
	if from.IsZero() || to.IsZero() {
		to = c.now()
		from = startForPeriod(to, opts.Period)
	}

	rng := seededRand(symbol, from.Unix())
	price := basePrice(symbol)
	bars := make([]models.HistoricalBar, 0, int(to.Sub(from).Hours()/24)+1)

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		// Slight upward drift with bounded volatility, floor at 1.00.
		drift := (rng.Float64() - 0.48) * 0.02
		volatility := (rng.Float64() - 0.5) * 0.08
		open := price
		price = price * (1 + drift + volatility)
		if price < 1 {
			price = 1
		}

		high := price
		if open > high {
			high = open
		}
		high *= 1 + rng.Float64()*0.03
		low := price
		if open < low {
			low = open
		}
		low *= 1 - rng.Float64()*0.03

		date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		bars = append(bars, models.HistoricalBar{
			Symbol:        strings.ToUpper(symbol),
			Date:          date.Format("2006-01-02"),
			Open:          open,
			High:          high,
			Low:           low,
			Close:         price,
			AdjustedClose: price,
			Volume:        500_000 + rng.Int63n(4_500_000),
			Timestamp:     date,
		})
	}

	return bars, nil
}

// startForPeriod resolves a named period code relative to end.
func startForPeriod(end time.Time, period string) time.Time {
	switch strings.ToUpper(period) {
	case "1D":
		return end.AddDate(0, 0, -1)
	case "5D":
		return end.AddDate(0, 0, -5)
	case "1M", "":
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

// Search matches against the known ticker table.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if err := c.simulateLatency(ctx); err != nil {
		return nil, err
	}

	queryUpper := strings.ToUpper(query)
	results := make([]models.SearchResult, 0, limit)

	symbols := make([]string, 0, len(stockNames))
	for symbol := range stockNames {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		name := stockNames[symbol]
		if !strings.Contains(symbol, queryUpper) && !strings.Contains(strings.ToUpper(name), queryUpper) {
			continue
		}
		results = append(results, models.SearchResult{
			Symbol:   symbol,
			Name:     name,
			Exchange: "B3",
			Type:     "stock",
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Ensure Client implements SourceAdapter
var _ interfaces.SourceAdapter = (*Client)(nil)
