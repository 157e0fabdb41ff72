// Package brapi provides a client for the brapi.dev market data API
package brapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

const (
	DefaultBaseURL   = "https://brapi.dev/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second

	adapterName = "brapi"
)

// rangeMap translates canonical period codes into brapi range parameters.
var rangeMap = map[string]string{
	"1D":  "1d",
	"5D":  "5d",
	"1M":  "1mo",
	"3M":  "3mo",
	"6M":  "6mo",
	"1Y":  "1y",
	"2Y":  "2y",
	"5Y":  "5y",
	"10Y": "10y",
	"MAX": "max",
}

// Client implements interfaces.SourceAdapter against brapi.dev.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new brapi client. The token may be empty; brapi
// serves a limited free tier without one.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
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

// get performs a rate-limited GET request with bearer auth.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &models.ProviderError{Provider: adapterName, Op: path, Message: "rate limit wait: " + err.Error(), Err: err}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &models.ProviderError{Provider: adapterName, Op: path, Message: err.Error(), Err: err}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("brapi API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.ProviderError{Provider: adapterName, Op: path, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &models.ProviderError{
			Provider: adapterName,
			Op:       path,
			Status:   resp.StatusCode,
			Message:  strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &models.ProviderError{Provider: adapterName, Op: path, Message: "decode response: " + err.Error(), Err: err}
	}

	return nil
}

// quoteResponse mirrors the /quote payload.
type quoteResponse struct {
	Results []brapiStock `json:"results"`
}

type brapiStock struct {
	Symbol                     string       `json:"symbol"`
	ShortName                  string       `json:"shortName"`
	LongName                   string       `json:"longName"`
	Currency                   string       `json:"currency"`
	RegularMarketPrice         float64      `json:"regularMarketPrice"`
	RegularMarketPreviousClose float64      `json:"regularMarketPreviousClose"`
	RegularMarketChange        float64      `json:"regularMarketChange"`
	RegularMarketChangePct     float64      `json:"regularMarketChangePercent"`
	RegularMarketVolume        int64        `json:"regularMarketVolume"`
	RegularMarketDayHigh       float64      `json:"regularMarketDayHigh"`
	RegularMarketDayLow        float64      `json:"regularMarketDayLow"`
	RegularMarketTime          string       `json:"regularMarketTime"`
	HistoricalDataPrice        []brapiPrice `json:"historicalDataPrice"`
}

type brapiPrice struct {
	Date          int64   `json:"date"` // epoch seconds
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjustedClose"`
	Volume        int64   `json:"volume"`
}

// toQuote converts the provider schema into the canonical Quote.
func (s *brapiStock) toQuote() *models.Quote {
	name := s.ShortName
	if name == "" {
		name = s.LongName
	}
	currency := s.Currency
	if currency == "" {
		currency = "BRL"
	}
	ts, err := time.Parse(time.RFC3339, s.RegularMarketTime)
	if err != nil {
		ts = time.Now()
	}
	previousClose := s.RegularMarketPreviousClose
	if previousClose == 0 {
		previousClose = s.RegularMarketPrice
	}
	return &models.Quote{
		Symbol:        s.Symbol,
		Name:          name,
		Price:         s.RegularMarketPrice,
		PreviousClose: previousClose,
		Change:        s.RegularMarketChange,
		ChangePct:     s.RegularMarketChangePct,
		Volume:        s.RegularMarketVolume,
		High:          s.RegularMarketDayHigh,
		Low:           s.RegularMarketDayLow,
		Currency:      currency,
		Exchange:      "B3",
		Timestamp:     ts,
		Source:        adapterName,
	}
}

// GetQuote retrieves a live quote for a single symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "/quote/"+url.PathEscape(symbol), nil, &resp); err != nil {
		return nil, err
	}

	if len(resp.Results) == 0 {
		return nil, &models.ProviderError{
			Provider: adapterName,
			Op:       "GetQuote",
			Status:   http.StatusNotFound,
			Message:  fmt.Sprintf("symbol %s not found", symbol),
		}
	}

	return resp.Results[0].toQuote(), nil
}

// GetQuotes retrieves quotes for several symbols in one comma-joined call.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]*models.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	var resp quoteResponse
	path := "/quote/" + url.PathEscape(strings.Join(symbols, ","))
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	quotes := make([]*models.Quote, 0, len(resp.Results))
	for i := range resp.Results {
		quotes = append(quotes, resp.Results[i].toQuote())
	}
	return quotes, nil
}

// GetHistory retrieves daily bars. brapi embeds history in the quote
// payload under historicalDataPrice with epoch-second dates.
func (c *Client) GetHistory(ctx context.Context, symbol string, opts interfaces.HistoryOptions) ([]models.HistoricalBar, error) {
	brapiRange, ok := rangeMap[strings.ToUpper(opts.Period)]
	if !ok {
		brapiRange = opts.Period
	}
	if brapiRange == "" {
		brapiRange = "1mo"
	}
	interval := opts.Interval
	if interval == "" {
		interval = "1d"
	}

	params := url.Values{}
	params.Set("range", brapiRange)
	params.Set("interval", interval)

	var resp quoteResponse
	if err := c.get(ctx, "/quote/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}

	if len(resp.Results) == 0 {
		return nil, &models.ProviderError{
			Provider: adapterName,
			Op:       "GetHistory",
			Status:   http.StatusNotFound,
			Message:  fmt.Sprintf("history for %s not found", symbol),
		}
	}

	prices := resp.Results[0].HistoricalDataPrice
	bars := make([]models.HistoricalBar, 0, len(prices))
	for _, p := range prices {
		ts := time.Unix(p.Date, 0).UTC()
		adjusted := p.AdjustedClose
		if adjusted == 0 {
			adjusted = p.Close // brapi free tier omits adjusted close
		}
		bars = append(bars, models.HistoricalBar{
			Symbol:        symbol,
			Date:          ts.Format("2006-01-02"),
			Open:          p.Open,
			High:          p.High,
			Low:           p.Low,
			Close:         p.Close,
			AdjustedClose: adjusted,
			Volume:        p.Volume,
			Timestamp:     ts,
		})
	}

	return bars, nil
}

// listResponse mirrors the /quote/list payload.
type listResponse struct {
	Stocks []struct {
		Stock string `json:"stock"`
		Name  string `json:"name"`
		Type  string `json:"type"`
	} `json:"stocks"`
}

// Search filters the full listing by symbol or name substring.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	var resp listResponse
	params := url.Values{}
	params.Set("search", query)
	if err := c.get(ctx, "/quote/list", params, &resp); err != nil {
		return nil, err
	}

	queryUpper := strings.ToUpper(query)
	results := make([]models.SearchResult, 0, limit)
	for _, s := range resp.Stocks {
		if !strings.Contains(s.Stock, queryUpper) && !strings.Contains(strings.ToUpper(s.Name), queryUpper) {
			continue
		}
		kind := s.Type
		if kind == "" {
			kind = "stock"
		}
		results = append(results, models.SearchResult{
			Symbol:   s.Stock,
			Name:     s.Name,
			Exchange: "B3",
			Type:     kind,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Ensure Client implements SourceAdapter
var _ interfaces.SourceAdapter = (*Client)(nil)
