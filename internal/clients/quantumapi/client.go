// Package quantumapi provides a client for the local quantum-trades
// backend API, which serves historical B3 data from its own database.
package quantumapi

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
	DefaultBaseURL   = "http://localhost:5000/api"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 20

	adapterName = "quantumapi"
)

// Client implements interfaces.SourceAdapter against the local backend.
// The backend has no search endpoint, so Search reports NotSupportedError
// and the fallback chain moves on.
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

// NewClient creates a new local backend client.
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

// Health reports whether the backend is reachable and responding.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &resp); err != nil {
		return false, err
	}
	return resp.Status == "ok", nil
}

type latestResponse struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Prev   float64 `json:"previous_close"`
	Volume int64   `json:"volume"`
}

// GetQuote builds a quote from the backend's latest stored price.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var resp latestResponse
	path := fmt.Sprintf("/stock/%s/latest", url.PathEscape(symbol))
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	ts, err := time.Parse("2006-01-02", resp.Date)
	if err != nil {
		ts = time.Now()
	}

	change := resp.Close - resp.Prev
	changePct := 0.0
	if resp.Prev > 0 {
		changePct = (change / resp.Prev) * 100
	}

	return &models.Quote{
		Symbol:        symbol,
		Name:          resp.Name,
		Price:         resp.Close,
		PreviousClose: resp.Prev,
		Change:        change,
		ChangePct:     changePct,
		Volume:        resp.Volume,
		High:          resp.High,
		Low:           resp.Low,
		Currency:      "BRL",
		Exchange:      "B3",
		Timestamp:     ts,
		Source:        adapterName,
	}, nil
}

// GetQuotes issues one latest-price request per symbol. The backend has no
// batch endpoint; a failing symbol fails the whole call so the chain can
// try the next adapter uniformly.
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

type rangeResponse struct {
	Symbol string `json:"symbol"`
	Prices []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	} `json:"prices"`
}

// GetHistory queries the backend's range or predefined-period endpoint.
func (c *Client) GetHistory(ctx context.Context, symbol string, opts interfaces.HistoryOptions) ([]models.HistoricalBar, error) {
	var (
		path   = fmt.Sprintf("/stock/%s/period", url.PathEscape(symbol))
		params = url.Values{}
	)

	if !opts.From.IsZero() && !opts.To.IsZero() {
		path = fmt.Sprintf("/stock/%s/range", url.PathEscape(symbol))
		params.Set("start", opts.From.Format("2006-01-02"))
		params.Set("end", opts.To.Format("2006-01-02"))
	} else {
		period := opts.Period
		if period == "" {
			period = "1M"
		}
		params.Set("period", period)
	}

	var resp rangeResponse
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.HistoricalBar, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		ts, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			continue // skip malformed rows rather than failing the series
		}
		bars = append(bars, models.HistoricalBar{
			Symbol:        symbol,
			Date:          p.Date,
			Open:          p.Open,
			High:          p.High,
			Low:           p.Low,
			Close:         p.Close,
			AdjustedClose: p.Close,
			Volume:        p.Volume,
			Timestamp:     ts,
		})
	}

	return bars, nil
}

// Search is not supported by the local backend.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	return nil, &models.NotSupportedError{Provider: adapterName, Op: "Search"}
}

// Stats returns the backend's database statistics as raw JSON.
func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	var resp struct {
		Stats map[string]interface{} `json:"stats"`
	}
	if err := c.get(ctx, "/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// Ensure Client implements SourceAdapter
var _ interfaces.SourceAdapter = (*Client)(nil)
