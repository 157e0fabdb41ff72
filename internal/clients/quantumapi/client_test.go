package quantumapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("", WithBaseURL(srv.URL), WithRateLimit(1000))
}

func TestGetQuote_DerivesChangeFromPreviousClose(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/VALE3/latest", r.URL.Path)
		w.Write([]byte(`{
			"symbol": "VALE3",
			"name": "Vale S.A.",
			"date": "2024-03-15",
			"open": 60.10,
			"high": 61.80,
			"low": 59.95,
			"close": 61.50,
			"previous_close": 60.00,
			"volume": 31250000
		}`))
	})

	quote, err := client.GetQuote(context.Background(), "VALE3")
	require.NoError(t, err)

	assert.Equal(t, 61.50, quote.Price)
	assert.InDelta(t, 1.50, quote.Change, 0.0001)
	assert.InDelta(t, 2.5, quote.ChangePct, 0.0001)
	assert.Equal(t, "quantumapi", quote.Source)
	assert.Equal(t, "BRL", quote.Currency)
}

func TestGetHistory_RangeEndpoint(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/PETR4/range", r.URL.Path)
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-01-31", r.URL.Query().Get("end"))
		w.Write([]byte(`{
			"symbol": "PETR4",
			"prices": [
				{"date": "2024-01-02", "open": 37.0, "high": 37.5, "low": 36.8, "close": 37.2, "volume": 100},
				{"date": "not-a-date", "open": 0, "high": 0, "low": 0, "close": 0, "volume": 0},
				{"date": "2024-01-03", "open": 37.2, "high": 37.9, "low": 37.1, "close": 37.8, "volume": 120}
			]
		}`))
	})

	from, _ := models.ParseBarDate("2024-01-01")
	to, _ := models.ParseBarDate("2024-01-31")
	bars, err := client.GetHistory(context.Background(), "PETR4", interfaces.HistoryOptions{From: from, To: to})
	require.NoError(t, err)

	// Malformed row dropped, valid rows kept
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-02", bars[0].Date)
	assert.Equal(t, 37.2, bars[0].Close)
	assert.Equal(t, 37.2, bars[0].AdjustedClose)
}

func TestGetHistory_PeriodEndpoint(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/PETR4/period", r.URL.Path)
		assert.Equal(t, "6M", r.URL.Query().Get("period"))
		w.Write([]byte(`{"symbol": "PETR4", "prices": []}`))
	})

	_, err := client.GetHistory(context.Background(), "PETR4", interfaces.HistoryOptions{Period: "6M"})
	require.NoError(t, err)
}

func TestSearch_NotSupported(t *testing.T) {
	client := NewClient("")

	_, err := client.Search(context.Background(), "petr", 10)

	var notSupported *models.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
	assert.Equal(t, "quantumapi", notSupported.Provider)
}

func TestHealth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status": "ok"}`))
	})

	ok, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetQuote_ServerErrorBecomesProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.GetQuote(context.Background(), "PETR4")

	var provErr *models.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusInternalServerError, provErr.Status)
	assert.Equal(t, "quantumapi", provErr.Provider)
}

func TestStats_UnwrapsPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats", r.URL.Path)
		w.Write([]byte(`{"stats": {"symbols": 3, "records": 1020}}`))
	})

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(3), stats["symbols"])
	assert.Equal(t, float64(1020), stats["records"])
}
