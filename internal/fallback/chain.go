// Package fallback runs market data requests through a priority-ordered
// list of source adapters, tracking per-adapter circuit state so a
// repeatedly failing source is skipped until its recovery window elapses.
package fallback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

// breaker holds failure state for a single adapter. A circuit is open
// when the failure count has reached the threshold and the last failure
// is still inside the recovery window. There is no half-open state, the
// window expiring re-admits the adapter and one success resets it fully.
type breaker struct {
	failures    int
	lastFailure time.Time
}

// Chain tries adapters in registration order, skipping open circuits.
type Chain struct {
	adapters  []interfaces.SourceAdapter
	threshold int
	window    time.Duration
	logger    *common.Logger
	now       func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// ChainOption configures the chain.
type ChainOption func(*Chain)

// WithLogger sets the chain logger.
func WithLogger(logger *common.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithClock sets the time source used for circuit timing.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) {
		c.now = now
	}
}

// NewChain creates a fallback chain over the given adapters. Order is
// priority order, the first adapter is always tried first when closed.
func NewChain(cfg *common.FallbackConfig, adapters []interfaces.SourceAdapter, opts ...ChainOption) *Chain {
	c := &Chain{
		adapters:  adapters,
		threshold: cfg.FailureThreshold,
		window:    cfg.GetRecoveryWindow(),
		logger:    common.NewDefaultLogger(),
		now:       time.Now,
		breakers:  make(map[string]*breaker),
	}
	if c.threshold <= 0 {
		c.threshold = 5
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// isOpen reports whether the adapter's circuit is currently open.
func (c *Chain) isOpen(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[name]
	if !ok {
		return false
	}
	return b.failures >= c.threshold && c.now().Sub(b.lastFailure) < c.window
}

// recordFailure increments the adapter's failure count.
func (c *Chain) recordFailure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[name]
	if !ok {
		b = &breaker{}
		c.breakers[name] = b
	}
	b.failures++
	b.lastFailure = c.now()
}

// recordSuccess resets the adapter's circuit entirely.
func (c *Chain) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[name]; ok {
		b.failures = 0
	}
}

// CircuitState describes one adapter's breaker for diagnostics.
type CircuitState struct {
	Adapter  string `json:"adapter"`
	Failures int    `json:"failures"`
	Open     bool   `json:"open"`
}

// Circuits returns the breaker state of every registered adapter.
func (c *Chain) Circuits() []CircuitState {
	states := make([]CircuitState, 0, len(c.adapters))
	for _, adapter := range c.adapters {
		name := adapter.Name()
		open := c.isOpen(name)
		c.mu.Lock()
		failures := 0
		if b, ok := c.breakers[name]; ok {
			failures = b.failures
		}
		c.mu.Unlock()
		states = append(states, CircuitState{Adapter: name, Failures: failures, Open: open})
	}
	return states
}

// execute runs fn against each adapter in order until one succeeds.
func execute[T any](c *Chain, ctx context.Context, op string, fn func(interfaces.SourceAdapter) (T, error)) (T, error) {
	var zero T
	failed := &models.AllProvidersFailedError{Op: op}

	for _, adapter := range c.adapters {
		name := adapter.Name()
		if c.isOpen(name) {
			c.logger.Debug().Str("adapter", name).Str("op", op).Msg("Circuit open, skipping adapter")
			failed.Errors = append(failed.Errors, &models.ProviderError{
				Provider: name,
				Op:       op,
				Message:  "circuit open",
			})
			continue
		}

		result, err := fn(adapter)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			c.recordFailure(name)
			c.logger.Warn().Err(err).Str("adapter", name).Str("op", op).Msg("Adapter failed, trying next")
			var perr *models.ProviderError
			if errors.As(err, &perr) {
				failed.Errors = append(failed.Errors, perr)
			} else {
				failed.Errors = append(failed.Errors, &models.ProviderError{
					Provider: name,
					Op:       op,
					Message:  err.Error(),
					Err:      err,
				})
			}
			continue
		}

		c.recordSuccess(name)
		return result, nil
	}

	return zero, failed
}

// GetQuote fetches a quote from the first healthy adapter.
func (c *Chain) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return execute(c, ctx, "get_quote", func(a interfaces.SourceAdapter) (*models.Quote, error) {
		return a.GetQuote(ctx, symbol)
	})
}

// GetQuotes fetches a batch of quotes from the first healthy adapter.
func (c *Chain) GetQuotes(ctx context.Context, symbols []string) ([]*models.Quote, error) {
	return execute(c, ctx, "get_quotes", func(a interfaces.SourceAdapter) ([]*models.Quote, error) {
		return a.GetQuotes(ctx, symbols)
	})
}

// GetHistory fetches historical bars from the first healthy adapter.
func (c *Chain) GetHistory(ctx context.Context, symbol string, opts interfaces.HistoryOptions) ([]models.HistoricalBar, error) {
	return execute(c, ctx, "get_history", func(a interfaces.SourceAdapter) ([]models.HistoricalBar, error) {
		return a.GetHistory(ctx, symbol, opts)
	})
}

// Search runs a symbol search on the first healthy adapter that supports
// it. Adapters returning NotSupportedError do not trip their breaker.
func (c *Chain) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	failed := &models.AllProvidersFailedError{Op: "search"}

	for _, adapter := range c.adapters {
		name := adapter.Name()
		if c.isOpen(name) {
			failed.Errors = append(failed.Errors, &models.ProviderError{
				Provider: name,
				Op:       "search",
				Message:  "circuit open",
			})
			continue
		}

		results, err := adapter.Search(ctx, query, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var notSupported *models.NotSupportedError
			if errors.As(err, &notSupported) {
				// Unsupported is not a failure, do not penalize.
				failed.Errors = append(failed.Errors, &models.ProviderError{
					Provider: name,
					Op:       "search",
					Message:  "not supported",
				})
				continue
			}
			c.recordFailure(name)
			failed.Errors = append(failed.Errors, &models.ProviderError{
				Provider: name,
				Op:       "search",
				Message:  err.Error(),
				Err:      err,
			})
			continue
		}

		c.recordSuccess(name)
		return results, nil
	}

	return nil, failed
}
