// Package pricedb persists historical market data in an embedded
// BadgerHold database. Bars are keyed by symbol and calendar date so
// re-imports are idempotent upserts, never duplicates.
package pricedb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

// upsertBatchSize bounds records per Badger transaction to stay clear of
// ErrTxnTooBig on large imports.
const upsertBatchSize = 1000

// PriceBar is the stored form of a historical bar.
type PriceBar struct {
	Symbol        string `badgerhold:"index"`
	Date          string `badgerhold:"index"` // "2006-01-02"
	Open          float64
	High          float64
	Low           float64
	Close         float64
	AdjustedClose float64
	Volume        int64
	UpdatedAt     time.Time
}

// DividendRecord is the stored form of a dividend event.
type DividendRecord struct {
	Symbol      string `badgerhold:"index"`
	PaymentDate string `badgerhold:"index"`
	ExDate      string
	Amount      float64
	Type        string
	UpdatedAt   time.Time
}

// FundamentalRecord is the stored form of per-period fundamentals.
type FundamentalRecord struct {
	Symbol        string `badgerhold:"index"`
	Period        string
	MarketCap     float64
	PE            float64
	EPS           float64
	DividendYield float64
	NetIncome     float64
	Revenue       float64
	UpdatedAt     time.Time
}

// SyncRecord tracks resident data per symbol, one record each.
type SyncRecord struct {
	Symbol      string `badgerhold:"index"`
	LastSync    string
	LastUpdate  time.Time
	RangeStart  string
	RangeEnd    string
	RecordCount int
}

// Store implements interfaces.PriceStore on BadgerHold.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

// NewStore opens (or creates) the price database at path. An open
// failure is wrapped in StoreUnavailableError so callers can degrade to
// live-only sourcing.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, &models.StoreUnavailableError{Err: fmt.Errorf("create price db directory %s: %w", path, err)}
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, &models.StoreUnavailableError{Err: fmt.Errorf("open price db: %w", err)}
	}

	logger.Debug().Str("path", path).Msg("Price store opened")

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func barKey(symbol, date string) string {
	return strings.ToUpper(symbol) + "_" + date
}

// SaveBars upserts bars for a symbol in batched transactions and returns
// the number written. Bars missing a parseable date are skipped.
func (s *Store) SaveBars(_ context.Context, symbol string, bars []models.HistoricalBar) (int, error) {
	symbol = strings.ToUpper(symbol)
	now := time.Now()
	written := 0

	for start := 0; start < len(bars); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(bars) {
			end = len(bars)
		}

		err := s.db.Badger().Update(func(txn *badger.Txn) error {
			for _, bar := range bars[start:end] {
				if _, err := models.ParseBarDate(bar.Date); err != nil {
					s.logger.Warn().Str("symbol", symbol).Str("date", bar.Date).Msg("Skipping bar with invalid date")
					continue
				}
				record := PriceBar{
					Symbol:        symbol,
					Date:          bar.Date,
					Open:          bar.Open,
					High:          bar.High,
					Low:           bar.Low,
					Close:         bar.Close,
					AdjustedClose: bar.AdjustedClose,
					Volume:        bar.Volume,
					UpdatedAt:     now,
				}
				if err := s.db.TxUpsert(txn, barKey(symbol, bar.Date), &record); err != nil {
					return fmt.Errorf("upsert bar %s %s: %w", symbol, bar.Date, err)
				}
				written++
			}
			return nil
		})
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// GetBars returns bars within [start, end], both inclusive, sorted
// ascending by date. Empty bounds are unbounded.
func (s *Store) GetBars(_ context.Context, symbol, start, end string) ([]models.HistoricalBar, error) {
	symbol = strings.ToUpper(symbol)

	query := badgerhold.Where("Symbol").Eq(symbol).Index("Symbol")
	if start != "" {
		query = query.And("Date").Ge(start)
	}
	if end != "" {
		query = query.And("Date").Le(end)
	}

	var records []PriceBar
	if err := s.db.Find(&records, query.SortBy("Date")); err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", symbol, err)
	}

	bars := make([]models.HistoricalBar, len(records))
	for i, r := range records {
		ts, _ := models.ParseBarDate(r.Date)
		bars[i] = models.HistoricalBar{
			Symbol:        r.Symbol,
			Date:          r.Date,
			Open:          r.Open,
			High:          r.High,
			Low:           r.Low,
			Close:         r.Close,
			AdjustedClose: r.AdjustedClose,
			Volume:        r.Volume,
			Timestamp:     ts,
		}
	}
	return bars, nil
}

// HasBars reports whether any history is resident for the symbol.
func (s *Store) HasBars(_ context.Context, symbol string) (bool, error) {
	count, err := s.db.Count(&PriceBar{}, badgerhold.Where("Symbol").Eq(strings.ToUpper(symbol)).Index("Symbol"))
	if err != nil {
		return false, fmt.Errorf("count bars for %s: %w", symbol, err)
	}
	return count > 0, nil
}

// SaveDividends upserts dividend events keyed by symbol and payment date.
func (s *Store) SaveDividends(_ context.Context, symbol string, dividends []models.Dividend) (int, error) {
	symbol = strings.ToUpper(symbol)
	now := time.Now()
	written := 0

	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		for _, d := range dividends {
			if d.PaymentDate == "" {
				continue
			}
			record := DividendRecord{
				Symbol:      symbol,
				PaymentDate: d.PaymentDate,
				ExDate:      d.ExDate,
				Amount:      d.Amount,
				Type:        d.Type,
				UpdatedAt:   now,
			}
			key := symbol + "_div_" + d.PaymentDate
			if err := s.db.TxUpsert(txn, key, &record); err != nil {
				return fmt.Errorf("upsert dividend %s %s: %w", symbol, d.PaymentDate, err)
			}
			written++
		}
		return nil
	})
	return written, err
}

// GetDividends returns dividend events ordered by payment date.
func (s *Store) GetDividends(_ context.Context, symbol string) ([]models.Dividend, error) {
	symbol = strings.ToUpper(symbol)

	var records []DividendRecord
	query := badgerhold.Where("Symbol").Eq(symbol).Index("Symbol").SortBy("PaymentDate")
	if err := s.db.Find(&records, query); err != nil {
		return nil, fmt.Errorf("query dividends for %s: %w", symbol, err)
	}

	dividends := make([]models.Dividend, len(records))
	for i, r := range records {
		dividends[i] = models.Dividend{
			Symbol:      r.Symbol,
			PaymentDate: r.PaymentDate,
			ExDate:      r.ExDate,
			Amount:      r.Amount,
			Type:        r.Type,
			Timestamp:   r.UpdatedAt,
		}
	}
	return dividends, nil
}

// SaveFundamentals upserts one per-period fundamentals record.
func (s *Store) SaveFundamentals(_ context.Context, f *models.Fundamentals) error {
	if f == nil || f.Symbol == "" || f.Period == "" {
		return &models.ValidationError{Field: "fundamentals", Message: "symbol and period are required"}
	}

	symbol := strings.ToUpper(f.Symbol)
	record := FundamentalRecord{
		Symbol:        symbol,
		Period:        f.Period,
		MarketCap:     f.MarketCap,
		PE:            f.PE,
		EPS:           f.EPS,
		DividendYield: f.DividendYield,
		NetIncome:     f.NetIncome,
		Revenue:       f.Revenue,
		UpdatedAt:     time.Now(),
	}
	if err := s.db.Upsert(symbol+"_fund_"+f.Period, &record); err != nil {
		return fmt.Errorf("upsert fundamentals %s %s: %w", symbol, f.Period, err)
	}
	return nil
}

// GetFundamentals returns fundamentals for a symbol, newest period first.
func (s *Store) GetFundamentals(_ context.Context, symbol string) ([]models.Fundamentals, error) {
	symbol = strings.ToUpper(symbol)

	var records []FundamentalRecord
	query := badgerhold.Where("Symbol").Eq(symbol).Index("Symbol").SortBy("Period").Reverse()
	if err := s.db.Find(&records, query); err != nil {
		return nil, fmt.Errorf("query fundamentals for %s: %w", symbol, err)
	}

	out := make([]models.Fundamentals, len(records))
	for i, r := range records {
		out[i] = models.Fundamentals{
			Symbol:        r.Symbol,
			Period:        r.Period,
			MarketCap:     r.MarketCap,
			PE:            r.PE,
			EPS:           r.EPS,
			DividendYield: r.DividendYield,
			NetIncome:     r.NetIncome,
			Revenue:       r.Revenue,
			UpdatedAt:     r.UpdatedAt,
		}
	}
	return out, nil
}

// GetSyncMetadata returns the sync record for a symbol, or nil when the
// symbol has never been synced.
func (s *Store) GetSyncMetadata(_ context.Context, symbol string) (*models.SyncMetadata, error) {
	symbol = strings.ToUpper(symbol)

	var record SyncRecord
	err := s.db.Get(symbol, &record)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync metadata for %s: %w", symbol, err)
	}

	return &models.SyncMetadata{
		Symbol:      record.Symbol,
		LastSync:    record.LastSync,
		LastUpdate:  record.LastUpdate,
		DataRange:   models.DateRange{Start: record.RangeStart, End: record.RangeEnd},
		RecordCount: record.RecordCount,
	}, nil
}

// UpdateSyncMetadata upserts the per-symbol sync record, widening the
// recorded data range to cover the new one.
func (s *Store) UpdateSyncMetadata(ctx context.Context, symbol string, dataRange models.DateRange, recordCount int) error {
	symbol = strings.ToUpper(symbol)

	existing, err := s.GetSyncMetadata(ctx, symbol)
	if err != nil {
		return err
	}

	now := time.Now()
	record := SyncRecord{
		Symbol:      symbol,
		LastSync:    now.Format("2006-01-02"),
		LastUpdate:  now,
		RangeStart:  dataRange.Start,
		RangeEnd:    dataRange.End,
		RecordCount: recordCount,
	}
	if existing != nil {
		record.RecordCount = existing.RecordCount + recordCount
		if existing.DataRange.Start != "" && (record.RangeStart == "" || existing.DataRange.Start < record.RangeStart) {
			record.RangeStart = existing.DataRange.Start
		}
		if existing.DataRange.End > record.RangeEnd {
			record.RangeEnd = existing.DataRange.End
		}
	}

	if err := s.db.Upsert(symbol, &record); err != nil {
		return fmt.Errorf("upsert sync metadata for %s: %w", symbol, err)
	}
	return nil
}

// ListSyncedSymbols returns every symbol with a sync record.
func (s *Store) ListSyncedSymbols(_ context.Context) ([]string, error) {
	var records []SyncRecord
	if err := s.db.Find(&records, nil); err != nil {
		return nil, fmt.Errorf("list synced symbols: %w", err)
	}
	symbols := make([]string, len(records))
	for i, r := range records {
		symbols[i] = r.Symbol
	}
	return symbols, nil
}

// PurgeOlderThan deletes bars dated before now minus the given number of
// years and returns the deleted count.
func (s *Store) PurgeOlderThan(_ context.Context, years int) (int, error) {
	if years <= 0 {
		years = 25
	}
	cutoff := time.Now().AddDate(-years, 0, 0).Format("2006-01-02")

	query := badgerhold.Where("Date").Lt(cutoff)
	count, err := s.db.Count(&PriceBar{}, query)
	if err != nil {
		return 0, fmt.Errorf("count purgeable bars: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := s.db.DeleteMatching(&PriceBar{}, query); err != nil {
		return 0, fmt.Errorf("purge bars before %s: %w", cutoff, err)
	}

	s.logger.Info().Str("cutoff", cutoff).Int("removed", int(count)).Msg("Purged old price bars")
	return int(count), nil
}

// Stats aggregates resident data across all symbols.
func (s *Store) Stats(ctx context.Context) (*models.StoreStats, error) {
	var records []SyncRecord
	if err := s.db.Find(&records, nil); err != nil {
		return nil, fmt.Errorf("read sync records: %w", err)
	}

	stats := &models.StoreStats{}
	for _, r := range records {
		count, err := s.db.Count(&PriceBar{}, badgerhold.Where("Symbol").Eq(r.Symbol).Index("Symbol"))
		if err != nil {
			return nil, fmt.Errorf("count bars for %s: %w", r.Symbol, err)
		}
		stats.Symbols = append(stats.Symbols, models.SymbolStats{
			Symbol:      r.Symbol,
			RecordCount: int(count),
			LastSync:    r.LastSync,
			DataRange:   models.DateRange{Start: r.RangeStart, End: r.RangeEnd},
		})
		stats.TotalRecords += int(count)

		if r.RangeStart != "" && (stats.Oldest == "" || r.RangeStart < stats.Oldest) {
			stats.Oldest = r.RangeStart
		}
		if r.RangeEnd > stats.Newest {
			stats.Newest = r.RangeEnd
		}
	}
	return stats, nil
}

// Ensure Store implements PriceStore
var _ interfaces.PriceStore = (*Store)(nil)
