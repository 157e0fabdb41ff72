package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/models"
)

type recordingSyncService struct {
	calls int
	err   error
}

func (r *recordingSyncService) ImportHistory(ctx context.Context, symbol string) (*models.SyncResult, error) {
	return nil, nil
}

func (r *recordingSyncService) UpdateClosedMonth(ctx context.Context, symbol string) (*models.SyncResult, error) {
	return nil, nil
}

func (r *recordingSyncService) MonthlySync(ctx context.Context, symbols []string) ([]models.SyncResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	results := make([]models.SyncResult, len(symbols))
	return results, nil
}

func (r *recordingSyncService) Progress() interfaces.SyncProgress {
	return interfaces.SyncProgress{}
}

func schedulerConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Sync.DayOfMonth = 1
	cfg.Sync.Symbols = []string{"PETR4", "VALE3"}
	return cfg
}

func TestCheckAndSyncWrongDay(t *testing.T) {
	cfg := schedulerConfig()
	svc := &recordingSyncService{}
	logger := common.NewSilentLogger()

	now := time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC)
	lastRun := checkAndSync(context.Background(), svc, cfg, logger, "", now)

	if svc.calls != 0 {
		t.Errorf("expected no sync on day 15, got %d calls", svc.calls)
	}
	if lastRun != "" {
		t.Errorf("expected lastRun unchanged, got %q", lastRun)
	}
}

func TestCheckAndSyncFiresOnConfiguredDay(t *testing.T) {
	cfg := schedulerConfig()
	svc := &recordingSyncService{}
	logger := common.NewSilentLogger()

	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	lastRun := checkAndSync(context.Background(), svc, cfg, logger, "", now)

	if svc.calls != 1 {
		t.Fatalf("expected 1 sync call, got %d", svc.calls)
	}
	if lastRun != "2024-02-01" {
		t.Errorf("expected lastRun 2024-02-01, got %q", lastRun)
	}
}

func TestCheckAndSyncOncePerDay(t *testing.T) {
	cfg := schedulerConfig()
	svc := &recordingSyncService{}
	logger := common.NewSilentLogger()

	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	lastRun := checkAndSync(context.Background(), svc, cfg, logger, "", now)
	lastRun = checkAndSync(context.Background(), svc, cfg, logger, lastRun, now.Add(time.Hour))

	if svc.calls != 1 {
		t.Errorf("expected 1 sync call after repeated checks, got %d", svc.calls)
	}
}

func TestCheckAndSyncRetriesAfterFailure(t *testing.T) {
	cfg := schedulerConfig()
	svc := &recordingSyncService{err: errors.New("store offline")}
	logger := common.NewSilentLogger()

	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	lastRun := checkAndSync(context.Background(), svc, cfg, logger, "", now)

	if lastRun != "" {
		t.Errorf("expected lastRun unchanged after failure, got %q", lastRun)
	}

	// A later check the same day retries because the failure was not recorded.
	svc.err = nil
	lastRun = checkAndSync(context.Background(), svc, cfg, logger, lastRun, now.Add(time.Hour))

	if svc.calls != 2 {
		t.Errorf("expected retry after failure, got %d calls", svc.calls)
	}
	if lastRun != "2024-02-01" {
		t.Errorf("expected lastRun 2024-02-01 after retry, got %q", lastRun)
	}
}

func TestCheckAndSyncNoSymbols(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Sync.Symbols = nil
	svc := &recordingSyncService{}
	logger := common.NewSilentLogger()

	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	lastRun := checkAndSync(context.Background(), svc, cfg, logger, "", now)

	if svc.calls != 0 {
		t.Errorf("expected no sync without symbols, got %d calls", svc.calls)
	}
	if lastRun != "2024-02-01" {
		t.Errorf("expected day marked done without symbols, got %q", lastRun)
	}
}
