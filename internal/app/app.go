// Package app wires configuration, storage, adapters, cache, and services
// into one application instance shared by cmd/marketd-server and tests.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quantumtrades/marketd/internal/cache"
	"github.com/quantumtrades/marketd/internal/clients/brapi"
	"github.com/quantumtrades/marketd/internal/clients/mock"
	"github.com/quantumtrades/marketd/internal/clients/quantumapi"
	"github.com/quantumtrades/marketd/internal/common"
	"github.com/quantumtrades/marketd/internal/fallback"
	"github.com/quantumtrades/marketd/internal/interfaces"
	"github.com/quantumtrades/marketd/internal/services/marketdata"
	syncsvc "github.com/quantumtrades/marketd/internal/services/sync"
	"github.com/quantumtrades/marketd/internal/storage/pricedb"
)

// App holds every initialized component. One instance per process.
type App struct {
	Config        *common.Config
	Logger        *common.Logger
	Store         interfaces.PriceStore // nil when the store failed to open
	Cache         *cache.Cache
	Chain         *fallback.Chain
	Backend       *quantumapi.Client
	MarketService interfaces.MarketDataService
	SyncService   interfaces.SyncService // nil when the store is unavailable
	StartupTime   time.Time

	warmCacheCancel context.CancelFunc
	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes the application. configPath may be empty, in which
// case MARKETD_CONFIG, then the binary directory, then a development
// fallback are consulted.
func NewApp(configPath string) (*App, error) {
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("MARKETD_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "marketd.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/marketd.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	// The store is optional: an open failure degrades history to live-only
	// sourcing instead of refusing to start.
	var store interfaces.PriceStore
	priceStore, err := pricedb.NewStore(logger, config.Storage.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("Price store unavailable, history will be fetched live")
	} else {
		store = priceStore
	}

	dataCache := cache.New(common.TTLsFromConfig(config.Cache), cache.WithLogger(logger))

	brapiClient := brapi.NewClient(config.Clients.Brapi.Token,
		brapi.WithBaseURL(config.Clients.Brapi.BaseURL),
		brapi.WithLogger(logger),
		brapi.WithRateLimit(config.Clients.Brapi.RateLimit),
		brapi.WithTimeout(config.Clients.Brapi.GetTimeout()),
	)
	quantumClient := quantumapi.NewClient(config.Clients.QuantumAPI.Token,
		quantumapi.WithBaseURL(config.Clients.QuantumAPI.BaseURL),
		quantumapi.WithLogger(logger),
		quantumapi.WithRateLimit(config.Clients.QuantumAPI.RateLimit),
		quantumapi.WithTimeout(config.Clients.QuantumAPI.GetTimeout()),
	)
	mockClient := mock.NewClient(mock.WithLatency(config.Clients.Mock.GetLatency()))

	// Priority order: public market API first, local backend second. The
	// mock generator sits outside the chain as the orchestrator's final
	// degrade step.
	chain := fallback.NewChain(&config.Fallback,
		[]interfaces.SourceAdapter{brapiClient, quantumClient},
		fallback.WithLogger(logger),
	)

	marketService := marketdata.NewService(config, chain, mockClient, store, dataCache, logger)

	var syncService interfaces.SyncService
	if store != nil {
		syncService = syncsvc.NewService(config, chain, store, dataCache, logger)
	}

	logger.Info().
		Str("version", common.GetVersion()).
		Str("environment", config.Environment).
		Bool("real_data", config.Features.UseRealData).
		Bool("store", store != nil).
		Msg("Application initialized")

	return &App{
		Config:        config,
		Logger:        logger,
		Store:         store,
		Cache:         dataCache,
		Chain:         chain,
		Backend:       quantumClient,
		MarketService: marketService,
		SyncService:   syncService,
		StartupTime:   time.Now(),
	}, nil
}

// Close releases every component in reverse initialization order.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
	}
	if a.warmCacheCancel != nil {
		a.warmCacheCancel()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Price store close failed")
		}
	}
	a.Logger.Info().Msg("Application closed")
}

// StartWarmCache pre-fetches configured symbols in the background.
func (a *App) StartWarmCache() {
	ctx, cancel := context.WithCancel(context.Background())
	a.warmCacheCancel = cancel
	go warmCache(ctx, a.MarketService, a.Config, a.Logger)
}

// StartSyncScheduler runs the monthly auto-sync loop in the background.
func (a *App) StartSyncScheduler() {
	if !a.Config.Sync.AutoSync {
		a.Logger.Debug().Msg("Auto-sync disabled")
		return
	}
	if a.SyncService == nil {
		a.Logger.Warn().Msg("Auto-sync requested but the price store is unavailable")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	go runSyncScheduler(ctx, a.SyncService, a.Config, a.Logger)
}
