package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strikefeed/config"
	"strikefeed/controllers"
	"strikefeed/database"
	"strikefeed/interfaces"
	"strikefeed/services"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("StrikeFeed stopped with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := newProvider(cfg.Provider, logger)
	logger.WithField("provider", provider.Name()).Info("Market data provider configured")

	store, closeStore, err := newSnapshotStore(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeStore()

	var storage *database.LocalStorage
	var storageService interfaces.StorageService
	if cfg.Database.Path != "" {
		storage, err = database.NewLocalStorage(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer storage.Close()
		storageService = storage
	}

	clock := services.NewMarketClock()
	scorer := services.NewContractScorer(cfg.Scan.ScorePrecision)
	aligner := services.NewChainAligner(scorer, cfg.Scan.ParallelThreshold)
	scanService := services.NewScanService(
		provider,
		provider,
		store,
		storageService,
		clock,
		aligner,
		services.ScanConfig{
			FetchTimeout: cfg.Provider.FetchTimeout,
			LookbackDays: cfg.Scan.LookbackDays,
		},
		logger,
	)

	if storageService != nil {
		if _, err := scanService.HydrateCache(ctx); err != nil {
			logger.WithError(err).Warn("Failed to hydrate snapshot cache")
		}
		if cfg.Database.Retention > 0 {
			if err := storageService.CleanupOldData(time.Now().Add(-cfg.Database.Retention)); err != nil {
				logger.WithError(err).Warn("Failed to clean up archived data")
			}
		}
	}

	if cfg.Warmer.Enabled {
		warmer := services.NewWatchlistWarmer(
			scanService,
			storageService,
			cfg.Warmer.Watchlist,
			cfg.Scan.ExpirationDays,
			cfg.Database.Retention,
			clock.Location(),
			logger,
		)
		if err := warmer.Start(cfg.Warmer.Schedule); err != nil {
			return fmt.Errorf("failed to start watchlist warmer: %w", err)
		}
		defer warmer.Stop()
	}

	gin.SetMode(cfg.Server.GinMode)
	scanController := controllers.NewScanController(scanService, cfg.Scan.ExpirationDays, logger)
	var historyController *controllers.HistoryController
	if storageService != nil {
		historyController = controllers.NewHistoryController(storageService)
	}
	router := controllers.NewRouter(scanController, historyController, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.Server.Port,
			"session": scanService.SessionStatus(),
		}).Info("StrikeFeed listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newProvider(cfg config.ProviderConfig, logger *logrus.Logger) interfaces.MarketDataProvider {
	if cfg.Name == "alpaca" {
		return services.NewAlpacaOptionsDataService(
			cfg.AlpacaAPIKey,
			cfg.AlpacaSecretKey,
			cfg.AlpacaTradingURL,
			cfg.AlpacaDataURL,
			cfg.RateLimit,
			logger,
		)
	}
	return services.NewTradierDataService(cfg.TradierToken, cfg.TradierBaseURL, cfg.RateLimit, logger)
}

func newSnapshotStore(ctx context.Context, cfg config.CacheConfig) (interfaces.SnapshotStore, func(), error) {
	if cfg.Backend == "redis" {
		store, err := services.NewRedisSnapshotCache(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return services.NewMemorySnapshotCache(), func() {}, nil
}
