package services

import (
	"context"
	"fmt"
	"strikefeed/interfaces"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// WatchlistWarmer periodically scans a watchlist during the trading session so
// the snapshot cache holds a recent chain for every near-term expiration by
// the time the market closes
type WatchlistWarmer struct {
	scanner   interfaces.Scanner
	storage   interfaces.StorageService
	watchlist []string
	maxDays   int
	retention time.Duration
	cron      *cron.Cron
	logger    *logrus.Logger

	mu sync.Mutex // serializes runs

	lifecycle sync.Mutex // guards running; separate so Stop can cancel an in-flight run
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// WarmSummary reports what one warm run did
type WarmSummary struct {
	Symbols int
	Scans   int
	Live    int
	Skipped bool
}

// NewWatchlistWarmer creates a warmer. storage may be nil; when set, a daily
// job also prunes archived data older than retention.
func NewWatchlistWarmer(
	scanner interfaces.Scanner,
	storage interfaces.StorageService,
	watchlist []string,
	maxDays int,
	retention time.Duration,
	location *time.Location,
	logger *logrus.Logger,
) *WatchlistWarmer {
	ctx, cancel := context.WithCancel(context.Background())

	return &WatchlistWarmer{
		scanner:   scanner,
		storage:   storage,
		watchlist: watchlist,
		maxDays:   maxDays,
		retention: retention,
		cron:      cron.New(cron.WithLocation(location)),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the warm job on schedule and starts the cron loop
func (w *WatchlistWarmer) Start(schedule string) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.running {
		return fmt.Errorf("warmer already running")
	}

	if _, err := w.cron.AddFunc(schedule, func() {
		summary := w.RunOnce(w.ctx)
		if !summary.Skipped {
			w.logger.WithFields(logrus.Fields{
				"symbols": summary.Symbols,
				"scans":   summary.Scans,
				"live":    summary.Live,
			}).Info("Watchlist warm run complete")
		}
	}); err != nil {
		return fmt.Errorf("failed to add warm job: %w", err)
	}

	if w.storage != nil && w.retention > 0 {
		if _, err := w.cron.AddFunc("30 2 * * *", w.cleanup); err != nil {
			return fmt.Errorf("failed to add cleanup job: %w", err)
		}
	}

	w.cron.Start()
	w.running = true

	w.logger.WithFields(logrus.Fields{
		"schedule":  schedule,
		"watchlist": len(w.watchlist),
	}).Info("Watchlist warmer started")
	return nil
}

// Stop halts scheduling and cancels an in-flight run
func (w *WatchlistWarmer) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if !w.running {
		return
	}
	w.cancel()
	<-w.cron.Stop().Done()
	w.running = false
	w.logger.Info("Watchlist warmer stopped")
}

// RunOnce scans every near-term expiration of every watchlist symbol.
// Runs outside the regular session are skipped since scans would only read the cache.
func (w *WatchlistWarmer) RunOnce(ctx context.Context) WarmSummary {
	w.mu.Lock()
	defer w.mu.Unlock()

	if status := w.scanner.SessionStatus(); status != interfaces.SessionOpen {
		w.logger.WithField("session", status).Debug("Market not open, skipping warm run")
		return WarmSummary{Skipped: true}
	}

	var summary WarmSummary
	for _, symbol := range w.watchlist {
		if ctx.Err() != nil {
			break
		}
		summary.Symbols++

		expirations, err := w.scanner.Expirations(ctx, symbol, w.maxDays)
		if err != nil {
			w.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to list expirations")
			continue
		}

		for _, expiration := range expirations {
			if ctx.Err() != nil {
				break
			}
			result, err := w.scanner.Scan(ctx, symbol, expiration)
			if err != nil {
				w.logger.WithError(err).WithFields(logrus.Fields{
					"symbol":     symbol,
					"expiration": expiration,
				}).Warn("Warm scan failed")
				continue
			}
			summary.Scans++
			if result.Source == interfaces.SourceLive {
				summary.Live++
			}
		}
	}

	return summary
}

func (w *WatchlistWarmer) cleanup() {
	if err := w.storage.CleanupOldData(time.Now().Add(-w.retention)); err != nil {
		w.logger.WithError(err).Error("Failed to clean up archived data")
	}
}
