package services

import (
	"context"
	"errors"
	"fmt"
	"strikefeed/interfaces"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptySymbol       = errors.New("symbol required")
	ErrInvalidExpiration = errors.New("invalid expiration date format, use YYYY-MM-DD")
	ErrEmptyChain        = errors.New("provider returned an empty option chain")
)

// ScanConfig tunes the scan pipeline
type ScanConfig struct {
	FetchTimeout time.Duration // bound on each provider call
	LookbackDays int           // price history window for HV
}

// ScanService runs the scan pipeline: session check, live fetch or cache
// fallback, volatility estimate, scoring and strike alignment.
type ScanService struct {
	chains  interfaces.OptionDataService
	history interfaces.PriceHistoryService
	store   interfaces.SnapshotStore
	storage interfaces.StorageService // optional archive and audit log
	clock   *MarketClock
	aligner *ChainAligner
	config  ScanConfig
	logger  *logrus.Logger
	now     func() time.Time
}

// NewScanService creates a new scan service. storage may be nil.
func NewScanService(
	chains interfaces.OptionDataService,
	history interfaces.PriceHistoryService,
	store interfaces.SnapshotStore,
	storage interfaces.StorageService,
	clock *MarketClock,
	aligner *ChainAligner,
	config ScanConfig,
	logger *logrus.Logger,
) *ScanService {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 30
	}

	return &ScanService{
		chains:  chains,
		history: history,
		store:   store,
		storage: storage,
		clock:   clock,
		aligner: aligner,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// SessionStatus returns the current exchange session
func (s *ScanService) SessionStatus() interfaces.SessionStatus {
	return s.clock.Status(s.now())
}

// HasCached reports whether a fallback chain exists for (symbol, expiration)
func (s *ScanService) HasCached(ctx context.Context, symbol, expiration string) (bool, error) {
	key, err := validateKey(symbol, expiration)
	if err != nil {
		return false, err
	}
	_, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot cache: %w", err)
	}
	return ok, nil
}

// Expirations lists expiration dates for symbol that fall within the next
// maxDays days (exclusive of today). maxDays <= 0 returns every date.
func (s *ScanService) Expirations(ctx context.Context, symbol string, maxDays int) ([]string, error) {
	key := NewSnapshotKey(symbol, "")
	if key.Symbol == "" {
		return nil, ErrEmptySymbol
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	dates, err := s.chains.GetExpirations(fetchCtx, key.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch expirations for %s: %w", key.Symbol, err)
	}
	if maxDays <= 0 {
		return dates, nil
	}

	// calendar days in exchange time; elapsed hours drift across DST changes
	today := civil.DateOf(s.now().In(s.clock.Location()))

	filtered := make([]string, 0, len(dates))
	for _, date := range dates {
		exp, err := civil.ParseDate(date)
		if err != nil {
			continue
		}
		days := exp.DaysSince(today)
		if days > 0 && days <= maxDays {
			filtered = append(filtered, date)
		}
	}
	return filtered, nil
}

// Scan returns the aligned rows for (symbol, expiration). Provider failures
// degrade to the cached chain or to an empty result; only invalid input is
// reported as an error.
func (s *ScanService) Scan(ctx context.Context, symbol, expiration string) (*interfaces.ScanResult, error) {
	key, err := validateKey(symbol, expiration)
	if err != nil {
		return nil, err
	}

	started := s.now()
	session := s.clock.Status(started)
	result := &interfaces.ScanResult{
		ScanID:     uuid.NewString(),
		Symbol:     key.Symbol,
		Expiration: key.Expiration,
		Session:    session,
		Source:     interfaces.SourceNone,
		Rows:       []interfaces.AlignedRow{},
	}

	logger := s.logger.WithFields(logrus.Fields{
		"symbol":     key.Symbol,
		"expiration": key.Expiration,
		"session":    session,
	})

	var chain *interfaces.OptionChain
	if session == interfaces.SessionOpen {
		live, err := s.fetchLive(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("Live chain fetch failed, falling back to snapshot cache")
		} else {
			chain = live
			result.Source = interfaces.SourceLive
			s.saveSnapshot(ctx, key, live)
		}
	}

	if chain == nil {
		snapshot, ok, err := s.store.Get(ctx, key)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Snapshot cache read failed")
		case ok && snapshot.Chain != nil:
			chain = snapshot.Chain
			result.Source = interfaces.SourceCache
		}
	}

	if chain == nil {
		logger.Info("No chain available live or cached")
		result.CompletedAt = s.now()
		s.recordScan(result, started)
		return result, nil
	}

	fetchedAt := chain.FetchedAt
	result.FetchedAt = &fetchedAt
	result.Contracts = len(chain.Contracts)

	hv := s.estimateVolatility(ctx, key.Symbol)
	result.HV = hv

	result.Rows = s.aligner.Align(ctx, chain.Contracts, hv)
	result.Scored = countScored(result.Rows)
	result.CompletedAt = s.now()

	logger.WithFields(logrus.Fields{
		"source": result.Source,
		"rows":   len(result.Rows),
		"scored": result.Scored,
	}).Info("Scan complete")

	s.recordScan(result, started)
	return result, nil
}

func (s *ScanService) fetchLive(ctx context.Context, key interfaces.SnapshotKey) (*interfaces.OptionChain, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	chain, err := s.chains.GetOptionChain(fetchCtx, key.Symbol, key.Expiration)
	if err != nil {
		return nil, err
	}
	if chain == nil || len(chain.Contracts) == 0 {
		return nil, ErrEmptyChain
	}

	if chain.FetchedAt.IsZero() {
		chain.FetchedAt = s.now()
	}
	chain.Underlying = key.Symbol
	chain.Expiration = key.Expiration
	return chain, nil
}

func (s *ScanService) saveSnapshot(ctx context.Context, key interfaces.SnapshotKey, chain *interfaces.OptionChain) {
	snapshot := &interfaces.Snapshot{
		Key:       key,
		Chain:     chain,
		FetchedAt: chain.FetchedAt,
	}

	if err := s.store.Put(ctx, snapshot); err != nil {
		s.logger.WithError(err).WithField("symbol", key.Symbol).Warn("Failed to cache snapshot")
	}

	if s.storage != nil {
		if err := s.storage.SaveSnapshot(snapshot); err != nil {
			s.logger.WithError(err).WithField("symbol", key.Symbol).Warn("Failed to archive snapshot")
		}
	}
}

// estimateVolatility returns nil when history is unreachable or too short
func (s *ScanService) estimateVolatility(ctx context.Context, symbol string) *float64 {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	points, err := s.history.GetPriceHistory(fetchCtx, symbol, s.config.LookbackDays)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Warn("Price history unavailable, contracts will be unscored")
		return nil
	}

	hv := HistoricalVolatilityFromPrices(points)
	if hv == nil {
		s.logger.WithFields(logrus.Fields{
			"symbol": symbol,
			"points": len(points),
		}).Warn("Price history too short for volatility estimate")
	}
	return hv
}

func (s *ScanService) recordScan(result *interfaces.ScanResult, started time.Time) {
	if s.storage == nil {
		return
	}

	record := &interfaces.ScanRecord{
		ScanID:     result.ScanID,
		Symbol:     result.Symbol,
		Expiration: result.Expiration,
		Session:    result.Session,
		Source:     result.Source,
		Rows:       len(result.Rows),
		Contracts:  result.Contracts,
		Scored:     result.Scored,
		HV:         result.HV,
		DurationMS: result.CompletedAt.Sub(started).Milliseconds(),
		ScannedAt:  started,
	}
	if err := s.storage.SaveScan(record); err != nil {
		s.logger.WithError(err).WithField("scan_id", result.ScanID).Warn("Failed to record scan")
	}
}

// HydrateCache loads the latest archived snapshot per key into the cache
func (s *ScanService) HydrateCache(ctx context.Context) (int, error) {
	if s.storage == nil {
		return 0, nil
	}

	snapshots, err := s.storage.LatestSnapshots()
	if err != nil {
		return 0, fmt.Errorf("failed to load archived snapshots: %w", err)
	}

	loaded := 0
	for _, snapshot := range snapshots {
		if _, ok, err := s.store.Get(ctx, snapshot.Key); err == nil && ok {
			continue
		}
		if err := s.store.Put(ctx, snapshot); err != nil {
			return loaded, fmt.Errorf("failed to hydrate snapshot %s %s: %w", snapshot.Key.Symbol, snapshot.Key.Expiration, err)
		}
		loaded++
	}

	s.logger.WithField("snapshots", loaded).Info("Snapshot cache hydrated from archive")
	return loaded, nil
}

func validateKey(symbol, expiration string) (interfaces.SnapshotKey, error) {
	key := NewSnapshotKey(symbol, expiration)
	if key.Symbol == "" {
		return key, ErrEmptySymbol
	}
	if _, err := time.Parse("2006-01-02", key.Expiration); err != nil {
		return key, fmt.Errorf("%w: %q", ErrInvalidExpiration, key.Expiration)
	}
	return key, nil
}

func countScored(rows []interfaces.AlignedRow) int {
	n := 0
	for _, row := range rows {
		if row.Call != nil && row.Call.Score != nil {
			n++
		}
		if row.Put != nil && row.Put.Score != nil {
			n++
		}
	}
	return n
}
