package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strikefeed/interfaces"
	"strikefeed/models"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LocalStorage implements the StorageService interface using SQLite
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage creates a new local storage service
func NewLocalStorage(dbPath string, log *logrus.Logger) (*LocalStorage, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBSnapshot{},
		&models.DBScan{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return &LocalStorage{
		db:     db,
		logger: log,
	}, nil
}

// SaveSnapshot archives a chain snapshot
func (s *LocalStorage) SaveSnapshot(snapshot *interfaces.Snapshot) error {
	if snapshot == nil || snapshot.Chain == nil {
		return nil
	}

	payload, err := json.Marshal(snapshot.Chain)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dbSnapshot := &models.DBSnapshot{
		Symbol:     snapshot.Key.Symbol,
		Expiration: snapshot.Key.Expiration,
		FetchedAt:  snapshot.FetchedAt.UTC(),
		Contracts:  len(snapshot.Chain.Contracts),
		ChainJSON:  string(payload),
	}

	if err := s.db.Create(dbSnapshot).Error; err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"symbol":     snapshot.Key.Symbol,
		"expiration": snapshot.Key.Expiration,
		"contracts":  dbSnapshot.Contracts,
	}).Debug("Snapshot archived")
	return nil
}

// LatestSnapshots returns the most recent archived snapshot per (symbol, expiration)
func (s *LocalStorage) LatestSnapshots() ([]*interfaces.Snapshot, error) {
	latest := s.db.Model(&models.DBSnapshot{}).
		Select("MAX(id)").
		Group("symbol, expiration")

	var dbSnapshots []*models.DBSnapshot
	result := s.db.Where("id IN (?)", latest).
		Order("symbol ASC, expiration ASC").
		Find(&dbSnapshots)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", result.Error)
	}

	snapshots := make([]*interfaces.Snapshot, 0, len(dbSnapshots))
	for _, dbSnapshot := range dbSnapshots {
		var chain interfaces.OptionChain
		if err := json.Unmarshal([]byte(dbSnapshot.ChainJSON), &chain); err != nil {
			s.logger.WithError(err).WithField("id", dbSnapshot.ID).Warn("Skipping undecodable snapshot")
			continue
		}
		snapshots = append(snapshots, &interfaces.Snapshot{
			Key: interfaces.SnapshotKey{
				Symbol:     dbSnapshot.Symbol,
				Expiration: dbSnapshot.Expiration,
			},
			Chain:     &chain,
			FetchedAt: dbSnapshot.FetchedAt,
		})
	}

	return snapshots, nil
}

// SaveScan saves a scan audit record
func (s *LocalStorage) SaveScan(record *interfaces.ScanRecord) error {
	dbScan := &models.DBScan{
		ScanID:     record.ScanID,
		Symbol:     record.Symbol,
		Expiration: record.Expiration,
		Session:    string(record.Session),
		Source:     string(record.Source),
		Rows:       record.Rows,
		Contracts:  record.Contracts,
		Scored:     record.Scored,
		HV:         record.HV,
		DurationMS: record.DurationMS,
		ScannedAt:  record.ScannedAt.UTC(),
	}

	if err := s.db.Save(dbScan).Error; err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}

	return nil
}

// GetScans retrieves recent scans, optionally filtered by symbol
func (s *LocalStorage) GetScans(symbol string, limit int) ([]*interfaces.ScanRecord, error) {
	var dbScans []*models.DBScan

	query := s.db.Model(&models.DBScan{})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	result := query.Order("scanned_at DESC").Find(&dbScans)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get scans: %w", result.Error)
	}

	records := make([]*interfaces.ScanRecord, len(dbScans))
	for i, dbScan := range dbScans {
		records[i] = &interfaces.ScanRecord{
			ScanID:     dbScan.ScanID,
			Symbol:     dbScan.Symbol,
			Expiration: dbScan.Expiration,
			Session:    interfaces.SessionStatus(dbScan.Session),
			Source:     interfaces.ScanSource(dbScan.Source),
			Rows:       dbScan.Rows,
			Contracts:  dbScan.Contracts,
			Scored:     dbScan.Scored,
			HV:         dbScan.HV,
			DurationMS: dbScan.DurationMS,
			ScannedAt:  dbScan.ScannedAt,
		}
	}

	return records, nil
}

// CleanupOldData removes data older than the specified time.
// The newest snapshot per key is always kept so fallback survives cleanup.
func (s *LocalStorage) CleanupOldData(before time.Time) error {
	// timestamps are stored as UTC text, compare in the same zone
	before = before.UTC()
	s.logger.WithField("before", before).Info("Cleaning up old data")

	latest := s.db.Model(&models.DBSnapshot{}).
		Select("MAX(id)").
		Group("symbol, expiration")

	if err := s.db.Unscoped().
		Where("fetched_at < ? AND id NOT IN (?)", before, latest).
		Delete(&models.DBSnapshot{}).Error; err != nil {
		return fmt.Errorf("failed to delete old snapshots: %w", err)
	}

	if err := s.db.Unscoped().Where("scanned_at < ?", before).Delete(&models.DBScan{}).Error; err != nil {
		return fmt.Errorf("failed to delete old scans: %w", err)
	}

	s.logger.Info("Old data cleaned up successfully")
	return nil
}

// Close closes the database connection
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
