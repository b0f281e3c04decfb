package models

import (
	"time"

	"gorm.io/gorm"
)

// DBSnapshot represents an archived option chain snapshot in the database
type DBSnapshot struct {
	gorm.Model
	Symbol     string    `gorm:"index:idx_symbol_expiration"`
	Expiration string    `gorm:"index:idx_symbol_expiration"`
	FetchedAt  time.Time `gorm:"index"`
	Contracts  int
	ChainJSON  string // JSON encoded OptionChain
}

// DBScan represents a scan request for audit/analysis
type DBScan struct {
	gorm.Model
	ScanID     string `gorm:"uniqueIndex"`
	Symbol     string `gorm:"index"`
	Expiration string
	Session    string
	Source     string `gorm:"index"` // "live", "cache", "none"
	Rows       int
	Contracts  int
	Scored     int
	HV         *float64
	DurationMS int64
	ScannedAt  time.Time `gorm:"index"`
}

// TableName overrides for cleaner table names
func (DBSnapshot) TableName() string {
	return "snapshots"
}

func (DBScan) TableName() string {
	return "scans"
}
