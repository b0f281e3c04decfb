package interfaces

import (
	"context"
	"time"
)

// SessionStatus is the exchange session at a given instant
type SessionStatus string

const (
	SessionOpen       SessionStatus = "open"
	SessionPreMarket  SessionStatus = "pre-market"
	SessionAfterHours SessionStatus = "after-hours"
	SessionClosed     SessionStatus = "closed"
)

// ScanSource tells where the rows of a scan came from
type ScanSource string

const (
	SourceLive  ScanSource = "live"
	SourceCache ScanSource = "cache"
	SourceNone  ScanSource = "none"
)

// ScoredContract is a contract plus its composite score.
// Score is nil when the contract could not be scored.
type ScoredContract struct {
	*OptionContract
	Score *float64 `json:"score"`
	Tier  string   `json:"tier,omitempty"` // "strong", "fair", "weak"
}

// AlignedRow is one strike with its call and put legs side by side
type AlignedRow struct {
	Strike float64         `json:"strike"`
	Call   *ScoredContract `json:"call"`
	Put    *ScoredContract `json:"put"`
}

// ScanResult is the output of one scan request
type ScanResult struct {
	ScanID      string        `json:"scan_id"`
	Symbol      string        `json:"symbol"`
	Expiration  string        `json:"expiration"`
	Session     SessionStatus `json:"session"`
	Source      ScanSource    `json:"source"`
	FetchedAt   *time.Time    `json:"fetched_at,omitempty"`
	HV          *float64      `json:"hv"`
	Contracts   int           `json:"contracts"`
	Scored      int           `json:"scored"`
	Rows        []AlignedRow  `json:"rows"`
	CompletedAt time.Time     `json:"completed_at"`
}

// ScanRecord is the audit entry persisted for each scan
type ScanRecord struct {
	ScanID     string        `json:"scan_id"`
	Symbol     string        `json:"symbol"`
	Expiration string        `json:"expiration"`
	Session    SessionStatus `json:"session"`
	Source     ScanSource    `json:"source"`
	Rows       int           `json:"rows"`
	Contracts  int           `json:"contracts"`
	Scored     int           `json:"scored"`
	HV         *float64      `json:"hv"`
	DurationMS int64         `json:"duration_ms"`
	ScannedAt  time.Time     `json:"scanned_at"`
}

// StorageService defines the interface for local data persistence
type StorageService interface {
	SaveSnapshot(snapshot *Snapshot) error
	LatestSnapshots() ([]*Snapshot, error)
	SaveScan(record *ScanRecord) error
	GetScans(symbol string, limit int) ([]*ScanRecord, error)
	CleanupOldData(before time.Time) error
}

// Scanner is the scan entry point consumed by the HTTP layer and the warmer
type Scanner interface {
	Scan(ctx context.Context, symbol, expiration string) (*ScanResult, error)
	SessionStatus() SessionStatus
	HasCached(ctx context.Context, symbol, expiration string) (bool, error)
	Expirations(ctx context.Context, symbol string, maxDays int) ([]string, error)
}
