package interfaces

import (
	"context"
	"time"
)

// OptionType is the side of an option contract
type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// ParseOptionType normalizes provider spellings ("call", "C", "Put", ...)
func ParseOptionType(s string) (OptionType, bool) {
	switch s {
	case "call", "Call", "CALL", "c", "C":
		return OptionTypeCall, true
	case "put", "Put", "PUT", "p", "P":
		return OptionTypePut, true
	}
	return "", false
}

// OptionContract represents one option leg as returned by a provider.
// Delta and ImpliedVolatility are nil when the provider omitted Greeks.
type OptionContract struct {
	Symbol            string     `json:"symbol"`     // OCC symbol (e.g., "AAPL240621C00150000")
	Underlying        string     `json:"underlying"` // Underlying stock symbol
	Type              OptionType `json:"type"`
	Strike            float64    `json:"strike"`
	Expiration        string     `json:"expiration"` // YYYY-MM-DD
	Bid               float64    `json:"bid"`
	Ask               float64    `json:"ask"`
	Delta             *float64   `json:"delta"`
	ImpliedVolatility *float64   `json:"iv"`
}

// OptionChain represents the contracts for one (symbol, expiration) pair
type OptionChain struct {
	Underlying string            `json:"underlying"`
	Expiration string            `json:"expiration"`
	FetchedAt  time.Time         `json:"fetched_at"`
	Contracts  []*OptionContract `json:"contracts"`
}

// Clone returns a deep copy so cached chains cannot be mutated by callers
func (c *OptionChain) Clone() *OptionChain {
	if c == nil {
		return nil
	}
	out := &OptionChain{
		Underlying: c.Underlying,
		Expiration: c.Expiration,
		FetchedAt:  c.FetchedAt,
		Contracts:  make([]*OptionContract, len(c.Contracts)),
	}
	for i, contract := range c.Contracts {
		if contract == nil {
			continue
		}
		cp := *contract
		if contract.Delta != nil {
			d := *contract.Delta
			cp.Delta = &d
		}
		if contract.ImpliedVolatility != nil {
			iv := *contract.ImpliedVolatility
			cp.ImpliedVolatility = &iv
		}
		out.Contracts[i] = &cp
	}
	return out
}

// PricePoint is one daily close
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// OptionDataService defines the market data provider for option chains
type OptionDataService interface {
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionChain(ctx context.Context, symbol, expiration string) (*OptionChain, error)
}

// PriceHistoryService defines the provider for daily closing prices
type PriceHistoryService interface {
	GetPriceHistory(ctx context.Context, symbol string, lookbackDays int) ([]PricePoint, error)
}

// MarketDataProvider is a provider serving both chains and price history
type MarketDataProvider interface {
	OptionDataService
	PriceHistoryService
	Name() string
}

// SnapshotKey identifies a cached chain
type SnapshotKey struct {
	Symbol     string `json:"symbol"`
	Expiration string `json:"expiration"`
}

// Snapshot is the last successfully fetched chain for a key
type Snapshot struct {
	Key       SnapshotKey  `json:"key"`
	Chain     *OptionChain `json:"chain"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// SnapshotStore defines the fallback cache for option chains
type SnapshotStore interface {
	Put(ctx context.Context, snapshot *Snapshot) error
	Get(ctx context.Context, key SnapshotKey) (*Snapshot, bool, error)
	Keys(ctx context.Context) ([]SnapshotKey, error)
}
