package services

import (
	"context"
	"io"
	"strikefeed/interfaces"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func ptr(v float64) *float64 {
	return &v
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func contract(t interfaces.OptionType, strike, bid, ask float64, delta, iv *float64) *interfaces.OptionContract {
	return &interfaces.OptionContract{
		Underlying:        "AAPL",
		Type:              t,
		Strike:            strike,
		Expiration:        "2024-06-21",
		Bid:               bid,
		Ask:               ask,
		Delta:             delta,
		ImpliedVolatility: iv,
	}
}

// fakeProvider serves canned chains and history and counts calls
type fakeProvider struct {
	mu sync.Mutex

	chain       *interfaces.OptionChain
	chainErr    error
	history     []interfaces.PricePoint
	historyErr  error
	expirations []string
	expErr      error
	chainDelay  time.Duration

	chainCalls   int
	historyCalls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GetExpirations(ctx context.Context, symbol string) ([]string, error) {
	if f.expErr != nil {
		return nil, f.expErr
	}
	return f.expirations, nil
}

func (f *fakeProvider) GetOptionChain(ctx context.Context, symbol, expiration string) (*interfaces.OptionChain, error) {
	f.mu.Lock()
	f.chainCalls++
	f.mu.Unlock()

	if f.chainDelay > 0 {
		select {
		case <-time.After(f.chainDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return f.chain.Clone(), nil
}

func (f *fakeProvider) GetPriceHistory(ctx context.Context, symbol string, lookbackDays int) ([]interfaces.PricePoint, error) {
	f.mu.Lock()
	f.historyCalls++
	f.mu.Unlock()

	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

// historyFromCloses builds consecutive daily points, oldest first
func historyFromCloses(closes ...float64) []interfaces.PricePoint {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	points := make([]interfaces.PricePoint, len(closes))
	for i, c := range closes {
		points[i] = interfaces.PricePoint{Date: start.AddDate(0, 0, i), Close: c}
	}
	return points
}
