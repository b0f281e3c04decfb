package services

import (
	"math"
	"sort"
	"strikefeed/interfaces"
)

// TradingDaysPerYear annualizes daily return dispersion
const TradingDaysPerYear = 252

// HistoricalVolatility returns the annualized volatility of daily log returns.
// Non-positive and non-finite closes are skipped. The result is nil when fewer
// than two usable closes remain, and exactly 0 for a flat series.
func HistoricalVolatility(closes []float64) *float64 {
	usable := make([]float64, 0, len(closes))
	for _, c := range closes {
		if c > 0 && !math.IsInf(c, 0) && !math.IsNaN(c) {
			usable = append(usable, c)
		}
	}
	if len(usable) < 2 {
		return nil
	}

	returns := make([]float64, len(usable)-1)
	for i := 1; i < len(usable); i++ {
		returns[i-1] = math.Log(usable[i] / usable[i-1])
	}

	hv := sampleStandardDeviation(returns) * math.Sqrt(TradingDaysPerYear)
	return &hv
}

// HistoricalVolatilityFromPrices extracts closes from a price history, oldest first
func HistoricalVolatilityFromPrices(points []interfaces.PricePoint) *float64 {
	sorted := make([]interfaces.PricePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	closes := make([]float64, len(sorted))
	for i, p := range sorted {
		closes[i] = p.Close
	}
	return HistoricalVolatility(closes)
}

// sampleStandardDeviation uses the n-1 denominator; a single value has no dispersion
func sampleStandardDeviation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)

	return math.Sqrt(variance)
}
