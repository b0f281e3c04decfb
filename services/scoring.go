package services

import (
	"math"
	"strikefeed/interfaces"

	"github.com/shopspring/decimal"
)

// Score weights. IV/HV divergence dominates, then spread, delta and bid/ask efficiency.
const (
	ivHVWeight       = 40.0
	spreadWeight     = 30.0
	deltaWeight      = 20.0
	efficiencyWeight = 10.0

	// DeltaSweetSpot is the delta magnitude that earns the full delta term
	DeltaSweetSpot = 0.4

	MinScore = 0.0
	MaxScore = 100.0
)

// Score tiers used by the presentation layer for coloring
const (
	TierStrong = "strong"
	TierFair   = "fair"
	TierWeak   = "weak"
)

// ContractScorer computes the composite attractiveness score of a contract
type ContractScorer struct {
	precision int32
}

// NewContractScorer creates a scorer rounding to 1 or 2 decimal places
func NewContractScorer(precision int) *ContractScorer {
	if precision != 2 {
		precision = 1
	}
	return &ContractScorer{precision: int32(precision)}
}

// Score returns the clamped, rounded score, or nil when the contract is unscorable.
// hv is the symbol's historical volatility and may be nil.
func (s *ContractScorer) Score(contract *interfaces.OptionContract, hv *float64) *float64 {
	raw, ok := rawScore(contract, hv)
	if !ok {
		return nil
	}

	clamped := math.Min(math.Max(raw, MinScore), MaxScore)
	score := decimal.NewFromFloat(clamped).Round(s.precision).InexactFloat64()
	return &score
}

// ScoreContract wraps a contract with its score and tier
func (s *ContractScorer) ScoreContract(contract *interfaces.OptionContract, hv *float64) *interfaces.ScoredContract {
	score := s.Score(contract, hv)
	return &interfaces.ScoredContract{
		OptionContract: contract,
		Score:          score,
		Tier:           ScoreTier(score),
	}
}

// ScoreTier maps a score to its display tier; unscored contracts have no tier
func ScoreTier(score *float64) string {
	switch {
	case score == nil:
		return ""
	case *score >= 80:
		return TierStrong
	case *score >= 60:
		return TierFair
	default:
		return TierWeak
	}
}

func rawScore(contract *interfaces.OptionContract, hv *float64) (float64, bool) {
	if contract == nil || contract.ImpliedVolatility == nil || contract.Delta == nil || hv == nil {
		return 0, false
	}

	iv := *contract.ImpliedVolatility
	delta := *contract.Delta
	bid, ask := contract.Bid, contract.Ask
	if !finite(iv, *hv, delta, bid, ask) {
		return 0, false
	}
	if iv <= 0 || *hv <= 0 || ask <= 0 {
		return 0, false
	}

	ivHVRatio := iv / *hv
	spreadPct := (ask - bid) / ask
	efficiency := bid / ask
	deltaScore := 1 - math.Abs(math.Abs(delta)-DeltaSweetSpot)

	raw := (1/ivHVRatio)*ivHVWeight +
		(1-spreadPct)*spreadWeight +
		deltaScore*deltaWeight +
		efficiency*efficiencyWeight

	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, false
	}
	return raw, true
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
