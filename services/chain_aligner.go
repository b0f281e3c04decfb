package services

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strikefeed/interfaces"

	"golang.org/x/sync/errgroup"
)

// ChainAligner joins call and put legs on strike into comparable rows
type ChainAligner struct {
	scorer            *ContractScorer
	parallelThreshold int
}

// NewChainAligner creates an aligner. Chains with at least parallelThreshold
// contracts are scored concurrently; 0 disables parallel scoring.
func NewChainAligner(scorer *ContractScorer, parallelThreshold int) *ChainAligner {
	return &ChainAligner{
		scorer:            scorer,
		parallelThreshold: parallelThreshold,
	}
}

// Align scores every contract with the symbol's hv and returns one row per
// distinct strike, ascending. When a side has duplicates at a strike the first
// contract in chain order is used.
func (a *ChainAligner) Align(_ context.Context, contracts []*interfaces.OptionContract, hv *float64) []interfaces.AlignedRow {
	scored := a.scoreAll(contracts, hv)

	calls := make(map[int64]*interfaces.ScoredContract)
	puts := make(map[int64]*interfaces.ScoredContract)
	strikes := make(map[int64]float64)

	for _, sc := range scored {
		if sc == nil {
			continue
		}
		key := strikeKey(sc.Strike)

		var side map[int64]*interfaces.ScoredContract
		switch sc.Type {
		case interfaces.OptionTypeCall:
			side = calls
		case interfaces.OptionTypePut:
			side = puts
		default:
			continue
		}

		if _, seen := side[key]; !seen {
			side[key] = sc
		}
		if _, seen := strikes[key]; !seen {
			strikes[key] = sc.Strike
		}
	}

	keys := make([]int64, 0, len(strikes))
	for k := range strikes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([]interfaces.AlignedRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, interfaces.AlignedRow{
			Strike: strikes[k],
			Call:   calls[k],
			Put:    puts[k],
		})
	}

	return rows
}

// scoreAll keeps chain order in its output regardless of scoring concurrency.
// Scoring is pure CPU work, so every contract is scored even if ctx is done.
func (a *ChainAligner) scoreAll(contracts []*interfaces.OptionContract, hv *float64) []*interfaces.ScoredContract {
	scored := make([]*interfaces.ScoredContract, len(contracts))

	score := func(i int) {
		c := contracts[i]
		if c == nil || c.Strike <= 0 || math.IsNaN(c.Strike) || math.IsInf(c.Strike, 0) {
			return
		}
		scored[i] = a.scorer.ScoreContract(c, hv)
	}

	if a.parallelThreshold <= 0 || len(contracts) < a.parallelThreshold {
		for i := range contracts {
			score(i)
		}
		return scored
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range contracts {
		i := i
		g.Go(func() error {
			score(i)
			return nil
		})
	}
	_ = g.Wait()

	return scored
}

// strikeKey buckets strikes at 1/1000, the OCC strike resolution
func strikeKey(strike float64) int64 {
	return int64(math.Round(strike * 1000))
}
