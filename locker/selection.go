package locker

import (
	"math"
	"sort"

	"github.com/TEENet-io/watchwallet/ledger"
)

// SelectOutputs picks the outputs to lock for amount.
//
// Policy: the fewest outputs that can cover amount; for that count, each slot
// takes the smallest candidate such that the remaining slots, filled with the
// largest candidates after it, still reach amount. Candidates are ordered by
// value, mined height and id, so the result is deterministic.
func SelectOutputs(candidates []*ledger.Output, amount uint64) ([]*ledger.Output, bool) {
	if amount == 0 || len(candidates) == 0 {
		return nil, false
	}

	sorted := make([]*ledger.Output, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		if a.MinedHeight != b.MinedHeight {
			return a.MinedHeight < b.MinedHeight
		}
		return a.ID < b.ID
	})

	n := len(sorted)
	// suffix[i] is the sum of sorted[i:], saturating at MaxUint64
	suffix := make([]uint64, n+1)
	for i := n - 1; i >= 0; i-- {
		suffix[i] = addSat(suffix[i+1], sorted[i].Value)
	}

	k := 0
	for c := 1; c <= n; c++ {
		if suffix[n-c] >= amount {
			k = c
			break
		}
	}
	if k == 0 {
		return nil, false
	}

	chosen := make([]*ledger.Output, 0, k)
	remaining := amount
	next := 0
	for slots := k; slots > 0; slots-- {
		// the largest slots-1 candidates are the last slots-1 of sorted
		tail := suffix[n-slots+1]
		for i := next; i <= n-slots; i++ {
			v := sorted[i].Value
			if addSat(v, tail) >= remaining {
				chosen = append(chosen, sorted[i])
				if v >= remaining {
					remaining = 0
				} else {
					remaining -= v
				}
				next = i + 1
				break
			}
		}
	}
	return chosen, true
}

func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func sumValues(outs []*ledger.Output) uint64 {
	var sum uint64
	for _, o := range outs {
		sum = addSat(sum, o.Value)
	}
	return sum
}
