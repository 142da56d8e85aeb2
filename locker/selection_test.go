package locker

import (
	"math"
	"math/bits"
	"testing"

	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func out(id int64, value, height uint64) *ledger.Output {
	return &ledger.Output{ID: id, Value: value, MinedHeight: height}
}

func ids(outs []*ledger.Output) []int64 {
	res := []int64{}
	for _, o := range outs {
		res = append(res, o.ID)
	}
	return res
}

func TestSelectOutputs(t *testing.T) {
	cands := []*ledger.Output{out(1, 500, 1), out(2, 400, 1), out(3, 600, 1)}

	chosen, ok := SelectOutputs(cands, 1_000)
	require.True(t, ok)
	assert.Equal(t, []int64{2, 3}, ids(chosen))

	chosen, ok = SelectOutputs(cands, 550)
	require.True(t, ok)
	assert.Equal(t, []int64{3}, ids(chosen))

	chosen, ok = SelectOutputs(cands, 1_500)
	require.True(t, ok)
	assert.Equal(t, []int64{2, 1, 3}, ids(chosen))

	_, ok = SelectOutputs(cands, 1_501)
	assert.False(t, ok)
	_, ok = SelectOutputs(nil, 1)
	assert.False(t, ok)
	_, ok = SelectOutputs(cands, 0)
	assert.False(t, ok)
}

func TestSelectOutputsTieBreak(t *testing.T) {
	cands := []*ledger.Output{out(9, 100, 5), out(4, 100, 3), out(7, 100, 3)}

	chosen, ok := SelectOutputs(cands, 100)
	require.True(t, ok)
	assert.Equal(t, []int64{4}, ids(chosen))

	chosen, ok = SelectOutputs(cands, 150)
	require.True(t, ok)
	assert.Equal(t, []int64{4, 7}, ids(chosen))
}

func TestSelectOutputsLargeValues(t *testing.T) {
	top := ledger.MaxValue
	cands := []*ledger.Output{out(1, top, 1), out(2, top, 1), out(3, top, 1)}

	// three outputs together exceed the uint64 range
	chosen, ok := SelectOutputs(cands, math.MaxUint64)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3}, ids(chosen))
	assert.Equal(t, uint64(math.MaxUint64), sumValues(chosen))

	chosen, ok = SelectOutputs(cands, 2*top)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, ids(chosen))

	chosen, ok = SelectOutputs(append(cands, out(4, 5, 1)), top+5)
	require.True(t, ok)
	assert.Equal(t, []int64{4, 1}, ids(chosen))
}

func TestSelectOutputsProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 10).Draw(rt, "n")
		cands := make([]*ledger.Output, 0, n)
		var total uint64
		for i := 0; i < n; i++ {
			v := rapid.Uint64Range(1, 1_000).Draw(rt, "value")
			h := rapid.Uint64Range(1, 5).Draw(rt, "height")
			cands = append(cands, out(int64(i+1), v, h))
			total += v
		}
		amount := rapid.Uint64Range(1, 3_000).Draw(rt, "amount")

		chosen, ok := SelectOutputs(cands, amount)
		require.Equal(rt, total >= amount, ok)
		if !ok {
			return
		}
		require.GreaterOrEqual(rt, sumValues(chosen), amount)

		// no subset with fewer outputs covers amount
		best := n + 1
		for mask := uint(1); mask < 1<<uint(n); mask++ {
			var sum uint64
			for i := 0; i < n; i++ {
				if mask&(1<<uint(i)) != 0 {
					sum += cands[i].Value
				}
			}
			if sum >= amount && bits.OnesCount(mask) < best {
				best = bits.OnesCount(mask)
			}
		}
		require.Equal(rt, best, len(chosen))

		// input order does not matter
		perm := rapid.Permutation(cands).Draw(rt, "perm")
		again, ok := SelectOutputs(perm, amount)
		require.True(rt, ok)
		require.Equal(rt, ids(chosen), ids(again))

		seen := map[int64]bool{}
		for _, o := range chosen {
			require.False(rt, seen[o.ID])
			seen[o.ID] = true
		}
	})
}
