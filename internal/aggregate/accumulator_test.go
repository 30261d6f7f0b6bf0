package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amounts(t *testing.T, vals ...string) []decimal.Decimal {
	t.Helper()
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := decimal.NewFromString(v)
		if err != nil {
			t.Fatalf("bad decimal %q: %v", v, err)
		}
		out[i] = d
	}
	return out
}

// TestMergeAssociativity covers §8's "merging (a, b, c) in any order
// yields identical totals, mins, maxes and the same avg" invariant.
func TestMergeAssociativity(t *testing.T) {
	vals := amounts(t, "100.50", "25.00", "7.75")
	a, b, c := single(vals[0]), single(vals[1]), single(vals[2])

	leftToRight := a.Merge(b).Merge(c)
	rightToLeft := a.Merge(b.Merge(c))
	otherOrder := c.Merge(a).Merge(b)

	for _, pair := range [][2]Accumulator{{leftToRight, rightToLeft}, {leftToRight, otherOrder}} {
		assert.Equal(t, pair[0].Count, pair[1].Count)
		assert.True(t, pair[0].Total.Equal(pair[1].Total))
		assert.True(t, pair[0].Min.Equal(pair[1].Min))
		assert.True(t, pair[0].Max.Equal(pair[1].Max))
		assert.True(t, pair[0].Avg().Equal(pair[1].Avg()))
	}

	assert.Equal(t, int64(3), leftToRight.Count)
	assert.True(t, leftToRight.Min.Equal(vals[2]))
	assert.True(t, leftToRight.Max.Equal(vals[0]))
}

func TestMergeWithEmptyAccumulatorIsIdentity(t *testing.T) {
	a := single(decimal.RequireFromString("10"))
	empty := Accumulator{}

	assert.Equal(t, a, a.Merge(empty))
	assert.Equal(t, a, empty.Merge(a))
}

func TestTwoMessagesSameWindowAndKey(t *testing.T) {
	a1 := single(decimal.RequireFromString("100.50"))
	a2 := single(decimal.RequireFromString("50.25"))

	merged := a1.Merge(a2)
	assert.Equal(t, int64(2), merged.Count)
	assert.True(t, merged.Total.Equal(decimal.RequireFromString("150.75")))
	assert.True(t, merged.Min.Equal(decimal.RequireFromString("50.25")))
	assert.True(t, merged.Max.Equal(decimal.RequireFromString("100.50")))
	assert.True(t, merged.Avg().Equal(decimal.RequireFromString("75.375")))
}
