package aggregate

import "github.com/shopspring/decimal"

// Accumulator is the pure arithmetic model of one aggregate row's
// (count, total, avg, min, max) fold, mirroring exactly what the
// upsertAggregateSQL ON CONFLICT clause computes row-by-row in the
// database. Kept as a standalone, side-effect-free type so the §8
// merge-associativity invariant can be property-tested without a
// database.
type Accumulator struct {
	Count int64
	Total decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// single returns the accumulator for one transaction amount.
func single(amount decimal.Decimal) Accumulator {
	return Accumulator{Count: 1, Total: amount, Min: amount, Max: amount}
}

// Merge combines a and b the same way two upserts into the same
// (window, payment_method, currency, payment_status) key combine:
// counts and totals add, min/max take the extremes. Merge is
// associative and commutative, matching the SQL's conflict resolution
// regardless of arrival order.
func (a Accumulator) Merge(b Accumulator) Accumulator {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	min := a.Min
	if b.Min.LessThan(min) {
		min = b.Min
	}
	max := a.Max
	if b.Max.GreaterThan(max) {
		max = b.Max
	}
	return Accumulator{
		Count: a.Count + b.Count,
		Total: a.Total.Add(b.Total),
		Min:   min,
		Max:   max,
	}
}

// Avg returns Total/Count, matching the SQL's avg column.
func (a Accumulator) Avg() decimal.Decimal {
	if a.Count == 0 {
		return decimal.Zero
	}
	return a.Total.DivRound(decimal.NewFromInt(a.Count), 8)
}
