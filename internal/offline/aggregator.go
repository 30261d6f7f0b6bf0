package offline

import (
	"github.com/shopspring/decimal"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// Aggregator groups transactions by a fixed set of dimension fields and
// rolls each group up into count/sum/avg/min/max plus status/method/
// currency breakdowns and unique-entity cardinalities. Grounded on
// original_source's Aggregator.aggregate/_group_by_dimensions/
// _aggregate_group.
type Aggregator struct {
	Dimensions []string
	Window     domain.TimeWindow
}

// NewAggregator constructs an Aggregator for one time window.
func NewAggregator(dimensions []string, window domain.TimeWindow) *Aggregator {
	return &Aggregator{Dimensions: dimensions, Window: window}
}

// Aggregate filters transactions to a.Window, groups by a.Dimensions, and
// rolls up each group into one AggregatedMetric. Order is not
// significant; callers needing deterministic output should sort the
// result.
func (a *Aggregator) Aggregate(transactions []domain.Transaction) []AggregatedMetric {
	type groupKey string
	groups := make(map[groupKey][]domain.Transaction)
	dimValuesByKey := make(map[groupKey]map[string]string)

	for _, tx := range transactions {
		if !a.Window.Contains(tx.Timestamp) {
			continue
		}
		dims := make(map[string]string, len(a.Dimensions))
		var key string
		for _, d := range a.Dimensions {
			v := dimensionValue(tx, d)
			dims[d] = v
			key += d + "=" + v + "\x1f"
		}
		k := groupKey(key)
		groups[k] = append(groups[k], tx)
		dimValuesByKey[k] = dims
	}

	metrics := make([]AggregatedMetric, 0, len(groups))
	for k, group := range groups {
		m := a.aggregateGroup(group, dimValuesByKey[k])
		if m != nil {
			metrics = append(metrics, *m)
		}
	}
	return metrics
}

func (a *Aggregator) aggregateGroup(transactions []domain.Transaction, dims map[string]string) *AggregatedMetric {
	if len(transactions) == 0 {
		return nil
	}

	total := decimal.Zero
	min := transactions[0].Amount
	max := transactions[0].Amount
	statusCounts := map[string]int{}
	methodCounts := map[string]int{}
	currencyCounts := map[string]int{}
	customers := map[string]struct{}{}
	merchants := map[string]struct{}{}

	for _, tx := range transactions {
		total = total.Add(tx.Amount)
		if tx.Amount.LessThan(min) {
			min = tx.Amount
		}
		if tx.Amount.GreaterThan(max) {
			max = tx.Amount
		}
		statusCounts[string(tx.Status)]++
		methodCounts[tx.PaymentMethod()]++
		currencyCounts[tx.Currency]++
		if tx.CustomerID != "" {
			customers[tx.CustomerID] = struct{}{}
		}
		if tx.MerchantID != "" {
			merchants[tx.MerchantID] = struct{}{}
		}
	}

	count := len(transactions)
	avg := total.DivRound(decimal.NewFromInt(int64(count)), 8)

	return &AggregatedMetric{
		WindowStart:       a.Window.Start,
		WindowEnd:         a.Window.End,
		Dimensions:        dims,
		TotalCount:        count,
		TotalAmount:       total,
		AvgAmount:         avg,
		MinAmount:         min,
		MaxAmount:         max,
		StatusBreakdown:   statusCounts,
		MethodBreakdown:   methodCounts,
		CurrencyBreakdown: currencyCounts,
		UniqueCustomers:   len(customers),
		UniqueMerchants:   len(merchants),
	}
}

// dimensionValue reads a named dimension field off tx, defaulting to
// "unknown" when the field is empty — mirrors original_source's
// getattr(tx, dim, "unknown").
func dimensionValue(tx domain.Transaction, dim string) string {
	var v string
	switch dim {
	case "payment_method":
		v = tx.PaymentMethod()
	case "currency":
		v = tx.Currency
	case "status", "payment_status":
		v = string(tx.Status)
	case "merchant_id":
		v = tx.MerchantID
	case "customer_id":
		v = tx.CustomerID
	case "transaction_type":
		v = tx.TransactionType
	case "channel":
		v = tx.Channel
	case "device_type":
		v = tx.DeviceType
	case "merchant_category":
		v = tx.MerchantCategory
	case "customer_country":
		v = tx.CustomerCountry
	}
	if v == "" {
		return "unknown"
	}
	return v
}
