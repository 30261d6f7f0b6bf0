package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricType enumerates the six kinds of derived metric a rule can
// produce.
type MetricType string

const (
	MetricCount      MetricType = "count"
	MetricSum        MetricType = "sum"
	MetricAverage    MetricType = "average"
	MetricPercentage MetricType = "percentage"
	MetricRatio      MetricType = "ratio"
	MetricDerived    MetricType = "derived"
)

// DerivedMetric is the output of one rule firing against one transaction.
type DerivedMetric struct {
	TransactionID string
	MetricName    string
	MetricValue   decimal.Decimal
	MetricType    MetricType
	Category      string
	RuleName      string
	RuleVersion   string
	Context       map[string]any
	CalculatedAt  time.Time
	EffectiveDate time.Time
}

// AggregateRow is the rolling-window record keyed by (window_start,
// payment_method, currency, payment_status).
type AggregateRow struct {
	WindowStart   time.Time
	WindowEnd     time.Time
	PaymentMethod string
	Currency      string
	PaymentStatus string
	TotalCount    int64
	TotalAmount   decimal.Decimal
	AvgAmount     decimal.Decimal
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HistogramRow is keyed by (metric_type, event_type, time_window_start,
// time_window_end) with an event_count.
type HistogramRow struct {
	MetricType      MetricType
	EventType       string
	TimeWindowStart time.Time
	TimeWindowEnd   time.Time
	EventCount      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FailedItem is a persistent rejection record written by the Dead-Letter
// Sink.
type FailedItem struct {
	TransactionID   string
	CorrelationID   string
	ErrorType       string
	ErrorMessage    string
	RawPayload      []byte
	FailedAt        time.Time
}

// TimeWindow names a time-aligned bucket: start inclusive, end exclusive.
type TimeWindow struct {
	Name     string
	Duration time.Duration
	Start    time.Time
	End      time.Time
}

// Contains reports whether t falls within [Start, End).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Canonical window durations named in §3.
const (
	Window5Min  = 5 * time.Minute
	WindowHour  = time.Hour
	WindowDay   = 24 * time.Hour
	WindowWeek  = 7 * 24 * time.Hour
)

// Floor5 zeroes seconds/nanoseconds and rounds minutes down to the
// nearest multiple of 5, in UTC — the 5-minute aggregate window
// alignment function used throughout C5.
func Floor5(t time.Time) time.Time {
	t = t.UTC()
	minute := (t.Minute() / 5) * 5
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC)
}

// Window5Of returns the [start, start+5min) window enclosing t.
func Window5Of(t time.Time) TimeWindow {
	start := Floor5(t)
	return TimeWindow{Name: "5min", Duration: Window5Min, Start: start, End: start.Add(Window5Min)}
}
