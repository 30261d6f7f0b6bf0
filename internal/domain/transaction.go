// Package domain holds the wire- and storage-agnostic data model shared
// across every component: Message/MessageBatch (broker side), Transaction/
// ParseOutcome (parser output), RawEvent (archive unit), DerivedMetric/
// AggregateRow/HistogramRow (rule engine + aggregate writer output),
// FailedItem (dead-letter row), TimeWindow and Rule.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates the four statuses a Transaction may carry.
type PaymentStatus string

const (
	StatusSuccess  PaymentStatus = "success"
	StatusDeclined PaymentStatus = "declined"
	StatusTimeout  PaymentStatus = "timeout"
	StatusError    PaymentStatus = "error"
)

// ValidStatus reports whether s matches one of the four enumerated
// statuses, case-insensitively.
func ValidStatus(s string) (PaymentStatus, bool) {
	switch PaymentStatus(normalizeLower(s)) {
	case StatusSuccess:
		return StatusSuccess, true
	case StatusDeclined:
		return StatusDeclined, true
	case StatusTimeout:
		return StatusTimeout, true
	case StatusError:
		return StatusError, true
	default:
		return "", false
	}
}

func normalizeLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Transaction is the result of parsing one message. Immutable after
// construction; owned by the batch that produced it.
type Transaction struct {
	TransactionID    string
	CorrelationID    string
	Timestamp        time.Time
	TransactionType  string
	Channel          string
	Amount           decimal.Decimal
	Currency         string
	MerchantID       string
	CustomerID       string
	CustomerEmail    string
	CustomerCountry  string
	MerchantName     string
	MerchantCategory string
	DeviceType       string
	Status           PaymentStatus
	Metadata         map[string]any
}

// PaymentMethod derives the coarse payment-method dimension used by the
// aggregate writer and rule engine from TransactionType, defaulting to
// "unknown" when absent — mirrors the original source treating
// payment_method as a first-class field distinct from transaction_type
// in the relational schema while the wire payload only carries one.
func (t Transaction) PaymentMethod() string {
	if t.TransactionType == "" {
		return "unknown"
	}
	return t.TransactionType
}

// ValidationError describes a single failed field-level rule.
type ValidationError struct {
	Field      string
	Constraint string
	Expected   string
	Actual     string
	Message    string
}

func (v *ValidationError) Error() string { return v.Message }

// ParseOutcome is the tagged-variant result of Parser.Parse: exactly one
// of Transaction (when OK) or Err is meaningful. RawBody is always
// preserved so a failed outcome can still be archived/dead-lettered.
type ParseOutcome struct {
	OK          bool
	Transaction Transaction
	Err         *ValidationError
	RawBody     []byte
}
