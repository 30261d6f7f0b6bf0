// Package parsing implements the Parser/Validator (C2): transforming a
// Message's raw bytes into a Transaction or a ValidationError using a
// fail-fast discipline. Grounded on original_source's parser.py
// (TransactionParser) and data_parser.py (DataParser's schema cache,
// metrics, and dead-letter routing), ported from Python's isinstance/
// dict-walking validation onto typed Go struct decoding plus an explicit
// ordered rule list.
package parsing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// DeadLetterHandler receives every ValidationError outcome for
// out-of-band routing to the Dead-Letter Sink. Implementations must not
// panic; Parser recovers from a panicking handler so one bad handler
// invocation cannot break the parse loop (§4.2, "exceptions inside the
// handler MUST NOT break the parse loop").
type DeadLetterHandler func(outcome domain.ParseOutcome, rawBody []byte)

// Options configures optional, deployment-specific parsing behavior.
type Options struct {
	// AllowTimestampFallbackToNow permits an absent timestamp field to
	// default to time.Now() instead of failing validation — §4.2: "falls
	// back to 'now' only if absent AND the deployment config opts in".
	AllowTimestampFallbackToNow bool
}

// Parser is the Parser/Validator component.
type Parser struct {
	opts        Options
	schemas     *schemaCache
	metrics     *metricsTracker
	deadLetter  DeadLetterHandler
	log         zerolog.Logger
}

// New constructs a Parser. manager and deadLetter may be nil.
func New(manager SchemaManager, deadLetter DeadLetterHandler, opts Options, log zerolog.Logger) *Parser {
	return &Parser{
		opts:       opts,
		schemas:    newSchemaCache(manager),
		metrics:    newMetricsTracker(),
		deadLetter: deadLetter,
		log:        log.With().Str("component", "parser").Logger(),
	}
}

// wireTransaction is the raw JSON shape a payment-transaction message
// carries on the wire, matching the required-field list of §4.2.
type wireTransaction struct {
	TransactionID    string          `json:"transaction_id"`
	CorrelationID    string          `json:"correlation_id"`
	Timestamp        string          `json:"timestamp"`
	TransactionType  string          `json:"transaction_type"`
	Channel          string          `json:"channel"`
	Amount           json.RawMessage `json:"amount"`
	Currency         string          `json:"currency"`
	MerchantID       string          `json:"merchant_id"`
	CustomerID       string          `json:"customer_id"`
	Status           string          `json:"status"`
	CustomerEmail    string          `json:"customer_email"`
	CustomerCountry  string          `json:"customer_country"`
	MerchantName     string          `json:"merchant_name"`
	MerchantCategory string          `json:"merchant_category"`
	DeviceType       string          `json:"device_type"`
	Metadata         json.RawMessage `json:"metadata"`
}

// requiredFields is the §3/§4.2 required-field list, used only to
// generate the "field missing" error with the right field name; presence
// is actually checked against the decoded generic map so a field typed
// incorrectly (e.g. amount as a JSON string) is distinguished from a
// field that is outright absent.
var requiredFields = []string{
	"transaction_id", "correlation_id", "timestamp", "transaction_type",
	"channel", "amount", "currency", "merchant_id", "customer_id", "status",
}

// Parse transforms body into a ParseOutcome, following the §4.2 fail-fast
// field rule order: required-field presence, then per-field type/format/
// range rules in the table order (non-empty strings; amount numeric and
// >0; currency 3-char; status enum case-insensitive; timestamp ISO-8601
// with Z normalization; metadata coerced to an object).
func (p *Parser) Parse(body []byte, schemaName string) domain.ParseOutcome {
	start := time.Now()

	if _, err := p.schemas.load(schemaName); err != nil {
		p.log.Warn().Err(err).Str("schema", schemaName).Msg("schema load failed, proceeding with base validation only")
	}

	outcome := p.parse(body)

	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
	if outcome.OK {
		p.metrics.recordSuccess(elapsedMs)
	} else {
		p.metrics.recordFailure(outcome.Err.Constraint, elapsedMs)
		p.routeToDeadLetter(outcome, body)
	}
	if elapsedMs > 50 {
		p.log.Warn().Float64("elapsed_ms", elapsedMs).Msg("parse latency exceeds 50ms target")
	}

	return outcome
}

func (p *Parser) parse(body []byte) domain.ParseOutcome {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return errOutcome(body, "body", "json_format", "valid JSON", err.Error(), fmt.Sprintf("failed to parse JSON: %v", err))
	}

	for _, f := range requiredFields {
		if _, present := generic[f]; !present {
			if f == "timestamp" && p.opts.AllowTimestampFallbackToNow {
				continue
			}
			return errOutcome(body, f, "required", "field must be present", "field missing",
				fmt.Sprintf("required field %q is missing", f))
		}
	}

	var w wireTransaction
	if err := json.Unmarshal(body, &w); err != nil {
		return errOutcome(body, "body", "deserialization", "well-formed transaction object", err.Error(),
			fmt.Sprintf("failed to decode transaction: %v", err))
	}

	for _, field := range []struct{ name, value string }{
		{"transaction_id", w.TransactionID},
		{"correlation_id", w.CorrelationID},
		{"merchant_id", w.MerchantID},
		{"customer_id", w.CustomerID},
	} {
		if strings.TrimSpace(field.value) == "" {
			return errOutcome(body, field.name, "non_empty", "non-empty string", "empty string",
				fmt.Sprintf("field %q must be a non-empty string", field.name))
		}
	}

	amountText := strings.Trim(string(w.Amount), `"`)
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return errOutcome(body, "amount", "type", "numeric", amountText,
			fmt.Sprintf("field \"amount\" must be a number, got %q", amountText))
	}
	if amount.Sign() <= 0 {
		return errOutcome(body, "amount", "range", "amount > 0", amount.String(),
			"field \"amount\" must be greater than 0")
	}

	if len(w.Currency) != 3 {
		return errOutcome(body, "currency", "format", "3-character currency code (ISO 4217)", w.Currency,
			"field \"currency\" must be a 3-character currency code")
	}

	status, ok := domain.ValidStatus(w.Status)
	if !ok {
		return errOutcome(body, "status", "allowed_values", "one of: success, declined, timeout, error", w.Status,
			"field \"status\" must be one of: success, declined, timeout, error")
	}

	ts, err := p.parseTimestamp(w.Timestamp)
	if err != nil {
		return errOutcome(body, "timestamp", "format", "ISO-8601 with offset", w.Timestamp, err.Error())
	}

	metadata := coerceMetadata(w.Metadata)

	tx := domain.Transaction{
		TransactionID:    w.TransactionID,
		CorrelationID:    w.CorrelationID,
		Timestamp:        ts,
		TransactionType:  defaultString(w.TransactionType, "payment"),
		Channel:          defaultString(w.Channel, "unknown"),
		Amount:           amount,
		Currency:         strings.ToUpper(w.Currency),
		MerchantID:       w.MerchantID,
		CustomerID:       w.CustomerID,
		CustomerEmail:    w.CustomerEmail,
		CustomerCountry:  w.CustomerCountry,
		MerchantName:     w.MerchantName,
		MerchantCategory: w.MerchantCategory,
		DeviceType:       w.DeviceType,
		Status:           status,
		Metadata:         metadata,
	}

	return domain.ParseOutcome{OK: true, Transaction: tx, RawBody: body}
}

func (p *Parser) parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		if p.opts.AllowTimestampFallbackToNow {
			return time.Now().UTC(), nil
		}
		return time.Time{}, fmt.Errorf("field \"timestamp\" is required and fallback-to-now is disabled")
	}
	normalized := raw
	if strings.HasSuffix(normalized, "Z") {
		normalized = strings.TrimSuffix(normalized, "Z") + "+00:00"
	}
	ts, err := time.Parse("2006-01-02T15:04:05.999999999-07:00", normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("field \"timestamp\" must be ISO-8601 with offset: %v", err)
	}
	return ts.UTC(), nil
}

func coerceMetadata(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	if m == nil {
		return map[string]any{}
	}
	return m
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func errOutcome(body []byte, field, constraint, expected, actual, message string) domain.ParseOutcome {
	return domain.ParseOutcome{
		OK: false,
		Err: &domain.ValidationError{
			Field:      field,
			Constraint: constraint,
			Expected:   expected,
			Actual:     actual,
			Message:    message,
		},
		RawBody: body,
	}
}

// routeToDeadLetter invokes the configured handler, recovering from any
// panic so a misbehaving handler cannot break the batch parse loop.
func (p *Parser) routeToDeadLetter(outcome domain.ParseOutcome, body []byte) {
	if p.deadLetter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("dead-letter handler panicked, continuing parse loop")
		}
	}()
	p.deadLetter(outcome, body)
}

// ParseBatch parses every message body, returning one outcome per input
// in order. A panic or error routing one message's rejection to the
// dead-letter handler does not abort the remaining messages.
func (p *Parser) ParseBatch(bodies [][]byte, schemaName string) []domain.ParseOutcome {
	out := make([]domain.ParseOutcome, len(bodies))
	for i, b := range bodies {
		out[i] = p.Parse(b, schemaName)
	}
	return out
}

// ReloadSchemas clears the schema cache, returning the count cleared.
func (p *Parser) ReloadSchemas() int {
	return p.schemas.reload()
}

// Metrics returns a snapshot of parsing metrics.
func (p *Parser) Metrics() Metrics {
	return p.metrics.snapshot()
}
