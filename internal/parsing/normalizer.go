package parsing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

func decimalFromArchiveString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// Normalizer re-validates archived RawEvents for off-line derivation. It
// checks that the amount parses as a decimal and that the status is one
// of the known values; it does not apply the live Parser's non-empty id,
// amount > 0 or currency-length rules. It adds one rule the live path
// has no use for: every transaction's timestamp must
// fall inside the requested [start, end) derivation range, since a
// mis-filed archive blob (wrong date partition, clock skew at ingest
// time) would otherwise silently skew windowed aggregates. Grounded on
// original_source's DataParser, reused here instead of duplicated since
// the off-line path re-derives from the same Transaction shape the live
// path produces.
type Normalizer struct {
	rejectOutOfRange bool
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{rejectOutOfRange: true}
}

// Normalize converts RawEvents back into Transactions, dropping (and
// reporting) any event whose payload is no longer well-formed or whose
// timestamp falls outside [start, end).
func (n *Normalizer) Normalize(events []domain.RawEvent, start, end time.Time) ([]domain.Transaction, []error) {
	out := make([]domain.Transaction, 0, len(events))
	var errs []error

	for _, ev := range events {
		tx, err := n.normalizeOne(ev, start, end)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, tx)
	}
	return out, errs
}

func (n *Normalizer) normalizeOne(ev domain.RawEvent, start, end time.Time) (domain.Transaction, error) {
	p := ev.EventPayload

	if n.rejectOutOfRange {
		if p.TransactionTimestamp.Before(start) || !p.TransactionTimestamp.Before(end) {
			return domain.Transaction{}, fmt.Errorf("transaction %s: timestamp %s outside derivation range [%s, %s)",
				ev.TransactionID, p.TransactionTimestamp.Format(time.RFC3339), start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
	}

	amount, err := decimalFromArchiveString(p.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: amount %q does not parse: %w", ev.TransactionID, p.Amount, err)
	}

	status, ok := domain.ValidStatus(p.PaymentStatus)
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s: unknown payment status %q", ev.TransactionID, p.PaymentStatus)
	}

	return domain.Transaction{
		TransactionID:    ev.TransactionID,
		CorrelationID:    ev.CorrelationID.String(),
		Timestamp:        p.TransactionTimestamp,
		TransactionType:  p.TransactionType,
		Channel:          p.Channel,
		Amount:           amount,
		Currency:         p.Currency,
		MerchantID:       p.MerchantID,
		CustomerID:       p.CustomerID,
		CustomerEmail:    p.CustomerEmail,
		CustomerCountry:  p.CustomerCountry,
		MerchantName:     p.MerchantName,
		MerchantCategory: p.MerchantCategory,
		DeviceType:       p.DeviceType,
		Status:           status,
		Metadata:         p.Metadata,
	}, nil
}
