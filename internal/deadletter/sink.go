// Package deadletter implements the Dead-Letter Sink (C6): a write-only,
// synchronous, single-row insert into the failed_items table.
// Unavailability is logged but must not block broker acknowledge; the
// caller (Processor) is responsible for the "exactly one of {commit,
// dead-letter} succeeds before checkpoint" contract in §4.6.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/errs"
	"github.com/paynet/nexus-pipeline/internal/resilience"
)

// Querier is the narrow pgx surface the sink needs, satisfied by both
// *pgxpool.Conn and *pgx.Conn (and a fake in tests).
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertFailedItem = `
INSERT INTO failed_items (transaction_id, correlation_id, error_type, error_message, raw_payload, failed_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

// Sink writes FailedItem rows. Grounded on the Processor's dead-letter
// fan-out named throughout §4 (C2's bad-parse routing, C3's storage_error
// routing, C5's processing_error routing all converge here).
type Sink struct {
	conn Querier
	log  zerolog.Logger
}

// New constructs a Sink bound to conn.
func New(conn Querier, log zerolog.Logger) *Sink {
	return &Sink{conn: conn, log: log.With().Str("component", "deadletter").Logger()}
}

// Write performs a single synchronous insert of item.
func (s *Sink) Write(ctx context.Context, item domain.FailedItem) error {
	if item.FailedAt.IsZero() {
		item.FailedAt = time.Now().UTC()
	}
	_, err := s.conn.Exec(ctx, insertFailedItem,
		item.TransactionID, item.CorrelationID, item.ErrorType, item.ErrorMessage, item.RawPayload, item.FailedAt)
	if err != nil {
		return errs.New(errs.TagDeadLetterDown, fmt.Errorf("insert failed_items row: %w", err))
	}
	return nil
}

// WriteWithRetry retries Write indefinitely with the §7
// DeadLetterUnavailable policy (exponential backoff capped at 30s) until
// ctx is cancelled. Used only where the caller has no alternative but to
// keep trying (e.g. the Processor's last-resort path when both the
// aggregate commit AND the first dead-letter attempt have failed).
func (s *Sink) WriteWithRetry(ctx context.Context, item domain.FailedItem) error {
	backoff := resilience.DeadLetterBackoff()
	return resilience.Retry(ctx, backoff, s.log, func(attempt int) error {
		return s.Write(ctx, item)
	})
}
