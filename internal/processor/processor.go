// Package processor implements the Processor (C8): the main ingestion
// loop tying the Broker Adapter, Parser, Columnar Archiver, Rule Engine,
// Aggregate Writer and Dead-Letter Sink together. One Processor runs per
// partition assignment, processing messages sequentially within that
// assignment — the teacher's N-worker processMessages pool
// (consumer/main.go) is deliberately not preserved; see DESIGN.md.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/archive"
	"github.com/paynet/nexus-pipeline/internal/broker"
	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/parsing"
	"github.com/paynet/nexus-pipeline/internal/rules"
)

// AggregateWriter is the narrow surface the Processor needs from
// aggregate.Writer.
type AggregateWriter interface {
	WriteTransaction(ctx context.Context, tx domain.Transaction, metrics []domain.DerivedMetric) error
}

// DeadLetterWriter is the narrow surface the Processor needs from
// deadletter.Sink. WriteWithRetry backs the last-resort path: when a
// single Write fails, the message is not yet accounted for, and only
// a (possibly long) retry can still land it before the batch can
// checkpoint.
type DeadLetterWriter interface {
	Write(ctx context.Context, item domain.FailedItem) error
	WriteWithRetry(ctx context.Context, item domain.FailedItem) error
}

// Dependencies carries every collaborator the Processor drives. Passed
// explicitly rather than resolved via package-level singletons, per the
// §9 decision to make every component's dependencies visible at
// construction time.
type Dependencies struct {
	Adapter    broker.Adapter
	Parser     *parsing.Parser
	Archiver   *archive.Archiver
	Rules      *rules.Engine
	Aggregates AggregateWriter
	DeadLetter DeadLetterWriter
	SchemaName string
}

// Config controls batch sizing and poll cadence.
type Config struct {
	MaxBatchMessages int
	PollTimeout      time.Duration
}

func applyDefaults(c Config) Config {
	if c.MaxBatchMessages <= 0 {
		c.MaxBatchMessages = 100
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	return c
}

// Metrics tracks per-Processor counters for the ops surface.
type Metrics struct {
	MessagesConsumed int64
	MessagesParsed   int64
	MessagesFailed   int64
	BatchesProcessed int64
	LastBatchSize    int
	LastRunAt        time.Time
}

// Processor drives one partition assignment's consume/process/checkpoint
// cycle.
type Processor struct {
	deps    Dependencies
	cfg     Config
	log     zerolog.Logger
	metrics Metrics
}

// New constructs a Processor. deps must be fully populated; New does not
// validate connectivity — call deps.Adapter.Connect separately before Run.
func New(deps Dependencies, cfg Config, log zerolog.Logger) *Processor {
	return &Processor{
		deps: deps,
		cfg:  applyDefaults(cfg),
		log:  log.With().Str("component", "processor").Logger(),
	}
}

// Run loops ConsumeBatch→process→Acknowledge→Checkpoint until ctx is
// cancelled. Every message in a delivered batch is accounted for — routed
// either to a successful aggregate write or to the Dead-Letter Sink —
// before the batch is checkpointed, satisfying the at-least-once-after-
// kill invariant: a crash before Checkpoint simply redelivers the batch,
// and reprocessing a message that already reached the dead-letter table
// or the aggregate tables is explicitly not idempotent (see DESIGN.md).
// When processBatch reports that some message was neither committed nor
// durably dead-lettered, Checkpoint is skipped outright: the batch stays
// unacknowledged-for-offset-purposes and the broker redelivers it on the
// next poll, which is the only way to preserve the invariant without an
// in-process retry loop here.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := p.deps.Adapter.ConsumeBatch(ctx, p.cfg.MaxBatchMessages, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error().Err(err).Msg("consume batch failed")
			continue
		}
		if batch.Empty() {
			continue
		}

		accountedFor := p.processBatch(ctx, batch)

		if err := p.deps.Adapter.AcknowledgeBatch(ctx, batch); err != nil {
			p.log.Error().Err(err).Str("batch_id", batch.BatchID).Msg("acknowledge failed")
		}
		if !accountedFor {
			p.log.Error().Str("batch_id", batch.BatchID).Msg("batch has unaccounted messages, skipping checkpoint")
		} else if err := p.deps.Adapter.Checkpoint(ctx, batch); err != nil {
			p.log.Error().Err(err).Str("batch_id", batch.BatchID).Msg("checkpoint failed")
		}

		p.metrics.BatchesProcessed++
		p.metrics.LastBatchSize = batch.Len()
		p.metrics.LastRunAt = time.Now().UTC()
	}
}

// processBatch handles every message in batch in arrival order, never
// returning early: a failure on one message must not prevent the rest of
// the batch from being reached. It reports whether every message in the
// batch was durably accounted for — the precondition Run checks before
// checkpointing.
func (p *Processor) processBatch(ctx context.Context, batch *domain.MessageBatch) bool {
	accountedFor := true
	for _, msg := range batch.Messages {
		p.metrics.MessagesConsumed++
		if !p.processOne(ctx, msg) {
			accountedFor = false
		}
	}
	return accountedFor
}

// processOne reports whether msg was durably accounted for: committed
// to the aggregate tables, or dead-lettered (first attempt or retry).
func (p *Processor) processOne(ctx context.Context, msg domain.Message) bool {
	outcome := p.deps.Parser.Parse(msg.Body, p.deps.SchemaName)
	if !outcome.OK {
		p.metrics.MessagesFailed++
		return p.deadLetter(ctx, msg, "", outcome.Err.Message)
	}
	p.metrics.MessagesParsed++
	tx := outcome.Transaction

	if err := p.deps.Archiver.Buffer(ctx, toRawEvent(tx)); err != nil {
		p.log.Warn().Err(err).Str("transaction_id", tx.TransactionID).Msg("archive buffer rejected event")
	}

	derived := p.deps.Rules.Evaluate(tx)

	if err := p.deps.Aggregates.WriteTransaction(ctx, tx, derived); err != nil {
		p.metrics.MessagesFailed++
		return p.deadLetter(ctx, msg, tx.TransactionID, err.Error())
	}
	return true
}

// deadLetter writes item for msg, falling through to the retrying
// WriteWithRetry path when the first attempt fails. Only if both fail —
// meaning the sink stayed unavailable through ctx's remaining lifetime —
// does msg end up unaccounted for.
func (p *Processor) deadLetter(ctx context.Context, msg domain.Message, transactionID, reason string) bool {
	item := domain.FailedItem{
		TransactionID: transactionID,
		CorrelationID: msg.CorrelationID,
		ErrorType:     "processing_error",
		ErrorMessage:  reason,
		RawPayload:    msg.Body,
		FailedAt:      time.Now().UTC(),
	}
	if err := p.deps.DeadLetter.Write(ctx, item); err == nil {
		return true
	}
	p.log.Warn().Str("correlation_id", msg.CorrelationID).Msg("dead-letter write failed, retrying")
	if err := p.deps.DeadLetter.WriteWithRetry(ctx, item); err != nil {
		p.log.Error().Err(err).Str("correlation_id", msg.CorrelationID).Msg("dead-letter retry exhausted, message unaccounted for")
		return false
	}
	return true
}

// toRawEvent flattens a parsed Transaction into the archive unit. A
// malformed correlation id (non-UUID wire values are accepted by the
// parser) degrades to the nil UUID rather than failing the archive path.
func toRawEvent(tx domain.Transaction) domain.RawEvent {
	corrID, err := uuid.Parse(tx.CorrelationID)
	if err != nil {
		corrID = uuid.Nil
	}
	now := time.Now().UTC()
	return domain.RawEvent{
		TransactionID: tx.TransactionID,
		CorrelationID: corrID,
		CreatedAt:     now,
		EventPayload: domain.EventPayload{
			TransactionTimestamp: tx.Timestamp,
			IngestionTimestamp:   now,
			ProcessingTimestamp:  now,
			Amount:               tx.Amount.String(),
			Currency:             tx.Currency,
			PaymentMethod:        tx.PaymentMethod(),
			PaymentStatus:        string(tx.Status),
			CustomerID:           tx.CustomerID,
			CustomerEmail:        tx.CustomerEmail,
			CustomerCountry:      tx.CustomerCountry,
			MerchantID:           tx.MerchantID,
			MerchantName:         tx.MerchantName,
			MerchantCategory:     tx.MerchantCategory,
			TransactionType:      tx.TransactionType,
			Channel:              tx.Channel,
			DeviceType:           tx.DeviceType,
			Metadata:             tx.Metadata,
			UpdatedAt:            now,
		},
	}
}

// Metrics returns a snapshot of the processor's counters.
func (p *Processor) Metrics() Metrics {
	return p.metrics
}
