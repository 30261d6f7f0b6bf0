package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/errs"
	"github.com/paynet/nexus-pipeline/internal/resilience"
)

// connectMaxFailures/connectResetTimeout/connectHalfOpenSuccess size the
// breaker guarding Connect's dial: five consecutive failures open the
// circuit for 30s (matching the reconnect backoff's own cap) so a dead
// broker doesn't get hammered with one dial attempt per reconnect step;
// two consecutive half-open successes are required before trusting the
// broker is back.
const (
	connectMaxFailures     = 5
	connectResetTimeout    = 30 * time.Second
	connectHalfOpenSuccess = 2
)

// KafkaAdapter implements Adapter over github.com/segmentio/kafka-go,
// generalizing the teacher's single-purpose kafka.Reader consumption loop
// (consumer/main.go's readMessages) into the full Connect/ConsumeBatch/
// AcknowledgeBatch/Checkpoint/Disconnect lifecycle, plus the reconnect
// state machine and exponential backoff from §4.1 (adapted from
// consumer/startup.go's waitForKafka retry idiom).
type KafkaAdapter struct {
	brokers []string
	topic   string
	groupID string

	reader *kafkago.Reader
	state  int32 // atomic State

	reconnects int
	log        zerolog.Logger

	// breaker fails Connect fast once dialing has failed
	// connectMaxFailures times in a row, instead of letting every
	// reconnect step in §4.1's backoff schedule pay its own dial
	// timeout against a broker that is still down.
	breaker *resilience.CircuitBreaker
}

// NewKafkaAdapter constructs an adapter bound to the given brokers/topic/
// consumer group. Connect must be called before use.
func NewKafkaAdapter(brokers []string, topic, groupID string, log zerolog.Logger) *KafkaAdapter {
	return &KafkaAdapter{
		brokers: brokers,
		topic:   topic,
		groupID: groupID,
		state:   int32(Disconnected),
		log:     log.With().Str("component", "kafka_adapter").Str("topic", topic).Logger(),
		breaker: resilience.NewCircuitBreaker("kafka_connect", connectMaxFailures, connectResetTimeout, connectHalfOpenSuccess, log),
	}
}

func (a *KafkaAdapter) setState(s State) { atomic.StoreInt32(&a.state, int32(s)) }
func (a *KafkaAdapter) State() State      { return State(atomic.LoadInt32(&a.state)) }

// Connect establishes the kafka.Reader and verifies a controller is
// reachable, mirroring startup.go's waitForKafka(1 attempt) probe but
// surfacing failure as a ConnectionFailed-tagged error instead of a bare
// error, and completing within the caller's context deadline. The dial
// and controller check run under the breaker, so once the broker has
// failed connectMaxFailures times in a row, further calls short-circuit
// with ErrCircuitOpen instead of paying a fresh dial timeout each time.
func (a *KafkaAdapter) Connect(ctx context.Context) error {
	a.setState(Connecting)

	if len(a.brokers) == 0 {
		a.setState(Disconnected)
		return errs.New(errs.TagConnectionFailed, fmt.Errorf("no brokers configured"))
	}

	err := a.breaker.Call(func() error {
		conn, err := kafkago.DialContext(ctx, "tcp", a.brokers[0])
		if err != nil {
			return err
		}
		if _, err := conn.Controller(); err != nil {
			conn.Close()
			return err
		}
		conn.Close()
		return nil
	})
	if err != nil {
		a.setState(Disconnected)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return errs.New(errs.TagConnectionFailed, fmt.Errorf("circuit open after repeated dial failures: %w", err))
		}
		return errs.New(errs.TagConnectionFailed, err)
	}

	a.reader = kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  a.brokers,
		Topic:    a.topic,
		GroupID:  a.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	a.reconnects = 0
	a.setState(Connected)
	a.log.Info().Msg("connected to kafka")
	return nil
}

// ConsumeBatch pulls up to maxMessages within timeout. A transient read
// error triggers the §4.1 reconnect sequence before surfacing to the
// caller; repeated failure past 10 attempts returns a BrokerFatal error.
func (a *KafkaAdapter) ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (*domain.MessageBatch, error) {
	if a.State() != Connected {
		return nil, errs.New(errs.TagBrokerFatal, fmt.Errorf("adapter not connected"))
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []domain.Message
	for len(messages) < maxMessages {
		m, err := a.reader.FetchMessage(cctx)
		if err != nil {
			if cctx.Err() != nil {
				break // timeout or caller cancellation: return what we have
			}
			if err := a.reconnect(ctx); err != nil {
				return nil, err
			}
			break
		}
		messages = append(messages, kafkaMessageToDomain(m))
	}

	if len(messages) == 0 {
		return nil, nil
	}

	return &domain.MessageBatch{
		BatchID:    uuid.NewString(),
		ReceivedAt: time.Now().UTC(),
		Flavor:     domain.FlavorKafka,
		Messages:   messages,
	}, nil
}

func kafkaMessageToDomain(m kafkago.Message) domain.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	correlationID := headers["correlation_id"]
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return domain.Message{
		MessageID:      fmt.Sprintf("%d-%d", m.Partition, m.Offset),
		CorrelationID:  correlationID,
		Timestamp:      m.Time,
		Headers:        headers,
		Body:           m.Value,
		Offset:         m.Offset,
		SequenceNumber: m.Offset,
		Partition:      m.Partition,
	}
}

// AcknowledgeBatch is a no-op for Kafka: Checkpoint commits the offset
// that subsumes acknowledgment.
func (a *KafkaAdapter) AcknowledgeBatch(ctx context.Context, batch *domain.MessageBatch) error {
	if batch.Empty() {
		return ErrInvalidArgument
	}
	return nil
}

// Checkpoint commits consumer-group offsets for every message in batch.
func (a *KafkaAdapter) Checkpoint(ctx context.Context, batch *domain.MessageBatch) error {
	if batch.Empty() {
		return ErrInvalidArgument
	}

	msgs := make([]kafkago.Message, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		msgs = append(msgs, kafkago.Message{Partition: m.Partition, Offset: m.Offset})
	}
	if err := a.reader.CommitMessages(ctx, msgs...); err != nil {
		return errs.New(errs.TagDBTransient, err)
	}
	return nil
}

// Disconnect is idempotent.
func (a *KafkaAdapter) Disconnect(ctx context.Context) error {
	if a.State() == Disconnected {
		return nil
	}
	a.setState(Disconnecting)
	var err error
	if a.reader != nil {
		err = a.reader.Close()
	}
	a.setState(Disconnected)
	return err
}

// reconnect implements the §4.1 state machine: exponential backoff
// 2*2^(k-1)s capped at 30s, abandoned after 10 attempts.
func (a *KafkaAdapter) reconnect(ctx context.Context) error {
	backoff := resilience.ReconnectBackoff()

	err := resilience.Retry(ctx, backoff, a.log, func(attempt int) error {
		a.reconnects = attempt
		if a.reader != nil {
			_ = a.reader.Close()
		}
		a.setState(Connecting)
		return a.Connect(ctx)
	})
	if err != nil {
		a.setState(Disconnected)
		return errs.New(errs.TagBrokerFatal, fmt.Errorf("reconnect abandoned after %d attempts: %w", backoff.MaxAttempts(), err))
	}
	return nil
}
