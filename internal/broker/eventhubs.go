package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/errs"
	"github.com/paynet/nexus-pipeline/internal/resilience"
)

// EventHubsAdapter implements Adapter over Azure Event Hubs
// (azeventhubs.ConsumerClient), the flavor-A broker named in §4.1/§6.
// Grounded on original_source's event_hubs.py: AcknowledgeBatch is a
// no-op (checkpointing subsumes it) and Checkpoint updates the partition
// client's checkpoint store.
type EventHubsAdapter struct {
	connectionString string
	eventHub         string
	consumerGroup    string

	client     *azeventhubs.ConsumerClient
	partitions []*azeventhubs.PartitionClient

	lastEventMu sync.Mutex
	lastEvent   map[string]*azeventhubs.ReceivedEventData // partition ID -> last event seen

	state int32
	log   zerolog.Logger
}

// NewEventHubsAdapter constructs an adapter bound to the given Event Hub
// connection string and hub/consumer-group names.
func NewEventHubsAdapter(connectionString, eventHub, consumerGroup string, log zerolog.Logger) *EventHubsAdapter {
	if consumerGroup == "" {
		consumerGroup = azeventhubs.DefaultConsumerGroup
	}
	return &EventHubsAdapter{
		connectionString: connectionString,
		eventHub:         eventHub,
		consumerGroup:    consumerGroup,
		state:            int32(Disconnected),
		log:              log.With().Str("component", "event_hubs_adapter").Str("event_hub", eventHub).Logger(),
	}
}

func (a *EventHubsAdapter) setState(s State) { atomic.StoreInt32(&a.state, int32(s)) }
func (a *EventHubsAdapter) State() State      { return State(atomic.LoadInt32(&a.state)) }

// Connect creates the ConsumerClient and opens a partition client per
// discovered partition. Target: complete within 5s under nominal
// conditions (§4.1).
func (a *EventHubsAdapter) Connect(ctx context.Context) error {
	a.setState(Connecting)

	client, err := azeventhubs.NewConsumerClientFromConnectionString(a.connectionString, a.eventHub, a.consumerGroup, nil)
	if err != nil {
		a.setState(Disconnected)
		return errs.New(errs.TagConnectionFailed, err)
	}

	props, err := client.GetEventHubProperties(ctx, nil)
	if err != nil {
		a.setState(Disconnected)
		return errs.New(errs.TagConnectionFailed, err)
	}

	partitions := make([]*azeventhubs.PartitionClient, 0, len(props.PartitionIDs))
	for _, pid := range props.PartitionIDs {
		pc, err := client.NewPartitionClient(pid, &azeventhubs.PartitionClientOptions{
			StartPosition: azeventhubs.StartPosition{Latest: to(true)},
		})
		if err != nil {
			a.setState(Disconnected)
			return errs.New(errs.TagConnectionFailed, err)
		}
		partitions = append(partitions, pc)
	}

	a.client = client
	a.partitions = partitions
	a.lastEventMu.Lock()
	a.lastEvent = make(map[string]*azeventhubs.ReceivedEventData, len(partitions))
	a.lastEventMu.Unlock()
	a.setState(Connected)
	a.log.Info().Int("partitions", len(partitions)).Msg("connected to event hubs")
	return nil
}

func to[T any](v T) *T { return &v }

// ConsumeBatch receives events across all partition clients, stopping
// once maxMessages have accumulated or timeout elapses.
func (a *EventHubsAdapter) ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (*domain.MessageBatch, error) {
	if a.State() != Connected {
		return nil, errs.New(errs.TagBrokerFatal, fmt.Errorf("adapter not connected"))
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []domain.Message
	perPartition := maxMessages
	if n := len(a.partitions); n > 0 {
		perPartition = (maxMessages + n - 1) / n
	}

	for _, pc := range a.partitions {
		if len(messages) >= maxMessages {
			break
		}
		events, err := pc.ReceiveEvents(cctx, perPartition, nil)
		if err != nil {
			if cctx.Err() != nil {
				continue
			}
			if err := a.reconnect(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if len(events) > 0 {
			last := events[len(events)-1]
			a.lastEventMu.Lock()
			a.lastEvent[pc.PartitionID()] = last
			a.lastEventMu.Unlock()
		}
		for _, ev := range events {
			messages = append(messages, eventDataToDomain(ev))
		}
	}

	if len(messages) == 0 {
		return nil, nil
	}

	return &domain.MessageBatch{
		BatchID:    uuid.NewString(),
		ReceivedAt: time.Now().UTC(),
		Flavor:     domain.FlavorEventHubs,
		Messages:   messages,
	}, nil
}

func eventDataToDomain(ev *azeventhubs.ReceivedEventData) domain.Message {
	headers := make(map[string]string, len(ev.Properties))
	for k, v := range ev.Properties {
		headers[k] = fmt.Sprintf("%v", v)
	}
	correlationID := headers["correlation_id"]
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ts := time.Now().UTC()
	if ev.EnqueuedTime != nil {
		ts = *ev.EnqueuedTime
	}
	var seq int64
	if ev.SequenceNumber != nil {
		seq = *ev.SequenceNumber
	}
	return domain.Message{
		MessageID:      uuid.NewString(),
		CorrelationID:  correlationID,
		Timestamp:      ts,
		Headers:        headers,
		Body:           ev.Body,
		SequenceNumber: seq,
	}
}

// AcknowledgeBatch is a no-op for Event Hubs: checkpointing is the
// durable progress marker.
func (a *EventHubsAdapter) AcknowledgeBatch(ctx context.Context, batch *domain.MessageBatch) error {
	if batch.Empty() {
		return ErrInvalidArgument
	}
	return nil
}

// Checkpoint commits, for every partition touched since the last
// successful checkpoint, the latest ReceivedEventData observed by
// ConsumeBatch via PartitionClient.UpdateCheckpoint. Called only after
// the caller has durably committed the batch's writes (§4.1's
// checkpoint-after-commit ordering).
func (a *EventHubsAdapter) Checkpoint(ctx context.Context, batch *domain.MessageBatch) error {
	if batch.Empty() {
		return ErrInvalidArgument
	}

	a.lastEventMu.Lock()
	pending := make(map[string]*azeventhubs.ReceivedEventData, len(a.lastEvent))
	for k, v := range a.lastEvent {
		pending[k] = v
	}
	a.lastEventMu.Unlock()

	for _, pc := range a.partitions {
		ev, ok := pending[pc.PartitionID()]
		if !ok || ev == nil {
			continue
		}
		if err := pc.UpdateCheckpoint(ctx, ev, nil); err != nil {
			return errs.New(errs.TagDBTransient, fmt.Errorf("checkpoint partition %s: %w", pc.PartitionID(), err))
		}
	}
	return nil
}

// Disconnect closes every partition client and the consumer client.
func (a *EventHubsAdapter) Disconnect(ctx context.Context) error {
	if a.State() == Disconnected {
		return nil
	}
	a.setState(Disconnecting)
	for _, pc := range a.partitions {
		pc.Close(ctx)
	}
	var err error
	if a.client != nil {
		err = a.client.Close(ctx)
	}
	a.setState(Disconnected)
	return err
}

func (a *EventHubsAdapter) reconnect(ctx context.Context) error {
	backoff := resilience.ReconnectBackoff()
	err := resilience.Retry(ctx, backoff, a.log, func(attempt int) error {
		a.setState(Connecting)
		return a.Connect(ctx)
	})
	if err != nil {
		a.setState(Disconnected)
		return errs.New(errs.TagBrokerFatal, fmt.Errorf("reconnect abandoned: %w", err))
	}
	return nil
}
