package domain

import "time"

// BrokerFlavor tags which wire variant produced a batch.
type BrokerFlavor string

const (
	FlavorKafka     BrokerFlavor = "kafka"
	FlavorEventHubs BrokerFlavor = "event_hubs"
)

// Message is the pre-parse wrapper as delivered by the broker. Created by
// the Adapter, consumed and discarded by the Parser.
type Message struct {
	MessageID      string
	CorrelationID  string
	Timestamp      time.Time
	Headers        map[string]string
	Body           []byte
	Offset         int64
	SequenceNumber int64
	Partition      int
}

// MessageBatch is an ordered sequence of Messages with a batch id, receive
// time, and broker flavor tag. Invariant: within a batch, broker offsets
// are monotonically non-decreasing per partition.
type MessageBatch struct {
	BatchID    string
	ReceivedAt time.Time
	Flavor     BrokerFlavor
	Messages   []Message
}

// Empty reports whether the batch carries zero messages. Adapter.
// ConsumeBatch returns a nil *MessageBatch rather than an empty one, but
// callers that receive a non-nil pointer still check this for safety.
func (b *MessageBatch) Empty() bool {
	return b == nil || len(b.Messages) == 0
}

// Len returns the number of messages in the batch.
func (b *MessageBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Messages)
}
