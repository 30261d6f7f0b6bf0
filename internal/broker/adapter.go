// Package broker implements the Broker Adapter (C1): a uniform pull
// interface over the Kafka and Azure Event Hubs wire variants, with
// connection-lifecycle state machine, batch receive, acknowledge, and
// checkpoint. Grounded on the teacher's consumer/main.go readMessages
// loop and consumer/startup.go waitForKafka retry idiom, generalized
// behind the Adapter interface and extended with the reconnect state
// machine from §4.1.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// ErrInvalidArgument is returned by AcknowledgeBatch/Checkpoint when
// called with an empty batch, per §4.1.
var ErrInvalidArgument = errors.New("broker: invalid argument")

// State is a position in the Adapter's connection-lifecycle state machine.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Adapter is the single pull interface the Processor drives, regardless
// of which wire variant backs it.
type Adapter interface {
	// Connect establishes transport and discovers partitions. Completes
	// within 5s under nominal conditions; returns a
	// ConnectionFailed-tagged error otherwise.
	Connect(ctx context.Context) error

	// ConsumeBatch blocks up to timeout, returning early once maxMessages
	// have accumulated. Returns (nil, nil) when nothing arrived within
	// timeout.
	ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (*domain.MessageBatch, error)

	// AcknowledgeBatch signals broker-visible progress. No-op on flavors
	// where Checkpoint subsumes it.
	AcknowledgeBatch(ctx context.Context, batch *domain.MessageBatch) error

	// Checkpoint durably records progress.
	Checkpoint(ctx context.Context, batch *domain.MessageBatch) error

	// Disconnect is idempotent and releases resources.
	Disconnect(ctx context.Context) error

	// State reports the current connection-lifecycle state.
	State() State
}
