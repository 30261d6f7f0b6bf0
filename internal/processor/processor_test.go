package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus-pipeline/internal/archive"
	"github.com/paynet/nexus-pipeline/internal/broker"
	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/parsing"
	"github.com/paynet/nexus-pipeline/internal/rules"
)

// fakeAdapter delivers one batch per queued entry, then returns (nil,
// nil) forever, mirroring a drained partition.
type fakeAdapter struct {
	mu         sync.Mutex
	batches    []*domain.MessageBatch
	acked      []*domain.MessageBatch
	checkpoint []*domain.MessageBatch
}

func (f *fakeAdapter) Connect(ctx context.Context) error { return nil }

func (f *fakeAdapter) ConsumeBatch(ctx context.Context, maxMessages int, timeout time.Duration) (*domain.MessageBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeAdapter) AcknowledgeBatch(ctx context.Context, batch *domain.MessageBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, batch)
	return nil
}

func (f *fakeAdapter) Checkpoint(ctx context.Context, batch *domain.MessageBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoint = append(f.checkpoint, batch)
	return nil
}

func (f *fakeAdapter) Disconnect(ctx context.Context) error { return nil }

func (f *fakeAdapter) State() broker.State { return broker.Connected }

// fakeAggregateWriter records every call and can be made to fail.
type fakeAggregateWriter struct {
	mu       sync.Mutex
	calls    []domain.Transaction
	failIDs  map[string]bool
}

func (w *fakeAggregateWriter) WriteTransaction(ctx context.Context, tx domain.Transaction, metrics []domain.DerivedMetric) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, tx)
	if w.failIDs != nil && w.failIDs[tx.TransactionID] {
		return errors.New("constraint violation")
	}
	return nil
}

// fakeDeadLetter can be made to fail Write, WriteWithRetry, or both,
// so tests can exercise the Processor's last-resort retry path and the
// checkpoint-gating behavior when even that retry never lands.
type fakeDeadLetter struct {
	mu         sync.Mutex
	items      []domain.FailedItem
	failWrite  bool
	failRetry  bool
	retryCalls int
}

func (d *fakeDeadLetter) Write(ctx context.Context, item domain.FailedItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrite {
		return errors.New("dead-letter sink unavailable")
	}
	d.items = append(d.items, item)
	return nil
}

func (d *fakeDeadLetter) WriteWithRetry(ctx context.Context, item domain.FailedItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retryCalls++
	if d.failRetry {
		return errors.New("dead-letter sink still unavailable")
	}
	d.items = append(d.items, item)
	return nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) PutIfAbsent(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; ok {
		return archive.ErrBlobCollision
	}
	s.objects[path] = data
	return nil
}

func (s *fakeObjectStore) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (s *fakeObjectStore) Get(ctx context.Context, path string) ([]byte, error)       { return nil, nil }

func validBody(transactionID string) []byte {
	m := map[string]any{
		"transaction_id":   transactionID,
		"correlation_id":   "corr-" + transactionID,
		"merchant_id":      "merch-1",
		"customer_id":      "cust-1",
		"amount":           "42.00",
		"currency":         "USD",
		"status":           "success",
		"timestamp":        "2026-03-01T10:00:00Z",
		"transaction_type": "card",
		"channel":          "online",
	}
	body, _ := json.Marshal(m)
	return body
}

func invalidBody() []byte {
	return []byte(`{not json`)
}

func newTestProcessor(t *testing.T, adapter *fakeAdapter, aggWriter *fakeAggregateWriter, dl *fakeDeadLetter) *Processor {
	t.Helper()
	parser := parsing.New(nil, nil, parsing.Options{AllowTimestampFallbackToNow: false}, zerolog.Nop())

	arch, err := archive.New(archive.Config{
		Container:     "raw-events",
		BatchSize:     1000,
		MaxBufferSize: 2000,
		FlushInterval: time.Hour,
		Compression:   "snappy",
	}, newFakeObjectStore(), func(events []domain.RawEvent, reason string) {}, zerolog.Nop())
	require.NoError(t, err)

	engine := rules.New(nil, "v1", zerolog.Nop())

	return New(Dependencies{
		Adapter:    adapter,
		Parser:     parser,
		Archiver:   arch,
		Rules:      engine,
		Aggregates: aggWriter,
		DeadLetter: dl,
		SchemaName: "transaction",
	}, Config{MaxBatchMessages: 10, PollTimeout: 10 * time.Millisecond}, zerolog.Nop())
}

func TestProcessor_ValidMessageWritesAggregateAndChecksPoints(t *testing.T) {
	batch := &domain.MessageBatch{
		BatchID:  "b1",
		Messages: []domain.Message{{MessageID: "m1", CorrelationID: "corr-tx-1", Body: validBody("tx-1")}},
	}
	adapter := &fakeAdapter{batches: []*domain.MessageBatch{batch}}
	aggWriter := &fakeAggregateWriter{}
	dl := &fakeDeadLetter{}
	p := newTestProcessor(t, adapter, aggWriter, dl)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	require.Len(t, aggWriter.calls, 1)
	assert.Equal(t, "tx-1", aggWriter.calls[0].TransactionID)
	assert.Empty(t, dl.items)
	assert.Len(t, adapter.checkpoint, 1)
	assert.Len(t, adapter.acked, 1)
}

func TestProcessor_MalformedMessageRoutesToDeadLetterAndStillCheckpoints(t *testing.T) {
	batch := &domain.MessageBatch{
		BatchID:  "b1",
		Messages: []domain.Message{{MessageID: "m1", CorrelationID: "corr-bad", Body: invalidBody()}},
	}
	adapter := &fakeAdapter{batches: []*domain.MessageBatch{batch}}
	aggWriter := &fakeAggregateWriter{}
	dl := &fakeDeadLetter{}
	p := newTestProcessor(t, adapter, aggWriter, dl)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	assert.Empty(t, aggWriter.calls)
	require.Len(t, dl.items, 1)
	assert.Equal(t, "corr-bad", dl.items[0].CorrelationID)
	assert.Len(t, adapter.checkpoint, 1)
}

// TestProcessor_OneFailingMessageDoesNotBlockRestOfBatch covers §8's
// per-partition-order invariant together with the "every message
// accounted for before checkpoint" contract: a batch of three messages
// where the middle one fails the aggregate write still dead-letters
// exactly that one and checkpoints the whole batch.
func TestProcessor_OneFailingMessageDoesNotBlockRestOfBatch(t *testing.T) {
	batch := &domain.MessageBatch{
		BatchID: "b1",
		Messages: []domain.Message{
			{MessageID: "m1", CorrelationID: "corr-tx-1", Body: validBody("tx-1")},
			{MessageID: "m2", CorrelationID: "corr-tx-2", Body: validBody("tx-2")},
			{MessageID: "m3", CorrelationID: "corr-tx-3", Body: validBody("tx-3")},
		},
	}
	adapter := &fakeAdapter{batches: []*domain.MessageBatch{batch}}
	aggWriter := &fakeAggregateWriter{failIDs: map[string]bool{"tx-2": true}}
	dl := &fakeDeadLetter{}
	p := newTestProcessor(t, adapter, aggWriter, dl)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	require.Len(t, aggWriter.calls, 3)
	require.Len(t, dl.items, 1)
	assert.Equal(t, "tx-2", dl.items[0].TransactionID)
	assert.Len(t, adapter.checkpoint, 1)
	assert.Equal(t, 3, adapter.checkpoint[0].Len())
}

// TestProcessor_DeadLetterFailureSkipsCheckpoint covers §4.6's hard
// invariant: when a message's aggregate write fails AND both the
// first-attempt and retrying dead-letter writes fail, that message is
// never accounted for, so the batch must not be checkpointed even
// though it was acknowledged.
func TestProcessor_DeadLetterFailureSkipsCheckpoint(t *testing.T) {
	batch := &domain.MessageBatch{
		BatchID: "b1",
		Messages: []domain.Message{
			{MessageID: "m1", CorrelationID: "corr-tx-1", Body: validBody("tx-1")},
		},
	}
	adapter := &fakeAdapter{batches: []*domain.MessageBatch{batch}}
	aggWriter := &fakeAggregateWriter{failIDs: map[string]bool{"tx-1": true}}
	dl := &fakeDeadLetter{failWrite: true, failRetry: true}
	p := newTestProcessor(t, adapter, aggWriter, dl)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	assert.Empty(t, dl.items)
	assert.GreaterOrEqual(t, dl.retryCalls, 1)
	assert.Empty(t, adapter.checkpoint)
	assert.Len(t, adapter.acked, 1)
}

// TestProcessor_DeadLetterRecoversOnRetryStillCheckpoints covers the
// companion case: the first dead-letter attempt fails but the
// retrying path eventually lands, so the message IS accounted for and
// the batch checkpoints normally.
func TestProcessor_DeadLetterRecoversOnRetryStillCheckpoints(t *testing.T) {
	batch := &domain.MessageBatch{
		BatchID: "b1",
		Messages: []domain.Message{
			{MessageID: "m1", CorrelationID: "corr-tx-1", Body: validBody("tx-1")},
		},
	}
	adapter := &fakeAdapter{batches: []*domain.MessageBatch{batch}}
	aggWriter := &fakeAggregateWriter{failIDs: map[string]bool{"tx-1": true}}
	dl := &fakeDeadLetter{failWrite: true}
	p := newTestProcessor(t, adapter, aggWriter, dl)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	require.Len(t, dl.items, 1)
	assert.Equal(t, 1, dl.retryCalls)
	assert.Len(t, adapter.checkpoint, 1)
}

func TestProcessor_EmptyBatchDoesNotCheckpoint(t *testing.T) {
	adapter := &fakeAdapter{}
	aggWriter := &fakeAggregateWriter{}
	dl := &fakeDeadLetter{}
	p := newTestProcessor(t, adapter, aggWriter, dl)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	assert.Empty(t, adapter.checkpoint)
	assert.Empty(t, adapter.acked)
}
