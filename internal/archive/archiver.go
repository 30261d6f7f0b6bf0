package archive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/domain"
	"github.com/paynet/nexus-pipeline/internal/errs"
	"github.com/paynet/nexus-pipeline/internal/resilience"
)

// DeadLetterHandler receives every event from a flush that failed to
// upload after retry exhaustion, paired with a failure reason.
type DeadLetterHandler func(events []domain.RawEvent, reason string)

// Config configures buffering, flushing and compression behavior.
type Config struct {
	Container     string
	BatchSize     int           // auto-flush once buffer reaches this size
	MaxBufferSize int           // forced flush (overflow protection)
	FlushInterval time.Duration // per-buffer timer
	Compression   string
}

// Metrics is a snapshot of Archiver operation counters.
type Metrics struct {
	EventsStored    int64
	EventsFailed    int64
	BatchesFlushed  int64
	CurrentBuffer   int
	LastFlushTime   time.Time
	LastError       string
}

// Archiver is the Columnar Archiver (C3): an in-memory buffer guarded by
// a mutex, flushed on size, time, or overflow triggers, uploading
// compressed columnar blobs to an ObjectStore with retry-then-dead-letter
// semantics. Grounded on blob_raw_event_store.py's BlobRawEventStore.
type Archiver struct {
	cfg        Config
	store      ObjectStore
	serializer *Serializer
	deadLetter DeadLetterHandler
	log        zerolog.Logger

	mu        sync.Mutex
	buffer    []domain.RawEvent
	timer     *time.Timer
	closed    bool

	metricsMu sync.Mutex
	metrics   Metrics
}

// New constructs an Archiver. deadLetter may be nil (failed-flush events
// are then only logged and counted).
func New(cfg Config, store ObjectStore, deadLetter DeadLetterHandler, log zerolog.Logger) (*Archiver, error) {
	serializer, err := NewSerializer(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &Archiver{
		cfg:        cfg,
		store:      store,
		serializer: serializer,
		deadLetter: deadLetter,
		log:        log.With().Str("component", "archiver").Logger(),
	}, nil
}

// Buffer appends event to the in-memory buffer (non-blocking for the
// caller beyond the mutex hold), triggering a flush if the size trigger
// or overflow protection fires. The first event in an otherwise-empty
// buffer (re)starts the per-buffer flush timer.
func (a *Archiver) Buffer(ctx context.Context, event domain.RawEvent) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errs.Newf(errs.TagInvalidArgument, "archive: Buffer called after Close")
	}

	a.buffer = append(a.buffer, event)
	size := len(a.buffer)

	switch {
	case size >= a.cfg.MaxBufferSize:
		a.log.Warn().Int("buffer_size", size).Int("max", a.cfg.MaxBufferSize).Msg("buffer overflow protection: forcing flush")
		events := a.drainLocked()
		a.mu.Unlock()
		a.flush(ctx, events)
		return nil
	case size >= a.cfg.BatchSize:
		events := a.drainLocked()
		a.mu.Unlock()
		a.flush(ctx, events)
		return nil
	case size == 1:
		a.resetTimerLocked(ctx)
	}
	a.mu.Unlock()
	return nil
}

// drainLocked copies and clears the buffer, cancelling the timer. Must
// be called with a.mu held; returns the copied slice for the caller to
// flush after releasing the lock (flush-under-lock-then-release-before-
// I/O per §4.3).
func (a *Archiver) drainLocked() []domain.RawEvent {
	events := make([]domain.RawEvent, len(a.buffer))
	copy(events, a.buffer)
	a.buffer = a.buffer[:0]
	a.stopTimerLocked()
	return events
}

func (a *Archiver) resetTimerLocked(ctx context.Context) {
	a.stopTimerLocked()
	a.timer = time.AfterFunc(a.cfg.FlushInterval, func() {
		a.mu.Lock()
		if a.closed || len(a.buffer) == 0 {
			a.mu.Unlock()
			return
		}
		events := a.drainLocked()
		a.mu.Unlock()
		a.log.Debug().Int("count", len(events)).Msg("flush timer expired")
		a.flush(ctx, events)
	})
}

func (a *Archiver) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Flush synchronously drains and uploads the current buffer, returning
// the number of events flushed.
func (a *Archiver) Flush(ctx context.Context) int {
	a.mu.Lock()
	events := a.drainLocked()
	a.mu.Unlock()
	if len(events) == 0 {
		return 0
	}
	a.flush(ctx, events)
	return len(events)
}

func (a *Archiver) flush(ctx context.Context, events []domain.RawEvent) {
	if len(events) == 0 {
		return
	}

	blob, err := a.serializer.SerializeEvents(events)
	if err != nil {
		a.log.Error().Err(err).Msg("serialization error during flush")
		a.routeDeadLetter(events, fmt.Sprintf("serialization error: %v", err))
		return
	}

	path := blobPath(time.Now().UTC(), randomSuffix())
	if err := a.uploadWithRetry(ctx, path, blob, len(events)); err != nil {
		a.log.Error().Err(err).Str("path", path).Msg("upload failed after retry exhaustion")
		a.routeDeadLetter(events, "storage_error")
		return
	}

	a.metricsMu.Lock()
	a.metrics.EventsStored += int64(len(events))
	a.metrics.BatchesFlushed++
	a.metrics.LastFlushTime = time.Now().UTC()
	a.metricsMu.Unlock()

	a.log.Info().Int("count", len(events)).Str("path", path).Msg("flushed events to archive")
}

// uploadWithRetry uploads blob to path, retrying transient failures with
// 1s/2s/4s backoff (three attempts) per §4.3/§7, and returning the final
// error (permanent, or transient-exhausted) unretried.
func (a *Archiver) uploadWithRetry(ctx context.Context, path string, blob []byte, eventCount int) error {
	backoff := resilience.ArchiveUploadBackoff()
	metadata := map[string]string{
		"event_count": fmt.Sprintf("%d", eventCount),
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		"compression": string(a.serializer.compression),
	}

	return resilience.Retry(ctx, backoff, a.log, func(attempt int) error {
		err := a.store.PutIfAbsent(ctx, path, blob, metadata)
		if err == nil {
			return nil
		}
		if err == ErrBlobCollision || !isTransientUploadError(err) {
			return resilience.Permanent(err)
		}
		return err
	})
}

// isTransientUploadError classifies an upload error as retryable,
// matching blob_raw_event_store.py's _is_transient_error: status codes
// 408/429/500/502/503/504, or substring match on common transient
// indicators when no status code is available.
func isTransientUploadError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range []string{"408", "429", "500", "502", "503", "504"} {
		if containsFold(msg, code) {
			return true
		}
	}
	for _, indicator := range []string{"timeout", "throttl", "connection", "temporary", "retry", "service unavailable"} {
		if containsFold(msg, indicator) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	sl, subl := len(s), len(substr)
	if subl == 0 || subl > sl {
		return subl == 0
	}
	lowerS := toLower(s)
	lowerSub := toLower(substr)
	for i := 0; i+subl <= len(lowerS); i++ {
		if lowerS[i:i+subl] == lowerSub {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func (a *Archiver) routeDeadLetter(events []domain.RawEvent, reason string) {
	a.metricsMu.Lock()
	a.metrics.EventsFailed += int64(len(events))
	a.metrics.LastError = reason
	a.metricsMu.Unlock()

	if a.deadLetter == nil {
		a.log.Error().Int("count", len(events)).Str("reason", reason).Msg("no dead-letter handler configured, events dropped from archive path")
		return
	}
	a.deadLetter(events, reason)
}

// GetByDate enumerates blobs under date's partition prefix and
// concatenates their decoded events.
func (a *Archiver) GetByDate(ctx context.Context, d time.Time) ([]domain.RawEvent, error) {
	prefix := datePrefix(d)
	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("archive: list blobs for date %s: %w", d.Format("2006-01-02"), err)
	}

	var events []domain.RawEvent
	for _, key := range keys {
		blob, err := a.store.Get(ctx, key)
		if err != nil {
			a.log.Error().Err(err).Str("blob", key).Msg("failed to read blob, skipping")
			continue
		}
		decoded, err := a.serializer.DeserializeEvents(blob)
		if err != nil {
			a.log.Error().Err(err).Str("blob", key).Msg("failed to decode blob, skipping")
			continue
		}
		events = append(events, decoded...)
	}
	return events, nil
}

// GetByRange enumerates every date prefix in [start.Date, end.Date],
// decodes matching blobs, filters by CreatedAt in [start, end], and
// returns events sorted ascending by CreatedAt.
func (a *Archiver) GetByRange(ctx context.Context, start, end time.Time) ([]domain.RawEvent, error) {
	if start.After(end) {
		return nil, errs.Newf(errs.TagInvalidArgument, "archive: GetByRange start %s is after end %s", start, end)
	}

	var events []domain.RawEvent
	for d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()); !d.After(end); d = d.AddDate(0, 0, 1) {
		prefix := datePrefix(d)
		keys, err := a.store.List(ctx, prefix)
		if err != nil {
			a.log.Error().Err(err).Str("prefix", prefix).Msg("failed to list date prefix, skipping")
			continue
		}
		for _, key := range keys {
			blob, err := a.store.Get(ctx, key)
			if err != nil {
				a.log.Error().Err(err).Str("blob", key).Msg("failed to read blob, skipping")
				continue
			}
			decoded, err := a.serializer.DeserializeEvents(blob)
			if err != nil {
				a.log.Error().Err(err).Str("blob", key).Msg("failed to decode blob, skipping")
				continue
			}
			for _, e := range decoded {
				if !e.CreatedAt.Before(start) && !e.CreatedAt.After(end) {
					events = append(events, e)
				}
			}
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

// Metrics returns a snapshot of archiver operation counters.
func (a *Archiver) Metrics() Metrics {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	a.mu.Lock()
	currentBuffer := len(a.buffer)
	a.mu.Unlock()
	m := a.metrics
	m.CurrentBuffer = currentBuffer
	return m
}

// Close cancels the timer, synchronously flushes the buffer, and marks
// the Archiver closed; subsequent Buffer calls fail.
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	events := a.drainLocked()
	a.closed = true
	a.mu.Unlock()

	if len(events) > 0 {
		a.flush(ctx, events)
	}
	a.log.Info().Msg("archiver closed")
	return nil
}

func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}
