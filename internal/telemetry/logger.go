// Package telemetry builds the process-wide structured logger and the
// atomic error-tag counters operators alert on. Generalizes the
// teacher's log.Printf call sites into zerolog structured events carrying
// correlation_id/transaction_id/error tag/attempt, per §7's "user-visible
// behavior" clause.
package telemetry

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/errs"
)

// NewLogger builds the base logger. level is one of zerolog's level
// strings ("debug", "info", "warn", "error"); pretty switches to a
// console writer for local development, matching how the teacher's
// service logs straight to stdout when run outside a container.
func NewLogger(level string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ErrorCounters tracks a per-tag atomic counter for every taxonomy entry
// so operators can alert on error-tag rate without scraping logs.
type ErrorCounters struct {
	counters map[errs.Tag]*atomic.Int64
}

// NewErrorCounters pre-allocates a counter for every known tag.
func NewErrorCounters() *ErrorCounters {
	tags := []errs.Tag{
		errs.TagValidation, errs.TagSchema, errs.TagTransientStorage,
		errs.TagPermanentStorage, errs.TagPoolExhausted, errs.TagDBTransient,
		errs.TagDBPermanent, errs.TagBrokerTransient, errs.TagBrokerFatal,
		errs.TagDeadLetterDown, errs.TagInvalidArgument, errs.TagEmptyBuffer,
		errs.TagConnectionFailed, errs.TagPoolUnhealthy, errs.TagProcessingError,
		errs.TagStorageError,
	}
	ec := &ErrorCounters{counters: make(map[errs.Tag]*atomic.Int64, len(tags))}
	for _, t := range tags {
		ec.counters[t] = &atomic.Int64{}
	}
	return ec
}

// Bump increments the counter for tag, creating one lazily if it is not
// among the pre-allocated taxonomy entries (defensive; should not
// normally happen).
func (ec *ErrorCounters) Bump(tag errs.Tag) {
	c, ok := ec.counters[tag]
	if !ok {
		c = &atomic.Int64{}
		ec.counters[tag] = c
	}
	c.Add(1)
}

// Snapshot returns the current value of every counter, for metrics-dump.
func (ec *ErrorCounters) Snapshot() map[errs.Tag]int64 {
	out := make(map[errs.Tag]int64, len(ec.counters))
	for tag, c := range ec.counters {
		out[tag] = c.Load()
	}
	return out
}
