package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// permanentError marks an error as non-retryable so Retry stops on the
// first attempt instead of exhausting the backoff schedule.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry treats it as non-retryable, returning
// immediately instead of continuing the backoff schedule. Use for
// classified-permanent failures (e.g. a blob collision) inside a fn
// passed to Retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Backoff describes a fixed or exponential delay sequence. When Delays is
// non-empty it is used verbatim (the Archiver's 1s/2s/4s and the DB
// writer's 1s/2s sequences from §7); otherwise delays are generated as
// Base*Multiplier^(attempt-1) capped at Max, the Broker Adapter's
// reconnect shape (2*2^(k-1)s capped 30s, §4.1).
type Backoff struct {
	Delays     []time.Duration
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Attempts   int
}

// Delay returns the delay before the given 1-indexed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= len(b.Delays) {
		return b.Delays[attempt-1]
	}
	if len(b.Delays) > 0 {
		return b.Delays[len(b.Delays)-1]
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Multiplier
	}
	delay := time.Duration(d)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// MaxAttempts returns the configured attempt count, defaulting to
// len(Delays) when Attempts is unset (so a three-delay sequence means
// "three attempts total" as §7 specifies for archive uploads), and to 0
// ("retry forever" for Retry) when neither Attempts nor Delays is set.
func (b Backoff) MaxAttempts() int {
	if b.Attempts > 0 {
		return b.Attempts
	}
	if len(b.Delays) > 0 {
		return len(b.Delays)
	}
	return 0
}

// ReconnectBackoff implements §4.1's reconnect formula: 2*2^(k-1)
// seconds capped at 30s, abandoned after 10 attempts.
func ReconnectBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Multiplier: 2, Max: 30 * time.Second, Attempts: 10}
}

// ArchiveUploadBackoff implements §4.3/§7's upload retry: 1s, 2s, 4s,
// three attempts total.
func ArchiveUploadBackoff() Backoff {
	return Backoff{Delays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}}
}

// DBTransientBackoff implements §7's DB-write retry: 1s, 2s, two retries
// then dead-letter.
func DBTransientBackoff() Backoff {
	return Backoff{Delays: []time.Duration{time.Second, 2 * time.Second}, Attempts: 3}
}

// DeadLetterBackoff implements §7's DeadLetterUnavailable policy: retry
// indefinitely with exponential backoff up to a 30s cap.
func DeadLetterBackoff() Backoff {
	return Backoff{Base: time.Second, Multiplier: 2, Max: 30 * time.Second, Attempts: 0}
}

// Retry runs fn up to b.MaxAttempts() times, sleeping b.Delay(attempt)
// between attempts and respecting ctx cancellation. attempts <= 0 means
// "retry forever" (used by DeadLetterBackoff).
func Retry(ctx context.Context, b Backoff, log zerolog.Logger, fn func(attempt int) error) error {
	var lastErr error
	maxAttempts := b.MaxAttempts()
	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(err) {
			break
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			break
		}
		delay := b.Delay(attempt)
		log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("retrying after failure")
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("attempts exhausted: %w", lastErr)
}
