// Package resilience adapts the teacher's circuit-breaker and
// retry-with-backoff helpers: CircuitBreaker guards the Broker Adapter's
// Connect dial against hammering a broker that is already down, while
// Retry and the Backoff shapes in retry.go drive the Archiver's upload
// retries, the Dead-Letter Sink's WriteWithRetry and the Kafka reconnect
// schedule, each with its own attempt count and cap. DBTransientBackoff
// has no caller: a failed aggregate write is dead-lettered without retry.
package resilience

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker prevents cascading failures by temporarily short-circuiting
// calls to a failing dependency. Ported from the teacher's liquidity-client
// circuit breaker; state machine unchanged (Closed -> Open on maxFailures
// consecutive failures -> HalfOpen after resetTimeout -> Closed on
// halfOpenSuccess consecutive successes, reopened by any half-open failure).
type CircuitBreaker struct {
	name              string
	maxFailures       int32
	resetTimeout      time.Duration
	halfOpenSuccess   int32
	state             int32
	failures          int32
	lastFailureTime   int64
	halfOpenSuccesses int32
	log               zerolog.Logger
}

// NewCircuitBreaker constructs a breaker starting in the Closed state.
func NewCircuitBreaker(name string, maxFailures int32, resetTimeout time.Duration, halfOpenSuccess int32, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		maxFailures:     maxFailures,
		resetTimeout:    resetTimeout,
		halfOpenSuccess: halfOpenSuccess,
		state:           int32(StateClosed),
		log:             log.With().Str("circuit_breaker", name).Logger(),
	}
}

// Call executes fn under circuit-breaker protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canExecute() bool {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
		if time.Since(time.Unix(0, lastFailure)) > cb.resetTimeout {
			if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
				atomic.StoreInt32(&cb.halfOpenSuccesses, 0)
				cb.log.Info().Msg("transitioning open -> half-open")
			}
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	state := CircuitState(atomic.LoadInt32(&cb.state))
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())

	switch state {
	case StateClosed:
		if failures >= cb.maxFailures {
			if atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen)) {
				cb.log.Warn().Int32("failures", failures).Msg("opening circuit")
			}
		}
	case StateHalfOpen:
		if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) {
			atomic.StoreInt32(&cb.failures, 0)
			cb.log.Warn().Msg("reopening circuit from half-open")
		}
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.failures, 0)
	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.halfOpenSuccesses, 1)
		if successes >= cb.halfOpenSuccess {
			if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
				atomic.StoreInt32(&cb.failures, 0)
				atomic.StoreInt32(&cb.halfOpenSuccesses, 0)
				cb.log.Info().Msg("closing circuit")
			}
		}
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt32(&cb.state))
}
