// Package dbpool implements the Connection Pool (C7): a thin policy
// layer over pgxpool.Pool adding the health-probe-on-acquire,
// idle-recycle, and acquisition-latency-logging behavior spec'd for the
// relational store, on top of pgx's own pooling.
package dbpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/paynet/nexus-pipeline/internal/errs"
)

// Config configures pool sizing and health/recycle policy.
type Config struct {
	ConnectionString string
	MinConnections   int32
	MaxConnections   int32
	ConnectTimeout   time.Duration
	IdleRecycleAfter time.Duration
}

// Metrics is a snapshot of pool operation counters.
type Metrics struct {
	Acquired           int64
	Released           int64
	Exhaustions        int64
	HealthCheckFailures int64
	Recycled           int64
	AvgAcquireLatencyMs float64
}

// Conn wraps a pooled connection with the metadata Release needs to
// decide whether to recycle it.
type Conn struct {
	*pgxpool.Conn
	acquiredAt time.Time
}

// Pool is the Connection Pool component.
type Pool struct {
	cfg  Config
	log  zerolog.Logger
	pgx  *pgxpool.Pool

	mu     sync.Mutex
	closed bool

	acquired            atomic.Int64
	released            atomic.Int64
	exhaustions         atomic.Int64
	healthCheckFailures atomic.Int64
	recycled            atomic.Int64

	latencyMu     sync.Mutex
	totalLatency  time.Duration
	latencySamples int64
}

// New constructs a Pool. Initialize must be called before use.
func New(cfg Config, log zerolog.Logger) *Pool {
	return &Pool{cfg: cfg, log: log.With().Str("component", "dbpool").Logger()}
}

// Initialize creates the underlying pgxpool.Pool. Idempotent: calling it
// again on an already-initialized Pool is a no-op.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pgx != nil {
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(p.cfg.ConnectionString)
	if err != nil {
		return errs.New(errs.TagConnectionFailed, fmt.Errorf("parse connection string: %w", err))
	}
	poolCfg.MinConns = p.cfg.MinConnections
	poolCfg.MaxConns = p.cfg.MaxConnections
	poolCfg.MaxConnIdleTime = p.cfg.IdleRecycleAfter

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, poolCfg)
	if err != nil {
		return errs.New(errs.TagConnectionFailed, err)
	}
	p.pgx = pool
	p.log.Info().Int32("min", p.cfg.MinConnections).Int32("max", p.cfg.MaxConnections).Msg("pool initialized")
	return nil
}

// Acquire returns a live, health-probed connection. An unhealthy
// connection is discarded and acquisition retried once; persistent
// unhealthiness raises PoolUnhealthy. A connection idle longer than
// IdleRecycleAfter since its last acquisition is recycled transparently.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	pgxPool := p.pgx
	closed := p.closed
	p.mu.Unlock()

	if closed || pgxPool == nil {
		return nil, errs.New(errs.TagPoolUnhealthy, fmt.Errorf("pool is closed or uninitialized"))
	}

	start := time.Now()
	conn, err := p.acquireHealthy(ctx, pgxPool)
	elapsed := time.Since(start)

	p.latencyMu.Lock()
	p.totalLatency += elapsed
	p.latencySamples++
	p.latencyMu.Unlock()

	if elapsed > time.Second {
		p.log.Warn().Dur("elapsed", elapsed).Msg("acquisition latency target (1s) exceeded")
	}

	if err != nil {
		return nil, err
	}

	p.acquired.Add(1)
	return &Conn{Conn: conn, acquiredAt: time.Now().UTC()}, nil
}

func (p *Pool) acquireHealthy(ctx context.Context, pgxPool *pgxpool.Pool) (*pgxpool.Conn, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		conn, err := pgxPool.Acquire(ctx)
		if err != nil {
			if pgxPool.Stat().AcquiredConns() >= p.cfg.MaxConnections {
				p.exhaustions.Add(1)
			}
			return nil, errs.New(errs.TagPoolExhausted, err)
		}

		if err := conn.Ping(ctx); err != nil {
			p.healthCheckFailures.Add(1)
			conn.Release()
			if attempt == 2 {
				return nil, errs.New(errs.TagPoolUnhealthy, fmt.Errorf("connection failed health probe after retry: %w", err))
			}
			continue
		}
		return conn, nil
	}
	return nil, errs.New(errs.TagPoolUnhealthy, fmt.Errorf("exhausted health-probe retry"))
}

// Release returns conn to the pool. close=true forces disposal (used
// after a write error on that connection); conn is also recycled
// transparently if it was held longer than IdleRecycleAfter.
func (p *Pool) Release(conn *Conn, forceClose bool) {
	if conn == nil {
		return
	}
	defer p.released.Add(1)

	if forceClose {
		_ = conn.Conn.Conn().Close(context.Background())
		conn.Conn.Release()
		return
	}
	if time.Since(conn.acquiredAt) > p.cfg.IdleRecycleAfter {
		p.recycled.Add(1)
		_ = conn.Conn.Conn().Close(context.Background())
		conn.Conn.Release()
		return
	}
	conn.Conn.Release()
}

// Metrics returns a snapshot of pool operation counters.
func (p *Pool) Metrics() Metrics {
	p.latencyMu.Lock()
	avg := 0.0
	if p.latencySamples > 0 {
		avg = float64(p.totalLatency/time.Millisecond) / float64(p.latencySamples)
	}
	p.latencyMu.Unlock()

	return Metrics{
		Acquired:            p.acquired.Load(),
		Released:            p.released.Load(),
		Exhaustions:         p.exhaustions.Load(),
		HealthCheckFailures: p.healthCheckFailures.Load(),
		Recycled:            p.recycled.Load(),
		AvgAcquireLatencyMs: avg,
	}
}

// Raw exposes the underlying *pgxpool.Pool for components that need
// pgx's own connection-per-operation or transaction semantics directly
// (the Aggregate Writer's transactions, the Dead-Letter Sink's single
// inserts) rather than going through Acquire/Release.
func (p *Pool) Raw() *pgxpool.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pgx
}

// CloseAll drains and closes the pool; subsequent Acquire calls fail.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.pgx != nil {
		p.pgx.Close()
	}
	p.log.Info().Msg("pool closed")
}
