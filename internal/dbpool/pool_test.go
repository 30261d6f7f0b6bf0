package dbpool

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_InvalidConnectionStringFails(t *testing.T) {
	p := New(Config{
		ConnectionString: "://not-a-valid-dsn",
		MinConnections:   2,
		MaxConnections:   10,
		ConnectTimeout:   time.Second,
		IdleRecycleAfter: 300 * time.Second,
	}, zerolog.Nop())

	err := p.Initialize(context.Background())
	require.Error(t, err)
}

func TestAcquire_FailsOnUninitializedPool(t *testing.T) {
	p := New(Config{MinConnections: 2, MaxConnections: 10}, zerolog.Nop())
	_, err := p.Acquire(context.Background())
	assert.Error(t, err)
}

func TestCloseAll_IsIdempotent(t *testing.T) {
	p := New(Config{MinConnections: 2, MaxConnections: 10}, zerolog.Nop())
	p.CloseAll()
	p.CloseAll() // must not panic
}

func TestAcquire_FailsAfterClose(t *testing.T) {
	p := New(Config{MinConnections: 2, MaxConnections: 10}, zerolog.Nop())
	p.CloseAll()
	_, err := p.Acquire(context.Background())
	assert.Error(t, err)
}

func TestMetrics_ZeroValueSnapshot(t *testing.T) {
	p := New(Config{MinConnections: 2, MaxConnections: 10}, zerolog.Nop())
	m := p.Metrics()
	assert.Equal(t, int64(0), m.Acquired)
	assert.Equal(t, float64(0), m.AvgAcquireLatencyMs)
}
