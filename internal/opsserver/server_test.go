package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleReady_AllComponentsUpReturns200(t *testing.T) {
	s := New(Config{}, func() map[string]bool {
		return map[string]bool{"broker": true, "db_pool": true}
	}, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var status ReadinessStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Ready)
}

func TestHandleReady_OneComponentDownReturns503(t *testing.T) {
	s := New(Config{}, func() map[string]bool {
		return map[string]bool{"broker": true, "db_pool": false}
	}, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status ReadinessStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Ready)
}

func TestHandleReady_NilReadyFuncDefaultsHealthy(t *testing.T) {
	s := New(Config{}, nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.handleReady(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealth_ReportsClientCount(t *testing.T) {
	s := New(Config{}, nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestServer_BroadcastsMetricsToConnectedClient(t *testing.T) {
	snapCalled := make(chan struct{}, 1)
	s := New(Config{Addr: "127.0.0.1:0", PushInterval: 20 * time.Millisecond}, nil, func() any {
		select {
		case snapCalled <- struct{}{}:
		default:
		}
		return map[string]int{"count": 1}
	}, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	httpServer := httptest.NewServer(mux)
	defer httpServer.Close()

	done := make(chan struct{})
	go s.hub.Run(done)
	defer close(done)

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < 10; i++ {
			<-ticker.C
			s.hub.Broadcast(Message{Type: "metrics", Data: s.snap()})
		}
	}()

	wsURL := "ws" + httpServer.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage() // status message
	require.NoError(t, err)

	_, msg, err := conn.ReadMessage() // first metrics broadcast
	require.NoError(t, err)

	var envelope Message
	require.NoError(t, json.Unmarshal(msg, &envelope))
	assert.Equal(t, "metrics", envelope.Type)

	select {
	case <-snapCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot function was never invoked")
	}
}

func TestServer_RunShutsDownOnContextCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
