package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Message is the WebSocket envelope every push uses, matching the
// teacher's WebSocketMessage{Type, Data} shape.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ReadinessStatus reports whether every upstream dependency the
// Processor needs is connected, generalizing the teacher's
// KafkaReady/LiquidityReady pair into a named map so new dependencies
// (e.g. the connection pool) don't require a new field.
type ReadinessStatus struct {
	Ready      bool            `json:"ready"`
	Components map[string]bool `json:"components"`
	Message    string          `json:"message,omitempty"`
}

// ReadyFunc reports the current readiness of every named dependency.
type ReadyFunc func() map[string]bool

// SnapshotFunc produces the next metrics snapshot to broadcast.
type SnapshotFunc func() any

// Config controls the ops server's HTTP address and push cadence.
type Config struct {
	Addr         string
	PushInterval time.Duration
}

func applyConfigDefaults(c Config) Config {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
	if c.PushInterval <= 0 {
		c.PushInterval = 5 * time.Second
	}
	return c
}

// Server is the ops-visibility HTTP+WebSocket surface for one running
// Processor.
type Server struct {
	cfg     Config
	hub     *Hub
	ready   ReadyFunc
	snap    SnapshotFunc
	log     zerolog.Logger
	httpSrv *http.Server
}

// New constructs a Server. ready and snap may be nil; a nil ready always
// reports healthy, a nil snap disables the periodic metrics push.
func New(cfg Config, ready ReadyFunc, snap SnapshotFunc, log zerolog.Logger) *Server {
	return &Server{
		cfg:   applyConfigDefaults(cfg),
		hub:   NewHub(log),
		ready: ready,
		snap:  snap,
		log:   log.With().Str("component", "opsserver").Logger(),
	}
}

// Run starts the hub loop, the periodic snapshot push, and the HTTP
// server, blocking until ctx is cancelled. The HTTP server is shut down
// gracefully on cancellation.
func (s *Server) Run(ctx context.Context) error {
	done := make(chan struct{})
	go s.hub.Run(done)
	defer close(done)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("ops server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if s.snap != nil {
		go s.pushLoop(ctx)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := s.snap()
			if err := s.hub.Broadcast(Message{Type: "metrics", Data: snapshot}); err != nil {
				s.log.Warn().Err(err).Msg("metrics broadcast encode failed")
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256), hub: s.hub}
	s.hub.register <- c

	welcome := Message{Type: "status", Data: map[string]string{"status": "connected"}}
	if data, err := json.Marshal(welcome); err == nil {
		c.send <- data
	}

	go c.writePump()
	c.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	components := map[string]bool{}
	if s.ready != nil {
		components = s.ready()
	}
	ready := true
	for _, ok := range components {
		if !ok {
			ready = false
			break
		}
	}

	status := ReadinessStatus{Ready: ready, Components: components}
	if !ready {
		status.Message = "waiting for dependencies"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}
