package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newMetricsDumpCmd() *cobra.Command {
	var addr string
	var watch bool
	cmd := &cobra.Command{
		Use:   "metrics-dump",
		Short: "Print a point-in-time snapshot of a running Processor's metrics, or stream them with --watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, _, err := loadConfigAndLogger()
				if err != nil {
					return configErr(err)
				}
				addr = cfg.OpsAddr
			}
			if addr == "" {
				return configErr(fmt.Errorf("no ops address configured: pass --addr or set ops_addr in the config file"))
			}
			if watch {
				return metricsWatch(cmd.Context(), addr)
			}
			return metricsSnapshot(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "ops server address (host:port), defaults to the config file's ops_addr")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream metrics pushes over the ops server's WebSocket instead of a single snapshot")
	return cmd
}

func metricsSnapshot(addr string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/health", trimLeadingColon(addr)))
	if err != nil {
		return runtimeErr(fmt.Errorf("reach ops server: %w", err))
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return runtimeErr(fmt.Errorf("decode health response: %w", err))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(body)
}

func metricsWatch(ctx context.Context, addr string) error {
	url := fmt.Sprintf("ws://%s/ws", trimLeadingColon(addr))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return runtimeErr(fmt.Errorf("dial ops server websocket: %w", err))
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return runtimeErr(fmt.Errorf("read from ops server: %w", err))
		}

		var envelope struct {
			Type string `json:"type"`
			Data any    `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		fmt.Fprintf(os.Stdout, "[%s] %s: %v\n", time.Now().UTC().Format(time.RFC3339), envelope.Type, envelope.Data)
	}
}

// trimLeadingColon turns a bare-port address like ":9090" (as Config's
// default ops_addr is shaped for http.Server.ListenAndServe) into
// "localhost:9090" for client dialing.
func trimLeadingColon(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
