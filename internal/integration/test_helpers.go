package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"habitat/internal/app"
	"habitat/internal/config"
)

// testServer is a full application serving on a loopback port.
type testServer struct {
	baseURL string
	wsURL   string
}

// startServer runs the application until the test ends.
func startServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Environment = config.EnvDevelopment
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "journal.db")
	cfg.Broadcast.ThrottleInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg, zerolog.Nop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Logf("server stopped with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	addr := ln.Addr().String()
	return &testServer{
		baseURL: "http://" + addr,
		wsURL:   "ws://" + addr + "/ws",
	}
}

// frame is an outbound server frame with its payload left raw.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) dial(t *testing.T) *client {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msgType string, payload any) {
	c.t.Helper()
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// expect reads frames until one of msgType arrives, skipping the rest, and
// decodes its payload into out when out is not nil.
func (c *client) expect(msgType string, out any) {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var seen []string
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s, saw [%s]: %v", msgType, strings.Join(seen, " "), err)
		}
		if f.Type != msgType {
			seen = append(seen, f.Type)
			continue
		}
		if out != nil {
			require.NoError(c.t, json.Unmarshal(f.Payload, out))
		}
		return
	}
}

func (s *testServer) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(s.baseURL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
