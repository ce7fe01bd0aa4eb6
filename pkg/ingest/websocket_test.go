package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsHub_BroadcastReachesClient(t *testing.T) {
	hub := NewStatsHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration flows through the hub loop.
	require.Eventually(t, hub.HasClients, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(map[string]string{"status": "ok"}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(payload))
}

func TestStatsHub_NoClients(t *testing.T) {
	hub := NewStatsHub()
	assert.False(t, hub.HasClients())
	// Broadcasting into the void must not block or error.
	assert.NoError(t, hub.Broadcast(map[string]int{"n": 1}))
}
