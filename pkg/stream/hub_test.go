package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/config"
)

func setupTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(&config.StreamConfig{SendBufferSize: 8, WriteTimeout: 2 * time.Second})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestHub_ConnectionEstablished(t *testing.T) {
	_, server := setupTestHub(t)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "job-123"})
	confirm := readJSON(t, conn)
	assert.Equal(t, "subscription.confirmed", confirm["type"])

	require.Eventually(t, func() bool { return hub.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast("job-123", map[string]any{"type": TypeChunkComplete, "job_id": "job-123", "chunk_index": 0})

	msg := readJSON(t, conn)
	assert.Equal(t, TypeChunkComplete, msg["type"])
	assert.Equal(t, "job-123", msg["job_id"])
}

func TestHub_BroadcastOnlyReachesSubscribers(t *testing.T) {
	hub, server := setupTestHub(t)
	subscribed := connectWS(t, server)
	unsubscribed := connectWS(t, server)
	readJSON(t, subscribed)
	readJSON(t, unsubscribed)

	writeJSON(t, subscribed, ClientMessage{Action: "subscribe", Channel: "job-a"})
	readJSON(t, subscribed)
	require.Eventually(t, func() bool { return hub.subscriberCount("job-a") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast("job-a", map[string]any{"type": TypeJobComplete, "job_id": "job-a"})

	msg := readJSON(t, subscribed)
	assert.Equal(t, TypeJobComplete, msg["type"])

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := unsubscribed.Read(ctx)
	assert.Error(t, err, "unsubscribed connection should not receive the broadcast")
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "job-b"})
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.subscriberCount("job-b") == 1 }, 2*time.Second, 10*time.Millisecond)

	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: "job-b"})
	require.Eventually(t, func() bool { return hub.subscriberCount("job-b") == 0 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast("job-b", map[string]any{"type": TypeWarning, "job_id": "job-b"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
}
