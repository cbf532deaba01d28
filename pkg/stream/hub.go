package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/longformai/coherence/pkg/config"
)

// Hub manages WebSocket connections and channel subscriptions for a single
// process. A channel is a job's ID (cc-stream), AuditChannel(jobID)
// (/ws/audit), or the literal string "generation" (the Expansion Engine's
// section-event channel). It
// implements pkg/job.Broadcaster and pkg/expansion's equivalent interface
// via Broadcast, grounded on pkg/events/manager.go's ConnectionManager.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool // channel -> set of connection IDs

	sendBufferSize int
	writeTimeout   time.Duration
}

// connection is a single WebSocket client. Its outbound messages are
// delivered through a bounded buffered channel drained by writeLoop, so a
// slow reader can never block Broadcast; once the buffer is full, the
// oldest queued message is dropped to make room for the newest (observers
// are live progress feeds, not a guaranteed-delivery log).
type connection struct {
	id     string
	conn   *websocket.Conn
	outbox chan []byte

	subscriptions map[string]bool // owned by the single read-loop goroutine

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub builds a Hub using the stream section of the umbrella config.
func NewHub(cfg *config.StreamConfig) *Hub {
	return &Hub{
		connections:    make(map[string]*connection),
		channels:       make(map[string]map[string]bool),
		sendBufferSize: cfg.SendBufferSize,
		writeTimeout:   cfg.WriteTimeout,
	}
}

// HandleConnection drives a single socket's lifecycle: register, read loop
// dispatching subscribe/unsubscribe/ping, cleanup on close. It blocks until
// the connection closes. Used for both /ws/cc-stream and the generation
// channel; /ws/audit uses HandleAuditConnection instead since it layers a
// DB catchup query on top.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	c := h.register(parentCtx, conn)
	defer h.unregister(c)

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("stream: invalid client message", "connection_id", c.id, "error", err)
			continue
		}
		h.handle(c, &msg)
	}
}

func (h *Hub) register(parentCtx context.Context, conn *websocket.Conn) *connection {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.New().String(),
		conn:          conn,
		outbox:        make(chan []byte, h.sendBufferSize),
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()

	go h.writeLoop(c)

	h.send(c, map[string]any{"type": "connection.established", "connection_id": c.id})
	return c
}

func (h *Hub) unregister(c *connection) {
	h.channelMu.Lock()
	for ch := range c.subscriptions {
		if subs, ok := h.channels[ch]; ok {
			delete(subs, c.id)
			if len(subs) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	h.channelMu.Unlock()

	h.mu.Lock()
	delete(h.connections, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) handle(c *connection, msg *ClientMessage) {
	channel := msg.Channel
	if channel == "" {
		channel = msg.AuditLogID
	}

	switch msg.Action {
	case "subscribe":
		if channel == "" {
			h.send(c, map[string]any{"type": "error", "message": "channel is required"})
			return
		}
		h.subscribe(c, channel)
		h.send(c, map[string]any{"type": "subscription.confirmed", "channel": channel})
	case "unsubscribe":
		if channel == "" {
			return
		}
		h.unsubscribe(c, channel)
	case "ping":
		h.send(c, map[string]any{"type": "pong"})
	}
}

func (h *Hub) subscribe(c *connection, channel string) {
	h.channelMu.Lock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.id] = true
	h.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (h *Hub) unsubscribe(c *connection, channel string) {
	h.channelMu.Lock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

// Broadcast sends event to every connection subscribed to channel. It never
// blocks on a slow client: a full outbox drops the oldest pending message.
// Satisfies pkg/job.Broadcaster (channel == jobID there).
func (h *Hub) Broadcast(channel string, event map[string]any) {
	h.channelMu.RLock()
	subs, ok := h.channels[channel]
	if !ok {
		h.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	h.channelMu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("stream: marshal broadcast event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.enqueue(c, data)
	}
}

// subscriberCount returns the number of subscribers for a channel. Used by
// tests to poll for subscribe/unsubscribe to take effect instead of
// sleeping a fixed duration.
func (h *Hub) subscriberCount(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

// ActiveConnections returns the number of currently registered sockets,
// surfaced through the health endpoint.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) send(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("stream: marshal message failed", "connection_id", c.id, "error", err)
		return
	}
	h.enqueue(c, data)
}

func (h *Hub) enqueue(c *connection, data []byte) {
	select {
	case c.outbox <- data:
	default:
		select {
		case <-c.outbox:
		default:
		}
		select {
		case c.outbox <- data:
		default:
			slog.Warn("stream: dropped message, outbox full", "connection_id", c.id)
		}
	}
}

func (h *Hub) writeLoop(c *connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.outbox:
			writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
