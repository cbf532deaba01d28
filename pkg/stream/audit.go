package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/longformai/coherence/pkg/model"
)

// AuditQuerier is the subset of pkg/store.Client the audit socket needs for
// its catchup snapshot. Implemented by *store.Client.
type AuditQuerier interface {
	ListAuditEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]*model.AuditEvent, error)
}

// AuditChannel returns the Hub channel name audit events for jobID are
// broadcast on, kept distinct from the cc-stream channel (the bare jobID)
// so a client subscribed to one doesn't see the other's messages.
func AuditChannel(jobID string) string { return "audit:" + jobID }

// HandleAuditConnection drives the /ws/audit lifecycle: on a {action:
// "subscribe", auditLogId} message it sends a "history" snapshot (spec
// §6) queried from the store, then forwards live "entry" broadcasts on
// AuditChannel(auditLogId). querier is typically *store.Client;
// catchupLimit bounds the history snapshot size.
func (h *Hub) HandleAuditConnection(parentCtx context.Context, conn *websocket.Conn, querier AuditQuerier, catchupLimit int) {
	c := h.register(parentCtx, conn)
	defer h.unregister(c)

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("stream: invalid audit client message", "connection_id", c.id, "error", err)
			continue
		}
		if msg.Action != "subscribe" || msg.AuditLogID == "" {
			h.handle(c, &msg)
			continue
		}

		channel := AuditChannel(msg.AuditLogID)
		h.subscribe(c, channel)

		events, err := querier.ListAuditEvents(c.ctx, msg.AuditLogID, 0, catchupLimit)
		if err != nil {
			slog.Error("stream: audit catchup query failed", "job_id", msg.AuditLogID, "error", err)
			h.send(c, map[string]any{"type": "error", "message": "catchup query failed"})
			continue
		}
		h.send(c, map[string]any{
			"type":        AuditTypeHistory,
			"auditLogId":  msg.AuditLogID,
			"entries":     events,
		})
	}
}
