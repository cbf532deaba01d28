// Package audit persists the append-only per-job event trail and fans each
// entry out live to /ws/audit subscribers (spec §4.K). It sits between
// pkg/job (the producer) and pkg/stream (the transport): pkg/job's
// Controller writes through a Log instead of calling pkg/store directly,
// so every audited transition is both durable and observable without the
// Job Controller knowing anything about WebSocket delivery.
package audit

import (
	"context"
	"log/slog"

	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/stream"
)

// Store is the persistence half of the audit trail. Implemented by
// *pkg/store.Client.
type Store interface {
	AppendAuditEvent(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error)
}

// Broadcaster is the live-fanout half. Implemented by *pkg/stream.Hub.
type Broadcaster interface {
	Broadcast(channel string, event map[string]any)
}

// terminalEvents are the event types after which the audit socket should
// tell subscribers the log is closed (spec §6: "... until completed").
var terminalEvents = map[model.AuditEventType]bool{
	model.AuditJobComplete: true,
	model.AuditJobFailed:   true,
	model.AuditJobAborted:  true,
}

// Log writes an audit event to the store and, once the write has succeeded,
// forwards the persisted event to live /ws/audit subscribers. A failed write
// is returned to the caller and nothing is broadcast; pkg/job's caller
// treats that error as non-critical (spec §7).
type Log struct {
	store Store
	hub   Broadcaster
	log   *slog.Logger
}

// New builds a Log over a store and a stream hub.
func New(store Store, hub Broadcaster) *Log {
	return &Log{store: store, hub: hub, log: slog.Default().With("component", "audit")}
}

// Append persists eventType for jobID and broadcasts it on the job's audit
// channel. Returns the persisted event (or an error) so callers can decide
// whether a persistence failure here should be treated as critical — the
// Job Controller treats audit writes as best-effort and only logs on error.
func (l *Log) Append(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error) {
	ev, err := l.store.AppendAuditEvent(ctx, jobID, eventType, payload)
	if err != nil {
		return nil, err
	}

	l.hub.Broadcast(stream.AuditChannel(jobID), map[string]any{
		"type":       stream.AuditTypeEntry,
		"auditLogId": jobID,
		"entry": map[string]any{
			"sequenceNum": ev.SequenceNum,
			"type":        ev.Type,
			"payload":     ev.Payload,
			"createdAt":   ev.CreatedAt,
		},
	})

	if terminalEvents[eventType] {
		l.hub.Broadcast(stream.AuditChannel(jobID), map[string]any{
			"type":       stream.AuditTypeCompleted,
			"auditLogId": jobID,
		})
	}

	return ev, nil
}
