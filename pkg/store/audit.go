package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/longformai/coherence/pkg/model"
)

// AppendAuditEvent allocates the next sequence number for the job and
// inserts the event, keeping the per-job sequence strictly increasing and
// append-only (invariant 4) even across process restarts or resumes.
func (c *Client) AppendAuditEvent(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal audit payload: %w", err)
	}

	var ev model.AuditEvent
	err = c.pool.QueryRow(ctx, `
		INSERT INTO audit_events (job_id, sequence_num, event_type, payload, created_at)
		VALUES ($1, COALESCE((SELECT max(sequence_num) + 1 FROM audit_events WHERE job_id = $1), 1), $2, $3, now())
		RETURNING job_id, sequence_num, event_type, payload, created_at`,
		jobID, eventType, data,
	).Scan(&ev.JobID, &ev.SequenceNum, &ev.Type, &data, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: append audit event: %w", err)
	}
	if err := json.Unmarshal(data, &ev.Payload); err != nil {
		return nil, fmt.Errorf("store: unmarshal audit payload: %w", err)
	}
	return &ev, nil
}

// ListAuditEvents returns a job's audit trail in sequence order, optionally
// starting after afterSeq (used for /ws/audit catchup snapshots) and capped
// at limit rows.
func (c *Client) ListAuditEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]*model.AuditEvent, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT job_id, sequence_num, event_type, payload, created_at
		FROM audit_events
		WHERE job_id = $1 AND sequence_num > $2
		ORDER BY sequence_num
		LIMIT $3`, jobID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit events: %w", err)
	}
	defer rows.Close()

	var events []*model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var data []byte
		if err := rows.Scan(&ev.JobID, &ev.SequenceNum, &ev.Type, &data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		if err := json.Unmarshal(data, &ev.Payload); err != nil {
			return nil, fmt.Errorf("store: unmarshal audit payload: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
