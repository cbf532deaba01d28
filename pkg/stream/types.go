// Package stream fans out job progress to observers over WebSocket. It is
// a single-process, in-memory ConnectionManager: the teacher's cross-pod
// Postgres LISTEN/NOTIFY fanout (pkg/events/listener.go, catchup_adapter.go)
// is not carried over, since this pipeline's worker pool and API server run
// in one process and late subscribers recover state via a status query
// instead of a replay log (see DESIGN.md).
package stream

import "time"

// Event type strings carried in the envelope's "type" field on the per-job
// channel (cc-stream) and the generation channel (Expansion Engine).
const (
	TypeJobStarted     = "job_started"
	TypeOutline        = "outline"
	TypeProgress       = "progress"
	TypeChunkComplete  = "chunk_complete"
	TypeWarning        = "warning"
	TypeJobComplete    = "job_complete"
	TypeJobFailed      = "job_failed"
	TypeJobAborted     = "job_aborted"
	TypeError          = "error"
	TypeSectionComplete = "section_complete"
	TypeComplete        = "complete"
)

// Audit WebSocket message types (/ws/audit).
const (
	AuditTypeHistory   = "history"
	AuditTypeEntry     = "entry"
	AuditTypeCompleted = "completed"
)

// ClientMessage is the JSON shape of client -> server control messages sent
// over any of this package's sockets.
type ClientMessage struct {
	Action      string `json:"action"`                   // "subscribe", "unsubscribe", "ping"
	Channel     string `json:"channel,omitempty"`         // cc-stream: a jobId; generation: the literal "generation"
	AuditLogID  string `json:"auditLogId,omitempty"`      // /ws/audit only
	LastEventID *int64 `json:"last_event_id,omitempty"`
}

// connectTimeout is declared but not referenced: HandleConnection and
// HandleAuditConnection put no time limit on a client's first subscribe
// message.
const connectTimeout = 30 * time.Second
