// Package job implements the Job Controller: the state machine that carries
// a job from pending through skeleton extraction, per-chunk reconstruction,
// and the final stitch pass, plus the worker pool and orphan scanner that
// drive it across a process.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/store"
)

// ErrAlreadyRunning indicates a resume or claim was attempted against a job
// this process is already actively processing.
var ErrAlreadyRunning = errors.New("job: already running in this process")

// ErrAtCapacity indicates the configured MaxConcurrentJobs limit has been reached.
var ErrAtCapacity = errors.New("job: at capacity")

// ErrNoJobsAvailable indicates no pending job was claimed.
var ErrNoJobsAvailable = errors.New("job: no jobs available")

// Store is the subset of pkg/store's Client the Job Controller depends on,
// narrowed to an interface so the controller is testable against a fake.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ClaimNextJob(ctx context.Context) (*model.Job, error)
	Heartbeat(ctx context.Context, jobID string) error
	SetSkeleton(ctx context.Context, jobID string, skel *model.GlobalSkeleton) error
	TransitionStatus(ctx context.Context, jobID string, from, to model.JobStatus) error
	CompleteJob(ctx context.Context, jobID, finalOutput string) error
	FailJob(ctx context.Context, jobID, reason string) error
	AbortJob(ctx context.Context, jobID string) error
	ReleaseOrphan(ctx context.Context, jobID string) error
	ListOrphans(ctx context.Context, threshold time.Duration) ([]*model.Job, error)
	CountActiveJobs(ctx context.Context) (int, error)

	CreatePendingChunks(ctx context.Context, jobID string, bands []store.ChunkBand) error
	GetChunk(ctx context.Context, jobID string, index int) (*model.Chunk, error)
	ListChunks(ctx context.Context, jobID string) ([]*model.Chunk, error)
	MarkChunkInProgress(ctx context.Context, jobID string, index int) (int, error)
	CompleteChunk(ctx context.Context, jobID string, index int, output string, wordCount int, flagged bool, delta *model.ChunkDelta) error
	FailChunk(ctx context.Context, jobID string, index int) error

	SaveStitchResult(ctx context.Context, result *model.StitchResult) error

	AppendAuditEvent(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error)
}

// Broadcaster publishes job-scoped events to the stream hub. The job
// controller depends only on this interface so it builds and tests
// independently of pkg/stream.
type Broadcaster interface {
	Broadcast(jobID string, event map[string]any)
}

// NoopBroadcaster discards every event. It's the default when no stream
// hub is wired, e.g. in unit tests.
type NoopBroadcaster struct{}

// Broadcast implements Broadcaster.
func (NoopBroadcaster) Broadcast(string, map[string]any) {}

// WorkerStatus reports what a single worker is doing.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a snapshot of one worker's activity.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentJobID   string    `json:"current_job_id,omitempty"`
	JobsProcessed  int       `json:"jobs_processed"`
	LastActivity   time.Time `json:"last_activity"`
}

// PoolHealth is a snapshot of the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveJobs       int            `json:"active_jobs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}
