package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/longformai/coherence/pkg/model"
)

// CreateJob inserts a new pending job.
func (c *Client) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, status, source_text, directive_raw, target_words, num_chunks, current_chunk, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, now(), now())`,
		j.ID, j.Kind, j.Status, j.SourceText, j.DirectiveRaw, j.TargetWords, j.NumChunks,
	)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT id, kind, status, source_text, directive_raw, target_words, num_chunks,
		       current_chunk, global_skeleton, final_output, failure_reason,
		       heartbeat_at, created_at, updated_at, completed_at
		FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ClaimNextJob atomically claims one pending reconstruction job for
// processing, using FOR UPDATE SKIP LOCKED so concurrent workers/replicas
// never claim the same row twice. Scoped to kind=reconstruction: expansion
// jobs are claimed and driven by pkg/expansion.Engine instead, which has no
// use for the Job Controller's worker pool (it runs synchronously per
// submission rather than being polled for).
func (c *Client) ClaimNextJob(ctx context.Context) (*model.Job, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: claim job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, kind, status, source_text, directive_raw, target_words, num_chunks,
		       current_chunk, global_skeleton, final_output, failure_reason,
		       heartbeat_at, created_at, updated_at, completed_at
		FROM jobs
		WHERE status = $1 AND kind = $2
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, model.JobStatusPending, model.JobKindReconstruction)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoJobAvailable
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, heartbeat_at = now(), updated_at = now() WHERE id = $2`,
		model.JobStatusRunning, job.ID); err != nil {
		return nil, fmt.Errorf("store: claim job: mark running: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: claim job: commit: %w", err)
	}

	job.Status = model.JobStatusRunning
	return job, nil
}

// Heartbeat refreshes a running job's liveness marker so the orphan scanner
// doesn't reclaim it.
func (c *Client) Heartbeat(ctx context.Context, jobID string) error {
	_, err := c.pool.Exec(ctx, `UPDATE jobs SET heartbeat_at = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}
	return nil
}

// SetSkeleton persists the extracted global skeleton.
func (c *Client) SetSkeleton(ctx context.Context, jobID string, skel *model.GlobalSkeleton) error {
	data, err := json.Marshal(skel)
	if err != nil {
		return fmt.Errorf("store: marshal skeleton: %w", err)
	}
	_, err = c.pool.Exec(ctx, `UPDATE jobs SET global_skeleton = $1, updated_at = now() WHERE id = $2`, data, jobID)
	if err != nil {
		return fmt.Errorf("store: set skeleton: %w", err)
	}
	return nil
}

// AdvanceCurrentChunk sets current_chunk = 1 + the given completed index,
// maintaining the invariant that current_chunk always equals one past the
// highest contiguous complete chunk.
func (c *Client) AdvanceCurrentChunk(ctx context.Context, jobID string, completedIndex int) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE jobs SET current_chunk = $1, updated_at = now()
		WHERE id = $2 AND current_chunk = $1 - 1`,
		completedIndex+1, jobID)
	if err != nil {
		return fmt.Errorf("store: advance current chunk: %w", err)
	}
	return nil
}

// TransitionStatus moves a job forward in its state machine, rejecting the
// write if the row isn't in the expected prior status (optimistic lock
// against a concurrent transition, e.g. a racing abort).
func (c *Client) TransitionStatus(ctx context.Context, jobID string, from, to model.JobStatus) error {
	tag, err := c.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, jobID, from)
	if err != nil {
		return fmt.Errorf("store: transition status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// CompleteJob writes the final output and marks the job complete.
func (c *Client) CompleteJob(ctx context.Context, jobID, finalOutput string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, final_output = $2, completed_at = now(), updated_at = now()
		WHERE id = $3`, model.JobStatusComplete, finalOutput, jobID)
	if err != nil {
		return fmt.Errorf("store: complete job: %w", err)
	}
	return nil
}

// FailJob marks a job failed with a reason.
func (c *Client) FailJob(ctx context.Context, jobID, reason string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, failure_reason = $2, completed_at = now(), updated_at = now()
		WHERE id = $3`, model.JobStatusFailed, reason, jobID)
	if err != nil {
		return fmt.Errorf("store: fail job: %w", err)
	}
	return nil
}

// AbortJob marks a running or stitching job aborted.
func (c *Client) AbortJob(ctx context.Context, jobID string) error {
	tag, err := c.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status IN ($3, $4)`,
		model.JobStatusAborted, jobID, model.JobStatusRunning, model.JobStatusStitching)
	if err != nil {
		return fmt.Errorf("store: abort job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// ReleaseOrphan resets a job with a stale heartbeat back to pending so a
// worker can reclaim it, per the orphan-detection sweep.
func (c *Client) ReleaseOrphan(ctx context.Context, jobID string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, heartbeat_at = NULL, updated_at = now() WHERE id = $2`,
		model.JobStatusPending, jobID)
	if err != nil {
		return fmt.Errorf("store: release orphan: %w", err)
	}
	return nil
}

// ListOrphans returns running/stitching jobs whose heartbeat is older than
// threshold.
func (c *Client) ListOrphans(ctx context.Context, threshold time.Duration) ([]*model.Job, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, kind, status, source_text, directive_raw, target_words, num_chunks,
		       current_chunk, global_skeleton, final_output, failure_reason,
		       heartbeat_at, created_at, updated_at, completed_at
		FROM jobs
		WHERE status IN ($1, $2) AND (heartbeat_at IS NULL OR heartbeat_at < now() - $3::interval)`,
		model.JobStatusRunning, model.JobStatusStitching, threshold.String())
	if err != nil {
		return nil, fmt.Errorf("store: list orphans: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountActiveJobs returns the number of jobs currently running or
// stitching, used to enforce QueueConfig.MaxConcurrentJobs across replicas.
func (c *Client) CountActiveJobs(ctx context.Context) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `
		SELECT count(*) FROM jobs WHERE status IN ($1, $2)`,
		model.JobStatusRunning, model.JobStatusStitching).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count active jobs: %w", err)
	}
	return n, nil
}

// DeleteTerminalJobsOlderThan deletes complete/aborted jobs whose
// completed_at predates the cutoff, cascading to their chunks, stitch
// results, and audit events. Failed jobs are not deleted. Used by
// pkg/cleanup's retention sweep.
func (c *Client) DeleteTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND completed_at IS NOT NULL AND completed_at < $3`,
		model.JobStatusComplete, model.JobStatusAborted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var skelData []byte
	var finalOutput, failureReason *string
	var heartbeatAt, completedAt *time.Time

	err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.SourceText, &j.DirectiveRaw, &j.TargetWords, &j.NumChunks,
		&j.CurrentChunk, &skelData, &finalOutput, &failureReason,
		&heartbeatAt, &j.CreatedAt, &j.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}

	if len(skelData) > 0 {
		var skel model.GlobalSkeleton
		if err := json.Unmarshal(skelData, &skel); err != nil {
			return nil, fmt.Errorf("store: unmarshal skeleton: %w", err)
		}
		j.GlobalSkeleton = &skel
	}
	if finalOutput != nil {
		j.FinalOutput = *finalOutput
	}
	if failureReason != nil {
		j.FailureReason = *failureReason
	}
	j.HeartbeatAt = heartbeatAt
	j.CompletedAt = completedAt
	return &j, nil
}
