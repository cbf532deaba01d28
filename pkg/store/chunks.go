package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/longformai/coherence/pkg/model"
)

// ChunkBand bounds a chunk's acceptable word count.
type ChunkBand struct {
	Min    int
	Target int
	Max    int
}

// CreatePendingChunks inserts one pending row per chunk index, establishing
// the contiguous index range a job's chunks must fill (invariant 1).
func (c *Client) CreatePendingChunks(ctx context.Context, jobID string, bands []ChunkBand) error {
	batch := &pgx.Batch{}
	for i, band := range bands {
		batch.Queue(`
			INSERT INTO chunks (job_id, chunk_index, status, target_words, min_words, max_words, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
			jobID, i, model.ChunkStatusPending, band.Target, band.Min, band.Max)
	}
	br := c.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range bands {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: create pending chunks: %w", err)
		}
	}
	return nil
}

// GetChunk fetches one chunk.
func (c *Client) GetChunk(ctx context.Context, jobID string, index int) (*model.Chunk, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT job_id, chunk_index, status, target_words, min_words, max_words, output_text, word_count, attempt_count, flagged, delta, created_at, updated_at
		FROM chunks WHERE job_id = $1 AND chunk_index = $2`, jobID, index)
	return scanChunk(row)
}

// ListChunks returns all chunks for a job ordered by index.
func (c *Client) ListChunks(ctx context.Context, jobID string) ([]*model.Chunk, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT job_id, chunk_index, status, target_words, min_words, max_words, output_text, word_count, attempt_count, flagged, delta, created_at, updated_at
		FROM chunks WHERE job_id = $1 ORDER BY chunk_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// MarkChunkInProgress bumps the attempt counter and flips status, called
// each time the reconstructor starts (or retries) a chunk.
func (c *Client) MarkChunkInProgress(ctx context.Context, jobID string, index int) (int, error) {
	var attempt int
	err := c.pool.QueryRow(ctx, `
		UPDATE chunks SET status = $1, attempt_count = attempt_count + 1, updated_at = now()
		WHERE job_id = $2 AND chunk_index = $3
		RETURNING attempt_count`,
		model.ChunkStatusInProgress, jobID, index).Scan(&attempt)
	if err != nil {
		return 0, fmt.Errorf("store: mark chunk in progress: %w", err)
	}
	return attempt, nil
}

// CompleteChunk writes output, word count, flagged annotation, delta, and
// status together in a single transactional statement, satisfying invariant 3.
func (c *Client) CompleteChunk(ctx context.Context, jobID string, index int, output string, wordCount int, flagged bool, delta *model.ChunkDelta) error {
	deltaData, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("store: marshal delta: %w", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: complete chunk: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if index > 0 {
		var prevComplete bool
		err := tx.QueryRow(ctx, `
			SELECT status = $1 FROM chunks WHERE job_id = $2 AND chunk_index = $3`,
			model.ChunkStatusComplete, jobID, index-1).Scan(&prevComplete)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrChunkIndexGap
			}
			return fmt.Errorf("store: complete chunk: check prior: %w", err)
		}
		if !prevComplete {
			return ErrChunkIndexGap
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE chunks SET status = $1, output_text = $2, word_count = $3, flagged = $4, delta = $5, updated_at = now()
		WHERE job_id = $6 AND chunk_index = $7`,
		model.ChunkStatusComplete, output, wordCount, flagged, deltaData, jobID, index); err != nil {
		return fmt.Errorf("store: complete chunk: update: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET current_chunk = $1, updated_at = now() WHERE id = $2 AND current_chunk = $3`,
		index+1, jobID, index); err != nil {
		return fmt.Errorf("store: complete chunk: advance current_chunk: %w", err)
	}

	return tx.Commit(ctx)
}

// FailChunk marks a chunk failed after exhausting retries.
func (c *Client) FailChunk(ctx context.Context, jobID string, index int) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE chunks SET status = $1, updated_at = now() WHERE job_id = $2 AND chunk_index = $3`,
		model.ChunkStatusFailed, jobID, index)
	if err != nil {
		return fmt.Errorf("store: fail chunk: %w", err)
	}
	return nil
}

func scanChunk(row rowScanner) (*model.Chunk, error) {
	var ch model.Chunk
	var outputText *string
	var deltaData []byte

	err := row.Scan(
		&ch.JobID, &ch.Index, &ch.Status, &ch.TargetWords, &ch.MinWords, &ch.MaxWords, &outputText, &ch.WordCount,
		&ch.AttemptCount, &ch.Flagged, &deltaData, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan chunk: %w", err)
	}
	if outputText != nil {
		ch.OutputText = *outputText
	}
	if len(deltaData) > 0 {
		var delta model.ChunkDelta
		if err := json.Unmarshal(deltaData, &delta); err != nil {
			return nil, fmt.Errorf("store: unmarshal delta: %w", err)
		}
		ch.Delta = &delta
	}
	return &ch, nil
}
