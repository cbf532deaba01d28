package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/longformai/coherence/pkg/model"
)

// SaveStitchResult records the outcome of the final seam-adjustment pass.
func (c *Client) SaveStitchResult(ctx context.Context, result *model.StitchResult) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO stitch_results (job_id, seams_adjusted, notes, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_id) DO UPDATE SET seams_adjusted = $2, notes = $3`,
		result.JobID, result.SeamsAdjusted, result.Notes)
	if err != nil {
		return fmt.Errorf("store: save stitch result: %w", err)
	}
	return nil
}

// GetStitchResult fetches a job's stitch result, if any.
func (c *Client) GetStitchResult(ctx context.Context, jobID string) (*model.StitchResult, error) {
	var r model.StitchResult
	var notes *string
	err := c.pool.QueryRow(ctx, `
		SELECT job_id, seams_adjusted, notes, created_at FROM stitch_results WHERE job_id = $1`,
		jobID).Scan(&r.JobID, &r.SeamsAdjusted, &notes, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get stitch result: %w", err)
	}
	if notes != nil {
		r.Notes = *notes
	}
	return &r, nil
}
