package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/store"
	testdb "github.com/longformai/coherence/test/database"
)

func newTestJob(kind model.JobKind) *model.Job {
	return &model.Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       model.JobStatusPending,
		SourceText:   "hello world",
		DirectiveRaw: "",
		TargetWords:  1000,
		NumChunks:    2,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	j := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, j))

	got, err := c.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.CurrentChunk)
}

func TestGetJob_NotFound(t *testing.T) {
	c := testdb.NewTestClient(t)
	_, err := c.GetJob(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaimNextJob_OnlyClaimsReconstructionKind(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	expansion := newTestJob(model.JobKindExpansion)
	require.NoError(t, c.CreateJob(ctx, expansion))

	_, err := c.ClaimNextJob(ctx)
	assert.ErrorIs(t, err, store.ErrNoJobAvailable, "an expansion-kind job must never be claimed by the reconstruction worker pool")

	recon := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, recon))

	claimed, err := c.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, recon.ID, claimed.ID)
	assert.Equal(t, model.JobStatusRunning, claimed.Status)
}

func TestClaimNextJob_SkipLockedPreventsDoubleClaim(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	j := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, j))

	first, err := c.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, j.ID, first.ID)

	_, err = c.ClaimNextJob(ctx)
	assert.ErrorIs(t, err, store.ErrNoJobAvailable)
}

func TestTransitionStatus_RejectsWrongFromState(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	j := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, j))

	err := c.TransitionStatus(ctx, j.ID, model.JobStatusRunning, model.JobStatusComplete)
	assert.ErrorIs(t, err, store.ErrOptimisticLock)

	require.NoError(t, c.TransitionStatus(ctx, j.ID, model.JobStatusPending, model.JobStatusRunning))
}

func TestChunkLifecycle(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	j := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, j))
	require.NoError(t, c.CreatePendingChunks(ctx, j.ID, []store.ChunkBand{
		{Min: 90, Target: 100, Max: 125},
		{Min: 90, Target: 100, Max: 125},
	}))

	attempt, err := c.MarkChunkInProgress(ctx, j.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	require.NoError(t, c.CompleteChunk(ctx, j.ID, 0, "some output text", 100, false, &model.ChunkDelta{Claims: []string{"a claim"}}))

	chunk, err := c.GetChunk(ctx, j.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkStatusComplete, chunk.Status)
	assert.Equal(t, "some output text", chunk.OutputText)
	require.NotNil(t, chunk.Delta)
	assert.Equal(t, []string{"a claim"}, chunk.Delta.Claims)

	got, err := c.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentChunk, "completing chunk 0 advances current_chunk to 1")
}

func TestCompleteChunk_RejectsOutOfOrderCompletion(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	j := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, j))
	require.NoError(t, c.CreatePendingChunks(ctx, j.ID, []store.ChunkBand{
		{Min: 90, Target: 100, Max: 125},
		{Min: 90, Target: 100, Max: 125},
	}))

	err := c.CompleteChunk(ctx, j.ID, 1, "skips ahead", 100, false, &model.ChunkDelta{})
	assert.ErrorIs(t, err, store.ErrChunkIndexGap)
}

func TestListOrphans_FindsStaleHeartbeat(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	j := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, j))
	_, err := c.ClaimNextJob(ctx)
	require.NoError(t, err)

	orphans, err := c.ListOrphans(ctx, 0)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, j.ID, orphans[0].ID)

	require.NoError(t, c.ReleaseOrphan(ctx, j.ID))
	got, err := c.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Nil(t, got.HeartbeatAt)
}

func TestDeleteTerminalJobsOlderThan(t *testing.T) {
	c := testdb.NewTestClient(t)
	ctx := context.Background()

	j := newTestJob(model.JobKindReconstruction)
	require.NoError(t, c.CreateJob(ctx, j))
	require.NoError(t, c.CompleteJob(ctx, j.ID, "the final text"))

	n, err := c.DeleteTerminalJobsOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = c.GetJob(ctx, j.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
