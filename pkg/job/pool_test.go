package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/model"
)

func TestWorkerPool_StartIsIdempotent(t *testing.T) {
	cst := newClaimableFakeStore()
	cfg := testConfig()
	cfg.Queue.WorkerCount = 2
	cfg.Queue.OrphanDetectionInterval = time.Hour
	pool := NewWorkerPool(cst, &scriptedClient{}, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	pool.Start(ctx) // second call is a no-op, not a second set of workers
	assert.Len(t, pool.workers, 2)

	pool.Stop()
}

func TestWorkerPool_Abort_OnlyTrueForLocallyTrackedJobs(t *testing.T) {
	cst := newClaimableFakeStore()
	pool := newTestPool(t, cst, &scriptedClient{})

	assert.False(t, pool.Abort("untracked-job"), "nothing running here yet")

	h, err := pool.registry.start("job-1")
	require.NoError(t, err)
	assert.True(t, pool.Abort("job-1"))
	assert.True(t, h.aborted())
}

func TestWorkerPool_Health_ReportsDBUnreachable(t *testing.T) {
	cst := newClaimableFakeStore()
	cst.countActiveErr = errors.New("connection refused")
	pool := newTestPool(t, cst, &scriptedClient{})

	h := pool.Health(context.Background())
	assert.False(t, h.DBReachable)
	assert.False(t, h.IsHealthy)
	assert.Equal(t, "connection refused", h.DBError)
}

func TestWorkerPool_Health_CountsActiveAndTotalWorkers(t *testing.T) {
	cst := newClaimableFakeStore()
	cst.countActive = 3
	cfg := testConfig()
	cfg.Queue.WorkerCount = 4
	pool := NewWorkerPool(cst, &scriptedClient{}, cfg, nil)
	pool.workers = []*Worker{newWorker("w-0", pool), newWorker("w-1", pool)}

	h := pool.Health(context.Background())
	assert.True(t, h.DBReachable)
	assert.True(t, h.IsHealthy)
	assert.Equal(t, 3, h.ActiveJobs)
	assert.Equal(t, 2, h.TotalWorkers)
	assert.Equal(t, 0, h.ActiveWorkers, "workers constructed but never started report idle")
	assert.Len(t, h.WorkerStats, 2)
}

func TestWorkerPool_Controller_ReturnsSharedInstance(t *testing.T) {
	cst := newClaimableFakeStore()
	pool := newTestPool(t, cst, &scriptedClient{})
	assert.Same(t, pool.controller, pool.Controller())
}

func TestWorkerPool_DetectAndReleaseOrphans_SkipsLocallyActiveJobs(t *testing.T) {
	cst := newClaimableFakeStore()
	pool := newTestPool(t, cst, &scriptedClient{})

	jobID := seedReconstructionJob(t, pool, 50)
	cst.fakeStore.mu.Lock()
	cst.fakeStore.jobs[jobID].Status = model.JobStatusRunning
	cst.fakeStore.mu.Unlock()
	cst.orphans = []*model.Job{{ID: jobID, Status: model.JobStatusRunning}}

	_, err := pool.registry.start(jobID)
	require.NoError(t, err)

	require.NoError(t, pool.detectAndReleaseOrphans(context.Background()))
	assert.Zero(t, pool.orphansRecovered, "this process is actively driving the job; the scanner must not reclaim it")

	pool.registry.finish(jobID)
	require.NoError(t, pool.detectAndReleaseOrphans(context.Background()))
	assert.Equal(t, 1, pool.orphansRecovered)

	final, err := cst.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, final.Status)
}
