package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/store"
)

// claimableFakeStore wraps fakeStore with a claim queue, so worker/pool
// tests can drive ClaimNextJob and CountActiveJobs deterministically
// without a database.
type claimableFakeStore struct {
	*fakeStore

	queue          []string // job IDs claimable in order
	countActive    int
	countActiveErr error
	claimErr       error
	orphans        []*model.Job
	listOrphansErr error
}

func newClaimableFakeStore() *claimableFakeStore {
	return &claimableFakeStore{fakeStore: newFakeStore()}
}

func (c *claimableFakeStore) ClaimNextJob(ctx context.Context) (*model.Job, error) {
	if c.claimErr != nil {
		return nil, c.claimErr
	}
	if len(c.queue) == 0 {
		return nil, store.ErrNoJobAvailable
	}
	id := c.queue[0]
	c.queue = c.queue[1:]

	c.fakeStore.mu.Lock()
	c.fakeStore.jobs[id].Status = model.JobStatusRunning
	cp := *c.fakeStore.jobs[id]
	c.fakeStore.mu.Unlock()
	return &cp, nil
}

func (c *claimableFakeStore) CountActiveJobs(context.Context) (int, error) {
	if c.countActiveErr != nil {
		return 0, c.countActiveErr
	}
	return c.countActive, nil
}

func (c *claimableFakeStore) ListOrphans(context.Context, time.Duration) ([]*model.Job, error) {
	if c.listOrphansErr != nil {
		return nil, c.listOrphansErr
	}
	return c.orphans, nil
}

func newTestPool(t *testing.T, st Store, client *scriptedClient) *WorkerPool {
	t.Helper()
	cfg := testConfig()
	cfg.Queue.WorkerCount = 0 // tests call pollAndProcess directly, not via Start
	return NewWorkerPool(st, client, cfg, nil)
}

// seedReconstructionJob submits a one-chunk reconstruction job through the
// pool's own Controller, so its persisted chunk rows match what Run
// expects, then returns the job's ID for a worker test to queue a claim on.
func seedReconstructionJob(t *testing.T, pool *WorkerPool, words int) string {
	t.Helper()
	j, err := pool.Controller().Submit(context.Background(), model.JobKindReconstruction, wordsOf(words), "")
	require.NoError(t, err)
	return j.ID
}

func wordsOf(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += " "
		}
		out += "word"
	}
	return out
}

func TestWorker_PollAndProcess_AtCapacity(t *testing.T) {
	cst := newClaimableFakeStore()
	cst.countActive = 5
	client := &scriptedClient{chunkText: wordsOf(100) + "\n\n<<<DELTA>>>{}<<<END_DELTA>>>"}
	pool := newTestPool(t, cst, client)

	w := newWorker("w-test", pool)
	err := w.pollAndProcess(context.Background())
	require.ErrorIs(t, err, ErrAtCapacity)
	assert.Zero(t, client.calls, "should never reach the claim query, let alone the LLM, once at capacity")
}

func TestWorker_PollAndProcess_NoJobsAvailable(t *testing.T) {
	cst := newClaimableFakeStore()
	client := &scriptedClient{}
	pool := newTestPool(t, cst, client)

	w := newWorker("w-test", pool)
	err := w.pollAndProcess(context.Background())
	require.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestWorker_PollAndProcess_ClaimsAndRunsJobToCompletion(t *testing.T) {
	cst := newClaimableFakeStore()
	client := &scriptedClient{
		skeleton:  llm.Response{Text: `{"title":"Doc","sections":[{"heading":"Intro","target_words":100}]}`},
		chunkText: wordsOf(100) + "\n\n<<<DELTA>>>{}<<<END_DELTA>>>",
	}
	pool := newTestPool(t, cst, client)

	jobID := seedReconstructionJob(t, pool, 100)
	cst.queue = []string{jobID}

	w := newWorker("w-test", pool)
	require.NoError(t, w.pollAndProcess(context.Background()))

	final, err := cst.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, final.Status)

	h := w.health()
	assert.Equal(t, 1, h.JobsProcessed)
	assert.Equal(t, WorkerStatusIdle, h.Status, "status reverts to idle once the run finishes")
}

func TestWorker_PollAndProcess_AlreadyRunningInProcessReleasesClaim(t *testing.T) {
	cst := newClaimableFakeStore()
	client := &scriptedClient{chunkText: wordsOf(100) + "\n\n<<<DELTA>>>{}<<<END_DELTA>>>"}
	pool := newTestPool(t, cst, client)

	jobID := seedReconstructionJob(t, pool, 100)
	cst.queue = []string{jobID}

	_, err := pool.registry.start(jobID)
	require.NoError(t, err)

	w := newWorker("w-test", pool)
	require.NoError(t, w.pollAndProcess(context.Background()))

	final, err := cst.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, final.Status, "claim is released back to pending, not driven")
}

func TestWorker_PollAndProcess_ResumedJobAppendsAuditEvent(t *testing.T) {
	cst := newClaimableFakeStore()
	client := &scriptedClient{chunkText: wordsOf(100) + "\n\n<<<DELTA>>>{}<<<END_DELTA>>>"}
	pool := newTestPool(t, cst, client)

	jobID := seedReconstructionJob(t, pool, 200)
	cst.fakeStore.mu.Lock()
	cst.fakeStore.jobs[jobID].GlobalSkeleton = &model.GlobalSkeleton{Title: "t", Sections: []model.SkeletonNode{{Heading: "h", TargetWords: 100}}}
	cst.fakeStore.mu.Unlock()
	cst.queue = []string{jobID}

	w := newWorker("w-test", pool)
	require.NoError(t, w.pollAndProcess(context.Background()))

	events := cst.audit[jobID]
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, model.AuditJobCreated, events[0].Type, "Submit records job_created first")
	assert.Equal(t, model.AuditJobResumed, events[1].Type)
}

func TestWorker_PollAndProcess_PropagatesNonSentinelStoreErrors(t *testing.T) {
	cst := newClaimableFakeStore()
	boom := errors.New("boom")
	cst.claimErr = boom
	client := &scriptedClient{}
	pool := newTestPool(t, cst, client)

	w := newWorker("w-test", pool)
	err := w.pollAndProcess(context.Background())
	require.ErrorIs(t, err, boom)
}
