package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/job"
	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/store"
	"github.com/longformai/coherence/pkg/stream"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeSubmitter struct {
	job *model.Job
	err error
}

func (f *fakeSubmitter) Submit(context.Context, model.JobKind, string, string) (*model.Job, error) {
	return f.job, f.err
}

type fakePool struct {
	abortResult bool
	health      job.PoolHealth
}

func (f *fakePool) Abort(string) bool                          { return f.abortResult }
func (f *fakePool) Health(context.Context) job.PoolHealth { return f.health }

type fakeAPIStore struct {
	jobs map[string]*model.Job
}

func (f *fakeAPIStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}

func (f *fakeAPIStore) AbortJob(_ context.Context, id string) error {
	if j, ok := f.jobs[id]; ok {
		j.Status = model.JobStatusAborted
	}
	return nil
}

func (f *fakeAPIStore) TransitionStatus(_ context.Context, id string, from, to model.JobStatus) error {
	j, ok := f.jobs[id]
	if !ok || j.Status != from {
		return store.ErrOptimisticLock
	}
	j.Status = to
	return nil
}

func (f *fakeAPIStore) ListAuditEvents(context.Context, string, int64, int) ([]*model.AuditEvent, error) {
	return nil, nil
}

func newTestServer() (*Server, *fakeAPIStore, *fakeSubmitter, *fakePool) {
	st := &fakeAPIStore{jobs: map[string]*model.Job{}}
	sub := &fakeSubmitter{}
	pool := &fakePool{health: job.PoolHealth{DBReachable: true}}
	hub := stream.NewHub(&config.StreamConfig{SendBufferSize: 8, WriteTimeout: time.Second, CatchupLimit: 200})
	cfg := &config.Config{
		Queue: &config.QueueConfig{WorkerCount: 2, MaxConcurrentJobs: 4},
		LLM:   &config.LLMProviderConfig{Name: "test"},
		Stream: &config.StreamConfig{CatchupLimit: 200},
	}
	return NewServer(cfg, st, sub, nil, pool, hub), st, sub, pool
}

func TestHandleSubmit_Created(t *testing.T) {
	s, _, sub, _ := newTestServer()
	sub.job = &model.Job{ID: "job-1", Kind: model.JobKindReconstruction, Status: model.JobStatusPending, NumChunks: 3}

	body, _ := json.Marshal(SubmitJobRequest{SourceText: "hello world"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, 3, resp.NumChunks)
}

func TestHandleGet_NotFound(t *testing.T) {
	s, _, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAbort_PrefersPoolSignal(t *testing.T) {
	s, st, _, pool := newTestServer()
	st.jobs["job-2"] = &model.Job{ID: "job-2", Status: model.JobStatusRunning}
	pool.abortResult = true

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-2/abort", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, model.JobStatusRunning, st.jobs["job-2"].Status, "pool-signaled abort doesn't itself mutate store state")
}

func TestHandleAbort_FallsBackToStore(t *testing.T) {
	s, st, _, pool := newTestServer()
	st.jobs["job-3"] = &model.Job{ID: "job-3", Status: model.JobStatusRunning}
	pool.abortResult = false

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-3/abort", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, model.JobStatusAborted, st.jobs["job-3"].Status)
}

func TestHandleResume_RejectsNonAbortedJob(t *testing.T) {
	s, st, _, _ := newTestServer()
	st.jobs["job-4"] = &model.Job{ID: "job-4", Status: model.JobStatusRunning}

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-4/resume", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleResume_RequeuesAbortedJob(t *testing.T) {
	s, st, _, _ := newTestServer()
	st.jobs["job-5"] = &model.Job{ID: "job-5", Status: model.JobStatusAborted}

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-5/resume", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, model.JobStatusPending, st.jobs["job-5"].Status)
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
