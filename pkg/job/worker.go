package job

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/store"
)

// Worker polls the pool's store for a claimable job and drives it to
// completion through the shared Controller, one job at a time.
type Worker struct {
	id   string
	pool *WorkerPool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:           id,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

func (w *Worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID: w.id, Status: w.status, CurrentJobID: w.currentJobID,
		JobsProcessed: w.jobsProcessed, LastActivity: w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker stopping")
			return
		case <-ctx.Done():
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the configured poll interval plus random jitter, so
// many workers across replicas don't all hit the claim query in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.pool.cfg.PollInterval
	jitter := w.pool.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(int64(jitter)))
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	active, err := w.pool.store.CountActiveJobs(ctx)
	if err != nil {
		return err
	}
	if active >= w.pool.cfg.MaxConcurrentJobs {
		return ErrAtCapacity
	}

	j, err := w.pool.store.ClaimNextJob(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoJobAvailable) {
			return ErrNoJobsAvailable
		}
		return err
	}

	log := slog.With("job_id", j.ID, "worker_id", w.id)

	h, err := w.pool.registry.start(j.ID)
	if err != nil {
		// Another goroutine in this process is already driving this job
		// (shouldn't happen given ClaimNextJob's row lock, but guards
		// against a double-claim race across pool instances in-process).
		log.Warn("job already tracked locally, releasing claim", "error", err)
		return w.pool.store.ReleaseOrphan(ctx, j.ID)
	}
	defer w.pool.registry.finish(j.ID)

	resumed := j.CurrentChunk > 0 || j.GlobalSkeleton != nil
	if resumed {
		if _, aerr := w.pool.store.AppendAuditEvent(ctx, j.ID, model.AuditJobResumed, map[string]any{
			"resume_from_chunk": j.CurrentChunk,
		}); aerr != nil {
			log.Warn("append resume audit event failed", "error", aerr)
		}
	}

	w.setStatus(WorkerStatusWorking, j.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	log.Info("job claimed", "resumed", resumed, "current_chunk", j.CurrentChunk, "num_chunks", j.NumChunks)
	if err := w.pool.controller.Run(ctx, j, h); err != nil {
		log.Error("job run ended with error", "error", err)
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()
	return nil
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
