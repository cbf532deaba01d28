package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/llm"
)

// WorkerPool runs a fixed number of Worker goroutines that poll the store
// for claimable jobs and an independent orphan-detection goroutine. It is
// the process-wide entry point cmd/coherence wires at startup.
type WorkerPool struct {
	store      Store
	controller *Controller
	cfg        *config.QueueConfig
	registry   *registry

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	orphanMu         sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int

	started bool
	mu      sync.Mutex
}

// NewWorkerPool builds a pool ready to Start. client is the LLM completion
// client every job's controller drives its reconstruction calls through.
func NewWorkerPool(st Store, client llm.Client, cfg *config.Config, stream Broadcaster) *WorkerPool {
	return &WorkerPool{
		store:      st,
		controller: NewController(st, client, cfg, stream),
		cfg:        cfg.Queue,
		registry:   newRegistry(),
		stopCh:     make(chan struct{}),
	}
}

// Start spawns the configured number of worker goroutines plus the orphan
// scanner. Idempotent: a second Start is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("worker-%d", i), p)
		p.workers = append(p.workers, w)
		w.start(ctx)
	}

	p.wg.Add(1)
	go p.runOrphanDetection(ctx)
}

// Stop signals every worker and the orphan scanner to stop and waits for
// them to finish.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	for _, w := range p.workers {
		w.stop()
	}
	p.wg.Wait()
}

// Abort raises the cooperative abort flag for a job this process is
// actively running. Returns false if the job isn't tracked here — the
// caller should fall back to store.AbortJob directly (the job may be
// running on a different replica, or already idle/terminal).
func (p *WorkerPool) Abort(jobID string) bool {
	return p.registry.signalAbort(jobID)
}

// Controller returns the pool's Job Controller, for submitting new jobs
// through the same instance the workers claim from and for wiring a
// fan-out-capable AuditLogger in at startup.
func (p *WorkerPool) Controller() *Controller {
	return p.controller
}

// Health reports the pool's current state for the health endpoint.
func (p *WorkerPool) Health(ctx context.Context) PoolHealth {
	h := PoolHealth{
		TotalWorkers:  len(p.workers),
		MaxConcurrent: p.cfg.MaxConcurrentJobs,
		ActiveJobs:    p.registry.activeCount(),
	}

	if active, err := p.store.CountActiveJobs(ctx); err != nil {
		h.DBReachable = false
		h.DBError = err.Error()
	} else {
		h.DBReachable = true
		h.ActiveJobs = active
	}

	for _, w := range p.workers {
		stat := w.health()
		h.WorkerStats = append(h.WorkerStats, stat)
		if stat.Status == WorkerStatusWorking {
			h.ActiveWorkers++
		}
	}

	p.orphanMu.Lock()
	h.LastOrphanScan = p.lastOrphanScan
	h.OrphansRecovered = p.orphansRecovered
	p.orphanMu.Unlock()

	h.IsHealthy = h.DBReachable
	return h
}
