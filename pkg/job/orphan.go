package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/longformai/coherence/pkg/model"
)

// runOrphanDetection periodically scans for jobs whose heartbeat has gone
// stale and releases them back to pending so another worker (in this
// process or another replica) can reclaim them. All replicas run this
// independently; ReleaseOrphan is idempotent against a race.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndReleaseOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

func (p *WorkerPool) detectAndReleaseOrphans(ctx context.Context) error {
	orphans, err := p.store.ListOrphans(ctx, p.cfg.OrphanThreshold)
	if err != nil {
		return err
	}

	p.orphanMu.Lock()
	p.lastOrphanScan = time.Now()
	p.orphanMu.Unlock()

	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("detected orphaned jobs", "count", len(orphans))
	recovered := 0
	for _, j := range orphans {
		// A job actively tracked in THIS process's registry isn't orphaned
		// even if its heartbeat lags a beat; skip it.
		if j.Status == model.JobStatusRunning || j.Status == model.JobStatusStitching {
			if p.isLocallyActive(j.ID) {
				continue
			}
		}
		if err := p.store.ReleaseOrphan(ctx, j.ID); err != nil {
			slog.Error("failed to release orphaned job", "job_id", j.ID, "error", err)
			continue
		}
		if _, err := p.store.AppendAuditEvent(ctx, j.ID, model.AuditOrphanReleased, map[string]any{
			"last_heartbeat": j.HeartbeatAt,
		}); err != nil {
			slog.Warn("failed to append orphan-released audit event", "job_id", j.ID, "error", err)
		}
		recovered++
	}

	p.orphanMu.Lock()
	p.orphansRecovered += recovered
	p.orphanMu.Unlock()
	return nil
}

// isLocallyActive reports whether this process is currently running jobID,
// guarding against the orphan scanner reclaiming a job this same process
// simply hasn't heartbeat for in the last tick.
func (p *WorkerPool) isLocallyActive(jobID string) bool {
	p.registry.mu.RLock()
	defer p.registry.mu.RUnlock()
	_, ok := p.registry.jobs[jobID]
	return ok
}
