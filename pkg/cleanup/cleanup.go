// Package cleanup provides the retention sweep described in spec §3: jobs
// are retained indefinitely until a periodic sweep garbage-collects those
// in the complete or aborted state after a configurable TTL. Failed jobs
// are kept.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/longformai/coherence/pkg/config"
)

// Store is the persistence dependency the sweep needs. Implemented by
// *pkg/store.Client.
type Store interface {
	DeleteTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes terminal jobs past their retention TTL. Safe
// to run from multiple processes: the delete is a plain idempotent SQL
// statement, not a claimed resource.
type Sweeper struct {
	cfg   *config.RetentionConfig
	store Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a Sweeper ready to Start.
func NewSweeper(cfg *config.RetentionConfig, store Store) *Sweeper {
	return &Sweeper{cfg: cfg, store: store}
}

// Start launches the background sweep loop. Idempotent: a second Start on
// an already-running Sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup sweeper started",
		"terminal_job_ttl", s.cfg.TerminalJobTTL,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.TerminalJobTTL)
	count, err := s.store.DeleteTerminalJobsOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention sweep deleted terminal jobs", "count", count)
	}
}
