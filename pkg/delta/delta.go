// Package delta implements the Delta Store: the single write path for
// chunk output + coherence delta, and the read path that folds prior
// chunks' deltas into a bounded CoherenceContext for the next chunk.
package delta

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/longformai/coherence/pkg/model"
)

// Querier is the subset of pkg/store's Client the Delta Store needs,
// narrowed to an interface so it can be tested against a fake.
type Querier interface {
	CompleteChunk(ctx context.Context, jobID string, index int, output string, wordCount int, flagged bool, delta *model.ChunkDelta) error
	GetChunk(ctx context.Context, jobID string, index int) (*model.Chunk, error)
	ListChunks(ctx context.Context, jobID string) ([]*model.Chunk, error)
}

// Store is the Delta Store.
type Store struct {
	db  Querier
	log *slog.Logger
}

// New builds a Delta Store over the given persistence layer.
func New(db Querier) *Store {
	return &Store{db: db, log: slog.Default().With("component", "delta")}
}

// WriteChunk persists output + delta + status=complete in a single
// transaction (via Querier.CompleteChunk) and verifies the write landed. If
// the post-commit read shows a null delta, the write is retried once; a
// second failure fails the chunk (returned to the caller as an error).
func (s *Store) WriteChunk(ctx context.Context, jobID string, index int, output string, wordCount int, flagged bool, delta *model.ChunkDelta) error {
	if err := s.db.CompleteChunk(ctx, jobID, index, output, wordCount, flagged, delta); err != nil {
		return fmt.Errorf("delta: write chunk %d: %w", index, err)
	}

	chunk, err := s.db.GetChunk(ctx, jobID, index)
	if err != nil {
		return fmt.Errorf("delta: verify chunk %d: %w", index, err)
	}
	if chunk.Delta != nil {
		return nil
	}

	s.log.Warn("delta missing after commit, retrying write once", "job_id", jobID, "chunk_index", index)
	if err := s.db.CompleteChunk(ctx, jobID, index, output, wordCount, flagged, delta); err != nil {
		return fmt.Errorf("delta: retry write chunk %d: %w", index, err)
	}
	chunk, err = s.db.GetChunk(ctx, jobID, index)
	if err != nil {
		return fmt.Errorf("delta: verify retried chunk %d: %w", index, err)
	}
	if chunk.Delta == nil {
		return fmt.Errorf("delta: chunk %d delta still null after retry", index)
	}
	return nil
}

// LoadPriorDeltas returns the accumulated CoherenceContext for chunks
// [0, uptoIndex), bounded to the last 15 claims, 20 terms, and 5 conflicts.
// A complete chunk with a null delta is logged and skipped — never treated
// as a hard error (spec §4.E).
func (s *Store) LoadPriorDeltas(ctx context.Context, jobID string, uptoIndex int) (model.CoherenceContext, int, error) {
	chunks, err := s.db.ListChunks(ctx, jobID)
	if err != nil {
		return model.CoherenceContext{}, 0, fmt.Errorf("delta: load prior deltas: %w", err)
	}

	var claims, terms, conflicts []string
	seenTerms := map[string]bool{}
	considered := 0

	for _, c := range chunks {
		if c.Index >= uptoIndex {
			continue
		}
		if c.Status != model.ChunkStatusComplete {
			continue
		}
		considered++
		if c.Delta == nil {
			s.log.Warn("prior chunk complete with null delta", "job_id", jobID, "chunk_index", c.Index)
			continue
		}
		claims = append(claims, c.Delta.Claims...)
		conflicts = append(conflicts, c.Delta.Conflicts...)
		for _, t := range c.Delta.Terms {
			if !seenTerms[t] {
				seenTerms[t] = true
				terms = append(terms, t)
			}
		}
	}

	ctx2 := model.CoherenceContext{
		RecentClaims: lastN(claims, model.MaxContextClaims),
		KnownTerms:   lastN(terms, model.MaxContextTerms),
		OpenConflict: lastN(conflicts, model.MaxContextConflicts),
	}
	return ctx2, considered, nil
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Summarize renders the CoherenceContext into the prompt text that the Chunk
// Reconstructor and the Expansion Generator insert into their first-pass
// prompts. Continuation prompts do not include it.
func Summarize(ctx model.CoherenceContext, chunkCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== PRIOR CHUNKS COHERENCE CONTEXT (%d chunks) ===\n", chunkCount)
	b.WriteString("ACCUMULATED CLAIMS (must not contradict):\n")
	for _, c := range ctx.RecentClaims {
		fmt.Fprintf(&b, "  - %s\n", c)
	}
	b.WriteString("TERMS ALREADY USED (use consistently): ")
	b.WriteString(strings.Join(ctx.KnownTerms, ", "))
	b.WriteString("\n")
	if len(ctx.OpenConflict) > 0 {
		b.WriteString("PREVIOUS CONFLICTS DETECTED (avoid repeating):\n")
		for _, c := range ctx.OpenConflict {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	return b.String()
}
