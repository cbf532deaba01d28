// Package expansion implements the Universal Expansion Engine: a second,
// structurally similar subsystem to the Job Controller (pkg/job) that
// parses a free-text directive into a section plan and drives the same
// streaming-section generation and word-count enforcement, keyed by
// section index instead of chunk index, fanning out over the shared
// "generation" channel instead of per-job channels.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/delta"
	"github.com/longformai/coherence/pkg/directive"
	"github.com/longformai/coherence/pkg/enforce"
	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/store"
	"github.com/longformai/coherence/pkg/wordutil"
)

// GenerationChannel is the shared Stream Hub channel the Expansion Engine
// broadcasts every job's section events onto (spec §4.J/§6); observers
// distinguish jobs by the "job_id" field in each event.
const GenerationChannel = "generation"

// ErrAlreadyRunning indicates Run was called for a job this process is
// already driving.
var ErrAlreadyRunning = errors.New("expansion: already running in this process")

// ErrUnsupportedKind indicates a job kind this engine doesn't drive.
var ErrUnsupportedKind = errors.New("expansion: engine only drives expansion jobs")

// Store is the persistence surface the Expansion Engine needs. Sections are
// stored as Chunk rows (index, word band, output text, delta) — the same
// shape a reconstruction chunk already has, reused here keyed by section
// index instead of source-text offset.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	CreatePendingChunks(ctx context.Context, jobID string, bands []store.ChunkBand) error
	TransitionStatus(ctx context.Context, jobID string, from, to model.JobStatus) error
	Heartbeat(ctx context.Context, jobID string) error
	GetChunk(ctx context.Context, jobID string, index int) (*model.Chunk, error)
	MarkChunkInProgress(ctx context.Context, jobID string, index int) (int, error)
	CompleteChunk(ctx context.Context, jobID string, index int, output string, wordCount int, flagged bool, delta *model.ChunkDelta) error
	FailChunk(ctx context.Context, jobID string, index int) error
	ListChunks(ctx context.Context, jobID string) ([]*model.Chunk, error)
	CompleteJob(ctx context.Context, jobID, finalOutput string) error
	FailJob(ctx context.Context, jobID, reason string) error
	AppendAuditEvent(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error)
}

// Broadcaster publishes section-scoped events to the Stream Hub.
type Broadcaster interface {
	Broadcast(channel string, event map[string]any)
}

// Engine drives the Universal Expansion Engine: directive parsing, section
// planning, and the per-section generate-then-enforce loop.
type Engine struct {
	store      Store
	generator  *Generator
	deltaStore *delta.Store
	cfg        *config.Config
	stream     Broadcaster

	mu      sync.Mutex
	running map[string]struct{}

	log *slog.Logger
}

// NewEngine wires an Engine from its completion client, store, and
// configuration. stream may be nil, in which case events are discarded.
func NewEngine(st Store, client llm.Client, cfg *config.Config, stream Broadcaster) *Engine {
	if stream == nil {
		stream = noopBroadcaster{}
	}
	return &Engine{
		store:      st,
		generator:  NewGenerator(client, enforce.New(client, cfg.Enforcer)),
		deltaStore: delta.New(st),
		cfg:        cfg,
		stream:     stream,
		running:    make(map[string]struct{}),
		log:        slog.Default().With("component", "expansion"),
	}
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, map[string]any) {}

// Submit parses directiveRaw into a section plan and persists a new
// expansion job. sourceText is optional background material the generator
// weaves into its prompts; most expansion submissions leave it empty,
// unlike a reconstruction job where it is the thing being rewritten.
func (e *Engine) Submit(ctx context.Context, directiveRaw, sourceText string) (*model.Job, error) {
	plan := directive.Parse(directiveRaw)
	sections := BuildSections(plan, e.cfg.Length)

	target := 0
	bands := make([]store.ChunkBand, len(sections))
	for i, s := range sections {
		bands[i] = s.Band
		target += s.Band.Target
	}

	j := &model.Job{
		ID:           uuid.NewString(),
		Kind:         model.JobKindExpansion,
		Status:       model.JobStatusPending,
		SourceText:   sourceText,
		DirectiveRaw: directiveRaw,
		TargetWords:  target,
		NumChunks:    len(sections),
	}
	if err := e.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := e.store.CreatePendingChunks(ctx, j.ID, bands); err != nil {
		return nil, err
	}
	e.audit(ctx, j.ID, model.AuditJobCreated, map[string]any{
		"kind": j.Kind, "target_words": target, "num_sections": len(sections),
	})
	return j, nil
}

// Run drives an expansion job's section loop to completion, resuming from
// j.CurrentChunk when the job was already partway through. Rejects a
// second concurrent Run for the same job in this process.
func (e *Engine) Run(ctx context.Context, j *model.Job) error {
	if j.Kind != model.JobKindExpansion {
		return fmt.Errorf("%w: got %q", ErrUnsupportedKind, j.Kind)
	}
	if err := e.track(j.ID); err != nil {
		return err
	}
	defer e.untrack(j.ID)

	if j.Status == model.JobStatusPending {
		if err := e.store.TransitionStatus(ctx, j.ID, model.JobStatusPending, model.JobStatusRunning); err != nil {
			return err
		}
		j.Status = model.JobStatusRunning
	}

	plan := directive.Parse(j.DirectiveRaw)
	sections := BuildSections(plan, e.cfg.Length)
	if len(sections) != j.NumChunks {
		err := fmt.Errorf("expansion: recomputed section plan (%d) doesn't match persisted plan (%d)", len(sections), j.NumChunks)
		e.failJob(ctx, j, err.Error())
		return err
	}

	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Name
	}
	e.audit(ctx, j.ID, model.AuditSkeletonReady, map[string]any{"sections": names})
	e.stream.Broadcast(GenerationChannel, map[string]any{"type": "outline", "job_id": j.ID, "sections": names})

	for idx := j.CurrentChunk; idx < j.NumChunks; idx++ {
		if err := e.processSection(ctx, j, idx, sections[idx], plan); err != nil {
			return err
		}
		j.CurrentChunk = idx + 1

		// Keeps this job out of the Job Controller's orphan scan, which has
		// no visibility into the Engine's own in-process tracking and would
		// otherwise see a stale (never-set) heartbeat and release it back
		// to pending mid-run.
		if err := e.store.Heartbeat(ctx, j.ID); err != nil {
			e.log.Warn("heartbeat failed", "job_id", j.ID, "error", err)
		}
	}

	return e.complete(ctx, j)
}

func (e *Engine) processSection(ctx context.Context, j *model.Job, idx int, sec Section, plan directive.Plan) error {
	chunkRow, err := e.store.GetChunk(ctx, j.ID, idx)
	if err != nil {
		e.failJob(ctx, j, fmt.Sprintf("load section %d: %v", idx, err))
		return err
	}
	if chunkRow.Status == model.ChunkStatusComplete {
		return nil
	}

	attempt, err := e.store.MarkChunkInProgress(ctx, j.ID, idx)
	if err != nil {
		e.failJob(ctx, j, fmt.Sprintf("mark section %d in progress: %v", idx, err))
		return err
	}
	e.audit(ctx, j.ID, model.AuditChunkStarted, map[string]any{"section_index": idx, "attempt": attempt})
	e.stream.Broadcast(GenerationChannel, map[string]any{
		"type": "progress", "job_id": j.ID, "section_index": idx, "total_sections": j.NumChunks,
	})

	priorCtx, priorCount, err := e.deltaStore.LoadPriorDeltas(ctx, j.ID, idx)
	if err != nil {
		e.failJob(ctx, j, fmt.Sprintf("load prior deltas for section %d: %v", idx, err))
		return err
	}

	in := SectionInput{
		Section:       sec,
		Index:         idx,
		TotalSections: j.NumChunks,
		SourceText:    j.SourceText,
		Plan:          plan,
		PriorContext:  priorCtx,
		PriorCount:    priorCount,
	}

	out, err := e.generator.Generate(ctx, in)
	if err != nil {
		_ = e.store.FailChunk(ctx, j.ID, idx)
		e.failJob(ctx, j, fmt.Sprintf("section %d generation failed: %v", idx, err))
		return err
	}

	if err := e.deltaStore.WriteChunk(ctx, j.ID, idx, out.Text, out.Words, out.Flagged, out.Delta); err != nil {
		e.failJob(ctx, j, fmt.Sprintf("write section %d: %v", idx, err))
		return err
	}

	wire := model.Chunk{AttemptCount: out.Attempts, Flagged: out.Flagged}.WireStatus()
	e.audit(ctx, j.ID, model.AuditChunkComplete, map[string]any{"section_index": idx, "status": wire, "word_count": out.Words})
	e.stream.Broadcast(GenerationChannel, map[string]any{
		"type": "section_complete", "job_id": j.ID, "section_index": idx, "section_name": sec.Name,
		"status": wire, "word_count": out.Words,
	})
	return nil
}

func (e *Engine) complete(ctx context.Context, j *model.Job) error {
	chunks, err := e.store.ListChunks(ctx, j.ID)
	if err != nil {
		e.failJob(ctx, j, fmt.Sprintf("list sections for completion: %v", err))
		return err
	}

	var b strings.Builder
	for i, ch := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ch.OutputText)
	}
	final := b.String()

	if err := e.store.CompleteJob(ctx, j.ID, final); err != nil {
		e.failJob(ctx, j, fmt.Sprintf("complete job: %v", err))
		return err
	}
	e.audit(ctx, j.ID, model.AuditJobComplete, map[string]any{"final_word_count": wordutil.CountWords(final)})
	e.stream.Broadcast(GenerationChannel, map[string]any{"type": "complete", "job_id": j.ID})
	return nil
}

func (e *Engine) failJob(ctx context.Context, j *model.Job, reason string) {
	if err := e.store.FailJob(ctx, j.ID, reason); err != nil {
		e.log.Error("fail job transition failed", "job_id", j.ID, "error", err)
	}
	e.audit(ctx, j.ID, model.AuditJobFailed, map[string]any{"reason": reason})
	e.stream.Broadcast(GenerationChannel, map[string]any{"type": "error", "job_id": j.ID, "reason": reason})
}

func (e *Engine) audit(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) {
	if _, err := e.store.AppendAuditEvent(ctx, jobID, eventType, payload); err != nil {
		e.log.Warn("append audit event failed", "job_id", jobID, "event_type", eventType, "error", err)
	}
}

func (e *Engine) track(jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.running[jobID]; exists {
		return ErrAlreadyRunning
	}
	e.running[jobID] = struct{}{}
	return nil
}

func (e *Engine) untrack(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, jobID)
}
