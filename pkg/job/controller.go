package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/longformai/coherence/pkg/chunker"
	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/delta"
	"github.com/longformai/coherence/pkg/directive"
	"github.com/longformai/coherence/pkg/enforce"
	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/reconstruct"
	"github.com/longformai/coherence/pkg/skeleton"
	"github.com/longformai/coherence/pkg/stitch"
	"github.com/longformai/coherence/pkg/store"
	"github.com/longformai/coherence/pkg/wordutil"
)

// ErrInputOutOfRange indicates a submission's word count falls outside
// config.LengthDefaults.MinInputWords/MaxInputWords.
var ErrInputOutOfRange = errors.New("job: input word count out of range")

// ErrUnsupportedKind indicates a job kind this controller doesn't drive.
// Expansion jobs are driven by pkg/expansion instead (spec §4.I vs the
// Universal Expansion Engine section): its unit of work is a directive
// section plan, not a source-text chunk split.
var ErrUnsupportedKind = errors.New("job: controller only drives reconstruction jobs")

// Controller owns the Coherent Reconstruction Pipeline's per-job logic:
// skeleton extraction, the chunk-processing loop, and the final stitch
// pass. It is the "executor" a Worker hands a claimed job to.
type Controller struct {
	store         Store
	client        llm.Client
	extractor     *skeleton.Extractor
	deltaStore    *delta.Store
	reconstructor *reconstruct.Reconstructor
	cfg           *config.Config
	stream        Broadcaster
	auditLog      AuditLogger
	log           *slog.Logger
}

// AuditLogger persists and fans out one audit entry. Implemented by
// pkg/audit.Log; defaults to writing straight through Store when the
// controller isn't given one (e.g. in tests), so the audit trail is never
// silently dropped.
type AuditLogger interface {
	Append(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error)
}

type storeAuditLogger struct{ store Store }

func (s storeAuditLogger) Append(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) (*model.AuditEvent, error) {
	return s.store.AppendAuditEvent(ctx, jobID, eventType, payload)
}

// UseAuditLogger swaps in a fan-out-capable audit logger (pkg/audit.Log),
// replacing the default store-only logger. Called once during startup.
func (c *Controller) UseAuditLogger(l AuditLogger) { c.auditLog = l }

// NewController wires a Controller from its completion client, store, and
// configuration. stream may be nil, in which case events are discarded.
func NewController(st Store, client llm.Client, cfg *config.Config, stream Broadcaster) *Controller {
	if stream == nil {
		stream = NoopBroadcaster{}
	}
	c := &Controller{
		store:         st,
		client:        client,
		extractor:     skeleton.NewExtractor(client),
		deltaStore:    delta.New(st),
		reconstructor: reconstruct.New(client, enforce.New(client, cfg.Enforcer)),
		cfg:           cfg,
		stream:        stream,
		log:           slog.Default().With("component", "job"),
	}
	c.auditLog = storeAuditLogger{store: st}
	return c
}

// Submit validates a new submission, computes its chunk plan, and persists
// the job and its pending chunk rows. It is the entry point pkg/api's
// POST /jobs handler calls.
func (c *Controller) Submit(ctx context.Context, kind model.JobKind, sourceText, directiveRaw string) (*model.Job, error) {
	inputWords := wordutil.CountWords(sourceText)
	if kind == model.JobKindReconstruction {
		if inputWords < c.cfg.Length.MinInputWords || inputWords > c.cfg.Length.MaxInputWords {
			return nil, fmt.Errorf("%w: %d words (allowed %d-%d)", ErrInputOutOfRange, inputWords,
				c.cfg.Length.MinInputWords, c.cfg.Length.MaxInputWords)
		}
	}

	lengthCfg, chunks, bands := c.computeChunkPlan(inputWords, sourceText, directiveRaw)

	j := &model.Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       model.JobStatusPending,
		SourceText:   sourceText,
		DirectiveRaw: directiveRaw,
		TargetWords:  lengthCfg.TargetWords,
		NumChunks:    len(chunks),
	}
	if err := c.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := c.store.CreatePendingChunks(ctx, j.ID, bands); err != nil {
		return nil, err
	}
	c.audit(ctx, j.ID, model.AuditJobCreated, map[string]any{
		"kind": kind, "input_words": inputWords, "target_words": lengthCfg.TargetWords, "num_chunks": len(chunks),
	})
	c.stream.Broadcast(j.ID, map[string]any{
		"type": "job_started", "job_id": j.ID, "total_chunks": len(chunks),
		"input_words": inputWords, "target_words": lengthCfg.TargetWords,
		"length_mode": lengthCfg.Mode, "length_ratio": lengthCfg.Ratio,
	})
	return j, nil
}

// computeChunkPlan derives the same deterministic split Submit used to
// create the job, so Run can reproduce per-chunk input text without
// storing it redundantly. It is a pure function of inputWords, sourceText,
// directiveRaw, and the process's configuration.
func (c *Controller) computeChunkPlan(inputWords int, sourceText, directiveRaw string) (wordutil.LengthConfig, []chunker.Chunk, []store.ChunkBand) {
	guess := inputWords / c.cfg.Length.ChunkTargetMax
	if guess < 1 {
		guess = 1
	}
	lengthCfg := wordutil.CalculateLengthConfig(inputWords, c.cfg.Length.ChunkTargetMin, c.cfg.Length.ChunkTargetMax, guess, directiveRaw)
	chunks := chunker.Split(sourceText, lengthCfg.ChunkTarget)

	// Every chunk's output target is the ratio-scaled lengthCfg.ChunkTarget,
	// not the chunk's own input word count — a rewrite/expand job (ratio >
	// 1) must grow each chunk's output well past what it started with.
	bands := make([]store.ChunkBand, len(chunks))
	for i := range chunks {
		min, max := wordutil.ChunkBand(lengthCfg.ChunkTarget)
		bands[i] = store.ChunkBand{Min: min, Target: lengthCfg.ChunkTarget, Max: max}
	}
	return lengthCfg, chunks, bands
}

// Run drives a claimed job from its current state through to a terminal
// status. h carries this process's cooperative abort signal for the job;
// it is checked at each chunk boundary, never mid-call.
func (c *Controller) Run(ctx context.Context, j *model.Job, h *handle) error {
	if j.Kind != model.JobKindReconstruction {
		return fmt.Errorf("%w: got %q", ErrUnsupportedKind, j.Kind)
	}

	if j.Status == model.JobStatusPending {
		if err := c.store.TransitionStatus(ctx, j.ID, model.JobStatusPending, model.JobStatusRunning); err != nil {
			return err
		}
		j.Status = model.JobStatusRunning
	}

	plan := directive.Parse(j.DirectiveRaw)

	if j.GlobalSkeleton == nil {
		skel, err := c.extractor.Extract(ctx, j.SourceText, plan)
		if err != nil {
			c.failJob(ctx, j, fmt.Sprintf("skeleton extraction: %v", err))
			return err
		}
		if err := c.store.SetSkeleton(ctx, j.ID, skel); err != nil {
			c.failJob(ctx, j, fmt.Sprintf("persist skeleton: %v", err))
			return err
		}
		j.GlobalSkeleton = skel
		c.audit(ctx, j.ID, model.AuditSkeletonReady, map[string]any{"sections": len(skel.Sections)})
		c.stream.Broadcast(j.ID, map[string]any{"type": "outline", "job_id": j.ID, "skeleton": skel})
	}

	inputWords := wordutil.CountWords(j.SourceText)
	_, chunks, _ := c.computeChunkPlan(inputWords, j.SourceText, j.DirectiveRaw)
	if len(chunks) != j.NumChunks {
		err := fmt.Errorf("job: recomputed chunk plan (%d) doesn't match persisted plan (%d)", len(chunks), j.NumChunks)
		c.failJob(ctx, j, err.Error())
		return err
	}

	runStart := j.CreatedAt
	if runStart.IsZero() {
		runStart = time.Now()
	}
	runningWords := 0
	for idx := j.CurrentChunk; idx < j.NumChunks; idx++ {
		if h.aborted() {
			return c.abortJob(ctx, j)
		}

		words, err := c.processChunk(ctx, j, idx, chunks[idx].Text, plan, runStart)
		if err != nil {
			return err
		}
		runningWords += words
		j.CurrentChunk = idx + 1

		if err := c.store.Heartbeat(ctx, j.ID); err != nil {
			c.log.Warn("heartbeat failed", "job_id", j.ID, "error", err)
		}

		// Every 10 chunks from index 19 onward (i.e. after the 20th, 30th,
		// ... chunk), extrapolate the final word count from the pace set so
		// far and warn if it's tracking more than 25% short of the target
		// (spec §4.I).
		if idx >= 19 && (idx-19)%10 == 0 {
			projectedFinal := runningWords * j.NumChunks / (idx + 1)
			shortfall := 0.0
			if j.TargetWords > 0 {
				shortfall = float64(j.TargetWords-projectedFinal) / float64(j.TargetWords) * 100
			}
			if shortfall > 25 {
				c.stream.Broadcast(j.ID, map[string]any{
					"type": "warning", "job_id": j.ID,
					"message":         fmt.Sprintf("projected final length %d words is %.0f%% short of the %d word target", projectedFinal, shortfall, j.TargetWords),
					"projected_final": projectedFinal, "target_words": j.TargetWords, "shortfall": shortfall,
				})
			}
		}

		c.pace(ctx)
	}

	return c.stitch(ctx, j)
}

func (c *Controller) processChunk(ctx context.Context, j *model.Job, idx int, text string, plan directive.Plan, runStart time.Time) (int, error) {
	chunkRow, err := c.store.GetChunk(ctx, j.ID, idx)
	if err != nil {
		c.failJob(ctx, j, fmt.Sprintf("load chunk %d: %v", idx, err))
		return 0, err
	}
	if chunkRow.Status == model.ChunkStatusComplete {
		return chunkRow.WordCount, nil
	}

	attempt, err := c.store.MarkChunkInProgress(ctx, j.ID, idx)
	if err != nil {
		c.failJob(ctx, j, fmt.Sprintf("mark chunk %d in progress: %v", idx, err))
		return 0, err
	}
	c.audit(ctx, j.ID, model.AuditChunkStarted, map[string]any{"chunk_index": idx, "attempt": attempt})

	elapsed := time.Since(runStart)
	remaining := wordutil.EstimateRemaining(elapsed, idx, j.NumChunks)
	c.stream.Broadcast(j.ID, map[string]any{
		"type": "progress", "job_id": j.ID, "chunk_index": idx, "total_chunks": j.NumChunks,
		"phase": "reconstructing", "message": fmt.Sprintf("reconstructing chunk %d of %d", idx+1, j.NumChunks),
		"time_elapsed": wordutil.FormatDuration(elapsed), "estimated_remaining": wordutil.FormatDuration(remaining),
	})

	priorCtx, priorCount, err := c.deltaStore.LoadPriorDeltas(ctx, j.ID, idx)
	if err != nil {
		c.failJob(ctx, j, fmt.Sprintf("load prior deltas for chunk %d: %v", idx, err))
		return 0, err
	}

	in := reconstruct.Input{
		Text:          text,
		Index:         idx,
		TotalChunks:   j.NumChunks,
		Skeleton:      j.GlobalSkeleton,
		Band:          reconstruct.Band{Min: chunkRow.MinWords, Target: chunkRow.TargetWords, Max: chunkRow.MaxWords},
		PriorContext:  priorCtx,
		PriorCount:    priorCount,
		AcademicVoice: plan.AcademicRegister,
	}

	out, attempts, err := c.reconstructWithRetry(ctx, in)
	if err != nil {
		_ = c.store.FailChunk(ctx, j.ID, idx)
		c.failJob(ctx, j, fmt.Sprintf("chunk %d exhausted transport retries: %v", idx, err))
		return 0, err
	}
	if attempts > 1 {
		c.audit(ctx, j.ID, model.AuditChunkRetried, map[string]any{"chunk_index": idx, "attempts": attempts})
	}
	if out.Attempts > 1 {
		c.audit(ctx, j.ID, model.AuditLengthEnforced, map[string]any{"chunk_index": idx, "enforcement_attempts": out.Attempts, "flagged": out.Flagged})
	}

	if err := c.deltaStore.WriteChunk(ctx, j.ID, idx, out.Text, out.Words, out.Flagged, out.Delta); err != nil {
		c.failJob(ctx, j, fmt.Sprintf("write chunk %d: %v", idx, err))
		return 0, err
	}

	wire := model.Chunk{AttemptCount: out.Attempts, Flagged: out.Flagged}.WireStatus()
	c.audit(ctx, j.ID, model.AuditChunkComplete, map[string]any{"chunk_index": idx, "status": wire, "word_count": out.Words})
	c.stream.Broadcast(j.ID, map[string]any{
		"type": "chunk_complete", "job_id": j.ID, "chunk_index": idx, "status": wire, "word_count": out.Words,
	})
	return out.Words, nil
}

// reconstructWithRetry retries a whole Reconstruct call (first pass plus
// any continuation attempts) against the chunk transport policy: up to three
// retries after waits of 2s, 5s, 15s, so four attempts in all (spec §4.I). A malformed or empty completion
// surfaces as a transport error from pkg/llm and is retried the same way.
func (c *Controller) reconstructWithRetry(ctx context.Context, in reconstruct.Input) (reconstruct.Output, int, error) {
	policy := llm.ChunkTransportPolicy()
	var out reconstruct.Output
	attempts := 0

	operation := func() error {
		attempts++
		var err error
		out, err = c.reconstructor.Reconstruct(ctx, in)
		if err != nil {
			if attempts >= policy.MaxRetries+1 {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy.Base, uint64(policy.MaxRetries)))
	if err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			err = permErr.Err
		}
		return reconstruct.Output{}, attempts, fmt.Errorf("chunk %d: %w", in.Index, err)
	}
	return out, attempts, nil
}

func (c *Controller) stitch(ctx context.Context, j *model.Job) error {
	if err := c.store.TransitionStatus(ctx, j.ID, model.JobStatusRunning, model.JobStatusStitching); err != nil {
		c.failJob(ctx, j, fmt.Sprintf("transition to stitching: %v", err))
		return err
	}

	chunks, err := c.store.ListChunks(ctx, j.ID)
	if err != nil {
		c.failJob(ctx, j, fmt.Sprintf("list chunks for stitch: %v", err))
		return err
	}
	outputs := make([]stitch.ChunkOutput, len(chunks))
	for i, ch := range chunks {
		outputs[i] = stitch.ChunkOutput{Text: ch.OutputText, Delta: ch.Delta}
	}

	report := stitch.Run(j.GlobalSkeleton, outputs)
	if err := c.store.SaveStitchResult(ctx, &model.StitchResult{
		JobID: j.ID, SeamsAdjusted: report.Result.SeamsAdjusted, Notes: report.Result.Notes,
	}); err != nil {
		c.log.Warn("save stitch result failed (non-critical, job still completes)", "job_id", j.ID, "error", err)
	}
	c.audit(ctx, j.ID, model.AuditStitchApplied, map[string]any{"band": report.Band, "seams_adjusted": report.Result.SeamsAdjusted})

	if err := c.store.CompleteJob(ctx, j.ID, report.FinalOutput); err != nil {
		c.failJob(ctx, j, fmt.Sprintf("complete job: %v", err))
		return err
	}
	c.audit(ctx, j.ID, model.AuditJobComplete, map[string]any{"final_word_count": wordutil.CountWords(report.FinalOutput), "coherence_band": report.Band})
	c.stream.Broadcast(j.ID, map[string]any{"type": "job_complete", "job_id": j.ID, "coherence_band": report.Band})
	return nil
}

func (c *Controller) abortJob(ctx context.Context, j *model.Job) error {
	if err := c.store.AbortJob(ctx, j.ID); err != nil {
		c.log.Error("abort job failed", "job_id", j.ID, "error", err)
		return err
	}
	c.audit(ctx, j.ID, model.AuditJobAborted, nil)
	c.stream.Broadcast(j.ID, map[string]any{"type": "job_aborted", "job_id": j.ID})
	return nil
}

func (c *Controller) failJob(ctx context.Context, j *model.Job, reason string) {
	if err := c.store.FailJob(ctx, j.ID, reason); err != nil {
		c.log.Error("fail job transition failed", "job_id", j.ID, "error", err)
	}
	c.audit(ctx, j.ID, model.AuditJobFailed, map[string]any{"reason": reason})
	c.stream.Broadcast(j.ID, map[string]any{"type": "job_failed", "job_id": j.ID, "reason": reason})
}

// audit appends an audit event, logging (but never failing the job over) a
// write error: the audit log is best-effort observability, not a critical
// write (spec §7's persistence-error taxonomy).
func (c *Controller) audit(ctx context.Context, jobID string, eventType model.AuditEventType, payload map[string]any) {
	if _, err := c.auditLog.Append(ctx, jobID, eventType, payload); err != nil {
		c.log.Warn("append audit event failed", "job_id", jobID, "event_type", eventType, "error", err)
	}
}

// pace waits a jittered inter-chunk pause to stay below provider rate
// limits (spec §5/§9).
func (c *Controller) pace(ctx context.Context) {
	lo := c.cfg.Queue.InterChunkPauseMin
	hi := c.cfg.Queue.InterChunkPauseMax
	d := lo
	if hi > lo {
		d = lo + time.Duration(rand.Int64N(int64(hi-lo)))
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
