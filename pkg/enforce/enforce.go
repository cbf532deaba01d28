// Package enforce implements the Length Enforcer: the continuation loop
// that drives a chunk's output up to its target word band, issuing
// further completions when the model stops short or is cut off mid-turn.
package enforce

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/wordutil"
)

// Result is the outcome of driving a chunk to completion.
type Result struct {
	Text     string
	Words    int
	Attempts int
	// Flagged is set when the continuation cap was reached with the chunk
	// still below MinWords — a hard length failure that completes the
	// chunk anyway (spec §4.G/§7).
	Flagged bool
}

// Enforcer runs the continuation loop for a single chunk.
type Enforcer struct {
	client  llm.Client
	cfg     *config.EnforcerConfig
	limiter *rate.Limiter
}

// New builds an Enforcer paced by cfg.RateLimitPause between continuation
// attempts.
func New(client llm.Client, cfg *config.EnforcerConfig) *Enforcer {
	return &Enforcer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimitPause), 1),
	}
}

// Drive continues generating from firstPass until the word count reaches
// 0.95*target (success) or min (partial success after the cap), forcing a
// continuation unconditionally whenever the previous response ended with
// stopReason=max_tokens (mid-sentence truncation).
func (e *Enforcer) Drive(ctx context.Context, firstPass llm.Response, min, target, max int, continuationPrompt func(priorTail string, wantWords int) string) (Result, error) {
	text := firstPass.Text
	stopReason := firstPass.StopReason
	attempts := 1

	threshold := int(float64(target) * e.cfg.CompletionRatio)

	for attempts < e.cfg.MaxAttempts {
		words := wordutil.CountWords(text)
		forced := stopReason == llm.StopMaxTokens
		if words >= threshold && !forced {
			break
		}

		remaining := target - words
		if remaining < 0 {
			remaining = 0
		}
		wantWords := remaining
		if wantWords > e.cfg.MaxContinuationWords {
			wantWords = e.cfg.MaxContinuationWords
		}
		if wantWords == 0 {
			wantWords = e.cfg.MaxContinuationWords
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("enforce: rate limiter: %w", err)
		}

		prompt := continuationPrompt(tailParagraphs(text, 3), wantWords)
		resp, err := e.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: wantWords * 2})
		if err != nil {
			return Result{}, fmt.Errorf("enforce: continuation attempt %d: %w", attempts+1, err)
		}

		text = text + "\n\n" + resp.Text
		stopReason = resp.StopReason
		attempts++
	}

	words := wordutil.CountWords(text)
	flagged := words < min

	return Result{Text: text, Words: words, Attempts: attempts, Flagged: flagged}, nil
}

// tailParagraphs returns the last n paragraphs of text, used verbatim in
// the continuation prompt so the model can pick up where it left off
// without repeating itself.
func tailParagraphs(text string, n int) string {
	paras := strings.Split(strings.TrimSpace(text), "\n\n")
	if len(paras) <= n {
		return text
	}
	return strings.Join(paras[len(paras)-n:], "\n\n")
}

// ContinuationPrompt builds the default continuation prompt per spec §4.G:
// the prior tail verbatim plus a request for approximately wantWords more
// words, instructed not to repeat itself or conclude early.
func ContinuationPrompt(priorTail string, wantWords int) string {
	var b strings.Builder
	b.WriteString("Continue the following text without repeating any of it. ")
	fmt.Fprintf(&b, "Write approximately %d additional words. Do not conclude prematurely unless the remaining target is small.\n\n", wantWords)
	b.WriteString("--- PRIOR TEXT (for continuity only, do not repeat) ---\n")
	b.WriteString(priorTail)
	return b.String()
}
