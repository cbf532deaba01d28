// Package reconstruct implements the Chunk Reconstructor: turns one input
// chunk, the GlobalSkeleton, and the prior coherence context into a
// rewritten chunk plus the coherence delta it contributes.
package reconstruct

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/longformai/coherence/pkg/delta"
	"github.com/longformai/coherence/pkg/enforce"
	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/wordutil"
)

// Band is the acceptable word range for one chunk.
type Band struct {
	Min    int
	Target int
	Max    int
}

// Input describes everything the Reconstructor needs for one chunk.
type Input struct {
	Text          string
	Index         int
	TotalChunks   int
	Skeleton      *model.GlobalSkeleton
	Band          Band
	PriorContext  model.CoherenceContext
	PriorCount    int
	AcademicVoice bool
}

// Output is what the Reconstructor produces for one chunk.
type Output struct {
	Text     string
	Delta    *model.ChunkDelta
	Words    int
	Attempts int
	Flagged  bool
}

var deltaBlockRe = regexp.MustCompile(`(?s)<<<DELTA>>>(.*?)<<<END_DELTA>>>`)

// Reconstructor drives the first-pass prompt and, when needed, hands off to
// the Length Enforcer.
type Reconstructor struct {
	client   llm.Client
	enforcer *enforce.Enforcer
}

// New builds a Reconstructor bound to the given LLM client and enforcer.
func New(client llm.Client, enforcer *enforce.Enforcer) *Reconstructor {
	return &Reconstructor{client: client, enforcer: enforcer}
}

// Reconstruct generates one chunk's output. MaxTokens for the first pass is
// sized to roughly 2x target words, per spec §4.F, with a generous implicit
// per-request timeout carried by the configured llm.Client.
func (r *Reconstructor) Reconstruct(ctx context.Context, in Input) (Output, error) {
	prompt := r.firstPassPrompt(in)

	resp, err := r.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: in.Band.Target * 2})
	if err != nil {
		return Output{}, fmt.Errorf("reconstruct: chunk %d: %w", in.Index, err)
	}

	words := wordutil.CountWords(resp.Text)
	needsEnforcement := words < in.Band.Min || resp.StopReason == llm.StopMaxTokens

	text := resp.Text
	attempts := 1
	flagged := false

	if needsEnforcement {
		result, err := r.enforcer.Drive(ctx, resp, in.Band.Min, in.Band.Target, in.Band.Max, enforce.ContinuationPrompt)
		if err != nil {
			return Output{}, fmt.Errorf("reconstruct: chunk %d enforcement: %w", in.Index, err)
		}
		text = result.Text
		attempts = result.Attempts
		flagged = result.Flagged
		words = result.Words
	}

	parsedDelta := extractDelta(text)
	cleanText := stripDeltaBlock(text)

	return Output{
		Text:     strings.TrimSpace(cleanText),
		Delta:    parsedDelta,
		Words:    wordutil.CountWords(cleanText),
		Attempts: attempts,
		Flagged:  flagged,
	}, nil
}

func (r *Reconstructor) firstPassPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite chunk %d of %d to fit the outline below.\n", in.Index+1, in.TotalChunks)
	if in.Skeleton != nil {
		fmt.Fprintf(&b, "Document title: %s\n", in.Skeleton.Title)
	}
	if in.AcademicVoice {
		b.WriteString("Use an academic register.\n")
	}
	fmt.Fprintf(&b, "Target approximately %d words (range %d-%d).\n\n", in.Band.Target, in.Band.Min, in.Band.Max)
	if in.PriorCount > 0 {
		b.WriteString(delta.Summarize(in.PriorContext, in.PriorCount))
		b.WriteString("\n")
	}
	b.WriteString("--- CHUNK INPUT ---\n")
	b.WriteString(in.Text)
	b.WriteString("\n\n--- END CHUNK INPUT ---\n")
	b.WriteString("After the rewritten text, append a delta block:\n<<<DELTA>>>{\"claims\":[...],\"terms\":[...],\"conflicts\":[...]}<<<END_DELTA>>>\n")
	return b.String()
}

// extractDelta parses the structured delta block the prompt requests. If
// the model didn't emit one, a lightweight claim extraction synthesizes a
// delta from the output text instead of leaving it null.
func extractDelta(text string) *model.ChunkDelta {
	m := deltaBlockRe.FindStringSubmatch(text)
	if m == nil {
		return synthesizeDelta(text)
	}
	var d model.ChunkDelta
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &d); err != nil {
		return synthesizeDelta(text)
	}
	return &d
}

func stripDeltaBlock(text string) string {
	return deltaBlockRe.ReplaceAllString(text, "")
}

// synthesizeDelta performs lightweight claim extraction: the first sentence
// of each paragraph becomes a claim, up to five claims, giving the Delta
// Store something to accumulate even when the model omits the structured
// block.
func synthesizeDelta(text string) *model.ChunkDelta {
	var claims []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if idx := strings.IndexAny(para, ".!?"); idx > 0 {
			claims = append(claims, strings.TrimSpace(para[:idx+1]))
		}
		if len(claims) >= 5 {
			break
		}
	}
	return &model.ChunkDelta{Claims: claims}
}
