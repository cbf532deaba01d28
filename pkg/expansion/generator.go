package expansion

import (
	"context"
	"fmt"
	"strings"

	"github.com/longformai/coherence/pkg/delta"
	"github.com/longformai/coherence/pkg/directive"
	"github.com/longformai/coherence/pkg/enforce"
	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/wordutil"
)

// SectionInput describes everything the Generator needs to write one
// section from scratch.
type SectionInput struct {
	Section       Section
	Index         int
	TotalSections int
	SourceText    string
	Plan          directive.Plan
	PriorContext  model.CoherenceContext
	PriorCount    int
}

// SectionOutput is what the Generator produces for one section.
type SectionOutput struct {
	Text     string
	Delta    *model.ChunkDelta
	Words    int
	Attempts int
	Flagged  bool
}

// Generator drives section-from-scratch prose generation plus, when
// needed, the Length Enforcer — the Expansion Engine's analogue of
// pkg/reconstruct.Reconstructor (spec §1: "drives the same streaming-section
// generator with word-count enforcement"). Unlike the Reconstructor it has
// no input chunk to rewrite; SourceText, when present, is woven in as
// optional background material rather than the thing being transformed.
type Generator struct {
	client   llm.Client
	enforcer *enforce.Enforcer
}

// NewGenerator builds a Generator bound to the given LLM client and
// enforcer.
func NewGenerator(client llm.Client, enforcer *enforce.Enforcer) *Generator {
	return &Generator{client: client, enforcer: enforcer}
}

// Generate produces one section's text. MaxTokens for the first pass is
// sized the same way the Reconstructor sizes it: roughly 2x target words.
func (g *Generator) Generate(ctx context.Context, in SectionInput) (SectionOutput, error) {
	prompt := g.prompt(in)

	resp, err := g.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: in.Section.Band.Target * 2})
	if err != nil {
		return SectionOutput{}, fmt.Errorf("expansion: section %d: %w", in.Index, err)
	}

	words := wordutil.CountWords(resp.Text)
	needsEnforcement := words < in.Section.Band.Min || resp.StopReason == llm.StopMaxTokens

	text := resp.Text
	attempts := 1
	flagged := false

	if needsEnforcement {
		result, err := g.enforcer.Drive(ctx, resp, in.Section.Band.Min, in.Section.Band.Target, in.Section.Band.Max, enforce.ContinuationPrompt)
		if err != nil {
			return SectionOutput{}, fmt.Errorf("expansion: section %d enforcement: %w", in.Index, err)
		}
		text = result.Text
		attempts = result.Attempts
		flagged = result.Flagged
		words = result.Words
	}

	clean := strings.TrimSpace(text)
	return SectionOutput{
		Text:     clean,
		Delta:    synthesizeDelta(clean),
		Words:    wordutil.CountWords(clean),
		Attempts: attempts,
		Flagged:  flagged,
	}, nil
}

func (g *Generator) prompt(in SectionInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write section %d of %d, titled %q.\n", in.Index+1, in.TotalSections, in.Section.Name)
	if in.Plan.AcademicRegister {
		b.WriteString("Use an academic register.\n")
	}
	if in.Plan.NoBulletPoints {
		b.WriteString("Write in prose only, no bullet points.\n")
	}
	if len(in.Plan.PhilosophersToReference) > 0 {
		fmt.Fprintf(&b, "Draw on: %s.\n", strings.Join(in.Plan.PhilosophersToReference, ", "))
	}
	if in.Plan.Citations != nil {
		fmt.Fprintf(&b, "Include roughly %d %s citations.\n", in.Plan.Citations.Count, in.Plan.Citations.Type)
	}
	fmt.Fprintf(&b, "Target approximately %d words (range %d-%d).\n\n", in.Section.Band.Target, in.Section.Band.Min, in.Section.Band.Max)

	if in.PriorCount > 0 {
		b.WriteString(delta.Summarize(in.PriorContext, in.PriorCount))
		b.WriteString("\n")
	}
	if in.SourceText != "" {
		b.WriteString("--- BACKGROUND MATERIAL ---\n")
		b.WriteString(in.SourceText)
		b.WriteString("\n--- END BACKGROUND MATERIAL ---\n")
	}
	return b.String()
}

// synthesizeDelta performs the same lightweight claim extraction
// pkg/reconstruct falls back to when a model omits a structured delta
// block: the first sentence of each paragraph becomes a claim, up to five
// claims.
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
