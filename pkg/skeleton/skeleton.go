// Package skeleton extracts the whole-document GlobalSkeleton: a one-shot
// structured outline the reconstructor grounds every chunk against.
package skeleton

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/longformai/coherence/pkg/directive"
	"github.com/longformai/coherence/pkg/llm"
	"github.com/longformai/coherence/pkg/model"
)

// ErrMalformed indicates the model's skeleton response was missing
// required keys or had an empty section list — treated as a retryable
// failure per spec §4.D.
var ErrMalformed = fmt.Errorf("skeleton: malformed response")

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

// Extractor invokes the LLM once per job to produce a GlobalSkeleton,
// retrying transport and malformed-response failures per
// llm.SkeletonExtractorPolicy.
type Extractor struct {
	client llm.Client
}

// NewExtractor builds an Extractor bound to the given completion client.
func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{client: client}
}

// Extract produces a GlobalSkeleton for the source text, using the
// directive's requested structure (if any) as a hint. Transport errors and
// malformed responses are both retried up to three times with exponential
// backoff (base 1s, cap 30s); persistent failure is returned to the caller,
// who transitions the job to failed.
func (e *Extractor) Extract(ctx context.Context, sourceText string, plan directive.Plan) (*model.GlobalSkeleton, error) {
	prompt := buildPrompt(sourceText, plan)
	policy := llm.SkeletonExtractorPolicy()

	var skel *model.GlobalSkeleton
	attempts := 0

	operation := func() error {
		attempts++
		resp, err := e.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: 2000})
		if err != nil {
			if attempts >= policy.MaxRetries+1 {
				return backoff.Permanent(err)
			}
			return err
		}
		parsed, err := parseSkeleton(resp.Text)
		if err != nil {
			if attempts >= policy.MaxRetries+1 {
				return backoff.Permanent(err)
			}
			return err
		}
		skel = parsed
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy.Base, uint64(policy.MaxRetries)))
	if err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			err = permErr.Err
		}
		return nil, fmt.Errorf("skeleton: extraction failed after %d attempts: %w", attempts, err)
	}
	return skel, nil
}

func buildPrompt(sourceText string, plan directive.Plan) string {
	var b strings.Builder
	b.WriteString("Produce a structured outline for the following document.\n")
	if len(plan.Structure) > 0 {
		b.WriteString("Requested sections: ")
		for i, s := range plan.Structure {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.Name)
		}
		b.WriteString("\n")
	}
	b.WriteString("Respond as JSON: {\"title\": ..., \"sections\": [{\"heading\":..., \"summary\":..., \"target_words\":...}]}\n\n")
	b.WriteString(sourceText)
	return b.String()
}

// parseSkeleton extracts the first JSON object in the response and decodes
// it into a GlobalSkeleton, rejecting empty section lists.
func parseSkeleton(text string) (*model.GlobalSkeleton, error) {
	block := jsonBlockRe.FindString(text)
	if block == "" {
		return nil, ErrMalformed
	}
	var skel model.GlobalSkeleton
	if err := json.Unmarshal([]byte(block), &skel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(skel.Sections) == 0 {
		return nil, ErrMalformed
	}
	return &skel, nil
}
