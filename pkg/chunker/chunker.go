// Package chunker splits source text into ordered chunks along paragraph
// and sentence boundaries, targeting a configured word count per chunk.
package chunker

import (
	"regexp"
	"strings"

	"github.com/longformai/coherence/pkg/wordutil"
)

// Chunk is one ordered slice of the source document.
type Chunk struct {
	Text      string
	WordCount int
}

const hardFloor = 200

var sentenceBoundary = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)

// Split divides text into chunks targeting approximately target words each.
// Soft goal: each chunk ≈ target words. Hard floor: no chunk below 200
// words unless the input itself is smaller. Hard ceiling: 2x target.
// Stable: identical input always yields identical chunking.
func Split(text string, target int) []Chunk {
	if target < 1 {
		target = 1
	}
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	ceiling := target * 2

	var pieces []string
	for _, para := range paragraphs {
		if wordutil.CountWords(para) > ceiling {
			pieces = append(pieces, splitSentences(para, target)...)
		} else {
			pieces = append(pieces, para)
		}
	}
	paragraphs = pieces

	var chunks []Chunk
	var builder strings.Builder
	wordsInBuilder := 0

	flush := func() {
		s := strings.TrimSpace(builder.String())
		if s == "" {
			return
		}
		chunks = append(chunks, Chunk{Text: s, WordCount: wordutil.CountWords(s)})
		builder.Reset()
		wordsInBuilder = 0
	}

	for _, para := range paragraphs {
		paraWords := wordutil.CountWords(para)

		switch {
		case wordsInBuilder == 0:
			builder.WriteString(para)
			wordsInBuilder = paraWords
		case wordsInBuilder+paraWords <= ceiling && wordsInBuilder < target:
			builder.WriteString("\n\n")
			builder.WriteString(para)
			wordsInBuilder += paraWords
		default:
			flush()
			builder.WriteString(para)
			wordsInBuilder = paraWords
		}

		if wordsInBuilder >= target {
			flush()
		}
	}
	flush()

	return mergeUndersized(chunks, target)
}

// splitParagraphs separates on blank lines. Split then breaks any paragraph
// that exceeds twice the target on sentence boundaries.
func splitParagraphs(text string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(strings.TrimSpace(text), -1)
	var out []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences divides an oversized paragraph into sentence-bounded
// pieces, each capped near target words.
func splitSentences(para string, target int) []string {
	matches := sentenceBoundary.FindAllStringSubmatch(para, -1)
	if len(matches) == 0 {
		return []string{para}
	}

	var out []string
	var builder strings.Builder
	words := 0
	for _, m := range matches {
		sentence := strings.TrimSpace(m[1])
		if sentence == "" {
			continue
		}
		sw := wordutil.CountWords(sentence)
		if words > 0 && words+sw > target {
			out = append(out, strings.TrimSpace(builder.String()))
			builder.Reset()
			words = 0
		}
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(sentence)
		words += sw
	}
	if builder.Len() > 0 {
		out = append(out, strings.TrimSpace(builder.String()))
	}
	return out
}

// mergeUndersized folds any chunk below the hard floor into its neighbor,
// unless the whole input is itself smaller than the floor.
func mergeUndersized(chunks []Chunk, target int) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	var out []Chunk
	for _, c := range chunks {
		if c.WordCount < hardFloor && len(out) > 0 {
			prev := out[len(out)-1]
			merged := prev.Text + "\n\n" + c.Text
			out[len(out)-1] = Chunk{Text: merged, WordCount: wordutil.CountWords(merged)}
			continue
		}
		out = append(out, c)
	}
	if len(out) > 1 && out[0].WordCount < hardFloor {
		merged := out[0].Text + "\n\n" + out[1].Text
		out = append([]Chunk{{Text: merged, WordCount: wordutil.CountWords(merged)}}, out[2:]...)
	}
	return out
}
