package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/wordutil"
)

func repeatWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "lorem"
	}
	return strings.Join(words, " ")
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("", 600))
}

func TestSplit_TargetsApproximateWordCount(t *testing.T) {
	text := strings.Repeat(repeatWords(100)+".\n\n", 30) // ~3000 words across 30 paragraphs
	chunks := Split(text, 600)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.WordCount, 1200) // 2x target ceiling
	}
}

func TestSplit_HardFloorMergesSmallTrailingChunk(t *testing.T) {
	text := repeatWords(600) + ".\n\n" + repeatWords(50) + "."
	chunks := Split(text, 600)
	for _, c := range chunks[:len(chunks)-0] {
		if len(chunks) > 1 {
			assert.GreaterOrEqual(t, c.WordCount, 200)
		}
	}
}

func TestSplit_SmallerThanFloorKeptWhole(t *testing.T) {
	text := repeatWords(120)
	chunks := Split(text, 600)
	require.Len(t, chunks, 1)
	assert.Equal(t, 120, chunks[0].WordCount)
}

func TestSplit_Stable(t *testing.T) {
	text := strings.Repeat(repeatWords(80)+".\n\n", 20)
	a := Split(text, 400)
	b := Split(text, 400)
	assert.Equal(t, a, b)
}

func TestSplit_WordCountSanity(t *testing.T) {
	text := strings.Repeat(repeatWords(80)+".\n\n", 20)
	chunks := Split(text, 400)
	total := 0
	for _, c := range chunks {
		total += c.WordCount
	}
	assert.Equal(t, wordutil.CountWords(text), total)
}
