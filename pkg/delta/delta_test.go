package delta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/model"
)

type fakeStore struct {
	chunks    map[int]*model.Chunk
	failFirst bool
	writes    int
}

func (f *fakeStore) CompleteChunk(_ context.Context, _ string, index int, output string, wordCount int, flagged bool, delta *model.ChunkDelta) error {
	f.writes++
	d := delta
	if f.failFirst && f.writes == 1 {
		d = nil
	}
	f.chunks[index] = &model.Chunk{Index: index, Status: model.ChunkStatusComplete, OutputText: output, WordCount: wordCount, Flagged: flagged, Delta: d}
	return nil
}

func (f *fakeStore) GetChunk(_ context.Context, _ string, index int) (*model.Chunk, error) {
	return f.chunks[index], nil
}

func (f *fakeStore) ListChunks(_ context.Context, _ string) ([]*model.Chunk, error) {
	var out []*model.Chunk
	for _, c := range f.chunks {
		out = append(out, c)
	}
	return out, nil
}

func TestWriteChunk_Success(t *testing.T) {
	fs := &fakeStore{chunks: map[int]*model.Chunk{}}
	s := New(fs)
	err := s.WriteChunk(context.Background(), "job1", 0, "text", 2, false, &model.ChunkDelta{Claims: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, fs.writes)
}

func TestWriteChunk_RetriesOnceOnNullDelta(t *testing.T) {
	fs := &fakeStore{chunks: map[int]*model.Chunk{}, failFirst: true}
	s := New(fs)
	err := s.WriteChunk(context.Background(), "job1", 0, "text", 2, false, &model.ChunkDelta{Claims: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, fs.writes)
}

func TestLoadPriorDeltas_BoundsAndSkipsNull(t *testing.T) {
	fs := &fakeStore{chunks: map[int]*model.Chunk{
		0: {Index: 0, Status: model.ChunkStatusComplete, Delta: &model.ChunkDelta{Claims: []string{"c0"}, Terms: []string{"t"}}},
		1: {Index: 1, Status: model.ChunkStatusComplete, Delta: nil},
		2: {Index: 2, Status: model.ChunkStatusComplete, Delta: &model.ChunkDelta{Claims: []string{"c2"}, Terms: []string{"t"}}},
	}}
	s := New(fs)
	coh, considered, err := s.LoadPriorDeltas(context.Background(), "job1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, considered)
	assert.ElementsMatch(t, []string{"c0", "c2"}, coh.RecentClaims)
	assert.Equal(t, []string{"t"}, coh.KnownTerms)
}

func TestSummarize_FormatsSections(t *testing.T) {
	out := Summarize(model.CoherenceContext{RecentClaims: []string{"x"}, KnownTerms: []string{"a", "b"}}, 2)
	assert.Contains(t, out, "PRIOR CHUNKS COHERENCE CONTEXT (2 chunks)")
	assert.Contains(t, out, "- x")
	assert.Contains(t, out, "a, b")
}
