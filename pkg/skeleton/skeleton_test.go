package skeleton

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/directive"
	"github.com/longformai/coherence/pkg/llm"
)

type stubClient struct {
	responses []llm.Response
	errors    []error
	call      int
}

func (s *stubClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	i := s.call
	s.call++
	if i < len(s.errors) && s.errors[i] != nil {
		return llm.Response{}, s.errors[i]
	}
	return s.responses[i], nil
}

func TestExtract_Success(t *testing.T) {
	client := &stubClient{
		responses: []llm.Response{{Text: `{"title":"T","sections":[{"heading":"Intro","target_words":500}]}`}},
		errors:    []error{nil},
	}
	e := NewExtractor(client)
	skel, err := e.Extract(context.Background(), "source", directive.Plan{})
	require.NoError(t, err)
	assert.Equal(t, "T", skel.Title)
	assert.Len(t, skel.Sections, 1)
}

func TestExtract_RetriesOnMalformedThenSucceeds(t *testing.T) {
	client := &stubClient{
		responses: []llm.Response{
			{Text: "not json"},
			{Text: `{"title":"T","sections":[{"heading":"Intro"}]}`},
		},
		errors: []error{nil, nil},
	}
	e := NewExtractor(client)
	skel, err := e.Extract(context.Background(), "source", directive.Plan{})
	require.NoError(t, err)
	assert.Equal(t, "T", skel.Title)
	assert.Equal(t, 2, client.call)
}

func TestExtract_FailsAfterExhaustingRetries(t *testing.T) {
	client := &stubClient{
		responses: []llm.Response{{}, {}, {}, {}},
		errors:    []error{nil, nil, nil, nil},
	}
	e := NewExtractor(client)
	_, err := e.Extract(context.Background(), "source", directive.Plan{})
	assert.Error(t, err)
	assert.Equal(t, 4, client.call)
}
