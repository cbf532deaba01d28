package enforce

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/llm"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

type scriptedClient struct {
	responses []llm.Response
	call      int
}

func (s *scriptedClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	r := s.responses[s.call]
	s.call++
	return r, nil
}

func fastCfg() *config.EnforcerConfig {
	return &config.EnforcerConfig{
		MaxAttempts:          20,
		CompletionRatio:      0.95,
		MaxContinuationWords: 4000,
		RateLimitPause:       time.Millisecond,
	}
}

func TestDrive_AlreadyAtTarget(t *testing.T) {
	client := &scriptedClient{}
	e := New(client, fastCfg())
	first := llm.Response{Text: words(1000), StopReason: llm.StopEndTurn}
	result, err := e.Drive(context.Background(), first, 950, 1000, 1250, ContinuationPrompt)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.Flagged)
}

func TestDrive_ForcesContinuationOnMaxTokens(t *testing.T) {
	client := &scriptedClient{
		responses: []llm.Response{{Text: words(200), StopReason: llm.StopEndTurn}},
	}
	first := llm.Response{Text: words(1000), StopReason: llm.StopMaxTokens}
	e := New(client, fastCfg())
	result, err := e.Drive(context.Background(), first, 950, 1000, 1250, ContinuationPrompt)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1200, result.Words)
}

func TestDrive_FlagsWhenBelowMinAfterCap(t *testing.T) {
	cfg := fastCfg()
	cfg.MaxAttempts = 2
	responses := make([]llm.Response, 0)
	for i := 0; i < 5; i++ {
		responses = append(responses, llm.Response{Text: words(50), StopReason: llm.StopEndTurn})
	}
	client := &scriptedClient{responses: responses}
	first := llm.Response{Text: words(50), StopReason: llm.StopEndTurn}
	e := New(client, cfg)
	result, err := e.Drive(context.Background(), first, 950, 1000, 1250, ContinuationPrompt)
	require.NoError(t, err)
	assert.True(t, result.Flagged)
	assert.Equal(t, 2, result.Attempts)
}

func TestContinuationPrompt_ContainsPriorTailVerbatim(t *testing.T) {
	p := ContinuationPrompt("para one\n\npara two", 500)
	assert.Contains(t, p, "para one")
	assert.Contains(t, p, "500 additional words")
}
