package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/longformai/coherence/pkg/llm"
)

// LLMScriptEntry defines a single scripted completion.
type LLMScriptEntry struct {
	Text       string // response text (exactly one of Text/Error must be set)
	StopReason llm.StopReason
	Error      error

	BlockUntilCancelled bool            // Complete() blocks until ctx is cancelled
	WaitCh              <-chan struct{} // Complete() blocks until closed, then returns normally
	OnBlock             chan<- struct{} // notified when Complete() enters its blocking path
}

// ScriptedLLMClient implements llm.Client with a fixed, in-order script of
// responses, consumed one per Complete call.
type ScriptedLLMClient struct {
	mu              sync.Mutex
	entries         []LLMScriptEntry
	index           int
	defaultEntry    *LLMScriptEntry // served once the sequential script is exhausted
	capturedPrompts []string
}

// NewScriptedLLMClient creates an empty ScriptedLLMClient ready for Add calls.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{}
}

// Add appends an entry consumed in order.
func (c *ScriptedLLMClient) Add(entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// SetDefault installs a fallback entry served repeatedly once every
// explicit Add'd entry has been consumed. Tests that only care about a
// scenario's first few calls (e.g. the skeleton extraction) use this
// instead of pre-computing the exact number of chunks a source text splits
// into.
func (c *ScriptedLLMClient) SetDefault(entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultEntry = &entry
}

// Complete implements llm.Client.
func (c *ScriptedLLMClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	c.capturedPrompts = append(c.capturedPrompts, req.Prompt)
	var entry LLMScriptEntry
	switch {
	case c.index < len(c.entries):
		entry = c.entries[c.index]
		c.index++
	case c.defaultEntry != nil:
		entry = *c.defaultEntry
		c.index++
	default:
		c.mu.Unlock()
		return llm.Response{}, fmt.Errorf("e2e: ScriptedLLMClient: no more entries (called %d times)", c.index+1)
	}
	c.mu.Unlock()

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}

	if entry.Error != nil {
		return llm.Response{}, entry.Error
	}

	stop := entry.StopReason
	if stop == "" {
		stop = llm.StopEndTurn
	}
	return llm.Response{Text: entry.Text, StopReason: stop}, nil
}

// CallCount returns the total number of Complete() calls made.
func (c *ScriptedLLMClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Prompts returns every prompt Complete() was called with, in call order.
func (c *ScriptedLLMClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.capturedPrompts))
	copy(out, c.capturedPrompts)
	return out
}
