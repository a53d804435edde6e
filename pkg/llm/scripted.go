package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptEntry is one canned planner reply.
type ScriptEntry struct {
	// Text is the completion body returned to the caller.
	Text string

	// Err, when set, is returned instead of a completion.
	Err error

	// InputTokens and OutputTokens feed cost accounting. Zero values
	// leave the completion's usage at zero.
	InputTokens  int
	OutputTokens int

	// CostUSD is the estimated cost reported for this call.
	CostUSD float64

	// BlockUntilCancelled makes Complete wait for context cancellation
	// and return its error. Used to exercise cancel paths.
	BlockUntilCancelled bool
}

// ScriptedClient replays canned completions in order. Planner and e2e
// tests drive the loop with it instead of a live API.
type ScriptedClient struct {
	mu       sync.Mutex
	script   []ScriptEntry
	index    int
	requests []Request
	model    string
}

// NewScriptedClient builds a client that replays the given entries.
func NewScriptedClient(entries ...ScriptEntry) *ScriptedClient {
	return &ScriptedClient{script: entries, model: "scripted"}
}

// Add appends entries to the script.
func (c *ScriptedClient) Add(entries ...ScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, entries...)
}

// Requests returns a copy of every request seen so far, in order.
func (c *ScriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Calls returns how many completions have been requested.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Model implements Client.
func (c *ScriptedClient) Model() string { return c.model }

// Complete implements Client.
func (c *ScriptedClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if c.index >= len(c.script) {
		n := c.index
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: script exhausted after %d calls", ErrLLMUnavailable, n)
	}
	entry := c.script[c.index]
	c.index++
	c.mu.Unlock()

	if entry.BlockUntilCancelled {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	return &Completion{
		Text:             entry.Text,
		Model:            c.model,
		InputTokens:      entry.InputTokens,
		OutputTokens:     entry.OutputTokens,
		EstimatedCostUSD: entry.CostUSD,
	}, nil
}
