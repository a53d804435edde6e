package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolboxlabs/planner/pkg/config"
)

type stubReply struct {
	msg *sdk.Message
	err error
}

// stubMessages satisfies messagesAPI with a scripted reply sequence.
type stubMessages struct {
	mu      sync.Mutex
	replies []stubReply
	params  []sdk.MessageNewParams
}

func (s *stubMessages) New(_ context.Context, params sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = append(s.params, params)
	if len(s.replies) == 0 {
		return nil, errors.New("stub script exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply.msg, reply.err
}

func (s *stubMessages) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.params)
}

func anthropicTestConfig() *config.LLMProviderConfig {
	return &config.LLMProviderConfig{
		Type:              config.LLMProviderTypeAnthropic,
		Model:             "claude-sonnet-4-20250514",
		InputCostPerMTok:  3.00,
		OutputCostPerMTok: 15.00,
	}
}

func textMessage(text string, inputTokens, outputTokens int64) *sdk.Message {
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   sdk.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}
}

func TestAnthropicCompleteMapsResponse(t *testing.T) {
	stub := &stubMessages{replies: []stubReply{
		{msg: textMessage(`{"type": "finish"}`, 80, 10)},
	}}
	client := newAnthropicClient(stub, anthropicTestConfig())
	assert.Equal(t, "claude-sonnet-4-20250514", client.Model())

	comp, err := client.Complete(context.Background(), Request{System: "instructions", User: "state"})
	require.NoError(t, err)

	assert.Equal(t, `{"type": "finish"}`, comp.Text)
	assert.Equal(t, "claude-sonnet-4-20250514", comp.Model)
	assert.Equal(t, 80, comp.InputTokens)
	assert.Equal(t, 10, comp.OutputTokens)
	assert.InDelta(t, 0.00039, comp.EstimatedCostUSD, 1e-9)

	require.Equal(t, 1, stub.calls())
	params := stub.params[0]
	assert.Equal(t, sdk.Model("claude-sonnet-4-20250514"), params.Model)
	assert.Equal(t, int64(anthropicDefaultMaxTokens), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "instructions", params.System[0].Text)
	require.Len(t, params.Messages, 1)
}

func TestAnthropicConcatenatesTextBlocks(t *testing.T) {
	msg := &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "part one "},
			{Type: "tool_use", Text: ""},
			{Type: "text", Text: "part two"},
		},
		Usage: sdk.Usage{InputTokens: 5, OutputTokens: 5},
	}
	stub := &stubMessages{replies: []stubReply{{msg: msg}}}
	client := newAnthropicClient(stub, anthropicTestConfig())

	comp, err := client.Complete(context.Background(), Request{System: "sys", User: "state"})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", comp.Text)
}

func TestAnthropicRetriesOverloaded(t *testing.T) {
	shrinkRetryDelay(t)

	stub := &stubMessages{replies: []stubReply{
		{err: errors.New("overloaded_error: Overloaded")},
		{err: errors.New("overloaded_error: Overloaded")},
		{msg: textMessage("recovered", 5, 5)},
	}}
	client := newAnthropicClient(stub, anthropicTestConfig())

	comp, err := client.Complete(context.Background(), Request{System: "sys", User: "state"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", comp.Text)
	assert.Equal(t, 3, stub.calls())
}

func TestAnthropicAuthErrorFailsFast(t *testing.T) {
	stub := &stubMessages{replies: []stubReply{
		{err: errors.New("authentication_error: invalid x-api-key")},
	}}
	client := newAnthropicClient(stub, anthropicTestConfig())

	_, err := client.Complete(context.Background(), Request{System: "sys", User: "state"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	assert.Equal(t, 1, stub.calls())
}

func TestAnthropicEstimatesTokensWhenUsageMissing(t *testing.T) {
	stub := &stubMessages{replies: []stubReply{
		{msg: textMessage("a reply with several words in it", 0, 0)},
	}}
	client := newAnthropicClient(stub, anthropicTestConfig())

	comp, err := client.Complete(context.Background(), Request{System: "some instructions", User: "a state payload"})
	require.NoError(t, err)
	assert.Positive(t, comp.InputTokens)
	assert.Positive(t, comp.OutputTokens)
	assert.Positive(t, comp.EstimatedCostUSD)
}

func TestAnthropicConfiguredMaxTokensAndTemperature(t *testing.T) {
	stub := &stubMessages{replies: []stubReply{
		{msg: textMessage("ok", 1, 1)},
	}}
	temp := 0.4
	cfg := anthropicTestConfig()
	cfg.MaxTokens = 1024
	cfg.Temperature = &temp
	client := newAnthropicClient(stub, cfg)

	_, err := client.Complete(context.Background(), Request{System: "sys", User: "state"})
	require.NoError(t, err)

	params := stub.params[0]
	assert.Equal(t, int64(1024), params.MaxTokens)
	assert.InDelta(t, 0.4, params.Temperature.Value, 1e-6)
}

func TestNewAnthropicClientValidation(t *testing.T) {
	t.Setenv("PLANNER_TEST_ANTHROPIC_KEY_MISSING", "")

	_, err := NewAnthropicClient(nil)
	require.Error(t, err)

	cfg := &config.LLMProviderConfig{
		Type:      config.LLMProviderTypeAnthropic,
		Model:     "claude-sonnet-4-20250514",
		APIKeyEnv: "PLANNER_TEST_ANTHROPIC_KEY_MISSING",
	}
	_, err = NewAnthropicClient(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLANNER_TEST_ANTHROPIC_KEY_MISSING")
}
