package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toolboxlabs/planner/pkg/config"
)

// anthropicDefaultKeyEnv names the API key variable when the provider
// config does not override it.
const anthropicDefaultKeyEnv = "ANTHROPIC_API_KEY"

// anthropicDefaultMaxTokens caps completions when neither the request nor
// the provider config sets a limit. The Messages API requires an explicit
// value.
const anthropicDefaultMaxTokens = 4096

// messagesAPI is the slice of the Anthropic SDK this adapter calls.
// *sdk.MessageService satisfies it; tests substitute a stub.
type messagesAPI interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient drives the Claude Messages API.
type AnthropicClient struct {
	messages messagesAPI
	cfg      config.LLMProviderConfig
	logger   *slog.Logger
}

// NewAnthropicClient builds the adapter, resolving the API key from the
// environment variable named in the config.
func NewAnthropicClient(cfg *config.LLMProviderConfig) (*AnthropicClient, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = anthropicDefaultKeyEnv
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: environment variable %s is not set", keyEnv)
	}

	var opts []option.RequestOption
	opts = append(opts, option.WithAPIKey(apiKey))
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	ac := sdk.NewClient(opts...)
	return newAnthropicClient(&ac.Messages, cfg), nil
}

// newAnthropicClient wires an arbitrary messagesAPI, letting tests drop
// in a scripted one.
func newAnthropicClient(messages messagesAPI, cfg *config.LLMProviderConfig) *AnthropicClient {
	return &AnthropicClient{
		messages: messages,
		cfg:      *cfg,
		logger:   slog.Default().With("component", "llm-anthropic", "model", cfg.Model),
	}
}

// Model implements Client.
func (c *AnthropicClient) Model() string { return c.cfg.Model }

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	if req.User == "" {
		return nil, fmt.Errorf("%w: empty user prompt", ErrLLMUnavailable)
	}
	return completeWithRetry(ctx, c.logger, c.cfg.Model, func(ctx context.Context) (*Completion, error) {
		return c.complete(ctx, req)
	})
}

func (c *AnthropicClient) complete(ctx context.Context, req Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.User))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if t := effectiveTemperature(req.Temperature, c.cfg.Temperature); t != nil {
		params.Temperature = sdk.Float(*t)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errors.New("completion returned no message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	inTok := int(msg.Usage.InputTokens)
	outTok := int(msg.Usage.OutputTokens)
	if inTok == 0 && outTok == 0 {
		inTok = CountTokens(req.System) + CountTokens(req.User)
		outTok = CountTokens(text.String())
	}
	return &Completion{
		Text:             text.String(),
		Model:            c.cfg.Model,
		InputTokens:      inTok,
		OutputTokens:     outTok,
		EstimatedCostUSD: costUSD(&c.cfg, inTok, outTok),
	}, nil
}
