package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/toolboxlabs/planner/pkg/config"
)

// openAIDefaultKeyEnv names the API key variable when the provider config
// does not override it.
const openAIDefaultKeyEnv = "OPENAI_API_KEY"

// openAIDefaultMaxTokens caps completions when neither the request nor
// the provider config sets a limit.
const openAIDefaultMaxTokens = 4096

// OpenAIClient drives OpenAI-compatible chat-completion endpoints. A
// custom BaseURL points it at gateways and proxies that speak the same
// wire format.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.LLMProviderConfig
	logger *slog.Logger
}

// NewOpenAIClient builds the adapter, resolving the API key from the
// environment variable named in the config.
func NewOpenAIClient(cfg *config.LLMProviderConfig) (*OpenAIClient, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = openAIDefaultKeyEnv
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: environment variable %s is not set", keyEnv)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    *cfg,
		logger: slog.Default().With("component", "llm-openai", "model", cfg.Model),
	}, nil
}

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	if req.User == "" {
		return nil, fmt.Errorf("%w: empty user prompt", ErrLLMUnavailable)
	}
	return completeWithRetry(ctx, c.logger, c.cfg.Model, func(ctx context.Context) (*Completion, error) {
		return c.complete(ctx, req)
	})
}

func (c *OpenAIClient) complete(ctx context.Context, req Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = openAIDefaultMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if t := effectiveTemperature(req.Temperature, c.cfg.Temperature); t != nil {
		chatReq.Temperature = float32(*t)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("completion returned no choices")
	}

	text := resp.Choices[0].Message.Content
	inTok := resp.Usage.PromptTokens
	outTok := resp.Usage.CompletionTokens
	if inTok == 0 && outTok == 0 {
		inTok = CountTokens(req.System) + CountTokens(req.User)
		outTok = CountTokens(text)
	}
	return &Completion{
		Text:             text,
		Model:            c.cfg.Model,
		InputTokens:      inTok,
		OutputTokens:     outTok,
		EstimatedCostUSD: costUSD(&c.cfg, inTok, outTok),
	}, nil
}
