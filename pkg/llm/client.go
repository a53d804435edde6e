// Package llm adapts external chat-completion APIs to the planner loop.
// Two concrete adapters (OpenAI-compatible and Anthropic) sit behind a
// small Client interface; the orchestrator never sees provider SDK types.
// All adapters retry transient failures with exponential backoff and
// surface terminal failures as ErrLLMUnavailable.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toolboxlabs/planner/pkg/config"
)

// ErrLLMUnavailable marks a completion that failed after exhausting
// retries (or failed in a way retries cannot fix, like a bad API key).
// The orchestrator maps it to the llm_unavailable terminal code.
var ErrLLMUnavailable = errors.New("LLM unavailable")

const (
	// requestTimeout bounds a single API attempt when the caller's
	// context carries no deadline of its own.
	requestTimeout = 60 * time.Second

	// maxAttempts is how many times one logical completion hits the API
	// before giving up.
	maxAttempts = 3
)

// retryBaseDelay is the first backoff interval; it doubles per retry.
// Tests shrink it.
var retryBaseDelay = time.Second

// Request is one planning call: a fixed system prompt plus the serialized
// run state. MaxTokens and Temperature override the provider config when
// set.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature *float64
}

// Completion is the provider-neutral result of one planning call. Token
// counts come from the API's usage block when present, otherwise from the
// local estimator, and the cost is derived from the configured per-model
// rates either way.
type Completion struct {
	Text             string
	Model            string
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD float64
}

// Client is the planner's view of an LLM backend.
type Client interface {
	// Complete runs one planning turn. A nil error means Text holds the
	// model's reply; ErrLLMUnavailable wraps anything terminal.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Model returns the configured model identifier, for logging and
	// event payloads.
	Model() string
}

// New builds the adapter for a provider config. The name is the registry
// key the config was stored under and only feeds log attributes.
func New(name string, cfg *config.LLMProviderConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM provider %q has no configuration", name)
	}
	switch cfg.Type {
	case config.LLMProviderTypeOpenAI:
		return NewOpenAIClient(cfg)
	case config.LLMProviderTypeAnthropic:
		return NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("LLM provider %q has unsupported type %q", name, cfg.Type)
	}
}

// completeWithRetry drives one logical completion through up to
// maxAttempts transport calls. Each attempt gets its own deadline so a
// hung request cannot stall the run. Caller cancellation is returned
// as-is so the orchestrator can distinguish it from provider failure.
func completeWithRetry(ctx context.Context, logger *slog.Logger, model string, attempt func(context.Context) (*Completion, error)) (*Completion, error) {
	delay := retryBaseDelay
	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if _, ok := ctx.Deadline(); !ok {
			attemptCtx, cancel = context.WithTimeout(ctx, requestTimeout)
		}
		comp, err := attempt(attemptCtx)
		cancel()
		if err == nil {
			return comp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableError(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrLLMUnavailable, model, err)
		}
		if i < maxAttempts {
			logger.Warn("LLM request failed, retrying",
				"model", model,
				"attempt", i,
				"backoff", delay.String(),
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", ErrLLMUnavailable, model, maxAttempts, lastErr)
}

// retryableMarkers are the substrings transient API failures carry.
// Provider SDKs wrap errors in their own types, so classification works
// on the message text the gateways actually produce.
var retryableMarkers = []string{
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"timeout",
	"deadline exceeded",
	"overloaded",
	"connection refused",
	"connection reset",
}

// isRetryableError reports whether an API failure is worth another
// attempt. Auth errors, malformed requests, and the like are not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// costUSD converts token usage to dollars using the configured
// per-million-token rates.
func costUSD(cfg *config.LLMProviderConfig, inputTokens, outputTokens int) float64 {
	in := float64(inputTokens) * cfg.InputCostPerMTok / 1e6
	out := float64(outputTokens) * cfg.OutputCostPerMTok / 1e6
	return in + out
}

// effectiveTemperature resolves the request override against the provider
// config. Nil means let the API use its default.
func effectiveTemperature(request *float64, configured *float64) *float64 {
	if request != nil {
		return request
	}
	return configured
}
