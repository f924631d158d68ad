package external

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
	"github.com/aegisflow/aegis/pkg/logger"
)

// LLMGateway is the model-invocation boundary spec.md §6 names:
// invoke one model, or invoke_with_fallback across an ordered list of
// models until one answers. Implementations must be safe to retry —
// a caller that times out mid-call and retries must not double-act on
// the model's side effects (there are none here; invocation is
// read-only), only double-spend tokens.
type LLMGateway interface {
	Invoke(ctx context.Context, modelID, prompt string, maxTokens int, temperature float64) (string, error)
	InvokeWithFallback(ctx context.Context, prompt string, maxTokens int, temperature float64, modelIDs []string) (string, error)
}

// AnthropicGateway is the production LLMGateway, backed by
// anthropic-sdk-go with one gobreaker.CircuitBreaker per model — "the
// core enforces per-model circuit breakers" (spec.md §6) — so a failing
// model can't exhaust InvokeWithFallback's retry budget on every call.
type AnthropicGateway struct {
	client *anthropic.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
}

// NewAnthropicGateway builds a gateway authenticated with apiKey.
func NewAnthropicGateway(apiKey string) *AnthropicGateway {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicGateway{client: &client, breakers: make(map[string]*gobreaker.CircuitBreaker[string])}
}

func (g *AnthropicGateway) breakerFor(modelID string) *gobreaker.CircuitBreaker[string] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[modelID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llmgateway." + modelID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("llmgateway circuit breaker state change", "model", name, "from", from.String(), "to", to.String())
		},
	})
	g.breakers[modelID] = b
	return b
}

// Invoke calls modelID through its own circuit breaker.
func (g *AnthropicGateway) Invoke(ctx context.Context, modelID, prompt string, maxTokens int, temperature float64) (string, error) {
	breaker := g.breakerFor(modelID)
	text, err := breaker.Execute(func() (string, error) {
		msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(modelID),
			MaxTokens:   int64(maxTokens),
			Temperature: anthropic.Float(temperature),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", err
		}
		return concatText(msg), nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", aerrors.Wrap(err, "llmgateway.Invoke", aerrors.KindCircuitOpen, "circuit open for "+modelID)
		}
		return "", aerrors.Wrap(err, "llmgateway.Invoke", aerrors.KindAgentTimeout, "model invocation failed")
	}
	return text, nil
}

// InvokeWithFallback tries modelIDs in order, returning the first
// success; if every model fails it surfaces
// KindAllFallbacksExhausted carrying the last model's error.
func (g *AnthropicGateway) InvokeWithFallback(ctx context.Context, prompt string, maxTokens int, temperature float64, modelIDs []string) (string, error) {
	var lastErr error
	for _, modelID := range modelIDs {
		text, err := g.Invoke(ctx, modelID, prompt, maxTokens, temperature)
		if err == nil {
			return text, nil
		}
		lastErr = err
		logger.Warnw("llmgateway: model failed, trying next fallback", "model", modelID, logger.FieldError, err)
	}
	return "", aerrors.Wrap(lastErr, "llmgateway.InvokeWithFallback", aerrors.KindAllFallbacksExhausted, "every fallback model failed")
}

func concatText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// LocalGateway is the dev/test LLMGateway: it never calls out, always
// returning a canned response (or the configured error). serve uses it
// when no Anthropic API key is configured, and tests use it to exercise
// recommendation flow without a network dependency.
type LocalGateway struct {
	Response string
	Err      error
	calls    []string
}

// NewLocalGateway builds a LocalGateway that always answers with
// response.
func NewLocalGateway(response string) *LocalGateway {
	return &LocalGateway{Response: response}
}

// Invoke satisfies LLMGateway.
func (g *LocalGateway) Invoke(_ context.Context, modelID, prompt string, _ int, _ float64) (string, error) {
	g.calls = append(g.calls, modelID)
	if g.Err != nil {
		return "", g.Err
	}
	return fmt.Sprintf("%s [model=%s]", g.Response, modelID), nil
}

// InvokeWithFallback satisfies LLMGateway, always using the first
// listed model since LocalGateway never fails on its own.
func (g *LocalGateway) InvokeWithFallback(ctx context.Context, prompt string, maxTokens int, temperature float64, modelIDs []string) (string, error) {
	modelID := "local"
	if len(modelIDs) > 0 {
		modelID = modelIDs[0]
	}
	return g.Invoke(ctx, modelID, prompt, maxTokens, temperature)
}

// Calls returns every model ID Invoke was called with, for test
// assertions.
func (g *LocalGateway) Calls() []string { return g.calls }
