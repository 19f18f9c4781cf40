package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jastek/extractor/internal/backoff"
	"github.com/jastek/extractor/internal/observability"
)

// maxThrottleAttempts is the retry budget from §4.4: up to 5 retries after
// the first attempt, i.e. 6 attempts total, backing off 2^k*jitter seconds.
const maxThrottleAttempts = 5

// Provider is the low-level, single-shot chat invocation every concrete
// adapter (Bedrock, direct Anthropic, OpenAI, Gemini) implements. Client
// wraps a Provider with the retry policy and model-family shaping so
// adapters stay thin wire-format translators.
type Provider interface {
	Name() string
	Converse(ctx context.Context, modelID, systemPrompt string, messages []Message, cfg InferenceConfig, extras Extras) (Response, error)
}

// Client is C4: picks a Provider by model_id prefix and invokes it under
// the adaptive-retry policy.
type Client struct {
	providers map[string]Provider
	// order controls prefix-match precedence when multiple providers could
	// plausibly claim a model_id (longest/most-specific prefixes first, as
	// registered by the caller).
	order []string

	// OnRetry, when set, is called once per throttling retry with the
	// attempt number that just failed. This is the instrumentation hook
	// S6 requires ("retry count observable via instrumentation hook").
	OnRetry func(modelID string, attempt int)

	// Tracer, when set, wraps each provider invocation in an llm.<provider>
	// span. nil disables tracing.
	Tracer *observability.Tracer
}

// NewClient builds a Client with no providers registered; use Register to
// add one per model_id prefix (e.g. "anthropic.", "us.anthropic.",
// "gpt-", "gemini-").
func NewClient() *Client {
	return &Client{providers: map[string]Provider{}}
}

// Register associates a model_id prefix with a Provider. Prefixes are
// matched longest-first regardless of registration order.
func (c *Client) Register(prefix string, p Provider) {
	if _, exists := c.providers[prefix]; !exists {
		c.order = append(c.order, prefix)
	}
	c.providers[prefix] = p
}

func (c *Client) providerFor(modelID string) (Provider, error) {
	normalized := strings.ToLower(stripRegionPrefix(modelID))
	best := ""
	for _, prefix := range c.order {
		if strings.HasPrefix(normalized, strings.ToLower(prefix)) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, fmt.Errorf("no llm provider registered for model_id %q", modelID)
	}
	return c.providers[best], nil
}

// Converse implements the §4.4 contract: resolve a provider, apply
// model-family shaping (reasoning-forced temperature, Claude top_k), then
// invoke under the throttling retry policy. Non-throttling errors surface
// immediately; a terminal throttle after the retry budget surfaces as a
// *ProviderError with Kind==FailureThrottled.
func (c *Client) Converse(ctx context.Context, modelID, systemPrompt string, messages []Message, cfg InferenceConfig, extras Extras) (string, error) {
	provider, err := c.providerFor(modelID)
	if err != nil {
		return "", err
	}

	ApplyModelShaping(modelID, &cfg, &extras)

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := c.converseOnce(ctx, provider, modelID, systemPrompt, messages, cfg, extras)
		if err == nil {
			return resp.Text, nil
		}

		pe, ok := AsProviderError(err)
		if !ok || pe.Kind != FailureThrottled {
			return "", err
		}
		lastErr = err
		if attempt > maxThrottleAttempts {
			return "", lastErr
		}
		if c.OnRetry != nil {
			c.OnRetry(modelID, attempt)
		}
		if sleepErr := backoff.ThrottleBackoff(ctx, attempt); sleepErr != nil {
			return "", sleepErr
		}
	}
}

// converseOnce invokes provider under a per-call llm.<provider> span when
// Tracer is configured, recording the error (if any) on the span.
func (c *Client) converseOnce(ctx context.Context, provider Provider, modelID, systemPrompt string, messages []Message, cfg InferenceConfig, extras Extras) (Response, error) {
	if c.Tracer == nil {
		return provider.Converse(ctx, modelID, systemPrompt, messages, cfg, extras)
	}

	ctx, span := c.Tracer.TraceLLMRequest(ctx, provider.Name(), modelID)
	defer span.End()

	resp, err := provider.Converse(ctx, modelID, systemPrompt, messages, cfg, extras)
	if err != nil {
		c.Tracer.RecordError(span, err)
	}
	return resp, err
}
