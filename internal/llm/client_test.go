package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jastek/extractor/internal/llm"
)

type recordingProvider struct {
	answer func(callIndex int) (llm.Response, error)
	calls  int
	cfgs   []llm.InferenceConfig
	extras []llm.Extras
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Converse(_ context.Context, _, _ string, _ []llm.Message, cfg llm.InferenceConfig, extras llm.Extras) (llm.Response, error) {
	idx := p.calls
	p.calls++
	p.cfgs = append(p.cfgs, cfg)
	p.extras = append(p.extras, extras)
	return p.answer(idx)
}

func TestClient_RoutesByLongestPrefix(t *testing.T) {
	generic := &recordingProvider{answer: func(int) (llm.Response, error) { return llm.Response{Text: "generic"}, nil }}
	regioned := &recordingProvider{answer: func(int) (llm.Response, error) { return llm.Response{Text: "regioned"}, nil }}

	c := llm.NewClient()
	c.Register("anthropic.", generic)
	c.Register("anthropic.claude-3-opus", regioned)

	text, err := c.Converse(context.Background(), "anthropic.claude-3-opus-20240229", "", nil, llm.InferenceConfig{}, llm.Extras{})
	require.NoError(t, err)
	assert.Equal(t, "regioned", text)
	assert.Equal(t, 1, regioned.calls)
	assert.Equal(t, 0, generic.calls)
}

func TestClient_NoProviderRegisteredIsAnImmediateError(t *testing.T) {
	c := llm.NewClient()
	_, err := c.Converse(context.Background(), "unknown-model", "", nil, llm.InferenceConfig{}, llm.Extras{})
	require.Error(t, err)
}

func TestClient_NonThrottledErrorSurfacesWithoutRetry(t *testing.T) {
	provider := &recordingProvider{answer: func(int) (llm.Response, error) {
		return llm.Response{}, &llm.ProviderError{Provider: "stub", Kind: llm.FailureAuth, Message: "bad key"}
	}}
	c := llm.NewClient()
	c.Register("stub-", provider)
	c.OnRetry = func(string, int) { t.Fatal("OnRetry must not fire for a non-throttled failure") }

	_, err := c.Converse(context.Background(), "stub-model", "", nil, llm.InferenceConfig{}, llm.Extras{})
	require.Error(t, err)
	pe, ok := llm.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.FailureAuth, pe.Kind)
	assert.Equal(t, 1, provider.calls)
}

func TestClient_ThrottledRetrySucceedsAndInvokesOnRetry(t *testing.T) {
	provider := &recordingProvider{answer: func(callIndex int) (llm.Response, error) {
		if callIndex == 0 {
			return llm.Response{}, &llm.ProviderError{Provider: "stub", Kind: llm.FailureThrottled, Message: "slow down"}
		}
		return llm.Response{Text: "ok"}, nil
	}}
	c := llm.NewClient()
	c.Register("stub-", provider)

	var retriedAttempts []int
	c.OnRetry = func(_ string, attempt int) { retriedAttempts = append(retriedAttempts, attempt) }

	text, err := c.Converse(context.Background(), "stub-model", "", nil, llm.InferenceConfig{}, llm.Extras{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, []int{1}, retriedAttempts)
}

func TestClient_ClaudeFamilyGetsDefaultTopK(t *testing.T) {
	provider := &recordingProvider{answer: func(int) (llm.Response, error) { return llm.Response{Text: "ok"}, nil }}
	c := llm.NewClient()
	c.Register("anthropic.", provider)

	_, err := c.Converse(context.Background(), "anthropic.claude-3-sonnet", "", nil, llm.InferenceConfig{}, llm.Extras{})
	require.NoError(t, err)
	require.Len(t, provider.extras, 1)
	require.NotNil(t, provider.extras[0].TopK)
	assert.Equal(t, 200, *provider.extras[0].TopK)
}

func TestClient_ThinkingBudgetForcesTemperatureAndDropsTopP(t *testing.T) {
	provider := &recordingProvider{answer: func(int) (llm.Response, error) { return llm.Response{Text: "ok"}, nil }}
	c := llm.NewClient()
	c.Register("anthropic.", provider)

	topP := 0.5
	_, err := c.Converse(context.Background(), "anthropic.claude-3-7-sonnet-20250219-v1:0", "", nil,
		llm.InferenceConfig{Temperature: 0.2, TopP: &topP},
		llm.Extras{ThinkingBudget: 1024})
	require.NoError(t, err)
	require.Len(t, provider.cfgs, 1)
	assert.Equal(t, 1.0, provider.cfgs[0].Temperature)
	assert.Nil(t, provider.cfgs[0].TopP)
}

func TestClient_ThinkingBudgetIgnoredForFamilyThatDoesNotSupportIt(t *testing.T) {
	provider := &recordingProvider{answer: func(int) (llm.Response, error) { return llm.Response{Text: "ok"}, nil }}
	c := llm.NewClient()
	c.Register("stub-", provider)

	topP := 0.5
	_, err := c.Converse(context.Background(), "stub-model", "", nil,
		llm.InferenceConfig{Temperature: 0.2, TopP: &topP},
		llm.Extras{ThinkingBudget: 1024})
	require.NoError(t, err)
	require.Len(t, provider.cfgs, 1)
	require.Len(t, provider.extras, 1)
	assert.Equal(t, 0.2, provider.cfgs[0].Temperature, "a model that can't think must keep its requested temperature")
	assert.Equal(t, &topP, provider.cfgs[0].TopP)
	assert.Equal(t, 0, provider.extras[0].ThinkingBudget, "an unsupported thinking budget must be dropped before reaching the provider")
}
