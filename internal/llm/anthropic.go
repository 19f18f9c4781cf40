package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider over the direct Anthropic Messages
// API, used when model_id names a non-Bedrock Claude model (no leading
// "anthropic." or region-prefixed Bedrock namespace).
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider authenticated with apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Converse implements Provider via a single non-streaming Messages.New call.
func (p *AnthropicProvider) Converse(ctx context.Context, modelID, systemPrompt string, messages []Message, cfg InferenceConfig, extras Extras) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(modelID),
		Messages:    toAnthropicMessages(messages),
		MaxTokens:   int64(maxTokensOrDefault(cfg.MaxTokens)),
		Temperature: anthropic.Float(cfg.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if cfg.TopP != nil {
		params.TopP = anthropic.Float(*cfg.TopP)
	}
	if len(cfg.StopSequences) > 0 {
		params.StopSequences = cfg.StopSequences
	}
	if extras.TopK != nil {
		params.TopK = anthropic.Int(int64(*extras.TopK))
	}
	if extras.HasThinking() {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(extras.ThinkingBudget))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, NewProviderError("anthropic", modelID, err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return Response{Text: block.Text}, nil
		}
	}
	return Response{}, nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range m.Content {
			if c.Image != nil {
				blocks = append(blocks, anthropic.NewImageBlockBase64(
					"image/"+normalizeImageFormat(c.Image.Format), encodeBase64(c.Image.Bytes)))
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(c.Text))
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func normalizeImageFormat(format string) string {
	f := strings.ToLower(format)
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

func maxTokensOrDefault(requested int) int {
	if requested > 0 {
		return requested
	}
	return 4096
}
