package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider over OpenAI's chat-completions API,
// used for OpenAI-family model_ids (e.g. "gpt-4o", "gpt-4-turbo").
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider authenticated with apiKey.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Converse implements Provider via a single non-streaming chat completion.
func (p *OpenAIProvider) Converse(ctx context.Context, modelID, systemPrompt string, messages []Message, cfg InferenceConfig, extras Extras) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    toOpenAIMessages(systemPrompt, messages),
		Temperature: float32(cfg.Temperature),
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if cfg.TopP != nil {
		req.TopP = float32(*cfg.TopP)
	}
	if len(cfg.StopSequences) > 0 {
		req.Stop = cfg.StopSequences
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, p.wrapError(err, modelID)
	}
	if len(resp.Choices) == 0 {
		return Response{}, nil
	}
	return Response{Text: resp.Choices[0].Message.Content}, nil
}

func toOpenAIMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		hasImage := false
		for _, c := range m.Content {
			if c.Image != nil {
				hasImage = true
				break
			}
		}
		if !hasImage {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: joinText(m.Content)})
			continue
		}

		var parts []openai.ChatMessagePart
		for _, c := range m.Content {
			if c.Image != nil {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    fmt.Sprintf("data:image/%s;base64,%s", normalizeImageFormat(c.Image.Format), encodeBase64(c.Image.Bytes)),
						Detail: openai.ImageURLDetailAuto,
					},
				})
				continue
			}
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: c.Text})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

func joinText(blocks []ContentBlock) string {
	var sb []byte
	for i, c := range blocks {
		if i > 0 {
			sb = append(sb, '\n')
		}
		sb = append(sb, c.Text...)
	}
	return string(sb)
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	pe := NewProviderError("openai", model, err)
	var apiErr *openai.APIError
	if ok := asOpenAIAPIError(err, &apiErr); ok {
		pe = pe.WithStatus(apiErr.HTTPStatusCode).WithCode(fmt.Sprint(apiErr.Code))
	}
	return pe
}

func asOpenAIAPIError(err error, target **openai.APIError) bool {
	if apiErr, ok := err.(*openai.APIError); ok {
		*target = apiErr
		return true
	}
	return false
}
