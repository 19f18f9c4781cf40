package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider over Google's Gen AI SDK, used for
// model_ids in the "gemini-" family.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider builds a provider authenticated with apiKey against the
// public Gemini API backend (not Vertex AI).
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Converse implements Provider via a single non-streaming GenerateContent call.
func (p *GeminiProvider) Converse(ctx context.Context, modelID, systemPrompt string, messages []Message, cfg InferenceConfig, extras Extras) (Response, error) {
	contents := toGeminiContents(messages)

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(cfg.Temperature)),
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if cfg.TopP != nil {
		genCfg.TopP = genai.Ptr(float32(*cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if len(cfg.StopSequences) > 0 {
		genCfg.StopSequences = cfg.StopSequences
	}
	if extras.TopK != nil {
		genCfg.TopK = genai.Ptr(float32(*extras.TopK))
	}

	resp, err := p.client.Models.GenerateContent(ctx, modelID, contents, genCfg)
	if err != nil {
		return Response{}, p.wrapError(err, modelID)
	}

	return Response{Text: firstGeminiText(resp)}, nil
}

func toGeminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, c := range m.Content {
			if c.Image != nil {
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{
						Data:     c.Image.Bytes,
						MIMEType: "image/" + normalizeImageFormat(c.Image.Format),
					},
				})
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{Text: c.Text})
		}
		out = append(out, content)
	}
	return out
}

func firstGeminiText(resp *genai.GenerateContentResponse) string {
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

// wrapError classifies Gemini SDK errors, which surface as plain errors with
// the status embedded in the message rather than a typed exception, via
// NewProviderError's message sniffing plus a "resource exhausted" alias for
// Gemini's quota-error wording.
func (p *GeminiProvider) wrapError(err error, model string) error {
	pe := NewProviderError("gemini", model, err)
	if pe.Kind == FailureUnknown && strings.Contains(strings.ToLower(err.Error()), "resource exhausted") {
		pe.Kind = FailureThrottled
	}
	return pe
}
