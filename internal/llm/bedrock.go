package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// BedrockProvider implements Provider over AWS Bedrock's Converse API: the
// primary route for Claude, Titan, Llama, and other Bedrock-hosted models
// named by a bare or region-prefixed model_id (e.g. "anthropic.claude-3-
// sonnet...", "us.anthropic.claude-3-7-sonnet...").
type BedrockProvider struct {
	client *bedrockruntime.Client
}

// BedrockConfig configures the underlying AWS client.
type BedrockConfig struct {
	Region string
}

// NewBedrockProvider builds a BedrockProvider using the default AWS
// credential chain (environment, shared config, IAM role).
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

// Name implements Provider.
func (p *BedrockProvider) Name() string { return "bedrock" }

// Converse implements Provider by issuing a single non-streaming
// bedrockruntime.Converse call.
func (p *BedrockProvider) Converse(ctx context.Context, modelID, systemPrompt string, messages []Message, cfg InferenceConfig, extras Extras) (Response, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: toBedrockMessages(messages),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(cfg.Temperature)),
		},
	}
	if systemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		}
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		input.InferenceConfig.MaxTokens = aws.Int32(int32(maxTokens)) // #nosec G115 -- bounded above
	}
	if cfg.TopP != nil {
		input.InferenceConfig.TopP = aws.Float32(float32(*cfg.TopP))
	}
	if len(cfg.StopSequences) > 0 {
		input.InferenceConfig.StopSequences = cfg.StopSequences
	}

	additional := map[string]any{}
	if extras.TopK != nil {
		additional["top_k"] = *extras.TopK
	}
	if extras.HasThinking() {
		additional["thinking"] = map[string]any{
			"type":          "enabled",
			"budget_tokens": extras.ThinkingBudget,
		}
	}
	if len(additional) > 0 {
		input.AdditionalModelRequestFields = document.NewLazyDocument(additional)
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return Response{}, p.wrapError(err, modelID)
	}

	text, err := firstTextBlock(out.Output)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text}, nil
}

func toBedrockMessages(messages []Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		var content []types.ContentBlock
		for _, block := range m.Content {
			if block.Image != nil {
				content = append(content, &types.ContentBlockMemberImage{
					Value: types.ImageBlock{
						Format: bedrockImageFormat(block.Image.Format),
						Source: &types.ImageSourceMemberBytes{Value: block.Image.Bytes},
					},
				})
				continue
			}
			content = append(content, &types.ContentBlockMemberText{Value: block.Text})
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func bedrockImageFormat(format string) types.ImageFormat {
	switch strings.ToLower(format) {
	case "png":
		return types.ImageFormatPng
	case "gif":
		return types.ImageFormatGif
	case "webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

// firstTextBlock implements §4.4's content-block selection: the text of
// the first text-bearing block in the message, or empty string if none.
func firstTextBlock(output types.ConverseOutput) (string, error) {
	member, ok := output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", nil
	}
	for _, block := range member.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			return text.Value, nil
		}
	}
	return "", nil
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	pe := NewProviderError("bedrock", model, err)

	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		pe.Kind = FailureThrottled
		return pe
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.ErrorCode()
		pe = pe.WithCode(apiErr.ErrorCode())
	}
	return pe
}
