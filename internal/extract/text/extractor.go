// Package text implements C6: single-shot text extraction. It loads a
// document already reduced to plain text, composes a prompt, budgets and
// truncates it to the model's context window, invokes the LLM client once,
// and parses the response into a DocumentResult.
package text

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/jastek/extractor/internal/artifacts"
	"github.com/jastek/extractor/internal/domain"
	"github.com/jastek/extractor/internal/llm"
	"github.com/jastek/extractor/internal/observability"
	"github.com/jastek/extractor/internal/promptcompose"
	"github.com/jastek/extractor/internal/responseparser"
	"github.com/jastek/extractor/internal/tokenizer"
)

// budgetFraction is the §4.6 headroom factor: the prompt (including
// document text) must fit within this fraction of the model's max input
// tokens, reserving the remainder for output tokens.
const budgetFraction = 0.75

// Extractor is C6.
type Extractor struct {
	Store  artifacts.Store
	Client *llm.Client
	Logger *observability.Logger

	// Metrics, when set, counts every document this extractor had to
	// middle-truncate to fit the model's context budget. nil disables it.
	Metrics *observability.Metrics
}

// New builds an Extractor.
func New(store artifacts.Store, client *llm.Client, logger *observability.Logger) *Extractor {
	return &Extractor{Store: store, Client: client, Logger: logger}
}

// Extract runs the C6 contract for a single resolved document key.
func (e *Extractor) Extract(ctx context.Context, fileKey, originalFileName string, req domain.ExtractionRequest) (domain.DocumentResult, error) {
	result := domain.DocumentResult{FileKey: fileKey, OriginalFileName: originalFileName}

	raw, err := e.Store.Get(ctx, fileKey)
	if err != nil {
		return result, domain.WrapDocumentError(domain.ErrArtifactUnavailable, err, "load text document %s", fileKey)
	}
	document := string(raw)

	composed, err := promptcompose.Build(req.FewShots, req.Instructions)
	if err != nil {
		return result, domain.WrapDocumentError(domain.ErrMalformedRequest, err, "compose prompt")
	}
	systemPrompt, err := promptcompose.LoadSystemPrompt()
	if err != nil {
		return result, domain.WrapDocumentError(domain.ErrMalformedRequest, err, "load system prompt")
	}

	variables := renderVariables(composed.Variables, req, document)
	modelID := req.ModelParams.ModelID

	totalTokens := tokenizer.Count(promptcompose.Fill(composed.Template, variables), modelID)
	documentTokens := tokenizer.Count(document, modelID)
	promptOverhead := totalTokens - documentTokens

	maxInput := tokenizer.MaxInputTokens(modelID)
	budget := int(budgetFraction * float64(maxInput))
	if totalTokens > budget {
		document = tokenizer.Truncate(document, promptOverhead, budget, modelID)
		variables["document"] = document
		if e.Metrics != nil {
			e.Metrics.TokensTruncated.Inc()
		}
	}

	userMessage := promptcompose.Fill(composed.Template, variables)

	cfg := llm.InferenceConfig{
		Temperature:   req.ModelParams.Temperature,
		TopP:          req.ModelParams.TopP,
		MaxTokens:     req.ModelParams.MaxOutputTokens,
		StopSequences: nil,
	}
	extras := llm.Extras{TopK: req.ModelParams.TopK, ThinkingBudget: req.ModelParams.ThinkingBudget}

	text, err := e.Client.Converse(ctx, modelID, systemPrompt, []llm.Message{llm.UserMessage(llm.TextContent(userMessage))}, cfg, extras)
	if err != nil {
		if pe, ok := llm.AsProviderError(err); ok && pe.Kind == llm.FailureThrottled {
			return result, domain.WrapDocumentError(domain.ErrLLMThrottled, err, "llm throttled past retry budget")
		}
		return result, domain.WrapDocumentError(domain.ErrLLMInvocationFailed, err, "llm invocation failed")
	}

	answer, ok := responseparser.Parse(text)
	result.RawAnswer = text
	if ok {
		result.Answer = answer
	} else {
		result.Answer = map[string]any{}
	}
	result.ChunksProcessed = 1

	outputKey := artifacts.DerivedOutputKey(fileKey)
	if err := e.persist(ctx, outputKey, result); err != nil {
		e.Logger.Warn(ctx, "persist document result failed", "key", outputKey, "error", err)
	}

	return result, nil
}

func (e *Extractor) persist(ctx context.Context, key string, result domain.DocumentResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal document result: %w", err)
	}
	return e.Store.Put(ctx, key, payload, "application/json")
}

// renderVariables fills the textual few-shot and attribute placeholders
// Build declared, JSON-stringifying few-shot fields with 4-space indent per
// §4.6 step 5.
func renderVariables(names []string, req domain.ExtractionRequest, document string) map[string]string {
	variables := make(map[string]string, len(names))
	variables["document"] = document
	variables["attributes"] = promptcompose.RenderAttributes(req.Attributes)
	if req.Instructions != "" {
		variables["instructions"] = req.Instructions
	}

	shotIndex := 0
	for _, shot := range req.FewShots {
		if shot.IsMultimodal() {
			continue
		}
		variables[fmt.Sprintf("few_shot_input_%d", shotIndex)] = jsonIndented(shot.Input)
		variables[fmt.Sprintf("few_shot_output_%d", shotIndex)] = jsonIndented(shot.Output)
		shotIndex++
	}
	return variables
}

func jsonIndented(v any) string {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// StemFromKey mirrors the artifact key convention used to derive processed
// text paths (processed/<name>.txt) from an original/uploaded key.
func StemFromKey(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}
